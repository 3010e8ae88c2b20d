// Command seed fills the catalog with sample drugs owned by a seed seller and
// can create an administrator account.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"pharmacy-market/internal/auth"
	"pharmacy-market/internal/cache"
	"pharmacy-market/internal/config"
	"pharmacy-market/internal/database"
	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/logger"
	"pharmacy-market/internal/otp"
	"pharmacy-market/internal/repository"
	"pharmacy-market/internal/service"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	categories = []string{"Painkillers", "Antibiotics", "Vitamins", "Antihistamines", "Antacids", "Cough and Cold"}
	forms      = []string{"Tablet", "Capsule", "Syrup", "Ointment", "Drops", "Powder"}
)

// sampleDrugs are always inserted before the generated ones
var sampleDrugs = []domain.Drug{
	{
		Name:                "Aspirin",
		Description:         "Pain reliever and fever reducer",
		Price:               decimal.RequireFromString("5.99"),
		Quantity:            100,
		Brand:               "Bayer",
		Category:            "Painkillers",
		Manufacturer:        "Bayer",
		ManufacturerCountry: "Germany",
		ActiveSubstance:     "Acetylsalicylic acid",
		Form:                "Tablet",
		Dozens:              2,
	},
	{
		Name:                "Ibuprofen",
		Description:         "Anti-inflammatory pain reliever",
		Price:               decimal.RequireFromString("7.49"),
		Quantity:            150,
		Brand:               "Advil",
		Category:            "Painkillers",
		Manufacturer:        "Pfizer",
		ManufacturerCountry: "United States",
		ActiveSubstance:     "Ibuprofen",
		Form:                "Capsule",
		Dozens:              1,
	},
}

type options struct {
	count          int
	seed           uint64
	sellerUsername string
	sellerPassword string
	sellerPhone    string
	adminUsername  string
	adminPassword  string
	adminPhone     string
}

func main() {
	var opts options
	pflag.IntVarP(&opts.count, "count", "n", 50, "number of generated drugs")
	pflag.Uint64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	pflag.StringVar(&opts.sellerUsername, "seller", "seed_seller", "username of the seller owning seeded drugs")
	pflag.StringVar(&opts.sellerPassword, "seller-password", "seedseller123", "password for a newly created seller")
	pflag.StringVar(&opts.sellerPhone, "seller-phone", "+359888100100", "phone for a newly created seller")
	pflag.StringVar(&opts.adminUsername, "admin", "", "create an admin with this username")
	pflag.StringVar(&opts.adminPassword, "admin-password", "", "password for the admin")
	pflag.StringVar(&opts.adminPhone, "admin-phone", "+359888100101", "phone for the admin")
	pflag.Parse()

	cfg := config.Load()
	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(context.Background(), cfg, opts, log); err != nil {
		log.Fatal("Seeding failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log *zap.Logger) error {
	dbService, err := database.New(cfg.Database)
	if err != nil {
		return err
	}
	defer dbService.Close()

	if err := database.RunMigrations(dbService.DB(), "migrations", log); err != nil {
		return err
	}

	// Seeded drugs must drop any cached listing the API is serving.
	var store cache.Store = cache.NewMemoryStore()
	if client, err := database.NewRedisClient(ctx, cfg.Redis); err == nil {
		defer client.Close()
		store = cache.NewRedisStore(client, "pharmacy")
	} else {
		log.Warn("Redis not reachable, cached listings are not invalidated", zap.Error(err))
	}

	db := dbService.DB()
	userRepo := repository.NewUserRepository(db)
	tokens, err := auth.NewTokenIssuer(cfg.JWT.Secret, time.Minute)
	if err != nil {
		return err
	}
	txManager := repository.NewTransactionManager(db)
	users := service.NewUserService(service.UserServiceDeps{
		TxManager:        txManager,
		UserRepo:         userRepo,
		RefreshTokenRepo: repository.NewRefreshTokenRepository(db),
		Tokens:           tokens,
		Hasher:           auth.NewBcryptHasher(auth.BcryptCost),
		OTP:              otp.NewStore(store, cfg.OTP.TTL),
		OTPSender:        otp.NewLogSender(log),
		Logger:           log,
	})
	drugs := service.NewDrugService(txManager, repository.NewDrugRepository(db), store, cfg.Cache.DrugTTL, log)

	if opts.adminUsername != "" {
		admin, err := users.CreateAdmin(ctx, service.RegisterInput{
			Username:  opts.adminUsername,
			Password:  opts.adminPassword,
			FirstName: "Site",
			LastName:  "Admin",
			Phone:     opts.adminPhone,
		})
		if err != nil {
			return fmt.Errorf("failed to create admin: %w", err)
		}
		log.Info("Admin created", zap.String("user_id", admin.ID.String()))
	}

	seller, err := ensureSeller(ctx, users, userRepo, opts)
	if err != nil {
		return err
	}
	actor := domain.Actor{ID: seller.ID, Role: domain.RoleSeller}

	created := 0
	catalog := append(append([]domain.Drug{}, sampleDrugs...), fakeDrugs(opts.seed, opts.count)...)
	for i := range catalog {
		drug := catalog[i]
		if drug.ExpirationDate.IsZero() {
			drug.ExpirationDate = time.Now().AddDate(2, 0, 0)
		}
		if _, err := drugs.CreateDrug(ctx, actor, &drug); err != nil {
			log.Warn("Skipping drug", zap.String("name", drug.Name), zap.Error(err))
			continue
		}
		created++
	}

	log.Info("Catalog seeded",
		zap.Int("created", created),
		zap.Int("skipped", len(catalog)-created),
		zap.String("seller_id", seller.ID.String()),
	)
	return nil
}

// ensureSeller returns the seed seller, registering it on first use
func ensureSeller(ctx context.Context, users service.UserService, repo repository.UserRepository, opts options) (*domain.User, error) {
	existing, err := repo.FindByUsername(ctx, opts.sellerUsername)
	if err == nil {
		if existing.Role != domain.RoleSeller {
			return nil, fmt.Errorf("user %q exists but is a %s", opts.sellerUsername, existing.Role)
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	seller, err := users.Register(ctx, service.RegisterInput{
		Username:     opts.sellerUsername,
		Password:     opts.sellerPassword,
		FirstName:    "Seed",
		LastName:     "Seller",
		BusinessName: "Seed Pharmacy",
		Phone:        opts.sellerPhone,
		Role:         domain.RoleSeller,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register seller: %w", err)
	}
	return seller, nil
}

// fakeDrugs generates n catalog entries with gofakeit
func fakeDrugs(seed uint64, n int) []domain.Drug {
	f := gofakeit.New(seed)
	out := make([]domain.Drug, 0, n)
	for i := 0; i < n; i++ {
		company := lettersOnly(f.Company(), "Generic Labs")
		out = append(out, domain.Drug{
			Name:                truncate(f.ProductName(), 100),
			Description:         f.Sentence(8),
			Price:               decimal.NewFromFloat(f.Price(1, 120)).Round(2),
			Quantity:            f.Number(0, 500),
			ExpirationDate:      time.Now().AddDate(0, f.Number(3, 48), 0),
			Brand:               truncate(company, 100),
			Category:            f.RandomString(categories),
			Manufacturer:        truncate(company, 100),
			ManufacturerCountry: lettersOnly(f.Country(), "Bulgaria"),
			ActiveSubstance:     truncate(f.Noun(), 100),
			Form:                f.RandomString(forms),
			Dozens:              f.Number(0, 10),
		})
	}
	return out
}

// lettersOnly strips everything but letters and single spaces, falling back when nothing is left
func lettersOnly(s, fallback string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || r == ' ' {
			return r
		}
		return -1
	}, s)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
