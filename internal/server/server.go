package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pharmacy-market/internal/auth"
	"pharmacy-market/internal/cache"
	"pharmacy-market/internal/config"
	"pharmacy-market/internal/database"
	custommiddleware "pharmacy-market/internal/middleware"
	"pharmacy-market/internal/otp"
	"pharmacy-market/internal/repository"
	"pharmacy-market/internal/service"
	"pharmacy-market/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// cacheKeyPrefix namespaces every key the API writes to Redis
const cacheKeyPrefix = "pharmacy"

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     database.Service
	redis  *redis.Client
}

// NewServer wires repositories, services and handlers onto a chi router.
// redisClient may be nil, in which case caching and OTPs are kept in process
// memory and rate limiting is disabled.
func NewServer(cfg *config.Config, logger *zap.Logger, db database.Service, redisClient *redis.Client) (*Server, error) {
	router := chi.NewRouter()

	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.CORSMiddleware(cfg.Server))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.MetricsMiddleware)
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.ValidationMiddleware(logger))

	router.Get("/health", healthHandler(db, redisClient))
	router.Handle("/metrics", promhttp.Handler())

	var store cache.Store
	if redisClient != nil {
		store = cache.NewRedisStore(redisClient, cacheKeyPrefix)
	} else {
		logger.Warn("Redis unavailable, using in-memory cache")
		store = cache.NewMemoryStore()
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessExpiry)*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	// Initialize repositories
	sqlDB := db.DB()
	txManager := repository.NewTransactionManager(sqlDB)
	userRepo := repository.NewUserRepository(sqlDB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(sqlDB)
	drugRepo := repository.NewDrugRepository(sqlDB)
	orderRepo := repository.NewOrderRepository(sqlDB)

	// Initialize services
	userService := service.NewUserService(service.UserServiceDeps{
		TxManager:        txManager,
		UserRepo:         userRepo,
		RefreshTokenRepo: refreshTokenRepo,
		Tokens:           tokens,
		Hasher:           auth.NewBcryptHasher(auth.BcryptCost),
		OTP:              otp.NewStore(store, cfg.OTP.TTL),
		OTPSender:        otp.NewLogSender(logger),
		RefreshTTL:       time.Duration(cfg.JWT.RefreshExpiry) * 24 * time.Hour,
		Logger:           logger,
	})
	drugService := service.NewDrugService(txManager, drugRepo, store, cfg.Cache.DrugTTL, logger)
	orderService := service.NewOrderService(txManager, orderRepo, store, logger)

	authMiddleware := custommiddleware.AuthMiddleware(tokens, logger)

	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		rateLimit = custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         cacheKeyPrefix + ":ratelimit:users",
		}, logger)
	}

	// Register routes
	transport.NewUserHandler(userService, logger).RegisterRoutes(router, authMiddleware, rateLimit)
	transport.NewDrugHandler(drugService, logger).RegisterRoutes(router, authMiddleware)
	transport.NewOrderHandler(orderService, logger).RegisterRoutes(router, authMiddleware)

	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
	}, nil
}

func healthHandler(db database.Service, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		dbHealth := db.Health()
		if dbHealth["status"] != "up" {
			status = http.StatusServiceUnavailable
		}

		body := map[string]interface{}{"database": dbHealth}
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				body["redis"] = map[string]string{"status": "down", "error": err.Error()}
			} else {
				body["redis"] = map[string]string{"status": "up"}
			}
		}

		if status == http.StatusOK {
			body["status"] = "ok"
		} else {
			body["status"] = "unavailable"
		}
		custommiddleware.RespondWithJSON(w, status, body)
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
