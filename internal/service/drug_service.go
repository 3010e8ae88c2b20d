package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pharmacy-market/internal/cache"
	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/metrics"
	"pharmacy-market/internal/policy"
	"pharmacy-market/internal/repository"
	"pharmacy-market/internal/validation"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDrugCacheTTL is how long catalog reads stay cached
const DefaultDrugCacheTTL = 600 * time.Second

// fillMarkerTTL caps the life of a marker left by a reader that never finished
const fillMarkerTTL = 30 * time.Second

// DrugService defines the interface for catalog business logic
type DrugService interface {
	ListDrugs(ctx context.Context, filter domain.DrugFilter) ([]*domain.Drug, int, error)
	GetDrug(ctx context.Context, id uuid.UUID) (*domain.Drug, error)
	CreateDrug(ctx context.Context, actor domain.Actor, drug *domain.Drug) (*domain.Drug, error)
	UpdateDrug(ctx context.Context, actor domain.Actor, id uuid.UUID, update domain.DrugUpdate) (*domain.Drug, error)
	DeleteDrug(ctx context.Context, actor domain.Actor, id uuid.UUID) error
}

type drugService struct {
	txManager repository.TransactionManager
	drugRepo  repository.DrugRepository
	cache     cache.Store
	cacheTTL  time.Duration
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewDrugService creates a new instance of DrugService
func NewDrugService(
	txManager repository.TransactionManager,
	drugRepo repository.DrugRepository,
	store cache.Store,
	cacheTTL time.Duration,
	logger *zap.Logger,
) DrugService {
	if cacheTTL <= 0 {
		cacheTTL = DefaultDrugCacheTTL
	}
	return &drugService{
		txManager: txManager,
		drugRepo:  drugRepo,
		cache:     store,
		cacheTTL:  cacheTTL,
		validate:  validation.New(),
		logger:    logger,
		now:       time.Now,
	}
}

type cachedDrugList struct {
	Drugs []*domain.Drug `json:"drugs"`
	Total int            `json:"total"`
}

// ListDrugs returns the catalog. The unfiltered listing is served through the cache.
func (s *drugService) ListDrugs(ctx context.Context, filter domain.DrugFilter) ([]*domain.Drug, int, error) {
	if !filter.IsZero() {
		if filter.Page < 0 || filter.PageSize < 0 {
			return nil, 0, domain.NewValidationError("page", "Pagination values must not be negative")
		}
		drugs, total, err := s.drugRepo.List(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list drugs: %w", err)
		}
		return drugs, total, nil
	}

	var cached cachedDrugList
	if s.readCache(ctx, "list", cache.DrugsListKey, &cached) {
		return cached.Drugs, cached.Total, nil
	}

	marker := s.beginFill(ctx, cache.DrugsListKey)
	drugs, total, err := s.drugRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list drugs: %w", err)
	}

	s.finishFill(ctx, cache.DrugsListKey, marker, cachedDrugList{Drugs: drugs, Total: total})
	return drugs, total, nil
}

// GetDrug returns one drug, read through the cache
func (s *drugService) GetDrug(ctx context.Context, id uuid.UUID) (*domain.Drug, error) {
	key := cache.DrugKey(id)

	var cached domain.Drug
	if s.readCache(ctx, "detail", key, &cached) {
		return &cached, nil
	}

	marker := s.beginFill(ctx, key)
	drug, err := s.drugRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get drug: %w", err)
	}

	s.finishFill(ctx, key, marker, drug)
	return drug, nil
}

// CreateDrug lists a new drug owned by the calling seller. Admins may create a
// drug on behalf of a seller by setting SellerID.
func (s *drugService) CreateDrug(ctx context.Context, actor domain.Actor, drug *domain.Drug) (*domain.Drug, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if !policy.CanCreateDrug(actor) {
		return nil, fmt.Errorf("only sellers can add drugs: %w", domain.ErrForbidden)
	}

	now := s.now().UTC()
	drug.ID = uuid.New()
	if actor.Role != domain.RoleAdmin || drug.SellerID == uuid.Nil {
		drug.SellerID = actor.ID
	}
	if drug.ImageURL == "" {
		drug.ImageURL = domain.DefaultDrugImage
	}
	drug.CreatedAt = now
	drug.UpdatedAt = now

	if err := s.validateDrug(drug); err != nil {
		return nil, err
	}

	if err := s.drugRepo.Create(ctx, drug); err != nil {
		return nil, fmt.Errorf("failed to create drug: %w", err)
	}

	invalidateDrugCache(ctx, s.cache, s.logger)

	s.logger.Info("Drug created",
		zap.String("drug_id", drug.ID.String()),
		zap.String("seller_id", drug.SellerID.String()),
	)

	return drug, nil
}

// UpdateDrug applies a partial update. Only the owning seller or an admin may
// update. The drug row stays locked until commit, and stock is only written
// when the update sets it.
func (s *drugService) UpdateDrug(ctx context.Context, actor domain.Actor, id uuid.UUID, update domain.DrugUpdate) (*domain.Drug, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	var drug *domain.Drug
	err := s.txManager.Execute(ctx, func(repos repository.RepositoryFactory) error {
		drugs := repos.Drugs()

		current, err := drugs.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !policy.CanModifyDrug(actor, current) {
			return fmt.Errorf("drug belongs to another seller: %w", domain.ErrForbidden)
		}

		update.Apply(current)
		current.UpdatedAt = s.now().UTC()

		if err := s.validateDrug(current); err != nil {
			return err
		}

		if err := drugs.Update(ctx, current); err != nil {
			return err
		}
		if update.Quantity != nil {
			if err := drugs.SetQuantity(ctx, id, *update.Quantity); err != nil {
				return err
			}
		}

		drug = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update drug: %w", err)
	}

	invalidateDrugCache(ctx, s.cache, s.logger, drug.ID)
	return drug, nil
}

// DeleteDrug removes a drug. Only the owning seller or an admin may delete.
// Items of the drug go with it, so the totals of the orders that held them
// are recomputed in the same transaction.
func (s *drugService) DeleteDrug(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}

	var affected []uuid.UUID
	err := s.txManager.Execute(ctx, func(repos repository.RepositoryFactory) error {
		orders := repos.Orders()
		drugs := repos.Drugs()

		// Orders are locked before the drug, as item removal and review do.
		referencing, err := orders.IDsReferencingDrug(ctx, id)
		if err != nil {
			return err
		}
		for _, orderID := range referencing {
			if _, err := orders.FindByIDForUpdate(ctx, orderID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		drug, err := drugs.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !policy.CanModifyDrug(actor, drug) {
			return fmt.Errorf("drug belongs to another seller: %w", domain.ErrForbidden)
		}

		// Orders placed before the drug lock was taken are picked up here.
		affected, err = orders.IDsReferencingDrug(ctx, id)
		if err != nil {
			return err
		}

		if err := drugs.Delete(ctx, id); err != nil {
			return err
		}
		for _, orderID := range affected {
			if err := orders.RecalculateTotal(ctx, orderID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete drug: %w", err)
	}

	invalidateDrugCache(ctx, s.cache, s.logger, id)

	s.logger.Info("Drug deleted",
		zap.String("drug_id", id.String()),
		zap.Int("orders_recalculated", len(affected)),
	)
	return nil
}

// validateDrug checks field rules and that the drug does not expire before it was listed.
func (s *drugService) validateDrug(drug *domain.Drug) error {
	if err := s.validate.Struct(drug); err != nil {
		return validation.ToDomain(err)
	}
	if truncateDay(drug.ExpirationDate).Before(truncateDay(drug.CreatedAt)) {
		return domain.NewValidationError("expiration_date", "Expiration date cannot be before the creation date")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// readCache decodes key into dst and reports a hit. Misses, store failures and
// undecodable entries all fall through to the database.
func (s *drugService) readCache(ctx context.Context, kind, key string, dst interface{}) bool {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			metrics.CacheLookupsTotal.WithLabelValues(kind, "miss").Inc()
		} else {
			metrics.CacheLookupsTotal.WithLabelValues(kind, "error").Inc()
			s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.CacheLookupsTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(ctx, key)
		return false
	}

	metrics.CacheLookupsTotal.WithLabelValues(kind, "hit").Inc()
	return true
}

// beginFill records that this reader is about to load key from the database.
// Any invalidation before finishFill drops the marker and the load is not cached.
func (s *drugService) beginFill(ctx context.Context, key string) []byte {
	marker := []byte(uuid.NewString())
	if err := s.cache.Set(ctx, cache.FillKey(key), marker, fillMarkerTTL); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", cache.FillKey(key)), zap.Error(err))
		return nil
	}
	return marker
}

// finishFill caches value under key if the marker set by beginFill is still in place.
func (s *drugService) finishFill(ctx context.Context, key string, marker []byte, value interface{}) {
	if marker == nil {
		return
	}
	current, err := s.cache.CompareAndDelete(ctx, cache.FillKey(key), marker)
	if err != nil {
		s.logger.Warn("Cache read failed", zap.String("key", cache.FillKey(key)), zap.Error(err))
		return
	}
	if !current {
		return
	}
	s.writeCache(ctx, key, value)
}

func (s *drugService) writeCache(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidateDrugCache drops the catalog listing and the detail entry of every
// given drug, along with any fill in progress for them. Failures are logged; the next read repopulates from the database.
func invalidateDrugCache(ctx context.Context, store cache.Store, logger *zap.Logger, ids ...uuid.UUID) {
	keys := make([]string, 0, 2*(len(ids)+1))
	keys = append(keys, cache.DrugsListKey, cache.FillKey(cache.DrugsListKey))
	for _, id := range ids {
		keys = append(keys, cache.DrugKey(id), cache.FillKey(cache.DrugKey(id)))
	}
	if err := store.Delete(ctx, keys...); err != nil {
		logger.Error("Failed to invalidate drug cache", zap.Strings("keys", keys), zap.Error(err))
	}
}
