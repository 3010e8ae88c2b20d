package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pharmacy-market/internal/cache"
	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/metrics"
	"pharmacy-market/internal/policy"
	"pharmacy-market/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService defines the interface for order business logic
type OrderService interface {
	PlaceOrder(ctx context.Context, actor domain.Actor, lines []domain.OrderLine) (*domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor) ([]*domain.Order, error)
	RemoveItem(ctx context.Context, actor domain.Actor, orderID, itemID uuid.UUID) (*domain.Order, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, orderID uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
	DeleteOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) error
}

type orderService struct {
	txManager repository.TransactionManager
	orderRepo repository.OrderRepository
	cache     cache.Store
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(
	txManager repository.TransactionManager,
	orderRepo repository.OrderRepository,
	store cache.Store,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		txManager: txManager,
		orderRepo: orderRepo,
		cache:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// PlaceOrder creates a pending order and reserves stock for every line in one
// transaction. Either the order, all its items and every decrement are stored,
// or nothing is.
func (s *orderService) PlaceOrder(ctx context.Context, actor domain.Actor, lines []domain.OrderLine) (*domain.Order, error) {
	if !actor.Authenticated() {
		metrics.OrdersPlacedTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrUnauthenticated
	}
	if !policy.CanPlaceOrder(actor) {
		metrics.OrdersPlacedTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("role %s cannot place orders: %w", actor.Role, domain.ErrForbidden)
	}
	if err := validateLines(lines); err != nil {
		metrics.OrdersPlacedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	var order *domain.Order
	err := s.txManager.Execute(ctx, func(repos repository.RepositoryFactory) error {
		drugs := repos.Drugs()

		locked := make(map[uuid.UUID]*domain.Drug, len(lines))
		for _, id := range sortedDrugIDs(lines) {
			drug, err := drugs.FindByIDForUpdate(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return err
			}
			locked[id] = drug
		}

		now := s.now().UTC()
		order = &domain.Order{
			ID:        uuid.New(),
			UserID:    actor.ID,
			Status:    domain.OrderStatusPending,
			Items:     make([]domain.OrderItem, 0, len(lines)),
			CreatedAt: now,
			UpdatedAt: now,
		}

		demand := make(map[uuid.UUID]int, len(locked))
		for _, line := range lines {
			drug, ok := locked[line.DrugID]
			if !ok {
				return fmt.Errorf("%w: %s", repository.ErrDrugNotFound, line.DrugID)
			}
			demand[line.DrugID] += line.Quantity
			if demand[line.DrugID] > drug.Quantity {
				return &domain.InsufficientStockError{
					DrugID:    drug.ID,
					DrugName:  drug.Name,
					Available: drug.Quantity,
					Requested: demand[line.DrugID],
				}
			}
			order.Items = append(order.Items, domain.OrderItem{
				ID:        uuid.New(),
				OrderID:   order.ID,
				DrugID:    drug.ID,
				Quantity:  line.Quantity,
				Price:     drug.Price,
				CreatedAt: now,
			})
		}
		order.RecalculateTotal()

		orders := repos.Orders()
		if err := orders.Create(ctx, order); err != nil {
			return err
		}
		for i := range order.Items {
			if err := orders.AddItem(ctx, &order.Items[i]); err != nil {
				return err
			}
		}

		for _, id := range sortedDrugIDs(lines) {
			if _, err := drugs.DecrementQuantity(ctx, id, demand[id]); err != nil {
				if errors.Is(err, repository.ErrInsufficientQuantity) {
					return &domain.InsufficientStockError{
						DrugID:    id,
						DrugName:  locked[id].Name,
						Available: locked[id].Quantity,
						Requested: demand[id],
					}
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.OrdersPlacedTotal.WithLabelValues(placementResult(err)).Inc()
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	metrics.OrdersPlacedTotal.WithLabelValues("success").Inc()
	invalidateDrugCache(ctx, s.cache, s.logger, sortedDrugIDs(lines)...)

	s.logger.Info("Order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", actor.ID.String()),
		zap.Int("items", len(order.Items)),
		zap.String("total_price", order.TotalPrice.String()),
	)

	return order, nil
}

// GetOrder returns an order visible to the actor
func (s *orderService) GetOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !policy.CanViewOrder(actor, order) {
		return nil, fmt.Errorf("order belongs to another user: %w", domain.ErrForbidden)
	}
	return order, nil
}

// ListOrders returns the actor's orders, or every order for an admin
func (s *orderService) ListOrders(ctx context.Context, actor domain.Actor) ([]*domain.Order, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	var userID *uuid.UUID
	if actor.Role != domain.RoleAdmin {
		userID = &actor.ID
	}

	orders, err := s.orderRepo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// RemoveItem drops one line from an order, returns its quantity to stock unless
// the order was rejected, and recomputes the total.
func (s *orderService) RemoveItem(ctx context.Context, actor domain.Actor, orderID, itemID uuid.UUID) (*domain.Order, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	var (
		order    *domain.Order
		affected []uuid.UUID
	)
	err := s.txManager.Execute(ctx, func(repos repository.RepositoryFactory) error {
		var err error
		order, err = s.lockForModification(ctx, repos, actor, orderID)
		if err != nil {
			return err
		}

		item, ok := order.Item(itemID)
		if !ok {
			return repository.ErrOrderItemNotFound
		}
		removed := *item

		if err := repos.Orders().DeleteItem(ctx, orderID, itemID); err != nil {
			return err
		}
		if order.Status != domain.OrderStatusRejected {
			if err := restock(ctx, repos.Drugs(), []domain.OrderItem{removed}); err != nil {
				return err
			}
			affected = append(affected, removed.DrugID)
		}

		order.RemoveItem(itemID)
		order.UpdatedAt = s.now().UTC()
		return repos.Orders().UpdateTotal(ctx, orderID, order.TotalPrice)
	})
	if err != nil {
		return nil, wrapOrderError("failed to remove order item", err)
	}

	if len(affected) > 0 {
		invalidateDrugCache(ctx, s.cache, s.logger, affected...)
	}
	return order, nil
}

// UpdateStatus approves or rejects a pending order. Rejecting returns every
// item's quantity to stock.
func (s *orderService) UpdateStatus(ctx context.Context, actor domain.Actor, orderID uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if !policy.CanReviewOrder(actor) {
		return nil, fmt.Errorf("only admins can review orders: %w", domain.ErrForbidden)
	}
	if status != domain.OrderStatusApproved && status != domain.OrderStatusRejected {
		return nil, domain.NewValidationError("status", "Status must be one of: approved rejected")
	}

	var order *domain.Order
	err := s.txManager.Execute(ctx, func(repos repository.RepositoryFactory) error {
		var err error
		order, err = repos.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return domain.NewValidationError("status", "Order has already been "+string(order.Status))
		}

		if status == domain.OrderStatusRejected {
			if err := restock(ctx, repos.Drugs(), order.Items); err != nil {
				return err
			}
		}

		if err := repos.Orders().UpdateStatus(ctx, orderID, status); err != nil {
			return err
		}
		order.Status = status
		order.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, wrapOrderError("failed to update order status", err)
	}

	if status == domain.OrderStatusRejected {
		invalidateDrugCache(ctx, s.cache, s.logger, itemDrugIDs(order.Items)...)
	}

	s.logger.Info("Order reviewed",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(status)),
	)
	return order, nil
}

// DeleteOrder removes an order. A pending order's items are returned to stock first.
func (s *orderService) DeleteOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}

	var restocked []uuid.UUID
	err := s.txManager.Execute(ctx, func(repos repository.RepositoryFactory) error {
		order, err := s.lockForModification(ctx, repos, actor, orderID)
		if err != nil {
			return err
		}

		if order.Status == domain.OrderStatusPending {
			if err := restock(ctx, repos.Drugs(), order.Items); err != nil {
				return err
			}
			restocked = itemDrugIDs(order.Items)
		}

		return repos.Orders().Delete(ctx, orderID)
	})
	if err != nil {
		return wrapOrderError("failed to delete order", err)
	}

	if len(restocked) > 0 {
		invalidateDrugCache(ctx, s.cache, s.logger, restocked...)
	}
	return nil
}

// lockForModification loads and locks an order and checks the actor may change it.
func (s *orderService) lockForModification(ctx context.Context, repos repository.RepositoryFactory, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	order, err := repos.Orders().FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !policy.CanViewOrder(actor, order) {
		return nil, fmt.Errorf("order belongs to another user: %w", domain.ErrForbidden)
	}
	if !policy.CanModifyOrder(actor, order) {
		return nil, fmt.Errorf("order is already %s: %w", order.Status, domain.ErrForbidden)
	}
	return order, nil
}

// restock returns item quantities to their drugs in ascending drug id order.
// Items whose drug no longer exists are skipped.
func restock(ctx context.Context, drugs repository.DrugRepository, items []domain.OrderItem) error {
	amounts := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		amounts[item.DrugID] += item.Quantity
	}

	for _, id := range sortIDs(amounts) {
		if _, err := drugs.IncrementQuantity(ctx, id, amounts[id]); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

func validateLines(lines []domain.OrderLine) error {
	if len(lines) == 0 {
		return domain.NewValidationError("items", "At least one item is required")
	}

	var verrs domain.ValidationErrors
	for i, line := range lines {
		if line.DrugID == uuid.Nil {
			verrs = append(verrs, domain.FieldError{
				Field:   fmt.Sprintf("items[%d].drug_id", i),
				Message: "This field is required",
			})
		}
		if line.Quantity <= 0 {
			verrs = append(verrs, domain.FieldError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: "Value must be greater than 0",
			})
		}
	}
	if len(verrs) > 0 {
		return verrs
	}
	return nil
}

func sortedDrugIDs(lines []domain.OrderLine) []uuid.UUID {
	set := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		set[line.DrugID] = 0
	}
	return sortIDs(set)
}

func itemDrugIDs(items []domain.OrderItem) []uuid.UUID {
	set := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		set[item.DrugID] = 0
	}
	return sortIDs(set)
}

func sortIDs(set map[uuid.UUID]int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func placementResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// wrapOrderError keeps domain errors recognisable while adding context to infrastructure failures.
func wrapOrderError(msg string, err error) error {
	for _, kind := range []error{
		domain.ErrNotFound,
		domain.ErrForbidden,
		domain.ErrValidation,
		domain.ErrInsufficientStock,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
