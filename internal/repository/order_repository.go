package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pharmacy-market/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound     = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrOrderItemNotFound = fmt.Errorf("order item %w", domain.ErrNotFound)
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	AddItem(ctx context.Context, item *domain.OrderItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, userID *uuid.UUID) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error
	UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error
	RecalculateTotal(ctx context.Context, id uuid.UUID) error
	IDsReferencingDrug(ctx context.Context, drugID uuid.UUID) ([]uuid.UUID, error)
	DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type orderRepository struct {
	db DBTX
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db DBTX) OrderRepository {
	return &orderRepository{db: db}
}

// Create inserts the order header. Items are added separately with AddItem.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, user_id, status, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.Status,
		order.TotalPrice,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// AddItem inserts one order line
func (r *orderRepository) AddItem(ctx context.Context, item *domain.OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, drug_id, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.OrderID,
		item.DrugID,
		item.Quantity,
		item.Price,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order item: %w", err)
	}

	return nil
}

// FindByID retrieves an order with its items
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, id, false)
}

// FindByIDForUpdate retrieves an order with its items and locks the order row
func (r *orderRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, id, true)
}

func (r *orderRepository) findOne(ctx context.Context, id uuid.UUID, lock bool) (*domain.Order, error) {
	query := `
		SELECT id, user_id, status, total_price, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if lock {
		query += " FOR UPDATE"
	}

	order := &domain.Order{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.TotalPrice,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order by ID: %w", err)
	}

	items, err := r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) items(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, drug_id, quantity, price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.DrugID,
			&item.Quantity,
			&item.Price,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	return items, nil
}

// List retrieves orders newest first with their items. A nil userID lists every order.
func (r *orderRepository) List(ctx context.Context, userID *uuid.UUID) ([]*domain.Order, error) {
	query := `
		SELECT o.id, o.user_id, o.status, o.total_price, o.created_at, o.updated_at,
		       i.id, i.drug_id, i.quantity, i.price, i.created_at
		FROM orders o
		LEFT JOIN order_items i ON i.order_id = o.id
	`
	var args []interface{}
	if userID != nil {
		query += " WHERE o.user_id = $1"
		args = append(args, *userID)
	}
	query += " ORDER BY o.created_at DESC, o.id, i.created_at ASC, i.id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	var current *domain.Order
	for rows.Next() {
		var (
			order         domain.Order
			itemID        uuid.NullUUID
			itemDrugID    uuid.NullUUID
			itemQuantity  sql.NullInt64
			itemPrice     decimal.NullDecimal
			itemCreatedAt sql.NullTime
		)
		if err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.Status,
			&order.TotalPrice,
			&order.CreatedAt,
			&order.UpdatedAt,
			&itemID,
			&itemDrugID,
			&itemQuantity,
			&itemPrice,
			&itemCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		if current == nil || current.ID != order.ID {
			order.Items = []domain.OrderItem{}
			current = &order
			orders = append(orders, current)
		}

		if itemID.Valid {
			current.Items = append(current.Items, domain.OrderItem{
				ID:        itemID.UUID,
				OrderID:   current.ID,
				DrugID:    itemDrugID.UUID,
				Quantity:  int(itemQuantity.Int64),
				Price:     itemPrice.Decimal,
				CreatedAt: itemCreatedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// UpdateStatus sets the review status of an order
func (r *orderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	return r.exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, ErrOrderNotFound, id, status)
}

// UpdateTotal stores a recomputed total price
func (r *orderRepository) UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	return r.exec(ctx, `UPDATE orders SET total_price = $2 WHERE id = $1`, ErrOrderNotFound, id, total)
}

// DeleteItem removes one line from an order
func (r *orderRepository) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM order_items WHERE id = $1 AND order_id = $2`, ErrOrderItemNotFound, itemID, orderID)
}

// RecalculateTotal sets an order's total to the sum of its stored item prices
func (r *orderRepository) RecalculateTotal(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE orders
		SET total_price = COALESCE((SELECT SUM(price) FROM order_items WHERE order_id = $1), 0)
		WHERE id = $1
	`
	return r.exec(ctx, query, ErrOrderNotFound, id)
}

// IDsReferencingDrug lists the orders holding at least one item of drugID, in id order
func (r *orderRepository) IDsReferencingDrug(ctx context.Context, drugID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT order_id FROM order_items WHERE drug_id = $1 ORDER BY order_id`,
		drugID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders referencing drug: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order ids: %w", err)
	}

	return ids, nil
}

// Delete removes an order; its items go with it through the foreign key cascade
func (r *orderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM orders WHERE id = $1`, ErrOrderNotFound, id)
}

func (r *orderRepository) exec(ctx context.Context, query string, notFound error, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute order statement: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return notFound
	}

	return nil
}
