package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the review state of an order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusRejected:
		return true
	}
	return false
}

// Order is a buyer's purchase of one or more catalog items
type Order struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	Status     OrderStatus     `json:"status" db:"status"`
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
	Items      []OrderItem     `json:"items"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// OrderItem is a single line of an order. Price is the drug's unit price when
// the order was placed.
type OrderItem struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrderID   uuid.UUID       `json:"order_id" db:"order_id"`
	DrugID    uuid.UUID       `json:"drug_id" db:"drug_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// OrderLine is one requested (drug, quantity) pair of an order placement.
type OrderLine struct {
	DrugID   uuid.UUID
	Quantity int
}

// RecalculateTotal sets TotalPrice to the sum of the item price snapshots.
// Quantities are not multiplied in.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Price)
	}
	o.TotalPrice = total
}

// Item returns the item with the given id.
func (o *Order) Item(id uuid.UUID) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// RemoveItem drops the item with the given id and recomputes the total.
func (o *Order) RemoveItem(id uuid.UUID) bool {
	for i := range o.Items {
		if o.Items[i].ID == id {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			o.RecalculateTotal()
			return true
		}
	}
	return false
}
