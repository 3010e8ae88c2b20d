package transport

import (
	"net/http"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/middleware"
	"pharmacy-market/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderLineRequest is one requested drug and quantity
type OrderLineRequest struct {
	DrugID   string `json:"drug_id" validate:"required,uuid"`
	Quantity int    `json:"quantity"`
}

// PlaceOrderRequest represents the order placement payload
type PlaceOrderRequest struct {
	Items []OrderLineRequest `json:"items" validate:"dive"`
}

// UpdateStatusRequest represents an admin review decision
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

// OrderHandler handles HTTP requests for orders
type OrderHandler struct {
	orderService service.OrderService
	logger       *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orderService service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		logger:       logger,
	}
}

// RegisterRoutes registers all order routes. Every order route requires authentication.
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.PlaceOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Delete("/{id}", h.DeleteOrder)
		r.Delete("/{id}/items/{itemID}", h.RemoveItem)
		r.With(middleware.RequireAdmin(h.logger)).Patch("/{id}/status", h.UpdateStatus)
	})
}

// PlaceOrder creates a pending order and reserves stock for it
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	// Quantities are checked by the service so line errors carry their index.
	lines := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.OrderLine{
			DrugID:   uuid.MustParse(item.DrugID),
			Quantity: item.Quantity,
		})
	}

	order, err := h.orderService.PlaceOrder(r.Context(), actorFrom(r), lines)
	if err != nil {
		h.logger.Debug("Order placement failed", zap.Error(err))
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, order)
}

// ListOrders returns the caller's orders, or every order for an admin
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListOrders(r.Context(), actorFrom(r))
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	middleware.RespondWithJSON(w, http.StatusOK, orders)
}

// GetOrder returns one order with its items
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), actorFrom(r), id)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// RemoveItem drops a line from a pending order and returns the updated order
func (h *OrderHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	order, err := h.orderService.RemoveItem(r.Context(), actorFrom(r), orderID, itemID)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// UpdateStatus approves or rejects a pending order
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	order, err := h.orderService.UpdateStatus(r.Context(), actorFrom(r), id, domain.OrderStatus(req.Status))
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("Order reviewed",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)),
	)
	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// DeleteOrder removes an order, restocking it while still pending
func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.orderService.DeleteOrder(r.Context(), actorFrom(r), id); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
