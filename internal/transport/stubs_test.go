package transport

import (
	"context"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/service"

	"github.com/google/uuid"
)

// Stub services. Each method delegates to the matching func field, which tests
// set only for the calls they expect.

type stubUserService struct {
	service.UserService
	register func(ctx context.Context, input service.RegisterInput) (*domain.User, error)
	getUser  func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.User, error)
	reset    func(ctx context.Context, phone, code, newPassword string) error
}

func (s *stubUserService) Register(ctx context.Context, input service.RegisterInput) (*domain.User, error) {
	return s.register(ctx, input)
}

func (s *stubUserService) GetUser(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.User, error) {
	return s.getUser(ctx, actor, id)
}

func (s *stubUserService) ResetPassword(ctx context.Context, phone, code, newPassword string) error {
	return s.reset(ctx, phone, code, newPassword)
}

type stubDrugService struct {
	service.DrugService
	list   func(ctx context.Context, filter domain.DrugFilter) ([]*domain.Drug, int, error)
	get    func(ctx context.Context, id uuid.UUID) (*domain.Drug, error)
	create func(ctx context.Context, actor domain.Actor, drug *domain.Drug) (*domain.Drug, error)
}

func (s *stubDrugService) ListDrugs(ctx context.Context, filter domain.DrugFilter) ([]*domain.Drug, int, error) {
	return s.list(ctx, filter)
}

func (s *stubDrugService) GetDrug(ctx context.Context, id uuid.UUID) (*domain.Drug, error) {
	return s.get(ctx, id)
}

func (s *stubDrugService) CreateDrug(ctx context.Context, actor domain.Actor, drug *domain.Drug) (*domain.Drug, error) {
	return s.create(ctx, actor, drug)
}

type stubOrderService struct {
	service.OrderService
	place        func(ctx context.Context, actor domain.Actor, lines []domain.OrderLine) (*domain.Order, error)
	updateStatus func(ctx context.Context, actor domain.Actor, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, actor domain.Actor, lines []domain.OrderLine) (*domain.Order, error) {
	return s.place(ctx, actor, lines)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	return s.updateStatus(ctx, actor, id, status)
}
