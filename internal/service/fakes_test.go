package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory database for service tests. Transactions are
// serialized on mu and roll back by restoring a snapshot.
type memStore struct {
	mu      sync.Mutex
	drugs   map[uuid.UUID]domain.Drug
	orders  map[uuid.UUID]domain.Order
	items   map[uuid.UUID]domain.OrderItem
	users   map[uuid.UUID]domain.User
	tokens  map[string]domain.RefreshToken
	commits int

	// failAddItem makes the n-th AddItem call (1-based) fail; zero disables it.
	failAddItem int
	addItems    int

	// onDrugRead runs once, with the store lock held, right after the next drug read.
	onDrugRead func(id uuid.UUID)
}

var errInjected = errors.New("injected failure")

func newMemStore() *memStore {
	return &memStore{
		drugs:  make(map[uuid.UUID]domain.Drug),
		orders: make(map[uuid.UUID]domain.Order),
		items:  make(map[uuid.UUID]domain.OrderItem),
		users:  make(map[uuid.UUID]domain.User),
		tokens: make(map[string]domain.RefreshToken),
	}
}

type memSnapshot struct {
	drugs  map[uuid.UUID]domain.Drug
	orders map[uuid.UUID]domain.Order
	items  map[uuid.UUID]domain.OrderItem
	users  map[uuid.UUID]domain.User
	tokens map[string]domain.RefreshToken
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	return memSnapshot{
		drugs:  copyMap(s.drugs),
		orders: copyMap(s.orders),
		items:  copyMap(s.items),
		users:  copyMap(s.users),
		tokens: copyMap(s.tokens),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.drugs = snap.drugs
	s.orders = snap.orders
	s.items = snap.items
	s.users = snap.users
	s.tokens = snap.tokens
}

func (s *memStore) Execute(ctx context.Context, fn func(repos repository.RepositoryFactory) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
	}()

	if err := fn(memFactory{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	s.commits++
	return nil
}

type memFactory struct{ s *memStore }

func (f memFactory) Drugs() repository.DrugRepository   { return &memDrugRepo{s: f.s, inTx: true} }
func (f memFactory) Orders() repository.OrderRepository { return &memOrderRepo{s: f.s, inTx: true} }
func (f memFactory) Users() repository.UserRepository   { return &memUserRepo{s: f.s, inTx: true} }
func (f memFactory) RefreshTokens() repository.RefreshTokenRepository {
	return &memTokenRepo{s: f.s, inTx: true}
}

// guard takes the store lock unless the caller already runs inside Execute.
func guard(s *memStore, inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Accessors for assertions.

func (s *memStore) drug(id uuid.UUID) domain.Drug {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drugs[id]
}

func (s *memStore) counts() (orders, items int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.items)
}

func (s *memStore) putDrug(d domain.Drug) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drugs[d.ID] = d
}

func (s *memStore) putUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// ---- drugs ----

type memDrugRepo struct {
	s    *memStore
	inTx bool
}

func (r *memDrugRepo) Create(ctx context.Context, drug *domain.Drug) error {
	defer guard(r.s, r.inTx)()
	r.s.drugs[drug.ID] = *drug
	return nil
}

// Update keeps the stored quantity, like the SQL statement it stands in for.
func (r *memDrugRepo) Update(ctx context.Context, drug *domain.Drug) error {
	defer guard(r.s, r.inTx)()
	stored, ok := r.s.drugs[drug.ID]
	if !ok {
		return repository.ErrDrugNotFound
	}
	updated := *drug
	updated.Quantity = stored.Quantity
	r.s.drugs[drug.ID] = updated
	return nil
}

func (r *memDrugRepo) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	defer guard(r.s, r.inTx)()
	d, ok := r.s.drugs[id]
	if !ok {
		return repository.ErrDrugNotFound
	}
	if quantity < 0 {
		return repository.ErrInsufficientQuantity
	}
	d.Quantity = quantity
	r.s.drugs[id] = d
	return nil
}

// Delete also drops the drug's order items, as the foreign key cascade does.
func (r *memDrugRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer guard(r.s, r.inTx)()
	if _, ok := r.s.drugs[id]; !ok {
		return repository.ErrDrugNotFound
	}
	delete(r.s.drugs, id)
	for itemID, item := range r.s.items {
		if item.DrugID == id {
			delete(r.s.items, itemID)
		}
	}
	return nil
}

func (r *memDrugRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Drug, error) {
	defer guard(r.s, r.inTx)()
	d, ok := r.s.drugs[id]
	if hook := r.s.onDrugRead; hook != nil {
		r.s.onDrugRead = nil
		hook(id)
	}
	if !ok {
		return nil, repository.ErrDrugNotFound
	}
	return &d, nil
}

func (r *memDrugRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Drug, error) {
	return r.FindByID(ctx, id)
}

func (r *memDrugRepo) List(ctx context.Context, filter domain.DrugFilter) ([]*domain.Drug, int, error) {
	defer guard(r.s, r.inTx)()
	out := []*domain.Drug{}
	for _, d := range r.s.drugs {
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		if filter.SellerID != nil && d.SellerID != *filter.SellerID {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, len(out), nil
}

func (r *memDrugRepo) DecrementQuantity(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	defer guard(r.s, r.inTx)()
	d, ok := r.s.drugs[id]
	if !ok {
		return 0, repository.ErrDrugNotFound
	}
	if d.Quantity < amount {
		return 0, repository.ErrInsufficientQuantity
	}
	d.Quantity -= amount
	r.s.drugs[id] = d
	return d.Quantity, nil
}

func (r *memDrugRepo) IncrementQuantity(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	defer guard(r.s, r.inTx)()
	d, ok := r.s.drugs[id]
	if !ok {
		return 0, repository.ErrDrugNotFound
	}
	d.Quantity += amount
	r.s.drugs[id] = d
	return d.Quantity, nil
}

// ---- orders ----

type memOrderRepo struct {
	s    *memStore
	inTx bool
}

func (r *memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	defer guard(r.s, r.inTx)()
	header := *order
	header.Items = nil
	r.s.orders[order.ID] = header
	return nil
}

func (r *memOrderRepo) AddItem(ctx context.Context, item *domain.OrderItem) error {
	defer guard(r.s, r.inTx)()
	r.s.addItems++
	if r.s.failAddItem > 0 && r.s.addItems == r.s.failAddItem {
		return errInjected
	}
	if _, ok := r.s.orders[item.OrderID]; !ok {
		return errors.New("order_items_order_id_fkey")
	}
	r.s.items[item.ID] = *item
	return nil
}

func (r *memOrderRepo) load(id uuid.UUID) (*domain.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	o.Items = []domain.OrderItem{}
	for _, item := range r.s.items {
		if item.OrderID == id {
			o.Items = append(o.Items, item)
		}
	}
	sort.Slice(o.Items, func(i, j int) bool { return o.Items[i].ID.String() < o.Items[j].ID.String() })
	return &o, nil
}

func (r *memOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	defer guard(r.s, r.inTx)()
	return r.load(id)
}

func (r *memOrderRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.FindByID(ctx, id)
}

func (r *memOrderRepo) List(ctx context.Context, userID *uuid.UUID) ([]*domain.Order, error) {
	defer guard(r.s, r.inTx)()
	out := []*domain.Order{}
	for id, o := range r.s.orders {
		if userID != nil && o.UserID != *userID {
			continue
		}
		order, _ := r.load(id)
		out = append(out, order)
	}
	return out, nil
}

func (r *memOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	defer guard(r.s, r.inTx)()
	o, ok := r.s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	r.s.orders[id] = o
	return nil
}

func (r *memOrderRepo) UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	defer guard(r.s, r.inTx)()
	o, ok := r.s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.TotalPrice = total
	r.s.orders[id] = o
	return nil
}

func (r *memOrderRepo) RecalculateTotal(ctx context.Context, id uuid.UUID) error {
	defer guard(r.s, r.inTx)()
	o, ok := r.s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	total := decimal.Zero
	for _, item := range r.s.items {
		if item.OrderID == id {
			total = total.Add(item.Price)
		}
	}
	o.TotalPrice = total
	r.s.orders[id] = o
	return nil
}

func (r *memOrderRepo) IDsReferencingDrug(ctx context.Context, drugID uuid.UUID) ([]uuid.UUID, error) {
	defer guard(r.s, r.inTx)()
	seen := map[uuid.UUID]bool{}
	ids := []uuid.UUID{}
	for _, item := range r.s.items {
		if item.DrugID == drugID && !seen[item.OrderID] {
			seen[item.OrderID] = true
			ids = append(ids, item.OrderID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *memOrderRepo) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	defer guard(r.s, r.inTx)()
	item, ok := r.s.items[itemID]
	if !ok || item.OrderID != orderID {
		return repository.ErrOrderItemNotFound
	}
	delete(r.s.items, itemID)
	return nil
}

func (r *memOrderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer guard(r.s, r.inTx)()
	if _, ok := r.s.orders[id]; !ok {
		return repository.ErrOrderNotFound
	}
	delete(r.s.orders, id)
	for itemID, item := range r.s.items {
		if item.OrderID == id {
			delete(r.s.items, itemID)
		}
	}
	return nil
}

// ---- users ----

type memUserRepo struct {
	s    *memStore
	inTx bool
}

func (r *memUserRepo) unique(user *domain.User) error {
	for id, u := range r.s.users {
		if id == user.ID {
			continue
		}
		switch {
		case u.Username == user.Username:
			return repository.ErrUsernameTaken
		case u.Phone == user.Phone:
			return repository.ErrPhoneTaken
		case user.Email != "" && u.Email == user.Email:
			return repository.ErrEmailTaken
		}
	}
	return nil
}

func (r *memUserRepo) Create(ctx context.Context, user *domain.User) error {
	defer guard(r.s, r.inTx)()
	if err := r.unique(user); err != nil {
		return err
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) Update(ctx context.Context, user *domain.User) error {
	defer guard(r.s, r.inTx)()
	if _, ok := r.s.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	if err := r.unique(user); err != nil {
		return err
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	defer guard(r.s, r.inTx)()
	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	r.s.users[id] = u
	return nil
}

func (r *memUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer guard(r.s, r.inTx)()
	if _, ok := r.s.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.s.users, id)
	return nil
}

func (r *memUserRepo) find(match func(domain.User) bool) (*domain.User, error) {
	for _, u := range r.s.users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	defer guard(r.s, r.inTx)()
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r *memUserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	defer guard(r.s, r.inTx)()
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r *memUserRepo) FindByPhone(ctx context.Context, phone string) (*domain.User, error) {
	defer guard(r.s, r.inTx)()
	return r.find(func(u domain.User) bool { return u.Phone == phone })
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	defer guard(r.s, r.inTx)()
	return r.find(func(u domain.User) bool { return email != "" && u.Email == email })
}

func (r *memUserRepo) List(ctx context.Context) ([]*domain.User, error) {
	defer guard(r.s, r.inTx)()
	out := []*domain.User{}
	for _, u := range r.s.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// ---- refresh tokens ----

type memTokenRepo struct {
	s    *memStore
	inTx bool
}

func (r *memTokenRepo) Create(ctx context.Context, token *domain.RefreshToken) error {
	defer guard(r.s, r.inTx)()
	r.s.tokens[token.Token] = *token
	return nil
}

func (r *memTokenRepo) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	defer guard(r.s, r.inTx)()
	t, ok := r.s.tokens[token]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	if t.Revoked {
		return nil, repository.ErrRefreshTokenRevoked
	}
	return &t, nil
}

func (r *memTokenRepo) Revoke(ctx context.Context, token string) error {
	defer guard(r.s, r.inTx)()
	t, ok := r.s.tokens[token]
	if !ok {
		return repository.ErrRefreshTokenNotFound
	}
	t.Revoked = true
	r.s.tokens[token] = t
	return nil
}

func (r *memTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer guard(r.s, r.inTx)()
	var n int64
	for k, t := range r.s.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			r.s.tokens[k] = t
			n++
		}
	}
	return n, nil
}
