package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pharmacy-market/internal/cache"
	"pharmacy-market/internal/database/dbtest"
	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPostgres_ConcurrentOrdersForLastUnits(t *testing.T) {
	db := dbtest.Postgres(t)
	sellerID := dbtest.InsertUser(t, db, string(domain.RoleSeller))
	const stock = 4
	drugID := dbtest.InsertDrug(t, db, sellerID, "7.10", stock)

	svc := NewOrderService(
		repository.NewTransactionManager(db),
		repository.NewOrderRepository(db),
		cache.NewMemoryStore(),
		zap.NewNop(),
	)

	buyers := []uuid.UUID{
		dbtest.InsertUser(t, db, string(domain.RoleBuyer)),
		dbtest.InsertUser(t, db, string(domain.RoleBuyer)),
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(buyers))
	)
	for i, buyerID := range buyers {
		wg.Add(1)
		go func(i int, buyerID uuid.UUID) {
			defer wg.Done()
			actor := domain.Actor{ID: buyerID, Role: domain.RoleBuyer}
			_, errs[i] = svc.PlaceOrder(context.Background(), actor, []domain.OrderLine{{DrugID: drugID, Quantity: stock}})
		}(i, buyerID)
	}
	wg.Wait()

	var placed, refused int
	for _, err := range errs {
		if err == nil {
			placed++
			continue
		}
		var stockErr *domain.InsufficientStockError
		require.True(t, errors.As(err, &stockErr), "unexpected error: %v", err)
		assert.Equal(t, 0, stockErr.Available)
		assert.Equal(t, stock, stockErr.Requested)
		refused++
	}

	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, refused)
	assert.Equal(t, 0, dbtest.Quantity(t, db, drugID))
}

func TestPostgres_FailedPlacementLeavesNoTrace(t *testing.T) {
	db := dbtest.Postgres(t)
	sellerID := dbtest.InsertUser(t, db, string(domain.RoleSeller))
	buyerID := dbtest.InsertUser(t, db, string(domain.RoleBuyer))
	plenty := dbtest.InsertDrug(t, db, sellerID, "1.00", 50)
	scarce := dbtest.InsertDrug(t, db, sellerID, "2.00", 1)

	svc := NewOrderService(
		repository.NewTransactionManager(db),
		repository.NewOrderRepository(db),
		cache.NewMemoryStore(),
		zap.NewNop(),
	)
	actor := domain.Actor{ID: buyerID, Role: domain.RoleBuyer}

	_, err := svc.PlaceOrder(context.Background(), actor, []domain.OrderLine{
		{DrugID: plenty, Quantity: 10},
		{DrugID: scarce, Quantity: 2},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 50, dbtest.Quantity(t, db, plenty))
	assert.Equal(t, 1, dbtest.Quantity(t, db, scarce))

	var orders int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE user_id = $1`, buyerID).Scan(&orders))
	assert.Zero(t, orders)
}

func TestPostgres_DeleteDrugRecalculatesOrderTotals(t *testing.T) {
	db := dbtest.Postgres(t)
	ctx := context.Background()
	sellerID := dbtest.InsertUser(t, db, string(domain.RoleSeller))
	buyerID := dbtest.InsertUser(t, db, string(domain.RoleBuyer))
	removed := dbtest.InsertDrug(t, db, sellerID, "4.99", 10)
	kept := dbtest.InsertDrug(t, db, sellerID, "3.01", 10)

	txManager := repository.NewTransactionManager(db)
	orderRepo := repository.NewOrderRepository(db)
	store := cache.NewMemoryStore()
	orders := NewOrderService(txManager, orderRepo, store, zap.NewNop())
	drugs := NewDrugService(txManager, repository.NewDrugRepository(db), store, 0, zap.NewNop())

	buyer := domain.Actor{ID: buyerID, Role: domain.RoleBuyer}
	order, err := orders.PlaceOrder(ctx, buyer, []domain.OrderLine{{DrugID: removed, Quantity: 1}, {DrugID: kept, Quantity: 1}})
	require.NoError(t, err)

	require.NoError(t, drugs.DeleteDrug(ctx, domain.Actor{ID: sellerID, Role: domain.RoleSeller}, removed))

	got, err := orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, kept, got.Items[0].DrugID)
	assert.Equal(t, "3.01", got.TotalPrice.StringFixed(2))
}
