package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx, so every repository
// can run either on the pool or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RepositoryFactory hands out repositories bound to one transaction.
type RepositoryFactory interface {
	Drugs() DrugRepository
	Orders() OrderRepository
	Users() UserRepository
	RefreshTokens() RefreshTokenRepository
}

// TransactionManager runs a unit of work atomically. fn's repositories share one
// transaction; a returned error or panic rolls it back, otherwise it commits.
type TransactionManager interface {
	Execute(ctx context.Context, fn func(repos RepositoryFactory) error) error
}

type txRepositoryFactory struct {
	tx DBTX
}

func (f *txRepositoryFactory) Drugs() DrugRepository   { return NewDrugRepository(f.tx) }
func (f *txRepositoryFactory) Orders() OrderRepository { return NewOrderRepository(f.tx) }
func (f *txRepositoryFactory) Users() UserRepository   { return NewUserRepository(f.tx) }
func (f *txRepositoryFactory) RefreshTokens() RefreshTokenRepository {
	return NewRefreshTokenRepository(f.tx)
}

type sqlTransactionManager struct {
	db *sql.DB
}

// NewTransactionManager creates a TransactionManager over a connection pool
func NewTransactionManager(db *sql.DB) TransactionManager {
	return &sqlTransactionManager{db: db}
}

// Execute runs fn within a single database transaction
func (m *sqlTransactionManager) Execute(ctx context.Context, fn func(repos RepositoryFactory) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&txRepositoryFactory{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
