package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pharmacy-market/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrDrugNotFound         = fmt.Errorf("drug %w", domain.ErrNotFound)
	ErrInsufficientQuantity = fmt.Errorf("drug quantity cannot go negative: %w", domain.ErrInvalidArgument)
)

const drugColumns = `id, name, description, price, quantity, expiration_date, brand, category,
		manufacturer, manufacturer_country, active_substance, form, dozens, image_url,
		seller_id, created_at, updated_at`

// DrugRepository defines the interface for catalog data access
type DrugRepository interface {
	Create(ctx context.Context, drug *domain.Drug) error
	Update(ctx context.Context, drug *domain.Drug) error
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Drug, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Drug, error)
	List(ctx context.Context, filter domain.DrugFilter) ([]*domain.Drug, int, error)
	DecrementQuantity(ctx context.Context, id uuid.UUID, amount int) (int, error)
	IncrementQuantity(ctx context.Context, id uuid.UUID, amount int) (int, error)
}

type drugRepository struct {
	db DBTX
}

// NewDrugRepository creates a new instance of DrugRepository
func NewDrugRepository(db DBTX) DrugRepository {
	return &drugRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDrug(row rowScanner) (*domain.Drug, error) {
	drug := &domain.Drug{}
	err := row.Scan(
		&drug.ID,
		&drug.Name,
		&drug.Description,
		&drug.Price,
		&drug.Quantity,
		&drug.ExpirationDate,
		&drug.Brand,
		&drug.Category,
		&drug.Manufacturer,
		&drug.ManufacturerCountry,
		&drug.ActiveSubstance,
		&drug.Form,
		&drug.Dozens,
		&drug.ImageURL,
		&drug.SellerID,
		&drug.CreatedAt,
		&drug.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return drug, nil
}

// Create inserts a new drug
func (r *drugRepository) Create(ctx context.Context, drug *domain.Drug) error {
	query := `
		INSERT INTO drugs (` + drugColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		drug.ID,
		drug.Name,
		drug.Description,
		drug.Price,
		drug.Quantity,
		drug.ExpirationDate,
		drug.Brand,
		drug.Category,
		drug.Manufacturer,
		drug.ManufacturerCountry,
		drug.ActiveSubstance,
		drug.Form,
		drug.Dozens,
		drug.ImageURL,
		drug.SellerID,
		drug.CreatedAt,
		drug.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create drug: %w", err)
	}

	return nil
}

// Update overwrites the descriptive columns of an existing drug. Stock is
// never written here; use SetQuantity or the increment/decrement operations.
func (r *drugRepository) Update(ctx context.Context, drug *domain.Drug) error {
	query := `
		UPDATE drugs
		SET name = $2, description = $3, price = $4, expiration_date = $5,
		    brand = $6, category = $7, manufacturer = $8, manufacturer_country = $9,
		    active_substance = $10, form = $11, dozens = $12, image_url = $13, updated_at = $14
		WHERE id = $1
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		drug.ID,
		drug.Name,
		drug.Description,
		drug.Price,
		drug.ExpirationDate,
		drug.Brand,
		drug.Category,
		drug.Manufacturer,
		drug.ManufacturerCountry,
		drug.ActiveSubstance,
		drug.Form,
		drug.Dozens,
		drug.ImageURL,
		drug.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update drug: %w", err)
	}

	return requireRow(result, ErrDrugNotFound)
}

// SetQuantity replaces a drug's stock with an absolute value
func (r *drugRepository) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	if quantity < 0 {
		return ErrInsufficientQuantity
	}

	result, err := r.db.ExecContext(ctx, `UPDATE drugs SET quantity = $2 WHERE id = $1`, id, quantity)
	if err != nil {
		if _, ok := checkViolation(err); ok {
			return ErrInsufficientQuantity
		}
		return fmt.Errorf("failed to set drug quantity: %w", err)
	}

	return requireRow(result, ErrDrugNotFound)
}

// Delete removes a drug
func (r *drugRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM drugs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete drug: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrDrugNotFound
	}

	return nil
}

// FindByID retrieves a drug by ID
func (r *drugRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Drug, error) {
	return r.findOne(ctx, `SELECT `+drugColumns+` FROM drugs WHERE id = $1`, id)
}

// FindByIDForUpdate retrieves a drug and locks its row until the surrounding
// transaction ends. Outside a transaction the lock is released immediately.
func (r *drugRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Drug, error) {
	return r.findOne(ctx, `SELECT `+drugColumns+` FROM drugs WHERE id = $1 FOR UPDATE`, id)
}

func (r *drugRepository) findOne(ctx context.Context, query string, id uuid.UUID) (*domain.Drug, error) {
	drug, err := scanDrug(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDrugNotFound
		}
		return nil, fmt.Errorf("failed to find drug by ID: %w", err)
	}
	return drug, nil
}

// List retrieves drugs matching the filter, oldest first, with the total match count
func (r *drugRepository) List(ctx context.Context, filter domain.DrugFilter) ([]*domain.Drug, int, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("LOWER(category) = LOWER($%d)", len(args)))
	}
	if filter.SellerID != nil {
		args = append(args, *filter.SellerID)
		conditions = append(conditions, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		conditions = append(conditions, fmt.Sprintf(
			"(name ILIKE $%[1]d OR description ILIKE $%[1]d OR active_substance ILIKE $%[1]d)", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM drugs %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count drugs: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM drugs %s ORDER BY created_at ASC, id ASC", drugColumns, whereClause)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list drugs: %w", err)
	}
	defer rows.Close()

	drugs := []*domain.Drug{}
	for rows.Next() {
		drug, err := scanDrug(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan drug: %w", err)
		}
		drugs = append(drugs, drug)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating drugs: %w", err)
	}

	return drugs, total, nil
}

// DecrementQuantity subtracts amount from the drug's stock and returns the
// remaining quantity. The guard in the WHERE clause keeps stock non-negative.
func (r *drugRepository) DecrementQuantity(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("decrement amount must be positive: %w", domain.ErrInvalidArgument)
	}

	query := `
		UPDATE drugs
		SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2
		RETURNING quantity
	`

	var remaining int
	err := r.db.QueryRowContext(ctx, query, id, amount).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if _, ok := checkViolation(err); ok {
			return 0, ErrInsufficientQuantity
		}
		return 0, fmt.Errorf("failed to decrement drug quantity: %w", err)
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrDrugNotFound
	}
	return 0, ErrInsufficientQuantity
}

// IncrementQuantity returns amount units to the drug's stock
func (r *drugRepository) IncrementQuantity(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("increment amount must be positive: %w", domain.ErrInvalidArgument)
	}

	var remaining int
	err := r.db.QueryRowContext(ctx,
		`UPDATE drugs SET quantity = quantity + $2 WHERE id = $1 RETURNING quantity`,
		id, amount,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrDrugNotFound
		}
		return 0, fmt.Errorf("failed to increment drug quantity: %w", err)
	}
	return remaining, nil
}

func (r *drugRepository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM drugs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check drug existence: %w", err)
	}
	return exists, nil
}
