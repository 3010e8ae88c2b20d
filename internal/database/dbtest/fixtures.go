package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// InsertUser stores an account with the given role and returns its ID.
func InsertUser(t *testing.T, db *sql.DB, role string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO users (id, username, first_name, last_name, business_name, phone, role, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'x')`,
		id,
		"u"+id.String()[:8],
		gofakeit.FirstName(),
		gofakeit.LastName(),
		gofakeit.Company(),
		gofakeit.Numerify("+359#########"),
		role,
	)
	if err != nil {
		t.Fatalf("could not insert %s: %v", role, err)
	}
	return id
}

// InsertDrug stores a drug owned by sellerID with the given stock and returns its ID.
func InsertDrug(t *testing.T, db *sql.DB, sellerID uuid.UUID, price string, quantity int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO drugs (id, name, description, price, quantity, expiration_date, brand, category,
		                   manufacturer, manufacturer_country, active_substance, form, seller_id)
		VALUES ($1, $2, 'test drug', $3, $4, $5, 'Bayer', 'Painkillers', 'Bayer', 'Germany', 'Ibuprofen', 'Tablet', $6)`,
		id,
		gofakeit.ProductName(),
		price,
		quantity,
		time.Now().AddDate(1, 0, 0),
		sellerID,
	)
	if err != nil {
		t.Fatalf("could not insert drug: %v", err)
	}
	return id
}

// Quantity reads a drug's current stock.
func Quantity(t *testing.T, db *sql.DB, drugID uuid.UUID) int {
	t.Helper()
	var quantity int
	if err := db.QueryRowContext(context.Background(), `SELECT quantity FROM drugs WHERE id = $1`, drugID).Scan(&quantity); err != nil {
		t.Fatalf("could not read quantity: %v", err)
	}
	return quantity
}
