package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultDrugImage is stored when a drug is created without an image.
const DefaultDrugImage = "images/drugs/default.jpg"

// Drug represents a sellable pharmaceutical product in the catalog
type Drug struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	Name                string          `json:"name" db:"name" validate:"required,max=100"`
	Description         string          `json:"description" db:"description" validate:"required"`
	Price               decimal.Decimal `json:"price" db:"price" validate:"gte=0"`
	Quantity            int             `json:"quantity" db:"quantity" validate:"gte=0"`
	ExpirationDate      time.Time       `json:"expiration_date" db:"expiration_date" validate:"required"`
	Brand               string          `json:"brand" db:"brand" validate:"required,alphaspace,max=100"`
	Category            string          `json:"category" db:"category" validate:"required,alphaspace,max=100"`
	Manufacturer        string          `json:"manufacturer" db:"manufacturer" validate:"required,alphaspace,max=100"`
	ManufacturerCountry string          `json:"manufacturer_country" db:"manufacturer_country" validate:"required,alphaspace,max=100"`
	ActiveSubstance     string          `json:"active_substance" db:"active_substance" validate:"required,max=100"`
	Form                string          `json:"form" db:"form" validate:"required,alphaspace,max=100"`
	Dozens              int             `json:"dozens" db:"dozens" validate:"gte=0"`
	ImageURL            string          `json:"image_url" db:"image_url"`
	SellerID            uuid.UUID       `json:"seller_id" db:"seller_id"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// DrugUpdate is a partial update of a drug. Nil fields are left untouched.
type DrugUpdate struct {
	Name                *string
	Description         *string
	Price               *decimal.Decimal
	Quantity            *int
	ExpirationDate      *time.Time
	Brand               *string
	Category            *string
	Manufacturer        *string
	ManufacturerCountry *string
	ActiveSubstance     *string
	Form                *string
	Dozens              *int
	ImageURL            *string
}

// Apply copies the non-nil fields onto d.
func (u DrugUpdate) Apply(d *Drug) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Description != nil {
		d.Description = *u.Description
	}
	if u.Price != nil {
		d.Price = *u.Price
	}
	if u.Quantity != nil {
		d.Quantity = *u.Quantity
	}
	if u.ExpirationDate != nil {
		d.ExpirationDate = *u.ExpirationDate
	}
	if u.Brand != nil {
		d.Brand = *u.Brand
	}
	if u.Category != nil {
		d.Category = *u.Category
	}
	if u.Manufacturer != nil {
		d.Manufacturer = *u.Manufacturer
	}
	if u.ManufacturerCountry != nil {
		d.ManufacturerCountry = *u.ManufacturerCountry
	}
	if u.ActiveSubstance != nil {
		d.ActiveSubstance = *u.ActiveSubstance
	}
	if u.Form != nil {
		d.Form = *u.Form
	}
	if u.Dozens != nil {
		d.Dozens = *u.Dozens
	}
	if u.ImageURL != nil {
		d.ImageURL = *u.ImageURL
	}
}

// DrugFilter narrows a catalog listing. The zero value lists the whole catalog.
type DrugFilter struct {
	Category string
	SellerID *uuid.UUID
	Search   string
	Page     int
	PageSize int
}

// IsZero reports whether the filter selects the unfiltered, unpaginated catalog.
func (f DrugFilter) IsZero() bool {
	return f.Category == "" && f.SellerID == nil && f.Search == "" && f.Page == 0 && f.PageSize == 0
}
