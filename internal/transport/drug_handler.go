package transport

import (
	"net/http"
	"strconv"
	"time"

	"pharmacy-market/internal/domain"
	"pharmacy-market/internal/middleware"
	"pharmacy-market/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// DrugRequest represents the payload for creating a drug
type DrugRequest struct {
	Name                string          `json:"name" validate:"required,max=100"`
	Description         string          `json:"description" validate:"required"`
	Price               decimal.Decimal `json:"price" validate:"gte=0"`
	Quantity            int             `json:"quantity" validate:"gte=0"`
	ExpirationDate      string          `json:"expiration_date" validate:"required,datetime=2006-01-02"`
	Brand               string          `json:"brand" validate:"required,alphaspace,max=100"`
	Category            string          `json:"category" validate:"required,alphaspace,max=100"`
	Manufacturer        string          `json:"manufacturer" validate:"required,alphaspace,max=100"`
	ManufacturerCountry string          `json:"manufacturer_country" validate:"required,alphaspace,max=100"`
	ActiveSubstance     string          `json:"active_substance" validate:"required,max=100"`
	Form                string          `json:"form" validate:"required,alphaspace,max=100"`
	Dozens              int             `json:"dozens" validate:"gte=0"`
	ImageURL            string          `json:"image_url" validate:"omitempty,max=255"`
	SellerID            string          `json:"seller_id" validate:"omitempty,uuid"`
}

// UpdateDrugRequest is a partial drug update. Omitted fields are unchanged.
type UpdateDrugRequest struct {
	Name                *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Description         *string          `json:"description" validate:"omitempty,min=1"`
	Price               *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	Quantity            *int             `json:"quantity" validate:"omitempty,gte=0"`
	ExpirationDate      *string          `json:"expiration_date" validate:"omitempty,datetime=2006-01-02"`
	Brand               *string          `json:"brand" validate:"omitempty,alphaspace,max=100"`
	Category            *string          `json:"category" validate:"omitempty,alphaspace,max=100"`
	Manufacturer        *string          `json:"manufacturer" validate:"omitempty,alphaspace,max=100"`
	ManufacturerCountry *string          `json:"manufacturer_country" validate:"omitempty,alphaspace,max=100"`
	ActiveSubstance     *string          `json:"active_substance" validate:"omitempty,min=1,max=100"`
	Form                *string          `json:"form" validate:"omitempty,alphaspace,max=100"`
	Dozens              *int             `json:"dozens" validate:"omitempty,gte=0"`
	ImageURL            *string          `json:"image_url" validate:"omitempty,max=255"`
}

// DrugListResponse is one page of the catalog
type DrugListResponse struct {
	Drugs    []*domain.Drug `json:"drugs"`
	Total    int            `json:"total"`
	Page     int            `json:"page,omitempty"`
	PageSize int            `json:"page_size,omitempty"`
}

// DrugHandler handles HTTP requests for the drug catalog
type DrugHandler struct {
	drugService service.DrugService
	logger      *zap.Logger
}

// NewDrugHandler creates a new DrugHandler
func NewDrugHandler(drugService service.DrugService, logger *zap.Logger) *DrugHandler {
	return &DrugHandler{
		drugService: drugService,
		logger:      logger,
	}
}

// RegisterRoutes registers all catalog routes
func (h *DrugHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/drugs", func(r chi.Router) {
		r.Get("/", h.ListDrugs)
		r.Get("/{id}", h.GetDrug)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.With(middleware.RequireRole([]domain.Role{domain.RoleSeller, domain.RoleAdmin}, h.logger)).Post("/", h.CreateDrug)
			r.Put("/{id}", h.UpdateDrug)
			r.Delete("/{id}", h.DeleteDrug)
		})
	})
}

// ListDrugs returns the catalog, optionally filtered and paginated
func (h *DrugHandler) ListDrugs(w http.ResponseWriter, r *http.Request) {
	filter, verrs := parseDrugFilter(r)
	if len(verrs) > 0 {
		middleware.RespondWithValidationErrors(w, verrs)
		return
	}

	drugs, total, err := h.drugService.ListDrugs(r.Context(), filter)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	if drugs == nil {
		drugs = []*domain.Drug{}
	}
	middleware.RespondWithJSON(w, http.StatusOK, DrugListResponse{
		Drugs:    drugs,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func parseDrugFilter(r *http.Request) (domain.DrugFilter, domain.ValidationErrors) {
	q := r.URL.Query()
	filter := domain.DrugFilter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	var verrs domain.ValidationErrors

	if raw := q.Get("seller_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			verrs = append(verrs, domain.FieldError{Field: "seller_id", Message: "Value must be a valid UUID"})
		} else {
			filter.SellerID = &id
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &filter.Page}, {"page_size", &filter.PageSize}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verrs = append(verrs, domain.FieldError{Field: p.name, Message: "Value must be a positive integer"})
			continue
		}
		*p.dst = n
	}
	return filter, verrs
}

// GetDrug returns a single drug
func (h *DrugHandler) GetDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	drug, err := h.drugService.GetDrug(r.Context(), id)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, drug)
}

// CreateDrug adds a drug to the catalog on behalf of the caller
func (h *DrugHandler) CreateDrug(w http.ResponseWriter, r *http.Request) {
	var req DrugRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	expiration, _ := time.Parse(dateLayout, req.ExpirationDate)
	drug := &domain.Drug{
		Name:                req.Name,
		Description:         req.Description,
		Price:               req.Price,
		Quantity:            req.Quantity,
		ExpirationDate:      expiration,
		Brand:               req.Brand,
		Category:            req.Category,
		Manufacturer:        req.Manufacturer,
		ManufacturerCountry: req.ManufacturerCountry,
		ActiveSubstance:     req.ActiveSubstance,
		Form:                req.Form,
		Dozens:              req.Dozens,
		ImageURL:            req.ImageURL,
	}
	if req.SellerID != "" {
		drug.SellerID = uuid.MustParse(req.SellerID)
	}

	created, err := h.drugService.CreateDrug(r.Context(), actorFrom(r), drug)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("Drug created",
		zap.String("drug_id", created.ID.String()),
		zap.String("seller_id", created.SellerID.String()),
	)
	middleware.RespondWithJSON(w, http.StatusCreated, created)
}

// UpdateDrug applies a partial update to a drug
func (h *DrugHandler) UpdateDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateDrugRequest
	if !decode(w, r, h.logger, &req) {
		return
	}

	update := domain.DrugUpdate{
		Name:                req.Name,
		Description:         req.Description,
		Price:               req.Price,
		Quantity:            req.Quantity,
		Brand:               req.Brand,
		Category:            req.Category,
		Manufacturer:        req.Manufacturer,
		ManufacturerCountry: req.ManufacturerCountry,
		ActiveSubstance:     req.ActiveSubstance,
		Form:                req.Form,
		Dozens:              req.Dozens,
		ImageURL:            req.ImageURL,
	}
	if req.ExpirationDate != nil {
		expiration, _ := time.Parse(dateLayout, *req.ExpirationDate)
		update.ExpirationDate = &expiration
	}

	drug, err := h.drugService.UpdateDrug(r.Context(), actorFrom(r), id, update)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, drug)
}

// DeleteDrug removes a drug from the catalog
func (h *DrugHandler) DeleteDrug(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.drugService.DeleteDrug(r.Context(), actorFrom(r), id); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("Drug deleted", zap.String("drug_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}
