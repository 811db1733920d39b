package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"givingplatform/internal/campaign"
	"givingplatform/internal/common/api"
	"givingplatform/internal/common/database"
	"givingplatform/internal/common/money"
)

// Handler handles case HTTP requests
type Handler struct {
	store campaign.Store
}

// NewHandler creates a new case handler
func NewHandler(store campaign.Store) *Handler {
	return &Handler{store: store}
}

// Routes returns the case routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/active", h.SetActive)

	return r
}

// CreateRequest is the request to create a case
type CreateRequest struct {
	Title               string `json:"title" validate:"required,max=255"`
	Description         string `json:"description,omitempty"`
	AmountRequiredMinor int64  `json:"amount_required_minor" validate:"required,gt=0"`
	Currency            string `json:"currency" validate:"required,len=3"`
}

// Create handles POST /cases
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	required := money.New(req.AmountRequiredMinor, money.Normalize(req.Currency))
	c, err := campaign.New(ulid.Make().String(), req.Title, required)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	c.Description = req.Description

	if err := h.store.Create(r.Context(), c); err != nil {
		api.InternalError(w, "failed to create case")
		return
	}

	api.WriteData(w, http.StatusCreated, c)
}

// List handles GET /cases
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := api.GetPaginationParams(r, 50, 100)
	activeOnly := r.URL.Query().Get("active") == "true"

	cases, err := h.store.List(r.Context(), activeOnly, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to list cases")
		return
	}

	api.WriteData(w, http.StatusOK, cases)
}

// Get handles GET /cases/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "case not found")
			return
		}
		api.InternalError(w, "failed to load case")
		return
	}

	api.WriteData(w, http.StatusOK, c)
}

// SetActiveRequest toggles a case
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive handles POST /cases/{id}/active
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	c, err := h.store.SetActive(r.Context(), chi.URLParam(r, "id"), req.Active)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "case not found")
			return
		}
		api.InternalError(w, "failed to update case")
		return
	}

	api.WriteData(w, http.StatusOK, c)
}
