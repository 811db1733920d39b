package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"givingplatform/internal/common/api"
	"givingplatform/internal/common/database"
	"givingplatform/internal/donation"
)

// Handler handles donation HTTP requests
type Handler struct {
	service *donation.Service
}

// NewHandler creates a new donation handler
func NewHandler(service *donation.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the donation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/payment-ref", h.AttachPaymentRef)
	r.Post("/{id}/donor", h.UpdateDonor)

	return r
}

// Create handles POST /donations
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req donation.CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	d, err := h.service.Create(r.Context(), &req)
	if err != nil {
		if database.IsUniqueViolation(err) {
			api.Conflict(w, "donation already exists")
			return
		}
		api.BadRequest(w, err.Error())
		return
	}

	api.WriteData(w, http.StatusCreated, d)
}

// Get handles GET /donations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "donation not found")
			return
		}
		api.InternalError(w, "failed to load donation")
		return
	}

	api.WriteData(w, http.StatusOK, d)
}

// AttachPaymentRefRequest is the request to store a provider payment ref
type AttachPaymentRefRequest struct {
	ProviderRef    string `json:"provider_ref" validate:"required"`
	ProviderSecret string `json:"provider_secret,omitempty"`
}

// AttachPaymentRef handles POST /donations/{id}/payment-ref
func (h *Handler) AttachPaymentRef(w http.ResponseWriter, r *http.Request) {
	var req AttachPaymentRefRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	d, err := h.service.AttachPaymentRef(r.Context(), chi.URLParam(r, "id"), req.ProviderRef, req.ProviderSecret)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "donation not found")
			return
		}
		api.InternalError(w, "failed to attach payment ref")
		return
	}

	api.WriteData(w, http.StatusOK, d)
}

// UpdateDonorRequest is the request to update donor details
type UpdateDonorRequest struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// UpdateDonor handles POST /donations/{id}/donor
func (h *Handler) UpdateDonor(w http.ResponseWriter, r *http.Request) {
	var req UpdateDonorRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	d, err := h.service.UpdateDonor(r.Context(), chi.URLParam(r, "id"), req.Name, req.Email)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "donation not found")
			return
		}
		api.InternalError(w, "failed to update donor")
		return
	}

	api.WriteData(w, http.StatusOK, d)
}
