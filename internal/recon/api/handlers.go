package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"givingplatform/internal/common/api"
	"givingplatform/internal/common/database"
	"givingplatform/internal/recon"
)

// Handler exposes the orphan queue for manual remediation
type Handler struct {
	orphans recon.OrphanStore
}

// NewHandler creates a new orphan queue handler
func NewHandler(orphans recon.OrphanStore) *Handler {
	return &Handler{orphans: orphans}
}

// Routes returns the orphan routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/resolve", h.Resolve)

	return r
}

// List handles GET /orphans
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := api.GetPaginationParams(r, 50, 100)
	status := recon.OrphanStatus(r.URL.Query().Get("status"))

	switch status {
	case "", recon.OrphanUnresolved, recon.OrphanResolved, recon.OrphanIgnored:
	default:
		api.BadRequest(w, "invalid status filter")
		return
	}

	orphans, err := h.orphans.List(r.Context(), status, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to list orphan events")
		return
	}

	api.WriteData(w, http.StatusOK, orphans)
}

// Get handles GET /orphans/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.orphans.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "orphan event not found")
			return
		}
		api.InternalError(w, "failed to load orphan event")
		return
	}

	api.WriteData(w, http.StatusOK, o)
}

// ResolveRequest marks an orphan resolved or ignored
type ResolveRequest struct {
	Status string `json:"status" validate:"required,oneof=resolved ignored"`
	Note   string `json:"note,omitempty"`
}

// Resolve handles POST /orphans/{id}/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	o, err := h.orphans.Resolve(r.Context(), chi.URLParam(r, "id"), recon.OrphanStatus(req.Status), req.Note)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "orphan event not found")
			return
		}
		api.InternalError(w, "failed to resolve orphan event")
		return
	}

	api.WriteData(w, http.StatusOK, o)
}
