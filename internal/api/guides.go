package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calmpath/internal/catalog"
)

// GuideHandler serves the public guide catalog.
type GuideHandler struct {
	catalog *catalog.Service
}

// NewGuideHandler creates a guide handler.
func NewGuideHandler(c *catalog.Service) *GuideHandler {
	return &GuideHandler{catalog: c}
}

// RegisterRoutes registers guide routes.
func (h *GuideHandler) RegisterRoutes(r chi.Router) {
	r.Get("/guides", h.List)
	r.Get("/guides/{id}", h.Get)
}

// List returns every guide.
func (h *GuideHandler) List(w http.ResponseWriter, r *http.Request) {
	guides, err := h.catalog.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, guides)
}

// Get returns one guide.
func (h *GuideHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	guide, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, guide)
}
