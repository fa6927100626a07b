package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calmpath/internal/advisor"
)

// ReactionAnalyzer produces coaching for a reaction.
type ReactionAnalyzer interface {
	AnalyzeReaction(ctx context.Context, in advisor.Reaction) (*advisor.Advice, error)
}

// AdvisorHandler handles the AI reaction helper.
type AdvisorHandler struct {
	analyzer ReactionAnalyzer
	limit    func(http.Handler) http.Handler
}

// NewAdvisorHandler creates an advisor handler. limit may be nil.
func NewAdvisorHandler(analyzer ReactionAnalyzer, limit func(http.Handler) http.Handler) *AdvisorHandler {
	return &AdvisorHandler{analyzer: analyzer, limit: limit}
}

// RegisterRoutes registers AI routes.
func (h *AdvisorHandler) RegisterRoutes(r chi.Router) {
	r.Route("/ai", func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/analyze-reaction", h.AnalyzeReaction)
	})
}

// AnalyzeReaction returns structured advice for the submitted reaction.
func (h *AdvisorHandler) AnalyzeReaction(w http.ResponseWriter, r *http.Request) {
	var req advisor.Reaction
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	advice, err := h.analyzer.AnalyzeReaction(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, advice)
}
