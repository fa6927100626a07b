package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calmpath/internal/identity"
	"github.com/ashureev/calmpath/internal/store"
)

// SessionHandler reports the caller and client-facing server settings.
type SessionHandler struct {
	repo      store.Repository
	aiEnabled bool
	authMode  string
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(repo store.Repository, aiEnabled bool, authMode string) *SessionHandler {
	return &SessionHandler{repo: repo, aiEnabled: aiEnabled, authMode: authMode}
}

// RegisterPublicRoutes registers routes that need no caller.
func (h *SessionHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/config", h.GetConfig)
}

// RegisterRoutes registers routes that require a caller.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/auth/user", h.GetUser)
}

// GetConfig returns the server configuration for the frontend.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"aiEnabled": h.aiEnabled,
		"authMode":  h.authMode,
	})
}

// GetUser returns the current user's record.
func (h *SessionHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	JSON(w, http.StatusOK, user)
}
