package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calmpath/internal/crisis"
	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/identity"
	"github.com/ashureev/calmpath/internal/journal"
)

// CrisisHandler handles crisis session and journal endpoints. Every route
// expects identity.RequireUser in front of it.
type CrisisHandler struct {
	crises  *crisis.Service
	journal *journal.Service
}

// NewCrisisHandler creates a crisis handler.
func NewCrisisHandler(crises *crisis.Service, j *journal.Service) *CrisisHandler {
	return &CrisisHandler{crises: crises, journal: j}
}

// RegisterRoutes registers crisis and note routes.
func (h *CrisisHandler) RegisterRoutes(r chi.Router) {
	r.Route("/crises", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/progress", h.UpdateProgress)
			r.Post("/advance", h.Advance)
			r.Post("/retreat", h.Retreat)
			r.Post("/resolve", h.Resolve)
			r.Get("/notes", h.ListNotes)
			r.Post("/notes", h.CreateNote)
		})
	})
}

type createCrisisRequest struct {
	// UserID is accepted for client compatibility and ignored; the caller owns the crisis.
	UserID      string  `json:"userId"`
	GuideID     *int64  `json:"guideId"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

type updateProgressRequest struct {
	StepIndex  *int   `json:"stepIndex"`
	IsResolved *bool  `json:"isResolved"`
	Version    *int64 `json:"version"`
}

type createNoteRequest struct {
	Content string `json:"content"`
}

// List returns the caller's crises.
func (h *CrisisHandler) List(w http.ResponseWriter, r *http.Request) {
	crises, err := h.crises.List(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, crises)
}

// Create starts a crisis session.
func (h *CrisisHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCrisisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.crises.Start(r.Context(), identity.UserIDFromContext(r.Context()), crisis.StartInput{
		GuideID:     req.GuideID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, c)
}

// Get returns one crisis.
func (h *CrisisHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.crises.Get(r.Context(), identity.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, c)
}

// UpdateProgress sets the step index and optionally resolves the crisis.
func (h *CrisisHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.StepIndex == nil {
		writeError(w, r, domain.NewValidationError("stepIndex", "stepIndex is required"))
		return
	}
	c, err := h.crises.SetStep(r.Context(), identity.UserIDFromContext(r.Context()), id, crisis.SetStepInput{
		StepIndex:  *req.StepIndex,
		IsResolved: req.IsResolved,
		Version:    req.Version,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, c)
}

// Advance moves to the next step.
func (h *CrisisHandler) Advance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.crises.Advance)
}

// Retreat moves to the previous step.
func (h *CrisisHandler) Retreat(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.crises.Retreat)
}

// Resolve marks the crisis resolved.
func (h *CrisisHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.crises.Resolve)
}

func (h *CrisisHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, callerID string, id int64) (*domain.Crisis, error),
) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := fn(r.Context(), identity.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, c)
}

// ListNotes returns the notes of a crisis, newest first.
func (h *CrisisHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	notes, err := h.journal.List(r.Context(), identity.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, notes)
}

// CreateNote appends a journal note.
func (h *CrisisHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	note, err := h.journal.Add(r.Context(), identity.UserIDFromContext(r.Context()), id, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, note)
}
