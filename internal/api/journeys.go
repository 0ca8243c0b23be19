package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/journey"
)

type journeyRequest struct {
	Name            string            `json:"name"`
	Trigger         string            `json:"trigger"`
	TriggerCriteria map[string]string `json:"trigger_criteria,omitempty"`
	AllowReentry    bool              `json:"allow_reentry"`
	Steps           []domain.Step     `json:"steps"`
}

// CreateJourney creates a draft journey definition.
func (h *Handlers) CreateJourney(w http.ResponseWriter, r *http.Request) {
	var req journeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j := &domain.Journey{
		Name:            req.Name,
		Trigger:         domain.TriggerType(req.Trigger),
		TriggerCriteria: req.TriggerCriteria,
		AllowReentry:    req.AllowReentry,
		Steps:           req.Steps,
	}
	if err := h.journeys.Create(r.Context(), j); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, j)
}

// ListJourneys returns all journey definitions.
func (h *Handlers) ListJourneys(w http.ResponseWriter, r *http.Request) {
	journeys, err := h.journeys.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list journeys")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"journeys": journeys})
}

// GetJourney returns one journey definition.
func (h *Handlers) GetJourney(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "journeyID"))
	if !ok {
		return
	}
	j, err := h.journeys.Get(r.Context(), id)
	if err != nil {
		h.respondJourneyError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// UpdateJourney updates a journey definition. Steps already passed by any
// active enrollment are locked.
func (h *Handlers) UpdateJourney(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "journeyID"))
	if !ok {
		return
	}
	var req journeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j := &domain.Journey{
		ID:              id,
		Name:            req.Name,
		Trigger:         domain.TriggerType(req.Trigger),
		TriggerCriteria: req.TriggerCriteria,
		AllowReentry:    req.AllowReentry,
		Steps:           req.Steps,
	}
	if err := h.journeys.Update(r.Context(), j); err != nil {
		if errors.Is(err, journey.ErrStepsLocked) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.respondJourneyError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (h *Handlers) ActivateJourney(w http.ResponseWriter, r *http.Request) {
	h.transitionJourney(w, r, h.journeys.Activate)
}

func (h *Handlers) PauseJourney(w http.ResponseWriter, r *http.Request) {
	h.transitionJourney(w, r, h.journeys.Pause)
}

func (h *Handlers) ResumeJourney(w http.ResponseWriter, r *http.Request) {
	h.transitionJourney(w, r, h.journeys.Resume)
}

func (h *Handlers) ArchiveJourney(w http.ResponseWriter, r *http.Request) {
	h.transitionJourney(w, r, h.journeys.Archive)
}

func (h *Handlers) transitionJourney(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) error) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "journeyID"))
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.respondJourneyError(w, err)
		return
	}
	j, err := h.journeys.Get(r.Context(), id)
	if err != nil {
		h.respondJourneyError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (h *Handlers) respondJourneyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, journey.ErrJourneyNotFound):
		respondError(w, http.StatusNotFound, "journey not found")
	case errors.Is(err, journey.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, journey.ErrJourneyNotActive):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, journey.ErrContactNotFound):
		respondError(w, http.StatusNotFound, "contact not found")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

type enrollRequest struct {
	ContactID string `json:"contact_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// EnrollContact enrolls a contact into a journey manually.
func (h *Handlers) EnrollContact(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := parseUUIDParam(w, chi.URLParam(r, "journeyID"))
	if !ok {
		return
	}
	var req enrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	contact, err := h.contactByRequest(r.Context(), req.ContactID, req.Email)
	if err != nil {
		respondError(w, http.StatusNotFound, "contact not found")
		return
	}

	enr, err := h.journeys.EnrollManually(r.Context(), journeyID, contact.ID)
	if err != nil {
		h.respondJourneyError(w, err)
		return
	}
	if enr == nil {
		// Deduped or re-entry refused; idempotent success.
		respondJSON(w, http.StatusOK, map[string]string{"status": "already_enrolled"})
		return
	}
	respondJSON(w, http.StatusCreated, enr)
}

// ListJourneyEnrollments returns a journey's enrollments, optionally
// filtered with ?status=active|completed|exited.
func (h *Handlers) ListJourneyEnrollments(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := parseUUIDParam(w, chi.URLParam(r, "journeyID"))
	if !ok {
		return
	}
	status := domain.EnrollmentStatus(r.URL.Query().Get("status"))
	enrollments, err := h.journeys.ListEnrollments(r.Context(), journeyID, status)
	if err != nil {
		h.respondJourneyError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"enrollments": enrollments})
}

// JourneyAnalytics returns per-step delivery stats for a journey.
func (h *Handlers) JourneyAnalytics(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := parseUUIDParam(w, chi.URLParam(r, "journeyID"))
	if !ok {
		return
	}
	j, err := h.journeys.Get(r.Context(), journeyID)
	if err != nil {
		h.respondJourneyError(w, err)
		return
	}
	steps, err := h.analytics.JourneyStepAnalytics(r.Context(), j)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to aggregate journey analytics")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"journey_id": j.ID,
		"steps":      steps,
	})
}
