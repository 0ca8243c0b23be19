// Package api exposes the HTTP surface: journey and campaign management,
// contact operations, event ingress, and provider webhooks.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/analytics"
	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/ingress"
	"github.com/ignite/marketing-engine/internal/journey"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
	"github.com/ignite/marketing-engine/internal/store"
)

// StatsSource reports processing counters for the health endpoint.
type StatsSource interface {
	Stats() map[string]int64
}

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	journeys  *journey.Service
	pipeline  *delivery.Pipeline
	analytics *analytics.Service
	ingress   *ingress.Service
	store     *store.Store
	log       *logger.Logger

	schedulerStats StatsSource
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(journeys *journey.Service, pipeline *delivery.Pipeline, analyticsSvc *analytics.Service, ingressSvc *ingress.Service, st *store.Store) *Handlers {
	return &Handlers{
		journeys:  journeys,
		pipeline:  pipeline,
		analytics: analyticsSvc,
		ingress:   ingressSvc,
		store:     st,
		log:       logger.New("api"),
	}
}

// SetSchedulerStats wires the scheduler's counters into the health payload.
// Only set when the scheduler runs in-process.
func (h *Handlers) SetSchedulerStats(src StatsSource) { h.schedulerStats = src }

// HealthCheck reports service liveness and processing counters.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":   "ok",
		"delivery": h.pipeline.Stats(),
	}
	if h.schedulerStats != nil {
		payload["scheduler"] = h.schedulerStats.Stats()
	}
	respondJSON(w, http.StatusOK, payload)
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func parseUUIDParam(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// contactByRequest resolves a contact from a request body carrying either a
// contact_id or an email.
func (h *Handlers) contactByRequest(ctx context.Context, contactID, email string) (*domain.Contact, error) {
	if contactID != "" {
		id, err := uuid.Parse(contactID)
		if err != nil {
			return nil, err
		}
		return h.store.GetContact(ctx, id)
	}
	c, err := h.store.GetContactByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, journey.ErrContactNotFound
	}
	return c, nil
}
