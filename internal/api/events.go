package api

import (
	"errors"
	"net/http"

	"github.com/ignite/marketing-engine/internal/ingress"
)

func ingressEvent(eventType, contactID string, payload map[string]string) ingress.Event {
	return ingress.Event{Type: eventType, ContactID: contactID, Payload: payload}
}

// IngestEvent accepts a trigger event from an outside collaborator and
// matches it against active journeys.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev ingress.Event
	if !decodeJSON(w, r, &ev) {
		return
	}

	if err := h.ingress.Ingest(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, ingress.ErrUnknownTriggerType), errors.Is(err, ingress.ErrContactRequired):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ingress.ErrContactNotFound):
			respondError(w, http.StatusNotFound, "contact not found")
		default:
			respondError(w, http.StatusInternalServerError, "failed to process event")
		}
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
