package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/marketing-engine/internal/domain"
)

type contactRequest struct {
	Email  string   `json:"email"`
	Tags   []string `json:"tags,omitempty"`
	Source string   `json:"source,omitempty"`
}

// CreateContact creates a contact and emits a contact_created trigger event.
// Duplicate emails return the existing contact without re-triggering.
func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	c := &domain.Contact{
		Email:  req.Email,
		Status: domain.ContactSubscribed,
		Tags:   req.Tags,
		Source: req.Source,
	}
	created, err := h.store.CreateContact(r.Context(), c)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}

	if created.ID == c.ID {
		ev := map[string]string{"source": created.Source}
		if err := h.ingress.Ingest(r.Context(), ingressEvent(string(domain.TriggerContactCreated), created.ID.String(), ev)); err != nil {
			h.log.Error("contact_created trigger failed", "contact_id", created.ID, "error", err)
		}
		respondJSON(w, http.StatusCreated, created)
		return
	}
	respondJSON(w, http.StatusOK, created)
}

// GetContact returns one contact.
func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "contactID"))
	if !ok {
		return
	}
	c, err := h.store.GetContact(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "contact not found")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListContacts returns contacts with limit/offset paging.
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	contacts, err := h.store.ListContacts(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

type tagRequest struct {
	Tag string `json:"tag"`
}

// AddContactTag appends a tag and emits a tag_added trigger event when the
// tag is new.
func (h *Handlers) AddContactTag(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "contactID"))
	if !ok {
		return
	}
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tag == "" {
		respondError(w, http.StatusBadRequest, "tag is required")
		return
	}

	added, err := h.store.AddContactTag(r.Context(), id, req.Tag)
	if err != nil {
		respondError(w, http.StatusNotFound, "contact not found")
		return
	}
	if added {
		if err := h.ingress.Ingest(r.Context(), ingressEvent(string(domain.TriggerTagAdded), id.String(), map[string]string{"tag": req.Tag})); err != nil {
			h.log.Error("tag_added trigger failed", "contact_id", id, "tag", req.Tag, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"added": added})
}

// UnsubscribeContact flips a contact to unsubscribed and exits their
// enrollments. Idempotent.
func (h *Handlers) UnsubscribeContact(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "contactID"))
	if !ok {
		return
	}
	if err := h.pipeline.Unsubscribe(r.Context(), id.String()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

// UnsubscribeLink handles the one-click unsubscribe URL embedded in every
// email.
func (h *Handlers) UnsubscribeLink(w http.ResponseWriter, r *http.Request) {
	contactID := r.URL.Query().Get("contact")
	if contactID == "" {
		http.Error(w, "missing contact", http.StatusBadRequest)
		return
	}
	if err := h.pipeline.Unsubscribe(r.Context(), contactID); err != nil {
		http.Error(w, "unsubscribe failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<html><body><h2>You have been unsubscribed.</h2></body></html>"))
}
