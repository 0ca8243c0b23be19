package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/domain"
)

type campaignRequest struct {
	Name        string   `json:"name"`
	Subject     string   `json:"subject"`
	HTMLContent string   `json:"html_content"`
	TextContent string   `json:"text_content,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Subject == "" || req.HTMLContent == "" {
		respondError(w, http.StatusBadRequest, "name, subject, and html_content are required")
		return
	}
	c := &domain.Campaign{
		Name:        req.Name,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		TextContent: req.TextContent,
		Tags:        req.Tags,
		Status:      domain.CampaignDraft,
	}
	if err := h.store.CreateCampaign(r.Context(), c); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// ListCampaigns returns all campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.store.ListCampaigns(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"campaigns": campaigns})
}

// GetCampaign returns one campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "campaignID"))
	if !ok {
		return
	}
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// UpdateCampaign updates a draft campaign's content.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "campaignID"))
	if !ok {
		return
	}
	var req campaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c := &domain.Campaign{
		ID:          id,
		Name:        req.Name,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		TextContent: req.TextContent,
		Tags:        req.Tags,
	}
	if err := h.store.UpdateCampaign(r.Context(), c); err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// SendCampaign starts the one-shot bulk send.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "campaignID"))
	if !ok {
		return
	}
	c, err := h.pipeline.SendCampaign(r.Context(), id)
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// CampaignAnalytics returns unique-contact delivery stats for a campaign.
func (h *Handlers) CampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "campaignID"))
	if !ok {
		return
	}
	if _, err := h.store.GetCampaign(r.Context(), id); err != nil {
		h.respondCampaignError(w, err)
		return
	}
	stats, err := h.analytics.CampaignAnalytics(r.Context(), domain.RefCampaign(id))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to aggregate campaign analytics")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"stats":       stats,
	})
}

func (h *Handlers) respondCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, delivery.ErrCampaignNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, delivery.ErrCampaignAlreadySent):
		respondError(w, http.StatusConflict, "campaign is not a draft")
	case errors.Is(err, delivery.ErrMissingUnsubscribeLink):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
