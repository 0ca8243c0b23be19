package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/pkg/httpretry"
)

// sparkPostEvent mirrors the msys envelope SparkPost posts in batches.
type sparkPostEvent struct {
	Msys struct {
		MessageEvent struct {
			Type           string `json:"type"`
			MessageID      string `json:"message_id"`
			TransmissionID string `json:"transmission_id"`
			Recipient      string `json:"rcpt_to"`
			BounceClass    string `json:"bounce_class"`
			Reason         string `json:"reason"`
			Timestamp      string `json:"timestamp"`
		} `json:"message_event"`
		TrackEvent struct {
			Type           string `json:"type"`
			TransmissionID string `json:"transmission_id"`
			Timestamp      string `json:"timestamp"`
		} `json:"track_event"`
		UnsubEvent struct {
			Type           string `json:"type"`
			TransmissionID string `json:"transmission_id"`
			Timestamp      string `json:"timestamp"`
		} `json:"unsubscribe_event"`
		ComplaintEvent struct {
			Type           string `json:"type"`
			TransmissionID string `json:"transmission_id"`
			Timestamp      string `json:"timestamp"`
		} `json:"spam_complaint"`
	} `json:"msys"`
}

// hardBounceClasses are SparkPost bounce classifications that will never
// deliver (bad address, no mailbox).
var hardBounceClasses = map[string]bool{"10": true, "25": true, "30": true, "90": true}

// SparkPostWebhook ingests a batch of SparkPost events. Always 200s so the
// provider doesn't redeliver batches we partly processed; per-event failures
// are logged.
func (h *Handlers) SparkPostWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 5*1024*1024)

	var events []sparkPostEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		respondError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	for _, ev := range events {
		pe, ok := normalizeSparkPost(ev)
		if !ok {
			continue
		}
		if err := h.pipeline.HandleProviderEvent(r.Context(), pe); err != nil {
			h.log.Error("sparkpost event failed", "type", pe.Type, "provider_id", pe.ProviderID, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func normalizeSparkPost(ev sparkPostEvent) (delivery.ProviderEvent, bool) {
	msys := ev.Msys
	switch {
	case msys.MessageEvent.Type != "":
		return delivery.ProviderEvent{
			Type:       msys.MessageEvent.Type,
			ProviderID: msys.MessageEvent.TransmissionID,
			OccurredAt: parseEpoch(msys.MessageEvent.Timestamp),
			Hard:       hardBounceClasses[msys.MessageEvent.BounceClass],
		}, true
	case msys.TrackEvent.Type != "":
		return delivery.ProviderEvent{
			Type:       msys.TrackEvent.Type,
			ProviderID: msys.TrackEvent.TransmissionID,
			OccurredAt: parseEpoch(msys.TrackEvent.Timestamp),
		}, true
	case msys.UnsubEvent.Type != "":
		return delivery.ProviderEvent{
			Type:       "unsubscribe",
			ProviderID: msys.UnsubEvent.TransmissionID,
			OccurredAt: parseEpoch(msys.UnsubEvent.Timestamp),
		}, true
	case msys.ComplaintEvent.Type != "":
		return delivery.ProviderEvent{
			Type:       "spam_complaint",
			ProviderID: msys.ComplaintEvent.TransmissionID,
			OccurredAt: parseEpoch(msys.ComplaintEvent.Timestamp),
		}, true
	}
	return delivery.ProviderEvent{}, false
}

func parseEpoch(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	var epoch int64
	if err := json.Unmarshal([]byte(s), &epoch); err == nil && epoch > 0 {
		return time.Unix(epoch, 0)
	}
	return time.Time{}
}

// snsEnvelope is the SNS wrapper SES notifications arrive in.
type snsEnvelope struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesNotification is the SES event payload inside an SNS Notification.
type sesNotification struct {
	EventType string `json:"eventType"`
	Mail      struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Bounce struct {
		BounceType string `json:"bounceType"`
	} `json:"bounce"`
}

// SESWebhook ingests SES events delivered over SNS, confirming subscriptions
// on first contact.
func (h *Handlers) SESWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 5*1024*1024)

	var env snsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid SNS payload")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		if env.SubscribeURL == "" {
			respondError(w, http.StatusBadRequest, "missing SubscribeURL")
			return
		}
		h.confirmSNSSubscription(env.SubscribeURL)
		respondJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
		return
	case "Notification":
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var note sesNotification
	if err := json.Unmarshal([]byte(env.Message), &note); err != nil {
		respondError(w, http.StatusBadRequest, "invalid SES notification")
		return
	}

	occurredAt := time.Time{}
	if t, err := time.Parse(time.RFC3339, note.Mail.Timestamp); err == nil {
		occurredAt = t
	}
	pe := delivery.ProviderEvent{
		Type:       note.EventType,
		ProviderID: note.Mail.MessageID,
		OccurredAt: occurredAt,
		Hard:       note.Bounce.BounceType == "Permanent",
	}
	if err := h.pipeline.HandleProviderEvent(r.Context(), pe); err != nil {
		h.log.Error("ses event failed", "type", pe.Type, "provider_id", pe.ProviderID, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) confirmSNSSubscription(url string) {
	client := httpretry.New(&http.Client{Timeout: 10 * time.Second}, 3)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		h.log.Error("build SNS confirmation request", "error", err)
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		h.log.Error("confirm SNS subscription", "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	h.log.Info("SNS subscription confirmed")
}
