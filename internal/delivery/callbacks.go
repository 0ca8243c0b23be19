package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
)

// ProviderEvent is a normalized inbound delivery callback. Providers differ
// in event naming; the webhook handlers map raw payloads into this shape
// before handing them to the pipeline.
type ProviderEvent struct {
	// Type is the provider's event name (delivery, open, click, bounce,
	// spam_complaint, unsubscribe, and common aliases).
	Type string
	// ProviderID is the provider message ID returned at send time.
	ProviderID string
	// OccurredAt is the provider's event timestamp; zero means now.
	OccurredAt time.Time
	// Hard marks a bounce as permanent. Soft bounces update the record but
	// leave the contact subscribed.
	Hard bool
}

// normalizeEventType maps the provider event vocabulary onto delivery
// statuses. Unknown types return an empty status and are dropped.
func normalizeEventType(t string) domain.DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "delivery", "delivered":
		return domain.DeliveryDelivered
	case "open", "opened", "initial_open":
		return domain.DeliveryOpened
	case "click", "clicked":
		return domain.DeliveryClicked
	case "bounce", "bounced":
		return domain.DeliveryBounced
	case "spam_complaint", "complaint", "complained":
		return domain.DeliveryComplained
	case "unsubscribe", "unsubscribed", "list_unsubscribe":
		return domain.DeliveryUnsubscribed
	default:
		return ""
	}
}

// HandleProviderEvent applies one provider callback to the matching delivery
// record. Events for unknown message IDs and unknown event types are dropped.
// Transitions are forward-only: a late "delivered" after an "opened" is a
// silent no-op. Unsubscribes, complaints, and hard bounces additionally flip
// the contact's subscription status and exit all of their active enrollments.
func (p *Pipeline) HandleProviderEvent(ctx context.Context, ev ProviderEvent) error {
	status := normalizeEventType(ev.Type)
	if status == "" {
		p.log.Debug("ignoring unknown provider event", "type", ev.Type)
		return nil
	}

	rec, err := p.store.GetDeliveryByProviderID(ctx, ev.ProviderID)
	if err != nil {
		return fmt.Errorf("lookup delivery: %w", err)
	}
	if rec == nil {
		p.log.Debug("provider event for unknown message", "provider_id", ev.ProviderID, "type", ev.Type)
		return nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = p.now()
	}

	if rec.ApplyTransition(status, at) {
		if err := p.store.UpdateDelivery(ctx, rec); err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
	}

	switch status {
	case domain.DeliveryUnsubscribed:
		return p.suppressContact(ctx, rec, domain.ContactUnsubscribed, domain.ExitReasonUnsubscribed)
	case domain.DeliveryComplained:
		return p.suppressContact(ctx, rec, domain.ContactUnsubscribed, domain.ExitReasonUnsubscribed)
	case domain.DeliveryBounced:
		if ev.Hard {
			return p.suppressContact(ctx, rec, domain.ContactBounced, domain.ExitReasonBounced)
		}
	}
	return nil
}

// Unsubscribe handles a recipient clicking the unsubscribe link directly,
// outside any provider callback.
func (p *Pipeline) Unsubscribe(ctx context.Context, contactID string) error {
	id, err := parseContactID(contactID)
	if err != nil {
		return err
	}
	if err := p.store.MarkContactStatus(ctx, id, domain.ContactUnsubscribed); err != nil {
		return fmt.Errorf("unsubscribe contact: %w", err)
	}
	if p.exiter != nil {
		if _, err := p.exiter.ExitContact(ctx, id, domain.ExitReasonUnsubscribed); err != nil {
			return fmt.Errorf("exit enrollments: %w", err)
		}
	}
	return nil
}

func parseContactID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid contact id %q: %w", s, err)
	}
	return id, nil
}

func (p *Pipeline) suppressContact(ctx context.Context, rec *domain.DeliveryRecord, status domain.ContactStatus, exitReason string) error {
	if err := p.store.MarkContactStatus(ctx, rec.ContactID, status); err != nil {
		return fmt.Errorf("mark contact %s: %w", status, err)
	}
	if p.exiter != nil {
		exited, err := p.exiter.ExitContact(ctx, rec.ContactID, exitReason)
		if err != nil {
			return fmt.Errorf("exit enrollments: %w", err)
		}
		if exited > 0 {
			p.log.Info("exited enrollments after suppression",
				"contact_id", rec.ContactID, "reason", exitReason, "count", exited)
		}
	}
	return nil
}
