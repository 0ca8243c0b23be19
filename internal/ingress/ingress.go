// Package ingress accepts raw trigger events from collaborator systems,
// normalizes them, and forwards them to journey enrollment. It is the single
// entry point for outside events; journey-emitted tag events bypass it and
// carry their trigger depth directly.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/journey"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
)

var (
	ErrUnknownTriggerType = errors.New("unknown trigger type")
	ErrContactRequired    = errors.New("event requires a contact_id or email")
	ErrContactNotFound    = errors.New("contact not found")
)

// Event is the raw inbound payload. Callers identify the contact by ID or by
// email; email lookup is the common path for external systems that don't hold
// our IDs.
type Event struct {
	Type       string            `json:"type"`
	ContactID  string            `json:"contact_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	OccurredAt *time.Time        `json:"occurred_at,omitempty"`
}

// Enroller receives normalized trigger events. Implemented by the journey
// service.
type Enroller interface {
	HandleEvent(ctx context.Context, ev domain.TriggerEvent) error
}

// ContactResolver looks contacts up by ID or email.
type ContactResolver interface {
	GetContact(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	GetContactByEmail(ctx context.Context, email string) (*domain.Contact, error)
}

// Service validates and normalizes raw events.
type Service struct {
	enroller Enroller
	contacts ContactResolver
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates an ingress service.
func NewService(enroller Enroller, contacts ContactResolver) *Service {
	return &Service{
		enroller: enroller,
		contacts: contacts,
		log:      logger.New("ingress"),
		now:      time.Now,
	}
}

// WithClock overrides the clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest validates one raw event and forwards it for enrollment matching.
// External events always enter at trigger depth zero.
func (s *Service) Ingest(ctx context.Context, ev Event) error {
	triggerType := domain.TriggerType(ev.Type)
	if !domain.ValidTriggerType(triggerType) {
		return fmt.Errorf("%w: %q", ErrUnknownTriggerType, ev.Type)
	}

	contact, err := s.resolveContact(ctx, ev)
	if err != nil {
		return err
	}

	occurredAt := s.now()
	if ev.OccurredAt != nil && !ev.OccurredAt.IsZero() {
		occurredAt = *ev.OccurredAt
	}

	s.log.Debug("event ingested", "type", ev.Type, "contact_id", contact.ID)
	return s.enroller.HandleEvent(ctx, domain.TriggerEvent{
		Type:       triggerType,
		ContactID:  contact.ID,
		Payload:    ev.Payload,
		OccurredAt: occurredAt,
	})
}

func (s *Service) resolveContact(ctx context.Context, ev Event) (*domain.Contact, error) {
	if ev.ContactID != "" {
		id, err := uuid.Parse(ev.ContactID)
		if err != nil {
			return nil, fmt.Errorf("invalid contact_id %q: %w", ev.ContactID, err)
		}
		contact, err := s.contacts.GetContact(ctx, id)
		if err != nil {
			if errors.Is(err, journey.ErrContactNotFound) {
				return nil, ErrContactNotFound
			}
			return nil, err
		}
		if contact == nil {
			return nil, ErrContactNotFound
		}
		return contact, nil
	}
	if ev.Email != "" {
		contact, err := s.contacts.GetContactByEmail(ctx, domain.NormalizeEmail(ev.Email))
		if err != nil {
			return nil, err
		}
		if contact == nil {
			return nil, ErrContactNotFound
		}
		return contact, nil
	}
	return nil, ErrContactRequired
}
