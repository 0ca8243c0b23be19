package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
)

// HandleEvent matches a trigger event against active journeys and enrolls
// the contact into each match. Unsubscribed and bounced contacts are never
// enrolled; an existing active enrollment dedupes; events deeper than the
// trigger-chain bound are dropped rather than looped.
func (s *Service) HandleEvent(ctx context.Context, ev domain.TriggerEvent) error {
	if ev.Depth > domain.MaxTriggerDepth {
		s.log.Warn("trigger chain too deep, dropping event",
			"type", ev.Type, "contact_id", ev.ContactID, "depth", ev.Depth)
		return nil
	}

	contact, err := s.repo.GetContact(ctx, ev.ContactID)
	if err != nil {
		return fmt.Errorf("load contact for event: %w", err)
	}
	if contact.Status != domain.ContactSubscribed {
		return nil
	}

	journeys, err := s.repo.ListActiveJourneysByTrigger(ctx, ev.Type)
	if err != nil {
		return fmt.Errorf("list journeys for trigger %s: %w", ev.Type, err)
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = s.now()
	}

	for i := range journeys {
		j := &journeys[i]
		if j.ID == ev.SourceJourneyID {
			// A journey's own tag action must not re-trigger it.
			continue
		}
		if !j.MatchesEvent(ev) {
			continue
		}
		if _, err := s.enroll(ctx, j, contact, at, ev.Depth); err != nil {
			s.log.Error("enroll failed", "journey_id", j.ID, "contact_id", contact.ID, "error", err)
		}
	}
	return nil
}

// EnrollManually enrolls a contact into a journey directly, bypassing event
// matching. The same dedup and subscription rules apply.
func (s *Service) EnrollManually(ctx context.Context, journeyID, contactID uuid.UUID) (*domain.Enrollment, error) {
	j, err := s.repo.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if j.Status != domain.JourneyActive {
		return nil, ErrJourneyNotActive
	}
	contact, err := s.repo.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.Status != domain.ContactSubscribed {
		return nil, fmt.Errorf("contact is %s and cannot be enrolled", contact.Status)
	}
	return s.enroll(ctx, j, contact, s.now(), 0)
}

// ExitContact exits all of a contact's active enrollments across journeys.
// Called when a contact unsubscribes or hard bounces.
func (s *Service) ExitContact(ctx context.Context, contactID uuid.UUID, reason string) (int, error) {
	return s.repo.ExitContactEnrollments(ctx, contactID, reason)
}

// enroll creates a deduplicated enrollment. Returns (nil, nil) when the
// enrollment was skipped by the dedup or re-entry rules.
func (s *Service) enroll(ctx context.Context, j *domain.Journey, contact *domain.Contact, at time.Time, depth int) (*domain.Enrollment, error) {
	active, err := s.repo.ActiveEnrollmentExists(ctx, j.ID, contact.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, nil
	}
	if !j.AllowReentry {
		prior, err := s.repo.EnrollmentExists(ctx, j.ID, contact.ID)
		if err != nil {
			return nil, err
		}
		if prior {
			return nil, nil
		}
	}

	due := at
	if first := j.Step(1); first != nil {
		due = at.Add(time.Duration(first.DelayDays) * 24 * time.Hour)
	}

	e := &domain.Enrollment{
		ID:            uuid.New(),
		JourneyID:     j.ID,
		ContactID:     contact.ID,
		CurrentStep:   0,
		Status:        domain.EnrollmentActive,
		EnrolledAt:    at,
		NextStepDueAt: &due,
		TriggerDepth:  depth,
	}
	if err := s.repo.CreateEnrollment(ctx, e); err != nil {
		// A concurrent enrollment for the same pair is not an error: the
		// dedup invariant held, someone else created it first.
		if errors.Is(err, ErrDuplicateActive) {
			return nil, nil
		}
		return nil, err
	}

	s.log.Info("contact enrolled", "journey_id", j.ID, "contact_id", contact.ID, "due_at", due)
	return e, nil
}
