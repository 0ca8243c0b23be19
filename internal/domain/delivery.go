package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the state of one per-recipient send. Transitions are
// strictly forward; a record never regresses.
type DeliveryStatus string

const (
	DeliveryQueued       DeliveryStatus = "queued"
	DeliverySent         DeliveryStatus = "sent"
	DeliveryDelivered    DeliveryStatus = "delivered"
	DeliveryOpened       DeliveryStatus = "opened"
	DeliveryClicked      DeliveryStatus = "clicked"
	DeliveryBounced      DeliveryStatus = "bounced"
	DeliveryUnsubscribed DeliveryStatus = "unsubscribed"
	DeliveryComplained   DeliveryStatus = "complained"
	DeliveryFailed       DeliveryStatus = "failed"
)

// engagementRank orders the happy-path engagement ladder.
var engagementRank = map[DeliveryStatus]int{
	DeliveryQueued:    1,
	DeliverySent:      2,
	DeliveryDelivered: 3,
	DeliveryOpened:    4,
	DeliveryClicked:   5,
}

// CanTransition encodes the forward-only delivery state machine:
// queued→sent→delivered→opened→clicked (forward jumps allowed, since a
// provider may report an open without a prior delivery callback),
// queued/sent→failed, sent→bounced, and any non-terminal
// complaint/unsubscribe path. A regression (e.g. opened→sent) is never
// allowed; callers treat it as a no-op, not an error.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	if s == to {
		return false
	}
	// Complaints and unsubscribes can land on any record that hasn't already
	// terminally complained/unsubscribed.
	if to == DeliveryUnsubscribed || to == DeliveryComplained {
		return s != DeliveryUnsubscribed && s != DeliveryComplained
	}
	if to == DeliveryFailed {
		return s == DeliveryQueued || s == DeliverySent
	}
	if to == DeliveryBounced {
		return s == DeliverySent
	}
	fromRank, toRank := engagementRank[s], engagementRank[to]
	return fromRank > 0 && toRank > fromRank
}

// DeliveryRecord is the append-only per-recipient ledger entry analytics are
// computed from. Ref groups records for one logical send (a campaign or a
// journey step); DedupKey uniquely identifies one send attempt and is the
// idempotency guard.
type DeliveryRecord struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Ref           string         `json:"ref" db:"ref"`
	ContactID     uuid.UUID      `json:"contact_id" db:"contact_id"`
	Email         string         `json:"email" db:"email"`
	DedupKey      string         `json:"dedup_key" db:"dedup_key"`
	Status        DeliveryStatus `json:"status" db:"status"`
	ProviderID    string         `json:"provider_id,omitempty" db:"provider_id"`
	FailureReason string         `json:"failure_reason,omitempty" db:"failure_reason"`
	QueuedAt      time.Time      `json:"queued_at" db:"queued_at"`
	SentAt        *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt      *time.Time     `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt     *time.Time     `json:"clicked_at,omitempty" db:"clicked_at"`
	BouncedAt     *time.Time     `json:"bounced_at,omitempty" db:"bounced_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// ReachedStatus reports whether the record reached at least the target
// status. Engagement milestones are judged by their timestamps, not the
// current status, so a contact who opened and later unsubscribed still
// counts as opened, and a click implies the mail was delivered and opened
// even when the provider skipped the intermediate callbacks.
func (r *DeliveryRecord) ReachedStatus(target DeliveryStatus) bool {
	switch target {
	case DeliveryQueued:
		return true
	case DeliverySent:
		return r.SentAt != nil || r.DeliveredAt != nil || r.OpenedAt != nil || r.ClickedAt != nil
	case DeliveryDelivered:
		return r.DeliveredAt != nil || r.OpenedAt != nil || r.ClickedAt != nil
	case DeliveryOpened:
		return r.OpenedAt != nil || r.ClickedAt != nil
	case DeliveryClicked:
		return r.ClickedAt != nil
	case DeliveryBounced:
		return r.BouncedAt != nil
	default:
		return r.Status == target
	}
}

// ApplyTransition moves the record forward to the given status, stamping the
// matching timestamp. Returns false without mutating if the transition would
// regress the record.
func (r *DeliveryRecord) ApplyTransition(to DeliveryStatus, at time.Time) bool {
	if !r.Status.CanTransition(to) {
		return false
	}
	r.Status = to
	switch to {
	case DeliverySent:
		r.SentAt = &at
	case DeliveryDelivered:
		r.DeliveredAt = &at
	case DeliveryOpened:
		r.OpenedAt = &at
	case DeliveryClicked:
		r.ClickedAt = &at
	case DeliveryBounced:
		r.BouncedAt = &at
	}
	r.UpdatedAt = at
	return true
}
