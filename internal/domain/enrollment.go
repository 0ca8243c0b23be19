package domain

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus is the state of one contact's progress through a journey.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
)

// Exit reasons recorded for operator visibility. Every exited enrollment
// carries one; there is no silent failure.
const (
	ExitReasonCondition     = "step condition not met"
	ExitReasonUnsubscribed  = "contact unsubscribed"
	ExitReasonBounced       = "contact hard bounced"
	ExitReasonArchived      = "journey archived"
	ExitReasonRetryExhaust  = "send retries exhausted"
	ExitReasonUnknownAction = "unknown step action"
)

// Enrollment is one contact's live progress through one journey. At most one
// active enrollment exists per (journey, contact) pair; CurrentStep 0 means
// no step has executed yet.
type Enrollment struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	JourneyID     uuid.UUID        `json:"journey_id" db:"journey_id"`
	ContactID     uuid.UUID        `json:"contact_id" db:"contact_id"`
	CurrentStep   int              `json:"current_step" db:"current_step"`
	Status        EnrollmentStatus `json:"status" db:"status"`
	EnrolledAt    time.Time        `json:"enrolled_at" db:"enrolled_at"`
	NextStepDueAt *time.Time       `json:"next_step_due_at,omitempty" db:"next_step_due_at"`
	ClaimedAt     *time.Time       `json:"-" db:"claimed_at"`
	Attempts      int              `json:"attempts" db:"attempts"`
	TriggerDepth  int              `json:"-" db:"trigger_depth"`
	ExitReason    string           `json:"exit_reason,omitempty" db:"exit_reason"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}
