package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerType enumerates the domain events that can start a journey.
type TriggerType string

const (
	TriggerManual           TriggerType = "manual"
	TriggerTagAdded         TriggerType = "tag_added"
	TriggerCampaignOpened   TriggerType = "campaign_opened"
	TriggerCampaignClicked  TriggerType = "campaign_clicked"
	TriggerContactCreated   TriggerType = "contact_created"
	TriggerBookingCreated   TriggerType = "booking_created"
	TriggerBookingConfirmed TriggerType = "booking_confirmed"
	TriggerCustom           TriggerType = "custom"
)

// ValidTriggerType reports whether t is a known trigger type.
func ValidTriggerType(t TriggerType) bool {
	switch t {
	case TriggerManual, TriggerTagAdded, TriggerCampaignOpened, TriggerCampaignClicked,
		TriggerContactCreated, TriggerBookingCreated, TriggerBookingConfirmed, TriggerCustom:
		return true
	}
	return false
}

// MaxTriggerDepth bounds tag-triggered re-entrancy. A tag action emitted by a
// journey step carries the enrollment's depth + 1; events beyond this depth
// are dropped instead of looping.
const MaxTriggerDepth = 5

// TriggerEvent is a normalized domain event from a collaborator (contact
// created, tag added, campaign engagement, booking) or from a journey step's
// tag action.
type TriggerEvent struct {
	Type       TriggerType       `json:"type"`
	ContactID  uuid.UUID         `json:"contact_id"`
	Payload    map[string]string `json:"payload,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`

	// Depth counts how many journey-emitted events precede this one in the
	// trigger chain. Zero for events from outside collaborators.
	Depth int `json:"depth,omitempty"`

	// SourceJourneyID is set when a journey step emitted this event, so the
	// enrollment manager can refuse to re-trigger the same journey.
	SourceJourneyID uuid.UUID `json:"source_journey_id,omitempty"`
}

// RefCampaign builds the delivery-record reference for a bulk campaign send.
func RefCampaign(campaignID uuid.UUID) string {
	return fmt.Sprintf("campaign:%s", campaignID)
}

// RefJourneyStep builds the delivery-record reference for one journey step.
// All executions of the step across enrollments share the reference, which is
// what step-level analytics and condition evaluation aggregate over.
func RefJourneyStep(journeyID uuid.UUID, stepNumber int) string {
	return fmt.Sprintf("journey:%s:step:%d", journeyID, stepNumber)
}

// DedupKeyCampaign is the per-recipient dedup key for a bulk campaign send.
func DedupKeyCampaign(campaignID, contactID uuid.UUID) string {
	return fmt.Sprintf("campaign:%s:%s", campaignID, contactID)
}

// DedupKeyStep is the dedup key for one enrollment's execution of one step.
// Re-running a claimed tick for the same step must be a no-op.
func DedupKeyStep(enrollmentID uuid.UUID, stepNumber int) string {
	return fmt.Sprintf("enrollment:%s:step:%d", enrollmentID, stepNumber)
}
