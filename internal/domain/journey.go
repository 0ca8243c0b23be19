package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JourneyStatus is the lifecycle state of a journey definition.
type JourneyStatus string

const (
	JourneyDraft    JourneyStatus = "draft"
	JourneyActive   JourneyStatus = "active"
	JourneyPaused   JourneyStatus = "paused"
	JourneyArchived JourneyStatus = "archived"
)

// journeyTransitions encodes the status machine: draft→active,
// active⇄paused, any→archived. Archived is terminal.
var journeyTransitions = map[JourneyStatus][]JourneyStatus{
	JourneyDraft:  {JourneyActive, JourneyArchived},
	JourneyActive: {JourneyPaused, JourneyArchived},
	JourneyPaused: {JourneyActive, JourneyArchived},
}

// CanTransition reports whether a journey may move from one status to another.
func (s JourneyStatus) CanTransition(to JourneyStatus) bool {
	for _, t := range journeyTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// StepCondition gates step execution on the contact's engagement with the
// previous step's send.
type StepCondition string

const (
	CondAlways            StepCondition = "always"
	CondIfOpenedPrevious  StepCondition = "if_opened_previous"
	CondIfClickedPrevious StepCondition = "if_clicked_previous"
	CondIfNotOpenedPrev   StepCondition = "if_not_opened_previous"
)

// ActionType tags the step action union.
type ActionType string

const (
	ActionSend   ActionType = "send"
	ActionAddTag ActionType = "add_tag"
	ActionWait   ActionType = "wait"
)

// StepAction is a tagged union: exactly one of the payload fields is
// meaningful for a given Type. The scheduler matches on Type exhaustively and
// treats anything else as a hard error rather than guessing.
type StepAction struct {
	Type       ActionType `json:"type"`
	CampaignID uuid.UUID  `json:"campaign_id,omitempty"` // ActionSend
	Tag        string     `json:"tag,omitempty"`         // ActionAddTag
}

// Validate checks the action payload matches its tag.
func (a StepAction) Validate() error {
	switch a.Type {
	case ActionSend:
		if a.CampaignID == uuid.Nil {
			return fmt.Errorf("send action requires a campaign_id")
		}
	case ActionAddTag:
		if a.Tag == "" {
			return fmt.Errorf("add_tag action requires a tag")
		}
	case ActionWait:
		// No payload.
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Step is one position in a journey. DelayDays is relative to completion of
// the previous step (for step 1, relative to enrollment time).
type Step struct {
	Number    int           `json:"number"`
	DelayDays int           `json:"delay_days"`
	Condition StepCondition `json:"condition"`
	Action    StepAction    `json:"action"`
}

// Journey is a reusable definition of a timed, multi-step communication
// sequence. Steps are stored densely numbered 1..N.
type Journey struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	Name            string            `json:"name" db:"name"`
	Status          JourneyStatus     `json:"status" db:"status"`
	Trigger         TriggerType       `json:"trigger" db:"trigger_type"`
	TriggerCriteria map[string]string `json:"trigger_criteria,omitempty" db:"trigger_criteria"`
	AllowReentry    bool              `json:"allow_reentry" db:"allow_reentry"`
	Steps           []Step            `json:"steps" db:"steps"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// Validate enforces the journey invariants: a known entry trigger, step
// numbers forming a dense 1..N sequence, non-negative delays, and well-formed
// actions.
func (j *Journey) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("journey name is required")
	}
	if !ValidTriggerType(j.Trigger) {
		return fmt.Errorf("unknown entry trigger %q", j.Trigger)
	}
	for i, step := range j.Steps {
		if step.Number != i+1 {
			return fmt.Errorf("step numbers must be a dense 1..N sequence: got %d at position %d", step.Number, i+1)
		}
		if step.DelayDays < 0 {
			return fmt.Errorf("step %d: delay_days must be >= 0", step.Number)
		}
		switch step.Condition {
		case CondAlways, CondIfOpenedPrevious, CondIfClickedPrevious, CondIfNotOpenedPrev:
		case "":
			j.Steps[i].Condition = CondAlways
		default:
			return fmt.Errorf("step %d: unknown condition %q", step.Number, step.Condition)
		}
		if err := step.Action.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", step.Number, err)
		}
	}
	return nil
}

// Step returns the step with the given number, or nil past the end.
func (j *Journey) Step(number int) *Step {
	if number < 1 || number > len(j.Steps) {
		return nil
	}
	return &j.Steps[number-1]
}

// MatchesEvent reports whether the event should enroll contacts into this
// journey: trigger types must match and, when criteria are set, every
// criteria pair must appear in the event payload.
func (j *Journey) MatchesEvent(ev TriggerEvent) bool {
	if j.Trigger != ev.Type {
		return false
	}
	for k, want := range j.TriggerCriteria {
		if ev.Payload[k] != want {
			return false
		}
	}
	return true
}

// StepsJSON round-trips the step list for JSONB storage.
func (j *Journey) StepsJSON() ([]byte, error) { return json.Marshal(j.Steps) }
