package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus tracks the one-shot bulk send lifecycle. Journey steps reuse
// a campaign's content without touching its status: each step execution is
// its own send event.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
)

// Campaign is a piece of sendable content: a subject plus HTML/text bodies,
// optionally segmented by tags at send time.
type Campaign struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Subject         string         `json:"subject" db:"subject"`
	HTMLContent     string         `json:"html_content" db:"html_content"`
	TextContent     string         `json:"text_content,omitempty" db:"text_content"`
	Status          CampaignStatus `json:"status" db:"status"`
	Tags            []string       `json:"tags,omitempty" db:"tags"`
	TotalRecipients int            `json:"total_recipients" db:"total_recipients"`
	SentAt          *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}
