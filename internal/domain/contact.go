package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContactStatus is the subscription state of a contact.
type ContactStatus string

const (
	ContactSubscribed   ContactStatus = "subscribed"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
)

// Terminal reports whether the status is one-way. Unsubscribed and bounced
// contacts never transition back to subscribed.
func (s ContactStatus) Terminal() bool {
	return s == ContactUnsubscribed || s == ContactBounced
}

// Contact represents a marketing contact. Email is unique case-insensitively.
// Version backs optimistic concurrency on the tag set, which is mutated both
// by tag-action journey steps and by collaborator events.
type Contact struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Email     string        `json:"email" db:"email"`
	Status    ContactStatus `json:"status" db:"status"`
	Tags      []string      `json:"tags" db:"tags"`
	Source    string        `json:"source,omitempty" db:"source"`
	Version   int           `json:"-" db:"version"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// HasTag reports whether the contact carries the given tag (case-insensitive).
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
