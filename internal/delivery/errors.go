package delivery

import (
	"errors"
	"fmt"
)

// Sentinel errors for the delivery pipeline.
var (
	// ErrMissingUnsubscribeLink blocks any send whose rendered HTML lacks
	// the unsubscribe URL. Never retried.
	ErrMissingUnsubscribeLink = errors.New("rendered html is missing the unsubscribe link")

	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrCampaignAlreadySent = errors.New("campaign has already been sent")
	ErrDeliveryNotFound    = errors.New("delivery record not found")
)

// PermanentError marks a mailer rejection that must not be retried: an
// invalid address or a hard bounce at submission time. The pipeline marks
// the contact bounced and the scheduler exits the enrollment instead of
// rescheduling.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %s", e.Reason)
}

// IsPermanent reports whether err wraps a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
