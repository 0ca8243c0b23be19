package delivery

import "context"

// Message is one email handed to the mailer capability.
type Message struct {
	To        string
	FromName  string
	FromEmail string
	Subject   string
	HTML      string
	Text      string
	Headers   map[string]string
}

// Mailer is the narrow capability boundary to the sending provider. On
// acceptance it returns the provider's message ID, which later callbacks
// correlate to delivery status changes. Rejections for invalid addresses
// must be wrapped in *PermanentError; everything else is treated as
// transient and retried.
type Mailer interface {
	Send(ctx context.Context, msg *Message) (providerID string, err error)
}
