package mailer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
)

// LogMailer logs messages instead of sending them. Used in development and
// as the fallback when no provider is configured.
type LogMailer struct {
	log *logger.Logger

	mu       sync.Mutex
	messages []delivery.Message
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{log: logger.New("mailer")}
}

// Send logs the message and returns a synthetic provider ID.
func (m *LogMailer) Send(_ context.Context, msg *delivery.Message) (string, error) {
	m.mu.Lock()
	m.messages = append(m.messages, *msg)
	m.mu.Unlock()

	id := "log-" + uuid.New().String()
	m.log.Info("message logged instead of sent", "to", msg.To, "subject", msg.Subject, "provider_id", id)
	return id, nil
}

// Sent returns a copy of everything logged so far.
func (m *LogMailer) Sent() []delivery.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]delivery.Message, len(m.messages))
	copy(out, m.messages)
	return out
}
