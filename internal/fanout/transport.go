package fanout

import (
	"context"

	"github.com/rs/zerolog"
)

// Message is a rendered reminder addressed to one recipient.
type Message struct {
	JobID     string `json:"job_id"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// Transport hands a message to an external carrier. A nil error means the
// carrier accepted it.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// LogTransport accepts every message and logs it. Used when no carrier is
// configured for a channel.
type LogTransport struct {
	log zerolog.Logger
}

// NewLogTransport creates a logging transport.
func NewLogTransport(log zerolog.Logger) *LogTransport {
	return &LogTransport{log: log}
}

// Send implements Transport.
func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.log.Info().
		Str("job_id", msg.JobID).
		Str("channel", msg.Channel).
		Str("recipient", msg.Recipient).
		Str("subject", msg.Subject).
		Int("body_len", len(msg.Body)).
		Msg("delivered reminder to log transport")
	return nil
}
