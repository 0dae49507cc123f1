package mailer

import (
	"context"
	"strings"
)

// Logger is the subset of the logging interface the log sender needs
type Logger interface {
	Info(msg string, args ...any)
}

// LogSender writes messages to a logger instead of delivering them.
// Useful for local development.
type LogSender struct {
	logger Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	body := msg.Text
	if body == "" {
		body = msg.HTML
	}

	s.logger.Info("email notification",
		"from", msg.From,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
		"body", body,
	)
	return nil
}
