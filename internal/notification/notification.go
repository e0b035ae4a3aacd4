package notification

import (
	"context"
	"errors"
	"log/slog"
)

const (
	// KindOTP marks a one-time passcode email.
	KindOTP = "otp"
)

// ErrNoDestination is returned when a message has no recipient address.
var ErrNoDestination = errors.New("notification has no destination")

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Subject     string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger instead of delivering
// them. It stands in for SMTP in development.
type LoggerNotifier struct {
	logger *slog.Logger
}

func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send logs the message envelope. The body carries the code, so it is only
// emitted at debug level.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if message.Destination == "" {
		return ErrNoDestination
	}
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification", "kind", message.Kind, "destination", message.Destination, "subject", message.Subject)
	n.logger.DebugContext(ctx, "notification body", "destination", message.Destination, "body", message.Body)
	return nil
}
