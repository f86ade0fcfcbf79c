// Package notification forwards scrape lifecycle events to the account
// holder's channel. Only a logging sink exists today.
package notification

import (
	"context"
	"log/slog"
)

const (
	// KindOTPRequired tells the account holder a one-time code is on its way
	// and must be submitted before the session idles out.
	KindOTPRequired = "otp_required"
	// KindSessionEvicted tells the account holder an abandoned login was closed.
	KindSessionEvicted = "session_evicted"
)

// Message is a single event addressed to an identity.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers messages. Implementations must not block for long.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, message Message) error

// Send calls f.
func (f Func) Send(ctx context.Context, message Message) error { return f(ctx, message) }

// LoggerNotifier writes messages to the structured log.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send logs the message. A nil notifier or logger drops it.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}
