// Package notify hands one-time tokens to the out-of-band delivery channel
// (email or SMS). Delivery is best-effort and at-least-once; duplicates are
// acceptable.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Kind names the message template a delivery worker should use.
type Kind string

const (
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
	KindPasswordChanged   Kind = "password_changed"
)

// Message is one notification. Token carries the raw one-time token and
// must never be logged.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"user_id"`
	Recipient string    `json:"recipient"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// sendTimeout bounds a single async send.
const sendTimeout = 5 * time.Second

// SendAsync runs n.Send in a goroutine so the caller is not blocked. The
// goroutine uses its own context so request cancellation does not abort
// delivery. Failures are logged without the token.
func SendAsync(n Notifier, msg Message, log zerolog.Logger) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.Send(ctx, msg); err != nil {
			log.Warn().Err(err).
				Str("notification_id", msg.ID).
				Str("kind", string(msg.Kind)).
				Str("user_id", msg.UserID).
				Msg("notification delivery failed")
		}
	}()
}

// Multi sends to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogNotifier records that a message was sent without its token. Used when
// no delivery channel is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (l LogNotifier) Send(_ context.Context, msg Message) error {
	l.Log.Info().
		Str("notification_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("user_id", msg.UserID).
		Time("expires_at", msg.ExpiresAt).
		Msg("notification queued")
	return nil
}

func (LogNotifier) Close() error { return nil }
