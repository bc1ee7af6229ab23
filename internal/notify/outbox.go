package notify

import (
	"context"
	"sync"
	"time"
)

// Outbox keeps delivered messages in memory so local development and tests
// can read tokens that would have been emailed. Not used in production.
type Outbox struct {
	mu       sync.RWMutex
	messages []Message
	nowF     func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{nowF: func() time.Time { return time.Now().UTC() }}
}

// WithClock sets the time source used to skip expired messages.
func (o *Outbox) WithClock(now func() time.Time) *Outbox {
	o.nowF = now
	return o
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

func (o *Outbox) Close() error { return nil }

// List returns unexpired messages for recipient, oldest first. An empty
// recipient lists every message.
func (o *Outbox) List(recipient string) []Message {
	now := o.nowF()
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []Message
	for _, m := range o.messages {
		if recipient != "" && m.Recipient != recipient {
			continue
		}
		if !m.ExpiresAt.IsZero() && !m.ExpiresAt.After(now) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Latest returns the newest unexpired message of kind for recipient.
func (o *Outbox) Latest(recipient string, kind Kind) (Message, bool) {
	msgs := o.List(recipient)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == kind {
			return msgs[i], true
		}
	}
	return Message{}, false
}
