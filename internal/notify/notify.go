// Package notify posts job and reconciliation outcomes to chat platforms
// (Slack, Discord). Notifications are best-effort: a failed post is logged
// by the caller and never changes the outcome being reported.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Adapter delivers messages to one chat platform.
type Adapter interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one post. Text is the plain fallback; Events render as
// attachments or embeds.
type Message struct {
	ChannelID string // empty means the adapter's default channel
	Text      string
	Events    []Event
}

// Event is a formatted outcome.
type Event struct {
	Title    string
	Body     string
	Severity string // info, warning, error, success
	Color    string // sidebar color, e.g. "#36a64f"
	Fields   []Field
}

// Field is a name/value pair shown on an event.
type Field struct {
	Name  string
	Value string
	Short bool // render side by side
}

// Multi fans a message out to several adapters.
type Multi []Adapter

// Send delivers msg to every adapter and joins their errors.
func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for i, a := range m {
		if err := a.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: adapter %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Nop discards every message. It is used when no platform is configured.
type Nop struct{}

// Send does nothing.
func (Nop) Send(context.Context, Message) error { return nil }

// MockAdapter records sent messages for tests.
type MockAdapter struct {
	mu   sync.Mutex
	sent []Message
	Err  error // returned by Send when set
}

// Send records msg, or returns Err.
func (m *MockAdapter) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// LastSent returns the most recent message, or nil.
func (m *MockAdapter) LastSent() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	msg := m.sent[len(m.sent)-1]
	return &msg
}

// SentCount returns the number of messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent messages.
func (m *MockAdapter) AllSent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
