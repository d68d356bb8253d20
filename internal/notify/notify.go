// Package notify implements the transient, auto-dismissing user notifications
// ("toasts") raised by interactive controls.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity classifies a notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Default display durations per severity.
const (
	DefaultDuration      = 4 * time.Second
	DefaultErrorDuration = 5 * time.Second
)

// Notifier is the sink controls report user-facing outcomes to.
type Notifier interface {
	Success(message string)
	Error(message string)
	Warning(message string)
	Info(message string)
}

// Message is a single notification.
type Message struct {
	ID        string        `json:"id"`
	Severity  Severity      `json:"severity"`
	Text      string        `json:"message"`
	CreatedAt time.Time     `json:"createdAt"`
	Duration  time.Duration `json:"-"`
	// DurationMs mirrors Duration for clients.
	DurationMs int64 `json:"durationMs"`
}

// ExpiresAt is the moment the message dismisses itself.
func (m Message) ExpiresAt() time.Time {
	return m.CreatedAt.Add(m.Duration)
}

// Feed collects notifications for one audience and drops them once they
// expire or are dismissed.
type Feed struct {
	mu   sync.Mutex
	msgs []Message
	now  func() time.Time
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{now: time.Now}
}

func (f *Feed) Success(message string) { f.push(SeveritySuccess, message) }
func (f *Feed) Error(message string)   { f.push(SeverityError, message) }
func (f *Feed) Warning(message string) { f.push(SeverityWarning, message) }
func (f *Feed) Info(message string)    { f.push(SeverityInfo, message) }

func (f *Feed) push(sev Severity, text string) {
	d := DefaultDuration
	if sev == SeverityError {
		d = DefaultErrorDuration
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.prune(now)
	f.msgs = append(f.msgs, Message{
		ID:         uuid.NewString(),
		Severity:   sev,
		Text:       text,
		CreatedAt:  now,
		Duration:   d,
		DurationMs: d.Milliseconds(),
	})
}

// Active returns the messages that have not yet expired, oldest first.
func (f *Feed) Active() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prune(f.now())
	out := make([]Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

// Dismiss removes a message before it expires. It reports whether the
// message was still active.
func (f *Feed) Dismiss(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.msgs {
		if m.ID == id {
			f.msgs = append(f.msgs[:i], f.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// prune drops expired messages; f.mu must be held.
func (f *Feed) prune(now time.Time) {
	kept := f.msgs[:0]
	for _, m := range f.msgs {
		if now.Before(m.ExpiresAt()) {
			kept = append(kept, m)
		}
	}
	f.msgs = kept
}
