// Package notify delivers watcher events to people: desktop pop-ups, a Teams
// channel, or the log.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Event identifies what happened.
type Event string

const (
	EventCIComment        Event = "ci_comment"
	EventRebuildTriggered Event = "rebuild_triggered"
	EventRebuildFailed    Event = "rebuild_failed"
)

// Message carries a single notification.
type Message struct {
	Event Event
	// Title is the short heading, e.g. "MR 42".
	Title string
	// Body is the one-line summary of the comment.
	Body    string
	URL     string
	MRTitle string
	Error   string
}

// Notifier delivers a Message. Failures are reported to the caller, who logs
// them; a notification failure never stops the watcher.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every notifier, logging each failure.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			slog.Warn("notification failed", "event", string(msg.Event), "title", msg.Title, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the structured log.
type Log struct{}

func (Log) Notify(ctx context.Context, msg Message) error {
	attrs := []any{"event", string(msg.Event), "title", msg.Title, "message", msg.Body}
	if msg.URL != "" {
		attrs = append(attrs, "url", msg.URL)
	}
	if msg.Error != "" {
		attrs = append(attrs, "error", msg.Error)
		slog.Warn("notification", attrs...)
		return nil
	}
	slog.Info("notification", attrs...)
	return nil
}
