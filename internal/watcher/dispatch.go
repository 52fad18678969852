package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanmeadows/mrwatch/internal/markdown"
	"github.com/alanmeadows/mrwatch/internal/notify"
	"github.com/alanmeadows/mrwatch/internal/provider"
)

// Dispatcher performs the side effects of one detected CI note: a
// notification and, for failed builds, a rebuild comment.
type Dispatcher struct {
	Backend provider.Backend
	// Notifier receives exactly one ci_comment message per event.
	Notifier notify.Notifier
	// Rebuilds, if set, hears about rebuild comments posted or failed.
	Rebuilds       notify.Notifier
	FailureMarkers []string
	RebuildComment string
}

// IsFailure reports whether body contains one of the failure markers.
func (d *Dispatcher) IsFailure(body string) bool {
	for _, m := range d.FailureMarkers {
		if m != "" && strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// Dispatch notifies about ev and posts the rebuild comment when ev reports a
// failed build and skipRebuild is false. Notification errors are dropped;
// notify.Multi logs each one. A failed post is returned and not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, mr *provider.MergeRequest, skipRebuild bool, ev provider.Note) error {
	title := "MR " + strconv.FormatInt(mr.IID, 10)
	summary := markdown.Summary(ev.Body)

	if d.Notifier != nil {
		_ = d.Notifier.Notify(ctx, notify.Message{
			Event:   notify.EventCIComment,
			Title:   title,
			Body:    summary,
			URL:     mr.WebURL,
			MRTitle: mr.Title,
		})
	}

	if !d.IsFailure(ev.Body) {
		return nil
	}
	if skipRebuild {
		slog.Info("build failed, rebuild skipped for this MR", "mr", mr.IID)
		return nil
	}

	slog.Info("build failed, triggering rebuild", "mr", mr.IID, "comment", d.RebuildComment)
	if err := d.Backend.PostNote(ctx, mr, d.RebuildComment); err != nil {
		d.notifyRebuild(ctx, notify.Message{
			Event:   notify.EventRebuildFailed,
			Title:   title,
			Body:    summary,
			URL:     mr.WebURL,
			MRTitle: mr.Title,
			Error:   err.Error(),
		})
		return fmt.Errorf("posting rebuild comment on MR %d: %w", mr.IID, err)
	}

	d.notifyRebuild(ctx, notify.Message{
		Event:   notify.EventRebuildTriggered,
		Title:   title,
		Body:    d.RebuildComment,
		URL:     mr.WebURL,
		MRTitle: mr.Title,
	})
	return nil
}

func (d *Dispatcher) notifyRebuild(ctx context.Context, msg notify.Message) {
	if d.Rebuilds == nil {
		return
	}
	_ = d.Rebuilds.Notify(ctx, msg)
}
