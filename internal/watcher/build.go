package watcher

import (
	"fmt"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/alanmeadows/mrwatch/internal/notify"
	"github.com/alanmeadows/mrwatch/internal/provider"
	"github.com/alanmeadows/mrwatch/internal/provider/ado"
	"github.com/alanmeadows/mrwatch/internal/provider/github"
	"github.com/alanmeadows/mrwatch/internal/provider/gitlab"
	"github.com/alanmeadows/mrwatch/internal/store"
)

// NewBackend builds the platform backend selected by cfg.Kind, or detected
// from cfg.URL when Kind is empty.
func NewBackend(cfg config.PlatformConfig) (provider.Backend, error) {
	gh, err := github.NewBackend(cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}
	glb, err := gitlab.NewBackend(cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}

	// GitLab claims its own configured host, so it is matched last.
	reg := provider.NewRegistry()
	reg.Register(gh)
	reg.Register(ado.NewBackend(cfg.URL, cfg.Token))
	reg.Register(glb)

	return reg.Resolve(cfg.Kind, cfg.URL)
}

// NewNotifiers returns the notifier for CI comment events and the one for
// rebuild outcomes.
func NewNotifiers(cfg config.NotificationsConfig) (comments, rebuilds notify.Notifier) {
	var c, r notify.Multi
	if cfg.IsDesktopEnabled() {
		c = append(c, notify.NewDesktop())
	}
	if cfg.TeamsWebhookURL != "" {
		teams := notify.NewTeams(cfg.TeamsWebhookURL, cfg.Events)
		c = append(c, teams)
		r = append(r, teams)
	}
	c = append(c, notify.Log{})
	r = append(r, notify.Log{})
	return c, r
}

// FromConfig wires a Watcher from configuration. The caller closes the
// returned store after the watcher stops.
func FromConfig(cfg *config.Config) (*Watcher, store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	backend, err := NewBackend(cfg.Platform)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s backend: %w", cfg.Platform.Kind, err)
	}

	st, err := store.Open(cfg.Watch.StateFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state %s: %w", cfg.Watch.StateFile, err)
	}

	comments, rebuilds := NewNotifiers(cfg.Notifications)
	w := New(Options{
		Backend: backend,
		Store:   st,
		Dispatcher: &Dispatcher{
			Backend:        backend,
			Notifier:       comments,
			Rebuilds:       rebuilds,
			FailureMarkers: cfg.Watch.FailureMarkers,
			RebuildComment: cfg.Watch.RebuildComment,
		},
		CIAuthor: cfg.Watch.CIAuthor,
		Mode:     cfg.Watch.WatermarkMode,
		Interval: cfg.Watch.ParsePollInterval(),
	})
	return w, st, nil
}
