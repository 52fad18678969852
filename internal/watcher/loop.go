// Package watcher polls a review platform for CI comments on the user's
// merge requests and reacts to each new one exactly once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/alanmeadows/mrwatch/internal/provider"
	"github.com/alanmeadows/mrwatch/internal/store"
)

// ErrUnknownMR is returned by control requests naming an MR with no record.
var ErrUnknownMR = errors.New("no record for merge request")

// ErrStopped is returned by control requests once the watcher has stopped.
var ErrStopped = errors.New("watcher is not running")

// State is the lifecycle state of a Watcher.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Clock abstracts time so tests can drive cycles without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Options configures a Watcher.
type Options struct {
	Backend    provider.Backend
	Store      store.Store
	Dispatcher *Dispatcher
	CIAuthor   string
	Mode       config.WatermarkMode
	Interval   time.Duration
	// Clock defaults to the wall clock.
	Clock Clock
}

// Status is a point-in-time view of the watcher for the control API.
type Status struct {
	State     State     `json:"state"`
	User      string    `json:"user,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	LastCycle time.Time `json:"last_cycle,omitzero"`
	Cycles    int       `json:"cycles"`
	Tracked   int       `json:"tracked"`
}

// request is a control operation executed by the loop goroutine, which owns
// the WatchState. changed reports whether the state must be saved.
type request struct {
	apply func(store.WatchState) (changed bool, err error)
	done  chan error
}

// Watcher runs the poll loop. A Watcher is single-use: call Run or RunOnce once.
type Watcher struct {
	backend    provider.Backend
	store      store.Store
	dispatcher *Dispatcher
	ciAuthor   string
	mode       config.WatermarkMode
	interval   time.Duration
	clock      Clock

	trigger  chan struct{}
	requests chan request
	stopped  chan struct{}

	mu     sync.Mutex
	status Status
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	mode := opts.Mode
	if mode == "" {
		mode = config.WatermarkSequential
	}
	return &Watcher{
		backend:    opts.Backend,
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		ciAuthor:   opts.CIAuthor,
		mode:       mode,
		interval:   interval,
		clock:      clock,
		trigger:    make(chan struct{}, 1),
		requests:   make(chan request),
		stopped:    make(chan struct{}),
		status:     Status{State: StateStopped},
	}
}

// Run polls until ctx is cancelled or the platform rejects the credentials.
// Cancellation returns nil. State is saved on every exit path.
func (w *Watcher) Run(ctx context.Context) error {
	return w.run(ctx, false)
}

// RunOnce performs a single poll cycle and saves the state.
func (w *Watcher) RunOnce(ctx context.Context) error {
	return w.run(ctx, true)
}

// Trigger asks the loop to start the next cycle now. It never blocks.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
		slog.Debug("poll trigger sent")
	default:
		// Already triggered.
	}
}

// Status returns the current loop status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Snapshot returns a copy of the in-memory state. It is served between cycles.
func (w *Watcher) Snapshot(ctx context.Context) (store.WatchState, error) {
	var out store.WatchState
	err := w.do(ctx, func(state store.WatchState) (bool, error) {
		out = state.Clone()
		return false, nil
	})
	return out, err
}

// SetSkipRebuild sets the skip flag of an existing record and saves the state.
func (w *Watcher) SetSkipRebuild(ctx context.Context, key string, skip bool) error {
	return w.do(ctx, func(state store.WatchState) (bool, error) {
		rec, ok := state[key]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownMR, key)
		}
		if rec.SkipRebuild == skip {
			return false, nil
		}
		rec.SkipRebuild = skip
		state[key] = rec
		slog.Info("skip_rebuild updated", "key", key, "skip", skip)
		return true, nil
	})
}

func (w *Watcher) do(ctx context.Context, apply func(store.WatchState) (bool, error)) error {
	req := request{apply: apply, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) run(ctx context.Context, once bool) error {
	release, err := store.AcquireInstanceLock(w.store.Path())
	if err != nil {
		return err
	}
	defer release()
	defer close(w.stopped)

	w.setStatus(func(s *Status) {
		s.State = StateRunning
		s.StartedAt = w.clock.Now().UTC()
	})
	defer w.setStatus(func(s *Status) { s.State = StateStopped })

	state := w.store.Load(ctx)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("watcher panicked, saving state", "panic", r)
			w.save(ctx, state, "final")
			panic(r)
		}
	}()

	user, err := w.backend.CurrentUser(ctx)
	if err != nil {
		slog.Error("failed to resolve current user", "error", err)
		w.save(ctx, state, "final")
		return fmt.Errorf("resolving current user: %w", err)
	}
	w.setStatus(func(s *Status) {
		s.User = user.Username
		s.Tracked = len(state)
	})
	slog.Info("watcher started",
		"user", user.Username,
		"interval", w.interval,
		"mode", string(w.mode),
		"tracked", len(state))

	for {
		if err := w.cycle(ctx, user, state); err != nil {
			slog.Error("platform rejected credentials, stopping watcher", "error", err)
			w.save(ctx, state, "final")
			return err
		}
		w.save(ctx, state, "cycle")

		if once {
			return nil
		}
		if !w.wait(ctx, state) {
			slog.Info("watcher stopped")
			w.save(ctx, state, "final")
			return nil
		}
	}
}

// cycle polls every assigned MR once. Only authentication failures are
// returned; anything else is logged and left for the next cycle.
func (w *Watcher) cycle(ctx context.Context, user *provider.User, state store.WatchState) error {
	slog.Info("poll cycle started", "tracked", len(state))

	mrs, err := w.backend.ListAssignedMRs(ctx, user)
	if err != nil {
		if errors.Is(err, provider.ErrUnauthorized) {
			return err
		}
		if ctx.Err() == nil {
			slog.Error("failed to list assigned merge requests", "error", err)
		}
		return nil
	}

	events := 0
	for i := range mrs {
		// Bail between MRs if we're shutting down.
		if ctx.Err() != nil {
			break
		}
		mr := &mrs[i]

		// A started MR runs to completion even if ctx is cancelled meanwhile.
		n, err := w.processMR(context.WithoutCancel(ctx), mr, state)
		events += n
		if n > 0 {
			w.save(ctx, state, "checkpoint")
		}
		if err != nil {
			if errors.Is(err, provider.ErrUnauthorized) {
				return err
			}
			slog.Error("failed to process merge request", "mr", mr.IID, "key", mr.Key(), "error", err)
		}
	}

	w.setStatus(func(s *Status) {
		s.LastCycle = w.clock.Now().UTC()
		s.Cycles++
		s.Tracked = len(state)
	})
	slog.Info("poll cycle complete", "mrs", len(mrs), "events", events)
	return nil
}

// processMR detects and dispatches new CI notes for mr and merges the result
// into state. It returns the number of events dispatched.
func (w *Watcher) processMR(ctx context.Context, mr *provider.MergeRequest, state store.WatchState) (int, error) {
	notes, err := w.backend.ListNotes(ctx, mr)
	if err != nil {
		return 0, fmt.Errorf("listing notes: %w", err)
	}

	key := mr.Key()
	rec, ok := state[key]
	if !ok {
		rec = adoptLegacy(state, mr)
	}
	det := Detect(notes, rec, w.ciAuthor, w.mode)

	var errs []error
	for _, ev := range det.Events {
		if err := w.dispatcher.Dispatch(ctx, mr, rec.SkipRebuild, ev); err != nil {
			errs = append(errs, err)
		}
	}

	rec.Title = mr.Title
	rec.WebURL = mr.WebURL
	rec.IID = mr.IID
	rec.Project = mr.Project
	rec.LastChecked = w.clock.Now().UTC()
	rec.LastNote = det.LastNote
	if det.LastSeen.After(rec.LastSeen) {
		rec.LastSeen = det.LastSeen
	}
	state[key] = rec

	if len(det.Events) > 0 {
		slog.Debug("watermark advanced", "mr", mr.IID, "last_seen", rec.LastSeen.String(), "events", len(det.Events))
	}
	return len(det.Events), errors.Join(errs...)
}

// adoptLegacy returns the record older versions stored under the MR's
// project-scoped number, removing it from state so no other MR sharing that
// number can claim it. Records that carry an identity were written under the
// current keying and are left alone.
func adoptLegacy(state store.WatchState, mr *provider.MergeRequest) store.MRRecord {
	legacy := strconv.FormatInt(mr.IID, 10)
	if legacy == mr.Key() {
		return store.MRRecord{}
	}
	rec, ok := state[legacy]
	if !ok || rec.IID != 0 || rec.Project != "" {
		return store.MRRecord{}
	}
	delete(state, legacy)
	slog.Info("adopted legacy state record", "mr", mr.IID, "key", mr.Key())
	return rec
}

// wait blocks for the poll interval, serving control requests meanwhile.
// It returns false when ctx is cancelled.
func (w *Watcher) wait(ctx context.Context, state store.WatchState) bool {
	if ctx.Err() != nil {
		return false
	}
	timer := w.clock.After(w.interval)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case <-w.trigger:
			slog.Info("immediate poll triggered")
			return true
		case req := <-w.requests:
			changed, err := req.apply(state)
			if err == nil && changed {
				w.save(ctx, state, "control")
			}
			req.done <- err
		}
	}
}

// save persists state, ignoring cancellation of ctx. Failures are logged; the
// next save retries with the full state.
func (w *Watcher) save(ctx context.Context, state store.WatchState, reason string) {
	if err := w.store.Save(context.WithoutCancel(ctx), state); err != nil {
		slog.Error("failed to save state", "reason", reason, "path", w.store.Path(), "error", err)
		return
	}
	slog.Debug("state saved", "reason", reason, "records", len(state))
}

func (w *Watcher) setStatus(fn func(*Status)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.status)
}
