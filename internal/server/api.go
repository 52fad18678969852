package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanmeadows/mrwatch/internal/store"
	"github.com/alanmeadows/mrwatch/internal/watcher"
)

// requestTimeout bounds how long a handler waits for the loop to finish its
// current cycle and serve the request.
const requestTimeout = 25 * time.Second

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Status    watcher.State `json:"status"`
	User      string        `json:"user,omitempty"`
	Uptime    string        `json:"uptime"`
	LastCycle time.Time     `json:"last_cycle,omitzero"`
	Cycles    int           `json:"cycles"`
	Tracked   int           `json:"tracked"`
}

// SkipRebuildRequest is the JSON body for PUT /mrs/{key}/skip-rebuild.
type SkipRebuildRequest struct {
	Skip bool `json:"skip"`
}

type api struct {
	c   Controller
	now func() time.Time
}

// NewHandler returns the control API routes for c.
func NewHandler(c Controller) http.Handler {
	a := &api{c: c, now: time.Now}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /mrs", a.handleListMRs)
	mux.HandleFunc("POST /poll", a.handlePoll)
	mux.HandleFunc("PUT /mrs/{key}/skip-rebuild", a.handleSkipRebuild)
	return mux
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.c.Status()

	var uptime time.Duration
	if !st.StartedAt.IsZero() {
		uptime = a.now().Sub(st.StartedAt).Round(time.Second)
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    st.State,
		User:      st.User,
		Uptime:    uptime.String(),
		LastCycle: st.LastCycle,
		Cycles:    st.Cycles,
		Tracked:   st.Tracked,
	})
}

func (a *api) handleListMRs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	state, err := a.c.Snapshot(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if state == nil {
		state = store.NewWatchState()
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *api) handlePoll(w http.ResponseWriter, r *http.Request) {
	a.c.Trigger()
	slog.Info("poll requested via API")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (a *api) handleSkipRebuild(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "MR key required", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req SkipRebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := a.c.SetSkipRebuild(ctx, key, req.Skip); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "skip_rebuild": req.Skip})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, watcher.ErrUnknownMR):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, watcher.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "watcher busy, try again", http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
