// Package server runs the watcher as a long-lived process with a small
// control API, and manages it as a daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/alanmeadows/mrwatch/internal/store"
	"github.com/alanmeadows/mrwatch/internal/watcher"
)

// Controller is the part of the watcher the control API drives.
type Controller interface {
	Status() watcher.Status
	Snapshot(ctx context.Context) (store.WatchState, error)
	SetSkipRebuild(ctx context.Context, key string, skip bool) error
	Trigger()
}

// Run wires a watcher from cfg and serves it until ctx is cancelled or the
// watcher stops on a fatal error.
func Run(ctx context.Context, cfg *config.Config) error {
	w, st, err := watcher.FromConfig(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return Serve(ctx, cfg.Server.Addr, w)
}

// Serve runs w and, when addr is not empty, the control API on addr.
func Serve(ctx context.Context, addr string, w *watcher.Watcher) error {
	var srv *http.Server
	var wg sync.WaitGroup

	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		srv = &http.Server{
			Handler:           NewHandler(w),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("starting control API", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("control API error", "error", err)
			}
		}()
	}

	err := w.Run(ctx)

	if srv != nil {
		slog.Info("shutting down control API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			slog.Warn("control API shutdown error", "error", serr)
		}
	}
	wg.Wait()
	return err
}
