package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanmeadows/mrwatch/internal/store"
	"github.com/alanmeadows/mrwatch/internal/watcher"
)

// ErrUnavailable means the daemon's control API could not be reached.
var ErrUnavailable = errors.New("daemon control API unavailable")

// Client talks to a running daemon's control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the API listening on addr (host:port or a
// full http:// URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMRs returns the daemon's in-memory state.
func (c *Client) ListMRs(ctx context.Context) (store.WatchState, error) {
	state := store.NewWatchState()
	if err := c.do(ctx, http.MethodGet, "/mrs", nil, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// Poll asks the daemon to start a cycle now.
func (c *Client) Poll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/poll", nil, nil)
}

// SetSkipRebuild sets the skip flag of one MR record.
func (c *Client) SetSkipRebuild(ctx context.Context, key string, skip bool) error {
	return c.do(ctx, http.MethodPut, "/mrs/"+key+"/skip-rebuild", SkipRebuildRequest{Skip: skip}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		text := strings.TrimSpace(string(msg))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", watcher.ErrUnknownMR, text)
		case http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %s", watcher.ErrStopped, text)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, text)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
