package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store persists WatchState between cycles and across restarts.
type Store interface {
	// Load returns the persisted state. Missing or unreadable storage yields
	// an empty state; Load never fails.
	Load(ctx context.Context) WatchState
	// Save replaces the persisted state atomically.
	Save(ctx context.Context, state WatchState) error
	Path() string
	Close() error
}

// Open returns the backend for path, chosen by file extension:
// .yaml/.yml for YAML, .db/.sqlite/.sqlite3 for SQLite, JSON otherwise.
func Open(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("state file path is empty")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return &FileStore{path: path, codec: yamlCodec{}}, nil
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return &FileStore{path: path, codec: jsonCodec{}}, nil
	}
}

// Update loads the state, applies fn and saves the result.
func Update(ctx context.Context, s Store, fn func(WatchState) error) error {
	state := s.Load(ctx)
	if err := fn(state); err != nil {
		return err
	}
	return s.Save(ctx, state)
}

type codec interface {
	marshal(WatchState) ([]byte, error)
	unmarshal([]byte) (WatchState, error)
}

type jsonCodec struct{}

func (jsonCodec) marshal(s WatchState) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (jsonCodec) unmarshal(data []byte) (WatchState, error) {
	state := NewWatchState()
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state == nil {
		state = NewWatchState()
	}
	return state, nil
}

type yamlCodec struct{}

func (yamlCodec) marshal(s WatchState) ([]byte, error) {
	return yaml.Marshal(map[string]MRRecord(s))
}

func (yamlCodec) unmarshal(data []byte) (WatchState, error) {
	state := NewWatchState()
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state == nil {
		state = NewWatchState()
	}
	return state, nil
}

// FileStore keeps the whole state in a single human-readable file.
type FileStore struct {
	path  string
	codec codec
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Load(ctx context.Context) WatchState {
	if !Exists(s.path) {
		slog.Debug("no prior state, starting empty", "path", s.path)
		return NewWatchState()
	}

	var data []byte
	err := WithReadLock(s.path, DefaultLockTimeout, func() error {
		var readErr error
		data, readErr = os.ReadFile(s.path)
		return readErr
	})
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("no prior state, starting empty", "path", s.path)
		return NewWatchState()
	}
	if err != nil {
		slog.Warn("state unreadable, starting empty", "path", s.path, "error", err)
		return NewWatchState()
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return NewWatchState()
	}

	state, err := s.codec.unmarshal(data)
	if err != nil {
		slog.Warn("state corrupt, starting empty", "path", s.path, "error", err)
		return NewWatchState()
	}
	return state
}

func (s *FileStore) Save(ctx context.Context, state WatchState) error {
	if state == nil {
		state = NewWatchState()
	}
	data, err := s.codec.marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", s.path, err)
		}
	}
	return WithLock(s.path, DefaultLockTimeout, func() error {
		if err := atomicWriteFile(s.path, data, 0644); err != nil {
			return fmt.Errorf("writing state %s: %w", s.path, err)
		}
		return nil
	})
}

// atomicWriteFile writes data to a temp file then renames it into place,
// preventing partial writes on crash or disk-full.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Exists checks if a file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
