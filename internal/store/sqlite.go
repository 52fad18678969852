package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps one row per MR in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return openSQLiteDSN(dsn, path)
}

func openSQLiteDSN(dsn, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// runMigrations applies all pending migrations embedded in the binary.
func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(ctx context.Context) WatchState {
	state, err := s.load(ctx)
	if err != nil {
		slog.Warn("state unreadable, starting empty", "path", s.path, "error", err)
		return NewWatchState()
	}
	return state
}

func (s *SQLiteStore) load(ctx context.Context) (WatchState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mr_key, active_title, web_url, last_seen, last_note,
		       skip_rebuild, iid, project, last_checked
		FROM mr_records`)
	if err != nil {
		return nil, fmt.Errorf("query mr_records: %w", err)
	}
	defer rows.Close()

	state := NewWatchState()
	for rows.Next() {
		var (
			key, lastSeen, lastChecked string
			rec                        MRRecord
		)
		if err := rows.Scan(&key, &rec.Title, &rec.WebURL, &lastSeen, &rec.LastNote,
			&rec.SkipRebuild, &rec.IID, &rec.Project, &lastChecked); err != nil {
			return nil, fmt.Errorf("scan mr_records: %w", err)
		}
		if rec.LastSeen, err = ParseWatermark(lastSeen); err != nil {
			return nil, fmt.Errorf("record %s: %w", key, err)
		}
		if lastChecked != "" {
			if rec.LastChecked, err = time.Parse(time.RFC3339Nano, lastChecked); err != nil {
				return nil, fmt.Errorf("record %s: parsing last_checked: %w", key, err)
			}
		}
		state[key] = rec
	}
	return state, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, state WatchState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mr_records (mr_key, active_title, web_url, last_seen, last_note,
		                        skip_rebuild, iid, project, last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mr_key) DO UPDATE SET
			active_title = excluded.active_title,
			web_url      = excluded.web_url,
			last_seen    = excluded.last_seen,
			last_note    = excluded.last_note,
			skip_rebuild = excluded.skip_rebuild,
			iid          = excluded.iid,
			project      = excluded.project,
			last_checked = excluded.last_checked`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, key := range state.Keys() {
		rec := state[key]
		lastChecked := ""
		if !rec.LastChecked.IsZero() {
			lastChecked = rec.LastChecked.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx, key, rec.Title, rec.WebURL, rec.LastSeen.String(),
			rec.LastNote, rec.SkipRebuild, rec.IID, rec.Project, lastChecked); err != nil {
			return fmt.Errorf("upsert record %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}
