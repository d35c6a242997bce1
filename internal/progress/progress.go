// Package progress keeps a per-agent tally of exploration runs in a
// sqlite database shared by every worker on the host.
package progress

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// FileName is the default database name inside the persist directory.
const FileName = "progress.db"

// Row is one agent's progress.
type Row struct {
	Agent     string
	Runs      int
	Images    int
	LastRunAt time.Time
}

// Tracker records completed runs.
type Tracker struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure progress database: %w", err)
		}
	}

	t := &Tracker{db: db, path: path}
	if err := t.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

// Path returns the database file path.
func (t *Tracker) Path() string { return t.path }

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

func (t *Tracker) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress (
		agent TEXT PRIMARY KEY,
		runs INTEGER NOT NULL DEFAULT 0,
		images INTEGER NOT NULL DEFAULT 0,
		last_run_at INTEGER NOT NULL
	);
	`
	if _, err := t.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create progress schema: %w", err)
	}
	return nil
}

// RecordRun adds one run with images new images to agent's row.
func (t *Tracker) RecordRun(ctx context.Context, agent string, images int, at time.Time) error {
	if agent == "" {
		return errors.NewValidationError("agent is empty").WithField("agent")
	}
	if images < 0 {
		return errors.NewValidationError("image count must not be negative").WithField("images").WithValue(images)
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO progress (agent, runs, images, last_run_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET
			runs = runs + 1,
			images = images + excluded.images,
			last_run_at = MAX(last_run_at, excluded.last_run_at)
	`, agent, images, at.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to record run for %s: %w", agent, err)
	}
	return nil
}

// Get returns agent's row. The second result is false when the agent has
// no recorded runs.
func (t *Tracker) Get(ctx context.Context, agent string) (Row, bool, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT agent, runs, images, last_run_at FROM progress WHERE agent = ?`, agent)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to read progress for %s: %w", agent, err)
	}
	return r, true, nil
}

// List returns every row ordered by agent name.
func (t *Tracker) List(ctx context.Context) ([]Row, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT agent, runs, images, last_run_at FROM progress ORDER BY agent`)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return out, nil
}

// Reset removes agent's row.
func (t *Tracker) Reset(ctx context.Context, agent string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM progress WHERE agent = ?`, agent); err != nil {
		return fmt.Errorf("failed to reset progress for %s: %w", agent, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (Row, error) {
	var (
		r  Row
		us int64
	)
	if err := s.Scan(&r.Agent, &r.Runs, &r.Images, &us); err != nil {
		return Row{}, err
	}
	r.LastRunAt = time.UnixMicro(us)
	return r, nil
}
