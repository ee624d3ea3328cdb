/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	applog "artemisport/internal/log"
	"artemisport/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// JournalFileName is created inside the workspace state dir.
	JournalFileName = "journal.sqlite"

	// schemaVersion tracks the journal schema.
	// Bump this when you perform breaking schema changes and add migrations.
	schemaVersion = 2
)

// Item statuses as stored in the journal.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Journal is an open run journal.
type Journal struct {
	db   *sql.DB
	path string
}

// Run is one stage execution.
type Run struct {
	ID          string
	Stage       string
	App         string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running or after a crash
	Total       int
	Succeeded   int
	Skipped     int
	Failed      int
	Interrupted bool
}

// Item is the recorded outcome of one file.
type Item struct {
	Path       string
	Output     string
	Status     string
	Category   string
	Message    string
	InputHash  string
	OutputHash string
	Duration   time.Duration
	RecordedAt time.Time
}

// Summary holds the final counts of a run.
type Summary struct {
	Total       int
	Succeeded   int
	Skipped     int
	Failed      int
	Interrupted bool
}

// JournalPath returns the journal file inside dir.
func JournalPath(dir string) string { return filepath.Join(dir, JournalFileName) }

// OpenJournal creates dir if needed, opens the SQLite journal in WAL mode and
// brings its schema up to date. A journal that cannot be initialised is backed
// up next to itself as .xz and recreated once.
func OpenJournal(dir string) (*Journal, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "journal_open").With(slog.String("dir", dir))
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("journal dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.Error("create journal dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	path := JournalPath(dir)
	db, err := initJournal(path)
	if err == nil {
		l.Debug("journal ready", slog.String("path", path))
		return &Journal{db: db, path: path}, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, err
	}
	l.Warn("journal unusable, recreating", slog.Any("err", err))
	if bak, berr := BackupXZ(path, filepath.Join(dir, "backups")); berr != nil {
		l.Warn("journal backup failed", slog.Any("err", berr))
	} else {
		l.Info("journal backed up", slog.String("backup", bak))
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
	db, err = initJournal(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

func initJournal(path string) (*sql.DB, error) {
	// Pragmas in the DSN apply to every pooled connection. Forward slashes for the SQLite URI.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureJournalSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// a fresh journal starts at schema 1 and migrates forward
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// ensureJournalSchema creates the schema-1 tables.
func ensureJournalSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT    PRIMARY KEY,
			stage        TEXT    NOT NULL,
			app          TEXT,
			started_at   TEXT    NOT NULL,
			finished_at  TEXT,
			total        INTEGER NOT NULL DEFAULT 0,
			succeeded    INTEGER NOT NULL DEFAULT 0,
			skipped      INTEGER NOT NULL DEFAULT 0,
			failed       INTEGER NOT NULL DEFAULT 0,
			interrupted  INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS items (
			id           INTEGER PRIMARY KEY,
			run_id       TEXT    NOT NULL,
			path         TEXT    NOT NULL,
			output       TEXT,
			status       TEXT    NOT NULL,
			category     TEXT,
			message      TEXT,
			input_hash   TEXT,
			output_hash  TEXT,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			recorded_at  TEXT    NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_run ON items(run_id);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// written by a newer build; do not downgrade
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			// lookup of the last good output hash per file
			stmts = []string{`CREATE INDEX IF NOT EXISTS idx_items_output ON items(output, status);`}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// Path is the journal database file.
func (j *Journal) Path() string { return j.path }

// Close releases the database.
func (j *Journal) Close() error { return j.db.Close() }

// SchemaVersion reports the schema the journal is at.
func (j *Journal) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := j.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v)
	return v, err
}

// BeginRun records the start of a stage and returns the new run id.
func (j *Journal) BeginRun(ctx context.Context, stage string) (string, error) {
	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, app, started_at) VALUES (?, ?, ?, ?)`,
		id, stage, version.String(), formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// RecordItem stores the outcome of one file of a run.
func (j *Journal) RecordItem(ctx context.Context, runID string, it Item) error {
	at := it.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO items (run_id, path, output, status, category, message, input_hash, output_hash, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, it.Path, it.Output, it.Status, it.Category, it.Message, it.InputHash, it.OutputHash,
		it.Duration.Milliseconds(), formatTime(at))
	if err != nil {
		return fmt.Errorf("record item %s: %w", it.Path, err)
	}
	return nil
}

// FinishRun stores the final counts of a run.
func (j *Journal) FinishRun(ctx context.Context, runID string, s Summary) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at=?, total=?, succeeded=?, skipped=?, failed=?, interrupted=? WHERE id=?`,
		formatTime(time.Now()), s.Total, s.Succeeded, s.Skipped, s.Failed, boolInt(s.Interrupted), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %s", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first; limit <= 0 returns all.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, stage, COALESCE(app,''), started_at, COALESCE(finished_at,''), total, succeeded, skipped, failed, interrupted
	      FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			interrupted       int
		)
		if err := rows.Scan(&r.ID, &r.Stage, &r.App, &started, &finished, &r.Total, &r.Succeeded, &r.Skipped, &r.Failed, &interrupted); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Interrupted = interrupted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunItems returns the items of a run in the order they were recorded.
func (j *Journal) RunItems(ctx context.Context, runID string) ([]Item, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT path, COALESCE(output,''), status, COALESCE(category,''), COALESCE(message,''),
		        COALESCE(input_hash,''), COALESCE(output_hash,''), duration_ms, recorded_at
		 FROM items WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("run items: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var (
			it Item
			ms int64
			at string
		)
		if err := rows.Scan(&it.Path, &it.Output, &it.Status, &it.Category, &it.Message, &it.InputHash, &it.OutputHash, &ms, &at); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Duration = time.Duration(ms) * time.Millisecond
		it.RecordedAt = parseTime(at)
		out = append(out, it)
	}
	return out, rows.Err()
}

// LastOutputHash returns the output hash of the most recent successful item of
// stage that wrote output.
func (j *Journal) LastOutputHash(ctx context.Context, stage, output string) (string, bool, error) {
	var h string
	err := j.db.QueryRowContext(ctx,
		`SELECT i.output_hash FROM items i JOIN runs r ON r.id = i.run_id
		 WHERE r.stage=? AND i.output=? AND i.status=? AND COALESCE(i.output_hash,'') <> ''
		 ORDER BY i.id DESC LIMIT 1`, stage, output, StatusOK).Scan(&h)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("last output hash: %w", err)
	}
	return h, true, nil
}

// Prune deletes runs (and their items) started before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
