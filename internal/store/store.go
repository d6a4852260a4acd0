package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	// DBFile is the ledger database filename under the base dir.
	DBFile = "runs.db"
	// RunsDir holds per-run event logs and trainer logs.
	RunsDir = "runs"
)

// Store is the run ledger backed by sqlite plus per-run JSONL event logs.
type Store struct {
	db      *sql.DB
	baseDir string
	now     func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDSource overrides run ID generation, for tests.
func WithIDSource(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Open opens (creating if needed) the ledger under baseDir and applies
// pending schema migrations.
func Open(baseDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, RunsDir), 0o700); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	dbPath := filepath.Join(baseDir, DBFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// sqlite tolerates one writer; the launcher is single-process per run
	// but list commands may race a launch.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		baseDir: baseDir,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, err
	}

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BaseDir returns the ledger root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Create inserts a pending run and appends its created event.
// Returns the run with ID, timestamps, and log paths assigned.
func (s *Store) Create(name, manifestPath, modelPath string, gpus, epochs int) (*Run, error) {
	run := &Run{
		ID:           s.newID(),
		Name:         name,
		ManifestPath: manifestPath,
		ModelPath:    modelPath,
		GPUs:         gpus,
		Epochs:       epochs,
		Status:       StatusPending,
		ExitCode:     -1,
		CreatedAt:    s.now().UTC(),
	}
	run.LogPath = filepath.Join(s.baseDir, RunsDir, s.runFileBase(run)+".log")

	_, err := s.db.Exec(`
		INSERT INTO runs (id, name, manifest_path, model_path, gpus, epochs, status, pid, exit_code, log_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, -1, ?, ?)`,
		run.ID, run.Name, run.ManifestPath, run.ModelPath, run.GPUs, run.Epochs,
		string(run.Status), run.LogPath, run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if err := s.AppendEvent(Event{RunID: run.ID, Kind: EventCreated}); err != nil {
		return nil, err
	}
	return run, nil
}

// MarkStarted transitions a pending run to running and records the pid.
func (s *Store) MarkStarted(id string, pid int) error {
	run, err := s.Get(id)
	if err != nil {
		return err
	}
	if run.Status != StatusPending {
		return fmt.Errorf("%w: run %s is %s", ErrBadTransition, run.ShortID(), run.Status)
	}

	started := s.now().UTC()
	_, err = s.db.Exec(`UPDATE runs SET status = ?, pid = ?, started_at = ? WHERE id = ?`,
		string(StatusRunning), pid, started.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	return s.AppendEvent(Event{RunID: id, Kind: EventStarted, Message: fmt.Sprintf("pid %d", pid)})
}

// MarkFinished transitions a run to a terminal status with its exit code.
// Finishing an already-finished run is an error.
func (s *Store) MarkFinished(id string, status Status, exitCode int) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrBadTransition, status)
	}
	run, err := s.Get(id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s already %s", ErrBadTransition, run.ShortID(), run.Status)
	}

	finished := s.now().UTC()
	_, err = s.db.Exec(`UPDATE runs SET status = ?, exit_code = ?, finished_at = ? WHERE id = ?`,
		string(status), exitCode, finished.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	return s.AppendEvent(Event{
		RunID:   id,
		Kind:    EventFinished,
		Message: fmt.Sprintf("%s (exit %d)", status, exitCode),
	})
}

// Get returns a run by full ID or unique short prefix.
func (s *Store) Get(id string) (*Run, error) {
	rows, err := s.db.Query(selectRuns+` WHERE id = ? OR id LIKE ?`, id, id+"%")
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

// ListFilter narrows List results.
type ListFilter struct {
	// Status keeps only runs in this state when non-empty.
	Status Status
	// Limit caps the result count when positive.
	Limit int
}

// List returns runs newest first.
func (s *Store) List(filter ListFilter) ([]Run, error) {
	query := selectRuns
	args := []any{}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrBadStatus, filter.Status)
		}
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return scanRuns(rows)
}

const selectRuns = `
	SELECT id, name, manifest_path, model_path, gpus, epochs, status, pid, exit_code, log_path, created_at, started_at, finished_at
	FROM runs`

// scanRuns drains rows into Run values.
func scanRuns(rows *sql.Rows) (runs []Run, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		var r Run
		var status, createdAt string
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.ManifestPath, &r.ModelPath, &r.GPUs, &r.Epochs,
			&status, &r.PID, &r.ExitCode, &r.LogPath, &createdAt, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = Status(status)
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if startedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, startedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse started_at: %w", err)
			}
			r.StartedAt = &t
		}
		if finishedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// runFileBase builds the per-run filename stem: YYYY-MM-DD-{name}-{id8}.
func (s *Store) runFileBase(run *Run) string {
	name := strings.ToLower(run.Name)
	var b strings.Builder
	lastHyphen := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "run"
	}
	return fmt.Sprintf("%s-%s-%s", run.CreatedAt.Format("2006-01-02"), slug, run.ShortID())
}
