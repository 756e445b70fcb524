package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore keeps the run history in a local SQLite database. It
// implements engine.EventPublisher: runs and action results are derived
// from the events the executor publishes.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file, or ":memory:".
	Path string

	// BusyTimeout bounds how long a write waits for the database lock.
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{
		path:   cfg.Path,
		logger: logger.With().Str("component", "stores").Logger(),
	}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx, cfg.BusyTimeout); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection with WAL mode and foreign keys on.
func (s *SQLiteStore) Init(ctx context.Context, busyTimeout time.Duration) error {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases
	// on one handle.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database answers.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Publish implements engine.EventPublisher. The event and its effect on the
// run and action tables are written in one transaction.
func (s *SQLiteStore) Publish(ctx context.Context, event *engine.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.applyEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	s.logger.Trace().Str("event", string(event.Type)).Str("run_id", event.RunID).Msg("Event recorded")
	return nil
}

func (s *SQLiteStore) applyEvent(ctx context.Context, tx *sql.Tx, event *engine.Event) error {
	ts := event.Timestamp.UTC()

	switch event.Type {
	case engine.EventTypeRunStarted:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, plan_id, backend, destroy, status, total_actions, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			event.RunID,
			event.PlanID,
			detailString(event.Details, "backend"),
			detailBool(event.Details, "destroy"),
			RunStatusRunning,
			detailInt(event.Details, "actions"),
			ts,
		)
		if err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}

	case engine.EventTypeRunCompleted:
		return updateRun(ctx, tx, event.RunID, RunStatusSucceeded, nil, 0, ts)

	case engine.EventTypeRunFailed:
		msg := event.Message
		return updateRun(ctx, tx, event.RunID, RunStatusFailed, &msg, detailInt(event.Details, "not_attempted"), ts)

	case engine.EventTypeActionCompleted, engine.EventTypeActionFailed:
		status := ActionStatusSucceeded
		var errMsg, errCode *string
		if event.Type == engine.EventTypeActionFailed {
			status = ActionStatusFailed
			msg, code := event.Message, detailString(event.Details, "code")
			errMsg, errCode = &msg, &code
		}
		statements, err := json.Marshal(detailStrings(event.Details, "statements"))
		if err != nil {
			return fmt.Errorf("failed to encode statements: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO action_results (
				run_id, action_index, action_type, resource, status,
				statements, error, error_code, duration_ms, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, action_index) DO UPDATE SET
				status = excluded.status,
				statements = excluded.statements,
				error = excluded.error,
				error_code = excluded.error_code,
				duration_ms = excluded.duration_ms,
				completed_at = excluded.completed_at
		`,
			event.RunID,
			event.ActionIndex,
			detailString(event.Details, "action_type"),
			event.Resource,
			status,
			string(statements),
			errMsg,
			errCode,
			detailInt(event.Details, "duration_ms"),
			ts,
		)
		if err != nil {
			return fmt.Errorf("failed to record action result: %w", err)
		}
	}
	return nil
}

func updateRun(ctx context.Context, tx *sql.Tx, id string, status RunStatus, errMsg *string, notAttempted int, completedAt time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?, not_attempted = ?, completed_at = ?
		WHERE id = ?
	`, status, errMsg, notAttempted, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *engine.Event) error {
	var details *string
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		d := string(data)
		details = &d
	}

	var actionIndex *int
	var resource *string
	if event.ActionIndex > 0 {
		actionIndex = &event.ActionIndex
	}
	if event.Resource != "" {
		resource = &event.Resource
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, run_id, type, level, action_index, resource, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.RunID,
		string(event.Type),
		event.Level,
		actionIndex,
		resource,
		event.Message,
		details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

const runColumns = `
	r.id, r.plan_id, r.backend, r.destroy, r.status, r.total_actions,
	(SELECT COUNT(*) FROM action_results a WHERE a.run_id = r.id AND a.status = 'succeeded'),
	(SELECT COUNT(*) FROM action_results a WHERE a.run_id = r.id AND a.status = 'failed'),
	r.not_attempted, r.started_at, r.completed_at, r.error
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.PlanID,
		&run.Backend,
		&run.Destroy,
		&run.Status,
		&run.TotalActions,
		&run.Succeeded,
		&run.Failed,
		&run.NotAttempted,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		ORDER BY r.started_at DESC, r.id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListActionResults lists the attempted actions of a run in plan order.
func (s *SQLiteStore) ListActionResults(ctx context.Context, runID string) ([]*ActionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, action_index, action_type, resource, status,
			   statements, error, error_code, duration_ms, completed_at
		FROM action_results
		WHERE run_id = ?
		ORDER BY action_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action results: %w", err)
	}
	defer rows.Close()

	results := []*ActionResult{}
	for rows.Next() {
		res := &ActionResult{}
		var statements string
		var durationMS int64
		err := rows.Scan(
			&res.RunID,
			&res.Index,
			&res.Type,
			&res.Resource,
			&res.Status,
			&statements,
			&res.Error,
			&res.ErrorCode,
			&durationMS,
			&res.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action result: %w", err)
		}
		if err := json.Unmarshal([]byte(statements), &res.Statements); err != nil {
			return nil, fmt.Errorf("failed to decode statements: %w", err)
		}
		res.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action results: %w", err)
	}

	return results, nil
}

// ListEvents lists the events of a run in the order they were recorded.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, type, level, action_index, resource, message, details, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		ev := &Event{}
		var details *string
		err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.Type,
			&ev.Level,
			&ev.ActionIndex,
			&ev.Resource,
			&ev.Message,
			&details,
			&ev.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if details != nil {
			if err := json.Unmarshal([]byte(*details), &ev.Details); err != nil {
				return nil, fmt.Errorf("failed to decode event details: %w", err)
			}
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// PruneRuns deletes all but the newest keep runs. Action results and events
// go with them.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

func detailString(d map[string]interface{}, key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

func detailBool(d map[string]interface{}, key string) bool {
	b, _ := d[key].(bool)
	return b
}

func detailInt(d map[string]interface{}, key string) int64 {
	switch v := d[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func detailStrings(d map[string]interface{}, key string) []string {
	switch v := d[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return []string{}
}
