package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/pageflow/pageflow/pkg/auth"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when an attempt does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore records login attempts in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file, or ":memory:".
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg, now: time.Now}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
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

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
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

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Recorder returns an auth.AttemptRecorder that tags attempts with profile.
func (s *SQLiteStore) Recorder(profile string) auth.AttemptRecorder {
	return &recorder{store: s, profile: profile}
}

type recorder struct {
	store   *SQLiteStore
	profile string
}

func (r *recorder) BeginAttempt(ctx context.Context, a auth.Attempt) error {
	return r.store.CreateAttempt(ctx, r.profile, a)
}

func (r *recorder) RecordTransition(ctx context.Context, t auth.Transition) error {
	return r.store.AddTransition(ctx, t)
}

func (r *recorder) FinishAttempt(ctx context.Context, id string, res auth.Result) error {
	return r.store.FinishAttempt(ctx, id, res)
}

// CreateAttempt inserts a running attempt.
func (s *SQLiteStore) CreateAttempt(ctx context.Context, profile string, a auth.Attempt) error {
	query := `
		INSERT INTO login_attempts (id, profile, host, path, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	startedAt := a.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	if _, err := s.db.ExecContext(ctx, query, a.ID, profile, a.Host, a.Path, startedAt.UTC()); err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// AddTransition appends a state transition to an attempt.
func (s *SQLiteStore) AddTransition(ctx context.Context, t auth.Transition) error {
	query := `
		INSERT INTO attempt_transitions (attempt_id, from_state, to_state, detail, at)
		VALUES (?, ?, ?, ?, ?)
	`

	at := t.At
	if at.IsZero() {
		at = s.now()
	}

	if _, err := s.db.ExecContext(ctx, query, t.AttemptID, string(t.From), string(t.To), t.Detail, at.UTC()); err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// FinishAttempt stores the result of an attempt.
func (s *SQLiteStore) FinishAttempt(ctx context.Context, id string, res auth.Result) error {
	query := `
		UPDATE login_attempts
		SET finished_at = ?, outcome = ?, final_state = ?, reason = ?, otc_attempts = ?, duration_ms = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		s.now().UTC(),
		res.Outcome.String(),
		string(res.State),
		res.Reason,
		res.OTCAttempts,
		res.Duration.Milliseconds(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return nil
}

const attemptColumns = `id, profile, host, path, started_at, finished_at, outcome, final_state, reason, otc_attempts, duration_ms`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (*AttemptRecord, error) {
	var (
		rec        AttemptRecord
		finishedAt sql.NullTime
		outcome    sql.NullString
		finalState sql.NullString
		reason     sql.NullString
		durationMs sql.NullInt64
	)

	err := row.Scan(
		&rec.ID,
		&rec.Profile,
		&rec.Host,
		&rec.Path,
		&rec.StartedAt,
		&finishedAt,
		&outcome,
		&finalState,
		&reason,
		&rec.OTCAttempts,
		&durationMs,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	rec.Outcome = outcome.String
	rec.FinalState = finalState.String
	rec.Reason = reason.String
	rec.Duration = time.Duration(durationMs.Int64) * time.Millisecond

	return &rec, nil
}

// GetAttempt retrieves an attempt by ID.
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*AttemptRecord, error) {
	query := `SELECT ` + attemptColumns + ` FROM login_attempts WHERE id = ?`

	rec, err := scanAttempt(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return rec, nil
}

// ListAttempts lists attempts, newest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]*AttemptRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Host != "" {
		where = append(where, "host = ?")
		args = append(args, filter.Host)
	}
	if filter.Profile != "" {
		where = append(where, "profile = ?")
		args = append(args, filter.Profile)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + attemptColumns + ` FROM login_attempts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*AttemptRecord{}
	for rows.Next() {
		rec, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// ListTransitions returns the transitions of an attempt in order.
func (s *SQLiteStore) ListTransitions(ctx context.Context, attemptID string) ([]*TransitionRecord, error) {
	query := `
		SELECT id, attempt_id, from_state, to_state, detail, at
		FROM attempt_transitions
		WHERE attempt_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	transitions := []*TransitionRecord{}
	for rows.Next() {
		t := &TransitionRecord{}
		if err := rows.Scan(&t.ID, &t.AttemptID, &t.From, &t.To, &t.Detail, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

// PruneAttempts deletes attempts started before cutoff and returns how many
// were removed. Transitions are removed by cascade.
func (s *SQLiteStore) PruneAttempts(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}
	return result.RowsAffected()
}
