// Package store provides SQLite persistence for finished sessions, proof
// runs and their log lines.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/d3lta02/zklabubu-desktop/internal/proof"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Session is one finished game.
type Session struct {
	ID              string                 `json:"id"`
	Variant         string                 `json:"variant"`
	Metrics         scoring.SessionMetrics `json:"metrics"`
	CalculatedScore uint64                 `json:"calculatedScore"`
	ScoreValid      bool                   `json:"scoreValid"`
	EndedAt         time.Time              `json:"endedAt"`
}

// ProofRun is one persisted proof run.
type ProofRun struct {
	ID              string                 `json:"id"`
	SessionID       *string                `json:"sessionId,omitempty"`
	ProofHash       string                 `json:"proofHash"`
	ProofType       string                 `json:"proofType,omitempty"`
	Simulation      bool                   `json:"simulation"`
	ScoreValid      bool                   `json:"scoreValid"`
	CalculatedScore uint64                 `json:"calculatedScore"`
	Superseded      bool                   `json:"superseded"`
	Fallback        string                 `json:"fallback,omitempty"`
	Metrics         scoring.SessionMetrics `json:"metrics"`
	StartedAt       time.Time              `json:"startedAt"`
	FinishedAt      time.Time              `json:"finishedAt"`
}

// Store provides SQLite persistence.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing sql.DB.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			variant TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL,
			yellow_eggs INTEGER NOT NULL,
			blue_eggs INTEGER NOT NULL,
			purple_eggs INTEGER NOT NULL,
			game_time INTEGER NOT NULL,
			lives INTEGER NOT NULL,
			calculated_score INTEGER NOT NULL,
			score_valid BOOLEAN NOT NULL DEFAULT 0,
			ended_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at)`,
		`CREATE TABLE IF NOT EXISTS proof_runs (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			proof_hash TEXT NOT NULL,
			proof_type TEXT NOT NULL DEFAULT '',
			simulation BOOLEAN NOT NULL DEFAULT 0,
			score_valid BOOLEAN NOT NULL DEFAULT 0,
			calculated_score INTEGER NOT NULL,
			superseded BOOLEAN NOT NULL DEFAULT 0,
			fallback TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL,
			yellow_eggs INTEGER NOT NULL,
			blue_eggs INTEGER NOT NULL,
			purple_eggs INTEGER NOT NULL,
			game_time INTEGER NOT NULL,
			lives INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proof_runs_session ON proof_runs(session_id)`,
		`CREATE TABLE IF NOT EXISTS proof_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			line TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES proof_runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proof_logs_run ON proof_logs(run_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordSession inserts a finished session and returns its ID.
func (s *Store) RecordSession(ctx context.Context, variant string, m scoring.SessionMetrics, endedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, variant, score, yellow_eggs, blue_eggs, purple_eggs, game_time, lives, calculated_score, score_valid, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, variant, m.Score, m.YellowCount, m.BlueCount, m.PurpleCount, m.GameTimeSeconds, m.LivesRemaining,
		m.CalculatedScore(), m.ScoreIsValid(), endedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("store: record session: %w", err)
	}
	return id, nil
}

const sessionColumns = `id, variant, score, yellow_eggs, blue_eggs, purple_eggs, game_time, lives, calculated_score, score_valid, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	m := &sess.Metrics
	err := row.Scan(&sess.ID, &sess.Variant, &m.Score, &m.YellowCount, &m.BlueCount, &m.PurpleCount,
		&m.GameTimeSeconds, &m.LivesRemaining, &sess.CalculatedScore, &sess.ScoreValid, &sess.EndedAt)
	return sess, err
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns sessions newest first and the total count.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, int, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY ended_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: list sessions: %w", err)
	}
	return sessions, total, nil
}

// RecordRun persists a finished proof run and its log lines in one
// transaction. The session ID is taken from ctx when present.
func (s *Store) RecordRun(ctx context.Context, run proof.Run) error {
	res := run.Result
	id := res.RunID
	if id == "" {
		id = uuid.NewString()
	}
	var sessionID *string
	if sid, ok := SessionIDFrom(ctx); ok {
		sessionID = &sid
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	m := res.Metrics
	_, err = tx.ExecContext(ctx,
		`INSERT INTO proof_runs (id, session_id, proof_hash, proof_type, simulation, score_valid, calculated_score,
		                         superseded, fallback, score, yellow_eggs, blue_eggs, purple_eggs, game_time, lives,
		                         started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, res.ProofHash, res.ProofType, res.Simulation, res.ScoreIsValid, res.CalculatedScore,
		run.Superseded, run.Fallback, m.Score, m.YellowCount, m.BlueCount, m.PurpleCount, m.GameTimeSeconds, m.LivesRemaining,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO proof_logs (run_id, seq, line) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for i, line := range run.Lines {
		if _, err := stmt.ExecContext(ctx, id, i, line); err != nil {
			return fmt.Errorf("store: insert log line #%d: %w", i, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, session_id, proof_hash, proof_type, simulation, score_valid, calculated_score, superseded, fallback,
	score, yellow_eggs, blue_eggs, purple_eggs, game_time, lives, started_at, finished_at`

func scanRun(row scanner) (ProofRun, error) {
	var r ProofRun
	m := &r.Metrics
	err := row.Scan(&r.ID, &r.SessionID, &r.ProofHash, &r.ProofType, &r.Simulation, &r.ScoreValid,
		&r.CalculatedScore, &r.Superseded, &r.Fallback,
		&m.Score, &m.YellowCount, &m.BlueCount, &m.PurpleCount, &m.GameTimeSeconds, &m.LivesRemaining,
		&r.StartedAt, &r.FinishedAt)
	return r, err
}

// GetRun fetches a proof run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*ProofRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM proof_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns proof runs newest first. A non-empty sessionID filters
// to that session.
func (s *Store) ListRuns(ctx context.Context, sessionID string, limit int) ([]ProofRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM proof_runs`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY finished_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []ProofRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return runs, nil
}

// RunLogs returns a run's log lines in emission order.
func (s *Store) RunLogs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM proof_logs WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: run logs: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("store: scan log line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// DeleteSession removes a session. Its runs are kept and unlinked.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

type sessionKey struct{}

// WithSessionID tags ctx so RecordRun links the run to a session.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFrom returns the session ID set by WithSessionID.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
