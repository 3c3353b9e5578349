// Package projection maintains the read-side plan view: one row per session
// with the user's question and the current final answer, updated on every
// committed orchestration state change and queried by user.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/metrics"
)

// Entry is one row of the plan view.
type Entry struct {
	SessionID    string    `db:"session_id"`
	UserID       string    `db:"user_id"`
	UserQuestion string    `db:"user_question"`
	FinalAnswer  string    `db:"final_answer"`
	Status       string    `db:"status"`
	UpdatedAt    time.Time `db:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS plan_views (
    session_id    TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    user_question TEXT NOT NULL,
    final_answer  TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS plan_views_user_id_idx ON plan_views (user_id);
`

// Store is the Postgres-backed plan view.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open connects to Postgres and returns a ready store.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewStore(db, logger), nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the plan view table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure plan_views schema: %w", err)
	}
	return nil
}

// Upsert writes the row for a session. Called on every committed state
// change; the row always reflects the latest committed state.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO plan_views (session_id, user_id, user_question, final_answer, status, updated_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (session_id) DO UPDATE SET
            final_answer = EXCLUDED.final_answer,
            status       = EXCLUDED.status,
            updated_at   = now()
    `, e.SessionID, e.UserID, e.UserQuestion, e.FinalAnswer, e.Status)
	if err != nil {
		return fmt.Errorf("upsert plan view: %w", err)
	}
	metrics.ProjectionUpdates.WithLabelValues("upsert").Inc()
	return nil
}

// ListByUser returns all sessions for a user, most recently updated first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	var out []Entry
	err := s.db.SelectContext(ctx, &out, `
        SELECT session_id, user_id, user_question, final_answer, status, updated_at
        FROM plan_views
        WHERE user_id = $1
        ORDER BY updated_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("list plan views: %w", err)
	}
	return out, nil
}

// Delete removes the row for a session. Mirrors session deletion upstream;
// the orchestrator itself never deletes state.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plan_views WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete plan view: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	metrics.ProjectionUpdates.WithLabelValues("delete").Inc()
	return nil
}
