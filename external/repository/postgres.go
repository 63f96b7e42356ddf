package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxseedlab/voicecal/internal/repository"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Shutdown closes the pool when the injector shuts down.
func (r *PostgresRepository) Shutdown() {
	r.pool.Close()
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, transport, timezone, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING id, transport, timezone, started_at, ended_at, status::text, stop_reason`,
		input.SessionID, input.Transport, input.Timezone, input.StartedAt)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session %s: %w", input.SessionID, err)
	}
	return s, nil
}

func (r *PostgresRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = $2, stop_reason = $3 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.StopReason)
	return err
}

func (r *PostgresRepository) CompleteOrphanSessions(ctx context.Context, endedAt time.Time, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = $1, stop_reason = $2 WHERE status = 'running'`,
		endedAt, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) InsertOutcome(ctx context.Context, input repository.InsertOutcomeInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_outcomes (session_id, kind, state, message, payload, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		input.SessionID, input.Kind, input.State, input.Message, nullableJSON(input.PayloadJSON), input.RecordedAt)
	return err
}

func (r *PostgresRepository) ListOutcomesBySessionID(ctx context.Context, sessionID string) ([]repository.SessionOutcome, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, kind, state, message, payload, recorded_at
		 FROM session_outcomes WHERE session_id = $1 ORDER BY recorded_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.SessionOutcome, error) {
		var o repository.SessionOutcome
		err := row.Scan(&o.ID, &o.SessionID, &o.Kind, &o.State, &o.Message, &o.Payload, &o.RecordedAt)
		return o, err
	})
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	if err := row.Scan(&s.ID, &s.Transport, &s.Timezone, &s.StartedAt, &endedAt, &s.Status, &s.StopReason); err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

// A nil payload is stored as SQL NULL rather than an empty jsonb value.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
