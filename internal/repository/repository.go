package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	SessionID string
	Transport string
	Timezone  string
	StartedAt time.Time
}

type CompleteSessionInput struct {
	SessionID  string
	EndedAt    time.Time
	StopReason string
}

type InsertOutcomeInput struct {
	SessionID   string
	Kind        string
	State       string
	Message     string
	PayloadJSON []byte
	RecordedAt  time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	UpdateSessionCompleted(ctx context.Context, input CompleteSessionInput) error
	// CompleteOrphanSessions closes rows left running by a previous process.
	CompleteOrphanSessions(ctx context.Context, endedAt time.Time, reason string) (int64, error)
}

type OutcomeRepository interface {
	InsertOutcome(ctx context.Context, input InsertOutcomeInput) error
	ListOutcomesBySessionID(ctx context.Context, sessionID string) ([]SessionOutcome, error)
}

type Repository interface {
	SessionRepository
	OutcomeRepository
}
