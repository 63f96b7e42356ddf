package repository

import (
	"context"
	"time"

	"github.com/foxseedlab/voicecal/internal/repository"
)

// NoopRepository is used when DATABASE_URL is empty. Sessions still run;
// nothing is persisted.
type NoopRepository struct{}

func (NoopRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	return &repository.Session{
		ID:        input.SessionID,
		Transport: input.Transport,
		Timezone:  input.Timezone,
		StartedAt: input.StartedAt,
		Status:    repository.SessionStatusRunning,
	}, nil
}

func (NoopRepository) UpdateSessionCompleted(context.Context, repository.CompleteSessionInput) error {
	return nil
}

func (NoopRepository) CompleteOrphanSessions(context.Context, time.Time, string) (int64, error) {
	return 0, nil
}

func (NoopRepository) InsertOutcome(context.Context, repository.InsertOutcomeInput) error {
	return nil
}

func (NoopRepository) ListOutcomesBySessionID(context.Context, string) ([]repository.SessionOutcome, error) {
	return nil, nil
}
