package calendar

import (
	"context"

	"github.com/foxseedlab/voicecal/internal/schedule"
)

// Source reads a snapshot of existing events overlapping window. Events are
// returned in the requested timezone; all-day entries are skipped.
type Source interface {
	FetchEvents(ctx context.Context, timezone string, window schedule.TimeRange) ([]schedule.CalendarEvent, error)
}

type CreatedEvent struct {
	ID   string
	Link string
}

// Sink books a meeting. A returned error means nothing was booked.
type Sink interface {
	CreateEvent(ctx context.Context, req schedule.MeetingRequest) (CreatedEvent, error)
}
