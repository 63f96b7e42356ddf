package session

import (
	"context"

	"github.com/foxseedlab/voicecal/internal/schedule"
)

type OutcomeKind string

const (
	KindScheduled           OutcomeKind = "scheduled"
	KindConflictOffered     OutcomeKind = "conflict_offered"
	KindNoAlternatives      OutcomeKind = "no_alternatives"
	KindCancelled           OutcomeKind = "cancelled"
	KindClarificationNeeded OutcomeKind = "clarification_needed"
	KindReply               OutcomeKind = "reply"
	KindDayAgenda           OutcomeKind = "day_agenda"
	KindError               OutcomeKind = "error"
)

// Outcome is structured output for the presentation layer. The set of
// variants is closed; rendering lives in Render.
type Outcome interface {
	Kind() OutcomeKind
}

type Scheduled struct {
	Request schedule.MeetingRequest
	EventID string
	Link    string
	// FromOption is the chosen suggestion number, 0 for a direct booking.
	FromOption int
}

type ConflictOffered struct {
	Original    schedule.MeetingRequest
	Suggestions []schedule.Suggestion
	// Reprompt is set when the same set is offered again after an
	// unrecognized or out-of-range selection.
	Reprompt bool
	// Regenerated is set when the chosen slot was taken before commit and a
	// fresh set replaced it.
	Regenerated bool
}

// NoAlternatives means the request conflicts and no suggestion was found.
type NoAlternatives struct {
	Original schedule.MeetingRequest
}

type Cancelled struct{}

type ClarificationNeeded struct {
	Missing []string
}

type Reply struct {
	Text string
}

// DayAgenda lists the meetings of one day, ordered by start.
type DayAgenda struct {
	Day    schedule.TimeRange
	Events []schedule.CalendarEvent
}

type ErrorKind string

const (
	CommitFailure         ErrorKind = "commit_failure"
	SnapshotFailure       ErrorKind = "snapshot_failure"
	IntentFailure         ErrorKind = "intent_failure"
	UnrecognizedSelection ErrorKind = "unrecognized_selection"
	InvalidRequest        ErrorKind = "invalid_request"
)

type Error struct {
	Code   ErrorKind
	Reason string
}

func (Scheduled) Kind() OutcomeKind           { return KindScheduled }
func (ConflictOffered) Kind() OutcomeKind     { return KindConflictOffered }
func (NoAlternatives) Kind() OutcomeKind      { return KindNoAlternatives }
func (Cancelled) Kind() OutcomeKind           { return KindCancelled }
func (ClarificationNeeded) Kind() OutcomeKind { return KindClarificationNeeded }
func (Reply) Kind() OutcomeKind               { return KindReply }
func (DayAgenda) Kind() OutcomeKind           { return KindDayAgenda }
func (Error) Kind() OutcomeKind               { return KindError }

// Emitter delivers outcomes to whatever owns the session's connection.
type Emitter interface {
	Emit(ctx context.Context, sessionID string, o Outcome) error
}

type EmitterFunc func(ctx context.Context, sessionID string, o Outcome) error

func (f EmitterFunc) Emit(ctx context.Context, sessionID string, o Outcome) error {
	return f(ctx, sessionID, o)
}
