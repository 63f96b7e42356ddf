package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/foxseedlab/voicecal/internal/calendar"
	"github.com/foxseedlab/voicecal/internal/intent"
	"github.com/foxseedlab/voicecal/internal/schedule"
	"github.com/foxseedlab/voicecal/internal/selection"
)

const (
	DefaultMeetingDuration = 60 * time.Minute
	maxHistoryTurns        = 10
)

// Deps are the collaborators shared by every session of a registry.
type Deps struct {
	Source    calendar.Source
	Sink      calendar.Sink
	Extractor intent.Extractor
	Generator *schedule.Generator
}

type MachineConfig struct {
	DefaultDuration time.Duration
	SuggestionCount int
	// RecheckBeforeCommit fetches a fresh snapshot before booking a chosen
	// option.
	RecheckBeforeCommit bool
}

func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		DefaultDuration:     DefaultMeetingDuration,
		SuggestionCount:     schedule.DefaultSuggestionCount,
		RecheckBeforeCommit: true,
	}
}

// machine holds the transition logic of one session. It is driven by a
// single goroutine and is never shared.
type machine struct {
	id       string
	deps     Deps
	cfg      MachineConfig
	timezone string
	now      func() time.Time

	state       State
	pending     *schedule.MeetingRequest
	suggestions []schedule.Suggestion
	offered     []schedule.TimeRange
	draft       intent.Draft
	history     []intent.Turn

	// onTransition runs after every state change so the owner can publish
	// a view before a blocking call starts.
	onTransition func()
}

func newMachine(id, timezone string, deps Deps, cfg MachineConfig, now func() time.Time) *machine {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultMeetingDuration
	}
	if cfg.SuggestionCount <= 0 {
		cfg.SuggestionCount = schedule.DefaultSuggestionCount
	}
	if now == nil {
		now = time.Now
	}
	return &machine{
		id:       id,
		deps:     deps,
		cfg:      cfg,
		timezone: timezone,
		now:      now,
		state:    Idle,
	}
}

func (m *machine) setState(s State) {
	if m.state == s {
		return
	}
	slog.Debug("session state transition", "session_id", m.id, "from", m.state.String(), "to", s.String())
	m.state = s
	if m.onTransition != nil {
		m.onTransition()
	}
}

func (m *machine) reset() {
	m.pending = nil
	m.suggestions = nil
	m.offered = nil
	m.draft = intent.Draft{}
	m.setState(Idle)
}

// handle applies one event. Returned outcomes are in emission order. A
// cancelled ctx abandons the step without outcomes or side effects unless
// the commit was already dispatched.
func (m *machine) handle(ctx context.Context, ev Event) []Outcome {
	if m.state == Terminated {
		return nil
	}
	switch e := ev.(type) {
	case CancelRequested:
		return m.cancel()
	case RequestReady:
		m.draft = intent.Draft{}
		m.pending = nil
		m.suggestions = nil
		m.offered = nil
		return m.process(ctx, e.Request)
	case Utterance:
		if m.state == ResolvingConflict {
			return m.resolve(ctx, e.Text)
		}
		return m.interpret(ctx, e.Text)
	default:
		slog.Warn("rejecting unknown session event", "session_id", m.id, "type", fmt.Sprintf("%T", ev))
		return []Outcome{Error{Code: InvalidRequest, Reason: "unsupported event"}}
	}
}

func (m *machine) cancel() []Outcome {
	m.reset()
	return []Outcome{Cancelled{}}
}

func (m *machine) interpret(ctx context.Context, text string) []Outcome {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if selection.Parse(text).Kind == selection.Cancel {
		return m.cancel()
	}

	res, err := m.deps.Extractor.Extract(ctx, text, intent.Context{
		Timezone: m.timezone,
		Now:      m.now(),
		Partial:  m.draft,
		History:  slices.Clone(m.history),
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("intent extraction abandoned", "session_id", m.id, "error", err)
			return nil
		}
		slog.Error("intent extraction failed", "session_id", m.id, "error", err)
		return []Outcome{Error{Code: IntentFailure, Reason: err.Error()}}
	}
	m.remember(text, res.Kind)

	if res.Kind == intent.ListDay {
		return m.agenda(ctx, res.Draft.Date)
	}
	if res.Kind != intent.Schedule {
		reply := strings.TrimSpace(res.Reply)
		if reply == "" {
			reply = "I can help you schedule meetings. Tell me what, when and with whom."
		}
		return []Outcome{Reply{Text: reply}}
	}

	draft := m.draft.Merge(res.Draft)
	if missing := draft.Missing(); len(missing) > 0 {
		m.draft = draft
		m.setState(AwaitingIntent)
		return []Outcome{ClarificationNeeded{Missing: missing}}
	}
	req, err := draft.Build(m.timezone, m.cfg.DefaultDuration)
	if err != nil {
		slog.Warn("failed to build meeting request", "session_id", m.id, "error", err)
		m.draft = draft
		m.setState(AwaitingIntent)
		return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
	}
	m.draft = intent.Draft{}
	return m.process(ctx, req)
}

// agenda reads the meetings of one day without touching the state or the
// draft being gathered.
func (m *machine) agenda(ctx context.Context, date string) []Outcome {
	loc, err := time.LoadLocation(m.timezone)
	if err != nil {
		return []Outcome{Error{Code: InvalidRequest, Reason: fmt.Sprintf("unknown timezone %q", m.timezone)}}
	}
	day := m.now().In(loc)
	if strings.TrimSpace(date) != "" {
		if day, err = intent.ParseDate(date); err != nil {
			return []Outcome{Error{Code: InvalidRequest, Reason: fmt.Sprintf("invalid date %q", date)}}
		}
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	window, err := schedule.NewTimeRange(dayStart, dayStart.AddDate(0, 0, 1), m.timezone)
	if err != nil {
		return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
	}

	events, err := m.deps.Source.FetchEvents(ctx, m.timezone, window)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("failed to fetch day agenda", "session_id", m.id, "error", err)
		return []Outcome{Error{Code: SnapshotFailure, Reason: err.Error()}}
	}
	onDay := make([]schedule.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Range.Overlaps(window) {
			onDay = append(onDay, ev)
		}
	}
	slices.SortStableFunc(onDay, func(a, b schedule.CalendarEvent) int {
		return a.Range.Start().Compare(b.Range.Start())
	})
	return []Outcome{DayAgenda{Day: window, Events: onDay}}
}

func (m *machine) remember(text string, kind intent.Kind) {
	m.history = append(m.history, intent.Turn{Input: text, Kind: kind})
	if len(m.history) > maxHistoryTurns {
		m.history = slices.Clone(m.history[len(m.history)-maxHistoryTurns:])
	}
}

// process runs the conflict check for a complete request from Idle or
// AwaitingIntent.
func (m *machine) process(ctx context.Context, req schedule.MeetingRequest) []Outcome {
	if err := req.Range.Validate(); err != nil {
		m.reset()
		return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
	}
	snapshot, err := m.fetch(ctx, req.Range)
	if err != nil {
		m.reset()
		if ctx.Err() != nil {
			return nil
		}
		return []Outcome{Error{Code: SnapshotFailure, Reason: err.Error()}}
	}
	conflict, err := m.deps.Generator.Detector().HasConflict(req.Range, snapshot)
	if err != nil {
		m.reset()
		return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
	}
	if !conflict {
		return m.commit(ctx, req, 0)
	}

	suggestions, err := m.suggest(req, snapshot, nil)
	if err != nil {
		m.reset()
		return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
	}
	if len(suggestions) == 0 {
		m.reset()
		return []Outcome{NoAlternatives{Original: req}}
	}
	m.pending = &req
	m.offer(suggestions)
	m.setState(ResolvingConflict)
	return []Outcome{ConflictOffered{Original: req, Suggestions: suggestions}}
}

func (m *machine) resolve(ctx context.Context, text string) []Outcome {
	d := selection.Parse(text)
	switch d.Kind {
	case selection.SelectOption:
		if d.Option < 1 || d.Option > len(m.suggestions) {
			return m.reprompt(fmt.Sprintf("option %d is not one of the current choices", d.Option))
		}
		return m.choose(ctx, d.Option)
	case selection.RequestMore:
		return m.more(ctx)
	case selection.Cancel:
		return m.cancel()
	default:
		return m.reprompt("could not tell which option was meant")
	}
}

func (m *machine) reprompt(reason string) []Outcome {
	return []Outcome{
		Error{Code: UnrecognizedSelection, Reason: reason},
		ConflictOffered{Original: *m.pending, Suggestions: slices.Clone(m.suggestions), Reprompt: true},
	}
}

func (m *machine) more(ctx context.Context) []Outcome {
	req := *m.pending
	snapshot, err := m.fetch(ctx, req.Range)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return []Outcome{Error{Code: SnapshotFailure, Reason: err.Error()}}
	}
	suggestions, err := m.suggest(req, snapshot, m.offered)
	if err != nil {
		return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
	}
	if len(suggestions) == 0 {
		slog.Info("no further alternatives; re-offering current set", "session_id", m.id)
		return []Outcome{ConflictOffered{Original: req, Suggestions: slices.Clone(m.suggestions), Reprompt: true}}
	}
	m.offer(suggestions)
	return []Outcome{ConflictOffered{Original: req, Suggestions: suggestions}}
}

func (m *machine) choose(ctx context.Context, option int) []Outcome {
	chosen := m.suggestions[option-1]
	req := m.pending.WithRange(chosen.Range)

	if m.cfg.RecheckBeforeCommit {
		snapshot, err := m.fetch(ctx, chosen.Range)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return []Outcome{Error{Code: SnapshotFailure, Reason: err.Error()}}
		}
		conflict, err := m.deps.Generator.Detector().HasConflict(chosen.Range, snapshot)
		if err != nil {
			return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
		}
		if conflict {
			slog.Info("chosen slot was taken before commit; regenerating", "session_id", m.id, "option", option)
			original := *m.pending
			origSnapshot, err := m.fetch(ctx, original.Range)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return []Outcome{Error{Code: SnapshotFailure, Reason: err.Error()}}
			}
			suggestions, err := m.suggest(original, origSnapshot, nil)
			if err != nil {
				return []Outcome{Error{Code: InvalidRequest, Reason: err.Error()}}
			}
			if len(suggestions) == 0 {
				m.reset()
				return []Outcome{NoAlternatives{Original: original}}
			}
			m.offered = nil
			m.offer(suggestions)
			return []Outcome{ConflictOffered{Original: original, Suggestions: suggestions, Regenerated: true}}
		}
	}
	return m.commit(ctx, req, option)
}

// commit is the point of no return. The sink call ignores cancellation of
// ctx so that neither a cancel nor a close can leave a half-written booking.
func (m *machine) commit(ctx context.Context, req schedule.MeetingRequest, option int) []Outcome {
	m.setState(Committing)
	created, err := m.deps.Sink.CreateEvent(context.WithoutCancel(ctx), req)
	if err != nil {
		cerr := &CommitError{Reason: err.Error(), Err: err}
		slog.Error("failed to commit meeting", "session_id", m.id, "option", option, "error", cerr)
		if option > 0 {
			m.setState(ResolvingConflict)
		} else {
			m.reset()
		}
		return []Outcome{Error{Code: CommitFailure, Reason: cerr.Reason}}
	}
	slog.Info("meeting committed", "session_id", m.id, "event_id", created.ID, "option", option, "range", req.Range.String())
	m.reset()
	return []Outcome{Scheduled{Request: req, EventID: created.ID, Link: created.Link, FromOption: option}}
}

func (m *machine) offer(suggestions []schedule.Suggestion) {
	m.suggestions = suggestions
	for _, s := range suggestions {
		m.offered = append(m.offered, s.Range)
	}
}

func (m *machine) suggest(req schedule.MeetingRequest, snapshot []schedule.CalendarEvent, exclude []schedule.TimeRange) ([]schedule.Suggestion, error) {
	return m.deps.Generator.Suggest(schedule.SuggestRequest{
		Snapshot:     snapshot,
		DesiredStart: req.Range.Start(),
		Duration:     req.Range.Duration(),
		Timezone:     req.Range.Timezone(),
		Count:        m.cfg.SuggestionCount,
		Exclude:      exclude,
	})
}

// fetch reads the snapshot covering every slot the generator can propose
// for r, padded by the conflict buffer.
func (m *machine) fetch(ctx context.Context, r schedule.TimeRange) ([]schedule.CalendarEvent, error) {
	window, err := snapshotWindow(r, m.deps.Generator.Detector().Buffer())
	if err != nil {
		return nil, err
	}
	events, err := m.deps.Source.FetchEvents(ctx, r.Timezone(), window)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("snapshot fetch abandoned", "session_id", m.id)
		} else {
			slog.Error("failed to fetch calendar snapshot", "session_id", m.id, "error", err)
		}
		return nil, fmt.Errorf("fetch calendar snapshot: %w", err)
	}
	return events, nil
}

// snapshotWindow spans the day of r through the following day, stretched to
// the end of the next-day candidate when that crosses midnight.
func snapshotWindow(r schedule.TimeRange, buffer time.Duration) (schedule.TimeRange, error) {
	start := r.Start()
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	end := dayStart.AddDate(0, 0, 2)
	if nextDayEnd := start.AddDate(0, 0, 1).Add(r.Duration()); nextDayEnd.After(end) {
		end = nextDayEnd
	}
	if r.End().After(end) {
		end = r.End()
	}
	return schedule.NewTimeRange(dayStart.Add(-buffer), end.Add(buffer), r.Timezone())
}
