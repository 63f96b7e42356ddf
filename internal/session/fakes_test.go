package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxseedlab/voicecal/internal/calendar"
	"github.com/foxseedlab/voicecal/internal/intent"
	"github.com/foxseedlab/voicecal/internal/schedule"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.December, day, hour, minute, 0, 0, time.UTC)
}

func slot(t *testing.T, day, startH, startM, endH, endM int) schedule.TimeRange {
	t.Helper()
	r, err := schedule.NewTimeRange(at(day, startH, startM), at(day, endH, endM), "UTC")
	require.NoError(t, err)
	return r
}

func meeting(t *testing.T, title string, r schedule.TimeRange) schedule.MeetingRequest {
	t.Helper()
	req, err := schedule.NewMeetingRequest(title, r, "", nil)
	require.NoError(t, err)
	return req
}

func busyAfternoon(t *testing.T) []schedule.CalendarEvent {
	return []schedule.CalendarEvent{
		{ID: "ev-1", Title: "Design review", Range: slot(t, 15, 14, 0, 15, 0)},
		{ID: "ev-2", Title: "1:1", Range: slot(t, 15, 15, 30, 16, 30)},
	}
}

func testGenerator() *schedule.Generator {
	cfg := schedule.DefaultGeneratorConfig()
	cfg.Now = func() time.Time { return at(1, 0, 0) }
	return schedule.NewGenerator(schedule.NewDetector(schedule.DefaultBufferMinutes), cfg)
}

// fakeSource returns snapshots in order and repeats the last one. When
// calendar is set it returns the events of calendar overlapping the window
// instead. When block is set, FetchEvents waits for ctx cancellation.
type fakeSource struct {
	mu        sync.Mutex
	snapshots [][]schedule.CalendarEvent
	calendar  []schedule.CalendarEvent
	err       error
	calls     int
	windows   []schedule.TimeRange
	block     bool
	started   chan struct{}
}

func (f *fakeSource) FetchEvents(ctx context.Context, _ string, window schedule.TimeRange) ([]schedule.CalendarEvent, error) {
	f.mu.Lock()
	f.calls++
	f.windows = append(f.windows, window)
	idx := f.calls - 1
	block := f.block
	f.mu.Unlock()

	if block {
		if f.started != nil {
			f.started <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.calendar != nil {
		var out []schedule.CalendarEvent
		for _, ev := range f.calendar {
			if ev.Range.Overlaps(window) {
				out = append(out, ev)
			}
		}
		return out, nil
	}
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	return f.snapshots[idx], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu      sync.Mutex
	err     error
	created []schedule.MeetingRequest
	release chan struct{}
	started chan struct{}
	ctxErr  error
	nextID  int
}

func (f *fakeSink) CreateEvent(ctx context.Context, req schedule.MeetingRequest) (calendar.CreatedEvent, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return calendar.CreatedEvent{}, f.err
	}
	f.nextID++
	f.created = append(f.created, req)
	return calendar.CreatedEvent{ID: fmt.Sprintf("event-%d", f.nextID), Link: "https://calendar.example/e"}, nil
}

func (f *fakeSink) createdRequests() []schedule.MeetingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schedule.MeetingRequest(nil), f.created...)
}

type extractCall struct {
	text string
	ic   intent.Context
}

// fakeExtractor answers with results in order. When block is set, Extract
// waits for ctx cancellation.
type fakeExtractor struct {
	mu      sync.Mutex
	results []intent.Result
	calls   []extractCall
	block   bool
	started chan struct{}
	err     error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string, ic intent.Context) (intent.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, extractCall{text: text, ic: ic})
	idx := len(f.calls) - 1
	block := f.block
	f.mu.Unlock()

	if block {
		if f.started != nil {
			f.started <- struct{}{}
		}
		<-ctx.Done()
		return intent.Result{}, ctx.Err()
	}
	if f.err != nil {
		return intent.Result{}, f.err
	}
	if idx >= len(f.results) {
		return intent.Result{Kind: intent.Other, Reply: "ok"}, nil
	}
	return f.results[idx], nil
}

func (f *fakeExtractor) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.text)
	}
	return out
}

type recordingEmitter struct {
	ch chan Outcome
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{ch: make(chan Outcome, 64)}
}

func (r *recordingEmitter) Emit(_ context.Context, _ string, o Outcome) error {
	r.ch <- o
	return nil
}

func (r *recordingEmitter) next(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return nil
	}
}

func (r *recordingEmitter) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case o := <-r.ch:
		t.Fatalf("unexpected outcome %T: %+v", o, o)
	case <-time.After(wait):
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	opened   []string
	outcomes []Outcome
	closed   map[string]string
}

func (r *recordingObserver) SessionOpened(_ context.Context, v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, v.ID)
}

func (r *recordingObserver) OutcomeEmitted(_ context.Context, _ View, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingObserver) SessionClosed(_ context.Context, v View, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = map[string]string{}
	}
	r.closed[v.ID] = reason
}

func (r *recordingObserver) outcomeKinds() []OutcomeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]OutcomeKind, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		kinds = append(kinds, o.Kind())
	}
	return kinds
}

func (r *recordingObserver) closeReason(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.closed[id]
	return reason, ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errCalendarDown = errors.New("calendar unavailable")
