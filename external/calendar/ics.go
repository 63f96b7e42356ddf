package calendar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/foxseedlab/voicecal/internal/calendar"
	"github.com/foxseedlab/voicecal/internal/schedule"
)

const (
	icsFetchTimeout       = 15 * time.Second
	maxOccurrencesPerRule = 1000
	maxFeedBytes          = 10 << 20
)

const propertyRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"

// ICSFeed reads a read-only iCalendar subscription. Recurring events are
// expanded inside the requested window.
type ICSFeed struct {
	url    string
	client *http.Client
}

var _ calendar.Source = (*ICSFeed)(nil)

func NewICSFeed(url string) *ICSFeed {
	return &ICSFeed{
		url:    url,
		client: &http.Client{Timeout: icsFetchTimeout},
	}
}

func (f *ICSFeed) FetchEvents(ctx context.Context, timezone string, window schedule.TimeRange) ([]schedule.CalendarEvent, error) {
	body, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics feed: %w", err)
	}

	var entries []icsEntry
	for _, ve := range cal.Events() {
		e, ok := parseEntry(ve)
		if ok {
			entries = append(entries, e)
		}
	}
	events := expandEntries(entries, timezone, window)
	slog.Debug("fetched ics events", "count", len(events), "window", window.String())
	return events, nil
}

func (f *ICSFeed) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", fmt.Errorf("build ics request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch ics feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch ics feed: unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", fmt.Errorf("read ics feed: %w", err)
	}
	return string(b), nil
}

type icsEntry struct {
	uid          string
	summary      string
	start        time.Time
	end          time.Time
	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
}

func parseEntry(ve *ical.VEvent) (icsEntry, bool) {
	var e icsEntry
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		e.uid = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return e, false
	}
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || isDateValue(dtStart) {
		return e, false
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		e.summary = p.Value
	}

	var err error
	if e.start, err = ve.GetStartAt(); err != nil {
		slog.Warn("skipping ics event with invalid DTSTART", "uid", e.uid, "error", err)
		return e, false
	}
	if e.end, err = ve.GetEndAt(); err != nil || !e.end.After(e.start) {
		slog.Warn("skipping ics event without a usable DTEND", "uid", e.uid)
		return e, false
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		e.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, v := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(v), tzid(p.ICalParameters), e.start.Location()); err == nil {
				e.exdates = append(e.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(propertyRecurrenceID); p != nil {
		if t, err := parseICSTime(p.Value, tzid(p.ICalParameters), e.start.Location()); err == nil {
			e.recurrenceID = &t
		}
	}
	return e, true
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzid(params map[string][]string) string {
	if vs, ok := params["TZID"]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func parseICSTime(v, tz string, fallback *time.Location) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	loc := fallback
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

// expandEntries turns parsed entries into concrete events overlapping
// window. An override (RECURRENCE-ID) replaces the occurrence it names.
func expandEntries(entries []icsEntry, timezone string, window schedule.TimeRange) []schedule.CalendarEvent {
	overridden := make(map[string]map[int64]struct{})
	for _, e := range entries {
		if e.recurrenceID == nil {
			continue
		}
		if overridden[e.uid] == nil {
			overridden[e.uid] = make(map[int64]struct{})
		}
		overridden[e.uid][e.recurrenceID.Unix()] = struct{}{}
	}

	var out []schedule.CalendarEvent
	add := func(e icsEntry, start, end time.Time) {
		if !start.Before(window.End()) || !end.After(window.Start()) {
			return
		}
		r, err := schedule.NewTimeRange(start, end, timezone)
		if err != nil {
			return
		}
		out = append(out, schedule.CalendarEvent{ID: e.uid, Title: e.summary, Range: r})
	}

	for _, e := range entries {
		if e.rrule == "" || e.recurrenceID != nil {
			add(e, e.start, e.end)
			continue
		}
		rule, err := rrule.StrToRRule(e.rrule)
		if err != nil {
			slog.Warn("skipping ics event with invalid RRULE", "uid", e.uid, "rrule", e.rrule, "error", err)
			continue
		}
		rule.DTStart(e.start)
		set := rrule.Set{}
		set.RRule(rule)
		for _, ex := range e.exdates {
			set.ExDate(ex.In(e.start.Location()))
		}

		dur := e.end.Sub(e.start)
		starts := set.Between(window.Start().Add(-dur).In(e.start.Location()), window.End().In(e.start.Location()), true)
		if len(starts) > maxOccurrencesPerRule {
			slog.Warn("truncating ics recurrence", "uid", e.uid, "occurrences", len(starts))
			starts = starts[:maxOccurrencesPerRule]
		}
		for _, s := range starts {
			if _, ok := overridden[e.uid][s.Unix()]; ok {
				continue
			}
			add(e, s, s.Add(dur))
		}
	}
	return out
}
