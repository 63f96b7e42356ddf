package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// TimeRange is an immutable [start, end) interval anchored to an IANA timezone.
// The zero value is not a valid range; build one with NewTimeRange.
type TimeRange struct {
	start    time.Time
	end      time.Time
	timezone string
}

// NewTimeRange validates start < end and resolves the timezone. An empty
// timezone falls back to the location already carried by start.
func NewTimeRange(start, end time.Time, timezone string) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, fmt.Errorf("%w: start %s is not before end %s", ErrInputContractViolation, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	loc := start.Location()
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: unknown timezone %q", ErrInputContractViolation, timezone)
		}
		loc = l
	} else {
		timezone = loc.String()
	}
	return TimeRange{start: start.In(loc), end: end.In(loc), timezone: timezone}, nil
}

// MustTimeRange is NewTimeRange for literals known to be valid.
func MustTimeRange(start, end time.Time, timezone string) TimeRange {
	r, err := NewTimeRange(start, end, timezone)
	if err != nil {
		panic(err)
	}
	return r
}

func (r TimeRange) Start() time.Time        { return r.start }
func (r TimeRange) End() time.Time          { return r.end }
func (r TimeRange) Timezone() string        { return r.timezone }
func (r TimeRange) Duration() time.Duration { return r.end.Sub(r.start) }

func (r TimeRange) Location() *time.Location {
	return r.start.Location()
}

func (r TimeRange) IsZero() bool {
	return r.start.IsZero() && r.end.IsZero()
}

// Validate reports ErrInputContractViolation for the zero value or any range
// whose start is not strictly before its end.
func (r TimeRange) Validate() error {
	if !r.start.Before(r.end) {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInputContractViolation, r.start.Format(time.RFC3339), r.end.Format(time.RFC3339))
	}
	return nil
}

// Equal compares instants, not locations.
func (r TimeRange) Equal(o TimeRange) bool {
	return r.start.Equal(o.start) && r.end.Equal(o.end)
}

// Overlaps is the half-open overlap test.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.start.Before(o.end) && r.end.After(o.start)
}

// Expand widens the range by d on both ends.
func (r TimeRange) Expand(d time.Duration) TimeRange {
	return TimeRange{start: r.start.Add(-d), end: r.end.Add(d), timezone: r.timezone}
}

func (r TimeRange) Shift(d time.Duration) TimeRange {
	return TimeRange{start: r.start.Add(d), end: r.end.Add(d), timezone: r.timezone}
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s-%s (%s)", r.start.Format("2006-01-02 15:04"), r.end.Format("15:04"), r.timezone)
}

// CalendarEvent is a read-only entry of a calendar snapshot.
type CalendarEvent struct {
	ID    string
	Title string
	Range TimeRange
}

// MeetingRequest is what the user asked to book. It is never mutated after
// construction; WithRange returns a copy.
type MeetingRequest struct {
	Title     string
	Range     TimeRange
	Location  string
	Attendees []string
}

func NewMeetingRequest(title string, r TimeRange, location string, attendees []string) (MeetingRequest, error) {
	if err := r.Validate(); err != nil {
		return MeetingRequest{}, err
	}
	return MeetingRequest{
		Title:     strings.TrimSpace(title),
		Range:     r,
		Location:  strings.TrimSpace(location),
		Attendees: normalizeAttendees(attendees),
	}, nil
}

func (m MeetingRequest) WithRange(r TimeRange) MeetingRequest {
	out := m
	out.Range = r
	out.Attendees = slices.Clone(m.Attendees)
	return out
}

func normalizeAttendees(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return out
}

type Strategy int

const (
	NextAvailable Strategy = iota + 1
	EarlierSameDay
	NextDaySameTime
	CommonMeetingTime
)

func (s Strategy) String() string {
	switch s {
	case NextAvailable:
		return "next_available"
	case EarlierSameDay:
		return "earlier_same_day"
	case NextDaySameTime:
		return "next_day_same_time"
	case CommonMeetingTime:
		return "common_time"
	default:
		return "unknown"
	}
}

// Suggestion is one numbered alternative. Option numbers are what the user
// says out loud, so their order is part of the contract.
type Suggestion struct {
	Option      int
	Range       TimeRange
	Description string
	Strategy    Strategy
}
