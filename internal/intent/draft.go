package intent

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/voicecal/internal/schedule"
)

const DateLayout = "2006-01-02"

// TimeLayouts are tried in order against the upper-cased time string.
var TimeLayouts = []string{
	"15:04",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
	"15",
}

const (
	FieldTitle = "title"
	FieldDate  = "date"
	FieldTime  = "time"
)

// Draft is a meeting request under construction. Fields stay as the
// extractor produced them until Build.
type Draft struct {
	Title           string   `json:"title,omitempty"`
	Date            string   `json:"date,omitempty"`
	Time            string   `json:"time,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Location        string   `json:"location,omitempty"`
	Attendees       []string `json:"attendees,omitempty"`
}

func (d Draft) IsEmpty() bool {
	return d.Title == "" && d.Date == "" && d.Time == "" && d.DurationMinutes == 0 &&
		d.Location == "" && len(d.Attendees) == 0
}

// Merge overlays the non-empty fields of next onto d.
func (d Draft) Merge(next Draft) Draft {
	out := d
	if s := strings.TrimSpace(next.Title); s != "" {
		out.Title = s
	}
	if s := strings.TrimSpace(next.Date); s != "" {
		out.Date = s
	}
	if s := strings.TrimSpace(next.Time); s != "" {
		out.Time = s
	}
	if next.DurationMinutes > 0 {
		out.DurationMinutes = next.DurationMinutes
	}
	if s := strings.TrimSpace(next.Location); s != "" {
		out.Location = s
	}
	if len(next.Attendees) > 0 {
		out.Attendees = append([]string(nil), next.Attendees...)
	}
	return out
}

// Missing lists required fields that are absent or unparseable, in the
// order they should be asked for.
func (d Draft) Missing() []string {
	var missing []string
	if strings.TrimSpace(d.Title) == "" {
		missing = append(missing, FieldTitle)
	}
	if _, err := ParseDate(d.Date); err != nil {
		missing = append(missing, FieldDate)
	}
	if _, _, err := ParseClock(d.Time); err != nil {
		missing = append(missing, FieldTime)
	}
	return missing
}

// Build resolves the draft in timezone tz. A zero DurationMinutes uses
// defaultDuration. Attendees without an "@" are dropped.
func (d Draft) Build(tz string, defaultDuration time.Duration) (schedule.MeetingRequest, error) {
	if missing := d.Missing(); len(missing) > 0 {
		return schedule.MeetingRequest{}, fmt.Errorf("%w: missing %s", schedule.ErrInputContractViolation, strings.Join(missing, ", "))
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return schedule.MeetingRequest{}, fmt.Errorf("%w: unknown timezone %q", schedule.ErrInputContractViolation, tz)
	}
	day, _ := ParseDate(d.Date)
	hour, minute, _ := ParseClock(d.Time)

	duration := defaultDuration
	if d.DurationMinutes > 0 {
		duration = time.Duration(d.DurationMinutes) * time.Minute
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	r, err := schedule.NewTimeRange(start, start.Add(duration), tz)
	if err != nil {
		return schedule.MeetingRequest{}, err
	}
	return schedule.NewMeetingRequest(d.Title, r, d.Location, EmailAttendees(d.Attendees))
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// ParseClock accepts any of TimeLayouts and returns the wall-clock hour and
// minute.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, 0, fmt.Errorf("empty time")
	}
	for _, layout := range TimeLayouts {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("unrecognized time %q", s)
}

// EmailAttendees keeps entries that look like email addresses.
func EmailAttendees(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if !strings.Contains(a, "@") {
			if a != "" {
				slog.Warn("skipping attendee without email address", "attendee", a)
			}
			continue
		}
		out = append(out, a)
	}
	return out
}
