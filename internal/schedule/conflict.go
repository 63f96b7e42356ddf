package schedule

import (
	"fmt"
	"time"
)

const DefaultBufferMinutes = 15

// Detector checks candidate ranges against a calendar snapshot with a
// deployment-wide buffer around every existing event.
type Detector struct {
	buffer time.Duration
}

func NewDetector(bufferMinutes int) *Detector {
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}
	return &Detector{buffer: time.Duration(bufferMinutes) * time.Minute}
}

func (d *Detector) Buffer() time.Duration {
	return d.buffer
}

// HasConflict expands each event by the buffer on both ends and applies the
// half-open overlap test against candidate.
func (d *Detector) HasConflict(candidate TimeRange, snapshot []CalendarEvent) (bool, error) {
	if err := candidate.Validate(); err != nil {
		return false, fmt.Errorf("candidate: %w", err)
	}
	for _, ev := range snapshot {
		if err := ev.Range.Validate(); err != nil {
			return false, fmt.Errorf("event %q: %w", ev.ID, err)
		}
		if candidate.Overlaps(ev.Range.Expand(d.buffer)) {
			return true, nil
		}
	}
	return false, nil
}

// conflicts is HasConflict for candidates built internally, which are valid
// by construction.
func (d *Detector) conflicts(candidate TimeRange, snapshot []CalendarEvent) bool {
	for _, ev := range snapshot {
		if candidate.Overlaps(ev.Range.Expand(d.buffer)) {
			return true
		}
	}
	return false
}

func HasConflict(candidate TimeRange, snapshot []CalendarEvent, bufferMinutes int) (bool, error) {
	return NewDetector(bufferMinutes).HasConflict(candidate, snapshot)
}
