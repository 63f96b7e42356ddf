package session

import (
	"github.com/foxseedlab/voicecal/internal/schedule"
	"github.com/foxseedlab/voicecal/internal/selection"
)

// Event is an inbound input to a session. The set of variants is closed.
type Event interface {
	isEvent()
}

// Utterance is transcribed user speech.
type Utterance struct {
	Text string
}

// RequestReady carries a meeting request that was already extracted upstream.
type RequestReady struct {
	Request schedule.MeetingRequest
}

// CancelRequested is an explicit cancel control, independent of speech.
type CancelRequested struct{}

func (Utterance) isEvent()       {}
func (RequestReady) isEvent()    {}
func (CancelRequested) isEvent() {}

func isCancel(ev Event) bool {
	switch e := ev.(type) {
	case CancelRequested:
		return true
	case Utterance:
		return selection.Parse(e.Text).Kind == selection.Cancel
	default:
		return false
	}
}
