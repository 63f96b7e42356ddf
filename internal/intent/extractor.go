package intent

import (
	"context"
	"time"
)

type Kind int

const (
	// Other covers anything that is not a booking request. The extractor
	// supplies a Reply for it.
	Other Kind = iota
	Schedule
	// ListDay asks for the meetings of Draft.Date, today when empty.
	ListDay
)

func (k Kind) String() string {
	switch k {
	case Schedule:
		return "schedule_meeting"
	case ListDay:
		return "get_meetings_day"
	default:
		return "other"
	}
}

// Turn is one earlier exchange, passed back so the model can resolve
// follow-ups such as "make it 5 PM instead".
type Turn struct {
	Input string
	Kind  Kind
}

type Context struct {
	Timezone string
	Now      time.Time
	// Partial holds the fields gathered so far in the clarification loop.
	Partial Draft
	History []Turn
}

type Result struct {
	Kind  Kind
	Draft Draft
	Reply string
}

// Extractor turns a free-form utterance into a scheduling intent.
// Implementations must honor ctx cancellation.
type Extractor interface {
	Extract(ctx context.Context, text string, c Context) (Result, error)
}
