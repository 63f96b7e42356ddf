package webhook

import (
	"context"
	"time"
)

// BookingPayload is posted after a meeting was booked.
type BookingPayload struct {
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Timezone  string    `json:"timezone"`
	Attendees []string  `json:"attendees"`
	Location  string    `json:"location,omitempty"`
	Link      string    `json:"link,omitempty"`
}

type Sender interface {
	SendBooking(ctx context.Context, payload BookingPayload) error
}
