package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

type Session struct {
	ID         string
	Transport  string
	Timezone   string
	StartedAt  time.Time
	EndedAt    *time.Time
	Status     SessionStatus
	StopReason string
}

// SessionOutcome is one structured outcome as it was emitted, with the
// rendered message shown to the user.
type SessionOutcome struct {
	ID         string
	SessionID  string
	Kind       string
	State      string
	Message    string
	Payload    []byte
	RecordedAt time.Time
}
