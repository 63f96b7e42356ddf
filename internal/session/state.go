package session

type State int

const (
	Idle State = iota
	AwaitingIntent
	ResolvingConflict
	Committing
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case AwaitingIntent:
		return "AWAITING_INTENT"
	case ResolvingConflict:
		return "RESOLVING_CONFLICT"
	case Committing:
		return "COMMITTING"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
