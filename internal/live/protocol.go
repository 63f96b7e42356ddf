package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/voicecal/internal/schedule"
	"github.com/foxseedlab/voicecal/internal/session"
)

// Client frame types.
const (
	TypeHello     = "hello"
	TypeUtterance = "utterance"
	TypeRequest   = "request"
	TypeCancel    = "cancel"
	TypeBye       = "bye"
)

// Server frame types.
const (
	TypeReady      = "ready"
	TypeOutcome    = "outcome"
	TypeTranscript = "transcript"
	TypeError      = "error"
)

const (
	CodeBadRequest     = "bad_request"
	CodeInvalidRequest = "invalid_request"
	CodeSessionExpired = "session_expired"
	CodeQueueFull      = "queue_full"
	CodeRateLimited    = "rate_limited"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

const maxAudioChannels = 2

// ProtocolError is a frame the server refuses. The connection stays open.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Code + ": " + e.Message
}

func badRequest(format string, args ...any) error {
	return &ProtocolError{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// ClientMessage is one decoded client frame.
type ClientMessage interface {
	clientMessage()
}

type AudioFormat struct {
	SampleRateHz int `json:"sample_rate_hz"`
	Channels     int `json:"channels"`
}

type Hello struct {
	Timezone string       `json:"timezone,omitempty"`
	Voice    string       `json:"voice,omitempty"`
	Language string       `json:"language,omitempty"`
	Audio    *AudioFormat `json:"audio,omitempty"`
}

type Utterance struct {
	Text string `json:"text"`
}

type Request struct {
	Title     string   `json:"title"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Location  string   `json:"location,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
}

type Cancel struct{}

type Bye struct{}

func (Hello) clientMessage()     {}
func (Utterance) clientMessage() {}
func (Request) clientMessage()   {}
func (Cancel) clientMessage()    {}
func (Bye) clientMessage()       {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one text frame. Unknown types are rejected.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badRequest("frame is not a JSON object: %v", err)
	}
	switch env.Type {
	case TypeHello:
		var m Hello
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badRequest("invalid hello: %v", err)
		}
		if m.Audio != nil {
			if m.Audio.SampleRateHz <= 0 || m.Audio.Channels <= 0 || m.Audio.Channels > maxAudioChannels {
				return nil, badRequest("audio needs a positive sample_rate_hz and 1 or 2 channels")
			}
		}
		return m, nil
	case TypeUtterance:
		var m Utterance
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badRequest("invalid utterance: %v", err)
		}
		if strings.TrimSpace(m.Text) == "" {
			return nil, badRequest("utterance text is empty")
		}
		return m, nil
	case TypeRequest:
		var m Request
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badRequest("invalid request: %v", err)
		}
		if m.Start == "" || m.End == "" {
			return nil, badRequest("request needs start and end")
		}
		return m, nil
	case TypeCancel:
		return Cancel{}, nil
	case TypeBye:
		return Bye{}, nil
	case "":
		return nil, badRequest("frame has no type")
	default:
		return nil, badRequest("unknown frame type %q", env.Type)
	}
}

// MeetingRequest converts the frame into a request in the session timezone.
func (r Request) MeetingRequest(timezone string) (schedule.MeetingRequest, error) {
	start, err := time.Parse(time.RFC3339, r.Start)
	if err != nil {
		return schedule.MeetingRequest{}, fmt.Errorf("%w: start is not RFC3339: %v", schedule.ErrInputContractViolation, err)
	}
	end, err := time.Parse(time.RFC3339, r.End)
	if err != nil {
		return schedule.MeetingRequest{}, fmt.Errorf("%w: end is not RFC3339: %v", schedule.ErrInputContractViolation, err)
	}
	tr, err := schedule.NewTimeRange(start, end, timezone)
	if err != nil {
		return schedule.MeetingRequest{}, err
	}
	return schedule.NewMeetingRequest(r.Title, tr, r.Location, r.Attendees)
}

// ServerMessage is every frame the server sends; unused fields are omitted.
type ServerMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Text      string         `json:"text,omitempty"`
	Code      string         `json:"code,omitempty"`
}

func Ready(sessionID string) ServerMessage {
	return ServerMessage{Type: TypeReady, SessionID: sessionID}
}

func OutcomeMessage(o session.Outcome) ServerMessage {
	return ServerMessage{
		Type:    TypeOutcome,
		Kind:    string(o.Kind()),
		Message: session.Render(o),
		Data:    session.OutcomeData(o),
	}
}

func Transcript(text string) ServerMessage {
	return ServerMessage{Type: TypeTranscript, Text: text}
}

func ErrorMessage(code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: message}
}

// ErrorFor maps an error from decoding or submitting to an error frame.
func ErrorFor(err error) ServerMessage {
	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		return ErrorMessage(pe.Code, pe.Message)
	case errors.Is(err, schedule.ErrInputContractViolation):
		return ErrorMessage(CodeInvalidRequest, err.Error())
	case errors.Is(err, session.ErrSessionExpired):
		return ErrorMessage(CodeSessionExpired, "session has expired")
	case errors.Is(err, session.ErrQueueFull):
		return ErrorMessage(CodeQueueFull, "too many pending messages")
	default:
		return ErrorMessage(CodeInternal, "internal error")
	}
}
