package live

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxseedlab/voicecal/internal/schedule"
	"github.com/foxseedlab/voicecal/internal/session"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  ClientMessage
	}{
		{
			name:  "hello with audio",
			frame: `{"type":"hello","timezone":"America/New_York","voice":"alloy","audio":{"sample_rate_hz":16000,"channels":1}}`,
			want:  Hello{Timezone: "America/New_York", Voice: "alloy", Audio: &AudioFormat{SampleRateHz: 16000, Channels: 1}},
		},
		{
			name:  "bare hello",
			frame: `{"type":"hello"}`,
			want:  Hello{},
		},
		{
			name:  "utterance",
			frame: `{"type":"utterance","text":"option 2"}`,
			want:  Utterance{Text: "option 2"},
		},
		{
			name:  "request",
			frame: `{"type":"request","title":"Planning","start":"2024-12-15T14:00:00Z","end":"2024-12-15T15:00:00Z","attendees":["a@example.com"]}`,
			want:  Request{Title: "Planning", Start: "2024-12-15T14:00:00Z", End: "2024-12-15T15:00:00Z", Attendees: []string{"a@example.com"}},
		},
		{
			name:  "cancel",
			frame: `{"type":"cancel"}`,
			want:  Cancel{},
		},
		{
			name:  "bye ignores extra fields",
			frame: `{"type":"bye","reason":"done"}`,
			want:  Bye{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeClientMessage_Rejects(t *testing.T) {
	frames := map[string]string{
		"not json":        `option 1`,
		"array":           `[1,2]`,
		"missing type":    `{"text":"hi"}`,
		"unknown type":    `{"type":"subscribe"}`,
		"empty utterance": `{"type":"utterance","text":"  "}`,
		"request no end":  `{"type":"request","title":"x","start":"2024-12-15T14:00:00Z"}`,
		"bad audio":       `{"type":"hello","audio":{"sample_rate_hz":16000,"channels":6}}`,
		"wrong field":     `{"type":"utterance","text":42}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(frame))
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, CodeBadRequest, pe.Code)
		})
	}
}

func TestRequest_MeetingRequest(t *testing.T) {
	r := Request{Title: " Planning ", Start: "2024-12-15T14:00:00Z", End: "2024-12-15T15:00:00Z", Attendees: []string{"a@example.com", "a@example.com"}}

	m, err := r.MeetingRequest("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "Planning", m.Title)
	assert.Equal(t, "America/New_York", m.Range.Timezone())
	assert.Equal(t, 9, m.Range.Start().Hour())
	assert.Equal(t, time.Hour, m.Range.Duration())
	assert.Equal(t, []string{"a@example.com"}, m.Attendees)

	_, err = Request{Start: "tomorrow", End: "2024-12-15T15:00:00Z"}.MeetingRequest("UTC")
	assert.ErrorIs(t, err, schedule.ErrInputContractViolation)

	_, err = Request{Start: "2024-12-15T15:00:00Z", End: "2024-12-15T14:00:00Z"}.MeetingRequest("UTC")
	assert.ErrorIs(t, err, schedule.ErrInputContractViolation)
}

func TestOutcomeMessage(t *testing.T) {
	msg := OutcomeMessage(session.Reply{Text: "Hello"})
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"outcome","kind":"reply","message":"Hello","data":{"text":"Hello"}}`, string(b))
}

func TestReadyAndTranscriptOmitUnusedFields(t *testing.T) {
	b, err := json.Marshal(Ready("s-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ready","session_id":"s-1"}`, string(b))

	b, err = json.Marshal(Transcript("book lunch"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"transcript","text":"book lunch"}`, string(b))
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{err: badRequest("nope"), code: CodeBadRequest},
		{err: fmt.Errorf("%w: bad tz", schedule.ErrInputContractViolation), code: CodeInvalidRequest},
		{err: fmt.Errorf("submit: %w", session.ErrSessionExpired), code: CodeSessionExpired},
		{err: session.ErrQueueFull, code: CodeQueueFull},
		{err: fmt.Errorf("boom"), code: CodeInternal},
	}
	for _, tt := range tests {
		got := ErrorFor(tt.err)
		assert.Equal(t, TypeError, got.Type)
		assert.Equal(t, tt.code, got.Code, tt.err.Error())
	}
}
