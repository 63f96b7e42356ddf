package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxseedlab/voicecal/internal/calendar"
	"github.com/foxseedlab/voicecal/internal/intent"
	"github.com/foxseedlab/voicecal/internal/live"
	"github.com/foxseedlab/voicecal/internal/repository"
	"github.com/foxseedlab/voicecal/internal/schedule"
	"github.com/foxseedlab/voicecal/internal/session"
	"github.com/foxseedlab/voicecal/internal/transcriber"
)

type busyCalendar struct {
	events []schedule.CalendarEvent
}

func (c busyCalendar) FetchEvents(context.Context, string, schedule.TimeRange) ([]schedule.CalendarEvent, error) {
	return c.events, nil
}

func (busyCalendar) CreateEvent(context.Context, schedule.MeetingRequest) (calendar.CreatedEvent, error) {
	return calendar.CreatedEvent{ID: "event-1", Link: "https://calendar.example/e"}, nil
}

type replyExtractor struct{}

func (replyExtractor) Extract(_ context.Context, text string, _ intent.Context) (intent.Result, error) {
	return intent.Result{Kind: intent.Other, Reply: "You said: " + text}, nil
}

type memoryOutcomes struct {
	outcomes map[string][]repository.SessionOutcome
	err      error
}

func (m memoryOutcomes) InsertOutcome(context.Context, repository.InsertOutcomeInput) error {
	return nil
}

func (m memoryOutcomes) ListOutcomesBySessionID(_ context.Context, id string) ([]repository.SessionOutcome, error) {
	return m.outcomes[id], m.err
}

type fakeTranscriber struct {
	mu       sync.Mutex
	cfg      transcriber.StreamConfig
	receiver transcriber.ResultReceiver
	writer   *fakeWriter
}

func (f *fakeTranscriber) StartStreaming(_ context.Context, _ string, cfg transcriber.StreamConfig, r transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.receiver = r
	f.writer = &fakeWriter{}
	return f.writer, nil
}

func (f *fakeTranscriber) started() (transcriber.ResultReceiver, *fakeWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiver, f.writer
}

type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (w *fakeWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, pcm)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) frameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

type harness struct {
	registry *session.Registry
	server   *Server
	http     *httptest.Server
}

type harnessOptions struct {
	events   []schedule.CalendarEvent
	stt      transcriber.Transcriber
	rate     float64
	outcomes memoryOutcomes
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	gc := schedule.DefaultGeneratorConfig()
	gc.Now = func() time.Time { return time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC) }
	cal := busyCalendar{events: opts.events}
	registry := session.NewRegistry(session.RegistryConfig{DefaultTimezone: "UTC"}, session.Deps{
		Source:    cal,
		Sink:      cal,
		Extractor: replyExtractor{},
		Generator: schedule.NewGenerator(schedule.NewDetector(schedule.DefaultBufferMinutes), gc),
	}, nil)
	if opts.rate == 0 {
		opts.rate = 100
	}
	srv := NewServer(Config{DefaultLanguage: "en-US", MaxUtterancesPerSec: opts.rate, PingInterval: time.Minute}, registry, opts.outcomes, opts.stt)
	h := &harness{registry: registry, server: srv, http: httptest.NewServer(srv.Handler())}
	t.Cleanup(func() {
		srv.CloseConnections()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := registry.CloseAll(ctx, session.StopReasonServerShutdown); err != nil {
			t.Errorf("close sessions: %v", err)
		}
		h.http.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) open(t *testing.T, hello string) (*websocket.Conn, string) {
	t.Helper()
	conn := h.dial(t)
	writeText(t, conn, hello)
	ready := readFrame(t, conn)
	require.Equal(t, live.TypeReady, ready.Type, "expected ready, got %+v", ready)
	require.NotEmpty(t, ready.SessionID)
	return conn, ready.SessionID
}

func writeText(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readFrame(t *testing.T, conn *websocket.Conn) live.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg live.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readUntilClosed(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce
	}
}

func TestLive_FirstFrameMustBeHello(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t)

	writeText(t, conn, `{"type":"utterance","text":"hi"}`)
	msg := readFrame(t, conn)
	assert.Equal(t, live.TypeError, msg.Type)
	assert.Equal(t, live.CodeBadRequest, msg.Code)
	assert.Equal(t, websocket.ClosePolicyViolation, readUntilClosed(t, conn).Code)
	assert.Equal(t, 0, h.registry.Count())
}

func TestLive_HelloWithUnknownTimezone(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.dial(t)

	writeText(t, conn, `{"type":"hello","timezone":"Mars/Olympus"}`)
	msg := readFrame(t, conn)
	assert.Equal(t, live.CodeInvalidRequest, msg.Code)
	assert.Equal(t, 0, h.registry.Count())
}

func TestLive_UtteranceGetsReply(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, _ := h.open(t, `{"type":"hello"}`)

	writeText(t, conn, `{"type":"utterance","text":"what can you do"}`)
	msg := readFrame(t, conn)
	assert.Equal(t, live.TypeOutcome, msg.Type)
	assert.Equal(t, string(session.KindReply), msg.Kind)
	assert.Equal(t, "You said: what can you do", msg.Message)
}

func TestLive_ConflictThenPickOption(t *testing.T) {
	busy, err := schedule.NewTimeRange(
		time.Date(2024, time.December, 15, 14, 0, 0, 0, time.UTC),
		time.Date(2024, time.December, 15, 15, 0, 0, 0, time.UTC), "UTC")
	require.NoError(t, err)
	h := newHarness(t, harnessOptions{events: []schedule.CalendarEvent{{ID: "ev-1", Title: "Design review", Range: busy}}})
	conn, id := h.open(t, `{"type":"hello","timezone":"UTC"}`)

	writeText(t, conn, `{"type":"request","title":"Planning","start":"2024-12-15T14:30:00Z","end":"2024-12-15T15:30:00Z"}`)
	offered := readFrame(t, conn)
	require.Equal(t, string(session.KindConflictOffered), offered.Kind, "got %+v", offered)
	assert.Contains(t, offered.Message, "'option 1'")
	assert.NotEmpty(t, offered.Data["suggestions"])

	writeText(t, conn, `{"type":"utterance","text":"option 1"}`)
	scheduled := readFrame(t, conn)
	assert.Equal(t, string(session.KindScheduled), scheduled.Kind, "got %+v", scheduled)
	assert.Contains(t, scheduled.Message, "Planning")
	assert.Equal(t, "event-1", scheduled.Data["event_id"])

	sess, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, session.Idle, sess.View().State)
}

func TestLive_BadFramesKeepConnection(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, _ := h.open(t, `{"type":"hello"}`)

	writeText(t, conn, `{"type":"subscribe"}`)
	assert.Equal(t, live.CodeBadRequest, readFrame(t, conn).Code)

	writeText(t, conn, `{"type":"hello"}`)
	assert.Equal(t, live.CodeBadRequest, readFrame(t, conn).Code)

	writeText(t, conn, `{"type":"request","title":"x","start":"soon","end":"2024-12-15T15:00:00Z"}`)
	assert.Equal(t, live.CodeInvalidRequest, readFrame(t, conn).Code)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	assert.Equal(t, live.CodeBadRequest, readFrame(t, conn).Code)

	writeText(t, conn, `{"type":"utterance","text":"still here"}`)
	assert.Equal(t, string(session.KindReply), readFrame(t, conn).Kind)
}

func TestLive_CancelProducesCancelled(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, _ := h.open(t, `{"type":"hello"}`)

	writeText(t, conn, `{"type":"cancel"}`)
	msg := readFrame(t, conn)
	assert.Equal(t, string(session.KindCancelled), msg.Kind)
}

func TestLive_ByeClosesSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, id := h.open(t, `{"type":"hello"}`)

	writeText(t, conn, `{"type":"bye"}`)
	ce := readUntilClosed(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, session.StopReasonUserStopped, ce.Text)
	_, ok := h.registry.Get(id)
	assert.False(t, ok)
}

func TestLive_DisconnectClosesSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, _ := h.open(t, `{"type":"hello"}`)
	require.Equal(t, 1, h.registry.Count())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLive_SessionClosedServerSide(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, id := h.open(t, `{"type":"hello"}`)

	require.True(t, h.registry.Close(id, session.StopReasonIdleTimeout))
	ce := readUntilClosed(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, session.StopReasonIdleTimeout, ce.Text)
}

func TestLive_RateLimitsUtterances(t *testing.T) {
	h := newHarness(t, harnessOptions{rate: 1})
	conn, _ := h.open(t, `{"type":"hello"}`)

	writeText(t, conn, `{"type":"utterance","text":"one"}`)
	writeText(t, conn, `{"type":"utterance","text":"two"}`)

	got := map[string]bool{}
	for range 2 {
		msg := readFrame(t, conn)
		got[msg.Type+":"+msg.Kind+msg.Code] = true
	}
	assert.True(t, got["outcome:reply"], "got %v", got)
	assert.True(t, got["error:"+live.CodeRateLimited], "got %v", got)
}

func TestLive_AudioBecomesUtterance(t *testing.T) {
	stt := &fakeTranscriber{}
	h := newHarness(t, harnessOptions{stt: stt})
	conn, _ := h.open(t, `{"type":"hello","language":"ja-JP","audio":{"sample_rate_hz":16000,"channels":1}}`)

	require.Eventually(t, func() bool { r, _ := stt.started(); return r != nil }, 2*time.Second, 10*time.Millisecond)
	receiver, writer := stt.started()
	assert.Equal(t, transcriber.StreamConfig{Language: "ja-JP", SampleRateHz: 16000, Channels: 1}, stt.cfg)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2, 3}))
	assert.Eventually(t, func() bool { return writer.frameCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	receiver.OnResult(0, "book lunch", false)
	receiver.OnResult(0, "hello there", true)
	transcript := readFrame(t, conn)
	assert.Equal(t, live.TypeTranscript, transcript.Type)
	assert.Equal(t, "hello there", transcript.Text)
	reply := readFrame(t, conn)
	assert.Equal(t, "You said: hello there", reply.Message)
}

func TestLive_AudioWithoutTranscriber(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, _ := h.open(t, `{"type":"hello","audio":{"sample_rate_hz":16000,"channels":1}}`)

	msg := readFrame(t, conn)
	assert.Equal(t, live.CodeUnavailable, msg.Code)

	writeText(t, conn, `{"type":"utterance","text":"typed instead"}`)
	assert.Equal(t, string(session.KindReply), readFrame(t, conn).Kind)
}

func TestLive_ServerShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn, _ := h.open(t, `{"type":"hello"}`)

	h.server.CloseConnections()
	ce := readUntilClosed(t, conn)
	assert.Equal(t, session.StopReasonServerShutdown, ce.Text)
	assert.Equal(t, 0, h.registry.Count())
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHTTP_HealthAndSessions(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	_, id := h.open(t, `{"type":"hello","timezone":"Asia/Tokyo"}`)

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, h.http.URL+"/healthz", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)

	var list struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, h.http.URL+"/sessions", &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, id, list.Sessions[0].ID)
	assert.Equal(t, TransportName, list.Sessions[0].Transport)
	assert.Equal(t, "Asia/Tokyo", list.Sessions[0].Timezone)
	assert.Equal(t, session.Idle.String(), list.Sessions[0].State)
}

func TestHTTP_Outcomes(t *testing.T) {
	recorded := time.Date(2024, time.December, 15, 14, 0, 0, 0, time.UTC)
	h := newHarness(t, harnessOptions{outcomes: memoryOutcomes{outcomes: map[string][]repository.SessionOutcome{
		"s-1": {{Kind: "reply", State: "idle", Message: "Hello", Payload: []byte(`{"text":"Hello"}`), RecordedAt: recorded}},
	}}})

	var body struct {
		SessionID string          `json:"session_id"`
		Outcomes  []outcomeRecord `json:"outcomes"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, h.http.URL+"/sessions/s-1/outcomes", &body))
	assert.Equal(t, "s-1", body.SessionID)
	require.Len(t, body.Outcomes, 1)
	assert.Equal(t, "reply", body.Outcomes[0].Kind)
	assert.JSONEq(t, `{"text":"Hello"}`, string(body.Outcomes[0].Payload))
	assert.True(t, recorded.Equal(body.Outcomes[0].RecordedAt))

	var empty struct {
		Outcomes []outcomeRecord `json:"outcomes"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, h.http.URL+"/sessions/unknown/outcomes", &empty))
	assert.NotNil(t, empty.Outcomes)
	assert.Empty(t, empty.Outcomes)
}

func TestHTTP_OutcomesFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{outcomes: memoryOutcomes{err: errors.New("db down")}})

	var msg live.ServerMessage
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, h.http.URL+"/sessions/s-1/outcomes", &msg))
	assert.Equal(t, live.CodeInternal, msg.Code)
}

func TestNewLimiterBurst(t *testing.T) {
	assert.Equal(t, 1, newLimiter(0.5).Burst())
	assert.Equal(t, 3, newLimiter(2.5).Burst())
}
