package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/foxseedlab/voicecal/internal/live"
	"github.com/foxseedlab/voicecal/internal/repository"
	"github.com/foxseedlab/voicecal/internal/session"
	"github.com/foxseedlab/voicecal/internal/transcriber"
)

const (
	TransportName = "websocket"

	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultMaxFrameBytes    = 1 << 20
	outboundBuffer          = 64
	shutdownTimeout         = 10 * time.Second
)

type Config struct {
	Addr                string
	DefaultLanguage     string
	MaxUtterancesPerSec float64
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	PingInterval        time.Duration
	MaxFrameBytes       int64
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.MaxUtterancesPerSec <= 0 {
		c.MaxUtterancesPerSec = 2
	}
	return c
}

// Sessions is the part of the session registry the server drives.
type Sessions interface {
	Open(ctx context.Context, opts session.OpenOptions) (*session.Session, error)
	Submit(ctx context.Context, id string, ev session.Event) error
	Close(id, reason string) bool
	List() []session.View
}

// Server exposes one scheduling session per websocket connection plus the
// health and session listing endpoints.
type Server struct {
	cfg      Config
	sessions Sessions
	outcomes repository.OutcomeRepository
	stt      transcriber.Transcriber
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
	conns     sync.WaitGroup
}

// NewServer builds the server. stt may be nil, in which case clients that
// ask for audio get an error frame and continue with text only.
func NewServer(cfg Config, sessions Sessions, outcomes repository.OutcomeRepository, stt transcriber.Transcriber) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		outcomes: outcomes,
		stt:      stt,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/live", s.serveLive)
	mux.HandleFunc("GET /healthz", s.serveHealth)
	mux.HandleFunc("GET /sessions", s.serveSessions)
	mux.HandleFunc("GET /sessions/{id}/outcomes", s.serveOutcomes)
	return mux
}

// Run serves until ctx is done, then stops accepting connections and closes
// the live ones.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.CloseConnections()
	slog.Info("http server stopped")
	return err
}

// CloseConnections ends every live connection and waits for their handlers.
func (s *Server) CloseConnections() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.conns.Wait()
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}

type sessionSummary struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	Transport    string    `json:"transport"`
	Timezone     string    `json:"timezone"`
	OpenedAt     time.Time `json:"opened_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Server) serveSessions(w http.ResponseWriter, _ *http.Request) {
	views := s.sessions.List()
	out := make([]sessionSummary, 0, len(views))
	for _, v := range views {
		out = append(out, sessionSummary{
			ID:           v.ID,
			State:        v.State.String(),
			Transport:    v.Transport,
			Timezone:     v.Timezone,
			OpenedAt:     v.OpenedAt,
			LastActivity: v.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type outcomeRecord struct {
	Kind       string          `json:"kind"`
	State      string          `json:"state"`
	Message    string          `json:"message"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

func (s *Server) serveOutcomes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcomes, err := s.outcomes.ListOutcomesBySessionID(r.Context(), id)
	if err != nil {
		slog.Error("failed to list outcomes", "error", err, "session_id", id)
		writeJSON(w, http.StatusInternalServerError, live.ErrorMessage(live.CodeInternal, "failed to list outcomes"))
		return
	}
	out := make([]outcomeRecord, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, outcomeRecord{
			Kind:       o.Kind,
			State:      o.State,
			Message:    o.Message,
			Payload:    json.RawMessage(o.Payload),
			RecordedAt: o.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "outcomes": out})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func (s *Server) serveLive(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	defer ws.Close()
	ws.SetReadLimit(s.cfg.MaxFrameBytes)

	hello, err := s.readHello(ws)
	if err != nil {
		s.writeDirect(ws, live.ErrorFor(err))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	c := &connection{
		srv:     s,
		ws:      ws,
		ctx:     ctx,
		cancel:  cancel,
		out:     make(chan live.ServerMessage, outboundBuffer),
		limiter: newLimiter(s.cfg.MaxUtterancesPerSec),
	}
	sess, err := s.sessions.Open(ctx, session.OpenOptions{
		Timezone:        hello.Timezone,
		VoicePreference: hello.Voice,
		Transport:       TransportName,
		Emitter:         session.EmitterFunc(c.emit),
	})
	if err != nil {
		s.writeDirect(ws, live.ErrorFor(err))
		return
	}
	c.sessionID = sess.ID()
	c.timezone = sess.View().Timezone
	slog.Info("live connection opened", "session_id", c.sessionID, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.watch(sess)
	}()

	_ = c.send(live.Ready(c.sessionID))
	if hello.Audio != nil {
		c.startAudio(hello)
	}
	reason := c.readLoop()

	cancel()
	if c.audio != nil {
		_ = c.audio.Close()
	}
	s.sessions.Close(c.sessionID, reason)
	wg.Wait()
	slog.Info("live connection closed", "session_id", c.sessionID, "reason", reason)
}

func (s *Server) readHello(ws *websocket.Conn) (live.Hello, error) {
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	mt, data, err := ws.ReadMessage()
	if err != nil {
		return live.Hello{}, &live.ProtocolError{Code: live.CodeBadRequest, Message: "failed to read hello"}
	}
	if mt != websocket.TextMessage {
		return live.Hello{}, &live.ProtocolError{Code: live.CodeBadRequest, Message: "first frame must be hello"}
	}
	msg, err := live.DecodeClientMessage(data)
	if err != nil {
		return live.Hello{}, err
	}
	hello, ok := msg.(live.Hello)
	if !ok {
		return live.Hello{}, &live.ProtocolError{Code: live.CodeBadRequest, Message: "first frame must be hello"}
	}
	return hello, nil
}

// writeDirect is only used before the write loop starts.
func (s *Server) writeDirect(ws *websocket.Conn, msg live.ServerMessage) {
	_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := ws.WriteJSON(msg); err != nil {
		slog.Warn("failed to write frame", "error", err)
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg.Code),
		time.Now().Add(s.cfg.WriteTimeout))
}

func newLimiter(perSec float64) *rate.Limiter {
	burst := int(math.Ceil(perSec))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
