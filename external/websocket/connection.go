package websocket

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/foxseedlab/voicecal/internal/live"
	"github.com/foxseedlab/voicecal/internal/session"
	"github.com/foxseedlab/voicecal/internal/transcriber"
)

const closeGrace = time.Second

// connection owns one websocket. Only writeLoop writes frames; only the
// handler goroutine reads them.
type connection struct {
	srv       *Server
	ws        *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	out       chan live.ServerMessage
	limiter   *rate.Limiter
	sessionID string
	timezone  string

	// audio is owned by the read loop.
	audio transcriber.StreamWriter

	mu     sync.Mutex
	reason string
}

func (c *connection) stop(reason string) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *connection) stopReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		return session.StopReasonConnectionClosed
	}
	return c.reason
}

func (c *connection) emit(_ context.Context, _ string, o session.Outcome) error {
	return c.send(live.OutcomeMessage(o))
}

func (c *connection) send(msg live.ServerMessage) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				slog.Debug("websocket write failed", "session_id", c.sessionID, "error", err)
				c.stop(session.StopReasonConnectionClosed)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.stop(session.StopReasonConnectionClosed)
				return
			}
		case <-c.ctx.Done():
			c.drain()
			deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.stopReason()), deadline)
			// Unblocks the read loop if the peer never answers the close.
			_ = c.ws.UnderlyingConn().SetReadDeadline(time.Now().Add(closeGrace))
			return
		}
	}
}

func (c *connection) drain() {
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(msg live.ServerMessage) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
	return c.ws.WriteJSON(msg)
}

// watch ends the connection when the session is closed elsewhere, for
// example by the idle sweep, and carries its reason to the close frame.
func (c *connection) watch(sess *session.Session) {
	select {
	case <-sess.Done():
		c.stop(sess.CloseReason())
	case <-c.srv.closing:
		c.stop(session.StopReasonServerShutdown)
	case <-c.ctx.Done():
	}
}

// readLoop returns the reason the session should be closed with.
func (c *connection) readLoop() string {
	_ = c.ws.SetReadDeadline(time.Time{})
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "session_id", c.sessionID, "error", err)
			}
			c.stop(session.StopReasonConnectionClosed)
			return c.stopReason()
		}
		if c.ctx.Err() != nil {
			return c.stopReason()
		}

		switch mt {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			msg, err := live.DecodeClientMessage(data)
			if err != nil {
				_ = c.send(live.ErrorFor(err))
				continue
			}
			if done := c.handle(msg); done {
				return c.stopReason()
			}
		}
	}
}

func (c *connection) handle(msg live.ClientMessage) bool {
	switch m := msg.(type) {
	case live.Hello:
		_ = c.send(live.ErrorMessage(live.CodeBadRequest, "session already started"))
	case live.Utterance:
		if !c.allow() {
			return false
		}
		c.submit(session.Utterance{Text: m.Text})
	case live.Request:
		if !c.allow() {
			return false
		}
		req, err := m.MeetingRequest(c.timezone)
		if err != nil {
			_ = c.send(live.ErrorFor(err))
			return false
		}
		c.submit(session.RequestReady{Request: req})
	case live.Cancel:
		c.submit(session.CancelRequested{})
	case live.Bye:
		c.stop(session.StopReasonUserStopped)
		return true
	}
	return false
}

func (c *connection) allow() bool {
	if c.limiter.Allow() {
		return true
	}
	_ = c.send(live.ErrorMessage(live.CodeRateLimited, "too many messages; slow down"))
	return false
}

func (c *connection) submit(ev session.Event) {
	err := c.srv.sessions.Submit(c.ctx, c.sessionID, ev)
	if err == nil {
		return
	}
	_ = c.send(live.ErrorFor(err))
	if errors.Is(err, session.ErrSessionExpired) {
		c.stop("")
	}
}

func (c *connection) startAudio(hello live.Hello) {
	if c.srv.stt == nil {
		_ = c.send(live.ErrorMessage(live.CodeUnavailable, "speech recognition is not configured"))
		return
	}
	lang := hello.Language
	if lang == "" {
		lang = c.srv.cfg.DefaultLanguage
	}
	w, err := c.srv.stt.StartStreaming(c.ctx, c.sessionID, transcriber.StreamConfig{
		Language:     lang,
		SampleRateHz: hello.Audio.SampleRateHz,
		Channels:     hello.Audio.Channels,
	}, &transcriptReceiver{conn: c})
	if err != nil {
		slog.Error("failed to start speech stream", "session_id", c.sessionID, "error", err)
		_ = c.send(live.ErrorMessage(live.CodeUnavailable, "speech recognition is unavailable"))
		return
	}
	c.audio = w
}

func (c *connection) handleAudio(pcm []byte) {
	if c.audio == nil {
		_ = c.send(live.ErrorMessage(live.CodeBadRequest, "audio was not negotiated in hello"))
		return
	}
	if err := c.audio.Write(pcm); err != nil {
		slog.Warn("failed to write audio", "session_id", c.sessionID, "error", err)
		_ = c.audio.Close()
		c.audio = nil
		_ = c.send(live.ErrorMessage(live.CodeUnavailable, "speech recognition stopped"))
	}
}

type transcriptReceiver struct {
	conn *connection
}

func (r *transcriptReceiver) OnResult(_ int, text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if !isFinal || text == "" {
		return
	}
	_ = r.conn.send(live.Transcript(text))
	r.conn.submit(session.Utterance{Text: text})
}

func (r *transcriptReceiver) OnError(err error) {
	slog.Warn("speech stream failed", "session_id", r.conn.sessionID, "error", err)
	_ = r.conn.send(live.ErrorMessage(live.CodeUnavailable, "speech recognition stopped"))
}
