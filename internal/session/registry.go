package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxseedlab/voicecal/internal/schedule"
)

const (
	DefaultIdleTimeout = 3 * time.Minute

	StopReasonIdleTimeout      = "idle timeout"
	StopReasonConnectionClosed = "connection closed"
	StopReasonUserStopped      = "stopped by user"
	StopReasonServerShutdown   = "server shutdown"
)

type RegistryConfig struct {
	IdleTimeout     time.Duration
	QueueSize       int
	DefaultTimezone string
	Machine         MachineConfig
	// Now overrides the clock used for idle tracking.
	Now func() time.Time
}

type OpenOptions struct {
	// ID is generated when empty.
	ID              string
	Timezone        string
	VoicePreference string
	Transport       string
	Emitter         Emitter
}

// Registry maps session ids to live sessions. It does not serialize access
// across sessions; each session has its own worker.
type Registry struct {
	cfg      RegistryConfig
	deps     Deps
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(cfg RegistryConfig, deps Deps, observer Observer) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		observer: observer,
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// Open creates and starts a session.
func (r *Registry) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	tz := strings.TrimSpace(opts.Timezone)
	if tz == "" {
		tz = r.cfg.DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", schedule.ErrInputContractViolation, tz)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		if !r.expired(existing) {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
		}
		delete(r.sessions, id)
		existing.Close(StopReasonIdleTimeout)
	}
	s := newSession(sessionOptions{
		id:              id,
		timezone:        tz,
		voicePreference: opts.VoicePreference,
		transport:       opts.Transport,
		queueSize:       r.cfg.QueueSize,
		emitter:         opts.Emitter,
		observer:        r.observer,
		deps:            r.deps,
		machine:         r.cfg.Machine,
		now:             r.now,
	})
	r.sessions[id] = s
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SessionOpened(ctx, s.View())
	}
	s.start()
	slog.Info("session opened", "session_id", id, "transport", opts.Transport, "timezone", tz)
	return s, nil
}

// Get returns the live session for id. A session idle longer than the
// configured window is closed and reported as absent.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	if r.expired(s) {
		delete(r.sessions, id)
		r.mu.Unlock()
		s.Close(StopReasonIdleTimeout)
		return nil, false
	}
	r.mu.Unlock()
	return s, true
}

// Submit looks the session up and enqueues ev.
func (r *Registry) Submit(ctx context.Context, id string, ev Event) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionExpired, id)
	}
	return s.Submit(ctx, ev)
}

func (r *Registry) Close(id, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Close(reason)
	return true
}

// Sweep closes every idle session and returns how many were evicted.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if r.expired(s) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()
	for _, s := range expired {
		s.Close(StopReasonIdleTimeout)
	}
	return len(expired)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns views of all live sessions ordered by open time.
func (r *Registry) List() []View {
	r.mu.Lock()
	views := make([]View, 0, len(r.sessions))
	for _, s := range r.sessions {
		views = append(views, s.View())
	}
	r.mu.Unlock()
	slices.SortFunc(views, func(a, b View) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return views
}

// CloseAll closes every session and waits for their workers, bounded by ctx.
func (r *Registry) CloseAll(ctx context.Context, reason string) error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close(reason)
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
		}
	}
	return nil
}

func (r *Registry) expired(s *Session) bool {
	return r.now().Sub(s.LastActivity()) > r.cfg.IdleTimeout
}
