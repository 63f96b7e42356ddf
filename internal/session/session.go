package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/voicecal/internal/intent"
	"github.com/foxseedlab/voicecal/internal/schedule"
)

const DefaultQueueSize = 16

// View is an immutable snapshot of a session, safe to read from any
// goroutine.
type View struct {
	ID              string
	State           State
	Transport       string
	Timezone        string
	VoicePreference string
	Pending         *schedule.MeetingRequest
	Suggestions     []schedule.Suggestion
	Draft           intent.Draft
	OpenedAt        time.Time
	LastActivity    time.Time
}

// Observer sees every outcome and the close of a session, including
// outcomes produced after the connection went away.
type Observer interface {
	SessionOpened(ctx context.Context, v View)
	OutcomeEmitted(ctx context.Context, v View, o Outcome)
	SessionClosed(ctx context.Context, v View, reason string)
}

type sessionOptions struct {
	id              string
	timezone        string
	voicePreference string
	transport       string
	queueSize       int
	emitter         Emitter
	observer        Observer
	deps            Deps
	machine         MachineConfig
	now             func() time.Time
}

// Session serializes all events of one conversation through a single
// worker goroutine. Only the worker touches the machine.
type Session struct {
	id              string
	transport       string
	timezone        string
	voicePreference string
	openedAt        time.Time

	emitter  Emitter
	observer Observer
	now      func() time.Time
	m        *machine

	inbox        chan Event
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	view         atomic.Pointer[View]
	lastActivity atomic.Int64
	stepCancel   atomic.Pointer[context.CancelFunc]
	closed       atomic.Bool
	closeReason  atomic.Pointer[string]
	closeOnce    sync.Once
}

func newSession(opts sessionOptions) *Session {
	if opts.queueSize <= 0 {
		opts.queueSize = DefaultQueueSize
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:              opts.id,
		transport:       opts.transport,
		timezone:        opts.timezone,
		voicePreference: opts.voicePreference,
		openedAt:        opts.now(),
		emitter:         opts.emitter,
		observer:        opts.observer,
		now:             opts.now,
		m:               newMachine(opts.id, opts.timezone, opts.deps, opts.machine, opts.now),
		inbox:           make(chan Event, opts.queueSize),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	s.m.onTransition = s.publish
	s.lastActivity.Store(s.openedAt.UnixNano())
	s.publish()
	return s
}

func (s *Session) start() {
	go s.run()
}

func (s *Session) ID() string {
	return s.id
}

// View returns the state published after the latest transition.
func (s *Session) View() View {
	v := *s.view.Load()
	v.LastActivity = s.LastActivity()
	return v
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).In(s.openedAt.Location())
}

// Done is closed once the worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Submit enqueues ev. A cancel aborts the step in flight first unless the
// session is committing.
func (s *Session) Submit(ctx context.Context, ev Event) error {
	if s.closed.Load() {
		return ErrSessionExpired
	}
	s.lastActivity.Store(s.now().UnixNano())

	cancelling := isCancel(ev)
	if cancelling && s.view.Load().State != Committing {
		if cancelStep := s.stepCancel.Load(); cancelStep != nil {
			(*cancelStep)()
		}
	}

	select {
	case s.inbox <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrSessionExpired
	default:
	}
	if !cancelling {
		slog.Warn("session queue is full; dropping event", "session_id", s.id)
		return ErrQueueFull
	}
	select {
	case s.inbox <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrSessionExpired
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the session. A commit already dispatched runs to
// completion; its outcome reaches the observer but not the emitter.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason.Store(&reason)
		s.closed.Store(true)
		s.cancel()
		slog.Info("session closing", "session_id", s.id, "reason", reason)
	})
}

// CloseReason is empty until Close has been called.
func (s *Session) CloseReason() string {
	if r := s.closeReason.Load(); r != nil {
		return *r
	}
	return ""
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.terminate()
			return
		case ev := <-s.inbox:
			if s.ctx.Err() != nil {
				s.terminate()
				return
			}
			s.step(ev)
		}
	}
}

func (s *Session) step(ev Event) {
	stepCtx, cancel := context.WithCancel(s.ctx)
	s.stepCancel.Store(&cancel)
	defer func() {
		s.stepCancel.Store(nil)
		cancel()
	}()

	outcomes := s.m.handle(stepCtx, ev)
	s.publish()
	for _, o := range outcomes {
		s.emit(o)
	}
}

func (s *Session) emit(o Outcome) {
	ctx := context.WithoutCancel(s.ctx)
	v := s.View()
	if s.observer != nil {
		s.observer.OutcomeEmitted(ctx, v, o)
	}
	if s.closed.Load() {
		slog.Info("dropping outcome for closed session", "session_id", s.id, "kind", string(o.Kind()))
		return
	}
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, s.id, o); err != nil {
		slog.Warn("failed to emit outcome", "session_id", s.id, "kind", string(o.Kind()), "error", err)
	}
}

func (s *Session) terminate() {
	s.m.reset()
	s.m.state = Terminated
	s.publish()
	if s.observer != nil {
		s.observer.SessionClosed(context.WithoutCancel(s.ctx), s.View(), s.CloseReason())
	}
}

func (s *Session) publish() {
	m := s.m
	v := &View{
		ID:              s.id,
		State:           m.state,
		Transport:       s.transport,
		Timezone:        s.timezone,
		VoicePreference: s.voicePreference,
		Suggestions:     slices.Clone(m.suggestions),
		Draft:           m.draft,
		OpenedAt:        s.openedAt,
	}
	if m.pending != nil {
		p := m.pending.WithRange(m.pending.Range)
		v.Pending = &p
	}
	s.view.Store(v)
}
