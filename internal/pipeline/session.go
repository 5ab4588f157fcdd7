package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/text"
	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/rs/zerolog"
)

// DefaultTickInterval is how often a session checks text idle timers.
const DefaultTickInterval = 250 * time.Millisecond

// Sink receives a session's output. It is called from the session
// worker. The Result is closed after OnResult returns, so a sink that
// keeps the frame must clone it.
type Sink interface {
	OnResult(sessionID string, r *Result)
	OnCaption(sessionID string, u text.Update)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnResult(string, *Result)      {}
func (NopSink) OnCaption(string, text.Update) {}

// SessionOptions configure a Session.
type SessionOptions struct {
	Clock        timeutil.Clock
	TickInterval time.Duration
	QueueDepth   int
}

// Session feeds frames through one orchestrator on a single worker
// goroutine.
type Session struct {
	id    string
	orch  *Orchestrator
	queue *Queue
	sink  Sink
	clock timeutil.Clock
	every time.Duration
	log   zerolog.Logger

	cfg atomic.Pointer[EnhancementConfig]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	closed  atomic.Bool
}

// NewSession wraps orch. The session takes ownership of orch.
func NewSession(orch *Orchestrator, cfg EnhancementConfig, sink Sink, opts SessionOptions) *Session {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	s := &Session{
		id:    orch.ID(),
		orch:  orch,
		queue: NewQueue(opts.QueueDepth),
		sink:  sink,
		clock: opts.Clock,
		every: opts.TickInterval,
		log:   observability.WithSession(orch.ID()),
		done:  make(chan struct{}),
	}
	cfg = cfg.Validate()
	s.cfg.Store(&cfg)
	observability.SessionOpened()
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Start launches the worker. It is a no-op after the first call.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed.Load() {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	s.log.Info().Msg("session started")
}

// Submit enqueues f without blocking and takes ownership of it. It
// returns the number of frames dropped to make room.
func (s *Session) Submit(f *capture.Frame) int {
	if s.closed.Load() {
		f.Close()
		return 1
	}
	dropped := s.queue.Push(f)
	s.orch.RecordSkipped(dropped)
	return dropped
}

// UpdateConfig replaces the enhancement config from the next frame on.
func (s *Session) UpdateConfig(cfg EnhancementConfig) EnhancementConfig {
	cfg = cfg.Validate()
	s.cfg.Store(&cfg)
	return cfg
}

// Config returns the current enhancement config.
func (s *Session) Config() EnhancementConfig {
	return *s.cfg.Load()
}

// Metrics returns the latest performance metrics.
func (s *Session) Metrics() Metrics {
	return s.orch.Metrics()
}

// ResetText clears the session's caption state.
func (s *Session) ResetText() text.Update {
	u := s.orch.ResetText()
	u.Changed = true
	s.sink.OnCaption(s.id, u)
	return u
}

// Text returns a copy of the session's text.
func (s *Session) Text() text.State {
	return s.orch.Text()
}

// Orchestrator returns the session's pipeline.
func (s *Session) Orchestrator() *Orchestrator {
	return s.orch
}

// Close stops the worker. A frame already in Process finishes but its
// result is discarded. Buffered frames are dropped.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	if started {
		<-s.done
	}

	s.queue.Close()
	s.orch.Close()
	observability.SessionClosed(s.id)
	s.log.Info().Msg("session closed")
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue.Ready():
			s.drain(ctx)
		case now := <-ticker.C():
			s.tick(now)
		}
	}
}

func (s *Session) drain(ctx context.Context) {
	for ctx.Err() == nil {
		f, ok := s.queue.Pop()
		if !ok {
			return
		}
		res := s.orch.Process(ctx, f, s.Config())
		f.Close()

		if ctx.Err() != nil {
			res.Close()
			return
		}
		if res.Caption != nil {
			s.sink.OnCaption(s.id, *res.Caption)
		}
		s.sink.OnResult(s.id, &res)
		res.Close()
	}
}

func (s *Session) tick(now time.Time) {
	tr := s.orch.Tick(now)
	if tr.Caption != nil {
		s.sink.OnCaption(s.id, *tr.Caption)
	}
}
