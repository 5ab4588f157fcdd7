// Package app wires captioning sessions to their surroundings: it owns
// the session registry, persists transcripts, dispatches speech and
// fans results out to live subscribers.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/perf"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/ayusman/mudra/internal/tts"
)

// ErrSessionNotFound is returned for unknown or closed session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Config holds the collaborators shared by every session.
type Config struct {
	Store  *store.Store
	Deps   pipeline.Deps
	Tuning pipeline.Tuning

	// Synthesizer speaks confirmed sentences. Speech is off when nil.
	Synthesizer   tts.Synthesizer
	SpeechQueue   int
	SpeechTimeout time.Duration

	Clock        timeutil.Clock
	Usage        perf.Usage
	QueueDepth   int
	TickInterval time.Duration
}

// SessionOptions describe a new session.
type SessionOptions struct {
	// Profile names a stored enhancement profile. Empty uses the
	// default profile when one is stored.
	Profile string
	// Config overrides the profile.
	Config *pipeline.EnhancementConfig
	// Source is store.SourceRemote or store.SourceCamera.
	Source string
}

// SessionInfo summarises a live session.
type SessionInfo struct {
	ID          string                     `json:"id"`
	Source      string                     `json:"source"`
	Profile     string                     `json:"profile,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	Config      pipeline.EnhancementConfig `json:"config"`
	Recognition bool                       `json:"recognition"`
}

type liveSession struct {
	*pipeline.Session
	info    SessionInfo
	seq     capture.Sequencer
	preview *Preview
}

// App is the session manager.
type App struct {
	cfg     Config
	log     zerolog.Logger
	hub     *Hub
	speaker *tts.Speaker

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*liveSession
	closed   bool

	sentenceMu sync.RWMutex
	onSentence []func(sessionID, text string)
}

// New creates an App. Sessions run until Close.
func New(cfg Config) *App {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Deps.Matcher == nil {
		cfg.Deps.Matcher = gesture.NewStaticMatcher()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:      cfg,
		log:      observability.WithComponent("app"),
		hub:      NewHub(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*liveSession),
	}
	if cfg.Synthesizer != nil {
		a.speaker = tts.NewSpeaker(cfg.Synthesizer, cfg.SpeechQueue, cfg.SpeechTimeout, a.onSpeech)
	}
	return a
}

// Hub returns the event hub that live subscribers attach to.
func (a *App) Hub() *Hub { return a.hub }

// Matcher returns the shared control template matcher.
func (a *App) Matcher() *gesture.StaticMatcher { return a.cfg.Deps.Matcher }

// Recognition reports whether sessions can recognise signs.
func (a *App) Recognition() bool { return a.cfg.Deps.Detector != nil }

// Speech reports whether confirmed sentences are spoken.
func (a *App) Speech() bool { return a.speaker != nil }

// OnSentence registers fn to be called for every confirmed sentence.
// Hooks run in registration order on the session worker and must not
// block.
func (a *App) OnSentence(fn func(sessionID, text string)) {
	a.sentenceMu.Lock()
	defer a.sentenceMu.Unlock()
	a.onSentence = append(a.onSentence, fn)
}

// LoadTemplates replaces the matcher's templates with every trained
// template in the store.
func (a *App) LoadTemplates() error {
	if a.cfg.Store == nil {
		return nil
	}

	stored, err := a.cfg.Store.Templates().List()
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}

	templates := make([]*gesture.Template, 0, len(stored))
	for _, t := range stored {
		if !t.Trained() {
			continue
		}
		var points []detector.Point3D
		if err := json.Unmarshal(t.Landmarks, &points); err != nil {
			a.log.Warn().Err(err).Str("template", t.Name).Msg("skipping template with unreadable landmarks")
			continue
		}
		templates = append(templates, &gesture.Template{
			ID:        t.ID,
			Name:      t.Name,
			Control:   gesture.Control(t.Control),
			Landmarks: points,
			Tolerance: t.Tolerance,
		})
	}

	a.cfg.Deps.Matcher.SetTemplates(templates)
	a.log.Info().Int("templates", len(templates)).Msg("loaded control templates")
	return nil
}

// resolveConfig starts from the defaults, applies the named or default
// profile, then the explicit override.
func (a *App) resolveConfig(opts SessionOptions) (pipeline.EnhancementConfig, error) {
	cfg := pipeline.DefaultEnhancementConfig()
	if a.cfg.Store != nil {
		name := opts.Profile
		if name == "" {
			name = store.DefaultProfile
		}
		p, err := a.cfg.Store.Profiles().Get(name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if opts.Profile != "" {
				return cfg, fmt.Errorf("profile %q: %w", opts.Profile, err)
			}
		case err != nil:
			return cfg, fmt.Errorf("load profile %q: %w", name, err)
		default:
			if err := json.Unmarshal(p.Config, &cfg); err != nil {
				return cfg, fmt.Errorf("profile %q: %w", name, err)
			}
		}
	}
	if opts.Config != nil {
		cfg = *opts.Config
	}
	return cfg.Validate(), nil
}

// CreateSession starts a new session.
func (a *App) CreateSession(opts SessionOptions) (SessionInfo, error) {
	if opts.Source == "" {
		opts.Source = store.SourceRemote
	}
	cfg, err := a.resolveConfig(opts)
	if err != nil {
		return SessionInfo{}, err
	}

	id := uuid.NewString()
	orch, err := pipeline.NewOrchestrator(a.cfg.Deps, pipeline.Options{
		SessionID: id,
		Clock:     a.cfg.Clock,
		Usage:     a.cfg.Usage,
		Tuning:    a.cfg.Tuning,
	})
	if err != nil {
		return SessionInfo{}, fmt.Errorf("create pipeline: %w", err)
	}

	sess := pipeline.NewSession(orch, cfg, a, pipeline.SessionOptions{
		Clock:        a.cfg.Clock,
		TickInterval: a.cfg.TickInterval,
		QueueDepth:   a.cfg.QueueDepth,
	})
	live := &liveSession{
		Session: sess,
		info: SessionInfo{
			ID:          id,
			Source:      opts.Source,
			Profile:     opts.Profile,
			CreatedAt:   a.cfg.Clock.Now(),
			Recognition: orch.Recognition(),
		},
		preview: NewPreview(),
	}

	if a.cfg.Store != nil {
		rec := &store.Session{ID: id, Source: opts.Source, Profile: opts.Profile}
		if err := a.cfg.Store.Sessions().Create(rec); err != nil {
			sess.Close()
			return SessionInfo{}, fmt.Errorf("record session: %w", err)
		}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		sess.Close()
		return SessionInfo{}, ErrSessionNotFound
	}
	a.sessions[id] = live
	a.mu.Unlock()

	sess.Start(a.ctx)
	a.log.Info().Str("session_id", id).Str("source", opts.Source).Bool("recognition", orch.Recognition()).Msg("session created")
	return live.snapshot(), nil
}

func (l *liveSession) snapshot() SessionInfo {
	info := l.info
	info.Config = l.Config()
	return info
}

func (a *App) lookup(id string) (*liveSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Session returns a live session.
func (a *App) Session(id string) (*pipeline.Session, error) {
	s, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.Session, nil
}

// Info describes a live session.
func (a *App) Info(id string) (SessionInfo, error) {
	s, err := a.lookup(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.snapshot(), nil
}

// Sessions lists live sessions, oldest first.
func (a *App) Sessions() []SessionInfo {
	a.mu.RLock()
	infos := make([]SessionInfo, 0, len(a.sessions))
	for _, s := range a.sessions {
		infos = append(infos, s.snapshot())
	}
	a.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// SubmitFrame decodes an encoded image and queues it on a session. It
// returns the number of frames dropped to make room.
func (a *App) SubmitFrame(id string, data []byte) (int, error) {
	s, err := a.lookup(id)
	if err != nil {
		return 0, err
	}
	f, err := capture.DecodeFrame(s.seq.Next(), a.cfg.Clock.Now(), data)
	if err != nil {
		return 0, err
	}
	return s.Submit(f), nil
}

// Submit queues an already decoded frame, taking ownership of it.
func (a *App) Submit(id string, f *capture.Frame) (int, error) {
	s, err := a.lookup(id)
	if err != nil {
		f.Close()
		return 0, err
	}
	return s.Submit(f), nil
}

// Preview returns the enhanced-frame preview of a session.
func (a *App) Preview(id string) (*Preview, error) {
	s, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.preview, nil
}

// Transcript returns the persisted sentences of a session, live or not.
func (a *App) Transcript(id string) ([]store.Sentence, error) {
	if a.cfg.Store == nil {
		return nil, nil
	}
	if _, err := a.cfg.Store.Sessions().Get(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return a.cfg.Store.Sessions().Transcript(id)
}

// CloseSession stops a session and disconnects its subscribers.
func (a *App) CloseSession(id string) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return a.shutdown(s)
}

func (a *App) shutdown(s *liveSession) error {
	err := s.Close()
	s.preview.Close()
	a.hub.Publish(Event{Type: EventClosed, SessionID: s.ID()})
	a.hub.CloseSession(s.ID())
	if a.cfg.Store != nil {
		if serr := a.cfg.Store.Sessions().Close(s.ID()); serr != nil && !errors.Is(serr, store.ErrNotFound) {
			a.log.Warn().Err(serr).Str("session_id", s.ID()).Msg("failed to record session close")
		}
	}
	a.log.Info().Str("session_id", s.ID()).Msg("session closed")
	return err
}

// Close stops every session and the speaker.
func (a *App) Close() error {
	a.mu.Lock()
	a.closed = true
	sessions := make([]*liveSession, 0, len(a.sessions))
	for id, s := range a.sessions {
		sessions = append(sessions, s)
		delete(a.sessions, id)
	}
	a.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := a.shutdown(s); err != nil {
			errs = append(errs, err)
		}
	}
	a.cancel()
	if a.speaker != nil {
		a.speaker.Close()
	}
	return errors.Join(errs...)
}
