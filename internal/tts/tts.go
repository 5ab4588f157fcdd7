// Package tts speaks confirmed sentences. Speech is fire-and-forget:
// captions never wait for it and failures are only logged and counted.
package tts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/observability"
	"github.com/rs/zerolog"
)

// ErrEmptyText is returned for blank sentences.
var ErrEmptyText = errors.New("nothing to speak")

// Audio is synthesized speech.
type Audio struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
	Name() string
}

// Utterance is one sentence waiting to be spoken.
type Utterance struct {
	SessionID string
	Text      string
}

// Handler receives synthesized audio.
type Handler func(u Utterance, a Audio)

// Speaker queues sentences for a Synthesizer on one worker goroutine.
type Speaker struct {
	synth   Synthesizer
	handler Handler
	timeout time.Duration
	queue   chan Utterance
	log     zerolog.Logger

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSpeaker starts a speaker holding at most depth pending sentences.
// handler may be nil.
func NewSpeaker(synth Synthesizer, depth int, timeout time.Duration, handler Handler) *Speaker {
	if depth <= 0 {
		depth = 8
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Speaker{
		synth:   synth,
		handler: handler,
		timeout: timeout,
		queue:   make(chan Utterance, depth),
		log:     observability.WithComponent("tts").With().Str("synthesizer", synth.Name()).Logger(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Speak enqueues text without blocking. It reports false when the
// sentence was dropped because the queue is full.
func (s *Speaker) Speak(sessionID, text string) bool {
	if text == "" {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- Utterance{SessionID: sessionID, Text: text}:
		return true
	default:
		observability.RecordSpeechDropped()
		s.log.Warn().Str("session_id", sessionID).Msg("speech queue full, dropping sentence")
		return false
	}
}

// Close stops the worker. Pending sentences are dropped and an in-flight
// synthesis is cancelled.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Speaker) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.queue:
			s.speak(ctx, u)
		}
	}
}

func (s *Speaker) speak(ctx context.Context, u Utterance) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	audio, err := s.synth.Synthesize(ctx, u.Text)
	observability.RecordSpeech(err == nil, time.Since(start))
	if err != nil {
		s.log.Error().Err(err).Str("session_id", u.SessionID).Msg("speech synthesis failed")
		return
	}
	if s.handler != nil {
		s.handler(u, audio)
	}
}
