package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/text"
	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	seqs     []uint64
	captions []text.Update
	results  chan uint64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{results: make(chan uint64, 64)}
}

func (s *recordingSink) OnResult(_ string, r *Result) {
	s.mu.Lock()
	s.seqs = append(s.seqs, r.Seq)
	s.mu.Unlock()
	s.results <- r.Seq
}

func (s *recordingSink) OnCaption(_ string, u text.Update) {
	s.mu.Lock()
	s.captions = append(s.captions, u)
	s.mu.Unlock()
}

func (s *recordingSink) Captions() []text.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]text.Update(nil), s.captions...)
}

func newTestSession(t *testing.T, sink Sink) (*Session, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	orch, err := NewOrchestrator(Deps{}, Options{SessionID: "session-test", Clock: clock})
	require.NoError(t, err)
	s := NewSession(orch, DefaultEnhancementConfig(), sink, SessionOptions{Clock: clock})
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestSession_ProcessesSubmittedFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}
	sink := newRecordingSink()
	s, _ := newTestSession(t, sink)
	s.Start(context.Background())

	for i := uint64(1); i <= 3; i++ {
		s.Submit(testFrame(i))
		select {
		case seq := <-sink.results:
			assert.Equal(t, i, seq)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestSession_SubmitNeverBlocks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}
	s, _ := newTestSession(t, NopSink{})

	// Not started, so nothing drains the queue.
	dropped := 0
	for i := uint64(1); i <= 10; i++ {
		dropped += s.Submit(testFrame(i))
	}
	assert.Equal(t, 7, dropped)
}

func TestSession_Config(t *testing.T) {
	s, _ := newTestSession(t, NopSink{})

	cfg := s.Config()
	assert.Equal(t, DefaultEnhancementConfig(), cfg)

	cfg.Background = true
	cfg.BlurIntensity = 99
	got := s.UpdateConfig(cfg)

	assert.Equal(t, 10, got.BlurIntensity)
	assert.Equal(t, got, s.Config())
}

func TestSession_ResetTextNotifiesSink(t *testing.T) {
	sink := newRecordingSink()
	s, _ := newTestSession(t, sink)

	u := s.ResetText()

	assert.True(t, u.Changed)
	require.Len(t, sink.Captions(), 1)
	assert.Equal(t, text.CollectingWord, sink.Captions()[0].Phase)
}

func TestSession_Close(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}
	s, _ := newTestSession(t, NopSink{})
	s.Start(context.Background())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	assert.Equal(t, 1, s.Submit(testFrame(1)), "frames after close are dropped")
	s.Start(context.Background())
}

func TestSession_TickDeliversSamples(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}
	sink := newRecordingSink()
	s, clock := newTestSession(t, sink)
	s.Start(context.Background())

	s.Submit(testFrame(1))
	select {
	case <-sink.results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	// The worker samples on its own ticker.
	assert.Eventually(t, func() bool {
		clock.Advance(250 * time.Millisecond)
		for _, sample := range s.Orchestrator().History() {
			if sample.Processed == 1 {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}
