package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/timeutil"
)

func flickerCamera() *capture.ReplayCamera {
	return capture.NewReplayCamera([]gocv.Mat{
		capture.SolidFrame(48, 64, 0, 0, 0),
		capture.SolidFrame(48, 64, 255, 255, 255),
	}, true)
}

func TestCameraFeed_SubmitsOnMotion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	a := newTestApp(t, Config{Clock: clock, Store: newTestStore(t)})
	cam := flickerCamera()
	feed := NewCameraFeed(a, cam, 0)
	defer feed.Close()

	info, err := feed.Start(SessionOptions{})
	require.NoError(t, err)
	assert.Equal(t, store.SourceCamera, info.Source)
	assert.Equal(t, info.ID, feed.SessionID())
	assert.Equal(t, capture.IdleFPS, cam.FPS(), "feed starts idle")

	again, err := feed.Start(SessionOptions{})
	require.NoError(t, err)
	assert.Equal(t, info.ID, again.ID, "starting twice keeps the session")

	sub := a.Hub().Subscribe(info.ID, 0)
	defer sub.Close()

	require.Eventually(t, func() bool {
		clock.Advance(250 * time.Millisecond)
		select {
		case e := <-sub.C:
			return e.Type == EventResult
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, feed.Stop())
	assert.Empty(t, feed.SessionID())
	assert.False(t, cam.IsOpen())
	_, err = a.Session(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, feed.Stop(), "stopping a stopped feed is a no-op")
}

func TestCameraFeed_PausedFeedSubmitsNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	a := newTestApp(t, Config{Clock: clock})
	feed := NewCameraFeed(a, flickerCamera(), 0)
	defer feed.Close()
	feed.SetEnabled(false)
	assert.False(t, feed.Enabled())

	info, err := feed.Start(SessionOptions{})
	require.NoError(t, err)
	sub := a.Hub().Subscribe(info.ID, 0)
	defer sub.Close()

	for i := 0; i < 20; i++ {
		clock.Advance(250 * time.Millisecond)
		time.Sleep(2 * time.Millisecond)
	}

	for len(sub.C) > 0 {
		e := <-sub.C
		assert.NotEqual(t, EventResult, e.Type)
	}
}
