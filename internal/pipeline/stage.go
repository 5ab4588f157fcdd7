package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrStageTimeout means a stage overran its budget and was skipped.
	ErrStageTimeout = errors.New("stage exceeded its time budget")
	// ErrStageBusy means the stage was still running for an earlier frame.
	ErrStageBusy = errors.New("stage still busy with an earlier frame")
)

// StageError is a recoverable per-frame failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

// MarshalText renders the error for JSON results.
func (e StageError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}

// UnmarshalText restores an error rendered by MarshalText. The cause
// comes back as a plain message.
func (e *StageError) UnmarshalText(text []byte) error {
	stage, msg, ok := strings.Cut(string(text), ": ")
	if !ok {
		return fmt.Errorf("malformed stage error %q", text)
	}
	e.Stage = Stage(stage)
	e.Err = errors.New(msg)
	return nil
}

// stageRunner runs one stage under a budget. A stage that overruns keeps
// running in its goroutine but the frame moves on without it; until it
// finishes, later invocations are refused with ErrStageBusy.
type stageRunner struct {
	stage  Stage
	budget time.Duration
	busy   atomic.Bool
}

func newStageRunner(stage Stage, budget time.Duration) *stageRunner {
	return &stageRunner{stage: stage, budget: budget}
}

// runStage executes fn on a clone of frame. When fn finishes after the
// budget, its result is handed to discard instead of the caller.
func runStage[T any](ctx context.Context, r *stageRunner, frame gocv.Mat, fn func(gocv.Mat) (T, error), discard func(T)) (T, time.Duration, error) {
	var zero T
	if !r.busy.CompareAndSwap(false, true) {
		return zero, 0, ErrStageBusy
	}

	type outcome struct {
		v   T
		err error
	}
	var (
		mu        sync.Mutex
		abandoned bool
		done      = make(chan outcome, 1)
	)

	in := frame.Clone()
	start := time.Now()
	go func() {
		defer r.busy.Store(false)
		defer in.Close()

		v, err := fn(in)

		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if err == nil && discard != nil {
				discard(v)
			}
			return
		}
		done <- outcome{v: v, err: err}
	}()

	timer := time.NewTimer(r.budget)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.v, time.Since(start), o.err
	case <-timer.C:
	case <-ctx.Done():
	}

	mu.Lock()
	abandoned = true
	mu.Unlock()

	// The stage may have finished between the timer firing and the
	// abandon flag being set.
	select {
	case o := <-done:
		return o.v, time.Since(start), o.err
	default:
	}
	if err := ctx.Err(); err != nil {
		return zero, time.Since(start), err
	}
	return zero, time.Since(start), ErrStageTimeout
}
