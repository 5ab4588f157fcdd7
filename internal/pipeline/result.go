package pipeline

import (
	"time"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/enhance"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/movement"
	"github.com/ayusman/mudra/internal/perf"
	"github.com/ayusman/mudra/internal/text"
	"gocv.io/x/gocv"
)

// Result is the outcome of one processed frame. Frame is owned by the
// caller and must be closed.
type Result struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Frame     gocv.Mat  `json:"-"`

	Hand           *detector.HandDetection `json:"-"`
	Movement       movement.Sample         `json:"movement"`
	Classification *classifier.Result      `json:"classification,omitempty"`
	Letter         string                  `json:"letter,omitempty"`
	Control        *gesture.Event          `json:"control,omitempty"`
	Caption        *text.Update            `json:"caption,omitempty"`

	Lighting   *enhance.LightingStats   `json:"lighting,omitempty"`
	Face       *enhance.FaceStats       `json:"face,omitempty"`
	Background *enhance.BackgroundStats `json:"background,omitempty"`

	Timings     map[Stage]time.Duration `json:"timings"`
	Errors      []StageError            `json:"errors,omitempty"`
	Recognition bool                    `json:"recognition"`
}

// Close releases the output frame.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	return r.Frame.Close()
}

// HandPresent reports whether a hand was detected this frame.
func (r *Result) HandPresent() bool {
	return r.Hand != nil && r.Hand.Present
}

// TickResult is what a periodic tick produced.
type TickResult struct {
	// Sample is set when a performance sample was taken.
	Sample *perf.Sample
	// Decision is the quality controller's reaction to new samples.
	Decision perf.Decision
	// Caption is set when an idle timeout changed the text.
	Caption *text.Update
}

// Metrics is the performance view of a session.
type Metrics struct {
	perf.Sample
	Disabled    []string `json:"disabled_stages"`
	Recognition bool     `json:"recognition"`
}

// mergeCaption folds b into a, keeping confirmations from both.
func mergeCaption(a *text.Update, b text.Update) *text.Update {
	if !b.Changed {
		return a
	}
	if a == nil {
		return &b
	}
	if b.ConfirmedWord == "" {
		b.ConfirmedWord = a.ConfirmedWord
	}
	if b.ConfirmedSentence == "" {
		b.ConfirmedSentence = a.ConfirmedSentence
		if a.ConfirmedSentence != "" && b.Phase != text.SentenceConfirmed {
			b.Phase = text.SentenceConfirmed
		}
	}
	b.Suppressed = b.Suppressed || a.Suppressed
	return &b
}
