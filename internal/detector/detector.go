package detector

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrUnavailable is returned at startup when the hand detection
// capability cannot be provided. It is never returned per frame.
var ErrUnavailable = errors.New("hand detection capability unavailable")

// Detector is the external hand-landmark capability.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands the worker reports.
	MaxHands int `yaml:"max_hands"`

	// MinConfidence drops hands scored below it (0.0-1.0).
	MinConfidence float64 `yaml:"min_confidence"`

	// MinTrackingConf is the worker's tracking confidence (0.0-1.0).
	MinTrackingConf float64 `yaml:"min_tracking_confidence"`

	// ScriptPath and PythonPath override worker discovery when set.
	ScriptPath string `yaml:"-"`
	PythonPath string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        2,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}

// HandDetection is the per-frame hand state. Present is the
// discriminator: when false, Landmarks is zero and Err may carry the
// reason a detection attempt failed. A frame with no hand in view has
// Present=false and a nil Err.
type HandDetection struct {
	Present    bool
	Landmarks  [NumLandmarks]Point3D
	Confidence float64
	Handedness string
	Err        error
}

// NoHand returns an absent detection with an optional failure reason.
func NoHand(err error) HandDetection {
	return HandDetection{Err: err}
}

// Hand returns the detection as HandLandmarks.
func (d HandDetection) Hand() HandLandmarks {
	return HandLandmarks{
		Points:     d.Landmarks,
		Handedness: d.Handedness,
		Score:      d.Confidence,
	}
}

// Adapter turns a Detector into the never-failing per-frame contract
// used by the pipeline.
type Adapter struct {
	detector      Detector
	minConfidence float64
}

// NewAdapter wraps d. Hands scored below minConfidence are ignored.
func NewAdapter(d Detector, minConfidence float64) *Adapter {
	return &Adapter{detector: d, minConfidence: minConfidence}
}

// Detect runs the detector and selects the primary hand, the one with
// the highest score. It never returns an error; failures are carried in
// HandDetection.Err.
func (a *Adapter) Detect(frame *gocv.Mat) HandDetection {
	if a == nil || a.detector == nil {
		return NoHand(ErrUnavailable)
	}
	if frame == nil || frame.Empty() {
		return NoHand(errors.New("empty frame"))
	}

	hands, err := a.detector.Detect(frame)
	if err != nil {
		return NoHand(fmt.Errorf("detect hands: %w", err))
	}

	best := -1
	for i := range hands {
		if hands[i].Score < a.minConfidence {
			continue
		}
		if best < 0 || hands[i].Score > hands[best].Score {
			best = i
		}
	}
	if best < 0 {
		return NoHand(nil)
	}

	h := hands[best]
	return HandDetection{
		Present:    true,
		Landmarks:  h.Points,
		Confidence: h.Score,
		Handedness: h.Handedness,
	}
}

// Close closes the underlying detector.
func (a *Adapter) Close() error {
	if a == nil || a.detector == nil {
		return nil
	}
	return a.detector.Close()
}
