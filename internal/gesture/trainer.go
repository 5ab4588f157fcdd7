package gesture

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/mudra/internal/detector"
)

// MinSamples is the number of recorded poses needed to train a template.
const MinSamples = 3

// ErrNoSamples is returned when training is attempted without samples.
var ErrNoSamples = errors.New("no samples provided")

// Sample is one recorded pose as stored by the samples API.
type Sample struct {
	Landmarks []detector.Point3D `json:"landmarks"`
	Timestamp int64              `json:"timestamp"`
}

// NewSample normalizes hand into a storable sample.
func NewSample(hand detector.HandLandmarks, timestamp int64) Sample {
	n := hand.Normalize()
	return Sample{Landmarks: append([]detector.Point3D(nil), n.Points[:]...), Timestamp: timestamp}
}

// Trainer turns recorded samples into template landmarks.
type Trainer struct{}

// NewTrainer creates a Trainer.
func NewTrainer() *Trainer {
	return &Trainer{}
}

// TrainStatic decodes samples and averages them point by point. Every
// sample must carry the same number of landmarks.
func (t *Trainer) TrainStatic(samples []json.RawMessage) ([]detector.Point3D, error) {
	poses, err := decodeSamples(samples)
	if err != nil {
		return nil, err
	}
	return meanPose(poses), nil
}

func decodeSamples(samples []json.RawMessage) ([][]detector.Point3D, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	poses := make([][]detector.Point3D, len(samples))
	for i, raw := range samples {
		var s Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to parse sample %d: %w", i, err)
		}
		switch {
		case len(s.Landmarks) == 0:
			return nil, fmt.Errorf("sample %d has no landmarks", i)
		case i > 0 && len(s.Landmarks) != len(poses[0]):
			return nil, fmt.Errorf("sample %d has %d landmarks, expected %d", i, len(s.Landmarks), len(poses[0]))
		}
		poses[i] = s.Landmarks
	}
	return poses, nil
}

func meanPose(poses [][]detector.Point3D) []detector.Point3D {
	xs := make([]float64, len(poses))
	ys := make([]float64, len(poses))
	zs := make([]float64, len(poses))

	out := make([]detector.Point3D, len(poses[0]))
	for i := range out {
		for j, pose := range poses {
			xs[j], ys[j], zs[j] = pose[i].X, pose[i].Y, pose[i].Z
		}
		out[i] = detector.Point3D{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
	}
	return out
}
