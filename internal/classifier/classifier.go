// Package classifier recognises fingerspelled letters from hand crops and
// debounces the per-frame results into stable letters.
package classifier

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// Reserved labels. Every other label is a single letter A-Z.
const (
	LabelSpace  = "space"
	LabelDelete = "delete"
	LabelNone   = "none"
)

// ErrModelNotFound is returned by NewEngine when the model file is missing.
var ErrModelNotFound = errors.New("classification model not found")

// modelClasses is the output order of the trained model.
var modelClasses = func() []string {
	classes := make([]string, 0, 29)
	for c := 'A'; c <= 'Z'; c++ {
		classes = append(classes, string(c))
	}
	return append(classes, "space", "del", "nothing")
}()

// Result is one per-frame classification.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// None is the empty classification.
func None() Result {
	return Result{Label: LabelNone}
}

// IsLetter reports whether label is one of A-Z.
func IsLetter(label string) bool {
	return len(label) == 1 && label[0] >= 'A' && label[0] <= 'Z'
}

// Confident reports whether r is a non-none result at or above floor.
func (r Result) Confident(floor float64) bool {
	return r.Label != LabelNone && r.Label != "" && r.Confidence >= floor
}

// Classifier labels a BGR hand crop.
type Classifier interface {
	Classify(ctx context.Context, crop gocv.Mat) Result
	Close() error
}

// Unavailable is used when no model is loaded. It always reports none.
type Unavailable struct{}

// Classify returns None.
func (Unavailable) Classify(context.Context, gocv.Mat) Result { return None() }

// Close is a no-op.
func (Unavailable) Close() error { return nil }

// labelFor maps a model class name to a public label.
func labelFor(class string) string {
	switch class {
	case "del":
		return LabelDelete
	case "nothing":
		return LabelNone
	default:
		return class
	}
}
