package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/pipeline"
)

func TestLoadTuning_EmptyPath(t *testing.T) {
	got, err := LoadTuning("")
	if err != nil {
		t.Fatalf("LoadTuning() failed: %v", err)
	}
	want := DefaultTuning()
	if got.Stability != want.Stability || got.Text != want.Text || got.Budgets != want.Budgets {
		t.Errorf("expected defaults, got %+v", got)
	}
}

func TestParseTuning(t *testing.T) {
	data := []byte(`
detector:
  max_hands: 1
engine:
  layout: nchw
  input_size: 192
stability:
  capacity: 9
  majority: 6
  min_confidence: 0.9
gesture:
  hold_frames: 10
text:
  word_idle: 2s
budgets:
  background: 200ms
`)

	got, err := ParseTuning(data)
	if err != nil {
		t.Fatalf("ParseTuning() failed: %v", err)
	}

	if got.Detector.MaxHands != 1 {
		t.Errorf("expected max hands 1, got %d", got.Detector.MaxHands)
	}
	if got.Detector.MinConfidence != 0.5 {
		t.Errorf("expected untouched detector fields kept, got %v", got.Detector.MinConfidence)
	}
	if got.Engine.Layout != "nchw" || got.Engine.InputSize != 192 || got.Engine.InputName != "input" {
		t.Errorf("unexpected engine config %+v", got.Engine)
	}
	if got.Stability.Capacity != 9 || got.Stability.Majority != 6 || got.Stability.MinConfidence != 0.9 {
		t.Errorf("unexpected stability config %+v", got.Stability)
	}
	if got.Gesture.HoldFrames != 10 || got.Gesture.CooldownFrames != 15 {
		t.Errorf("unexpected gesture config %+v", got.Gesture)
	}
	if got.Text.WordIdle != 2*time.Second || got.Text.SentenceIdle != 3*time.Second {
		t.Errorf("unexpected text config %+v", got.Text)
	}
	if got.Budgets.Background != 200*time.Millisecond || got.Budgets.Detect != pipeline.DefaultBudgets().Detect {
		t.Errorf("unexpected budgets %+v", got.Budgets)
	}
}

func TestParseTuning_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "stability: [1, 2"},
		{"majority above capacity", "stability:\n  capacity: 5\n  majority: 6\n  min_confidence: 0.8\n"},
		{"unknown layout", "engine:\n  layout: hwc\n"},
		{"cpu threshold", "controller:\n  cpu_threshold: 150\n  fps_threshold: 15\n  degrade_after: 3\n  restore_after: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTuning([]byte(tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadTuning_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("movement:\n  stable_frames: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning() failed: %v", err)
	}
	if got.Movement.StableFrames != 5 {
		t.Errorf("expected stable frames 5, got %d", got.Movement.StableFrames)
	}

	if _, err := LoadTuning(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
