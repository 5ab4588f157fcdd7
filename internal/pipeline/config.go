package pipeline

import (
	"time"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/enhance"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/movement"
	"github.com/ayusman/mudra/internal/perf"
	"github.com/ayusman/mudra/internal/text"
)

// Stage names a timed pipeline step.
type Stage string

const (
	StageDetect     Stage = "detect"
	StageMovement   Stage = "movement"
	StageLighting   Stage = "lighting"
	StageFace       Stage = "face"
	StageBackground Stage = "background"
	StageClassify   Stage = "classify"
	StageGesture    Stage = "gesture"
	StageText       Stage = "text"
)

// DegradeOrder is the order enhancement stages are shed under load.
var DegradeOrder = []Stage{StageBackground, StageFace, StageLighting}

// EnhancementConfig is the per-session toggle and threshold snapshot. It
// is a value: a new snapshot replaces the old one at the next frame.
type EnhancementConfig struct {
	Lighting         bool    `json:"lighting_enabled"`
	TargetBrightness float64 `json:"target_brightness"`
	Face             bool    `json:"face_focus_enabled"`
	FaceTargetSize   float64 `json:"face_target_size"`
	Background       bool    `json:"background_blur_enabled"`
	BlurIntensity    int     `json:"blur_intensity"`
	EdgeSmoothing    bool    `json:"edge_smoothing"`
	Recognition      bool    `json:"recognition_enabled"`
}

// DefaultEnhancementConfig returns lighting on, face and background off.
func DefaultEnhancementConfig() EnhancementConfig {
	return EnhancementConfig{
		Lighting:         true,
		TargetBrightness: 128,
		FaceTargetSize:   0.35,
		BlurIntensity:    5,
		EdgeSmoothing:    true,
		Recognition:      true,
	}
}

// Validate returns c with thresholds clamped to their ranges.
func (c EnhancementConfig) Validate() EnhancementConfig {
	c.TargetBrightness = clampf(c.TargetBrightness, enhance.UnderexposedBelow, enhance.OverexposedAbove)
	c.FaceTargetSize = clampf(c.FaceTargetSize, 0.25, 0.40)
	c.BlurIntensity = max(0, min(c.BlurIntensity, 10))
	return c
}

// Enabled reports whether the user enabled stage.
func (c EnhancementConfig) Enabled(stage Stage) bool {
	switch stage {
	case StageLighting:
		return c.Lighting
	case StageFace:
		return c.Face
	case StageBackground:
		return c.Background
	}
	return true
}

// Without returns c with the given stages switched off.
func (c EnhancementConfig) Without(stages ...Stage) EnhancementConfig {
	for _, s := range stages {
		switch s {
		case StageLighting:
			c.Lighting = false
		case StageFace:
			c.Face = false
		case StageBackground:
			c.Background = false
		}
	}
	return c
}

// Budgets are the soft time limits of the timed stages.
type Budgets struct {
	Detect     time.Duration `yaml:"detect"`
	Lighting   time.Duration `yaml:"lighting"`
	Face       time.Duration `yaml:"face"`
	Background time.Duration `yaml:"background"`
}

// DefaultBudgets returns 100/50/100/150 ms.
func DefaultBudgets() Budgets {
	return Budgets{
		Detect:     100 * time.Millisecond,
		Lighting:   50 * time.Millisecond,
		Face:       100 * time.Millisecond,
		Background: 150 * time.Millisecond,
	}
}

func (b Budgets) of(stage Stage) time.Duration {
	switch stage {
	case StageDetect:
		return b.Detect
	case StageLighting:
		return b.Lighting
	case StageFace:
		return b.Face
	case StageBackground:
		return b.Background
	}
	return 0
}

// Tuning gathers every per-session algorithm parameter. It is loaded
// from the optional YAML tuning file.
type Tuning struct {
	Movement    movement.Config            `yaml:"movement"`
	Stability   classifier.StabilityConfig `yaml:"stability"`
	Gesture     gesture.Config             `yaml:"gesture"`
	Text        text.Config                `yaml:"text"`
	Controller  perf.ControllerConfig      `yaml:"controller"`
	Lighting    enhance.LightingConfig     `yaml:"lighting"`
	Face        enhance.FaceConfig         `yaml:"face"`
	Budgets     Budgets                    `yaml:"budgets"`
	CropPadding float64                    `yaml:"crop_padding"`
}

// DefaultTuning returns the stock parameters.
func DefaultTuning() Tuning {
	return Tuning{
		Movement:    movement.DefaultConfig(),
		Stability:   classifier.DefaultStabilityConfig(),
		Gesture:     gesture.DefaultConfig(),
		Text:        text.DefaultConfig(),
		Controller:  perf.DefaultControllerConfig(),
		Lighting:    enhance.DefaultLightingConfig(),
		Face:        enhance.DefaultFaceConfig(),
		Budgets:     DefaultBudgets(),
		CropPadding: classifier.DefaultCropPadding,
	}
}

// Validate checks the tuning and repairs zero values. A section left
// out of the tuning file gets its defaults.
func (t *Tuning) Validate() error {
	if t.Stability == (classifier.StabilityConfig{}) {
		t.Stability = classifier.DefaultStabilityConfig()
	}
	if t.Controller == (perf.ControllerConfig{}) {
		t.Controller = perf.DefaultControllerConfig()
	}
	if t.Lighting == (enhance.LightingConfig{}) {
		t.Lighting = enhance.DefaultLightingConfig()
	}
	if t.Face == (enhance.FaceConfig{}) {
		t.Face = enhance.DefaultFaceConfig()
	}
	t.Movement.Validate()
	t.Gesture.Validate()
	t.Text.Validate()
	if err := t.Stability.Validate(); err != nil {
		return err
	}
	if err := t.Controller.Validate(); err != nil {
		return err
	}
	d := DefaultBudgets()
	if t.Budgets.Detect <= 0 {
		t.Budgets.Detect = d.Detect
	}
	if t.Budgets.Lighting <= 0 {
		t.Budgets.Lighting = d.Lighting
	}
	if t.Budgets.Face <= 0 {
		t.Budgets.Face = d.Face
	}
	if t.Budgets.Background <= 0 {
		t.Budgets.Background = d.Background
	}
	if t.CropPadding < 0 || t.CropPadding > 1 {
		t.CropPadding = classifier.DefaultCropPadding
	}
	return nil
}

func clampf(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
