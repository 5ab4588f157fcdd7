package config

import (
	"fmt"
	"os"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// Tuning is the YAML tuning file. Sections left out keep their defaults.
//
//	detector:
//	  max_hands: 1
//	stability:
//	  capacity: 9
//	  majority: 6
//	text:
//	  word_idle: 2s
type Tuning struct {
	Detector        detector.Config         `yaml:"detector"`
	Engine          classifier.EngineConfig `yaml:"engine"`
	pipeline.Tuning `yaml:",inline"`
}

// DefaultTuning returns the stock tuning.
func DefaultTuning() Tuning {
	return Tuning{
		Detector: detector.DefaultConfig(),
		Engine:   classifier.DefaultEngineConfig(),
		Tuning:   pipeline.DefaultTuning(),
	}
}

// LoadTuning reads the tuning file at path over the defaults. An empty
// path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	return ParseTuning(data)
}

// ParseTuning decodes YAML tuning over the defaults.
func ParseTuning(data []byte) (Tuning, error) {
	t := DefaultTuning()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

// Validate checks every section.
func (t *Tuning) Validate() error {
	if t.Detector.MaxHands <= 0 {
		t.Detector.MaxHands = detector.DefaultConfig().MaxHands
	}
	if err := t.Engine.Validate(); err != nil {
		return err
	}
	return t.Tuning.Validate()
}
