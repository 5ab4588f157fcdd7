// Package config loads the service configuration from the environment
// and the optional YAML tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/emitter"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "MUDRA"

// Config is the service configuration. Every field can be set from a
// MUDRA_-prefixed environment variable or a .env file.
type Config struct {
	Port    string `envconfig:"PORT" default:"8080"`
	DataDir string `envconfig:"DATA_DIR"`
	DBPath  string `envconfig:"DB_PATH"`
	WebDir  string `envconfig:"WEB_DIR"`

	// Hand detection worker.
	DetectorScript     string  `envconfig:"DETECTOR_SCRIPT"`
	DetectorPython     string  `envconfig:"DETECTOR_PYTHON"`
	MinHandConfidence  float64 `envconfig:"MIN_HAND_CONFIDENCE" default:"0.5"`
	RequireRecognition bool    `envconfig:"REQUIRE_RECOGNITION" default:"false"`

	// Letter model.
	ModelPath   string `envconfig:"MODEL_PATH"`
	ORTLibrary  string `envconfig:"ORT_LIBRARY"`
	InputLayout string `envconfig:"INPUT_LAYOUT" default:"nhwc"`

	FaceCascade string `envconfig:"FACE_CASCADE"`

	// Speech.
	TTSURL      string        `envconfig:"TTS_URL"`
	TTSVoice    string        `envconfig:"TTS_VOICE"`
	TTSTimeout  time.Duration `envconfig:"TTS_TIMEOUT" default:"10s"`
	PluginDir   string        `envconfig:"PLUGIN_DIR"`
	SpeechQueue int           `envconfig:"SPEECH_QUEUE" default:"8"`

	// Local camera session.
	CameraEnabled bool `envconfig:"CAMERA_ENABLED" default:"false"`
	CameraIndex   int  `envconfig:"CAMERA_INDEX" default:"0"`

	// Sentence publishing; disabled when the broker is empty.
	MQTTBroker   string `envconfig:"MQTT_BROKER"`
	MQTTTopic    string `envconfig:"MQTT_TOPIC" default:"mudra"`
	MQTTClientID string `envconfig:"MQTT_CLIENT_ID" default:"mudra"`
	MQTTQoS      int    `envconfig:"MQTT_QOS" default:"1"`

	TuningFile string `envconfig:"TUNING_FILE"`
	Tray       bool   `envconfig:"TRAY" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads .env when present and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads the environment only.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate fills derived paths and checks values.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.MinHandConfidence < 0 || c.MinHandConfidence > 1 {
		return fmt.Errorf("min hand confidence must be in [0,1], got %v", c.MinHandConfidence)
	}
	if c.InputLayout != classifier.LayoutNHWC && c.InputLayout != classifier.LayoutNCHW {
		return fmt.Errorf("unknown input layout %q", c.InputLayout)
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTTQoS)
	}
	if c.SpeechQueue <= 0 {
		c.SpeechQueue = 8
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		c.DataDir = filepath.Join(home, ".mudra")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "mudra.db")
	}
	if c.ModelPath == "" {
		c.ModelPath = filepath.Join(c.DataDir, "models", "asl_letters.onnx")
	}
	if c.PluginDir == "" {
		c.PluginDir = filepath.Join(c.DataDir, "plugins")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Detector merges the environment overrides into the tuned detector
// settings.
func (c *Config) Detector(tuned detector.Config) detector.Config {
	tuned.ScriptPath = c.DetectorScript
	tuned.PythonPath = c.DetectorPython
	if c.MinHandConfidence > 0 {
		tuned.MinConfidence = c.MinHandConfidence
	}
	return tuned
}

// Engine merges the environment overrides into the tuned engine
// settings.
func (c *Config) Engine(tuned classifier.EngineConfig) classifier.EngineConfig {
	tuned.ModelPath = c.ModelPath
	tuned.LibraryPath = c.ORTLibrary
	tuned.Layout = c.InputLayout
	return tuned
}

// Emitter returns the sentence publisher settings. ok is false when no
// broker is configured.
func (c *Config) Emitter() (cfg emitter.Config, ok bool) {
	if c.MQTTBroker == "" {
		return emitter.Config{}, false
	}
	return emitter.Config{
		Broker:   c.MQTTBroker,
		ClientID: c.MQTTClientID,
		Topic:    c.MQTTTopic,
		QoS:      byte(c.MQTTQoS),
	}, true
}

// FindWebDir returns the configured web directory or the first of
// web, ../web and <data dir>/web that exists.
func (c *Config) FindWebDir() string {
	if c.WebDir != "" {
		return c.WebDir
	}
	for _, p := range []string{"web", "../web", filepath.Join(c.DataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
