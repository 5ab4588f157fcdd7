package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// Tensor layouts accepted by the engine.
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

// EngineConfig locates and describes the classification model.
type EngineConfig struct {
	ModelPath   string `yaml:"-"`
	LibraryPath string `yaml:"-"`
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
	InputSize   int    `yaml:"input_size"`
	Layout      string `yaml:"layout"`
	Threads     int    `yaml:"threads"`
}

// DefaultEngineConfig returns the settings of the stock MobileNetV2 export.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InputName:  "input",
		OutputName: "output",
		InputSize:  224,
		Layout:     LayoutNHWC,
	}
}

// Validate checks the engine settings.
func (c EngineConfig) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if c.Layout != LayoutNHWC && c.Layout != LayoutNCHW {
		return fmt.Errorf("unknown tensor layout %q", c.Layout)
	}
	if c.InputName == "" || c.OutputName == "" {
		return errors.New("input and output names are required")
	}
	return nil
}

var ortInit sync.Mutex

// Engine runs the letter model with ONNX Runtime. It is safe for
// concurrent use and is shared read-only by every session.
type Engine struct {
	cfg     EngineConfig
	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
}

// NewEngine loads the model. A missing model file yields ErrModelNotFound.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	ortInit.Lock()
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			ortInit.Unlock()
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	ortInit.Unlock()

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
		log.Warn().Err(err).Msg("failed to set classifier thread count")
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	log.Info().Str("model", cfg.ModelPath).Str("layout", cfg.Layout).Msg("classification model loaded")
	return &Engine{cfg: cfg, session: session}, nil
}

// Classify labels crop. Failures and a closed engine yield None.
func (e *Engine) Classify(ctx context.Context, crop gocv.Mat) Result {
	if e == nil {
		return None()
	}
	if ctx.Err() != nil {
		return None()
	}
	res, err := e.classify(crop)
	if err != nil {
		log.Debug().Err(err).Msg("classification failed")
		return None()
	}
	return res
}

func (e *Engine) classify(crop gocv.Mat) (Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return None(), errors.New("engine closed")
	}

	input, err := preprocess(crop, e.cfg.InputSize, e.cfg.Layout)
	if err != nil {
		return None(), err
	}

	size := int64(e.cfg.InputSize)
	shape := ort.NewShape(1, size, size, 3)
	if e.cfg.Layout == LayoutNCHW {
		shape = ort.NewShape(1, 3, size, size)
	}
	tensor, err := ort.NewTensor(shape, input)
	if err != nil {
		return None(), fmt.Errorf("create input tensor: %w", err)
	}
	defer tensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.session.Run([]ort.Value{tensor}, outputs); err != nil {
		return None(), fmt.Errorf("inference: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return None(), errors.New("output tensor is not float32")
	}
	return decode(out.GetData())
}

// Close releases the session. Later Classify calls return None.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// preprocess resizes crop to size x size RGB scaled to [0,1] and returns
// it flattened in the requested layout.
func preprocess(crop gocv.Mat, size int, layout string) ([]float32, error) {
	if crop.Empty() || crop.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.New("crop must be a non-empty 3-channel image")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(crop, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
	gocv.CvtColor(resized, &resized, gocv.ColorBGRToRGB)

	scaled := gocv.NewMat()
	defer scaled.Close()
	resized.ConvertTo(&scaled, gocv.MatTypeCV32FC3)
	scaled.DivideFloat(255)

	data, err := scaled.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read input pixels: %w", err)
	}

	out := make([]float32, len(data))
	if layout != LayoutNCHW {
		copy(out, data)
		return out, nil
	}
	plane := size * size
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			out[c*plane+i] = data[i*3+c]
		}
	}
	return out, nil
}

// decode picks the top class from raw model output, applying softmax when
// the output is not already a probability distribution.
func decode(scores []float32) (Result, error) {
	if len(scores) != len(modelClasses) {
		return None(), fmt.Errorf("model returned %d classes, want %d", len(scores), len(modelClasses))
	}
	probs := make([]float64, len(scores))
	for i, s := range scores {
		probs[i] = float64(s)
	}
	if !isDistribution(probs) {
		softmax(probs)
	}

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return Result{Label: labelFor(modelClasses[best]), Confidence: probs[best]}, nil
}

func isDistribution(p []float64) bool {
	sum := 0.0
	for _, v := range p {
		if v < 0 || v > 1 {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) < 1e-3
}

func softmax(v []float64) {
	maxV := math.Inf(-1)
	for _, x := range v {
		maxV = math.Max(maxV, x)
	}
	sum := 0.0
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
