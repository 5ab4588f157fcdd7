// Package pipeline runs the per-frame captioning pipeline: hand detection,
// movement, enhancement, classification, controls and text assembly.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/enhance"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/movement"
	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/perf"
	"github.com/ayusman/mudra/internal/text"
	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// SampleInterval is how often the performance monitor is sampled.
const SampleInterval = time.Second

// Deps are the shared capabilities an orchestrator uses. Any of them may
// be nil: a nil Detector disables recognition, a nil Classifier reports
// none, and nil face or segmentation capabilities skip those stages.
type Deps struct {
	Detector     *detector.Adapter
	Classifier   classifier.Classifier
	FaceDetector enhance.FaceDetector
	Segmenter    enhance.Segmenter
	Matcher      *gesture.StaticMatcher
}

// Options configure one orchestrator.
type Options struct {
	SessionID string
	Clock     timeutil.Clock
	Usage     perf.Usage
	Tuning    Tuning
}

// Orchestrator owns the per-session pipeline state. Process is
// serialized; ResetText and Metrics may be called concurrently.
type Orchestrator struct {
	mu     sync.Mutex
	id     string
	clock  timeutil.Clock
	tuning Tuning
	log    zerolog.Logger

	detector   *detector.Adapter
	classifier classifier.Classifier
	hasFace    bool
	hasMatte   bool

	tracker    *movement.Tracker
	lighting   *enhance.LightingAdjuster
	face       *enhance.FaceFocuser
	background *enhance.BackgroundProcessor
	stability  *classifier.Buffer
	controls   *gesture.ControlDetector
	text       *text.Assembler
	monitor    *perf.Monitor
	controller *perf.Controller

	runners map[Stage]*stageRunner

	lastSample   time.Time
	lastConfig   atomic.Pointer[EnhancementConfig]
	pendingReset atomic.Bool
}

// NewOrchestrator creates an orchestrator for one session.
func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	tuning := opts.Tuning
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cls := deps.Classifier
	if cls == nil {
		cls = classifier.Unavailable{}
	}

	order := make([]string, len(DegradeOrder))
	for i, s := range DegradeOrder {
		order[i] = string(s)
	}

	base := observability.WithSession(opts.SessionID).With().Str("component", "pipeline").Logger()
	o := &Orchestrator{
		id:         opts.SessionID,
		clock:      clock,
		tuning:     tuning,
		log:        observability.Sampled(base, 5, 10*time.Second),
		detector:   deps.Detector,
		classifier: cls,
		hasFace:    deps.FaceDetector != nil,
		hasMatte:   deps.Segmenter != nil,
		tracker:    movement.NewTracker(tuning.Movement),
		lighting:   enhance.NewLightingAdjuster(tuning.Lighting),
		face:       enhance.NewFaceFocuser(deps.FaceDetector, tuning.Face, clock),
		background: enhance.NewBackgroundProcessor(deps.Segmenter),
		stability:  classifier.NewBuffer(tuning.Stability),
		controls:   gesture.NewControlDetector(tuning.Gesture, deps.Matcher),
		text:       text.NewAssembler(tuning.Text, clock),
		monitor:    perf.NewMonitor(opts.SessionID, clock, opts.Usage),
		controller: perf.NewController(tuning.Controller, order),
		runners:    make(map[Stage]*stageRunner),
		lastSample: clock.Now(),
	}
	for _, s := range []Stage{StageDetect, StageLighting, StageFace, StageBackground} {
		o.runners[s] = newStageRunner(s, tuning.Budgets.of(s))
	}
	cfg := DefaultEnhancementConfig()
	o.lastConfig.Store(&cfg)
	return o, nil
}

// ID returns the session ID.
func (o *Orchestrator) ID() string { return o.id }

// Recognition reports whether a hand detector is available.
func (o *Orchestrator) Recognition() bool { return o.detector != nil }

// Effective returns cfg with the controller's disabled stages removed.
func (o *Orchestrator) Effective(cfg EnhancementConfig) EnhancementConfig {
	cfg = cfg.Validate()
	for _, s := range o.controller.Disabled() {
		cfg = cfg.Without(Stage(s))
	}
	return cfg
}

// Process runs one frame through the pipeline. The caller keeps ownership
// of f; the returned Result owns a new output frame.
func (o *Orchestrator) Process(ctx context.Context, f *capture.Frame, cfg EnhancementConfig) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	cfg = cfg.Validate()
	o.lastConfig.Store(&cfg)
	eff := o.Effective(cfg)

	res := Result{
		Seq:         f.Seq,
		Timestamp:   f.Timestamp,
		Timings:     make(map[Stage]time.Duration),
		Recognition: eff.Recognition && o.detector != nil,
	}
	res.Caption = mergeCaption(res.Caption, o.text.Tick(o.clock.Now()))

	if o.pendingReset.Swap(false) {
		o.stability.Reset()
		o.controls.Reset()
	}

	// Detection
	hand := detector.NoHand(nil)
	if res.Recognition {
		det, d, err := runStage(ctx, o.runners[StageDetect], f.Image, func(m gocv.Mat) (detector.HandDetection, error) {
			return o.detector.Detect(&m), nil
		}, nil)
		res.Timings[StageDetect] = d
		if err != nil {
			o.fail(&res, StageDetect, err)
		} else {
			hand = det
			if hand.Err != nil {
				o.fail(&res, StageDetect, hand.Err)
			}
		}
		res.Hand = &hand
	}

	t := time.Now()
	res.Movement = o.tracker.Update(hand)
	res.Timings[StageMovement] = time.Since(t)

	// Enhancement
	out := f.Image.Clone()
	if eff.Lighting {
		if next, stats, ok := enhanceStage(ctx, o, &res, StageLighting, out, func(m gocv.Mat) (gocv.Mat, enhance.LightingStats, error) {
			o.lighting.SetTarget(eff.TargetBrightness)
			return o.lighting.Apply(m)
		}); ok {
			out.Close()
			out = next
			res.Lighting = &stats
		}
	}
	if eff.Face && o.available(StageFace) {
		if next, stats, ok := enhanceStage(ctx, o, &res, StageFace, out, func(m gocv.Mat) (gocv.Mat, enhance.FaceStats, error) {
			o.face.SetTargetSize(eff.FaceTargetSize)
			return o.face.Apply(m)
		}); ok {
			out.Close()
			out = next
			res.Face = &stats
		}
	}
	if eff.Background && o.available(StageBackground) {
		intensity, smoothing := eff.BlurIntensity, eff.EdgeSmoothing
		if next, stats, ok := enhanceStage(ctx, o, &res, StageBackground, out, func(m gocv.Mat) (gocv.Mat, enhance.BackgroundStats, error) {
			return o.background.Apply(m, intensity, smoothing)
		}); ok {
			out.Close()
			out = next
			res.Background = &stats
		}
	}
	res.Frame = out

	// Classification runs on the raw frame, where the landmarks live.
	cls := classifier.None()
	if res.Recognition && hand.Present && res.Movement.State == movement.Stable {
		t = time.Now()
		cls = o.classify(ctx, f.Image, hand)
		res.Timings[StageClassify] = time.Since(t)
		res.Classification = &cls

		if label, ok := o.stability.Add(cls); ok {
			res.Letter = label
		}
	} else {
		o.stability.Reset()
	}

	if res.Recognition {
		t = time.Now()
		var lm *detector.HandLandmarks
		if hand.Present {
			h := hand.Hand()
			lm = &h
		}
		ev := o.controls.Update(gesture.Input{
			Hand:            lm,
			Movement:        res.Movement.State,
			ConfidentLetter: cls.Confident(o.tuning.Stability.MinConfidence),
		})
		res.Timings[StageGesture] = time.Since(t)
		if ev.Pose != gesture.PoseNone {
			res.Control = &ev
		}

		t = time.Now()
		if res.Letter != "" {
			res.Caption = mergeCaption(res.Caption, o.text.Label(res.Letter))
		}
		if ev.Triggered {
			res.Caption = mergeCaption(res.Caption, o.applyControl(ev.Control))
		}
		res.Timings[StageText] = time.Since(t)
	}
	o.recordText(res.Letter, res.Caption)

	timing := perf.FrameTiming{
		Stages: make(map[string]time.Duration, len(res.Timings)),
		Total:  time.Since(start),
	}
	for s, d := range res.Timings {
		timing.Stages[string(s)] = d
	}
	for _, e := range res.Errors {
		if errors.Is(e.Err, ErrStageTimeout) {
			timing.Timeouts = append(timing.Timeouts, string(e.Stage))
		}
	}
	o.monitor.Observe(timing)
	return res
}

type stageOut[S any] struct {
	frame gocv.Mat
	stats S
}

// enhanceStage runs one enhancement stage under its budget. On failure
// the caller keeps its current frame.
func enhanceStage[S any](ctx context.Context, o *Orchestrator, res *Result, stage Stage, in gocv.Mat, apply func(gocv.Mat) (gocv.Mat, S, error)) (gocv.Mat, S, bool) {
	fn := func(m gocv.Mat) (stageOut[S], error) {
		frame, stats, err := apply(m)
		if err != nil {
			frame.Close()
			return stageOut[S]{}, err
		}
		return stageOut[S]{frame: frame, stats: stats}, nil
	}
	discard := func(v stageOut[S]) { v.frame.Close() }

	v, d, err := runStage(ctx, o.runners[stage], in, fn, discard)
	res.Timings[stage] = d
	if err != nil {
		o.fail(res, stage, err)
		var zero S
		return gocv.Mat{}, zero, false
	}
	return v.frame, v.stats, true
}

func (o *Orchestrator) classify(ctx context.Context, frame gocv.Mat, hand detector.HandDetection) classifier.Result {
	crop, err := classifier.HandCrop(frame, hand.Hand(), o.tuning.CropPadding)
	if err != nil {
		return classifier.None()
	}
	defer crop.Close()
	return o.classifier.Classify(ctx, crop)
}

func (o *Orchestrator) applyControl(c gesture.Control) text.Update {
	switch c {
	case gesture.ControlSpace:
		return o.text.Space()
	case gesture.ControlDelete:
		return o.text.Delete()
	case gesture.ControlConfirmSentence:
		return o.text.ConfirmSentence()
	}
	return o.text.Current()
}

func (o *Orchestrator) fail(res *Result, stage Stage, err error) {
	res.Errors = append(res.Errors, StageError{Stage: stage, Err: err})

	kind := "error"
	switch {
	case errors.Is(err, ErrStageTimeout):
		kind = "timeout"
	case errors.Is(err, ErrStageBusy):
		kind = "busy"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "canceled"
	}
	observability.RecordStageError(string(stage), kind)
	o.log.Debug().Err(err).Str("stage", string(stage)).Uint64("seq", res.Seq).Msg("stage skipped")
}

func (o *Orchestrator) recordText(letter string, u *text.Update) {
	if letter != "" {
		observability.RecordTextEvent("letter")
	}
	if u == nil {
		return
	}
	if u.ConfirmedWord != "" {
		observability.RecordTextEvent("word")
	}
	if u.ConfirmedSentence != "" {
		observability.RecordTextEvent("sentence")
	}
	if u.Suppressed {
		observability.RecordTextEvent("suppressed")
	}
}

// Tick advances the text idle timers and, once per SampleInterval, samples
// the monitor and lets the quality controller react.
func (o *Orchestrator) Tick(now time.Time) TickResult {
	var tr TickResult
	if u := o.text.Tick(now); u.Changed {
		tr.Caption = &u
		o.recordText("", &u)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if now.Sub(o.lastSample) < SampleInterval {
		return tr
	}
	o.lastSample = now

	s := o.monitor.Sample(now)
	tr.Sample = &s

	cfg := *o.lastConfig.Load()
	tr.Decision = o.controller.Evaluate(o.monitor.History(), func(stage string) bool {
		return cfg.Enabled(Stage(stage)) && o.available(Stage(stage))
	})
	if tr.Decision.ClearHistory {
		o.monitor.ClearHistory()
	}
	if tr.Decision.Disable != "" {
		observability.SetStageDisabled(o.id, tr.Decision.Disable, true)
		o.log.Info().Str("stage", tr.Decision.Disable).Float64("fps", s.FPS).Float64("cpu_percent", s.CPUPercent).Msg("disabling stage under load")
	}
	if tr.Decision.Restore != "" {
		observability.SetStageDisabled(o.id, tr.Decision.Restore, false)
		o.log.Info().Str("stage", tr.Decision.Restore).Msg("restoring stage")
	}
	return tr
}

// available reports whether the dependencies a stage needs were
// supplied. Stages that cannot run are never shed.
func (o *Orchestrator) available(s Stage) bool {
	switch s {
	case StageFace:
		return o.hasFace
	case StageBackground:
		return o.hasMatte
	}
	return true
}

// Metrics returns the latest performance sample with the stages the
// controller has shed.
func (o *Orchestrator) Metrics() Metrics {
	return Metrics{
		Sample:      o.monitor.Latest(),
		Disabled:    o.controller.Disabled(),
		Recognition: o.Recognition(),
	}
}

// History returns the retained performance samples, oldest first.
func (o *Orchestrator) History() []perf.Sample {
	return o.monitor.History()
}

// RecordSkipped counts frames dropped before reaching Process.
func (o *Orchestrator) RecordSkipped(n int) {
	if n > 0 {
		o.monitor.Skip(n)
	}
}

// ResetText clears the caption state. Stability and control state are
// cleared at the next frame boundary.
func (o *Orchestrator) ResetText() text.Update {
	o.text.Reset()
	o.pendingReset.Store(true)
	return o.text.Current()
}

// Text returns a copy of the assembled text.
func (o *Orchestrator) Text() text.State {
	return o.text.Snapshot()
}

// Close releases the session's per-stage state. Shared capabilities in
// Deps are owned by the caller.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.controller.Reset()
	for _, s := range DegradeOrder {
		observability.SetStageDisabled(o.id, string(s), false)
	}
}
