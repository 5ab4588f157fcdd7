package gesture

import (
	"math"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/movement"
)

// Control is an editing command issued by a held hand pose.
type Control string

const (
	ControlNone            Control = "none"
	ControlSpace           Control = "space"
	ControlDelete          Control = "delete"
	ControlConfirmSentence Control = "confirm_sentence"
)

// Pose is a recognised static hand shape.
type Pose string

const (
	PoseNone       Pose = "none"
	PoseOpenPalm   Pose = "open_palm"
	PoseFist       Pose = "fist"
	PoseTwoFingers Pose = "two_fingers"
	// PoseTemplate is reported when a user-trained template matched.
	PoseTemplate Pose = "template"
)

// Pose confidences reported by the rule-based detector.
const (
	openPalmConfidence   = 0.92
	fistConfidence       = 0.90
	twoFingersConfidence = 0.88

	fingerMargin = 0.025
	thumbMargin  = 0.02
)

// ControlFor maps a pose to the control it issues.
func ControlFor(p Pose) Control {
	switch p {
	case PoseOpenPalm:
		return ControlSpace
	case PoseTwoFingers:
		return ControlDelete
	case PoseFist:
		return ControlConfirmSentence
	default:
		return ControlNone
	}
}

// FingerState records which fingers are extended.
type FingerState struct {
	Thumb, Index, Middle, Ring, Pinky bool
}

func (f FingerState) extended() int {
	n := 0
	for _, v := range []bool{f.Thumb, f.Index, f.Middle, f.Ring, f.Pinky} {
		if v {
			n++
		}
	}
	return n
}

// Fingers reads the finger state of hand. Fingers are extended when the
// tip sits above the PIP joint in image y. The thumb is judged along x
// in the direction given by handedness.
func Fingers(hand *detector.HandLandmarks) FingerState {
	p := hand.Points
	up := func(tip, pip int) bool { return p[pip].Y-p[tip].Y > fingerMargin }

	var thumb bool
	dx := p[detector.ThumbTip].X - p[detector.ThumbIP].X
	switch hand.Handedness {
	case "Right":
		thumb = -dx > thumbMargin
	case "Left":
		thumb = dx > thumbMargin
	default:
		thumb = math.Abs(dx) > thumbMargin
	}

	return FingerState{
		Thumb:  thumb,
		Index:  up(detector.IndexTip, detector.IndexPIP),
		Middle: up(detector.MiddleTip, detector.MiddlePIP),
		Ring:   up(detector.RingTip, detector.RingPIP),
		Pinky:  up(detector.PinkyTip, detector.PinkyPIP),
	}
}

// DetectPose classifies hand with the finger rules.
func DetectPose(hand *detector.HandLandmarks) (Pose, float64) {
	if hand == nil {
		return PoseNone, 0
	}
	f := Fingers(hand)
	switch {
	case f.extended() >= 4 && f.Index && f.Middle:
		return PoseOpenPalm, openPalmConfidence
	case !f.Index && !f.Middle && !f.Ring && !f.Pinky:
		return PoseFist, fistConfidence
	case f.Index && f.Middle && !f.Ring && !f.Pinky:
		return PoseTwoFingers, twoFingersConfidence
	}
	return PoseNone, 0
}

// Config tunes control debouncing.
type Config struct {
	// HoldFrames is how many consecutive evaluated frames a pose must be
	// held before it triggers.
	HoldFrames int `yaml:"hold_frames"`
	// CooldownFrames is the quiet period after a trigger.
	CooldownFrames int     `yaml:"cooldown_frames"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

// DefaultConfig returns hold 8, cooldown 15.
func DefaultConfig() Config {
	return Config{HoldFrames: 8, CooldownFrames: 15, MinConfidence: 0.78}
}

// Validate fills zero values with defaults.
func (c *Config) Validate() {
	d := DefaultConfig()
	if c.HoldFrames <= 0 {
		c.HoldFrames = d.HoldFrames
	}
	if c.CooldownFrames < 0 {
		c.CooldownFrames = d.CooldownFrames
	}
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		c.MinConfidence = d.MinConfidence
	}
}

// Input is what the control detector sees for one frame.
type Input struct {
	// Hand is nil when no hand was detected.
	Hand     *detector.HandLandmarks
	Movement movement.State
	// ConfidentLetter is set when the classifier produced a confident
	// non-none label this frame. Controls never compete with letters.
	ConfidentLetter bool
}

// Event reports the pose seen this frame and whether it triggered.
type Event struct {
	Pose       Pose    `json:"pose"`
	Confidence float64 `json:"confidence"`
	Triggered  bool    `json:"triggered"`
	Control    Control `json:"control"`
	// Template is the name of the user template that matched, if any.
	Template string `json:"template,omitempty"`
}

// ControlDetector turns held poses into debounced control events. It is
// not safe for concurrent use.
type ControlDetector struct {
	cfg     Config
	matcher *StaticMatcher

	candidate Pose
	control   Control
	held      int
	cooldown  int
}

// NewControlDetector creates a detector. matcher may be nil, in which case
// only the finger rules are used.
func NewControlDetector(cfg Config, matcher *StaticMatcher) *ControlDetector {
	cfg.Validate()
	return &ControlDetector{cfg: cfg, matcher: matcher, candidate: PoseNone}
}

// Update evaluates one frame.
func (d *ControlDetector) Update(in Input) Event {
	if d.cooldown > 0 {
		d.cooldown--
	}

	if in.Hand == nil || in.ConfidentLetter ||
		(in.Movement != movement.Stable && in.Movement != movement.Idle) {
		d.resetCandidate()
		return Event{Pose: PoseNone, Control: ControlNone}
	}

	// Template matches are already gated by their own tolerance.
	pose, control, confidence, template := d.classify(in.Hand)
	if pose == PoseNone || (template == "" && confidence < d.cfg.MinConfidence) {
		d.resetCandidate()
		return Event{Pose: PoseNone, Control: ControlNone}
	}

	if pose == d.candidate && control == d.control {
		d.held++
	} else {
		d.candidate, d.control, d.held = pose, control, 1
	}

	ev := Event{Pose: pose, Confidence: confidence, Control: ControlNone, Template: template}
	if d.held >= d.cfg.HoldFrames && d.cooldown == 0 {
		ev.Triggered = true
		ev.Control = control
		d.cooldown = d.cfg.CooldownFrames
		d.resetCandidate()
	}
	return ev
}

// classify tries the user templates first and falls back to the rules.
func (d *ControlDetector) classify(hand *detector.HandLandmarks) (Pose, Control, float64, string) {
	if d.matcher != nil {
		if m, ok := d.matcher.Best(hand); ok {
			return PoseTemplate, m.Template.Control, m.Score, m.Template.Name
		}
	}
	pose, confidence := DetectPose(hand)
	return pose, ControlFor(pose), confidence, ""
}

// Reset clears the hold counter and cooldown.
func (d *ControlDetector) Reset() {
	d.cooldown = 0
	d.resetCandidate()
}

func (d *ControlDetector) resetCandidate() {
	d.candidate, d.control, d.held = PoseNone, ControlNone, 0
}
