package gesture

import (
	"testing"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/movement"
)

func TestDetectPose(t *testing.T) {
	tests := []struct {
		name     string
		hand     detector.HandLandmarks
		want     Pose
		wantCtrl Control
	}{
		{"open palm", detector.OpenPalmLandmarks(), PoseOpenPalm, ControlSpace},
		{"two fingers", detector.TwoFingersLandmarks(), PoseTwoFingers, ControlDelete},
		{"fist", detector.FistLandmarks(), PoseFist, ControlConfirmSentence},
		{"thumbs up reads as fist", detector.ThumbsUpLandmarks(), PoseFist, ControlConfirmSentence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pose, conf := DetectPose(&tt.hand)
			if pose != tt.want {
				t.Errorf("expected %s, got %s", tt.want, pose)
			}
			if conf < DefaultConfig().MinConfidence {
				t.Errorf("expected confidence above default floor, got %f", conf)
			}
			if got := ControlFor(pose); got != tt.wantCtrl {
				t.Errorf("expected control %s, got %s", tt.wantCtrl, got)
			}
		})
	}

	if pose, _ := DetectPose(nil); pose != PoseNone {
		t.Errorf("expected none for nil hand, got %s", pose)
	}
}

func TestFingers_ThumbHandedness(t *testing.T) {
	hand := detector.FistLandmarks()
	hand.Points[detector.ThumbIP] = detector.Point3D{X: 0.60, Y: 0.7}
	hand.Points[detector.ThumbTip] = detector.Point3D{X: 0.50, Y: 0.7}

	hand.Handedness = "Right"
	if !Fingers(&hand).Thumb {
		t.Error("expected right thumb extended when tip is left of IP")
	}
	hand.Handedness = "Left"
	if Fingers(&hand).Thumb {
		t.Error("expected left thumb curled when tip is left of IP")
	}
	hand.Handedness = ""
	if !Fingers(&hand).Thumb {
		t.Error("expected unknown handedness to use absolute offset")
	}
}

func stableInput(hand detector.HandLandmarks) Input {
	return Input{Hand: &hand, Movement: movement.Stable}
}

func run(d *ControlDetector, in Input, n int) (triggered []int, last Event) {
	for i := 0; i < n; i++ {
		last = d.Update(in)
		if last.Triggered {
			triggered = append(triggered, i)
		}
	}
	return triggered, last
}

func TestControlDetector_Hold(t *testing.T) {
	d := NewControlDetector(DefaultConfig(), nil)
	in := stableInput(detector.OpenPalmLandmarks())

	triggered, _ := run(d, in, 7)
	if len(triggered) != 0 {
		t.Fatalf("expected no trigger before hold completes, got %v", triggered)
	}

	ev := d.Update(in)
	if !ev.Triggered || ev.Control != ControlSpace {
		t.Errorf("expected space on eighth frame, got %+v", ev)
	}
}

func TestControlDetector_Cooldown(t *testing.T) {
	d := NewControlDetector(DefaultConfig(), nil)
	in := stableInput(detector.FistLandmarks())

	// Held continuously: trigger at frame 8, then quiet for the cooldown.
	triggered, _ := run(d, in, 23)
	if len(triggered) != 2 || triggered[0] != 7 || triggered[1] != 22 {
		t.Errorf("expected triggers at frames 7 and 22, got %v", triggered)
	}
}

func TestControlDetector_Gating(t *testing.T) {
	palm := detector.OpenPalmLandmarks()

	tests := []struct {
		name string
		in   Input
	}{
		{"no hand", Input{Movement: movement.Stable}},
		{"moving", Input{Hand: &palm, Movement: movement.Moving}},
		{"moving fast", Input{Hand: &palm, Movement: movement.MovingFast}},
		{"confident letter", Input{Hand: &palm, Movement: movement.Stable, ConfidentLetter: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewControlDetector(DefaultConfig(), nil)
			run(d, stableInput(palm), 7)

			if ev := d.Update(tt.in); ev.Triggered || ev.Pose != PoseNone {
				t.Fatalf("expected gated frame to report nothing, got %+v", ev)
			}

			// The hold restarts after a gated frame.
			triggered, _ := run(d, stableInput(palm), 7)
			if len(triggered) != 0 {
				t.Errorf("expected hold counter reset, got triggers %v", triggered)
			}
			if ev := d.Update(stableInput(palm)); !ev.Triggered {
				t.Error("expected trigger after a full new hold")
			}
		})
	}
}

func TestControlDetector_IdleIsEvaluated(t *testing.T) {
	d := NewControlDetector(DefaultConfig(), nil)
	hand := detector.TwoFingersLandmarks()

	triggered, _ := run(d, Input{Hand: &hand, Movement: movement.Idle}, 8)
	if len(triggered) != 1 {
		t.Errorf("expected idle movement to allow controls, got %v", triggered)
	}
}

func TestControlDetector_SwitchingPoseRestartsHold(t *testing.T) {
	d := NewControlDetector(DefaultConfig(), nil)
	run(d, stableInput(detector.OpenPalmLandmarks()), 5)

	triggered, last := run(d, stableInput(detector.TwoFingersLandmarks()), 8)
	if len(triggered) != 1 || triggered[0] != 7 {
		t.Errorf("expected new pose to need a full hold, got %v", triggered)
	}
	if last.Control != ControlDelete {
		t.Errorf("expected delete, got %s", last.Control)
	}
}

func TestControlDetector_Template(t *testing.T) {
	matcher := NewStaticMatcher(templateFrom("my-space", detector.FistLandmarks(), ControlSpace, 0.2))

	d := NewControlDetector(DefaultConfig(), matcher)
	_, ev := run(d, stableInput(detector.FistLandmarks()), 8)

	if !ev.Triggered || ev.Control != ControlSpace {
		t.Errorf("expected template control space, got %+v", ev)
	}
	if ev.Pose != PoseTemplate || ev.Template != "my-space" {
		t.Errorf("expected template pose from my-space, got %+v", ev)
	}
}

func TestControlDetector_Reset(t *testing.T) {
	d := NewControlDetector(DefaultConfig(), nil)
	in := stableInput(detector.FistLandmarks())
	run(d, in, 8)

	d.Reset()
	triggered, _ := run(d, in, 8)
	if len(triggered) != 1 {
		t.Errorf("expected reset to clear cooldown, got %v", triggered)
	}
}

func TestConfig_Validate(t *testing.T) {
	c := Config{}
	c.Validate()
	if c != (Config{HoldFrames: 8, CooldownFrames: 0, MinConfidence: 0.78}) {
		t.Errorf("unexpected validated config %+v", c)
	}
}
