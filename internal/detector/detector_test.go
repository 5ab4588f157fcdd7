package detector

import (
	"errors"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

const epsilon = 1e-9

func TestHandLandmarks_Normalize(t *testing.T) {
	t.Run("wrist at origin and unit palm length", func(t *testing.T) {
		hand := HandLandmarks{Handedness: "Right", Score: 0.9}
		hand.Points[Wrist] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}
		hand.Points[MiddleMCP] = Point3D{X: 13.0, Y: 24.0, Z: 5.0} // distance = 5.0
		for i := 1; i < NumLandmarks; i++ {
			if i != MiddleMCP {
				hand.Points[i] = Point3D{X: 10.0 + float64(i), Y: 20.0 + float64(i), Z: 5.0}
			}
		}

		normalized := hand.Normalize()

		w := normalized.Points[Wrist]
		if math.Abs(w.X)+math.Abs(w.Y)+math.Abs(w.Z) > epsilon {
			t.Errorf("expected wrist at origin, got %+v", w)
		}
		m := normalized.Points[MiddleMCP]
		if d := math.Sqrt(m.X*m.X + m.Y*m.Y + m.Z*m.Z); math.Abs(d-1.0) > epsilon {
			t.Errorf("expected wrist to middle MCP distance 1.0, got %f", d)
		}
		if normalized.Handedness != "Right" || normalized.Score != 0.9 {
			t.Errorf("expected handedness and score preserved, got %s %f", normalized.Handedness, normalized.Score)
		}
	})

	t.Run("nil hand returns nil", func(t *testing.T) {
		var hand *HandLandmarks
		if hand.Normalize() != nil {
			t.Error("expected nil result for nil input")
		}
	})

	t.Run("zero scale returns translated only", func(t *testing.T) {
		hand := HandLandmarks{}
		hand.Points[Wrist] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}
		hand.Points[MiddleMCP] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}

		normalized := hand.Normalize()

		if math.Abs(normalized.Points[Wrist].X) > epsilon {
			t.Errorf("expected wrist X to be 0, got %f", normalized.Points[Wrist].X)
		}
	})
}

func TestPoint3D_Arithmetic(t *testing.T) {
	p := Point3D{X: 4, Y: 6, Z: 2}
	q := Point3D{X: 1, Y: 2, Z: 2}

	if got := p.Sub(q); got != (Point3D{X: 3, Y: 4, Z: 0}) {
		t.Errorf("expected (3,4,0), got %+v", got)
	}
	if got := q.Scale(2); got != (Point3D{X: 2, Y: 4, Z: 4}) {
		t.Errorf("expected (2,4,4), got %+v", got)
	}
	if got := p.Sub(q).Norm(); math.Abs(got-5) > epsilon {
		t.Errorf("expected norm 5, got %f", got)
	}
}

func TestHandLandmarks_CentroidAndBounds(t *testing.T) {
	hand := HandLandmarks{}
	for i := range hand.Points {
		hand.Points[i] = Point3D{X: 0.5, Y: 0.5}
	}
	hand.Points[Wrist] = Point3D{X: 0.2, Y: 0.9}
	hand.Points[MiddleTip] = Point3D{X: 0.7, Y: 0.1}

	cx, cy := hand.Centroid()
	wantX := (19*0.5 + 0.2 + 0.7) / 21
	wantY := (19*0.5 + 0.9 + 0.1) / 21
	if math.Abs(cx-wantX) > epsilon || math.Abs(cy-wantY) > epsilon {
		t.Errorf("expected centroid (%f,%f), got (%f,%f)", wantX, wantY, cx, cy)
	}

	minX, minY, maxX, maxY := hand.Bounds()
	if minX != 0.2 || minY != 0.1 || maxX != 0.7 || maxY != 0.9 {
		t.Errorf("expected bounds (0.2,0.1)-(0.7,0.9), got (%f,%f)-(%f,%f)", minX, minY, maxX, maxY)
	}
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty hands by default", func(t *testing.T) {
		hands, err := NewMockDetector().Detect(nil)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(hands) != 0 {
			t.Errorf("expected no hands, got %d", len(hands))
		}
	})

	t.Run("returns configured hands and counts calls", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetHands(ThumbsUpLandmarks(), OpenPalmLandmarks())

		hands, _ := mock.Detect(nil)
		if len(hands) != 2 {
			t.Errorf("expected 2 hands, got %d", len(hands))
		}
		if mock.Calls() != 1 {
			t.Errorf("expected 1 call, got %d", mock.Calls())
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()
		expectedErr := errors.New("detection failed")
		mock.SetError(expectedErr)

		if _, err := mock.Detect(nil); err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
		var _ Detector = (*MediaPipeDetector)(nil)
	})
}

func TestFixtures(t *testing.T) {
	extended := func(h HandLandmarks, tip, pip int) bool {
		return h.Points[pip].Y-h.Points[tip].Y > 0.025
	}

	tests := []struct {
		name  string
		hand  HandLandmarks
		wantI bool
		wantM bool
		wantR bool
		wantP bool
	}{
		{"open palm", OpenPalmLandmarks(), true, true, true, true},
		{"fist", FistLandmarks(), false, false, false, false},
		{"two fingers", TwoFingersLandmarks(), true, true, false, false},
		{"thumbs up", ThumbsUpLandmarks(), false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := [4]bool{
				extended(tt.hand, IndexTip, IndexPIP),
				extended(tt.hand, MiddleTip, MiddlePIP),
				extended(tt.hand, RingTip, RingPIP),
				extended(tt.hand, PinkyTip, PinkyPIP),
			}
			want := [4]bool{tt.wantI, tt.wantM, tt.wantR, tt.wantP}
			if got != want {
				t.Errorf("expected finger state %v, got %v", want, got)
			}
			if tt.hand.Points[Wrist] != (Point3D{X: 0.5, Y: 0.8}) {
				t.Errorf("expected wrist at (0.5,0.8), got %+v", tt.hand.Points[Wrist])
			}
		})
	}
}

func TestAdapter_Detect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	t.Run("selects highest scoring hand", func(t *testing.T) {
		mock := NewMockDetector()
		low := OpenPalmLandmarks()
		low.Score = 0.6
		high := FistLandmarks()
		high.Score = 0.97
		high.Handedness = "Left"
		mock.SetHands(low, high)

		got := NewAdapter(mock, 0.5).Detect(&frame)

		if !got.Present {
			t.Fatal("expected hand present")
		}
		if got.Handedness != "Left" || got.Confidence != 0.97 {
			t.Errorf("expected Left/0.97, got %s/%f", got.Handedness, got.Confidence)
		}
	})

	t.Run("ignores hands below minimum confidence", func(t *testing.T) {
		mock := NewMockDetector()
		weak := OpenPalmLandmarks()
		weak.Score = 0.3
		mock.SetHands(weak)

		got := NewAdapter(mock, 0.5).Detect(&frame)

		if got.Present || got.Err != nil {
			t.Errorf("expected absent hand without error, got present=%v err=%v", got.Present, got.Err)
		}
	})

	t.Run("failure is reported not raised", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetError(errors.New("worker crashed"))

		got := NewAdapter(mock, 0.5).Detect(&frame)

		if got.Present {
			t.Error("expected no hand on failure")
		}
		if got.Err == nil {
			t.Error("expected failure reason to be recorded")
		}
	})

	t.Run("nil adapter reports unavailable", func(t *testing.T) {
		var a *Adapter
		got := a.Detect(&frame)
		if !errors.Is(got.Err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", got.Err)
		}
	})
}

func TestProbe(t *testing.T) {
	_, _, err := Probe(Config{ScriptPath: "/nonexistent/mediapipe_worker.py"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
