package gesture

import (
	"sync"
	"testing"

	"github.com/ayusman/mudra/internal/detector"
)

func templateFrom(id string, hand detector.HandLandmarks, control Control, tolerance float64) *Template {
	normalized := hand.Normalize()
	return &Template{
		ID:        id,
		Name:      id,
		Control:   control,
		Landmarks: normalized.Points[:],
		Tolerance: tolerance,
	}
}

func TestStaticMatcher_Best(t *testing.T) {
	matcher := NewStaticMatcher(
		templateFrom("thumbs-up", detector.ThumbsUpLandmarks(), ControlConfirmSentence, 0.5),
		templateFrom("palm", detector.OpenPalmLandmarks(), ControlSpace, 0.5),
	)

	// The same pose elsewhere in the frame normalizes to the same points.
	input := detector.Shifted(detector.ThumbsUpLandmarks(), 0.1, -0.05)
	m, ok := matcher.Best(&input)

	if !ok {
		t.Fatal("expected a match for thumbs up input")
	}
	if m.Template.ID != "thumbs-up" {
		t.Errorf("expected 'thumbs-up', got %q", m.Template.ID)
	}
	if m.Distance > 0.1 || m.Score < 0.9 {
		t.Errorf("expected a near exact match, got distance %f score %f", m.Distance, m.Score)
	}
}

func TestStaticMatcher_Tolerance(t *testing.T) {
	palm := detector.OpenPalmLandmarks()

	tests := []struct {
		name      string
		template  *Template
		wantMatch bool
	}{
		{"different pose outside tolerance", templateFrom("fist", detector.FistLandmarks(), ControlSpace, 0.3), false},
		{"same pose", templateFrom("palm", detector.OpenPalmLandmarks(), ControlSpace, 0.3), true},
		{"zero tolerance uses default", templateFrom("palm", detector.OpenPalmLandmarks(), ControlSpace, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := NewStaticMatcher(tt.template).Best(&palm)
			if ok != tt.wantMatch {
				t.Errorf("expected match %v, got %v", tt.wantMatch, ok)
			}
		})
	}
}

func TestStaticMatcher_SetTemplates(t *testing.T) {
	full := func(id string, c Control) *Template {
		return &Template{ID: id, Control: c, Landmarks: make([]detector.Point3D, detector.NumLandmarks)}
	}

	matcher := NewStaticMatcher()
	if matcher.Len() != 0 {
		t.Fatalf("expected empty matcher, got %d", matcher.Len())
	}

	matcher.SetTemplates([]*Template{
		full("space", ControlSpace),
		full("delete", ControlDelete),
		full("unbound", ControlNone),
		full("blank", ""),
		{ID: "short", Control: ControlSpace, Landmarks: make([]detector.Point3D, 3)},
		nil,
	})
	if matcher.Len() != 2 {
		t.Errorf("expected 2 usable templates, got %d", matcher.Len())
	}

	matcher.SetTemplates(nil)
	if matcher.Len() != 0 {
		t.Errorf("expected templates cleared, got %d", matcher.Len())
	}
}

func TestStaticMatcher_OrdersByDistance(t *testing.T) {
	fist := detector.FistLandmarks()
	matcher := NewStaticMatcher(
		templateFrom("near", detector.Shifted(fist, 0.2, 0), ControlConfirmSentence, 100),
		templateFrom("far", detector.TwoFingersLandmarks(), ControlDelete, 100),
	)

	matches := matcher.Match(&fist)

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Template.ID != "near" || matches[0].Distance > matches[1].Distance {
		t.Errorf("expected closest first, got %s (%f) then %s (%f)",
			matches[0].Template.ID, matches[0].Distance, matches[1].Template.ID, matches[1].Distance)
	}
}

func TestStaticMatcher_NilInput(t *testing.T) {
	matcher := NewStaticMatcher(templateFrom("palm", detector.OpenPalmLandmarks(), ControlSpace, 0.5))

	if matches := matcher.Match(nil); len(matches) != 0 {
		t.Errorf("expected 0 matches for nil input, got %d", len(matches))
	}
	if _, ok := matcher.Best(nil); ok {
		t.Error("expected no best match for nil input")
	}
}

func TestStaticMatcher_ConcurrentSwap(t *testing.T) {
	palm := detector.OpenPalmLandmarks()
	matcher := NewStaticMatcher()
	set := []*Template{templateFrom("palm", palm, ControlSpace, 0.5)}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				matcher.Best(&palm)
			}
		}()
	}
	for j := 0; j < 200; j++ {
		if j%2 == 0 {
			matcher.SetTemplates(set)
		} else {
			matcher.SetTemplates(nil)
		}
	}
	wg.Wait()
}

func TestPoseDistance(t *testing.T) {
	a := []detector.Point3D{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}}
	if d := poseDistance(a, a); d != 0 {
		t.Errorf("expected distance 0 for identical points, got %f", d)
	}

	b := []detector.Point3D{{X: 3, Y: 4, Z: 0}, {X: 1, Y: 1, Z: 1}}
	if d := poseDistance(a, b); d != 5 {
		t.Errorf("expected distance 5, got %f", d)
	}

	if d := poseDistance(nil, a); d != 0 {
		t.Errorf("expected distance 0 for empty input, got %f", d)
	}
}
