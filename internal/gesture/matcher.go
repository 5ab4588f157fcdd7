// Package gesture recognises the editing controls a signer issues with
// held hand poses: open palm for space, two fingers for delete and a
// fist to confirm the sentence. Users may train their own templates for
// the same controls.
package gesture

import (
	"cmp"
	"slices"
	"sync/atomic"

	"github.com/ayusman/mudra/internal/detector"
)

// DefaultTolerance is the summed landmark distance accepted for a
// template match.
const DefaultTolerance = 0.5

// Template is a user-trained hand pose bound to a control.
type Template struct {
	ID        string
	Name      string
	Control   Control
	Landmarks []detector.Point3D // normalized, one per landmark
	Tolerance float64
}

func (t *Template) usable() bool {
	return t != nil && t.Control != "" && t.Control != ControlNone &&
		len(t.Landmarks) == detector.NumLandmarks
}

func (t *Template) tolerance() float64 {
	if t.Tolerance > 0 {
		return t.Tolerance
	}
	return DefaultTolerance
}

// Match is a template within tolerance of a hand.
type Match struct {
	Template *Template
	// Distance is the summed point distance to the template.
	Distance float64
	// Score is 1/(1+Distance), so 1 is an exact match.
	Score float64
}

// StaticMatcher matches hand poses against user templates. Every
// session matches against the same instance; SetTemplates swaps in a new
// set without blocking them.
type StaticMatcher struct {
	templates atomic.Pointer[[]*Template]
}

// NewStaticMatcher creates a matcher holding ts.
func NewStaticMatcher(ts ...*Template) *StaticMatcher {
	m := &StaticMatcher{}
	m.SetTemplates(ts)
	return m
}

// SetTemplates replaces every template. Templates without a control or
// without a full set of landmarks are dropped.
func (m *StaticMatcher) SetTemplates(ts []*Template) {
	kept := make([]*Template, 0, len(ts))
	for _, t := range ts {
		if t.usable() {
			kept = append(kept, t)
		}
	}
	m.templates.Store(&kept)
}

// Len returns the number of active templates.
func (m *StaticMatcher) Len() int {
	if ts := m.templates.Load(); ts != nil {
		return len(*ts)
	}
	return 0
}

// Match returns the templates within tolerance of hand, closest first.
func (m *StaticMatcher) Match(hand *detector.HandLandmarks) []Match {
	ts := m.templates.Load()
	if hand == nil || ts == nil || len(*ts) == 0 {
		return nil
	}
	pose := hand.Normalize().Points

	var matches []Match
	for _, t := range *ts {
		d := poseDistance(pose[:], t.Landmarks)
		if d <= t.tolerance() {
			matches = append(matches, Match{Template: t, Distance: d, Score: 1 / (1 + d)})
		}
	}
	slices.SortFunc(matches, func(a, b Match) int { return cmp.Compare(a.Distance, b.Distance) })
	return matches
}

// Best returns the closest template within tolerance of hand.
func (m *StaticMatcher) Best(hand *detector.HandLandmarks) (Match, bool) {
	matches := m.Match(hand)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// poseDistance sums the distances between corresponding points.
func poseDistance(a, b []detector.Point3D) float64 {
	var total float64
	for i, n := 0, min(len(a), len(b)); i < n; i++ {
		total += a[i].Sub(b[i]).Norm()
	}
	return total
}
