// Package detector adapts an external hand-landmark capability into
// per-frame HandDetection values for the recognition pipeline.
package detector

import "math"

// Hand landmark indices following the MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Point3D is a landmark position. X and Y are normalized to [0,1] image
// coordinates, Z is relative depth.
type Point3D struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// HandLandmarks holds the 21 landmarks of one detected hand.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Sub returns p - q.
func (p Point3D) Sub(q Point3D) Point3D {
	return Point3D{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Scale returns p with every coordinate multiplied by k.
func (p Point3D) Scale(k float64) Point3D {
	return Point3D{X: p.X * k, Y: p.Y * k, Z: p.Z * k}
}

// Norm returns the Euclidean length of p.
func (p Point3D) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Centroid returns the mean X/Y position of all landmarks.
func (h *HandLandmarks) Centroid() (x, y float64) {
	for _, p := range h.Points {
		x += p.X
		y += p.Y
	}
	return x / NumLandmarks, y / NumLandmarks
}

// Bounds returns the normalized bounding box of the landmarks.
func (h *HandLandmarks) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range h.Points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}

// Normalize returns a copy with the wrist at the origin and the palm
// (wrist to middle MCP) of unit length, so poses compare across hand size
// and position. A degenerate palm is translated but not scaled.
func (h *HandLandmarks) Normalize() *HandLandmarks {
	if h == nil {
		return nil
	}

	out := &HandLandmarks{Handedness: h.Handedness, Score: h.Score}
	wrist := h.Points[Wrist]
	palm := h.Points[MiddleMCP].Sub(wrist).Norm()

	k := 1.0
	if palm >= 1e-10 {
		k = 1 / palm
	}
	for i, p := range h.Points {
		out.Points[i] = p.Sub(wrist).Scale(k)
	}
	return out
}
