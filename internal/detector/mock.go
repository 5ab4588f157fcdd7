package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a Detector whose results are set by tests.
type MockDetector struct {
	mu    sync.Mutex
	hands []HandLandmarks
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands ...HandLandmarks) {
	m.mu.Lock()
	m.hands = hands
	m.mu.Unlock()
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Calls returns how many times Detect was invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]HandLandmarks(nil), m.hands...), nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// Finger joint positions used by the fixtures. Y grows downward, so an
// extended finger has its tip well above its PIP joint.
var (
	extendedIndex  = [4]Point3D{{0.55, 0.68, 0}, {0.57, 0.55, 0}, {0.58, 0.45, 0}, {0.58, 0.35, 0}}
	extendedMiddle = [4]Point3D{{0.50, 0.66, 0}, {0.50, 0.52, 0}, {0.50, 0.40, 0}, {0.50, 0.28, 0}}
	extendedRing   = [4]Point3D{{0.45, 0.68, 0}, {0.43, 0.55, 0}, {0.42, 0.45, 0}, {0.42, 0.35, 0}}
	extendedPinky  = [4]Point3D{{0.40, 0.70, 0}, {0.37, 0.60, 0}, {0.35, 0.50, 0}, {0.34, 0.42, 0}}

	curledIndex  = [4]Point3D{{0.55, 0.70, -0.02}, {0.55, 0.68, -0.05}, {0.52, 0.70, -0.04}, {0.50, 0.72, -0.02}}
	curledMiddle = [4]Point3D{{0.50, 0.68, -0.02}, {0.50, 0.66, -0.05}, {0.47, 0.68, -0.04}, {0.45, 0.70, -0.02}}
	curledRing   = [4]Point3D{{0.45, 0.70, -0.02}, {0.45, 0.68, -0.05}, {0.42, 0.70, -0.04}, {0.40, 0.72, -0.02}}
	curledPinky  = [4]Point3D{{0.40, 0.72, -0.02}, {0.40, 0.70, -0.05}, {0.37, 0.72, -0.04}, {0.35, 0.74, -0.02}}

	thumbUp     = [4]Point3D{{0.55, 0.75, 0}, {0.58, 0.65, 0}, {0.58, 0.50, 0}, {0.58, 0.35, 0}}
	thumbOut    = [4]Point3D{{0.55, 0.75, 0.02}, {0.62, 0.70, 0.03}, {0.68, 0.65, 0.03}, {0.73, 0.60, 0.03}}
	thumbTucked = [4]Point3D{{0.55, 0.76, 0}, {0.56, 0.72, -0.02}, {0.54, 0.70, -0.03}, {0.53, 0.70, -0.03}}
)

func fixture(thumb, index, middle, ring, pinky [4]Point3D) HandLandmarks {
	h := HandLandmarks{Handedness: "Right", Score: 0.95}
	h.Points[Wrist] = Point3D{X: 0.5, Y: 0.8}
	for i, finger := range [][4]Point3D{thumb, index, middle, ring, pinky} {
		copy(h.Points[1+i*4:5+i*4], finger[:])
	}
	return h
}

// ThumbsUpLandmarks returns a right hand with the thumb extended upward
// and all other fingers curled.
func ThumbsUpLandmarks() HandLandmarks {
	return fixture(thumbUp, curledIndex, curledMiddle, curledRing, curledPinky)
}

// OpenPalmLandmarks returns a right hand with all fingers extended.
func OpenPalmLandmarks() HandLandmarks {
	return fixture(thumbOut, extendedIndex, extendedMiddle, extendedRing, extendedPinky)
}

// FistLandmarks returns a right hand with every finger curled and the
// thumb folded across the palm.
func FistLandmarks() HandLandmarks {
	return fixture(thumbTucked, curledIndex, curledMiddle, curledRing, curledPinky)
}

// TwoFingersLandmarks returns a right hand with index and middle fingers
// extended and ring and pinky curled.
func TwoFingersLandmarks() HandLandmarks {
	return fixture(thumbTucked, extendedIndex, extendedMiddle, curledRing, curledPinky)
}

// Shifted returns a copy of h translated by (dx, dy).
func Shifted(h HandLandmarks, dx, dy float64) HandLandmarks {
	for i := range h.Points {
		h.Points[i].X += dx
		h.Points[i].Y += dy
	}
	return h
}
