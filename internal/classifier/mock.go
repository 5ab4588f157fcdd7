package classifier

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockClassifier returns scripted results, repeating the last one when
// the script runs out.
type MockClassifier struct {
	mu      sync.Mutex
	results []Result
	calls   int
}

// NewMockClassifier creates a mock that returns results in order.
func NewMockClassifier(results ...Result) *MockClassifier {
	return &MockClassifier{results: results}
}

// SetResults replaces the script.
func (m *MockClassifier) SetResults(results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
	m.calls = 0
}

// Classify returns the next scripted result.
func (m *MockClassifier) Classify(_ context.Context, _ gocv.Mat) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) == 0 {
		m.calls++
		return None()
	}
	i := min(m.calls, len(m.results)-1)
	m.calls++
	return m.results[i]
}

// Calls returns how many times Classify ran.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close is a no-op.
func (m *MockClassifier) Close() error { return nil }
