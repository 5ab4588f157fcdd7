package classifier

import "fmt"

// StabilityConfig controls how many agreeing frames make a letter.
type StabilityConfig struct {
	// Capacity is the number of recent results considered.
	Capacity int `yaml:"capacity"`
	// Majority is how many of them must share the winning label.
	Majority int `yaml:"majority"`
	// MinConfidence is the floor for the winning label's mean confidence.
	MinConfidence float64 `yaml:"min_confidence"`
}

// DefaultStabilityConfig returns 5 of 7 at 0.85.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{Capacity: 7, Majority: 5, MinConfidence: 0.85}
}

// Validate checks the buffer settings.
func (c StabilityConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("stability capacity must be positive, got %d", c.Capacity)
	}
	if c.Majority <= 0 || c.Majority > c.Capacity {
		return fmt.Errorf("stability majority must be in 1..%d, got %d", c.Capacity, c.Majority)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("stability confidence must be in [0,1], got %v", c.MinConfidence)
	}
	return nil
}

// Buffer holds the most recent per-frame results and emits a label once
// it dominates a full window. It is not safe for concurrent use.
type Buffer struct {
	cfg     StabilityConfig
	results []Result
}

// NewBuffer creates an empty buffer.
func NewBuffer(cfg StabilityConfig) *Buffer {
	return &Buffer{cfg: cfg, results: make([]Result, 0, cfg.Capacity)}
}

// Add records r. When the window is full and one label holds the
// majority with enough mean confidence, that label is returned and the
// buffer is cleared.
func (b *Buffer) Add(r Result) (string, bool) {
	if len(b.results) == b.cfg.Capacity {
		copy(b.results, b.results[1:])
		b.results = b.results[:len(b.results)-1]
	}
	b.results = append(b.results, r)
	if len(b.results) < b.cfg.Capacity {
		return "", false
	}

	label, count, mean := b.plurality()
	if label == LabelNone || count < b.cfg.Majority || mean < b.cfg.MinConfidence {
		return "", false
	}
	b.Reset()
	return label, true
}

// plurality returns the most frequent label, its count and its mean
// confidence. Ties go to the label seen most recently.
func (b *Buffer) plurality() (string, int, float64) {
	counts := make(map[string]int, len(b.results))
	sums := make(map[string]float64, len(b.results))
	for _, r := range b.results {
		counts[r.Label]++
		sums[r.Label] += r.Confidence
	}

	best, bestCount := "", 0
	for i := len(b.results) - 1; i >= 0; i-- {
		l := b.results[i].Label
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best, bestCount, sums[best] / float64(bestCount)
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.results = b.results[:0]
}

// Len returns the number of buffered results.
func (b *Buffer) Len() int {
	return len(b.results)
}
