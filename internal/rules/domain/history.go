package rules

import "time"

// DefaultHistoryDepth bounds how many recent readings change and pattern
// conditions may look back on.
const DefaultHistoryDepth = 5

// Sample is one historical reading of a sensor.
type Sample struct {
	At    time.Time
	Value float64
}

// History is a bounded FIFO of recent samples for one (device, sensor),
// newest last. When full, appending evicts the oldest sample.
type History struct {
	samples []Sample
	depth   int
}

// NewHistory constructs a history bounded at depth samples.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &History{samples: make([]Sample, 0, depth), depth: depth}
}

// Append adds a sample, evicting the oldest when the bound is reached.
func (h *History) Append(s Sample) {
	if len(h.samples) >= h.depth {
		copy(h.samples, h.samples[1:])
		h.samples[len(h.samples)-1] = s
		return
	}
	h.samples = append(h.samples, s)
}

// Seed replaces the contents with the given samples, oldest first,
// keeping only the newest depth entries.
func (h *History) Seed(samples []Sample) {
	h.samples = h.samples[:0]
	start := 0
	if len(samples) > h.depth {
		start = len(samples) - h.depth
	}
	h.samples = append(h.samples, samples[start:]...)
}

// TrimBefore drops samples older than the cutoff.
func (h *History) TrimBefore(cutoff time.Time) {
	kept := 0
	for _, s := range h.samples {
		if !s.At.Before(cutoff) {
			h.samples[kept] = s
			kept++
		}
	}
	h.samples = h.samples[:kept]
}

// Values returns the sample values oldest first.
func (h *History) Values() []float64 {
	values := make([]float64, len(h.samples))
	for i, s := range h.samples {
		values[i] = s.Value
	}
	return values
}

// Len returns the number of retained samples.
func (h *History) Len() int {
	return len(h.samples)
}
