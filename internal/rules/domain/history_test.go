package rules

import (
	"testing"
	"time"
)

func TestHistoryAppendEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Append(Sample{At: base.Add(time.Duration(i) * time.Minute), Value: float64(i)})
	}
	values := h.Values()
	if len(values) != 3 {
		t.Fatalf("expected 3 retained samples, got %d", len(values))
	}
	if values[0] != 2 || values[2] != 4 {
		t.Fatalf("expected oldest-first [2 3 4], got %v", values)
	}
}

func TestHistoryTrimBefore(t *testing.T) {
	h := NewHistory(5)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Append(Sample{At: base.Add(time.Duration(i) * time.Minute), Value: float64(i)})
	}
	h.TrimBefore(base.Add(3 * time.Minute))
	values := h.Values()
	if len(values) != 2 {
		t.Fatalf("expected 2 samples within window, got %d", len(values))
	}
	if values[0] != 3 || values[1] != 4 {
		t.Fatalf("expected [3 4], got %v", values)
	}
}

func TestHistorySeedKeepsNewest(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := make([]Sample, 6)
	for i := range samples {
		samples[i] = Sample{At: base.Add(time.Duration(i) * time.Minute), Value: float64(i)}
	}
	h.Seed(samples)
	values := h.Values()
	if len(values) != 3 {
		t.Fatalf("expected seed to keep 3 samples, got %d", len(values))
	}
	if values[0] != 3 || values[2] != 5 {
		t.Fatalf("expected newest three [3 4 5], got %v", values)
	}
}
