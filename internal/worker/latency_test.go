package worker

import (
	"math"
	"testing"
)

func TestLatencyTracker_Empty(t *testing.T) {
	lt := NewLatencyTracker(8)
	if lt.Avg() != 0 {
		t.Errorf("expected avg 0, got %f", lt.Avg())
	}
	p50, p95, p99 := lt.Percentiles()
	if p50 != 0 || p95 != 0 || p99 != 0 {
		t.Errorf("expected zero percentiles, got %f %f %f", p50, p95, p99)
	}
}

func TestLatencyTracker_Avg(t *testing.T) {
	lt := NewLatencyTracker(8)
	lt.Record(1)
	lt.Record(2)
	lt.Record(3)
	if got := lt.Avg(); math.Abs(got-2) > 1e-9 {
		t.Errorf("expected avg 2, got %f", got)
	}
	if lt.Count() != 3 {
		t.Errorf("expected 3 samples, got %d", lt.Count())
	}
}

func TestLatencyTracker_WindowEviction(t *testing.T) {
	lt := NewLatencyTracker(4)
	for _, v := range []float64{100, 100, 100, 100} {
		lt.Record(v)
	}
	// Overwrite the whole window with 1s.
	for i := 0; i < 4; i++ {
		lt.Record(1)
	}
	if got := lt.Avg(); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected avg 1 after eviction, got %f", got)
	}
	if lt.Count() != 4 {
		t.Errorf("count must cap at capacity, got %d", lt.Count())
	}
}

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		lt.Record(float64(i))
	}
	p50, p95, p99 := lt.Percentiles()
	if p50 < 50 || p50 > 51 {
		t.Errorf("p50 out of range: %f", p50)
	}
	if p95 < 95 || p95 > 96 {
		t.Errorf("p95 out of range: %f", p95)
	}
	if p99 < 99 || p99 > 100 {
		t.Errorf("p99 out of range: %f", p99)
	}
}
