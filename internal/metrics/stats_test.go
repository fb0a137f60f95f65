package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if snap.Batches != 2 {
		t.Fatalf("expected 2 batches, got %d", snap.Batches)
	}
	if math.Abs(snap.AvgComputeMS-15) > 1e-9 {
		t.Fatalf("unexpected compute ms %.3f", snap.AvgComputeMS)
	}
	if w.examples != 0 || w.batches != 0 {
		t.Fatalf("window was not reset")
	}
}

func TestScoreRates(t *testing.T) {
	s := Score{Total: 8}
	s.Add(4, 4, 1.0)
	s.Add(4, 2, 3.0)
	if s.Accuracy() != 0.75 {
		t.Fatalf("accuracy %.3f", s.Accuracy())
	}
	if s.ErrorRate() != 0.25 {
		t.Fatalf("error rate %.3f", s.ErrorRate())
	}
	if s.MeanLoss() != 0.5 {
		t.Fatalf("mean loss %.3f", s.MeanLoss())
	}
	if s.Seen != 8 || s.Batches != 2 {
		t.Fatalf("unexpected counters %+v", s)
	}

	var empty Score
	if empty.Accuracy() != 0 || empty.MeanLoss() != 0 {
		t.Fatalf("empty score should report zero")
	}
}
