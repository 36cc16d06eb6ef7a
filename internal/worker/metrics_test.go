package worker

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestMetricsAverageUsesWindow(t *testing.T) {
	m := NewMetrics(3)
	for _, ms := range []int{10, 20, 30, 40} {
		m.Record(true, time.Duration(ms)*time.Millisecond)
	}
	snap := m.Snapshot()
	if snap.Tasks != 4 || snap.Successes != 4 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", snap.Samples)
	}
	if snap.AverageLatency != 30*time.Millisecond {
		t.Fatalf("expected 30ms average, got %s", snap.AverageLatency)
	}
}

func TestMetricsEmpty(t *testing.T) {
	snap := NewMetrics(0).Snapshot()
	if snap.Samples != 0 || snap.AverageLatency != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

// TestMetricsWindowProperty 任意记录序列下，样本数不超过窗口，平均值等于最近样本的均值。
func TestMetricsWindowProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 20).Draw(t, "size")
		latencies := rapid.SliceOfN(rapid.IntRange(0, 1000), 0, 60).Draw(t, "latencies")
		outcomes := rapid.SliceOfN(rapid.Bool(), len(latencies), len(latencies)).Draw(t, "outcomes")

		m := NewMetrics(size)
		var failures uint64
		for i, l := range latencies {
			m.Record(outcomes[i], time.Duration(l))
			if !outcomes[i] {
				failures++
			}
		}
		snap := m.Snapshot()

		if snap.Tasks != uint64(len(latencies)) {
			t.Fatalf("tasks = %d, want %d", snap.Tasks, len(latencies))
		}
		if snap.Failures != failures || snap.Successes+snap.Failures != snap.Tasks {
			t.Fatalf("counter mismatch: %+v", snap)
		}
		expectedSamples := len(latencies)
		if expectedSamples > size {
			expectedSamples = size
		}
		if snap.Samples != expectedSamples {
			t.Fatalf("samples = %d, want %d", snap.Samples, expectedSamples)
		}
		if expectedSamples == 0 {
			return
		}
		var sum time.Duration
		for _, l := range latencies[len(latencies)-expectedSamples:] {
			sum += time.Duration(l)
		}
		if want := sum / time.Duration(expectedSamples); snap.AverageLatency != want {
			t.Fatalf("average = %s, want %s", snap.AverageLatency, want)
		}
	})
}
