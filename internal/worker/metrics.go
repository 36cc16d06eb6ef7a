package worker

import (
	"sync"
	"time"
)

// DefaultWindow 是平均耗时的滑动窗口大小。
const DefaultWindow = 100

// MetricsSnapshot 是指标在某一时刻的只读副本。
type MetricsSnapshot struct {
	Tasks          uint64        `json:"tasks"`
	Successes      uint64        `json:"successes"`
	Failures       uint64        `json:"failures"`
	AverageLatency time.Duration `json:"average_latency"`
	Samples        int           `json:"samples"`
}

// Metrics 记录执行计数以及最近 N 次执行的平均耗时。
type Metrics struct {
	mu        sync.Mutex
	tasks     uint64
	successes uint64
	failures  uint64
	window    []time.Duration
	next      int
	filled    bool
	sum       time.Duration
}

// NewMetrics 创建指定窗口大小的指标，size <= 0 时使用 DefaultWindow。
func NewMetrics(size int) *Metrics {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Metrics{window: make([]time.Duration, size)}
}

// Record 记录一次执行结果。
func (m *Metrics) Record(success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks++
	if success {
		m.successes++
	} else {
		m.failures++
	}
	if m.filled {
		m.sum -= m.window[m.next]
	}
	m.window[m.next] = latency
	m.sum += latency
	m.next++
	if m.next == len(m.window) {
		m.next = 0
		m.filled = true
	}
}

// Snapshot 返回当前指标。
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.next
	if m.filled {
		samples = len(m.window)
	}
	snap := MetricsSnapshot{
		Tasks:     m.tasks,
		Successes: m.successes,
		Failures:  m.failures,
		Samples:   samples,
	}
	if samples > 0 {
		snap.AverageLatency = m.sum / time.Duration(samples)
	}
	return snap
}
