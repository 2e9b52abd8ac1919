// Package perf tracks operation timings in memory, aggregates per-operation
// statistics, and optionally persists every finished operation to a SQLite
// recorder.
package perf

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metric is one finished operation.
type Metric struct {
	Operation    string
	StartedAt    time.Time
	DurationSecs float64
	Success      bool
	ErrorMessage string
	Metadata     map[string]string
}

// Stat aggregates all recorded runs of one operation.
type Stat struct {
	Count         uint64  `json:"count"`
	SuccessCount  uint64  `json:"success_count"`
	FailCount     uint64  `json:"fail_count"`
	TotalDuration float64 `json:"total_duration"`
	MinDuration   float64 `json:"min_duration"`
	MaxDuration   float64 `json:"max_duration"`
	AvgDuration   float64 `json:"avg_duration"`
}

// SystemMetrics is a point-in-time host snapshot.
type SystemMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	TotalMemoryMB float64 `json:"total_memory_mb"`
	UsedMemoryMB  float64 `json:"used_memory_mb"`
	TotalThreads  int     `json:"total_threads"`
}

// Monitor keeps a bounded history of finished operations plus running
// aggregates. Safe for concurrent use.
type Monitor struct {
	mu          sync.Mutex
	historySize int
	history     []Metric
	stats       map[string]*Stat
	recorder    *Recorder
}

// NewMonitor creates a Monitor keeping at most historySize metrics. recorder
// may be nil to disable persistence.
func NewMonitor(historySize int, recorder *Recorder) *Monitor {
	if historySize < 1 {
		historySize = 1
	}
	return &Monitor{
		historySize: historySize,
		stats:       make(map[string]*Stat),
		recorder:    recorder,
	}
}

// OperationTimer measures one operation. Finish must be called on every exit
// path; calling it more than once is a no-op.
type OperationTimer struct {
	monitor   *Monitor
	operation string
	metadata  map[string]string
	startedAt time.Time
	once      sync.Once
}

// StartOperation begins timing an operation.
func (m *Monitor) StartOperation(operation string, metadata map[string]string) *OperationTimer {
	return &OperationTimer{
		monitor:   m,
		operation: operation,
		metadata:  metadata,
		startedAt: time.Now(),
	}
}

// Finish records the operation's outcome exactly once.
func (t *OperationTimer) Finish(success bool, errorMessage string) {
	t.once.Do(func() {
		t.monitor.record(Metric{
			Operation:    t.operation,
			StartedAt:    t.startedAt,
			DurationSecs: time.Since(t.startedAt).Seconds(),
			Success:      success,
			ErrorMessage: errorMessage,
			Metadata:     t.metadata,
		})
	})
}

func (m *Monitor) record(metric Metric) {
	m.mu.Lock()
	stat, ok := m.stats[metric.Operation]
	if !ok {
		stat = &Stat{MinDuration: -1}
		m.stats[metric.Operation] = stat
	}
	stat.Count++
	if metric.Success {
		stat.SuccessCount++
	} else {
		stat.FailCount++
	}
	stat.TotalDuration += metric.DurationSecs
	if stat.MinDuration < 0 || metric.DurationSecs < stat.MinDuration {
		stat.MinDuration = metric.DurationSecs
	}
	if metric.DurationSecs > stat.MaxDuration {
		stat.MaxDuration = metric.DurationSecs
	}
	stat.AvgDuration = stat.TotalDuration / float64(stat.Count)

	if len(m.history) >= m.historySize {
		m.history = m.history[1:]
	}
	m.history = append(m.history, metric)
	m.mu.Unlock()

	switch {
	case !metric.Success:
		slog.Warn("operation finished",
			"operation", metric.Operation,
			"durationSecs", fmt.Sprintf("%.2f", metric.DurationSecs),
			"error", metric.ErrorMessage)
	case metric.DurationSecs > 10.0:
		slog.Warn("slow operation",
			"operation", metric.Operation,
			"durationSecs", fmt.Sprintf("%.2f", metric.DurationSecs))
	default:
		slog.Debug("operation finished",
			"operation", metric.Operation,
			"durationSecs", fmt.Sprintf("%.2f", metric.DurationSecs))
	}

	if m.recorder != nil {
		if err := m.recorder.RecordMetric(metric); err != nil {
			slog.Warn("metric persistence failed", "operation", metric.Operation, "error", err)
		}
	}
}

// Stats returns a copy of the aggregates, optionally filtered to one
// operation name.
func (m *Monitor) Stats(operation string) map[string]Stat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stat)
	if operation != "" {
		if stat, ok := m.stats[operation]; ok {
			out[operation] = *stat
		}
		return out
	}
	for name, stat := range m.stats {
		out[name] = *stat
	}
	return out
}

// RecentMetrics returns up to count most recent metrics, optionally filtered
// by operation name.
func (m *Monitor) RecentMetrics(count int, operation string) []Metric {
	if count < 1 {
		count = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var data []Metric
	for _, metric := range m.history {
		if operation != "" && metric.Operation != operation {
			continue
		}
		data = append(data, metric)
	}
	if len(data) > count {
		data = data[len(data)-count:]
	}
	return data
}

// ReadSystemMetrics samples host CPU and memory usage.
func (m *Monitor) ReadSystemMetrics() SystemMetrics {
	out := SystemMetrics{TotalThreads: runtime.NumCPU()}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out.TotalMemoryMB = float64(vm.Total) / 1024.0 / 1024.0
		out.UsedMemoryMB = float64(vm.Used) / 1024.0 / 1024.0
	}
	return out
}

// GenerateReport renders a plain-text summary of host state and operation
// statistics.
func (m *Monitor) GenerateReport() string {
	system := m.ReadSystemMetrics()
	stats := m.Stats("")

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{
		strings.Repeat("=", 60),
		"performance report",
		strings.Repeat("=", 60),
		"",
		fmt.Sprintf("cpu usage: %.1f%%", system.CPUPercent),
		fmt.Sprintf("memory total: %.1fMB", system.TotalMemoryMB),
		fmt.Sprintf("memory used: %.1fMB", system.UsedMemoryMB),
		fmt.Sprintf("available threads: %d", system.TotalThreads),
		"",
		"operations:",
	}
	for _, name := range names {
		stat := stats[name]
		successRate := 0.0
		if stat.Count > 0 {
			successRate = float64(stat.SuccessCount) / float64(stat.Count) * 100.0
		}
		lines = append(lines,
			fmt.Sprintf("  operation: %s", name),
			fmt.Sprintf("    runs: %d", stat.Count),
			fmt.Sprintf("    succeeded: %d", stat.SuccessCount),
			fmt.Sprintf("    failed: %d", stat.FailCount),
			fmt.Sprintf("    success rate: %.1f%%", successRate),
			fmt.Sprintf("    avg duration: %.2fs", stat.AvgDuration),
			fmt.Sprintf("    min duration: %.2fs", stat.MinDuration),
			fmt.Sprintf("    max duration: %.2fs", stat.MaxDuration),
		)
	}
	lines = append(lines, strings.Repeat("=", 60))
	return strings.Join(lines, "\n")
}
