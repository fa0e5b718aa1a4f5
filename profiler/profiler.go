// Package profiler - Per-stage timings and metrics of a CAM generation run.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// Profiler tracks how long each stage of a run takes and the values recorded for
// custom metrics. It is safe for concurrent use.
type Profiler struct {
	mu        sync.Mutex
	startTime time.Time
	clock     func() time.Time

	metrics    map[string]*MetricTracker
	operations map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	Sum   float64
	Min   float64
	Max   float64
	Count int64
}

// Mean returns the average recorded value, or 0 with no samples.
func (t MetricTracker) Mean() float64 {
	if t.Count == 0 {
		return 0
	}
	return t.Sum / float64(t.Count)
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Count int64
}

// Mean returns the average duration, or 0 with no samples.
func (t TimeTracker) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// New creates a profiler whose uptime starts now.
func New() *Profiler {
	return newWithClock(time.Now)
}

func newWithClock(clock func() time.Time) *Profiler {
	return &Profiler{
		startTime:  clock(),
		clock:      clock,
		metrics:    make(map[string]*MetricTracker),
		operations: make(map[string]*TimeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track
//
// Returns:
//   - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	start := p.clock()
	return func() {
		p.recordOperationTime(name, p.clock().Sub(start))
	}
}

func (p *Profiler) recordOperationTime(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		t = &TimeTracker{Min: d, Max: d}
		p.operations[name] = t
	}
	t.Total += d
	t.Count++
	t.Min = min(t.Min, d)
	t.Max = max(t.Max, d)
}

// RecordMetric records a custom metric value.
//
// Arguments:
//   - name: The name of the metric
//   - value: The metric value to record
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.metrics[name]
	if !ok {
		t = &MetricTracker{Min: value, Max: value}
		p.metrics[name] = t
	}
	t.Sum += value
	t.Count++
	t.Min = min(t.Min, value)
	t.Max = max(t.Max, value)
}

// Operation returns a copy of the timings of one operation.
func (p *Profiler) Operation(name string) (TimeTracker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.operations[name]
	if !ok {
		return TimeTracker{}, false
	}
	return *t, true
}

// Metric returns a copy of the statistics of one metric.
func (p *Profiler) Metric(name string) (MetricTracker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.metrics[name]
	if !ok {
		return MetricTracker{}, false
	}
	return *t, true
}

// Report logs the uptime, heap usage, every operation and every metric, sorted by name.
func (p *Profiler) Report(log logs.Log) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.Infof("[i] Uptime: %v, heap: %s, GC cycles: %d",
		p.clock().Sub(p.startTime).Truncate(time.Millisecond), formatBytes(mem.HeapAlloc), mem.NumGC)

	for _, name := range sortedKeys(p.operations) {
		t := p.operations[name]
		log.Infof("[i] %s: avg=%v, min=%v, max=%v, count=%d", name,
			t.Mean().Truncate(time.Microsecond), t.Min.Truncate(time.Microsecond),
			t.Max.Truncate(time.Microsecond), t.Count)
	}
	for _, name := range sortedKeys(p.metrics) {
		t := p.metrics[name]
		log.Infof("[i] %s: avg=%.4f, min=%.4f, max=%.4f, samples=%d", name, t.Mean(), t.Min, t.Max, t.Count)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
