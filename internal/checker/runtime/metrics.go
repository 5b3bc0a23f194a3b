package runtime

import (
	"sync"
	"time"
)

// Operation names recorded by the checking core.
const (
	OpCheck = "check"
	OpLoad  = "load"
	OpFetch = "fetch"
)

// MetricsCollector collects call metrics for checkers and loader strategies.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*EngineMetrics
	now     func() time.Time
}

// EngineMetrics contains metrics for a single checker or strategy.
type EngineMetrics struct {
	Engine          string        `json:"engine"`
	TotalCalls      int64         `json:"total_calls"`
	SuccessfulCalls int64         `json:"successful_calls"`
	FailedCalls     int64         `json:"failed_calls"`
	Panics          int64         `json:"panics"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	LastCallAt      time.Time     `json:"last_call_at"`
	LastError       string        `json:"last_error,omitempty"`

	// CircuitBreakerState is set for callers guarded by a breaker.
	CircuitBreakerState string `json:"circuit_breaker_state,omitempty"`

	// Operations breaks the totals down per operation.
	Operations map[string]OperationMetrics `json:"operations"`
}

// OperationMetrics contains metrics for a specific operation.
type OperationMetrics struct {
	TotalCalls    int64         `json:"total_calls"`
	FailedCalls   int64         `json:"failed_calls"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*EngineMetrics),
		now:     time.Now,
	}
}

// RecordOperation records the outcome of one call.
func (m *MetricsCollector) RecordOperation(engine, operation string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreate(engine)
	metrics.TotalCalls++
	metrics.TotalDuration += duration
	metrics.LastCallAt = m.now()

	if err != nil {
		metrics.FailedCalls++
		metrics.LastError = err.Error()
	} else {
		metrics.SuccessfulCalls++
	}

	if metrics.TotalCalls == 1 || duration < metrics.MinDuration {
		metrics.MinDuration = duration
	}
	if duration > metrics.MaxDuration {
		metrics.MaxDuration = duration
	}
	metrics.AverageDuration = metrics.TotalDuration / time.Duration(metrics.TotalCalls)

	op := metrics.Operations[operation]
	op.TotalCalls++
	op.TotalDuration += duration
	if err != nil {
		op.FailedCalls++
	}
	if duration > op.MaxDuration {
		op.MaxDuration = duration
	}
	metrics.Operations[operation] = op
}

// RecordPanic counts a recovered panic.
func (m *MetricsCollector) RecordPanic(engine string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(engine).Panics++
}

// RecordCircuitBreakerChange records a circuit breaker state change.
func (m *MetricsCollector) RecordCircuitBreakerChange(engine, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(engine).CircuitBreakerState = state
}

// Get returns a copy of the metrics for one engine, or nil.
func (m *MetricsCollector) Get(engine string) *EngineMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.metrics[engine]; ok {
		c := copyMetrics(metrics)
		return &c
	}
	return nil
}

// GetAll returns metrics for all engines.
func (m *MetricsCollector) GetAll() map[string]EngineMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]EngineMetrics, len(m.metrics))
	for name, metrics := range m.metrics {
		result[name] = copyMetrics(metrics)
	}
	return result
}

// Reset clears all metrics.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = make(map[string]*EngineMetrics)
}

func (m *MetricsCollector) getOrCreate(engine string) *EngineMetrics {
	if metrics, ok := m.metrics[engine]; ok {
		return metrics
	}
	metrics := &EngineMetrics{
		Engine:     engine,
		Operations: make(map[string]OperationMetrics),
	}
	m.metrics[engine] = metrics
	return metrics
}

func copyMetrics(metrics *EngineMetrics) EngineMetrics {
	c := *metrics
	c.Operations = make(map[string]OperationMetrics, len(metrics.Operations))
	for op, om := range metrics.Operations {
		c.Operations[op] = om
	}
	return c
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	Timestamp time.Time                `json:"timestamp"`
	Engines   map[string]EngineMetrics `json:"engines"`
	Summary   SnapshotSummary          `json:"summary"`
}

// SnapshotSummary contains aggregated summary statistics.
type SnapshotSummary struct {
	TotalEngines    int     `json:"total_engines"`
	TotalCalls      int64   `json:"total_calls"`
	TotalSuccessful int64   `json:"total_successful"`
	TotalFailed     int64   `json:"total_failed"`
	TotalPanics     int64   `json:"total_panics"`
	SuccessRate     float64 `json:"success_rate"`

	// OpenCircuits lists callers whose breaker is open.
	OpenCircuits []string `json:"open_circuits,omitempty"`
}

// TakeSnapshot creates a snapshot of current metrics.
func (m *MetricsCollector) TakeSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := Snapshot{
		Timestamp: m.now(),
		Engines:   make(map[string]EngineMetrics, len(m.metrics)),
	}

	var sum SnapshotSummary
	for name, metrics := range m.metrics {
		snapshot.Engines[name] = copyMetrics(metrics)
		sum.TotalCalls += metrics.TotalCalls
		sum.TotalSuccessful += metrics.SuccessfulCalls
		sum.TotalFailed += metrics.FailedCalls
		sum.TotalPanics += metrics.Panics
		if metrics.CircuitBreakerState == "open" {
			sum.OpenCircuits = append(sum.OpenCircuits, name)
		}
	}
	sum.TotalEngines = len(m.metrics)
	if sum.TotalCalls > 0 {
		sum.SuccessRate = float64(sum.TotalSuccessful) / float64(sum.TotalCalls)
	}
	snapshot.Summary = sum
	return snapshot
}
