// Package health tracks the success and failure of every checker and
// aggregates them into an overall system status.
package health

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

// Status is the health of a single engine.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
)

// Overall is the aggregated health of the system.
type Overall string

const (
	OverallHealthy  Overall = "healthy"
	OverallDegraded Overall = "degraded"
	OverallCritical Overall = "critical"
)

// Config tunes status thresholds.
type Config struct {
	// FailingThreshold is the number of consecutive failures that marks an
	// engine failing.
	FailingThreshold int

	// DegradedThreshold is the number of consecutive failures that marks an
	// engine degraded.
	DegradedThreshold int

	// DegradedFailureRate marks an engine degraded once its lifetime failure
	// rate reaches it, given at least MinSamples calls.
	DegradedFailureRate float64
	MinSamples          int

	// CriticalEngines are engines whose failure makes the system critical.
	CriticalEngines []string
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailingThreshold:    3,
		DegradedThreshold:   2,
		DegradedFailureRate: 0.25,
		MinSamples:          4,
	}
}

// EngineHealthRecord is the tracked state of one engine.
type EngineHealthRecord struct {
	EngineName          string     `json:"engine_name"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalSuccesses      int64      `json:"total_successes"`
	TotalFailures       int64      `json:"total_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	Status              Status     `json:"status"`
}

// FailureRate returns the lifetime failure ratio.
func (r EngineHealthRecord) FailureRate() float64 {
	total := r.TotalSuccesses + r.TotalFailures
	if total == 0 {
		return 0
	}
	return float64(r.TotalFailures) / float64(total)
}

// Report is a point-in-time view of system health.
type Report struct {
	Overall         Overall              `json:"overall"`
	Engines         []EngineHealthRecord `json:"engines"`
	FailingEngines  []string             `json:"failing_engines"`
	CriticalFailing []string             `json:"critical_failing"`
	Recommendations []string             `json:"recommendations"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// StatusSink receives status changes. Implementations must not block.
type StatusSink interface {
	EngineStatusChanged(engine string, status Status)
	OverallStatusChanged(overall Overall)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithSink publishes status changes to sink.
func WithSink(sink StatusSink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// Monitor tracks engine health. It is safe for concurrent use.
type Monitor struct {
	mu      sync.RWMutex
	records map[string]*EngineHealthRecord
	overall Overall
	config  Config
	sink    StatusSink
	now     func() time.Time
	logger  *slog.Logger
}

// NewMonitor creates a health monitor.
func NewMonitor(config Config, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if config.FailingThreshold <= 0 {
		config.FailingThreshold = def.FailingThreshold
	}
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = def.DegradedThreshold
	}
	if config.DegradedFailureRate <= 0 {
		config.DegradedFailureRate = def.DegradedFailureRate
	}
	if config.MinSamples <= 0 {
		config.MinSamples = def.MinSamples
	}

	m := &Monitor{
		records: make(map[string]*EngineHealthRecord),
		overall: OverallHealthy,
		config:  config,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track starts tracking engines so they appear in reports before their first
// call.
func (m *Monitor) Track(engines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range engines {
		m.record(name)
	}
}

// RecordSuccess records a successful call.
func (m *Monitor) RecordSuccess(engine string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.record(engine)
	now := m.now()
	r.ConsecutiveFailures = 0
	r.TotalSuccesses++
	r.LastSuccessAt = &now
	m.update(r)
}

// RecordFailure records a failed call.
func (m *Monitor) RecordFailure(engine string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.record(engine)
	now := m.now()
	r.ConsecutiveFailures++
	r.TotalFailures++
	if err != nil {
		r.LastError = err.Error()
	}
	r.LastErrorAt = &now
	m.update(r)
}

// Status returns the status of one engine. Untracked engines are healthy.
func (m *Monitor) Status(engine string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[engine]; ok {
		return r.Status
	}
	return StatusHealthy
}

// IsFailing reports whether the engine is currently failing.
func (m *Monitor) IsFailing(engine string) bool {
	return m.Status(engine) == StatusFailing
}

// Record returns a copy of the record of one engine.
func (m *Monitor) Record(engine string) (EngineHealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[engine]
	if !ok {
		return EngineHealthRecord{}, false
	}
	return *r, true
}

// Report builds a health report.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := Report{
		Overall:         m.overallLocked(),
		Engines:         make([]EngineHealthRecord, 0, len(m.records)),
		FailingEngines:  []string{},
		CriticalFailing: []string{},
		Recommendations: []string{},
		GeneratedAt:     m.now(),
	}

	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := m.records[name]
		report.Engines = append(report.Engines, *r)
		switch r.Status {
		case StatusFailing:
			report.FailingEngines = append(report.FailingEngines, name)
			if m.isCritical(name) {
				report.CriticalFailing = append(report.CriticalFailing, name)
			}
			if r.TotalSuccesses == 0 {
				report.Recommendations = append(report.Recommendations, fmt.Sprintf(
					"check configuration of engine %s: %d failures and no success since start", name, r.TotalFailures))
			} else {
				report.Recommendations = append(report.Recommendations, fmt.Sprintf(
					"reinitialize engine %s after %d consecutive failures", name, r.ConsecutiveFailures))
			}
		case StatusDegraded:
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"monitor engine %s: %.0f%% of calls failed", name, r.FailureRate()*100))
		}
	}

	if report.Overall == OverallCritical && len(report.FailingEngines) == len(names) && len(names) > 0 {
		report.Recommendations = append(report.Recommendations,
			"every engine is failing: checks return no issues until one recovers")
	}
	return report
}

// Overall returns the aggregated status.
func (m *Monitor) Overall() Overall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

// Reset clears every record.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, r := range m.records {
		m.records[name] = &EngineHealthRecord{EngineName: name, Status: StatusHealthy}
		if r.Status != StatusHealthy && m.sink != nil {
			m.sink.EngineStatusChanged(name, StatusHealthy)
		}
	}
	m.publishOverall()
	m.logger.Info("health monitoring reset", "engines", len(m.records))
}

func (m *Monitor) record(engine string) *EngineHealthRecord {
	r, ok := m.records[engine]
	if !ok {
		r = &EngineHealthRecord{EngineName: engine, Status: StatusHealthy}
		m.records[engine] = r
	}
	return r
}

func (m *Monitor) update(r *EngineHealthRecord) {
	prev := r.Status
	r.Status = m.classify(r)
	if prev == r.Status {
		return
	}

	m.logger.Info("engine health changed",
		"engine", r.EngineName,
		"from", prev,
		"to", r.Status,
		"consecutive_failures", r.ConsecutiveFailures,
	)
	if m.sink != nil {
		m.sink.EngineStatusChanged(r.EngineName, r.Status)
	}
	m.publishOverall()
}

func (m *Monitor) classify(r *EngineHealthRecord) Status {
	switch {
	case r.ConsecutiveFailures >= m.config.FailingThreshold:
		return StatusFailing
	case r.TotalFailures > 0 && r.TotalSuccesses == 0:
		return StatusFailing
	case r.ConsecutiveFailures >= m.config.DegradedThreshold:
		return StatusDegraded
	case r.TotalSuccesses+r.TotalFailures >= int64(m.config.MinSamples) &&
		r.FailureRate() >= m.config.DegradedFailureRate:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (m *Monitor) publishOverall() {
	overall := m.overallLocked()
	if overall == m.overall {
		return
	}
	m.overall = overall
	if m.sink != nil {
		m.sink.OverallStatusChanged(overall)
	}
}

func (m *Monitor) overallLocked() Overall {
	if len(m.records) == 0 {
		return OverallHealthy
	}
	overall := OverallHealthy
	failing := 0
	for name, r := range m.records {
		switch r.Status {
		case StatusFailing:
			failing++
			if m.isCritical(name) {
				return OverallCritical
			}
			overall = OverallDegraded
		case StatusDegraded:
			overall = OverallDegraded
		}
	}
	if failing == len(m.records) {
		return OverallCritical
	}
	return overall
}

func (m *Monitor) isCritical(engine string) bool {
	return slices.Contains(m.config.CriticalEngines, engine)
}
