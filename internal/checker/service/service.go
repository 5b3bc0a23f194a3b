// Package service exposes the checking core: the Check operation plus the
// diagnostics used by operators.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/felixgeelhaar/prosecheck/internal/checker/cache"
	"github.com/felixgeelhaar/prosecheck/internal/checker/health"
	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/internal/checker/normalize"
	"github.com/felixgeelhaar/prosecheck/internal/checker/registry"
	"github.com/felixgeelhaar/prosecheck/internal/checker/runtime"
	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Service runs checks through the registered engines.
type Service struct {
	registry   *registry.Registry
	dispatcher *runtime.Dispatcher
	cache      *cache.Cache
	monitor    *health.Monitor
	loader     *module.Loader
	logger     *slog.Logger

	checkTimeout time.Duration
	version      string
	startedAt    time.Time

	adjusterMu sync.RWMutex
	adjuster   normalize.ConfidenceAdjuster

	checks       atomic.Int64
	cacheHits    atomic.Int64
	timeouts     atomic.Int64
	rejected     atomic.Int64
	uncacheables atomic.Int64
}

// Option configures a Service.
type Option func(*Service)

// WithCheckTimeout bounds every Check. Zero disables the bound.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) { s.checkTimeout = d }
}

// WithLoader exposes the module loader in system status.
func WithLoader(l *module.Loader) Option {
	return func(s *Service) { s.loader = l }
}

// WithAdjuster installs a confidence adjuster.
func WithAdjuster(a normalize.ConfidenceAdjuster) Option {
	return func(s *Service) { s.adjuster = a }
}

// WithVersion sets the version reported in system status.
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// WithMetrics shares a metrics collector with other components.
func WithMetrics(m *runtime.MetricsCollector) Option {
	return func(s *Service) {
		s.dispatcher = runtime.NewDispatcher(s.registry, s.monitor, m, s.logger)
	}
}

// New creates a service. The monitor observes every dispatch.
func New(reg *registry.Registry, c *cache.Cache, monitor *health.Monitor, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry:  reg,
		cache:     c,
		monitor:   monitor,
		logger:    logger,
		version:   "dev",
		startedAt: time.Now(),
	}
	s.dispatcher = runtime.NewDispatcher(reg, monitor, nil, logger)
	for _, opt := range opts {
		opt(s)
	}
	monitor.Track(reg.Names()...)
	return s
}

// SetAdjuster swaps the confidence adjuster. Nil removes it.
func (s *Service) SetAdjuster(a normalize.ConfidenceAdjuster) {
	s.adjusterMu.Lock()
	defer s.adjusterMu.Unlock()
	s.adjuster = a
}

func (s *Service) currentAdjuster() normalize.ConfidenceAdjuster {
	s.adjusterMu.RLock()
	defer s.adjusterMu.RUnlock()
	return s.adjuster
}

// Check analyzes text and returns the merged, deduplicated issues.
//
// Malformed or too-short input, or options naming an unknown category,
// yield an empty result, not an error. Engine
// failures degrade the result and are reported to the health monitor.
// Errors are returned only when no engine is registered, when a finding
// cannot be normalized, on timeout, or when ctx ends first.
func (s *Service) Check(ctx context.Context, text string, opts *types.Options) (*types.CheckResult, error) {
	start := time.Now()
	s.checks.Add(1)

	err := validate(text)
	if err == nil {
		err = opts.Validate()
	}
	if err != nil {
		s.rejected.Add(1)
		s.logger.Debug("input rejected", "error", err)
		result := types.EmptyResult(utf8.RuneCountInString(text))
		result.Statistics.SetProcessingTime(time.Since(start))
		return result, nil
	}
	if s.registry.Count() == 0 {
		return nil, sdk.ErrNoCheckers
	}

	eff := opts.Effective()
	key := cache.KeyFor(text, eff)
	result, hit, err := s.cache.GetOrCompute(ctx, key, cache.Fingerprint(text), func(ctx context.Context) (*types.CheckResult, bool, error) {
		return s.compute(ctx, text, eff)
	})
	if err != nil {
		if errors.Is(err, sdk.ErrTimeout) {
			s.timeouts.Add(1)
		}
		return nil, err
	}

	if hit {
		s.cacheHits.Add(1)
		result.Statistics.CacheHit = true
		result.Statistics.EnginesInvoked = 0
	}
	result.Statistics.SetProcessingTime(time.Since(start))
	return result, nil
}

type computed struct {
	result    *types.CheckResult
	cacheable bool
	err       error
}

// compute dispatches in the background and waits for it, the timeout or
// ctx. A dispatch that finishes late still reaches the health monitor
// through the dispatcher, but its result is dropped.
func (s *Service) compute(ctx context.Context, text string, opts types.Options) (*types.CheckResult, bool, error) {
	done := make(chan computed, 1)
	go func() {
		r, cacheable, err := s.run(sdk.WithOptions(ctx, opts), text, opts)
		done <- computed{result: r, cacheable: cacheable, err: err}
	}()

	var timeout <-chan time.Time
	if s.checkTimeout > 0 {
		timer := time.NewTimer(s.checkTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case c := <-done:
		if !c.cacheable {
			s.uncacheables.Add(1)
		}
		return c.result, c.cacheable, c.err
	case <-timeout:
		s.logger.Warn("check timed out", "timeout_ms", s.checkTimeout.Milliseconds())
		return nil, false, sdk.ErrTimeout
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, text string, opts types.Options) (*types.CheckResult, bool, error) {
	dr, err := s.dispatcher.Dispatch(ctx, text, runtime.Request{
		Categories:    opts.Categories,
		EngineEnabled: opts.EngineEnabled,
	})
	if err != nil {
		s.logger.Error("normalization defect", "error", err)
		return nil, false, err
	}

	issues := dr.Issues
	if len(opts.Categories) > 0 {
		issues = slices.DeleteFunc(issues, func(i types.Issue) bool {
			return !slices.Contains(opts.Categories, i.Category)
		})
	}
	issues = normalize.Finalize(issues, s.registry.Ordinals(), s.currentAdjuster(), s.monitor.IsFailing)

	result := types.EmptyResult(utf8.RuneCountInString(text))
	result.Issues = issues
	result.Statistics.EnginesInvoked = dr.Invoked
	for _, o := range dr.Outcomes {
		result.Statistics.PerEngineIssueCounts[o.Engine] = 0
		if o.Err != nil {
			if result.Statistics.EngineErrors == nil {
				result.Statistics.EngineErrors = map[string]string{}
			}
			result.Statistics.EngineErrors[o.Engine] = o.Err.Error()
		}
	}
	for _, issue := range issues {
		result.Statistics.PerEngineIssueCounts[issue.SourceEngine]++
	}
	return result, len(dr.Failures()) == 0, nil
}

func validate(text string) error {
	if !utf8.ValidString(text) {
		return &sdk.ValidationError{Reason: sdk.ErrInvalidUTF8, Length: len(text)}
	}
	if n := utf8.RuneCountInString(text); n < sdk.MinTextLength {
		return &sdk.ValidationError{Reason: sdk.ErrTextTooShort, Length: n}
	}
	return nil
}

// GetHealthReport returns the current health report.
func (s *Service) GetHealthReport() health.Report {
	return s.monitor.Report()
}

// ResetHealthMonitoring clears every engine health record.
func (s *Service) ResetHealthMonitoring() {
	s.monitor.Reset()
}

// ResetModule discards the loaded or failed analysis module and loads it
// again. A failed reload is returned with the loader's status.
func (s *Service) ResetModule(ctx context.Context) (module.LoadStatus, error) {
	if s.loader == nil {
		return module.LoadStatus{}, sdk.ErrNoModule
	}
	if err := s.loader.Reset(); err != nil {
		s.logger.Warn("close analysis module", "error", err)
	}
	_, err := s.loader.Load(ctx)
	status := s.loader.Status()
	if err != nil {
		s.logger.Error("analysis module reload failed", "error", err)
		return status, err
	}
	s.logger.Info("analysis module reloaded", "strategy", status.Strategy)
	return status, nil
}

// ClearCache drops every cached result.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

// Close shuts down the engines and releases the analysis module.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.registry.ShutdownAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.loader != nil {
		if err := s.loader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
