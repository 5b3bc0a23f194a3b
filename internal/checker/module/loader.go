package module

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
)

// SelfTestFixture is the known-bad sentence every fresh module must flag.
const SelfTestFixture = "The cats is hungry."

// State is the loader lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
)

// SelfTestPolicy decides what a failed self-test does.
type SelfTestPolicy string

const (
	// SelfTestWarn logs the failure and keeps the module.
	SelfTestWarn SelfTestPolicy = "warn"

	// SelfTestFail closes the module and fails the load.
	SelfTestFail SelfTestPolicy = "fail"
)

// ParseSelfTestPolicy parses a policy name. Empty means SelfTestWarn.
func ParseSelfTestPolicy(s string) (SelfTestPolicy, error) {
	switch SelfTestPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SelfTestWarn:
		return SelfTestWarn, nil
	case SelfTestFail:
		return SelfTestFail, nil
	default:
		return "", fmt.Errorf("unknown self-test policy %q", s)
	}
}

// LoadStatus is a snapshot of the loader.
type LoadStatus struct {
	State     State  `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Module    *Info  `json:"module,omitempty"`
}

// OperationRecorder receives per-strategy timings.
type OperationRecorder interface {
	RecordOperation(engine, operation string, duration time.Duration, err error)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSelfTestPolicy sets the self-test policy.
func WithSelfTestPolicy(p SelfTestPolicy) LoaderOption {
	return func(l *Loader) { l.policy = p }
}

// WithRecorder records each strategy attempt as operation "load" of
// "module.<strategy>".
func WithRecorder(r OperationRecorder) LoaderOption {
	return func(l *Loader) { l.recorder = r }
}

// Loader loads the analysis module once and hands out scoped sessions.
//
// Concurrent Load calls share one attempt sequence. A failed load is sticky
// until Reset.
type Loader struct {
	strategies []Strategy
	policy     SelfTestPolicy
	recorder   OperationRecorder
	logger     *slog.Logger
	group      singleflight.Group

	mu         sync.Mutex
	state      State
	module     *Module
	err        error
	attempts   int
	strategy   string
	generation uint64
}

// NewLoader creates a loader over strategies, tried in order.
func NewLoader(strategies []Strategy, logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		strategies: strategies,
		policy:     SelfTestWarn,
		logger:     logger,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the module, loading it if needed. The caller's context only
// bounds how long it waits; the shared load itself is not cancelled.
func (l *Loader) Load(ctx context.Context) (*Module, error) {
	l.mu.Lock()
	switch l.state {
	case StateLoaded:
		m := l.module
		l.mu.Unlock()
		return m, nil
	case StateFailed:
		err := l.err
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan("load", func() (interface{}, error) {
		return l.load(shared)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Module), nil
	}
}

func (l *Loader) load(ctx context.Context) (*Module, error) {
	l.mu.Lock()
	switch l.state {
	case StateLoaded:
		m := l.module
		l.mu.Unlock()
		return m, nil
	case StateFailed:
		err := l.err
		l.mu.Unlock()
		return nil, err
	}
	l.state = StateLoading
	l.attempts++
	gen := l.generation
	l.mu.Unlock()

	var failures []sdk.StrategyError
	for _, s := range l.strategies {
		start := time.Now()
		m, err := s.Load(ctx)
		if err != nil {
			l.record(s.Name(), time.Since(start), err)
			l.logger.Warn("module strategy failed",
				"strategy", s.Name(),
				"error", err,
			)
			failures = append(failures, sdk.StrategyError{Strategy: s.Name(), Err: err})
			continue
		}

		if err := l.selfTest(ctx, s.Name(), m); err != nil {
			_ = m.Close()
			l.record(s.Name(), time.Since(start), err)
			failures = append(failures, sdk.StrategyError{Strategy: s.Name(), Err: err})
			continue
		}
		l.record(s.Name(), time.Since(start), nil)
		return l.succeed(gen, s.Name(), m)
	}
	return nil, l.fail(gen, failures)
}

func (l *Loader) succeed(gen uint64, strategy string, m *Module) (*Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		_ = m.Close()
		return nil, fmt.Errorf("%w: load superseded by reset", sdk.ErrModuleNotLoaded)
	}
	l.state = StateLoaded
	l.module = m
	l.err = nil
	l.strategy = strategy

	info := m.Info()
	l.logger.Info("analysis module loaded",
		"strategy", strategy,
		"module", info.Name,
		"version", info.Version,
		"rules", info.RuleCount,
	)
	return m, nil
}

func (l *Loader) fail(gen uint64, failures []sdk.StrategyError) error {
	err := &sdk.ModuleLoadError{Attempts: failures}

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		return err
	}
	l.state = StateFailed
	l.module = nil
	l.err = err
	l.strategy = ""
	l.logger.Error("analysis module unavailable", "error", err)
	return err
}

// selfTest runs the fixture through a fresh session. With SelfTestWarn a
// failure is logged and nil is returned.
func (l *Loader) selfTest(ctx context.Context, strategy string, m *Module) error {
	err := runSelfTest(ctx, m)
	if err == nil {
		return nil
	}
	l.logger.Warn("analysis module self-test failed",
		"strategy", strategy,
		"policy", string(l.policy),
		"error", err,
	)
	if l.policy == SelfTestFail {
		return err
	}
	return nil
}

func runSelfTest(ctx context.Context, m *Module) error {
	session, err := m.Acquire()
	if err != nil {
		return fmt.Errorf("%w: %v", sdk.ErrSelfTestFailed, err)
	}
	defer session.Release()

	findings, err := session.Analyze(ctx, SelfTestFixture)
	if err != nil {
		return fmt.Errorf("%w: %v", sdk.ErrSelfTestFailed, err)
	}
	if len(findings) == 0 {
		return fmt.Errorf("%w: no findings for fixture", sdk.ErrSelfTestFailed)
	}
	n := utf8.RuneCountInString(SelfTestFixture)
	for _, f := range findings {
		if f.Start < 0 || f.End < f.Start || f.End > n {
			return fmt.Errorf("%w: finding [%d,%d) out of bounds", sdk.ErrSelfTestFailed, f.Start, f.End)
		}
	}
	return nil
}

func (l *Loader) record(strategy string, d time.Duration, err error) {
	if l.recorder != nil {
		l.recorder.RecordOperation("module."+strategy, "load", d, err)
	}
}

// WithSession loads the module if needed and runs fn with a fresh session.
// The session is released on every exit path, panics included.
func (l *Loader) WithSession(ctx context.Context, fn func(*Session) error) error {
	m, err := l.Load(ctx)
	if err != nil {
		return err
	}
	session, err := m.Acquire()
	if err != nil {
		return err
	}
	defer session.Release()
	return fn(session)
}

// Status returns a snapshot of the loader state.
func (l *Loader) Status() LoadStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := LoadStatus{
		State:    l.state,
		Attempts: l.attempts,
		Strategy: l.strategy,
	}
	if l.err != nil {
		st.LastError = l.err.Error()
	}
	if l.module != nil {
		info := l.module.Info()
		st.Module = &info
	}
	return st
}

// Reset closes any loaded module and returns to idle. A load in flight
// when Reset is called has its result discarded.
func (l *Loader) Reset() error {
	l.mu.Lock()
	m := l.module
	l.generation++
	l.state = StateIdle
	l.module = nil
	l.err = nil
	l.strategy = ""
	l.mu.Unlock()

	l.group.Forget("load")
	if m != nil {
		return m.Close()
	}
	return nil
}

// Close releases the loaded module.
func (l *Loader) Close() error {
	return l.Reset()
}
