// Package runtime runs registered checkers concurrently and records their
// outcomes.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/prosecheck/internal/checker/normalize"
	"github.com/felixgeelhaar/prosecheck/internal/checker/registry"
	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Observer is notified of every checker outcome once a dispatch round has
// settled. Outcomes arrive in registration order.
type Observer interface {
	RecordSuccess(engine string)
	RecordFailure(engine string, err error)
}

// Outcome is the settled result of one checker.
type Outcome struct {
	Engine   string        `json:"engine"`
	Ordinal  int           `json:"ordinal"`
	Issues   []types.Issue `json:"issues,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the checker failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Request selects the checkers of one dispatch.
type Request struct {
	// Categories restricts dispatch to checkers declaring any of them.
	Categories []types.Category

	// EngineEnabled filters checkers by name. Nil enables all.
	EngineEnabled func(name string) bool
}

// DispatchResult is the joined outcome of a dispatch round.
type DispatchResult struct {
	// Issues combines the canonical issues of every successful checker,
	// in registration order. They are not deduplicated.
	Issues []types.Issue

	// PerEngine holds every outcome keyed by checker name.
	PerEngine map[string]Outcome

	// Outcomes holds every outcome in registration order.
	Outcomes []Outcome

	// Invoked is the number of checkers started.
	Invoked int
}

// Failures returns the names of checkers that failed.
func (r *DispatchResult) Failures() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Failed() {
			names = append(names, o.Engine)
		}
	}
	return names
}

// Dispatcher fans a text out to every selected checker and joins all results.
type Dispatcher struct {
	registry *registry.Registry
	observer Observer
	metrics  *MetricsCollector
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. The observer may be nil.
func NewDispatcher(reg *registry.Registry, observer Observer, metrics *MetricsCollector, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	return &Dispatcher{
		registry: reg,
		observer: observer,
		metrics:  metrics,
		logger:   logger,
	}
}

// Metrics returns the collector fed by this dispatcher.
func (d *Dispatcher) Metrics() *MetricsCollector {
	return d.metrics
}

// Dispatch runs every selected checker concurrently and waits for all of them.
//
// A failing or panicking checker never prevents the others from finishing.
// Checkers receive a context that is never cancelled; cancellation of ctx is
// the caller's concern. The only error returned is a normalization defect
// (sdk.ErrUnknownFinding).
func (d *Dispatcher) Dispatch(ctx context.Context, text string, req Request) (*DispatchResult, error) {
	result := &DispatchResult{
		Issues:    []types.Issue{},
		PerEngine: map[string]Outcome{},
	}
	if utf8.RuneCountInString(text) < sdk.MinTextLength {
		return result, nil
	}

	var selected []registry.CheckerEntry
	for _, entry := range d.registry.Select(req.Categories) {
		if req.EngineEnabled == nil || req.EngineEnabled(entry.Name) {
			selected = append(selected, entry)
		}
	}
	if len(selected) == 0 {
		return result, nil
	}

	engineCtx := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, len(selected))

	var g errgroup.Group
	for i, entry := range selected {
		g.Go(func() error {
			outcomes[i] = d.run(engineCtx, entry, text)
			return nil
		})
	}
	_ = g.Wait()

	result.Invoked = len(selected)
	result.Outcomes = outcomes

	var defect error
	for i := range outcomes {
		o := &outcomes[i]
		if o.Err != nil && defect == nil && !sdk.IsEngineExecutionError(o.Err) {
			defect = o.Err
		}

		d.metrics.RecordOperation(o.Engine, OpCheck, o.Duration, o.Err)
		if d.observer != nil {
			if o.Err != nil {
				d.observer.RecordFailure(o.Engine, o.Err)
			} else {
				d.observer.RecordSuccess(o.Engine)
			}
		}

		result.PerEngine[o.Engine] = *o
		if o.Err == nil {
			result.Issues = append(result.Issues, o.Issues...)
		} else {
			d.logger.Warn("checker failed",
				"engine", o.Engine,
				"duration_ms", o.Duration.Milliseconds(),
				"error", o.Err,
			)
		}
	}
	if defect != nil {
		return nil, defect
	}
	return result, nil
}

// run executes one checker, converting panics into execution errors and
// canonicalizing its findings.
func (d *Dispatcher) run(ctx context.Context, entry registry.CheckerEntry, text string) (out Outcome) {
	out = Outcome{Engine: entry.Name, Ordinal: entry.Ordinal}
	start := time.Now()

	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			d.metrics.RecordPanic(entry.Name)
			d.logger.Error("checker panicked",
				"engine", entry.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out.Issues = nil
			out.Err = &sdk.EngineExecutionError{
				Engine:   entry.Name,
				Err:      fmt.Errorf("%v", r),
				Panicked: true,
			}
		}
	}()

	findings, err := entry.Checker.Check(ctx, text)
	if err != nil {
		out.Err = sdk.NewEngineExecutionError(entry.Name, err)
		return out
	}

	issues, err := normalize.Canonicalize(entry.Name, text, findings)
	if err != nil {
		out.Err = err
		return out
	}
	out.Issues = issues
	return out
}
