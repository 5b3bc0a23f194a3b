package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeStatus is the state of one dependency.
type ProbeStatus string

const (
	ProbeUp   ProbeStatus = "up"
	ProbeDown ProbeStatus = "down"
)

// ProbeResult is the outcome of one probe run.
type ProbeResult struct {
	Name     string        `json:"name"`
	Status   ProbeStatus   `json:"status"`
	Required bool          `json:"required"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Readiness aggregates probe results. Ready is false when a required probe
// is down; optional probes only degrade.
type Readiness struct {
	Ready     bool          `json:"ready"`
	Degraded  bool          `json:"degraded"`
	CheckedAt time.Time     `json:"checked_at"`
	Probes    []ProbeResult `json:"probes"`
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

type probe struct {
	ping     PingFunc
	required bool
}

// Probes runs dependency checks (database, Redis, RabbitMQ) for readiness
// endpoints.
type Probes struct {
	mu      sync.RWMutex
	probes  map[string]probe
	timeout time.Duration
}

// NewProbes creates an empty set. Each probe run is bounded by timeout.
func NewProbes(timeout time.Duration) *Probes {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probes{probes: make(map[string]probe), timeout: timeout}
}

// Register adds a probe. A failing required probe makes the process unready.
func (p *Probes) Register(name string, required bool, ping PingFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[name] = probe{ping: ping, required: required}
}

// Len returns the number of registered probes.
func (p *Probes) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.probes)
}

// Check runs every probe concurrently.
func (p *Probes) Check(ctx context.Context) Readiness {
	p.mu.RLock()
	names := make([]string, 0, len(p.probes))
	for name := range p.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	probes := make([]probe, len(names))
	for i, name := range names {
		probes[i] = p.probes[name]
	}
	p.mu.RUnlock()

	results := make([]ProbeResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i := range names {
		g.Go(func() error {
			results[i] = p.run(gctx, names[i], probes[i])
			return nil
		})
	}
	_ = g.Wait()

	out := Readiness{Ready: true, CheckedAt: time.Now(), Probes: results}
	for _, r := range results {
		if r.Status == ProbeUp {
			continue
		}
		if r.Required {
			out.Ready = false
		} else {
			out.Degraded = true
		}
	}
	return out
}

func (p *Probes) run(ctx context.Context, name string, pr probe) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := pr.ping(ctx)
	res := ProbeResult{
		Name:     name,
		Status:   ProbeUp,
		Required: pr.required,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Status = ProbeDown
		res.Error = err.Error()
	}
	return res
}
