package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/internal/checker/builtin"
	"github.com/felixgeelhaar/prosecheck/internal/checker/cache"
	"github.com/felixgeelhaar/prosecheck/internal/checker/health"
	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/internal/checker/registry"
	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	monitor *health.Monitor
	clock   *clock
}

func newFixture(t *testing.T, checkers []sdk.Checker, opts ...Option) *fixture {
	t.Helper()
	logger := testLogger()
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	reg := registry.NewRegistry(logger)
	for _, c := range checkers {
		require.NoError(t, reg.Register(c))
	}
	monitor := health.NewMonitor(health.DefaultConfig(), logger)
	c := cache.New(cache.DefaultConfig(), logger, cache.WithClock(clk.Now))

	svc := New(reg, c, monitor, logger, opts...)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return &fixture{svc: svc, monitor: monitor, clock: clk}
}

func offsets(name string, cat types.Category, spans ...[3]float64) *countingChecker {
	return &countingChecker{
		name: name,
		cats: []types.Category{cat},
		fn: func(context.Context, string) ([]types.Finding, error) {
			out := make([]types.Finding, 0, len(spans))
			for _, s := range spans {
				out = append(out, types.OffsetFinding{
					Offset:     int(s[0]),
					Length:     int(s[1]),
					Confidence: s[2],
					Category:   cat,
					Message:    name + " finding",
				})
			}
			return out, nil
		},
	}
}

func throwing(name string) *countingChecker {
	return &countingChecker{
		name: name,
		cats: []types.Category{types.CategoryStyle},
		fn: func(context.Context, string) ([]types.Finding, error) {
			return nil, errors.New(name + " exploded")
		},
	}
}

type countingChecker struct {
	name  string
	cats  []types.Category
	fn    func(context.Context, string) ([]types.Finding, error)
	mu    sync.Mutex
	calls int
}

func (c *countingChecker) Name() string                 { return c.name }
func (c *countingChecker) Categories() []types.Category { return c.cats }

func (c *countingChecker) Check(ctx context.Context, text string) ([]types.Finding, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(ctx, text)
}

func (c *countingChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

const sample = "The quick brown fox jumps."

func TestCheck_GrammarAgreement(t *testing.T) {
	loader := module.NewLoader([]module.Strategy{module.NewEmbeddedStrategy()}, testLogger())
	f := newFixture(t, []sdk.Checker{builtin.NewGrammar(loader)}, WithLoader(loader))

	result, err := f.svc.Check(context.Background(), "The cats is hungry.", nil)
	require.NoError(t, err)

	require.Len(t, result.Issues, 1)
	issue := result.Issues[0]
	assert.Equal(t, types.CategoryGrammar, issue.Category)
	assert.Equal(t, 4, issue.Offset)
	assert.Equal(t, 7, issue.Length)
	assert.Equal(t, []string{"are"}, issue.Suggestions)
	assert.Equal(t, builtin.GrammarName, issue.SourceEngine)
	assert.Equal(t, 1, result.Statistics.PerEngineIssueCounts[builtin.GrammarName])
	assert.Equal(t, 19, result.Statistics.TextLength)
}

func TestCheck_OverlapResolution(t *testing.T) {
	f := newFixture(t, []sdk.Checker{
		offsets("first", types.CategoryStyle, [3]float64{4, 6, 0.9}),
		offsets("second", types.CategoryStyle, [3]float64{5, 4, 0.6}),
	})

	result, err := f.svc.Check(context.Background(), sample, nil)
	require.NoError(t, err)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, "first", result.Issues[0].SourceEngine)
	assert.Equal(t, 4, result.Issues[0].Offset)
	assert.Equal(t, 6, result.Issues[0].Length)
}

func TestCheck_CacheHit(t *testing.T) {
	engine := offsets("style", types.CategoryStyle, [3]float64{0, 3, 0.8})
	f := newFixture(t, []sdk.Checker{engine})
	ctx := context.Background()

	first, err := f.svc.Check(ctx, sample, nil)
	require.NoError(t, err)
	assert.False(t, first.Statistics.CacheHit)
	assert.Equal(t, 1, first.Statistics.EnginesInvoked)

	second, err := f.svc.Check(ctx, sample, nil)
	require.NoError(t, err)
	assert.True(t, second.Statistics.CacheHit)
	assert.Zero(t, second.Statistics.EnginesInvoked)
	assert.Equal(t, first.Issues, second.Issues)
	assert.Equal(t, 1, engine.Calls())

	stats := f.svc.GetStats(ctx)
	assert.Equal(t, int64(2), stats.Checks.Total)
	assert.Equal(t, int64(1), stats.Checks.CacheHits)
	assert.Equal(t, int64(1), stats.Cache.Hits)
}

func TestCheck_CacheTTLBoundary(t *testing.T) {
	engine := offsets("style", types.CategoryStyle, [3]float64{0, 3, 0.8})
	f := newFixture(t, []sdk.Checker{engine})
	ctx := context.Background()
	ttl := cache.DefaultConfig().TTL

	_, err := f.svc.Check(ctx, sample, nil)
	require.NoError(t, err)

	f.clock.Advance(ttl - time.Millisecond)
	result, err := f.svc.Check(ctx, sample, nil)
	require.NoError(t, err)
	assert.True(t, result.Statistics.CacheHit)

	f.clock.Advance(2 * time.Millisecond)
	result, err = f.svc.Check(ctx, sample, nil)
	require.NoError(t, err)
	assert.False(t, result.Statistics.CacheHit)
	assert.Equal(t, 2, engine.Calls())
}

func TestCheck_AllEnginesThrow(t *testing.T) {
	f := newFixture(t, []sdk.Checker{throwing("a"), throwing("b"), throwing("c")})

	result, err := f.svc.Check(context.Background(), sample, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Issues)
	assert.NotNil(t, result.Issues)
	assert.Len(t, result.Statistics.EngineErrors, 3)

	report := f.svc.GetHealthReport()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, report.FailingEngines)
	for _, r := range report.Engines {
		assert.Equal(t, health.StatusFailing, r.Status, r.EngineName)
	}
}

func TestCheck_PartialFailure(t *testing.T) {
	f := newFixture(t, []sdk.Checker{
		throwing("broken"),
		offsets("style", types.CategoryStyle, [3]float64{0, 3, 0.8}),
	})

	result, err := f.svc.Check(context.Background(), sample, nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "style", result.Issues[0].SourceEngine)
	assert.Contains(t, result.Statistics.EngineErrors["broken"], "exploded")

	record, ok := f.monitor.Record("broken")
	require.True(t, ok)
	assert.Equal(t, int64(1), record.TotalFailures)
	assert.Equal(t, 1, record.ConsecutiveFailures)

	record, ok = f.monitor.Record("style")
	require.True(t, ok)
	assert.Zero(t, record.TotalFailures)
}

func TestCheck_FailedResultNotCached(t *testing.T) {
	broken := throwing("broken")
	f := newFixture(t, []sdk.Checker{broken})
	ctx := context.Background()

	for range 2 {
		result, err := f.svc.Check(ctx, sample, nil)
		require.NoError(t, err)
		assert.False(t, result.Statistics.CacheHit)
	}
	assert.Equal(t, 2, broken.Calls())
	assert.Equal(t, int64(2), f.svc.GetStats(ctx).Checks.Uncacheable)
}

func TestCheck_ModuleLoadFailure(t *testing.T) {
	loader := module.NewLoader([]module.Strategy{
		module.StrategyFunc{StrategyName: "bundled", Fn: func(context.Context) (*module.Module, error) {
			return nil, errors.New("missing")
		}},
		module.StrategyFunc{StrategyName: "remote", Fn: func(context.Context) (*module.Module, error) {
			return nil, errors.New("unreachable")
		}},
	}, testLogger())
	f := newFixture(t, []sdk.Checker{builtin.NewGrammar(loader)}, WithLoader(loader))
	ctx := context.Background()

	result, err := f.svc.Check(ctx, "The cats is hungry.", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Issues)

	status := f.svc.GetSystemStatus(ctx)
	require.NotNil(t, status.Module)
	assert.Equal(t, module.StateFailed, status.Module.State)
	assert.Contains(t, status.Module.LastError, "bundled")
	assert.Contains(t, status.Module.LastError, "remote")
	require.Len(t, status.Engines, 1)
	assert.Equal(t, builtin.GrammarName, status.Engines[0].Name)
	assert.Equal(t, health.StatusFailing, status.Engines[0].Health)
}

func TestResetModule_RecoversFailedLoad(t *testing.T) {
	var available atomic.Bool
	loader := module.NewLoader([]module.Strategy{
		module.StrategyFunc{StrategyName: "bundled", Fn: func(ctx context.Context) (*module.Module, error) {
			if !available.Load() {
				return nil, errors.New("missing")
			}
			return module.NewEmbeddedStrategy().Load(ctx)
		}},
	}, testLogger())
	f := newFixture(t, []sdk.Checker{builtin.NewGrammar(loader)}, WithLoader(loader))
	ctx := context.Background()

	result, err := f.svc.Check(ctx, "The cats is hungry.", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Issues)
	assert.Equal(t, module.StateFailed, f.svc.GetSystemStatus(ctx).Module.State)

	// Failed stays failed without a reset.
	available.Store(true)
	_, err = f.svc.Check(ctx, "The dogs is hungry.", nil)
	require.NoError(t, err)
	assert.Equal(t, module.StateFailed, f.svc.GetSystemStatus(ctx).Module.State)

	status, err := f.svc.ResetModule(ctx)
	require.NoError(t, err)
	assert.Equal(t, module.StateLoaded, status.State)
	assert.Equal(t, "bundled", status.Strategy)

	result, err = f.svc.Check(ctx, "The cats is hungry.", nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, builtin.GrammarName, result.Issues[0].SourceEngine)
}

func TestResetModule_FailedReload(t *testing.T) {
	loader := module.NewLoader([]module.Strategy{
		module.StrategyFunc{StrategyName: "bundled", Fn: func(context.Context) (*module.Module, error) {
			return nil, errors.New("missing")
		}},
	}, testLogger())
	f := newFixture(t, []sdk.Checker{builtin.NewGrammar(loader)}, WithLoader(loader))

	status, err := f.svc.ResetModule(context.Background())
	assert.True(t, sdk.IsModuleLoadError(err))
	assert.Equal(t, module.StateFailed, status.State)
}

func TestResetModule_NoLoader(t *testing.T) {
	f := newFixture(t, []sdk.Checker{offsets("style", types.CategoryStyle)})

	_, err := f.svc.ResetModule(context.Background())
	assert.ErrorIs(t, err, sdk.ErrNoModule)
}

func TestCheck_InvalidInput(t *testing.T) {
	engine := offsets("style", types.CategoryStyle, [3]float64{0, 1, 0.8})
	f := newFixture(t, []sdk.Checker{engine})
	ctx := context.Background()

	for _, text := range []string{"", "ab", "\xff\xfe\xfd\xfc"} {
		result, err := f.svc.Check(ctx, text, nil)
		require.NoError(t, err)
		assert.Empty(t, result.Issues)
	}
	assert.Zero(t, engine.Calls())
	assert.Equal(t, int64(3), f.svc.GetStats(ctx).Checks.Rejected)
}

func TestCheck_NoCheckers(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Check(context.Background(), sample, nil)
	assert.ErrorIs(t, err, sdk.ErrNoCheckers)
}

func TestCheck_Timeout(t *testing.T) {
	release := make(chan struct{})
	slow := &countingChecker{
		name: "slow",
		cats: []types.Category{types.CategoryStyle},
		fn: func(context.Context, string) ([]types.Finding, error) {
			<-release
			return nil, nil
		},
	}
	f := newFixture(t, []sdk.Checker{slow}, WithCheckTimeout(20*time.Millisecond))
	defer close(release)
	ctx := context.Background()

	_, err := f.svc.Check(ctx, sample, nil)
	require.ErrorIs(t, err, sdk.ErrTimeout)
	assert.Equal(t, int64(1), f.svc.GetStats(ctx).Checks.Timeouts)
	assert.Zero(t, f.svc.GetStats(ctx).Cache.Writes)
}

func TestCheck_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	slow := &countingChecker{
		name: "slow",
		cats: []types.Category{types.CategoryStyle},
		fn: func(context.Context, string) ([]types.Finding, error) {
			<-release
			return nil, nil
		},
	}
	f := newFixture(t, []sdk.Checker{slow})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.svc.Check(ctx, sample, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheck_CategoryFilter(t *testing.T) {
	style := offsets("style", types.CategoryStyle, [3]float64{0, 3, 0.8})
	spelling := offsets("spelling", types.CategorySpelling, [3]float64{10, 5, 0.8})
	f := newFixture(t, []sdk.Checker{style, spelling})

	result, err := f.svc.Check(context.Background(), sample, &types.Options{
		Categories: []types.Category{types.CategorySpelling},
	})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, types.CategorySpelling, result.Issues[0].Category)
	assert.Zero(t, style.Calls())
}

func TestCheck_UnknownCategoriesSelectNothing(t *testing.T) {
	style := offsets("style", types.CategoryStyle, [3]float64{0, 3, 0.8})
	spelling := offsets("spelling", types.CategorySpelling, [3]float64{10, 5, 0.8})
	f := newFixture(t, []sdk.Checker{style, spelling})
	ctx := context.Background()

	for _, cats := range [][]types.Category{{"poetry"}, {types.CategorySpelling, "poetry"}} {
		result, err := f.svc.Check(ctx, sample, &types.Options{Categories: cats})
		require.NoError(t, err)
		assert.Empty(t, result.Issues)
	}
	assert.Zero(t, style.Calls())
	assert.Zero(t, spelling.Calls())
	assert.Equal(t, int64(2), f.svc.GetStats(ctx).Checks.Rejected)
}

func TestCheck_EngineToggle(t *testing.T) {
	style := offsets("style", types.CategoryStyle, [3]float64{0, 3, 0.8})
	spelling := offsets("spelling", types.CategorySpelling, [3]float64{10, 5, 0.8})
	f := newFixture(t, []sdk.Checker{style, spelling})

	result, err := f.svc.Check(context.Background(), sample, &types.Options{
		Engines: map[string]bool{"style": false},
	})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "spelling", result.Issues[0].SourceEngine)
	assert.Equal(t, 1, result.Statistics.EnginesInvoked)
}

func TestCheck_DeterministicAndNonOverlapping(t *testing.T) {
	checkers := []sdk.Checker{
		offsets("a", types.CategoryStyle, [3]float64{0, 5, 0.5}, [3]float64{12, 3, 0.7}),
		offsets("b", types.CategoryGrammar, [3]float64{3, 4, 0.9}, [3]float64{20, 2, 0.4}),
		offsets("c", types.CategorySpelling, [3]float64{13, 1, 0.7}, [3]float64{16, 3, 0.6}),
	}
	f := newFixture(t, checkers)
	ctx := context.Background()

	first, err := f.svc.Check(ctx, sample, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.ClearCache(ctx))
	second, err := f.svc.Check(ctx, sample, nil)
	require.NoError(t, err)

	assert.False(t, second.Statistics.CacheHit)
	assert.Equal(t, first.Issues, second.Issues)
	for i := range first.Issues {
		for j := i + 1; j < len(first.Issues); j++ {
			assert.False(t, first.Issues[i].Overlaps(first.Issues[j]),
				"%v overlaps %v", first.Issues[i], first.Issues[j])
		}
	}
}

type suppress struct{ engine string }

func (s suppress) Adjust(i types.Issue) (float64, bool) {
	return i.Confidence, i.SourceEngine != s.engine
}

func TestCheck_Adjuster(t *testing.T) {
	f := newFixture(t, []sdk.Checker{
		offsets("noisy", types.CategoryStyle, [3]float64{0, 3, 0.8}),
		offsets("quiet", types.CategorySpelling, [3]float64{10, 5, 0.8}),
	}, WithAdjuster(suppress{engine: "noisy"}))

	result, err := f.svc.Check(context.Background(), sample, nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "quiet", result.Issues[0].SourceEngine)

	f.svc.SetAdjuster(nil)
	require.NoError(t, f.svc.ClearCache(context.Background()))
	result, err = f.svc.Check(context.Background(), sample, nil)
	require.NoError(t, err)
	assert.Len(t, result.Issues, 2)
}

func TestResetHealthMonitoring(t *testing.T) {
	f := newFixture(t, []sdk.Checker{throwing("broken")})

	_, err := f.svc.Check(context.Background(), sample, nil)
	require.NoError(t, err)
	assert.Equal(t, health.StatusFailing, f.monitor.Status("broken"))

	f.svc.ResetHealthMonitoring()
	assert.Equal(t, health.StatusHealthy, f.monitor.Status("broken"))
	assert.Empty(t, f.svc.GetHealthReport().FailingEngines)
}

func TestGetSystemStatus(t *testing.T) {
	f := newFixture(t, []sdk.Checker{
		offsets("style", types.CategoryStyle),
		offsets("spelling", types.CategorySpelling),
	}, WithVersion("1.2.3"))

	status := f.svc.GetSystemStatus(context.Background())
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, health.OverallHealthy, status.Overall)
	assert.Nil(t, status.Module)
	assert.Equal(t, cache.DefaultConfig().TTL, status.CacheTTL)
	require.Len(t, status.Engines, 2)
	assert.Equal(t, "style", status.Engines[0].Name)
	assert.Equal(t, 1, status.Engines[1].Ordinal)
}
