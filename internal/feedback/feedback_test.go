package feedback

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/internal/checker/builtin"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleText = "The cats is hungry."

var sampleTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func submission(engine, ruleID string, action Action, confidence float64) Submission {
	sub := Submission{
		Issue: types.Issue{
			ID:           "issue-1",
			SourceEngine: engine,
			RuleID:       ruleID,
			Category:     types.CategoryGrammar,
			Message:      "Check agreement.",
			Offset:       4,
			Length:       4,
			Confidence:   confidence,
			Suggestions:  []string{"are"},
		},
		Action: action,
		Context: SubmissionContext{
			Text:      sampleText,
			UserID:    "user-42",
			SessionID: "session-7",
			Timestamp: sampleTime,
		},
	}
	if action == ActionModified {
		sub.Context.Replacement = "felines"
	}
	return sub
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Accepted ")
	require.NoError(t, err)
	assert.Equal(t, ActionAccepted, a)

	_, err = ParseAction("loved")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		want   error
	}{
		{"valid", func(*Submission) {}, nil},
		{"unknown action", func(s *Submission) { s.Action = "loved" }, ErrInvalidAction},
		{"no engine", func(s *Submission) { s.Issue.SourceEngine = "" }, ErrMissingIssue},
		{"empty span", func(s *Submission) { s.Issue.Length = 0 }, ErrMissingIssue},
		{"modified without replacement", func(s *Submission) {
			s.Action = ActionModified
			s.Context.Replacement = " "
		}, ErrMissingCorrection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := submission("grammar", "agreement", ActionAccepted, 0.9)
			tt.mutate(&sub)
			err := sub.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestPatternKey(t *testing.T) {
	assert.Equal(t, "grammar|agreement", PatternKey(types.Issue{SourceEngine: "grammar", RuleID: "agreement"}))
	assert.Equal(t, "style|clarity|very unique",
		PatternKey(types.Issue{SourceEngine: "style", Category: types.CategoryClarity, Message: "Very Unique"}))
}

func TestAnonymizer(t *testing.T) {
	a := NewAnonymizer("pepper")

	rec := a.Anonymize(submission("grammar", "agreement", ActionModified, 0.9))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "grammar|agreement", rec.PatternKey)
	assert.Equal(t, "cats", rec.Fragment)
	assert.Equal(t, "felines", rec.Replacement)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC), rec.RecordedAt)
	assert.Equal(t, a.Hash(sampleText), rec.TextHash)
	assert.Len(t, rec.TextHash, 64)

	t.Run("identity never reaches the record", func(t *testing.T) {
		for _, field := range []string{rec.ID, rec.Fragment, rec.TextHash, rec.PatternKey} {
			assert.NotContains(t, field, "user-42")
			assert.NotContains(t, field, "session-7")
		}
		assert.NotContains(t, rec.TextHash, "hungry")
	})

	t.Run("salt changes the hash", func(t *testing.T) {
		assert.NotEqual(t, a.Hash(sampleText), NewAnonymizer("salt").Hash(sampleText))
	})

	t.Run("fragment is bounded", func(t *testing.T) {
		sub := submission("style", "long", ActionAccepted, 0.5)
		sub.Context.Text = strings.Repeat("é", 200)
		sub.Issue.Offset = 0
		sub.Issue.Length = 200
		rec := a.Anonymize(sub)
		assert.Equal(t, strings.Repeat("é", FragmentRunes), rec.Fragment)
	})

	t.Run("out of range span yields an empty fragment", func(t *testing.T) {
		sub := submission("style", "x", ActionAccepted, 0.5)
		sub.Issue.Offset = 100
		assert.Empty(t, a.Anonymize(sub).Fragment)
	})
}

func TestUpdateConfidence(t *testing.T) {
	assert.InDelta(t, 0.55, UpdateConfidence(0.5, 0.1, ActionAccepted), 1e-9)
	assert.InDelta(t, 0.55, UpdateConfidence(0.5, 0.1, ActionModified), 1e-9)
	assert.InDelta(t, 0.4, UpdateConfidence(0.5, 0.1, ActionRejected), 1e-9)
	assert.InDelta(t, 0.5, UpdateConfidence(0.5, 0.1, ActionIgnored), 1e-9)

	c := 0.5
	for range 100 {
		c = UpdateConfidence(c, 0.5, ActionRejected)
	}
	assert.GreaterOrEqual(t, c, 0.0)
}

func TestAdjuster(t *testing.T) {
	impressions := &Impressions{}
	a := NewAdjuster(impressions)
	issue := types.Issue{ID: "i", SourceEngine: "style", RuleID: "wordy", Confidence: 0.6}

	c, keep := a.Adjust(issue)
	assert.True(t, keep)
	assert.InDelta(t, 0.6, c, 1e-9)

	a.update(map[string]float64{"style|wordy": 0.25}, nil)
	c, keep = a.Adjust(issue)
	assert.True(t, keep)
	assert.InDelta(t, 0.3, c, 1e-9)

	a.update(nil, []Rule{
		{ID: "r1", Kind: RuleSuppress, Pattern: "style|wordy", Status: RuleActive},
		{ID: "r2", Kind: RuleSuppress, Pattern: "style|other", Status: RuleRolledBack},
	})
	_, keep = a.Adjust(issue)
	assert.False(t, keep)
	assert.Equal(t, map[string]int64{"r1": 1}, impressions.Drain())
	assert.Empty(t, impressions.Drain())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)

	for i := range 5 {
		rec := &Record{ID: string(rune('a' + i))}
		require.NoError(t, s.Append(ctx, rec))
		assert.Equal(t, int64(i+1), rec.Seq)
	}

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := s.Since(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].Seq, all[1].Seq, all[2].Seq})

	some, err := s.Since(ctx, 3, 1)
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, int64(4), some[0].Seq)

	state := State{LastSeq: 4, Patterns: map[string]float64{"p": 0.7}, Rules: []Rule{{ID: "r"}}}
	require.NoError(t, s.SaveState(ctx, state))
	state.Patterns["p"] = 0.1
	loaded, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.7, loaded.Patterns["p"])
	assert.Equal(t, int64(4), loaded.LastSeq)
}

func TestRollout(t *testing.T) {
	cfg := DefaultRolloutConfig()
	staged := func(stage int, acc, rej int64) Rule {
		return Rule{Status: RuleStaged, Stage: stage, Acceptances: acc, Rejections: rej}
	}

	assert.Equal(t, DecisionHold, cfg.Evaluate(staged(0, 5, 0)))
	assert.Equal(t, DecisionAdvance, cfg.Evaluate(staged(0, 10, 0)))
	assert.Equal(t, DecisionComplete, cfg.Evaluate(staged(3, 10, 0)))
	assert.Equal(t, DecisionRollback, cfg.Evaluate(staged(1, 0, 10)))
	assert.Equal(t, DecisionHold, cfg.Evaluate(staged(1, 5, 5)))
	assert.Equal(t, DecisionHold, cfg.Evaluate(Rule{Status: RuleActive, Acceptances: 50}))

	mean, lower, upper := cfg.Interval(staged(0, 5, 5))
	assert.InDelta(t, 0.5, mean, 1e-9)
	assert.Less(t, lower, 0.5)
	assert.Greater(t, upper, 0.5)

	r := staged(0, 12, 0)
	assert.Equal(t, DecisionAdvance, cfg.Apply(&r, sampleTime))
	assert.Equal(t, 25, r.Percent())
	assert.Zero(t, r.Acceptances)
	assert.Equal(t, sampleTime, r.UpdatedAt)

	assert.Equal(t, 10, Rule{Status: RuleStaged}.Percent())
	assert.Equal(t, 100, Rule{Status: RuleActive}.Percent())
	assert.Zero(t, Rule{Status: RuleRolledBack, Stage: 2}.Percent())
	assert.False(t, Rule{Status: RuleRolledBack}.Live())
}

type sinkRecorder struct {
	mu    sync.Mutex
	rules []builtin.LearnedRule
}

func (s *sinkRecorder) SetRules(rules []builtin.LearnedRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

func (s *sinkRecorder) Rules() []builtin.LearnedRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules
}

func newService(t *testing.T, cfg LearnerConfig, opts ...ServiceOption) (*Service, *sinkRecorder) {
	t.Helper()
	sink := &sinkRecorder{}
	store := NewMemoryStore(100)
	learner := NewLearner(store, cfg, testLogger(), WithRuleSink(sink), WithLearnerClock(func() time.Time { return sampleTime }))
	svc := NewService(store, NewAnonymizer("salt"), learner, testLogger(), opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, sink
}

func manualConfig() LearnerConfig {
	cfg := DefaultLearnerConfig()
	cfg.CycleThreshold = 1000
	return cfg
}

func TestLearner_MinesSuppressRule(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, manualConfig())

	for range 10 {
		_, err := svc.ProcessFeedback(ctx, submission("style", "weasel", ActionRejected, 0.9))
		require.NoError(t, err)
	}
	// Low confidence rejections do not count as support.
	for range 10 {
		_, err := svc.ProcessFeedback(ctx, submission("spelling", "maybe", ActionRejected, 0.3))
		require.NoError(t, err)
	}

	report, err := svc.RunLearningCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, report.Processed)
	require.Len(t, report.NewRules, 1)

	rule := report.NewRules[0]
	assert.Equal(t, RuleSuppress, rule.Kind)
	assert.Equal(t, "style|weasel", rule.Pattern)
	assert.Equal(t, RuleStaged, rule.Status)
	assert.Equal(t, 10, rule.Percent())
	assert.Equal(t, 8, rule.Support)
	assert.InDelta(t, 1.0, rule.Precision, 1e-9)

	t.Run("pattern confidence dropped", func(t *testing.T) {
		c, ok := svc.Learner().PatternConfidence("style|weasel")
		require.True(t, ok)
		assert.Less(t, c, InitialConfidence)
	})

	t.Run("a second cycle does not duplicate the rule", func(t *testing.T) {
		report, err := svc.RunLearningCycle(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Processed)
		assert.Empty(t, report.NewRules)
		assert.Len(t, svc.Learner().Rules(), 1)
	})
}

func TestLearner_AcceptedPatternIsNotSuppressed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, manualConfig())

	for i := range 20 {
		action := ActionAccepted
		if i%3 == 0 {
			action = ActionRejected
		}
		_, err := svc.ProcessFeedback(ctx, submission("style", "wordy", action, 0.9))
		require.NoError(t, err)
	}
	report, err := svc.RunLearningCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.NewRules)
}

func TestLearner_MinesReplaceRuleAndRollsOut(t *testing.T) {
	ctx := context.Background()
	svc, sink := newService(t, manualConfig())

	for range 10 {
		_, err := svc.ProcessFeedback(ctx, submission("grammar", "agreement", ActionModified, 0.8))
		require.NoError(t, err)
	}
	report, err := svc.RunLearningCycle(ctx)
	require.NoError(t, err)
	require.Len(t, report.NewRules, 1)

	rule := report.NewRules[0]
	assert.Equal(t, RuleReplace, rule.Kind)
	assert.Equal(t, "cats", rule.Pattern)
	assert.Equal(t, "felines", rule.Replacement)

	learned := sink.Rules()
	require.Len(t, learned, 1)
	assert.Equal(t, rule.ID, learned[0].ID)
	assert.Equal(t, "cats", learned[0].Phrase)
	assert.Equal(t, 10, learned[0].RolloutPercent)

	// Users accept what the learned rule flags.
	for range 10 {
		_, err := svc.ProcessFeedback(ctx, submission(builtin.LearnedName, rule.ID, ActionAccepted, 0.9))
		require.NoError(t, err)
	}
	report, err = svc.RunLearningCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionAdvance, report.Decisions[rule.ID])
	assert.Equal(t, 25, sink.Rules()[0].RolloutPercent)

	// Then reject it consistently.
	for range 10 {
		_, err := svc.ProcessFeedback(ctx, submission(builtin.LearnedName, rule.ID, ActionRejected, 0.9))
		require.NoError(t, err)
	}
	report, err = svc.RunLearningCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionRollback, report.Decisions[rule.ID])
	assert.Empty(t, sink.Rules())
}

func TestService_AutoLearn(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultLearnerConfig()
	cfg.CycleThreshold = 10
	svc, _ := newService(t, cfg)

	for range 10 {
		_, err := svc.ProcessFeedback(ctx, submission("style", "weasel", ActionRejected, 0.9))
		require.NoError(t, err)
	}
	svc.Wait()

	status := svc.Learner().Status()
	assert.Equal(t, int64(10), status.LastSeq)
	assert.Zero(t, status.Pending)
	assert.False(t, status.Running)
	assert.Len(t, status.Rules, 1)
}

func TestService_RejectsInvalid(t *testing.T) {
	svc, _ := newService(t, manualConfig())
	_, err := svc.ProcessFeedback(context.Background(), submission("style", "x", "loved", 0.9))
	assert.ErrorIs(t, err, ErrInvalidAction)

	recent, err := svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestService_Recent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, manualConfig())
	for range 5 {
		_, err := svc.ProcessFeedback(ctx, submission("style", "x", ActionIgnored, 0.9))
		require.NoError(t, err)
	}
	recent, err := svc.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(4), recent[0].Seq)
	assert.Equal(t, int64(5), recent[1].Seq)
}

// blockingStore holds Since until released.
type blockingStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Since(ctx context.Context, after int64, limit int) ([]Record, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.MemoryStore.Since(ctx, after, limit)
}

func TestLearner_SingleCycle(t *testing.T) {
	store := &blockingStore{
		MemoryStore: NewMemoryStore(10),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	l := NewLearner(store, manualConfig(), testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := l.RunCycle(context.Background())
		done <- err
	}()

	<-store.entered
	_, err := l.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.True(t, l.Status().Running)

	close(store.release)
	require.NoError(t, <-done)
	assert.False(t, l.Status().Running)
}

func TestLearner_Restore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	require.NoError(t, store.SaveState(ctx, State{
		LastSeq:  3,
		Patterns: map[string]float64{"style|wordy": 0.1},
		Rules: []Rule{{
			ID: "r1", Kind: RuleReplace, Pattern: "alot", Replacement: "a lot",
			Status: RuleActive, Category: types.CategorySpelling,
		}},
	}))

	sink := &sinkRecorder{}
	l := NewLearner(store, manualConfig(), testLogger(), WithRuleSink(sink))
	require.NoError(t, l.Restore(ctx))

	require.Len(t, sink.Rules(), 1)
	assert.Equal(t, 100, sink.Rules()[0].RolloutPercent)

	c, keep := l.Adjuster().Adjust(types.Issue{SourceEngine: "style", RuleID: "wordy", Confidence: 1})
	assert.True(t, keep)
	assert.InDelta(t, 0.2, c, 1e-9)
	assert.Equal(t, int64(3), l.Status().LastSeq)
}

func TestRecordedHandler(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)

	cfg := manualConfig()
	cfg.CycleThreshold = 10
	worker := NewLearner(store, cfg, testLogger())

	bus := eventbus.NewInProcessBus(testLogger())
	require.NoError(t, bus.Subscribe(NewRecordedHandler(worker, testLogger())))

	api := NewLearner(store, cfg, testLogger())
	svc := NewService(store, NewAnonymizer("salt"), api, testLogger(),
		WithPublisher(bus), WithAutoLearn(false))

	for range 10 {
		_, err := svc.ProcessFeedback(ctx, submission("style", "weasel", ActionRejected, 0.9))
		require.NoError(t, err)
	}

	assert.Len(t, worker.Rules(), 1)
	assert.Empty(t, api.Rules())
	_, ok := api.PatternConfidence("style|weasel")
	assert.False(t, ok)

	t.Run("malformed events are dropped", func(t *testing.T) {
		h := NewRecordedHandler(worker, testLogger())
		err := h.Handle(ctx, &eventbus.Event{RoutingKey: RoutingKeyRecorded, Payload: []byte("{")})
		assert.NoError(t, err)
	})
}
