package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/prosecheck/internal/checker/builtin"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// LearnerConfig tunes rule mining.
type LearnerConfig struct {
	// CycleThreshold is the number of new records that makes a cycle due.
	CycleThreshold int

	// LearningRate scales pattern confidence updates.
	LearningRate float64

	// MinSupport is the number of training records a candidate needs.
	MinSupport int

	// HighConfidence marks issues whose rejection hints at a false positive.
	HighConfidence float64

	// HoldoutEvery puts every nth record, by sequence, in the held-out set.
	HoldoutEvery int

	// MinPrecision is the held-out agreement a candidate needs.
	MinPrecision float64

	Rollout RolloutConfig
}

// DefaultLearnerConfig returns the default configuration.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		CycleThreshold: 50,
		LearningRate:   0.1,
		MinSupport:     3,
		HighConfidence: 0.7,
		HoldoutEvery:   5,
		MinPrecision:   0.6,
		Rollout:        DefaultRolloutConfig(),
	}
}

// RuleSink receives the replace rules that are live.
type RuleSink interface {
	SetRules(rules []builtin.LearnedRule)
}

// CycleReport summarizes one learning cycle.
type CycleReport struct {
	Processed int                 `json:"processed"`
	NewRules  []Rule              `json:"new_rules"`
	Decisions map[string]Decision `json:"decisions"`
	Duration  time.Duration       `json:"duration"`
}

// LearnerStatus is a snapshot of the learner.
type LearnerStatus struct {
	Pending  int64  `json:"pending"`
	Running  bool   `json:"running"`
	LastSeq  int64  `json:"last_seq"`
	Patterns int    `json:"patterns"`
	Rules    []Rule `json:"rules"`
}

// LearnerOption configures a Learner.
type LearnerOption func(*Learner)

// WithRuleSink publishes live replace rules to sink.
func WithRuleSink(sink RuleSink) LearnerOption {
	return func(l *Learner) { l.sink = sink }
}

// WithImpressions shares an impression counter created before the learner,
// typically the one handed to the learned engine.
func WithImpressions(i *Impressions) LearnerOption {
	return func(l *Learner) { l.impressions = i }
}

// WithLearnerClock overrides the clock.
func WithLearnerClock(now func() time.Time) LearnerOption {
	return func(l *Learner) { l.now = now }
}

// Learner mines feedback into rules and keeps pattern confidences.
type Learner struct {
	config      LearnerConfig
	store       Store
	adjuster    *Adjuster
	impressions *Impressions
	sink        RuleSink
	logger      *slog.Logger
	now         func() time.Time

	running atomic.Bool
	pending atomic.Int64

	mu    sync.Mutex
	state State
}

// NewLearner creates a learner over store.
func NewLearner(store Store, config LearnerConfig, logger *slog.Logger, opts ...LearnerOption) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultLearnerConfig()
	if config.CycleThreshold <= 0 {
		config.CycleThreshold = defaults.CycleThreshold
	}
	if config.LearningRate <= 0 || config.LearningRate > 0.5 {
		config.LearningRate = defaults.LearningRate
	}
	if config.MinSupport <= 0 {
		config.MinSupport = defaults.MinSupport
	}
	if config.HoldoutEvery < 2 {
		config.HoldoutEvery = defaults.HoldoutEvery
	}
	if config.Rollout == (RolloutConfig{}) {
		config.Rollout = defaults.Rollout
	}

	l := &Learner{
		config: config,
		store:  store,
		logger: logger,
		now:    time.Now,
		state:  State{Patterns: map[string]float64{}},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.impressions == nil {
		l.impressions = &Impressions{}
	}
	l.adjuster = NewAdjuster(l.impressions)
	return l
}

// Adjuster returns the confidence adjuster fed by this learner.
func (l *Learner) Adjuster() *Adjuster {
	return l.adjuster
}

// Impressions returns the impression counter shared with the learned engine.
func (l *Learner) Impressions() *Impressions {
	return l.impressions
}

// Restore loads persisted state and publishes it.
func (l *Learner) Restore(ctx context.Context) error {
	state, err := l.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load learner state: %w", err)
	}
	if state.Patterns == nil {
		state.Patterns = map[string]float64{}
	}

	l.mu.Lock()
	l.state = state
	l.publishLocked()
	l.mu.Unlock()

	l.logger.Info("learner state restored",
		"rules", len(state.Rules),
		"patterns", len(state.Patterns),
		"last_seq", state.LastSeq,
	)
	return nil
}

// Observe applies one record to its pattern confidence and reports whether
// a cycle is due.
func (l *Learner) Observe(rec Record) bool {
	if rec.Action != ActionIgnored {
		l.mu.Lock()
		c, ok := l.state.Patterns[rec.PatternKey]
		if !ok {
			c = InitialConfidence
		}
		l.state.Patterns[rec.PatternKey] = UpdateConfidence(c, l.config.LearningRate, rec.Action)
		l.publishLocked()
		l.mu.Unlock()
	}
	return l.pending.Add(1) >= int64(l.config.CycleThreshold) && !l.running.Load()
}

// Due reports whether a cycle should run.
func (l *Learner) Due() bool {
	return l.pending.Load() >= int64(l.config.CycleThreshold) && !l.running.Load()
}

// RunCycle mines new rules, advances rollouts and persists the result. Only
// one cycle runs at a time; a concurrent call returns ErrCycleRunning.
func (l *Learner) RunCycle(ctx context.Context) (CycleReport, error) {
	if !l.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleRunning
	}
	defer l.running.Store(false)

	start := l.now()
	l.pending.Store(0)

	l.mu.Lock()
	lastSeq := l.state.LastSeq
	l.mu.Unlock()

	fresh, err := l.store.Since(ctx, lastSeq, 0)
	if err != nil {
		return CycleReport{}, fmt.Errorf("read new feedback: %w", err)
	}
	all, err := l.store.Since(ctx, 0, 0)
	if err != nil {
		return CycleReport{}, fmt.Errorf("read feedback log: %w", err)
	}

	report := CycleReport{Processed: len(fresh), Decisions: map[string]Decision{}}
	impressions := l.impressions.Drain()

	l.mu.Lock()
	for i := range l.state.Rules {
		r := &l.state.Rules[i]
		r.Impressions += impressions[r.ID]
		for _, rec := range fresh {
			attribute(r, rec)
		}
	}

	candidates := append(l.mineSuppress(all), l.mineReplace(all)...)
	for _, c := range candidates {
		if l.hasRuleLocked(c.Kind, c.Pattern) {
			continue
		}
		c.ID = uuid.NewString()
		c.Status = RuleStaged
		c.CreatedAt = start
		c.UpdatedAt = start
		l.state.Rules = append(l.state.Rules, c)
		report.NewRules = append(report.NewRules, c)
	}

	for i := range l.state.Rules {
		r := &l.state.Rules[i]
		if d := l.config.Rollout.Apply(r, start); d != DecisionHold {
			report.Decisions[r.ID] = d
			l.logger.Info("rule rollout changed",
				"rule_id", r.ID,
				"kind", r.Kind,
				"decision", d,
				"percent", r.Percent(),
			)
		}
	}

	if n := len(fresh); n > 0 {
		l.state.LastSeq = fresh[n-1].Seq
	}
	l.publishLocked()
	snapshot := l.state.Clone()
	l.mu.Unlock()

	if err := l.store.SaveState(ctx, snapshot); err != nil {
		return report, fmt.Errorf("save learner state: %w", err)
	}

	report.Duration = l.now().Sub(start)
	l.logger.Info("learning cycle completed",
		"processed", report.Processed,
		"new_rules", len(report.NewRules),
		"decisions", len(report.Decisions),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// attribute counts a record as an outcome of r when the record is about
// an issue the rule affects.
func attribute(r *Rule, rec Record) {
	if r.Status != RuleStaged {
		return
	}
	switch r.Kind {
	case RuleReplace:
		if rec.Engine != builtin.LearnedName || rec.RuleID != r.ID {
			return
		}
		switch rec.Action {
		case ActionAccepted:
			r.Acceptances++
		case ActionRejected, ActionModified:
			r.Rejections++
		}
	case RuleSuppress:
		if rec.PatternKey != r.Pattern {
			return
		}
		switch rec.Action {
		case ActionRejected:
			r.Acceptances++
		case ActionAccepted, ActionModified:
			r.Rejections++
		}
	}
}

func (l *Learner) holdout(rec Record) bool {
	return rec.Seq%int64(l.config.HoldoutEvery) == 0
}

type tally struct {
	rule     Rule
	support  int
	decided  int
	rejected int
}

// mineSuppress finds patterns users reject even though the engine was
// confident.
func (l *Learner) mineSuppress(records []Record) []Rule {
	train := map[string]*tally{}
	heldOut := map[string]*tally{}
	var order []string

	for _, rec := range records {
		if rec.Engine == builtin.LearnedName || rec.Action == ActionIgnored {
			continue
		}
		set := train
		if l.holdout(rec) {
			set = heldOut
		}
		t, ok := set[rec.PatternKey]
		if !ok {
			t = &tally{rule: Rule{
				Kind:     RuleSuppress,
				Pattern:  rec.PatternKey,
				Engine:   rec.Engine,
				Category: rec.Category,
			}}
			set[rec.PatternKey] = t
			if !l.holdout(rec) {
				order = append(order, rec.PatternKey)
			}
		}
		t.decided++
		if rec.Action == ActionRejected {
			t.rejected++
			if rec.Confidence >= l.config.HighConfidence {
				t.support++
			}
		}
	}

	var out []Rule
	for _, key := range order {
		t := train[key]
		if t.support < l.config.MinSupport || 2*t.rejected < t.decided {
			continue
		}
		h, ok := heldOut[key]
		if !ok || h.decided == 0 {
			continue
		}
		precision := float64(h.rejected) / float64(h.decided)
		if precision < l.config.MinPrecision {
			continue
		}
		rule := t.rule
		rule.Support = t.support
		rule.Precision = precision
		rule.Message = "suppress " + key
		out = append(out, rule)
	}
	return out
}

// mineReplace finds phrases users keep correcting the same way.
func (l *Learner) mineReplace(records []Record) []Rule {
	type correction struct{ phrase, replacement string }

	train := map[correction]*tally{}
	var order []correction
	heldOut := map[string]map[string]int{}

	for _, rec := range records {
		if rec.Action != ActionModified {
			continue
		}
		phrase := strings.ToLower(strings.Join(strings.Fields(rec.Fragment), " "))
		if phrase == "" || strings.EqualFold(phrase, rec.Replacement) {
			continue
		}
		if l.holdout(rec) {
			if heldOut[phrase] == nil {
				heldOut[phrase] = map[string]int{}
			}
			heldOut[phrase][rec.Replacement]++
			continue
		}
		key := correction{phrase: phrase, replacement: rec.Replacement}
		t, ok := train[key]
		if !ok {
			category := rec.Category
			if !category.IsValid() {
				category = types.CategoryGrammar
			}
			t = &tally{rule: Rule{
				Kind:        RuleReplace,
				Pattern:     phrase,
				Replacement: rec.Replacement,
				Engine:      builtin.LearnedName,
				Category:    category,
				Message:     fmt.Sprintf("Consider %q instead of %q.", rec.Replacement, phrase),
			}}
			train[key] = t
			order = append(order, key)
		}
		t.support++
	}

	var out []Rule
	for _, key := range order {
		t := train[key]
		if t.support < l.config.MinSupport {
			continue
		}
		votes := heldOut[key.phrase]
		total := 0
		for _, n := range votes {
			total += n
		}
		if total == 0 {
			continue
		}
		precision := float64(votes[key.replacement]) / float64(total)
		if precision < l.config.MinPrecision {
			continue
		}
		rule := t.rule
		rule.Support = t.support
		rule.Precision = precision
		out = append(out, rule)
	}
	return out
}

func (l *Learner) hasRuleLocked(kind RuleKind, pattern string) bool {
	return slices.ContainsFunc(l.state.Rules, func(r Rule) bool {
		return r.Kind == kind && r.Pattern == pattern
	})
}

func (l *Learner) publishLocked() {
	l.adjuster.update(l.state.Patterns, l.state.Rules)
	if l.sink == nil {
		return
	}
	var learned []builtin.LearnedRule
	for _, r := range l.state.Rules {
		if r.Kind != RuleReplace || !r.Live() {
			continue
		}
		learned = append(learned, builtin.LearnedRule{
			ID:             r.ID,
			Phrase:         r.Pattern,
			Replacement:    r.Replacement,
			Message:        r.Message,
			Category:       r.Category,
			Confidence:     r.Precision,
			RolloutPercent: r.Percent(),
		})
	}
	l.sink.SetRules(learned)
}

// Rules returns a copy of every known rule.
func (l *Learner) Rules() []Rule {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.state.Rules)
}

// PatternConfidence returns the confidence of one pattern.
func (l *Learner) PatternConfidence(key string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.state.Patterns[key]
	return c, ok
}

// Status returns a snapshot of the learner.
func (l *Learner) Status() LearnerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LearnerStatus{
		Pending:  l.pending.Load(),
		Running:  l.running.Load(),
		LastSeq:  l.state.LastSeq,
		Patterns: len(l.state.Patterns),
		Rules:    slices.Clone(l.state.Rules),
	}
}
