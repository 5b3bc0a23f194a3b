package feedback

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/prosecheck/internal/checker/builtin"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// InitialConfidence is the neutral pattern confidence. Patterns at this
// value leave issue confidence unchanged.
const InitialConfidence = 0.5

// UpdateConfidence moves a pattern confidence after one piece of feedback.
// Acceptance nudges it toward 1; rejection pulls it down twice as hard.
func UpdateConfidence(c, rate float64, action Action) float64 {
	switch action {
	case ActionAccepted, ActionModified:
		c += rate * (1 - c)
	case ActionRejected:
		c -= 2 * rate * c
	}
	return min(1, max(0, c))
}

// Impressions counts how often each rule fired. It is safe for use on the
// check path.
type Impressions struct {
	counts sync.Map
}

// RecordImpression implements builtin.ImpressionRecorder.
func (i *Impressions) RecordImpression(ruleID string) {
	v, _ := i.counts.LoadOrStore(ruleID, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// Drain returns and resets the counts.
func (i *Impressions) Drain() map[string]int64 {
	out := map[string]int64{}
	i.counts.Range(func(k, v any) bool {
		if n := v.(*atomic.Int64).Swap(0); n > 0 {
			out[k.(string)] = n
		}
		return true
	})
	return out
}

type adjusterSnapshot struct {
	patterns map[string]float64
	suppress map[string][]Rule
}

// Adjuster applies pattern confidences and live suppress rules to issues.
// It reads an immutable snapshot and never blocks.
type Adjuster struct {
	snapshot    atomic.Pointer[adjusterSnapshot]
	impressions *Impressions
}

// NewAdjuster creates an adjuster with no learned state.
func NewAdjuster(impressions *Impressions) *Adjuster {
	a := &Adjuster{impressions: impressions}
	a.snapshot.Store(&adjusterSnapshot{})
	return a
}

func (a *Adjuster) update(patterns map[string]float64, rules []Rule) {
	snap := &adjusterSnapshot{
		patterns: maps.Clone(patterns),
		suppress: map[string][]Rule{},
	}
	for _, r := range rules {
		if r.Kind == RuleSuppress && r.Live() {
			snap.suppress[r.Pattern] = append(snap.suppress[r.Pattern], r)
		}
	}
	a.snapshot.Store(snap)
}

// Adjust implements normalize.ConfidenceAdjuster. Issue confidence is
// scaled by twice the pattern confidence.
func (a *Adjuster) Adjust(issue types.Issue) (float64, bool) {
	snap := a.snapshot.Load()
	key := PatternKey(issue)

	for _, r := range snap.suppress[key] {
		if builtin.InRollout(r.ID, issue.ID, r.Percent()) {
			if a.impressions != nil {
				a.impressions.RecordImpression(r.ID)
			}
			return 0, false
		}
	}
	if c, ok := snap.patterns[key]; ok {
		return issue.Confidence * 2 * c, true
	}
	return issue.Confidence, true
}
