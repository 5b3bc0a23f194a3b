package feedback

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// RolloutStages are the traffic percentages a new rule moves through.
var RolloutStages = []int{10, 25, 50, 100}

// RuleKind says what a learned rule does.
type RuleKind string

const (
	// RuleSuppress hides issues of a pattern users keep rejecting.
	RuleSuppress RuleKind = "suppress"

	// RuleReplace flags a phrase users keep correcting by hand.
	RuleReplace RuleKind = "replace"
)

// RuleStatus is the rollout state of a rule.
type RuleStatus string

const (
	RuleStaged     RuleStatus = "staged"
	RuleActive     RuleStatus = "active"
	RuleRolledBack RuleStatus = "rolled_back"
)

// Rule is a rule mined from feedback.
type Rule struct {
	ID   string   `json:"id"`
	Kind RuleKind `json:"kind"`

	// Pattern is the pattern key for suppress rules and the phrase for
	// replace rules.
	Pattern     string         `json:"pattern"`
	Replacement string         `json:"replacement,omitempty"`
	Message     string         `json:"message,omitempty"`
	Engine      string         `json:"engine,omitempty"`
	Category    types.Category `json:"category,omitempty"`

	Stage  int        `json:"stage"`
	Status RuleStatus `json:"status"`

	// Acceptances and Rejections count outcomes at the current stage that
	// agree and disagree with the rule.
	Acceptances int64 `json:"acceptances"`
	Rejections  int64 `json:"rejections"`
	Impressions int64 `json:"impressions"`

	// Support is the number of training records the rule was mined from.
	Support int `json:"support"`

	// Precision is the agreement rate measured on held-out records.
	Precision float64 `json:"precision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percent returns the share of traffic the rule applies to.
func (r Rule) Percent() int {
	switch r.Status {
	case RuleRolledBack:
		return 0
	case RuleActive:
		return 100
	}
	if r.Stage < 0 || r.Stage >= len(RolloutStages) {
		return 0
	}
	return RolloutStages[r.Stage]
}

// Live reports whether the rule applies to any traffic.
func (r Rule) Live() bool {
	return r.Percent() > 0
}

// Decision is the outcome of a rollout evaluation.
type Decision string

const (
	DecisionHold     Decision = "hold"
	DecisionAdvance  Decision = "advance"
	DecisionComplete Decision = "complete"
	DecisionRollback Decision = "rollback"
)

// RolloutConfig gates stage changes on the observed agreement rate.
type RolloutConfig struct {
	// MinSamples is the number of outcomes needed before any decision.
	MinSamples int64

	// AdvanceAt is the lower confidence bound of the agreement rate that
	// advances a rule.
	AdvanceAt float64

	// RollbackBelow is the upper confidence bound below which a rule is
	// rolled back.
	RollbackBelow float64

	// Z is the normal quantile of the confidence interval.
	Z float64
}

// DefaultRolloutConfig returns the default gate.
func DefaultRolloutConfig() RolloutConfig {
	return RolloutConfig{
		MinSamples:    10,
		AdvanceAt:     0.5,
		RollbackBelow: 0.5,
		Z:             1.96,
	}
}

// Interval returns the agreement rate of a rule and its confidence bounds.
func (c RolloutConfig) Interval(r Rule) (mean, lower, upper float64) {
	n := r.Acceptances + r.Rejections
	if n == 0 {
		return 0, 0, 1
	}
	mean, std := stat.MeanStdDev(
		[]float64{1, 0},
		[]float64{float64(r.Acceptances), float64(r.Rejections)},
	)
	se := stat.StdErr(std, float64(n))
	return mean, max(0, mean-c.Z*se), min(1, mean+c.Z*se)
}

// Evaluate decides the next rollout step of a staged rule.
func (c RolloutConfig) Evaluate(r Rule) Decision {
	if r.Status != RuleStaged || r.Acceptances+r.Rejections < c.MinSamples {
		return DecisionHold
	}
	_, lower, upper := c.Interval(r)
	switch {
	case upper < c.RollbackBelow:
		return DecisionRollback
	case lower >= c.AdvanceAt && r.Stage >= len(RolloutStages)-1:
		return DecisionComplete
	case lower >= c.AdvanceAt:
		return DecisionAdvance
	default:
		return DecisionHold
	}
}

// Apply evaluates r and updates it in place. Counts restart at every new
// stage.
func (c RolloutConfig) Apply(r *Rule, now time.Time) Decision {
	d := c.Evaluate(*r)
	switch d {
	case DecisionAdvance:
		r.Stage++
	case DecisionComplete:
		r.Status = RuleActive
	case DecisionRollback:
		r.Status = RuleRolledBack
	default:
		return d
	}
	r.Acceptances, r.Rejections = 0, 0
	r.UpdatedAt = now
	return d
}
