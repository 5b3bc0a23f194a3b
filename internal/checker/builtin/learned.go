package builtin

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// LearnedName is the registered name of the learned-rules engine.
const LearnedName = "learned"

// LearnedRule replaces a phrase users repeatedly corrected by hand.
type LearnedRule struct {
	ID          string
	Phrase      string
	Replacement string
	Message     string
	Category    types.Category
	Confidence  float64

	// RolloutPercent is the share of texts, 0 to 100, the rule applies to.
	RolloutPercent int
}

// ImpressionRecorder is told each time a rule produces a finding.
type ImpressionRecorder interface {
	RecordImpression(ruleID string)
}

type compiledLearned struct {
	rule LearnedRule
	re   *regexp.Regexp
}

// Learned applies rules mined from feedback. Rules are swapped atomically
// so Check never blocks on the learner.
type Learned struct {
	rules    atomic.Pointer[[]compiledLearned]
	recorder ImpressionRecorder
}

// NewLearned creates the engine with no rules. recorder may be nil.
func NewLearned(recorder ImpressionRecorder) *Learned {
	l := &Learned{recorder: recorder}
	l.rules.Store(&[]compiledLearned{})
	return l
}

// SetRules replaces the active rule set.
func (l *Learned) SetRules(rules []LearnedRule) {
	compiled := make([]compiledLearned, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Phrase) == "" || r.RolloutPercent <= 0 {
			continue
		}
		fields := strings.Fields(r.Phrase)
		for i, f := range fields {
			fields[i] = regexp.QuoteMeta(f)
		}
		pattern := `(?i)\b` + strings.Join(fields, `\s+`) + `\b`
		compiled = append(compiled, compiledLearned{rule: r, re: regexp.MustCompile(pattern)})
	}
	l.rules.Store(&compiled)
}

// Rules returns the active rules.
func (l *Learned) Rules() []LearnedRule {
	compiled := *l.rules.Load()
	out := make([]LearnedRule, len(compiled))
	for i, c := range compiled {
		out[i] = c.rule
	}
	return out
}

// Name implements sdk.Checker.
func (l *Learned) Name() string { return LearnedName }

// Categories implements sdk.Checker.
func (l *Learned) Categories() []types.Category {
	return []types.Category{types.CategoryGrammar, types.CategoryStyle}
}

// Check implements sdk.Checker.
func (l *Learned) Check(_ context.Context, text string) ([]types.Finding, error) {
	var findings []types.Finding
	for _, c := range *l.rules.Load() {
		if !InRollout(c.rule.ID, text, c.rule.RolloutPercent) {
			continue
		}
		for _, m := range c.re.FindAllStringIndex(text, -1) {
			category := c.rule.Category
			if !category.IsValid() {
				category = types.CategoryGrammar
			}
			findings = append(findings, types.OffsetFinding{
				Offset:      utf8.RuneCountInString(text[:m[0]]),
				Length:      utf8.RuneCountInString(text[m[0]:m[1]]),
				Message:     c.rule.Message,
				Suggestions: []string{c.rule.Replacement},
				Category:    category,
				Confidence:  c.rule.Confidence,
				RuleID:      c.rule.ID,
			})
			if l.recorder != nil {
				l.recorder.RecordImpression(c.rule.ID)
			}
		}
	}
	return findings, nil
}

// InRollout reports whether text falls in the rollout bucket of a rule. The
// assignment is stable for a given rule and text.
func InRollout(ruleID, text string, percent int) bool {
	if percent >= 100 {
		return true
	}
	if percent <= 0 {
		return false
	}
	h := xxhash.New()
	_, _ = h.WriteString(ruleID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	return int(h.Sum64()%100) < percent
}
