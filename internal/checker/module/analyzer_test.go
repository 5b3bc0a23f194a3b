package module

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

func defaultAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	rs, err := ParseRuleset(DefaultRuleset())
	require.NoError(t, err)
	a, err := rs.Compile()
	require.NoError(t, err)
	return a
}

func analyze(t *testing.T, a *Analyzer, text string) []types.RangeFinding {
	t.Helper()
	findings, err := a.Analyze(context.Background(), text)
	require.NoError(t, err)
	return findings
}

func TestAnalyzer_PluralSubjectAgreement(t *testing.T) {
	findings := analyze(t, defaultAnalyzer(t), "The cats is hungry.")

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, 4, f.Start)
	assert.Equal(t, 11, f.End)
	assert.Equal(t, "agreement.plural-subject", f.RuleID)
	assert.Equal(t, string(types.CategoryGrammar), f.Kind)
	require.Len(t, f.Replacements, 1)
	assert.Equal(t, "are", f.Replacements[0].Value)
}

func TestAnalyzer_SingularSubjectAgreement(t *testing.T) {
	findings := analyze(t, defaultAnalyzer(t), "Every dog have a bone.")

	require.Len(t, findings, 1)
	assert.Equal(t, "agreement.singular-subject", findings[0].RuleID)
	assert.Equal(t, 6, findings[0].Start)
	assert.Equal(t, 14, findings[0].End)
	assert.Equal(t, "has", findings[0].Replacements[0].Value)
}

func TestAnalyzer_NoFalsePositives(t *testing.T) {
	a := defaultAnalyzer(t)
	for _, text := range []string{
		"The cats are hungry.",
		"The news is good.",
		"An hour passed.",
		"A university course.",
		"She should have gone.",
		"",
	} {
		assert.Empty(t, analyze(t, a, text), text)
	}
}

func TestAnalyzer_Articles(t *testing.T) {
	a := defaultAnalyzer(t)

	findings := analyze(t, a, "I ate a apple.")
	require.Len(t, findings, 1)
	assert.Equal(t, "article.a-an", findings[0].RuleID)
	assert.Equal(t, 6, findings[0].Start)
	assert.Equal(t, 7, findings[0].End)
	assert.Equal(t, "an", findings[0].Replacements[0].Value)

	findings = analyze(t, a, "An banana fell.")
	require.Len(t, findings, 1)
	assert.Equal(t, "A", findings[0].Replacements[0].Value)
}

func TestAnalyzer_Phrases(t *testing.T) {
	a := defaultAnalyzer(t)

	findings := analyze(t, a, "You could of asked.")
	require.Len(t, findings, 1)
	assert.Equal(t, "modal.have", findings[0].RuleID)
	assert.Equal(t, 4, findings[0].Start)
	assert.Equal(t, 12, findings[0].End)
	assert.Equal(t, "could have", findings[0].Replacements[0].Value)

	findings = analyze(t, a, "Wait , please.")
	require.Len(t, findings, 1)
	assert.Equal(t, "punctuation.space-before", findings[0].RuleID)
	assert.Equal(t, string(types.CategoryPunctuation), findings[0].Kind)
	assert.Equal(t, ",", findings[0].Replacements[0].Value)
}

func TestAnalyzer_RuneOffsets(t *testing.T) {
	text := "Café crème: the cats is cold."
	findings := analyze(t, defaultAnalyzer(t), text)

	require.Len(t, findings, 1)
	runes := []rune(text)
	assert.Equal(t, "cats is", string(runes[findings[0].Start:findings[0].End]))
	assert.LessOrEqual(t, findings[0].End, utf8.RuneCountInString(text))
}

func TestAnalyzer_OrderedByStart(t *testing.T) {
	findings := analyze(t, defaultAnalyzer(t), "Irregardless, the dogs is a issue.")
	require.Len(t, findings, 3)
	for i := 1; i < len(findings); i++ {
		assert.LessOrEqual(t, findings[i-1].Start, findings[i].Start)
	}
}

func TestAnalyzer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := defaultAnalyzer(t).Analyze(ctx, "The cats is hungry.")
	assert.ErrorIs(t, err, context.Canceled)
}
