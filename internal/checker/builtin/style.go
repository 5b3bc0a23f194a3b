package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// StyleName is the registered name of the style engine.
const StyleName = "style"

// LongSentenceWords is the word count above which strict mode flags a
// sentence.
const LongSentenceWords = 40

type styleRule struct {
	id          string
	re          *regexp.Regexp
	category    types.Category
	message     string
	replacement string
	confidence  float64
	strictOnly  bool

	// flagGroup reports the first capture group instead of the whole match.
	flagGroup bool
}

var styleRules = []styleRule{
	wordy("in order to", "to"),
	wordy("due to the fact that", "because"),
	wordy("at this point in time", "now"),
	wordy("in the event that", "if"),
	wordy("a large number of", "many"),
	wordy("has the ability to", "can"),
	wordy("for the purpose of", "for"),
	{
		id:         "style.weasel",
		re:         regexp.MustCompile(`(?i)\b(very|really|basically|actually|extremely|quite)\b`),
		category:   types.CategoryClarity,
		message:    "Intensifiers like this rarely add meaning.",
		confidence: 0.5,
		strictOnly: true,
	},
	{
		id:          "style.double-space",
		re:          regexp.MustCompile(`\S( {2,})\S`),
		category:    types.CategoryPunctuation,
		message:     "Use a single space between words.",
		replacement: " ",
		confidence:  0.9,
		flagGroup:   true,
	},
}

func wordy(phrase, fix string) styleRule {
	pattern := `(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(phrase), " ", `\s+`) + `\b`
	return styleRule{
		id:          "style.wordy." + strings.ReplaceAll(phrase, " ", "-"),
		re:          regexp.MustCompile(pattern),
		category:    types.CategoryStyle,
		message:     fmt.Sprintf("%q can usually be shortened to %q.", phrase, fix),
		replacement: fix,
		confidence:  0.6,
	}
}

// Style applies phrase, spacing and sentence-length heuristics.
type Style struct{}

// NewStyle creates the style engine.
func NewStyle() *Style {
	return &Style{}
}

// Name implements sdk.Checker.
func (s *Style) Name() string { return StyleName }

// Categories implements sdk.Checker.
func (s *Style) Categories() []types.Category {
	return []types.Category{types.CategoryStyle, types.CategoryClarity, types.CategoryPunctuation}
}

// Check implements sdk.Checker. Strict-only rules run when the options in
// ctx have StrictMode set.
func (s *Style) Check(ctx context.Context, text string) ([]types.Finding, error) {
	strict := sdk.OptionsFromContext(ctx).StrictMode

	var findings []types.Finding
	for _, rule := range styleRules {
		if rule.strictOnly && !strict {
			continue
		}
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if rule.flagGroup && len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			findings = append(findings, offsetFinding(text, start, end, rule))
		}
	}
	findings = append(findings, repeatedWords(text)...)
	if strict {
		findings = append(findings, longSentences(text)...)
	}
	return findings, nil
}

func offsetFinding(text string, start, end int, rule styleRule) types.OffsetFinding {
	var suggestions []string
	if rule.replacement != "" {
		suggestions = []string{matchLeadingCase(text[start:end], rule.replacement)}
	}
	return types.OffsetFinding{
		Offset:      utf8.RuneCountInString(text[:start]),
		Length:      utf8.RuneCountInString(text[start:end]),
		Message:     rule.message,
		Suggestions: suggestions,
		Category:    rule.category,
		Confidence:  rule.confidence,
		RuleID:      rule.id,
	}
}

// repeatedWords flags "the the" style duplicates separated only by spaces.
func repeatedWords(text string) []types.Finding {
	var findings []types.Finding
	var prev string
	prevStart := -1
	gapOK := false
	position := 0
	state := -1
	rest := text
	for len(rest) > 0 {
		var w string
		w, rest, state = uniseg.FirstWordInString(rest, state)
		n := utf8.RuneCountInString(w)
		r, _ := utf8.DecodeRuneInString(w)

		switch {
		case unicode.IsLetter(r):
			if gapOK && prevStart >= 0 && strings.EqualFold(prev, w) {
				findings = append(findings, types.OffsetFinding{
					Offset:      prevStart,
					Length:      position + n - prevStart,
					Message:     fmt.Sprintf("The word %q is repeated.", w),
					Suggestions: []string{prev},
					Category:    types.CategoryStyle,
					Severity:    types.SeverityWarning,
					Confidence:  0.85,
					Priority:    0.7,
					RuleID:      "style.repeated-word",
				})
			}
			prev, prevStart, gapOK = w, position, false
		case strings.TrimSpace(w) == "":
			gapOK = prevStart >= 0
		default:
			prevStart, gapOK = -1, false
		}
		position += n
	}
	return findings
}

// longSentences flags sentences with more than LongSentenceWords words.
func longSentences(text string) []types.Finding {
	var findings []types.Finding
	position := 0
	state := -1
	rest := text
	for len(rest) > 0 {
		var sentence string
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		n := utf8.RuneCountInString(sentence)
		if words := countWords(sentence); words > LongSentenceWords {
			trimmed := strings.TrimRightFunc(sentence, unicode.IsSpace)
			findings = append(findings, types.OffsetFinding{
				Offset:     position,
				Length:     utf8.RuneCountInString(trimmed),
				Message:    fmt.Sprintf("This sentence has %d words; consider splitting it.", words),
				Category:   types.CategoryClarity,
				Confidence: 0.55,
				Priority:   0.3,
				RuleID:     "style.long-sentence",
			})
		}
		position += n
	}
	return findings
}

func countWords(s string) int {
	count := 0
	state := -1
	for len(s) > 0 {
		var w string
		w, s, state = uniseg.FirstWordInString(s, state)
		if r, _ := utf8.DecodeRuneInString(w); unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
		}
	}
	return count
}

func matchLeadingCase(original, fix string) string {
	if !startsUpper(original) {
		return fix
	}
	r, size := utf8.DecodeRuneInString(fix)
	return string(unicode.ToUpper(r)) + fix[size:]
}
