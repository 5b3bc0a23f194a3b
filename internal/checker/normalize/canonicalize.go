// Package normalize converts engine findings into canonical issues, resolves
// overlapping issues and orders the final list.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// ContextRadius is the number of runes kept on each side of an issue in its
// context snippet.
const ContextRadius = 40

// issueNamespace seeds deterministic issue IDs.
var issueNamespace = uuid.MustParse("6f1c2b8e-4d1a-5e39-9b6f-2a7c0d3e8f41")

type categoryDefaults struct {
	severity   types.Severity
	priority   float64
	confidence float64
}

var defaults = map[types.Category]categoryDefaults{
	types.CategoryGrammar:     {types.SeverityError, 0.9, 0.9},
	types.CategorySpelling:    {types.SeverityError, 0.85, 0.85},
	types.CategoryPunctuation: {types.SeverityWarning, 0.6, 0.8},
	types.CategoryClarity:     {types.SeveritySuggestion, 0.5, 0.7},
	types.CategoryStyle:       {types.SeveritySuggestion, 0.4, 0.7},
}

// Canonicalize converts the findings of one engine into issues.
//
// A finding whose span falls outside text invalidates the whole contribution
// of the engine and yields an *sdk.EngineExecutionError. A finding of a type
// not declared in the types package yields sdk.ErrUnknownFinding.
func Canonicalize(engine, text string, findings []types.Finding) ([]types.Issue, error) {
	runes := []rune(text)
	issues := make([]types.Issue, 0, len(findings))

	for _, f := range findings {
		issue, ok, err := convert(runes, f)
		if errors.Is(err, sdk.ErrUnknownFinding) {
			return nil, err
		}
		if err != nil {
			return nil, sdk.NewEngineExecutionError(engine, err)
		}
		if !ok {
			continue
		}
		if issue.Offset < 0 || issue.Length < 0 || issue.End() > len(runes) {
			return nil, sdk.NewEngineExecutionError(engine, fmt.Errorf(
				"span [%d,%d) outside text of length %d", issue.Offset, issue.End(), len(runes)))
		}

		issue.SourceEngine = engine
		applyDefaults(&issue)
		issue.ID = issueID(engine, issue)
		issue.Context = snippet(runes, issue.Offset, issue.Length)
		issues = append(issues, issue)
	}
	return issues, nil
}

func convert(runes []rune, f types.Finding) (types.Issue, bool, error) {
	switch f := f.(type) {
	case types.OffsetFinding:
		return types.Issue{
			Category:     f.Category,
			Severity:     f.Severity,
			Message:      f.Message,
			ShortMessage: f.ShortMessage,
			Offset:       f.Offset,
			Length:       f.Length,
			Suggestions:  append([]string(nil), f.Suggestions...),
			Confidence:   f.Confidence,
			Priority:     f.Priority,
			RuleID:       f.RuleID,
		}, true, nil

	case types.RangeFinding:
		suggestions := make([]string, 0, len(f.Replacements))
		for _, r := range f.Replacements {
			suggestions = append(suggestions, r.Value)
		}
		cat := types.Category(f.Kind)
		if !cat.IsValid() {
			cat = types.CategoryGrammar
		}
		return types.Issue{
			Category:    cat,
			Message:     f.Description,
			Offset:      f.Start,
			Length:      f.End - f.Start,
			Suggestions: suggestions,
			Confidence:  f.Score,
			RuleID:      f.RuleID,
		}, true, nil

	case types.TokenFinding:
		length := len([]rune(f.Token))
		if f.Position >= 0 && f.Position+length <= len(runes) &&
			string(runes[f.Position:f.Position+length]) != f.Token {
			return types.Issue{}, false, fmt.Errorf("token %q not found at position %d", f.Token, f.Position)
		}
		msg := f.Reason
		if msg == "" {
			msg = fmt.Sprintf("Possible spelling mistake: %q", f.Token)
		}
		return types.Issue{
			Category:     types.CategorySpelling,
			Message:      msg,
			ShortMessage: "Spelling",
			Offset:       f.Position,
			Length:       length,
			Suggestions:  append([]string(nil), f.Candidates...),
		}, true, nil

	case types.QuoteFinding:
		offset := locate(runes, []rune(f.Quote), f.Occurrence)
		if offset < 0 {
			// The quoted text is not in the input; there is no span to report.
			return types.Issue{}, false, nil
		}
		var suggestions []string
		if f.Replacement != "" {
			suggestions = []string{f.Replacement}
		}
		return types.Issue{
			Category:    f.Category,
			Message:     f.Explanation,
			Offset:      offset,
			Length:      len([]rune(f.Quote)),
			Suggestions: suggestions,
			Confidence:  f.Confidence,
		}, true, nil

	default:
		return types.Issue{}, false, fmt.Errorf("%w: %T", sdk.ErrUnknownFinding, f)
	}
}

func applyDefaults(issue *types.Issue) {
	if !issue.Category.IsValid() {
		issue.Category = types.CategoryStyle
	}
	d := defaults[issue.Category]
	if !issue.Severity.IsValid() {
		issue.Severity = d.severity
	}
	if issue.Priority == 0 {
		issue.Priority = d.priority
	}
	if issue.Confidence <= 0 {
		issue.Confidence = d.confidence
	}
	issue.Confidence = clamp(issue.Confidence)
	if issue.Suggestions == nil {
		issue.Suggestions = []string{}
	}
	if issue.ShortMessage == "" {
		issue.ShortMessage = titleCase(string(issue.Category))
	}
}

// issueID derives a stable ID so that repeated checks of the same text yield
// identical issues.
func issueID(engine string, issue types.Issue) string {
	key := strings.Join([]string{
		engine,
		strconv.Itoa(issue.Offset),
		strconv.Itoa(issue.Length),
		issue.RuleID,
		issue.Message,
	}, "\x00")
	return uuid.NewSHA1(issueNamespace, []byte(key)).String()
}

func snippet(runes []rune, offset, length int) types.IssueContext {
	start := max(0, offset-ContextRadius)
	end := min(len(runes), offset+length+ContextRadius)
	return types.IssueContext{
		Snippet:       string(runes[start:end]),
		SnippetOffset: offset - start,
	}
}

// locate returns the rune offset of the n-th occurrence of needle, or -1.
func locate(haystack, needle []rune, n int) int {
	if len(needle) == 0 || n < 0 {
		return -1
	}
	seen := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) != string(needle) {
			continue
		}
		if seen == n {
			return i
		}
		seen++
	}
	return -1
}

func clamp(c float64) float64 {
	return min(1, max(0, c))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
