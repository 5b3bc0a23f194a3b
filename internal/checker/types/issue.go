// Package types defines the data model shared by checkers, the dispatcher,
// the normalizer and the cache.
package types

import (
	"errors"
	"fmt"
)

// ErrUnknownCategory is returned for category names outside AllCategories.
var ErrUnknownCategory = errors.New("unknown category")

// Category classifies what kind of problem an issue describes.
type Category string

const (
	CategoryGrammar     Category = "grammar"
	CategorySpelling    Category = "spelling"
	CategoryStyle       Category = "style"
	CategoryPunctuation Category = "punctuation"
	CategoryClarity     Category = "clarity"
)

// AllCategories lists every known category in canonical order.
func AllCategories() []Category {
	return []Category{
		CategoryGrammar,
		CategorySpelling,
		CategoryStyle,
		CategoryPunctuation,
		CategoryClarity,
	}
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryGrammar, CategorySpelling, CategoryStyle, CategoryPunctuation, CategoryClarity:
		return true
	default:
		return false
	}
}

// ParseCategory parses a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Severity expresses how serious an issue is.
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
	SeverityInfo       Severity = "info"
)

// IsValid checks if the severity is known.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeveritySuggestion, SeverityInfo:
		return true
	default:
		return false
	}
}

// Rank orders severities from most (0) to least serious.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeveritySuggestion:
		return 2
	default:
		return 3
	}
}

// IssueContext is the excerpt of text surrounding an issue.
type IssueContext struct {
	// Snippet is the excerpt, in runes of the checked text.
	Snippet string `json:"snippet" msgpack:"snippet"`

	// SnippetOffset is the rune offset of the issue inside Snippet.
	SnippetOffset int `json:"snippet_offset" msgpack:"snippet_offset"`
}

// Issue is a single detected problem in canonical form.
//
// Offset and Length count runes of the checked text.
type Issue struct {
	ID           string       `json:"id" msgpack:"id"`
	Category     Category     `json:"category" msgpack:"category"`
	Severity     Severity     `json:"severity" msgpack:"severity"`
	Message      string       `json:"message" msgpack:"message"`
	ShortMessage string       `json:"short_message,omitempty" msgpack:"short_message"`
	Offset       int          `json:"offset" msgpack:"offset"`
	Length       int          `json:"length" msgpack:"length"`
	Suggestions  []string     `json:"suggestions" msgpack:"suggestions"`
	Confidence   float64      `json:"confidence" msgpack:"confidence"`
	Priority     float64      `json:"priority" msgpack:"priority"`
	SourceEngine string       `json:"source_engine" msgpack:"source_engine"`
	RuleID       string       `json:"rule_id,omitempty" msgpack:"rule_id"`
	Context      IssueContext `json:"context" msgpack:"context"`
}

// End returns the exclusive end offset of the issue span.
func (i Issue) End() int {
	return i.Offset + i.Length
}

// Overlaps reports whether two issue spans intersect.
func (i Issue) Overlaps(other Issue) bool {
	return max(i.Offset, other.Offset) < min(i.End(), other.End())
}

// Clone returns a deep copy of the issue.
func (i Issue) Clone() Issue {
	c := i
	if i.Suggestions != nil {
		c.Suggestions = append([]string(nil), i.Suggestions...)
	}
	return c
}
