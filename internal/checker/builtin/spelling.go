package builtin

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// SpellingName is the registered name of the spelling engine.
const SpellingName = "spelling"

//go:embed data/misspellings.yaml
var defaultMisspellings []byte

// Spelling flags words found in a table of known misspellings.
type Spelling struct {
	table map[string][]string
}

// NewSpelling creates the spelling engine with the built-in table plus
// extra, which may be nil.
func NewSpelling(extra map[string][]string) (*Spelling, error) {
	table, err := ParseMisspellings(defaultMisspellings)
	if err != nil {
		return nil, err
	}
	for word, fixes := range extra {
		table[strings.ToLower(word)] = fixes
	}
	return &Spelling{table: table}, nil
}

// ParseMisspellings decodes a YAML map of misspelling to corrections.
func ParseMisspellings(data []byte) (map[string][]string, error) {
	raw := map[string][]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode misspellings: %w", err)
	}
	table := make(map[string][]string, len(raw))
	for word, fixes := range raw {
		table[strings.ToLower(word)] = fixes
	}
	return table, nil
}

// Name implements sdk.Checker.
func (s *Spelling) Name() string { return SpellingName }

// Categories implements sdk.Checker.
func (s *Spelling) Categories() []types.Category {
	return []types.Category{types.CategorySpelling}
}

// Check implements sdk.Checker.
func (s *Spelling) Check(ctx context.Context, text string) ([]types.Finding, error) {
	var findings []types.Finding
	position := 0
	state := -1
	rest := text
	for len(rest) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var w string
		w, rest, state = uniseg.FirstWordInString(rest, state)
		if fixes, ok := s.table[strings.ToLower(w)]; ok {
			candidates := make([]string, len(fixes))
			for i, f := range fixes {
				candidates[i] = preserveCase(w, f)
			}
			findings = append(findings, types.TokenFinding{
				Token:      w,
				Position:   position,
				Candidates: candidates,
				Reason:     fmt.Sprintf("%q is a common misspelling of %q.", w, candidates[0]),
			})
		}
		position += utf8.RuneCountInString(w)
	}
	return findings, nil
}

// preserveCase applies the capitalization pattern of word to fix.
func preserveCase(word, fix string) string {
	switch {
	case word == strings.ToUpper(word) && utf8.RuneCountInString(word) > 1:
		return strings.ToUpper(fix)
	case startsUpper(word):
		r, size := utf8.DecodeRuneInString(fix)
		return string(unicode.ToUpper(r)) + fix[size:]
	default:
		return fix
	}
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
