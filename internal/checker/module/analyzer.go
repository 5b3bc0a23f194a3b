package module

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Analyzer is the in-process backend compiled from a ruleset. It is
// immutable and safe for concurrent use.
type Analyzer struct {
	pluralDet       map[string]struct{}
	singularDet     map[string]struct{}
	irregular       map[string]struct{}
	singularExcept  map[string]struct{}
	singularVerbs   map[string]string
	pluralVerbs     map[string]string
	agreementScore  float64
	vowelExcept     map[string]struct{}
	consonantExcept map[string]struct{}
	articleScore    float64
	phrases         []compiledPhrase
}

type compiledPhrase struct {
	rule PhraseRule
	re   *regexp.Regexp
}

type word struct {
	text  string
	lower string
	start int
	end   int
}

// Analyze implements Backend.
func (a *Analyzer) Analyze(ctx context.Context, text string) ([]types.RangeFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := splitWords(text)
	var findings []types.RangeFinding
	findings = append(findings, a.agreement(text, words)...)
	findings = append(findings, a.articles(text, words)...)
	findings = append(findings, a.phraseFindings(text)...)

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Start != findings[j].Start {
			return findings[i].Start < findings[j].Start
		}
		return findings[i].End < findings[j].End
	})
	return findings, nil
}

// Close implements Backend.
func (a *Analyzer) Close() error { return nil }

// splitWords splits text into words using Unicode word boundaries. Offsets are in
// runes.
func splitWords(text string) []word {
	var words []word
	state := -1
	offset := 0
	rest := text
	for len(rest) > 0 {
		var w string
		w, rest, state = uniseg.FirstWordInString(rest, state)
		n := utf8.RuneCountInString(w)
		if r, _ := utf8.DecodeRuneInString(w); unicode.IsLetter(r) || unicode.IsDigit(r) {
			words = append(words, word{
				text:  w,
				lower: strings.ToLower(w),
				start: offset,
				end:   offset + n,
			})
		}
		offset += n
	}
	return words
}

func (a *Analyzer) agreement(text string, words []word) []types.RangeFinding {
	var findings []types.RangeFinding
	runes := []rune(text)

	for i := 0; i+2 < len(words); i++ {
		det, noun, verb := words[i], words[i+1], words[i+2]
		if !spaced(runes, det, noun) || !spaced(runes, noun, verb) {
			continue
		}

		if _, ok := a.pluralDet[det.lower]; ok && a.isPlural(noun.lower) {
			if fix, ok := a.singularVerbs[verb.lower]; ok {
				findings = append(findings, types.RangeFinding{
					Start:        noun.start,
					End:          verb.end,
					Kind:         string(types.CategoryGrammar),
					RuleID:       "agreement.plural-subject",
					Description:  fmt.Sprintf("The plural subject %q takes %q, not %q.", noun.text, fix, verb.text),
					Replacements: []types.Replacement{{Value: matchCase(verb.text, fix)}},
					Score:        a.agreementScore,
				})
			}
		}

		if _, ok := a.singularDet[det.lower]; ok && a.isSingular(noun.lower) {
			if fix, ok := a.pluralVerbs[verb.lower]; ok {
				findings = append(findings, types.RangeFinding{
					Start:        noun.start,
					End:          verb.end,
					Kind:         string(types.CategoryGrammar),
					RuleID:       "agreement.singular-subject",
					Description:  fmt.Sprintf("The singular subject %q takes %q, not %q.", noun.text, fix, verb.text),
					Replacements: []types.Replacement{{Value: matchCase(verb.text, fix)}},
					Score:        a.agreementScore,
				})
			}
		}
	}
	return findings
}

func (a *Analyzer) articles(text string, words []word) []types.RangeFinding {
	var findings []types.RangeFinding
	runes := []rune(text)

	for i := 0; i+1 < len(words); i++ {
		art, next := words[i], words[i+1]
		if (art.lower != "a" && art.lower != "an") || !spaced(runes, art, next) {
			continue
		}
		if utf8.RuneCountInString(next.text) < 2 || !unicode.IsLetter([]rune(next.text)[0]) {
			continue
		}

		vowel := a.vowelSound(next.lower)
		var fix string
		switch {
		case art.lower == "a" && vowel:
			fix = "an"
		case art.lower == "an" && !vowel:
			fix = "a"
		default:
			continue
		}
		findings = append(findings, types.RangeFinding{
			Start:        art.start,
			End:          art.end,
			Kind:         string(types.CategoryGrammar),
			RuleID:       "article.a-an",
			Description:  fmt.Sprintf("Use %q before %q.", fix, next.text),
			Replacements: []types.Replacement{{Value: matchCase(art.text, fix)}},
			Score:        a.articleScore,
		})
	}
	return findings
}

func (a *Analyzer) phraseFindings(text string) []types.RangeFinding {
	var findings []types.RangeFinding
	for _, p := range a.phrases {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start := utf8.RuneCountInString(text[:m[0]])
			end := start + utf8.RuneCountInString(text[m[0]:m[1]])

			var replacements []types.Replacement
			if p.rule.Replacement != "" {
				value := string(p.re.ExpandString(nil, p.rule.Replacement, text, m))
				replacements = append(replacements, types.Replacement{Value: value})
			}
			kind := p.rule.Kind
			if kind == "" {
				kind = string(types.CategoryGrammar)
			}
			findings = append(findings, types.RangeFinding{
				Start:        start,
				End:          end,
				Kind:         kind,
				RuleID:       p.rule.ID,
				Description:  p.rule.Message,
				Replacements: replacements,
				Score:        p.rule.Score,
			})
		}
	}
	return findings
}

func (a *Analyzer) isPlural(noun string) bool {
	if _, ok := a.irregular[noun]; ok {
		return true
	}
	if _, ok := a.singularExcept[noun]; ok {
		return false
	}
	return utf8.RuneCountInString(noun) > 3 &&
		strings.HasSuffix(noun, "s") &&
		!strings.HasSuffix(noun, "ss") &&
		!strings.HasSuffix(noun, "us")
}

func (a *Analyzer) isSingular(noun string) bool {
	if _, ok := a.irregular[noun]; ok {
		return false
	}
	if _, ok := a.singularExcept[noun]; ok {
		return true
	}
	return !strings.HasSuffix(noun, "s") || strings.HasSuffix(noun, "ss")
}

func (a *Analyzer) vowelSound(w string) bool {
	for prefix := range a.vowelExcept {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	for prefix := range a.consonantExcept {
		if strings.HasPrefix(w, prefix) {
			return false
		}
	}
	return strings.ContainsRune("aeiou", []rune(w)[0])
}

// spaced reports whether only whitespace separates two adjacent words.
func spaced(runes []rune, left, right word) bool {
	if right.start < left.end {
		return false
	}
	for _, r := range runes[left.end:right.start] {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return right.start > left.end
}

// matchCase capitalizes fix when original starts with an upper-case letter.
func matchCase(original, fix string) string {
	r, _ := utf8.DecodeRuneInString(original)
	if !unicode.IsUpper(r) || fix == "" {
		return fix
	}
	f, size := utf8.DecodeRuneInString(fix)
	return string(unicode.ToUpper(f)) + fix[size:]
}
