package module

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Ruleset is the on-disk form of the analysis module.
type Ruleset struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	MinAPIVersion string `yaml:"min_api_version"`
	Language      string `yaml:"language"`

	Agreement Agreement    `yaml:"agreement"`
	Articles  Articles     `yaml:"articles"`
	Phrases   []PhraseRule `yaml:"phrases"`
}

// Agreement configures subject-verb agreement checks.
type Agreement struct {
	PluralDeterminers   []string          `yaml:"plural_determiners"`
	SingularDeterminers []string          `yaml:"singular_determiners"`
	IrregularPlurals    []string          `yaml:"irregular_plurals"`
	SingularExceptions  []string          `yaml:"singular_exceptions"`
	SingularVerbs       map[string]string `yaml:"singular_verbs"`
	PluralVerbs         map[string]string `yaml:"plural_verbs"`
	Score               float64           `yaml:"score"`
}

// Articles configures a/an agreement.
type Articles struct {
	// VowelSoundExceptions start with a consonant letter but take "an".
	VowelSoundExceptions []string `yaml:"vowel_sound_exceptions"`

	// ConsonantSoundExceptions start with a vowel letter but take "a".
	ConsonantSoundExceptions []string `yaml:"consonant_sound_exceptions"`

	Score float64 `yaml:"score"`
}

// PhraseRule is a pattern rule. Replacement may reference capture groups.
type PhraseRule struct {
	ID          string  `yaml:"id"`
	Kind        string  `yaml:"kind"`
	Pattern     string  `yaml:"pattern"`
	Message     string  `yaml:"message"`
	Replacement string  `yaml:"replacement"`
	Score       float64 `yaml:"score"`
}

// ParseRuleset decodes and validates a YAML ruleset.
func ParseRuleset(data []byte) (*Ruleset, error) {
	var rs Ruleset
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks required fields and API compatibility.
func (rs *Ruleset) Validate() error {
	if rs.Name == "" {
		return fmt.Errorf("ruleset name is required")
	}
	if rs.MinAPIVersion != "" {
		required := canonicalVersion(rs.MinAPIVersion)
		if !semver.IsValid(required) {
			return fmt.Errorf("ruleset %s: invalid min_api_version %q", rs.Name, rs.MinAPIVersion)
		}
		if semver.Compare(required, APIVersion) > 0 {
			return fmt.Errorf("ruleset %s requires analysis API %s, this build provides %s",
				rs.Name, required, APIVersion)
		}
	}
	for _, p := range rs.Phrases {
		if p.ID == "" || p.Pattern == "" {
			return fmt.Errorf("ruleset %s: phrase rule needs id and pattern", rs.Name)
		}
	}
	return nil
}

// Compile builds an analyzer from the ruleset.
func (rs *Ruleset) Compile() (*Analyzer, error) {
	a := &Analyzer{
		pluralDet:       toSet(rs.Agreement.PluralDeterminers),
		singularDet:     toSet(rs.Agreement.SingularDeterminers),
		irregular:       toSet(rs.Agreement.IrregularPlurals),
		singularExcept:  toSet(rs.Agreement.SingularExceptions),
		singularVerbs:   lowerMap(rs.Agreement.SingularVerbs),
		pluralVerbs:     lowerMap(rs.Agreement.PluralVerbs),
		agreementScore:  orDefault(rs.Agreement.Score, 0.95),
		vowelExcept:     toSet(rs.Articles.VowelSoundExceptions),
		consonantExcept: toSet(rs.Articles.ConsonantSoundExceptions),
		articleScore:    orDefault(rs.Articles.Score, 0.85),
	}
	for _, p := range rs.Phrases {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", p.ID, err)
		}
		a.phrases = append(a.phrases, compiledPhrase{rule: p, re: re})
	}
	return a, nil
}

// RuleCount returns the number of rules, counting each built-in check as one.
func (rs *Ruleset) RuleCount() int {
	n := len(rs.Phrases)
	if len(rs.Agreement.PluralDeterminers)+len(rs.Agreement.SingularDeterminers) > 0 {
		n++
	}
	if rs.Articles.Score > 0 || len(rs.Articles.VowelSoundExceptions) > 0 {
		n++
	}
	return n
}

// LoadModule parses, compiles and wraps a ruleset as an in-process module.
func LoadModule(data []byte, source string) (*Module, error) {
	rs, err := ParseRuleset(data)
	if err != nil {
		return nil, err
	}
	analyzer, err := rs.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile ruleset %s: %w", rs.Name, err)
	}
	return New(Info{
		Name:      rs.Name,
		Version:   rs.Version,
		Language:  rs.Language,
		Source:    source,
		RuleCount: rs.RuleCount(),
	}, analyzer), nil
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

func lowerMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
