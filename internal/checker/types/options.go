package types

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DefaultLanguage is used when options do not name one.
const DefaultLanguage = "en"

// Options configures a single check.
type Options struct {
	// Engines toggles engines by name. Engines not listed are enabled.
	Engines map[string]bool `json:"engines,omitempty"`

	// Categories restricts the check to these categories. Empty means all.
	Categories []Category `json:"categories,omitempty"`

	// Language is a BCP 47 tag. Defaults to "en".
	Language string `json:"language,omitempty"`

	// StrictMode enables rules that are noisy for casual writing.
	StrictMode bool `json:"strict_mode,omitempty"`
}

// Validate rejects options naming an unknown category. A nil Options is
// valid.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	for _, c := range o.Categories {
		if !c.IsValid() {
			return fmt.Errorf("%w %q", ErrUnknownCategory, c)
		}
	}
	return nil
}

// Effective returns a copy with defaults applied and fields canonicalized.
// Unknown categories are dropped; callers reject them with Validate first.
func (o *Options) Effective() Options {
	var eff Options
	if o != nil {
		eff = *o
	}
	if eff.Language == "" {
		eff.Language = DefaultLanguage
	}
	eff.Language = strings.ToLower(eff.Language)

	if len(eff.Categories) > 0 {
		cats := make([]Category, 0, len(eff.Categories))
		for _, c := range eff.Categories {
			if c.IsValid() && !slices.Contains(cats, c) {
				cats = append(cats, c)
			}
		}
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		eff.Categories = cats
	}

	if eff.Engines != nil {
		engines := make(map[string]bool, len(eff.Engines))
		for name, on := range eff.Engines {
			engines[name] = on
		}
		eff.Engines = engines
	}
	return eff
}

// EngineEnabled reports whether the named engine may run.
func (o Options) EngineEnabled(name string) bool {
	if o.Engines == nil {
		return true
	}
	on, ok := o.Engines[name]
	return !ok || on
}

// Fingerprint is a canonical string form of the options, used in cache keys.
func (o Options) Fingerprint() string {
	eff := o.Effective()

	var b strings.Builder
	b.WriteString("lang=")
	b.WriteString(eff.Language)
	b.WriteString(";cats=")
	for i, c := range eff.Categories {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(c))
	}

	b.WriteString(";off=")
	var disabled []string
	for name, on := range eff.Engines {
		if !on {
			disabled = append(disabled, name)
		}
	}
	sort.Strings(disabled)
	b.WriteString(strings.Join(disabled, ","))

	if eff.StrictMode {
		b.WriteString(";strict")
	}
	return b.String()
}
