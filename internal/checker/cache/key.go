// Package cache memoizes check results in a fast in-process tier backed by a
// larger, optionally remote, slow tier.
package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Key identifies a cached result: a hash of the normalized text combined with
// a hash of the effective options.
type Key struct {
	Text    uint64
	Options uint64
}

// String renders the key as 32 hex characters.
func (k Key) String() string {
	return fmt.Sprintf("%016x%016x", k.Text, k.Options)
}

// KeyFor derives the cache key of a check.
func KeyFor(text string, opts types.Options) Key {
	eff := opts.Effective()
	return Key{
		Text:    xxhash.Sum64String(NormalizeText(text, eff.Language)),
		Options: xxhash.Sum64String(eff.Fingerprint()),
	}
}

// NormalizeText lowercases text for lang, collapses whitespace runs to a
// single space and applies NFC.
func NormalizeText(text, lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}
	lowered := cases.Lower(tag).String(norm.NFC.String(text))
	return strings.Join(strings.Fields(lowered), " ")
}

// Fingerprint hashes the exact text. Entries whose fingerprint differs from
// the requested text are treated as misses, since their offsets would not
// line up.
func Fingerprint(text string) uint64 {
	return xxhash.Sum64String(text)
}
