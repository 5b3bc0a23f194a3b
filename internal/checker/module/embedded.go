package module

import _ "embed"

//go:embed data/default.yaml
var defaultRuleset []byte

// DefaultRuleset returns the ruleset compiled into the binary.
func DefaultRuleset() []byte {
	return append([]byte(nil), defaultRuleset...)
}
