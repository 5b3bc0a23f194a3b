// Package builtin contains the engines shipped with prosecheck.
package builtin

import (
	"context"

	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// GrammarName is the registered name of the grammar engine.
const GrammarName = "grammar"

// Grammar runs the analysis module. Every call uses its own session.
type Grammar struct {
	loader *module.Loader
}

// NewGrammar creates the grammar engine over loader.
func NewGrammar(loader *module.Loader) *Grammar {
	return &Grammar{loader: loader}
}

// Name implements sdk.Checker.
func (g *Grammar) Name() string { return GrammarName }

// Categories implements sdk.Checker.
func (g *Grammar) Categories() []types.Category {
	return []types.Category{types.CategoryGrammar, types.CategoryPunctuation}
}

// Check implements sdk.Checker.
func (g *Grammar) Check(ctx context.Context, text string) ([]types.Finding, error) {
	var findings []types.Finding
	err := g.loader.WithSession(ctx, func(s *module.Session) error {
		ranges, err := s.Analyze(ctx, text)
		if err != nil {
			return err
		}
		findings = make([]types.Finding, 0, len(ranges))
		for _, r := range ranges {
			findings = append(findings, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}
