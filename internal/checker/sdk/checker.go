// Package sdk provides the contract every checking engine implements and the
// error taxonomy shared by the checking core.
//
// Engines are registered explicitly at startup; there is no runtime discovery.
package sdk

import (
	"context"
	"slices"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// MinTextLength is the shortest input, in runes, that is worth checking.
const MinTextLength = 3

// Checker is the capability contract of a detection engine.
type Checker interface {
	// Name returns the unique engine name.
	Name() string

	// Categories returns the issue categories the engine can produce.
	Categories() []types.Category

	// Check analyzes text and returns the engine's raw findings.
	// Offsets in findings count runes of text.
	Check(ctx context.Context, text string) ([]types.Finding, error)
}

// Covers reports whether a checker declares any of the requested categories.
// An empty request matches every checker.
func Covers(c Checker, requested []types.Category) bool {
	if len(requested) == 0 {
		return true
	}
	for _, cat := range c.Categories() {
		if slices.Contains(requested, cat) {
			return true
		}
	}
	return false
}

// CheckerFunc adapts a function into a Checker.
type CheckerFunc struct {
	EngineName       string
	EngineCategories []types.Category
	Fn               func(ctx context.Context, text string) ([]types.Finding, error)
}

// Name implements Checker.
func (f CheckerFunc) Name() string { return f.EngineName }

// Categories implements Checker.
func (f CheckerFunc) Categories() []types.Category { return f.EngineCategories }

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, text string) ([]types.Finding, error) {
	return f.Fn(ctx, text)
}
