package normalize

import (
	"sort"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Ordinals maps an engine name to its registration position. Engines missing
// from the map sort after every registered engine.
type Ordinals map[string]int

func (o Ordinals) of(engine string) int {
	if n, ok := o[engine]; ok {
		return n
	}
	return len(o)
}

// ConfidenceAdjuster rescales or suppresses issues before deduplication.
// Implementations must not block.
type ConfidenceAdjuster interface {
	// Adjust returns the new confidence of issue and whether to keep it.
	Adjust(issue types.Issue) (float64, bool)
}

// Adjust applies the optional adjuster and halves the confidence of issues
// produced by engines reported as failing. The input slice is not modified.
func Adjust(issues []types.Issue, adjuster ConfidenceAdjuster, failing func(engine string) bool) []types.Issue {
	out := make([]types.Issue, 0, len(issues))
	for _, issue := range issues {
		if adjuster != nil {
			c, keep := adjuster.Adjust(issue)
			if !keep {
				continue
			}
			issue.Confidence = clamp(c)
		}
		if failing != nil && failing(issue.SourceEngine) {
			issue.Confidence /= 2
		}
		out = append(out, issue)
	}
	return out
}

// Deduplicate removes exact duplicates and resolves overlapping issues.
//
// Issues are processed in a fixed order: engine ordinal, then offset, then
// span length. Exact (offset, length, message) duplicates collapse to the first
// processed. An issue overlapping already retained issues replaces them only
// when its confidence is strictly higher than each of them; otherwise it is
// dropped. The retained set never contains two overlapping issues.
func Deduplicate(issues []types.Issue, ordinals Ordinals) []types.Issue {
	ordered := make([]types.Issue, len(issues))
	copy(ordered, issues)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if oa, ob := ordinals.of(a.SourceEngine), ordinals.of(b.SourceEngine); oa != ob {
			return oa < ob
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		if a.Length != b.Length {
			return a.Length < b.Length
		}
		return a.ID < b.ID
	})

	type exactKey struct {
		offset, length int
		message        string
	}
	seen := make(map[exactKey]struct{}, len(ordered))
	kept := make([]types.Issue, 0, len(ordered))

	for _, candidate := range ordered {
		k := exactKey{candidate.Offset, candidate.Length, candidate.Message}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		wins := true
		for _, existing := range kept {
			if candidate.Overlaps(existing) && candidate.Confidence <= existing.Confidence {
				wins = false
				break
			}
		}
		if !wins {
			continue
		}

		next := kept[:0]
		for _, existing := range kept {
			if !candidate.Overlaps(existing) {
				next = append(next, existing)
			}
		}
		kept = append(next, candidate)
	}
	return kept
}

// Sort orders issues by priority descending, then offset ascending, then
// engine ordinal and ID.
func Sort(issues []types.Issue, ordinals Ordinals) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		if oa, ob := ordinals.of(a.SourceEngine), ordinals.of(b.SourceEngine); oa != ob {
			return oa < ob
		}
		return a.ID < b.ID
	})
}

// Finalize runs the post-join pipeline: adjust, deduplicate, sort.
func Finalize(issues []types.Issue, ordinals Ordinals, adjuster ConfidenceAdjuster, failing func(string) bool) []types.Issue {
	adjusted := Adjust(issues, adjuster, failing)
	kept := Deduplicate(adjusted, ordinals)
	Sort(kept, ordinals)
	return kept
}
