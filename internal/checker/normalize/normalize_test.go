package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

const sample = "The cats is hungry."

func TestCanonicalize(t *testing.T) {
	t.Run("range finding", func(t *testing.T) {
		issues, err := Canonicalize("grammar", sample, []types.Finding{
			types.RangeFinding{
				Start: 4, End: 11, Kind: "grammar", RuleID: "agreement.plural",
				Description:  "Plural subject needs a plural verb.",
				Replacements: []types.Replacement{{Value: "are"}},
				Score:        0.95,
			},
		})
		require.NoError(t, err)
		require.Len(t, issues, 1)

		issue := issues[0]
		assert.Equal(t, types.CategoryGrammar, issue.Category)
		assert.Equal(t, types.SeverityError, issue.Severity)
		assert.Equal(t, 4, issue.Offset)
		assert.Equal(t, 7, issue.Length)
		assert.Equal(t, []string{"are"}, issue.Suggestions)
		assert.Equal(t, "grammar", issue.SourceEngine)
		assert.Equal(t, sample, issue.Context.Snippet)
		assert.Equal(t, 4, issue.Context.SnippetOffset)
		assert.NotEmpty(t, issue.ID)
	})

	t.Run("ids are stable", func(t *testing.T) {
		f := []types.Finding{types.OffsetFinding{Offset: 0, Length: 3, Message: "m"}}
		a, err := Canonicalize("style", sample, f)
		require.NoError(t, err)
		b, err := Canonicalize("style", sample, f)
		require.NoError(t, err)
		assert.Equal(t, a[0].ID, b[0].ID)
	})

	t.Run("token finding", func(t *testing.T) {
		issues, err := Canonicalize("spelling", "I recieve mail", []types.Finding{
			types.TokenFinding{Token: "recieve", Position: 2, Candidates: []string{"receive"}},
		})
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, types.CategorySpelling, issues[0].Category)
		assert.Equal(t, 7, issues[0].Length)
	})

	t.Run("token finding at wrong position", func(t *testing.T) {
		_, err := Canonicalize("spelling", "I recieve mail", []types.Finding{
			types.TokenFinding{Token: "recieve", Position: 3},
		})
		assert.True(t, sdk.IsEngineExecutionError(err))
	})

	t.Run("quote finding uses occurrence", func(t *testing.T) {
		issues, err := Canonicalize("assistant", "very good and very bad", []types.Finding{
			types.QuoteFinding{Quote: "very", Occurrence: 1, Explanation: "weak intensifier", Category: types.CategoryStyle},
		})
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, 14, issues[0].Offset)
	})

	t.Run("missing quote is skipped", func(t *testing.T) {
		issues, err := Canonicalize("assistant", sample, []types.Finding{
			types.QuoteFinding{Quote: "nowhere"},
		})
		require.NoError(t, err)
		assert.Empty(t, issues)
	})

	t.Run("offsets count runes", func(t *testing.T) {
		text := "Ça va très bien"
		issues, err := Canonicalize("style", text, []types.Finding{
			types.OffsetFinding{Offset: 11, Length: 4, Message: "x", Category: types.CategoryStyle},
		})
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, "bien", string([]rune(text)[issues[0].Offset:issues[0].End()]))
	})

	t.Run("out of bounds span is an engine error", func(t *testing.T) {
		_, err := Canonicalize("style", sample, []types.Finding{
			types.OffsetFinding{Offset: 15, Length: 10, Message: "x"},
		})
		var execErr *sdk.EngineExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "style", execErr.Engine)
	})

	t.Run("negative offset is an engine error", func(t *testing.T) {
		_, err := Canonicalize("style", sample, []types.Finding{
			types.OffsetFinding{Offset: -1, Length: 2},
		})
		assert.True(t, sdk.IsEngineExecutionError(err))
	})

	t.Run("unknown finding propagates", func(t *testing.T) {
		_, err := Canonicalize("style", sample, []types.Finding{nil})
		assert.ErrorIs(t, err, sdk.ErrUnknownFinding)
		assert.False(t, sdk.IsEngineExecutionError(err))
	})
}

func issue(engine string, offset, length int, confidence float64) types.Issue {
	return types.Issue{
		ID:           engine + "-" + string(rune('a'+offset)),
		SourceEngine: engine,
		Offset:       offset,
		Length:       length,
		Confidence:   confidence,
		Message:      engine,
	}
}

func TestDeduplicate(t *testing.T) {
	ordinals := Ordinals{"grammar": 0, "spelling": 1, "style": 2}

	t.Run("higher confidence wins overlap", func(t *testing.T) {
		kept := Deduplicate([]types.Issue{
			issue("grammar", 4, 6, 0.9),
			issue("style", 5, 4, 0.6),
		}, ordinals)
		require.Len(t, kept, 1)
		assert.Equal(t, 4, kept[0].Offset)
	})

	t.Run("later engine with higher confidence replaces", func(t *testing.T) {
		kept := Deduplicate([]types.Issue{
			issue("grammar", 5, 4, 0.6),
			issue("style", 4, 6, 0.9),
		}, ordinals)
		require.Len(t, kept, 1)
		assert.Equal(t, "style", kept[0].SourceEngine)
	})

	t.Run("equal confidence prefers lower ordinal", func(t *testing.T) {
		kept := Deduplicate([]types.Issue{
			issue("style", 2, 6, 0.8),
			issue("grammar", 4, 6, 0.8),
		}, ordinals)
		require.Len(t, kept, 1)
		assert.Equal(t, "grammar", kept[0].SourceEngine)
	})

	t.Run("exact duplicates collapse", func(t *testing.T) {
		a := issue("grammar", 0, 3, 0.5)
		b := a
		b.SourceEngine = "spelling"
		b.Confidence = 0.99
		kept := Deduplicate([]types.Issue{b, a}, ordinals)
		require.Len(t, kept, 1)
		assert.Equal(t, "grammar", kept[0].SourceEngine)
	})

	t.Run("disjoint issues are kept", func(t *testing.T) {
		kept := Deduplicate([]types.Issue{
			issue("grammar", 0, 3, 0.5),
			issue("style", 3, 3, 0.5),
			issue("spelling", 10, 2, 0.5),
		}, ordinals)
		assert.Len(t, kept, 3)
	})

	t.Run("result never overlaps", func(t *testing.T) {
		var in []types.Issue
		for i := 0; i < 20; i++ {
			engine := []string{"grammar", "spelling", "style"}[i%3]
			in = append(in, issue(engine, i%7, 1+i%5, float64(i%4)/4))
		}
		kept := Deduplicate(in, ordinals)
		for i := range kept {
			for j := i + 1; j < len(kept); j++ {
				assert.False(t, kept[i].Overlaps(kept[j]), "%v overlaps %v", kept[i], kept[j])
			}
		}
	})

	t.Run("independent of input order", func(t *testing.T) {
		in := []types.Issue{
			issue("style", 2, 6, 0.8),
			issue("grammar", 4, 6, 0.8),
			issue("spelling", 12, 2, 0.4),
		}
		reversed := []types.Issue{in[2], in[1], in[0]}
		assert.Equal(t, Deduplicate(in, ordinals), Deduplicate(reversed, ordinals))
	})
}

func TestSort(t *testing.T) {
	ordinals := Ordinals{"grammar": 0, "style": 1}
	issues := []types.Issue{
		{ID: "c", SourceEngine: "style", Offset: 0, Priority: 0.4},
		{ID: "b", SourceEngine: "grammar", Offset: 8, Priority: 0.9},
		{ID: "a", SourceEngine: "grammar", Offset: 2, Priority: 0.9},
	}
	Sort(issues, ordinals)
	assert.Equal(t, "a", issues[0].ID)
	assert.Equal(t, "b", issues[1].ID)
	assert.Equal(t, "c", issues[2].ID)
}

type suppressStyle struct{}

func (suppressStyle) Adjust(i types.Issue) (float64, bool) {
	if i.SourceEngine == "style" {
		return 0, false
	}
	return i.Confidence, true
}

func TestAdjust(t *testing.T) {
	in := []types.Issue{issue("grammar", 0, 2, 0.8), issue("style", 4, 2, 0.8)}

	out := Adjust(in, suppressStyle{}, func(engine string) bool { return engine == "grammar" })
	require.Len(t, out, 1)
	assert.Equal(t, "grammar", out[0].SourceEngine)
	assert.InDelta(t, 0.4, out[0].Confidence, 1e-9)
}

func TestAdjust_LeavesInputUntouched(t *testing.T) {
	in := []types.Issue{issue("style", 0, 2, 0.8), issue("grammar", 4, 2, 0.8)}

	out := Adjust(in, suppressStyle{}, func(engine string) bool { return engine == "grammar" })
	require.Len(t, out, 1)
	assert.Equal(t, "style", in[0].SourceEngine)
	assert.Equal(t, "grammar", in[1].SourceEngine)
	assert.InDelta(t, 0.8, in[1].Confidence, 1e-9)
}

func TestFinalize(t *testing.T) {
	out := Finalize([]types.Issue{
		issue("grammar", 4, 6, 0.9),
		issue("style", 5, 4, 0.6),
	}, Ordinals{"grammar": 0, "style": 1}, nil, nil)
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].Offset)
}
