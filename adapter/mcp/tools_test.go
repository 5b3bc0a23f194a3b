package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/adapter/cli"
	"github.com/felixgeelhaar/prosecheck/internal/app"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
	"github.com/felixgeelhaar/prosecheck/pkg/config"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

func newTestApp(t *testing.T) *cli.App {
	t.Helper()
	c, err := app.NewContainer(context.Background(), &config.Config{
		AppEnv:                  "development",
		SelfTestPolicy:          "warn",
		CacheTTL:                time.Minute,
		CacheFastCapacity:       10,
		CachePromotionThreshold: 2,
		HealthFailingThreshold:  3,
		CheckTimeout:            5 * time.Second,
		FeedbackCapacity:        100,
		FeedbackCycleThreshold:  50,
		FeedbackLearningRate:    0.1,
		FeedbackAutoLearn:       true,
	}, observability.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return cli.NewApp(c)
}

func TestRegisterTools_ListTools(t *testing.T) {
	srv := mcp.NewServer(mcp.ServerInfo{
		Name:    "test",
		Version: "1.0.0",
		Capabilities: mcp.Capabilities{
			Tools: true,
		},
	})

	require.NoError(t, RegisterTools(srv, ToolDependencies{App: &cli.App{}}))

	tc := testutil.NewTestClient(t, srv)
	defer tc.Close()

	tools, err := tc.ListTools()
	require.NoError(t, err)

	names := make([]any, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool["name"])
	}
	assert.ElementsMatch(t, []any{"check_text", "health_report", "reset_module", "system_status", "submit_feedback"}, names)
}

func TestRegister_RequiresDependencies(t *testing.T) {
	srv := mcp.NewServer(mcp.ServerInfo{Name: "test", Version: "1.0.0"})

	assert.Error(t, RegisterTools(nil, ToolDependencies{App: &cli.App{}}))
	assert.Error(t, RegisterTools(srv, ToolDependencies{}))
	assert.Error(t, RegisterResources(srv, ToolDependencies{App: &cli.App{}}))
	assert.Error(t, RegisterPrompts(nil, ToolDependencies{}))
}

func TestCheckTextInput_Options(t *testing.T) {
	opts, err := checkTextInput{
		Categories:      []string{"Spelling", " style "},
		DisabledEngines: []string{"assistant"},
		Language:        "en-US",
	}.options()
	require.NoError(t, err)
	assert.Equal(t, []types.Category{types.CategorySpelling, types.CategoryStyle}, opts.Categories)
	assert.Equal(t, map[string]bool{"assistant": false}, opts.Engines)
	assert.Equal(t, "en-US", opts.Language)

	_, err = checkTextInput{Categories: []string{"tone"}}.options()
	assert.Error(t, err)
}

func TestFindIssue(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	text := "I recieve the mail every day."

	res, err := a.Checker.Check(ctx, text, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Issues)
	want := res.Issues[0]

	got, err := findIssue(ctx, a, text, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = findIssue(ctx, a, text, "missing")
	assert.ErrorContains(t, err, "not found")
}
