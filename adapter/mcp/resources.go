package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterResources registers read-only views of service state.
func RegisterResources(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}
	app := deps.App
	if app == nil || app.Checker == nil {
		return errors.New("checker is required")
	}

	srv.Resource("prosecheck://health").
		Name("Engine Health").
		Description("Per-engine health records and the overall status").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			return jsonResource(uri, app.Checker.GetHealthReport())
		})

	srv.Resource("prosecheck://stats").
		Name("Statistics").
		Description("Check counters, cache statistics and engine timings").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			return jsonResource(uri, app.Checker.GetStats(ctx))
		})

	if app.Learner != nil {
		srv.Resource("prosecheck://feedback/rules").
			Name("Learned Rules").
			Description("Rules mined from feedback and their rollout stage").
			MimeType("application/json").
			Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
				return jsonResource(uri, app.Learner.Status())
			})
	}
	return nil
}

func jsonResource(uri string, v any) (*mcp.ResourceContent, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ResourceContent{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(data),
	}, nil
}
