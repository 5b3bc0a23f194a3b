// Package mcp exposes prosecheck to MCP clients.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/mcp-go"

	"github.com/felixgeelhaar/prosecheck/adapter/cli"
	"github.com/felixgeelhaar/prosecheck/internal/checker/health"
	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/internal/checker/service"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
	"github.com/felixgeelhaar/prosecheck/internal/feedback"
)

// ToolDependencies provides the services behind MCP tools.
type ToolDependencies struct {
	App *cli.App
}

type checkTextInput struct {
	Text            string   `json:"text" jsonschema:"required"`
	Categories      []string `json:"categories,omitempty"`
	DisabledEngines []string `json:"disabled_engines,omitempty"`
	Language        string   `json:"language,omitempty"`
	StrictMode      bool     `json:"strict_mode,omitempty"`
}

type emptyInput struct{}

type submitFeedbackInput struct {
	Text        string `json:"text" jsonschema:"required"`
	IssueID     string `json:"issue_id" jsonschema:"required"`
	Action      string `json:"action" jsonschema:"required"`
	Replacement string `json:"replacement,omitempty"`
}

// RegisterTools registers the checking and feedback tools.
func RegisterTools(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}
	if deps.App == nil {
		return errors.New("app is required")
	}
	app := deps.App

	srv.Tool("check_text").
		Description("Check text for grammar, spelling, style, punctuation and clarity issues. Returns issues ordered by position with suggestions.").
		Handler(func(ctx context.Context, input checkTextInput) (*types.CheckResult, error) {
			if app.Checker == nil {
				return nil, errors.New("checker is not available")
			}
			opts, err := input.options()
			if err != nil {
				return nil, err
			}
			return app.Checker.Check(ctx, input.Text, opts)
		})

	srv.Tool("health_report").
		Description("Report per-engine health, failing engines and recommendations").
		Handler(func(ctx context.Context, _ emptyInput) (health.Report, error) {
			if app.Checker == nil {
				return health.Report{}, errors.New("checker is not available")
			}
			return app.Checker.GetHealthReport(), nil
		})

	srv.Tool("reset_module").
		Description("Discard the analysis module, including a failed load, and load it again. Returns the loader status").
		Handler(func(ctx context.Context, _ emptyInput) (module.LoadStatus, error) {
			if app.Checker == nil {
				return module.LoadStatus{}, errors.New("checker is not available")
			}
			status, err := app.Checker.ResetModule(ctx)
			if err != nil {
				return status, fmt.Errorf("reload module: %w", err)
			}
			return status, nil
		})

	srv.Tool("system_status").
		Description("Report registered engines, analysis module state and cache configuration").
		Handler(func(ctx context.Context, _ emptyInput) (service.SystemStatus, error) {
			if app.Checker == nil {
				return service.SystemStatus{}, errors.New("checker is not available")
			}
			return app.Checker.GetSystemStatus(ctx), nil
		})

	srv.Tool("submit_feedback").
		Description("Record how the user reacted to an issue returned by check_text: accepted, rejected, modified (with replacement) or ignored").
		Handler(func(ctx context.Context, input submitFeedbackInput) (*feedback.Record, error) {
			if app.Checker == nil || app.Feedback == nil {
				return nil, errors.New("feedback is not available")
			}
			action, err := feedback.ParseAction(input.Action)
			if err != nil {
				return nil, err
			}
			issue, err := findIssue(ctx, app, input.Text, input.IssueID)
			if err != nil {
				return nil, err
			}
			return app.Feedback.ProcessFeedback(ctx, feedback.Submission{
				Issue:  issue,
				Action: action,
				Context: feedback.SubmissionContext{
					Text:        input.Text,
					Replacement: input.Replacement,
					Timestamp:   time.Now(),
				},
			})
		})

	return nil
}

func (in checkTextInput) options() (*types.Options, error) {
	opts := &types.Options{Language: in.Language, StrictMode: in.StrictMode}
	for _, name := range in.Categories {
		c, err := types.ParseCategory(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}
		opts.Categories = append(opts.Categories, c)
	}
	if len(in.DisabledEngines) > 0 {
		opts.Engines = map[string]bool{}
		for _, name := range in.DisabledEngines {
			opts.Engines[name] = false
		}
	}
	return opts, nil
}

// findIssue re-checks text and returns the issue with id. Issue IDs are
// stable for the same engine, span and rule.
func findIssue(ctx context.Context, app *cli.App, text, id string) (types.Issue, error) {
	result, err := app.Checker.Check(ctx, text, nil)
	if err != nil {
		return types.Issue{}, err
	}
	for _, issue := range result.Issues {
		if issue.ID == id {
			return issue, nil
		}
	}
	return types.Issue{}, fmt.Errorf("issue %q not found in text", id)
}
