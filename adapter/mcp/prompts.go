package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterPrompts registers prompts for common proofreading workflows.
func RegisterPrompts(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}

	srv.Prompt("proofread").
		Description("Proofread a passage: check it, explain each issue and propose a corrected version.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			return userPrompt("Proofreading Session", fmt.Sprintf(`Proofread the following text.

1. Run the check_text tool on it.
2. Group the returned issues by category and explain each one briefly.
3. Propose a corrected version, applying suggestions where they fit.
4. For every issue I accept or reject, call submit_feedback with the
   issue_id so prosecheck can learn from it.

Text:
%s`, args["text"])), nil
		})

	srv.Prompt("diagnose_engines").
		Description("Investigate failing or degraded checking engines.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			return userPrompt("Engine Diagnosis", `Some prosecheck results look incomplete. Please:

1. Read the prosecheck://health resource and list engines that are not healthy,
   with their last error and consecutive failures.
2. Call system_status and report the analysis module state and which load
   strategy served it. If the module state is failed, offer to call
   reset_module once the cause is fixed.
3. Read prosecheck://stats and point out engines with high failure counts or
   slow average durations.

Summarize the likely cause and what an operator should do next.`), nil
		})

	return nil
}

func userPrompt(description, text string) *mcp.PromptResult {
	return &mcp.PromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role: string(mcp.RoleUser),
				Content: mcp.TextContent{
					Type: "text",
					Text: text,
				},
			},
		},
	}
}
