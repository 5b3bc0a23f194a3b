package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// AssistantName is the registered name of the LLM assistant engine.
const AssistantName = "assistant"

// DefaultAssistantModel is used when no model is configured.
const DefaultAssistantModel = "claude-3-5-haiku-latest"

// Completer sends one prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicCompleter is a Completer backed by the Anthropic Messages API.
type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicCompleter creates a completer. Extra request options, such as a
// base URL, are passed to the client.
func NewAnthropicCompleter(apiKey, model string, opts ...option.RequestOption) *AnthropicCompleter {
	if model == "" {
		model = DefaultAssistantModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicCompleter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
	}
}

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// Assistant asks a language model for clarity and style problems.
type Assistant struct {
	completer Completer
}

// NewAssistant creates the assistant engine.
func NewAssistant(completer Completer) *Assistant {
	return &Assistant{completer: completer}
}

// Name implements sdk.Checker.
func (a *Assistant) Name() string { return AssistantName }

// Categories implements sdk.Checker.
func (a *Assistant) Categories() []types.Category {
	return []types.Category{types.CategoryClarity, types.CategoryStyle}
}

type assistantReply struct {
	Issues []struct {
		Quote       string  `json:"quote"`
		Occurrence  int     `json:"occurrence"`
		Explanation string  `json:"explanation"`
		Replacement string  `json:"replacement"`
		Category    string  `json:"category"`
		Confidence  float64 `json:"confidence"`
	} `json:"issues"`
}

// Check implements sdk.Checker.
func (a *Assistant) Check(ctx context.Context, text string) ([]types.Finding, error) {
	reply, err := a.completer.Complete(ctx, assistantPrompt(text))
	if err != nil {
		return nil, err
	}
	parsed, err := parseAssistantReply(reply)
	if err != nil {
		return nil, err
	}

	findings := make([]types.Finding, 0, len(parsed.Issues))
	for _, issue := range parsed.Issues {
		if issue.Quote == "" {
			continue
		}
		category := types.Category(strings.ToLower(issue.Category))
		if category != types.CategoryStyle {
			category = types.CategoryClarity
		}
		findings = append(findings, types.QuoteFinding{
			Quote:       issue.Quote,
			Occurrence:  issue.Occurrence,
			Explanation: issue.Explanation,
			Replacement: issue.Replacement,
			Category:    category,
			Confidence:  issue.Confidence,
		})
	}
	return findings, nil
}

func assistantPrompt(text string) string {
	return `You review English prose for clarity and style problems only. Ignore spelling and grammar.
Reply with JSON and nothing else, in this shape:
{"issues":[{"quote":"exact text from the input","occurrence":0,"explanation":"why it is unclear","replacement":"better wording","category":"clarity","confidence":0.7}]}
"occurrence" is the zero-based index of the quote when the same text appears more than once.
Reply {"issues":[]} if there is nothing to report.

Text:
<<<
` + text + `
>>>`
}

// parseAssistantReply decodes the model reply, tolerating code fences and
// surrounding prose.
func parseAssistantReply(reply string) (assistantReply, error) {
	var parsed assistantReply
	body := strings.TrimSpace(reply)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return parsed, fmt.Errorf("parse assistant reply: %w", err)
	}
	return parsed, nil
}
