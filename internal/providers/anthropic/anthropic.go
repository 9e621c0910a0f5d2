// Package anthropic adapts Anthropic's Claude API to internal/ports.TextLLM,
// following the message/tool conversion style of
// graph/model/anthropic.ChatModel but targeting the story-agent's port
// contracts instead of the generic model.ChatModel interface.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
)

// structuredToolName is the single tool Claude is asked to call when a
// TextRequest carries a Schema. Forcing structured output through a
// function-call response (rather than parsing free text) is the same
// technique graph/model/anthropic uses for ToolSpec/ToolCall; here there is
// exactly one tool, and the system prompt instructs the model to always
// call it.
const structuredToolName = "emit_structured_result"

// TextLLM implements ports.TextLLM against the Anthropic Messages API.
type TextLLM struct {
	apiKey    string
	modelName string
}

// NewTextLLM builds an Anthropic-backed TextLLM. An empty modelName uses
// the same default as the teacher's graph/model/anthropic adapter.
func NewTextLLM(apiKey, modelName string) *TextLLM {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &TextLLM{apiKey: apiKey, modelName: modelName}
}

func (m *TextLLM) Complete(ctx context.Context, req ports.TextRequest) (ports.TextResponse, error) {
	if ctx.Err() != nil {
		return ports.TextResponse{}, ctx.Err()
	}
	if m.apiKey == "" {
		return ports.TextResponse{}, &ports.PermanentError{Code: "PROVIDER_MISCONFIGURED", Message: "anthropic API key is required"}
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(m.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.modelName),
		MaxTokens: 4096,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Schema != nil {
		params.Tools = []anthropicsdk.ToolUnionParam{
			{
				OfTool: &anthropicsdk.ToolParam{
					Name:        structuredToolName,
					Description: anthropicsdk.String("Emit the final structured result. Always call this tool exactly once."),
					InputSchema: schemaToInputSchema(req.Schema),
				},
			},
		}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return ports.TextResponse{}, classifyError(err)
	}

	out := ports.TextResponse{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			if b.Name == structuredToolName {
				if m, ok := b.Input.(map[string]interface{}); ok {
					out.Structured = m
				}
			}
		}
	}

	if req.Schema != nil && out.Structured == nil {
		return ports.TextResponse{}, &ports.PermanentError{
			Code:    "SCHEMA_VALIDATION_ERROR",
			Message: "anthropic response did not include a structured tool call",
		}
	}
	return out, nil
}

func schemaToInputSchema(schema map[string]any) anthropicsdk.ToolInputSchemaParam {
	var properties any
	var required []string
	if props, ok := schema["properties"]; ok {
		properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required}
}

// classifyError maps Anthropic SDK failures to the ports transient/permanent
// split: rate limits and server overload are transient, everything else
// (auth, malformed request) is permanent.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate_limit") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "503") || strings.Contains(msg, "529") {
		return &ports.TransientError{Code: "PROVIDER_UNAVAILABLE", Message: fmt.Sprintf("anthropic: %v", err), Cause: err}
	}
	return &ports.PermanentError{Code: "PROVIDER_ERROR", Message: fmt.Sprintf("anthropic: %v", err), Cause: err}
}
