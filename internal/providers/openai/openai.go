// Package openai adapts the OpenAI API to internal/ports (TextLLM,
// Moderation, ImageGen), following the conversion and retry style of
// graph/model/openai.ChatModel.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
)

const structuredToolName = "emit_structured_result"

// TextLLM implements ports.TextLLM against OpenAI's chat completions API,
// with the same bounded-retry-on-transient-error loop as
// graph/model/openai.ChatModel.Chat.
type TextLLM struct {
	apiKey     string
	modelName  string
	maxRetries int
	retryDelay time.Duration
}

func NewTextLLM(apiKey, modelName string) *TextLLM {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &TextLLM{apiKey: apiKey, modelName: modelName, maxRetries: 3, retryDelay: time.Second}
}

func (m *TextLLM) Complete(ctx context.Context, req ports.TextRequest) (ports.TextResponse, error) {
	if ctx.Err() != nil {
		return ports.TextResponse{}, ctx.Err()
	}
	if m.apiKey == "" {
		return ports.TextResponse{}, &ports.PermanentError{Code: "PROVIDER_MISCONFIGURED", Message: "openai API key is required"}
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var transient *ports.TransientError
		if !asTransient(err, &transient) {
			return ports.TextResponse{}, err
		}
		if attempt >= m.maxRetries {
			break
		}
		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ports.TextResponse{}, ctx.Err()
		}
	}
	return ports.TextResponse{}, &ports.PermanentError{
		Code:    "PROVIDER_RETRIES_EXHAUSTED",
		Message: fmt.Sprintf("openai: failed after %d retries", m.maxRetries),
		Cause:   lastErr,
	}
}

func (m *TextLLM) complete(ctx context.Context, req ports.TextRequest) (ports.TextResponse, error) {
	client := openaisdk.NewClient(option.WithAPIKey(m.apiKey))

	var messages []openaisdk.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(req.UserPrompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.modelName),
		Messages: messages,
	}
	if req.Schema != nil {
		params.Tools = []openaisdk.ChatCompletionToolParam{{
			Function: shared.FunctionDefinitionParam{
				Name:        structuredToolName,
				Description: openaisdk.String("Emit the final structured result. Always call this tool exactly once."),
				Parameters:  shared.FunctionParameters(req.Schema),
			},
		}}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ports.TextResponse{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return ports.TextResponse{}, &ports.PermanentError{Code: "PROVIDER_ERROR", Message: "openai: empty choices"}
	}

	msg := resp.Choices[0].Message
	out := ports.TextResponse{Text: msg.Content}

	if req.Schema != nil {
		if len(msg.ToolCalls) == 0 {
			return ports.TextResponse{}, &ports.PermanentError{Code: "SCHEMA_VALIDATION_ERROR", Message: "openai response did not include a structured tool call"}
		}
		var structured map[string]any
		if err := ports.DecodeStructured([]byte(msg.ToolCalls[0].Function.Arguments), &structured); err != nil {
			return ports.TextResponse{}, err
		}
		out.Structured = structured
	}
	return out, nil
}

// Moderation implements ports.Moderation via OpenAI's moderation endpoint.
type Moderation struct {
	apiKey string
}

func NewModeration(apiKey string) *Moderation {
	return &Moderation{apiKey: apiKey}
}

func (m *Moderation) Check(ctx context.Context, text string) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if m.apiKey == "" {
		return nil, &ports.PermanentError{Code: "PROVIDER_MISCONFIGURED", Message: "openai API key is required"}
	}

	client := openaisdk.NewClient(option.WithAPIKey(m.apiKey))
	resp, err := client.Moderations.New(ctx, openaisdk.ModerationNewParams{
		Input: openaisdk.ModerationNewParamsInputUnion{OfString: openaisdk.String(text)},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	var flagged []string
	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		cats := result.Categories
		for name, hit := range map[string]bool{
			"harassment":      cats.Harassment,
			"hate":            cats.Hate,
			"self-harm":       cats.SelfHarm,
			"sexual":          cats.Sexual,
			"sexual/minors":   cats.SexualMinors,
			"violence":        cats.Violence,
			"violence/graphic": cats.ViolenceGraphic,
		} {
			if hit {
				flagged = append(flagged, name)
			}
		}
	}
	return flagged, nil
}

// ImageGen implements ports.ImageGen via OpenAI's image generation endpoint.
type ImageGen struct {
	apiKey    string
	modelName string
}

func NewImageGen(apiKey, modelName string) *ImageGen {
	if modelName == "" {
		modelName = "dall-e-3"
	}
	return &ImageGen{apiKey: apiKey, modelName: modelName}
}

func (g *ImageGen) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if g.apiKey == "" {
		return "", &ports.PermanentError{Code: "PROVIDER_MISCONFIGURED", Message: "openai API key is required"}
	}

	client := openaisdk.NewClient(option.WithAPIKey(g.apiKey))
	resp, err := client.Images.Generate(ctx, openaisdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  openaisdk.ImageModel(g.modelName),
		N:      openaisdk.Int(1),
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &ports.PermanentError{Code: "PROVIDER_ERROR", Message: "openai: image generation returned no data"}
	}
	return resp.Data[0].URL, nil
}

func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate_limit") || strings.Contains(msg, "timeout") || strings.Contains(msg, "503") || strings.Contains(msg, "502") || strings.Contains(msg, "500") {
		return &ports.TransientError{Code: "PROVIDER_UNAVAILABLE", Message: fmt.Sprintf("openai: %v", err), Cause: err}
	}
	return &ports.PermanentError{Code: "PROVIDER_ERROR", Message: fmt.Sprintf("openai: %v", err), Cause: err}
}

func asTransient(err error, target **ports.TransientError) bool {
	if te, ok := err.(*ports.TransientError); ok {
		*target = te
		return true
	}
	return false
}
