// Package google adapts Google's Gemini API to internal/ports.VisionLLM,
// following the client-construction and response-conversion style of
// graph/model/google.ChatModel but for multimodal (image) analysis instead
// of text chat.
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
)

// VisionLLM implements ports.VisionLLM via Gemini's multimodal input.
// ImageRef is resolved to bytes through Blobs before the call, since the
// guardrail cascade only ever holds opaque BlobStore references.
type VisionLLM struct {
	apiKey    string
	modelName string
	Blobs     ports.BlobStore
}

func NewVisionLLM(apiKey, modelName string, blobs ports.BlobStore) *VisionLLM {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &VisionLLM{apiKey: apiKey, modelName: modelName, Blobs: blobs}
}

func (m *VisionLLM) Analyze(ctx context.Context, req ports.VisionRequest) (map[string]any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if m.apiKey == "" {
		return nil, &ports.PermanentError{Code: "PROVIDER_MISCONFIGURED", Message: "google API key is required"}
	}

	data, err := m.Blobs.Get(ctx, req.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("google vision: resolving image ref %q: %w", req.ImageRef, err)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return nil, &ports.TransientError{Code: "PROVIDER_UNAVAILABLE", Message: "google: client init failed", Cause: err}
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(m.modelName)
	if req.SystemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemPrompt))
	}

	resp, err := genModel.GenerateContent(ctx, genai.ImageData(imageFormat(req.ImageRef), data), genai.Text(schemaInstruction(req.Schema)))
	if err != nil {
		return nil, classifyError(err)
	}

	text := extractText(resp)
	if text == "" {
		return nil, &ports.PermanentError{Code: "SCHEMA_VALIDATION_ERROR", Message: "google vision response had no text content"}
	}
	var structured map[string]any
	if err := ports.DecodeStructured([]byte(text), &structured); err != nil {
		return nil, err
	}
	return structured, nil
}

func imageFormat(ref string) string {
	switch {
	case strings.HasSuffix(ref, ".jpg"), strings.HasSuffix(ref, ".jpeg"):
		return "jpeg"
	case strings.HasSuffix(ref, ".webp"):
		return "webp"
	default:
		return "png"
	}
}

func schemaInstruction(schema map[string]any) string {
	return "Respond with a single JSON object matching this schema and nothing else: " + fmt.Sprintf("%v", schema)
}

func extractText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unavailable") || strings.Contains(msg, "deadline") || strings.Contains(msg, "503") {
		return &ports.TransientError{Code: "PROVIDER_UNAVAILABLE", Message: fmt.Sprintf("google: %v", err), Cause: err}
	}
	return &ports.PermanentError{Code: "PROVIDER_ERROR", Message: fmt.Sprintf("google: %v", err), Cause: err}
}
