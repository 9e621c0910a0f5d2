package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/option"
	googlehttptransport "google.golang.org/api/transport/http"

	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
)

// VideoGen implements ports.VideoGen against Google's long-running video
// generation operations: submit, then poll until the operation reports
// done, per spec.md §4.1 ("may internally poll; the port hides this").
// Unlike VisionLLM this does not use the genai SDK (no Go client for video
// generation is vendored by the teacher's stack); it authenticates the same
// way the teacher's google.golang.org/api-based HTTP transport does.
type VideoGen struct {
	apiKey     string
	endpoint   string
	pollEvery  time.Duration
	pollLimit  time.Duration
	httpClient *http.Client
}

func NewVideoGen(ctx context.Context, apiKey, endpoint string) (*VideoGen, error) {
	client, _, err := googlehttptransport.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google video: building transport: %w", err)
	}
	return &VideoGen{
		apiKey:     apiKey,
		endpoint:   endpoint,
		pollEvery:  3 * time.Second,
		pollLimit:  5 * time.Minute,
		httpClient: client,
	}, nil
}

type videoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		VideoURI string `json:"videoUri"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *VideoGen) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if g.apiKey == "" {
		return "", &ports.PermanentError{Code: "PROVIDER_MISCONFIGURED", Message: "google API key is required"}
	}

	op, err := g.submit(ctx, prompt)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(g.pollLimit)
	for !op.Done {
		if time.Now().After(deadline) {
			return "", &ports.TransientError{Code: "PROVIDER_TIMEOUT", Message: "google video: operation did not complete within poll budget"}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.pollEvery):
		}
		op, err = g.poll(ctx, op.Name)
		if err != nil {
			return "", err
		}
	}
	if op.Error != nil {
		return "", &ports.PermanentError{Code: "PROVIDER_ERROR", Message: "google video: " + op.Error.Message}
	}
	if op.Response.VideoURI == "" {
		return "", &ports.PermanentError{Code: "PROVIDER_ERROR", Message: "google video: completed operation had no video URI"}
	}
	return op.Response.VideoURI, nil
}

func (g *VideoGen) submit(ctx context.Context, prompt string) (*videoOperation, error) {
	body, _ := json.Marshal(map[string]any{"prompt": prompt})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req)
}

func (g *VideoGen) poll(ctx context.Context, operationName string) (*videoOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/"+operationName, nil)
	if err != nil {
		return nil, err
	}
	return g.do(req)
}

func (g *VideoGen) do(req *http.Request) (*videoOperation, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &ports.TransientError{Code: "PROVIDER_UNAVAILABLE", Message: "google video: request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &ports.TransientError{Code: "PROVIDER_UNAVAILABLE", Message: fmt.Sprintf("google video: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &ports.PermanentError{Code: "PROVIDER_ERROR", Message: fmt.Sprintf("google video: status %d", resp.StatusCode)}
	}

	var op videoOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, &ports.PermanentError{Code: "SCHEMA_VALIDATION_ERROR", Message: "google video: malformed operation response", Cause: err}
	}
	return &op, nil
}
