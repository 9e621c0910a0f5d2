// Package ports declares the abstract external capabilities the workflow
// engine depends on (spec.md §4.1, C1). Nodes only ever see these
// interfaces; concrete transport (HTTP, gRPC, SDK client) lives in
// internal/providers. Retry/backoff for provider calls lives mainly in the
// adapter layer around each port, not in node handlers; the executor also
// retries a node whose graph entry carries a RetryPolicy (the raw media
// generation nodes in internal/workflow).
package ports

import "context"

// TextLLM produces free text or, when schema is non-nil, a structured
// value validated against it. A non-nil schema return that fails
// validation is a PermanentError (spec.md §7).
type TextLLM interface {
	Complete(ctx context.Context, req TextRequest) (TextResponse, error)
}

// TextRequest is one TextLLM invocation.
type TextRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Schema, if non-nil, forces the provider to return JSON validating
	// against it (implemented via tool-forced structured output on the
	// concrete provider adapters). Nil means "return free text".
	Schema map[string]any
}

// TextResponse is the result of a TextLLM call. Exactly one of Text or
// Structured is populated, depending on whether Schema was set.
type TextResponse struct {
	Text       string
	Structured map[string]any
}

// VisionLLM analyzes an image and returns a structured value.
type VisionLLM interface {
	Analyze(ctx context.Context, req VisionRequest) (map[string]any, error)
}

// VisionRequest is one VisionLLM invocation.
type VisionRequest struct {
	ImageRef     string
	SystemPrompt string
	Schema       map[string]any
}

// ImageGen produces an image from a text prompt.
type ImageGen interface {
	Generate(ctx context.Context, prompt string) (ImageRef string, err error)
}

// VideoGen produces a video from a text prompt. Implementations may poll
// an asynchronous provider job internally; the port hides that detail.
type VideoGen interface {
	Generate(ctx context.Context, prompt string) (videoRef string, err error)
}

// Moderation flags policy-violating categories in text.
type Moderation interface {
	Check(ctx context.Context, text string) ([]string, error)
}

// PiiDetector deterministically finds personally identifiable
// information in text.
type PiiDetector interface {
	Detect(ctx context.Context, text string) ([]PiiHit, error)
}

// PiiHit is one detected PII span.
type PiiHit struct {
	Kind  string
	Value string
}

// BlobStore stores and retrieves opaque references (generated media,
// review snapshots).
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
