package guardrail

import (
	"context"
	"fmt"

	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

var visionAnalysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"nsfw":            map[string]any{"type": "number"},
		"weapon":          map[string]any{"type": "number"},
		"realistic_child": map[string]any{"type": "number"},
		"horror_elements": map[string]any{"type": "number"},
		"explanation":     map[string]any{"type": "string"},
	},
	"required": []string{"nsfw", "weapon", "realistic_child", "horror_elements"},
}

type visionAnalysis struct {
	NSFW           float64 `json:"nsfw"`
	Weapon         float64 `json:"weapon"`
	RealisticChild float64 `json:"realistic_child"`
	HorrorElements float64 `json:"horror_elements"`
	Explanation    string  `json:"explanation"`
}

// hardVisionThreshold is the single confidence threshold at or above which a
// vision-cascade dimension is a hard violation. Unlike the text cascade the
// vision schema has no age-bucketed tuning (spec.md §4.8): it is a single
// pass/fail gate regardless of age group.
const hardVisionThreshold = 0.5

// ImageCascade analyzes one generated image and, on a hard violation,
// regenerates the image exactly once and re-analyzes it. A second hard
// violation is a PermanentError (spec.md §4.8, §7) — the node must not
// retry again.
type ImageCascade struct {
	Vision ports.VisionLLM
	Gen    ports.ImageGen
}

// ImageResult carries the final accepted binding plus the full violation
// history (both attempts, if a retry happened) and whether the image was
// regenerated.
type ImageResult struct {
	URL         string
	Regenerated bool
	Violations  []workflowstate.Violation
}

func (c ImageCascade) Run(ctx context.Context, index int, prompt, initialURL string) (ImageResult, error) {
	url := initialURL
	violations, err := c.analyze(ctx, index, url, false)
	if err != nil {
		return ImageResult{}, err
	}
	if !hasHard(violations) {
		return ImageResult{URL: url, Violations: violations}, nil
	}

	newURL, err := c.Gen.Generate(ctx, prompt)
	if err != nil {
		return ImageResult{}, fmt.Errorf("guardrail: image regeneration failed for index %d: %w", index, err)
	}
	retryViolations, err := c.analyze(ctx, index, newURL, true)
	if err != nil {
		return ImageResult{}, err
	}
	if hasHard(retryViolations) {
		return ImageResult{}, &ports.PermanentError{
			Code:    "GUARDRAIL_EXHAUSTED",
			Message: fmt.Sprintf("image index %d failed guardrail after one regeneration retry", index),
		}
	}

	superseded := make([]workflowstate.Violation, len(violations))
	for i, v := range violations {
		v.Superseded = true
		superseded[i] = v
	}
	all := append(superseded, retryViolations...)
	return ImageResult{URL: newURL, Regenerated: true, Violations: all}, nil
}

func (c ImageCascade) analyze(ctx context.Context, index int, url string, retry bool) ([]workflowstate.Violation, error) {
	result, err := c.Vision.Analyze(ctx, ports.VisionRequest{
		ImageRef:     url,
		SystemPrompt: "You are a children's content safety classifier for generated illustrations. Return only the requested JSON fields.",
		Schema:       visionAnalysisSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("guardrail: vision analysis failed for index %d: %w", index, err)
	}

	raw, err := structuredToJSON(result)
	if err != nil {
		return nil, &ports.PermanentError{Code: "SCHEMA_VALIDATION_ERROR", Message: "could not re-encode vision guardrail response", Cause: err}
	}
	var analysis visionAnalysis
	if err := ports.DecodeStructured(raw, &analysis); err != nil {
		return nil, err
	}

	source := fmt.Sprintf("image[%d]", index)
	i := index
	dims := []struct {
		name  string
		score float64
	}{
		{"nsfw", analysis.NSFW},
		{"weapon", analysis.Weapon},
		{"realistic_child", analysis.RealisticChild},
		{"horror_elements", analysis.HorrorElements},
	}

	var violations []workflowstate.Violation
	for _, d := range dims {
		if d.score >= hardVisionThreshold {
			detail := analysis.Explanation
			if retry {
				detail = "retry attempt: " + detail
			}
			violations = append(violations, workflowstate.Violation{
				Severity:   workflowstate.SeverityHard,
				Category:   "vision:" + d.name,
				Detail:     fmt.Sprintf("%s score %.2f >= %.2f: %s", d.name, d.score, hardVisionThreshold, detail),
				Source:     source,
				MediaIndex: &i,
			})
		}
	}
	return violations, nil
}

func hasHard(vs []workflowstate.Violation) bool {
	for _, v := range vs {
		if v.Severity == workflowstate.SeverityHard {
			return true
		}
	}
	return false
}
