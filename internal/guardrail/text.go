// Package guardrail implements the multi-layer content-safety cascade (C9):
// moderation (L0), PII detection (L1), and structured age-aware LLM analysis
// (L2) for story text and media prompts, plus a single-stage vision cascade
// for generated images with a one-shot regenerate-and-recheck retry.
package guardrail

import (
	"context"
	"fmt"

	"github.com/kanavkalra-in/kids-story-agent/internal/config"
	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// textAnalysisSchema is the L2 structured-output contract every TextLLM
// adapter must honor for guardrail calls (spec.md §4.8).
var textAnalysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"violence_severity":  map[string]any{"type": "number"},
		"fear_intensity":     map[string]any{"type": "number"},
		"brand_mentions":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"political_detected": map[string]any{"type": "boolean"},
		"religious_detected": map[string]any{"type": "boolean"},
		"explanation":        map[string]any{"type": "string"},
	},
	"required": []string{"violence_severity", "fear_intensity", "brand_mentions", "political_detected", "religious_detected"},
}

type textAnalysis struct {
	ViolenceSeverity  float64  `json:"violence_severity"`
	FearIntensity     float64  `json:"fear_intensity"`
	BrandMentions     []string `json:"brand_mentions"`
	PoliticalDetected bool     `json:"political_detected"`
	ReligiousDetected bool     `json:"religious_detected"`
	Explanation       string   `json:"explanation"`
}

// TextCascade runs the three text layers against one piece of content
// (story text, or a single image/video prompt). source identifies which
// field produced the violations (e.g. "story_text", "image_prompt[2]") and
// is attached to every Violation for the review payload.
type TextCascade struct {
	Moderation ports.Moderation
	Pii        ports.PiiDetector
	TextLLM    ports.TextLLM
	Config     config.Config
}

// Run executes L0 -> L1 -> L2 in order. Unlike image/video generation,
// guardrail analysis is read-only and never retried by this cascade itself;
// a TransientError from a port bubbles up for the node's own retry policy
// to handle.
func (c TextCascade) Run(ctx context.Context, age workflowstate.AgeGroup, text, source string) ([]workflowstate.Violation, error) {
	var violations []workflowstate.Violation

	categories, err := c.Moderation.Check(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("guardrail: moderation check failed for %s: %w", source, err)
	}
	for _, cat := range categories {
		violations = append(violations, workflowstate.Violation{
			Severity: workflowstate.SeverityHard,
			Category: "moderation:" + cat,
			Detail:   fmt.Sprintf("moderation provider flagged category %q", cat),
			Source:   source,
		})
	}

	hits, err := c.Pii.Detect(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("guardrail: pii detection failed for %s: %w", source, err)
	}
	for _, h := range hits {
		violations = append(violations, workflowstate.Violation{
			Severity: workflowstate.SeverityHard,
			Category: "pii:" + h.Kind,
			Detail:   "detected personally identifiable information",
			Source:   source,
		})
	}

	resp, err := c.TextLLM.Complete(ctx, ports.TextRequest{
		SystemPrompt: "You are a children's content safety classifier. Return only the requested JSON fields.",
		UserPrompt:   text,
		Schema:       textAnalysisSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("guardrail: text analysis failed for %s: %w", source, err)
	}

	var analysis textAnalysis
	raw, err := structuredToJSON(resp.Structured)
	if err != nil {
		return nil, &ports.PermanentError{Code: "SCHEMA_VALIDATION_ERROR", Message: "could not re-encode structured guardrail response", Cause: err}
	}
	if err := ports.DecodeStructured(raw, &analysis); err != nil {
		return nil, err
	}

	fearThreshold := c.Config.FearThresholdByAge[age]
	violenceThreshold := c.Config.ViolenceHardThresholdByAge[age]

	if analysis.ViolenceSeverity >= violenceThreshold {
		violations = append(violations, workflowstate.Violation{
			Severity: workflowstate.SeverityHard,
			Category: "violence",
			Detail:   fmt.Sprintf("violence_severity %.2f >= age threshold %.2f: %s", analysis.ViolenceSeverity, violenceThreshold, analysis.Explanation),
			Source:   source,
		})
	}
	if analysis.FearIntensity >= fearThreshold {
		violations = append(violations, workflowstate.Violation{
			Severity: workflowstate.SeveritySoft,
			Category: "fear",
			Detail:   fmt.Sprintf("fear_intensity %.2f >= age threshold %.2f: %s", analysis.FearIntensity, fearThreshold, analysis.Explanation),
			Source:   source,
		})
	}
	for _, brand := range analysis.BrandMentions {
		violations = append(violations, workflowstate.Violation{
			Severity: workflowstate.SeveritySoft,
			Category: "brand_mention",
			Detail:   brand,
			Source:   source,
		})
	}
	if analysis.PoliticalDetected {
		violations = append(violations, workflowstate.Violation{
			Severity: workflowstate.SeverityHard,
			Category: "political",
			Detail:   analysis.Explanation,
			Source:   source,
		})
	}
	if analysis.ReligiousDetected {
		violations = append(violations, workflowstate.Violation{
			Severity: workflowstate.SeveritySoft,
			Category: "religious",
			Detail:   analysis.Explanation,
			Source:   source,
		})
	}

	return violations, nil
}
