package workflow

import (
	"context"
	"fmt"

	"github.com/kanavkalra-in/kids-story-agent/graph"
	"github.com/kanavkalra-in/kids-story-agent/internal/engine"
	"github.com/kanavkalra-in/kids-story-agent/internal/guardrail"
	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
	"github.com/kanavkalra-in/kids-story-agent/internal/review"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

type nodeResult = graph.NodeResult[workflowstate.State]

var promptListSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prompts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"prompts"},
}

type promptListResponse struct {
	Prompts []string `json:"prompts"`
}

var evaluationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"moral":       map[string]any{"type": "integer"},
		"theme":       map[string]any{"type": "integer"},
		"emotional":   map[string]any{"type": "integer"},
		"age":         map[string]any{"type": "integer"},
		"educational": map[string]any{"type": "integer"},
	},
	"required": []string{"moral", "theme", "emotional", "age", "educational"},
}

// InputModerator runs text-cascade L0 (moderation only, spec.md §4.9 step
// 1) on the raw submission prompt, before any story content is written.
func InputModerator(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		categories, err := d.InputModeration.Check(ctx, s.Prompt)
		if err != nil {
			return nodeResult{Err: fmt.Errorf("input_moderator: %w", err)}
		}
		if len(categories) == 0 {
			return nodeResult{
				Delta: workflowstate.State{JobStatus: workflowstate.JobRunning},
				Route: graph.Goto(NodeStoryWriter),
			}
		}

		violations := make([]workflowstate.Violation, 0, len(categories))
		for _, c := range categories {
			violations = append(violations, workflowstate.Violation{
				Severity: workflowstate.SeverityHard,
				Category: c,
				Detail:   "flagged by input moderation",
				Source:   "input_prompt",
			})
		}
		return nodeResult{
			Delta: workflowstate.State{
				JobStatus:           workflowstate.JobAutoRejected,
				GuardrailViolations: violations,
				HardViolations:      violations,
			},
			Route: graph.Goto(NodeMarkAutoRejected),
		}
	}
}

// StoryWriter produces the story text and title, then fans out (in
// parallel) to the image and video prompters (spec.md §4.9 step 2).
func StoryWriter(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		resp, err := d.StoryLLM.Complete(ctx, ports.TextRequest{
			SystemPrompt: "You write gentle, age-appropriate children's stories.",
			UserPrompt:   s.Prompt,
		})
		if err != nil {
			return nodeResult{Err: fmt.Errorf("story_writer: %w", err)}
		}
		title, text := splitTitleAndText(resp.Text)
		return nodeResult{
			Delta: workflowstate.State{StoryText: text, StoryTitle: title},
			Route: graph.Next{Many: []string{NodeImagePrompter, NodeVideoPrompter}},
		}
	}
}

// ImagePrompter produces NumIllustrations image prompts and dynamically
// fans out one generate_single_image dispatch unit per prompt, while also
// seeding assembler (a fan-in join gated on both media generators having
// completed — spec.md §4.9 steps 3-5).
func ImagePrompter(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		return mediaPrompter(ctx, d, d.PromptLLM, s, s.NumIllustrations, workflowstate.DispatchKindImage, NodeGenerateSingleImage,
			"Write vivid, child-safe illustration prompts for this story, one per requested image.",
			func(prompts []workflowstate.MediaPrompt) workflowstate.State {
				return workflowstate.State{ImagePrompts: prompts}
			},
		)
	}
}

// VideoPrompter mirrors ImagePrompter for NumVideos / generate_single_video.
func VideoPrompter(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		return mediaPrompter(ctx, d, d.PromptLLM, s, s.NumVideos, workflowstate.DispatchKindVideo, NodeGenerateSingleVideo,
			"Write short, child-safe video scene prompts for this story, one per requested video.",
			func(prompts []workflowstate.MediaPrompt) workflowstate.State {
				return workflowstate.State{VideoPrompts: prompts}
			},
		)
	}
}

func mediaPrompter(
	ctx context.Context,
	d Deps,
	llm ports.TextLLM,
	s workflowstate.State,
	count int,
	kind string,
	target string,
	systemPrompt string,
	toDelta func([]workflowstate.MediaPrompt) workflowstate.State,
) nodeResult {
	if count <= 0 {
		return nodeResult{
			Route: graph.Next{
				Many:               []string{NodeAssembler},
				EmptyFanOutTargets: []string{target},
			},
		}
	}

	resp, err := llm.Complete(ctx, ports.TextRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   s.StoryText,
		Schema:       promptListSchema,
	})
	if err != nil {
		return nodeResult{Err: fmt.Errorf("media prompter: %w", err)}
	}
	texts := resp.Structured["prompts"]
	list, _ := texts.([]any)

	prompts := make([]workflowstate.MediaPrompt, 0, count)
	units := make([]graph.FanOutUnit[workflowstate.State], 0, count)
	for i := 0; i < count; i++ {
		text := fmt.Sprintf("%s (illustration %d)", s.StoryTitle, i+1)
		if i < len(list) {
			if str, ok := list[i].(string); ok && str != "" {
				text = str
			}
		}
		prompts = append(prompts, workflowstate.MediaPrompt{Index: i, Text: text})

		unitState := s
		unitState.Dispatch = &workflowstate.DispatchOverlay{Index: i, Prompt: text, Kind: kind}
		units = append(units, graph.FanOutUnit[workflowstate.State]{Target: target, State: unitState})
	}

	return nodeResult{
		Delta: toDelta(prompts),
		Route: graph.Next{
			FanOut: units,
			Many:   []string{NodeAssembler},
		},
	}
}

// GenerateSingleImage is one generate_single_image dispatch unit: raw
// media generation only, no guardrail checking (that happens later, in
// image_guardrail_with_retry — spec.md §4.9 step 4).
func GenerateSingleImage(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		if s.Dispatch == nil {
			return nodeResult{Err: fmt.Errorf("generate_single_image: invoked without a dispatch overlay")}
		}
		url, err := d.ImageGen.Generate(ctx, s.Dispatch.Prompt)
		if err != nil {
			return nodeResult{Err: fmt.Errorf("generate_single_image[%d]: %w", s.Dispatch.Index, err)}
		}
		idx := s.Dispatch.Index
		return nodeResult{
			Delta: workflowstate.State{
				ImageURLs:     []workflowstate.MediaBinding{{Index: idx, URL: url}},
				ImageMetadata: []workflowstate.MediaMetadata{{Index: idx, Provider: "imagegen"}},
			},
			Route: graph.Stop(),
		}
	}
}

// GenerateSingleVideo mirrors GenerateSingleImage for videos.
func GenerateSingleVideo(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		if s.Dispatch == nil {
			return nodeResult{Err: fmt.Errorf("generate_single_video: invoked without a dispatch overlay")}
		}
		url, err := d.VideoGen.Generate(ctx, s.Dispatch.Prompt)
		if err != nil {
			return nodeResult{Err: fmt.Errorf("generate_single_video[%d]: %w", s.Dispatch.Index, err)}
		}
		idx := s.Dispatch.Index
		return nodeResult{
			Delta: workflowstate.State{
				VideoURLs:     []workflowstate.MediaBinding{{Index: idx, URL: url}},
				VideoMetadata: []workflowstate.MediaMetadata{{Index: idx, Provider: "videogen"}},
			},
			Route: graph.Stop(),
		}
	}
}

// Assembler is the fan-in of both media generators (spec.md §4.9 step 5):
// it persists an audit snapshot via BlobStore, then fans out to the
// evaluation+guardrail cluster — one dynamic unit per image/video plus the
// two static evaluator/guardrail siblings — and seeds guardrail_aggregator.
func Assembler(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		images := workflowstate.FinalMediaBindings(s.ImageURLs)
		videos := workflowstate.FinalMediaBindings(s.VideoURLs)

		snapshot := fmt.Sprintf("title=%s\nstory=%s\nimages=%d\nvideos=%d", s.StoryTitle, s.StoryText, len(images), len(videos))
		if _, err := d.Blobs.Put(ctx, s.JobID+"/assembled", []byte(snapshot)); err != nil {
			return nodeResult{Err: fmt.Errorf("assembler: persisting snapshot: %w", err)}
		}

		var units []graph.FanOutUnit[workflowstate.State]
		var empty []string

		if len(images) == 0 {
			empty = append(empty, NodeImageGuardrailWithRetry)
		}
		for _, b := range images {
			prompt, _ := workflowstate.PromptByIndex(s.ImagePrompts, b.Index)
			unitState := s
			unitState.Dispatch = &workflowstate.DispatchOverlay{Index: b.Index, Prompt: prompt.Text, SourceURL: b.URL, Kind: workflowstate.DispatchKindImage}
			units = append(units, graph.FanOutUnit[workflowstate.State]{Target: NodeImageGuardrailWithRetry, State: unitState})
		}

		if len(videos) == 0 {
			empty = append(empty, NodeVideoGuardrailWithRetry)
		}
		for _, b := range videos {
			prompt, _ := workflowstate.PromptByIndex(s.VideoPrompts, b.Index)
			unitState := s
			unitState.Dispatch = &workflowstate.DispatchOverlay{Index: b.Index, Prompt: prompt.Text, SourceURL: b.URL, Kind: workflowstate.DispatchKindVideo}
			units = append(units, graph.FanOutUnit[workflowstate.State]{Target: NodeVideoGuardrailWithRetry, State: unitState})
		}

		return nodeResult{
			Route: graph.Next{
				FanOut:             units,
				Many:               []string{NodeStoryEvaluator, NodeStoryGuardrail},
				EmptyFanOutTargets: empty,
			},
		}
	}
}

// StoryEvaluator scores the finished story against the five dimensions
// named in spec.md §8 Scenario 1. It is the only node that writes
// EvaluationScores.
func StoryEvaluator(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		resp, err := d.EvaluatorLLM.Complete(ctx, ports.TextRequest{
			SystemPrompt: "Score this children's story from 0-10 on each requested dimension.",
			UserPrompt:   s.StoryText,
			Schema:       evaluationSchema,
		})
		if err != nil {
			return nodeResult{Err: fmt.Errorf("story_evaluator: %w", err)}
		}
		scores := workflowstate.EvaluationScores{
			Moral:       asInt(resp.Structured["moral"]),
			Theme:       asInt(resp.Structured["theme"]),
			Emotional:   asInt(resp.Structured["emotional"]),
			Age:         asInt(resp.Structured["age"]),
			Educational: asInt(resp.Structured["educational"]),
		}
		return nodeResult{
			Delta: workflowstate.State{EvaluationScores: scores},
			Route: graph.Stop(),
		}
	}
}

// StoryGuardrail runs the full three-layer text cascade against the
// finished story (spec.md §4.8/§4.9 step 6).
func StoryGuardrail(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		violations, err := d.TextGuardrail.Run(ctx, s.AgeGroup, s.StoryText, "story")
		if err != nil {
			return nodeResult{Err: fmt.Errorf("story_guardrail: %w", err)}
		}
		return nodeResult{
			Delta: workflowstate.State{GuardrailViolations: violations},
			Route: graph.Stop(),
		}
	}
}

// ImageGuardrailWithRetry runs the vision cascade (with its single
// regenerate-and-recheck retry) on one image. A second hard-violation
// pass surfaces a PermanentError, which fails the whole thread — there is
// no partial completion across a fan-out (spec.md §7).
func ImageGuardrailWithRetry(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		if s.Dispatch == nil {
			return nodeResult{Err: fmt.Errorf("image_guardrail_with_retry: invoked without a dispatch overlay")}
		}
		ov := s.Dispatch
		result, err := d.ImageGuardrail.Run(ctx, ov.Index, ov.Prompt, ov.SourceURL)
		if err != nil {
			return nodeResult{Err: err}
		}
		delta := workflowstate.State{GuardrailViolations: result.Violations}
		if result.Regenerated {
			delta.ImageURLs = []workflowstate.MediaBinding{{Index: ov.Index, URL: result.URL}}
			delta.ImageMetadata = []workflowstate.MediaMetadata{{Index: ov.Index, Provider: "imagegen", Regenerated: true}}
		}
		return nodeResult{Delta: delta, Route: graph.Stop()}
	}
}

// VideoGuardrailWithRetry moderates one video's source prompt (text
// cascade only — spec.md §4.8 declares frame sampling an optional
// extension, not required, and defines no media-level retry for video).
func VideoGuardrailWithRetry(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		if s.Dispatch == nil {
			return nodeResult{Err: fmt.Errorf("video_guardrail_with_retry: invoked without a dispatch overlay")}
		}
		violations, err := d.VideoGuardrail.Run(ctx, s.AgeGroup, s.Dispatch.Index, s.Dispatch.Prompt)
		if err != nil {
			return nodeResult{Err: fmt.Errorf("video_guardrail_with_retry[%d]: %w", s.Dispatch.Index, err)}
		}
		return nodeResult{
			Delta: workflowstate.State{GuardrailViolations: violations},
			Route: graph.Stop(),
		}
	}
}

// GuardrailAggregator is the fan-in sink of the evaluation+guardrail
// cluster (spec.md §4.9 step 7): it derives guardrail_passed/summary and
// routes to mark_auto_rejected (if hard violations exist and auto-reject
// is enabled) or human_review_gate.
func GuardrailAggregator(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		passed, summary, hard, soft := guardrail.Aggregate(s.GuardrailViolations)
		delta := workflowstate.State{
			GuardrailPassed:  &passed,
			GuardrailSummary: summary,
			HardViolations:   hard,
			SoftViolations:   soft,
		}
		if !passed && d.Config.AutoRejectOnHardFail {
			delta.JobStatus = workflowstate.JobAutoRejected
			return nodeResult{Delta: delta, Route: graph.Goto(NodeMarkAutoRejected)}
		}
		delta.JobStatus = workflowstate.JobAwaitingReview
		return nodeResult{Delta: delta, Route: graph.Goto(NodeHumanReviewGate)}
	}
}

// HumanReviewGate builds the review payload and suspends (spec.md §4.7,
// §4.9 step 8). The routing decision after resume is computed by the
// caller from the submitted Decision (see Resume in submit.go) rather than by
// re-invoking this handler, since the executor's Resume starts directly
// at the caller-supplied successor nodes.
func HumanReviewGate(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		return nodeResult{Suspend: review.NewPayload(s)}
	}
}

// Publisher, MarkRejected, MarkAutoRejected are the three terminals
// (spec.md §4.9 step 9).
func Publisher(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		return nodeResult{Delta: workflowstate.State{JobStatus: workflowstate.JobCompleted}, Route: graph.Stop()}
	}
}

func MarkRejected(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		return nodeResult{Delta: workflowstate.State{JobStatus: workflowstate.JobRejected}, Route: graph.Stop()}
	}
}

func MarkAutoRejected(d Deps) engine.NodeFunc {
	return func(ctx context.Context, s workflowstate.State) nodeResult {
		return nodeResult{Delta: workflowstate.State{JobStatus: workflowstate.JobAutoRejected}, Route: graph.Stop()}
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// splitTitleAndText pulls a leading "Title: ..." line off the story text
// if the model produced one, otherwise treats the whole response as body
// text with an empty title.
func splitTitleAndText(text string) (title, body string) {
	const prefix = "Title: "
	if len(text) > len(prefix) && text[:len(prefix)] == prefix {
		for i := len(prefix); i < len(text); i++ {
			if text[i] == '\n' {
				return text[len(prefix):i], text[i+1:]
			}
		}
	}
	return "", text
}
