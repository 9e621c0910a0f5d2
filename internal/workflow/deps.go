// Package workflow wires the fixed story-generation graph (C8, spec.md
// §4.9): every node name, its handler, and the Predecessors a fan-in sink
// waits on, plus the node handlers themselves.
package workflow

import (
	"github.com/kanavkalra-in/kids-story-agent/internal/config"
	"github.com/kanavkalra-in/kids-story-agent/internal/guardrail"
	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
)

// Deps bundles every provider port and guardrail cascade a node handler
// needs. A single Deps value is closed over by every NodeFunc built in
// Build.
type Deps struct {
	StoryLLM        ports.TextLLM
	PromptLLM       ports.TextLLM
	EvaluatorLLM    ports.TextLLM
	InputModeration ports.Moderation

	TextGuardrail  guardrail.TextCascade
	ImageGuardrail guardrail.ImageCascade
	VideoGuardrail guardrail.VideoCascade

	ImageGen ports.ImageGen
	VideoGen ports.VideoGen
	Blobs    ports.BlobStore

	Config config.Config
}

// Node IDs, named once so Build, tests, and internal/review's
// HumanReviewGateSuccessors wiring all reference the same literals.
const (
	NodeInputModerator          = "input_moderator"
	NodeStoryWriter             = "story_writer"
	NodeImagePrompter           = "image_prompter"
	NodeVideoPrompter           = "video_prompter"
	NodeGenerateSingleImage     = "generate_single_image"
	NodeGenerateSingleVideo     = "generate_single_video"
	NodeAssembler               = "assembler"
	NodeStoryEvaluator          = "story_evaluator"
	NodeStoryGuardrail          = "story_guardrail"
	NodeImageGuardrailWithRetry = "image_guardrail_with_retry"
	NodeVideoGuardrailWithRetry = "video_guardrail_with_retry"
	NodeGuardrailAggregator     = "guardrail_aggregator"
	NodeHumanReviewGate         = "human_review_gate"
	NodePublisher               = "publisher"
	NodeMarkRejected            = "mark_rejected"
	NodeMarkAutoRejected        = "mark_auto_rejected"
)
