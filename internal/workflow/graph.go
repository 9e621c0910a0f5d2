package workflow

import (
	"errors"
	"time"

	"github.com/kanavkalra-in/kids-story-agent/graph"
	"github.com/kanavkalra-in/kids-story-agent/internal/engine"
	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
)

// Build assembles the fixed C8 workflow graph: every node name from
// spec.md §4.9, its handler closed over d, and the Predecessors a fan-in
// sink waits on before it is scheduled.
func Build(d Deps) engine.Graph {
	return engine.Graph{
		Start: NodeInputModerator,
		Nodes: map[string]engine.Node{
			NodeInputModerator:          InputModerator(d),
			NodeStoryWriter:             StoryWriter(d),
			NodeImagePrompter:           ImagePrompter(d),
			NodeVideoPrompter:           VideoPrompter(d),
			NodeGenerateSingleImage:     GenerateSingleImage(d),
			NodeGenerateSingleVideo:     GenerateSingleVideo(d),
			NodeAssembler:               Assembler(d),
			NodeStoryEvaluator:          StoryEvaluator(d),
			NodeStoryGuardrail:          StoryGuardrail(d),
			NodeImageGuardrailWithRetry: ImageGuardrailWithRetry(d),
			NodeVideoGuardrailWithRetry: VideoGuardrailWithRetry(d),
			NodeGuardrailAggregator:     GuardrailAggregator(d),
			NodeHumanReviewGate:         HumanReviewGate(d),
			NodePublisher:               Publisher(d),
			NodeMarkRejected:            MarkRejected(d),
			NodeMarkAutoRejected:        MarkAutoRejected(d),
		},
		// Only fan-in sinks declare predecessors; every other node runs
		// as soon as routing reaches it (spec.md §4.3 "Fan-in sink").
		Predecessors: map[string][]string{
			NodeAssembler:           {NodeGenerateSingleImage, NodeGenerateSingleVideo},
			NodeGuardrailAggregator: {NodeStoryEvaluator, NodeStoryGuardrail, NodeImageGuardrailWithRetry, NodeVideoGuardrailWithRetry},
		},
		Policies: map[string]*graph.NodePolicy{
			NodeGenerateSingleImage: mediaRetryPolicy(),
			NodeGenerateSingleVideo: mediaRetryPolicy(),
		},
	}
}

// mediaRetryPolicy retries a transient provider failure on raw media
// generation (distinct from the guardrail cascade's own one-shot
// regenerate-and-recheck retry, which only fires on a safety violation,
// not on a provider error).
func mediaRetryPolicy() *graph.NodePolicy {
	return &graph.NodePolicy{
		Timeout: 2 * time.Minute,
		RetryPolicy: &graph.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Retryable: func(err error) bool {
				var transient *ports.TransientError
				return errors.As(err, &transient)
			},
		},
	}
}
