// Command storyagent demonstrates the story-generation workflow end to
// end: submit a prompt, watch it suspend at the human-review gate, and
// resume it with an approve/reject decision typed at the terminal.
//
// It wires internal/providers/mock in place of real LLM/media providers,
// the same way the teacher's human_in_the_loop example demonstrates the
// bare graph engine's suspend/resume loop with a fake GenerateOutputNode.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/kanavkalra-in/kids-story-agent/graph/store"
	"github.com/kanavkalra-in/kids-story-agent/internal/config"
	"github.com/kanavkalra-in/kids-story-agent/internal/engine"
	"github.com/kanavkalra-in/kids-story-agent/internal/guardrail"
	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
	"github.com/kanavkalra-in/kids-story-agent/internal/providers/mock"
	"github.com/kanavkalra-in/kids-story-agent/internal/review"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflow"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

func buildDeps(cfg config.Config) workflow.Deps {
	storyLLM := &mock.TextLLM{Responses: []ports.TextResponse{
		{Text: "Title: The Mouse and the Moonlight Cheese\nOnce there was a small mouse named Pip who found a wedge of cheese that glowed like the moon."},
	}}
	promptLLM := &mock.TextLLM{Responses: []ports.TextResponse{
		{Structured: map[string]any{"prompts": []any{"Pip the mouse discovering the glowing cheese"}}},
	}}
	evaluatorLLM := &mock.TextLLM{Responses: []ports.TextResponse{
		{Structured: map[string]any{"moral": 8.0, "theme": 8.0, "emotional": 7.0, "age": 8.0, "educational": 7.0}},
	}}
	guardrailLLM := &mock.TextLLM{Responses: []ports.TextResponse{
		{Structured: map[string]any{
			"violence_severity": 0.0, "fear_intensity": 0.1, "brand_mentions": []any{}, "political_detected": false, "religious_detected": false,
		}},
	}}
	visionLLM := &mock.VisionLLM{Responses: []map[string]any{
		{"nsfw": 0.0, "weapon": 0.0, "realistic_child": 0.0, "horror_elements": 0.0},
	}}

	textCascade := guardrail.TextCascade{Moderation: &mock.Moderation{}, Pii: &mock.PiiDetector{}, TextLLM: guardrailLLM, Config: cfg}
	return workflow.Deps{
		StoryLLM:        storyLLM,
		PromptLLM:       promptLLM,
		EvaluatorLLM:    evaluatorLLM,
		InputModeration: &mock.Moderation{},
		TextGuardrail:   textCascade,
		ImageGuardrail:  guardrail.ImageCascade{Vision: visionLLM, Gen: &mock.ImageGen{}},
		VideoGuardrail:  guardrail.VideoCascade{Text: textCascade},
		ImageGen:        &mock.ImageGen{},
		VideoGen:        &mock.VideoGen{},
		Blobs:           mock.NewBlobStore(),
		Config:          cfg,
	}
}

func askDecision() review.Decision {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nApprove this story for publication? (y/n): ")
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))

	decision := review.DecisionRejected
	if response == "y" || response == "yes" {
		decision = review.DecisionApproved
	}

	fmt.Print("Comment (optional, press Enter to skip): ")
	comment, _ := reader.ReadString('\n')
	comment = strings.TrimSpace(comment)

	return review.Decision{Decision: decision, Comment: comment, ReviewerID: "cli-reviewer"}
}

func printPayload(p review.Payload) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("Paused at human_review_gate")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Title: %s\n", p.StoryTitle)
	fmt.Printf("Story: %s\n", p.StoryText)
	fmt.Printf("Evaluation: %+v\n", p.EvaluationScores)
	fmt.Printf("Guardrail summary: %s\n", p.GuardrailSummary)
	if len(p.SoftViolations) > 0 {
		fmt.Printf("Soft violations: %+v\n", p.SoftViolations)
	}
	fmt.Printf("Images: %+v\n", p.ImageURLs)
	fmt.Printf("Videos: %+v\n", p.VideoURLs)
	fmt.Println(strings.Repeat("=", 70))
}

func main() {
	cfg := config.Default()
	exec := &engine.Executor{
		Graph:          workflow.Build(buildDeps(cfg)),
		Store:          store.NewMemStore[workflowstate.State](),
		WorkerPoolSize: cfg.WorkerPoolSize,
	}

	ctx := context.Background()
	runID, outcome := workflow.Submit(ctx, exec, cfg.ReviewDeadline, workflow.Submission{
		Prompt:           "a mouse finds a glowing piece of cheese under the moonlight",
		AgeGroup:         workflowstate.AgeGroup6to8,
		NumIllustrations: 1,
	})

	switch outcome.Status {
	case engine.StatusFailed:
		log.Fatalf("run %s failed: %v", runID, outcome.Err)
	case engine.StatusTerminal:
		fmt.Printf("run %s finished immediately with status %s (no human review required)\n", runID, outcome.State.JobStatus)
		return
	case engine.StatusSuspended:
		payload, ok := outcome.Payload.(review.Payload)
		if !ok {
			log.Fatalf("run %s suspended with an unexpected payload type %T", runID, outcome.Payload)
		}
		printPayload(payload)
	}

	decision := askDecision()
	final := workflow.Resume(ctx, exec, runID, decision)
	if final.Status == engine.StatusFailed {
		log.Fatalf("run %s failed after resume: %v", runID, final.Err)
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("Final status: %s\n", final.State.JobStatus)
	if final.State.JobStatus == workflowstate.JobCompleted {
		images := workflowstate.FinalMediaBindings(final.State.ImageURLs)
		fmt.Printf("Published images: %+v\n", images)
	}
	fmt.Println(strings.Repeat("=", 70))
}
