package guardrail

import (
	"context"
	"testing"

	"github.com/kanavkalra-in/kids-story-agent/internal/config"
	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
	"github.com/kanavkalra-in/kids-story-agent/internal/providers/mock"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

func TestVideoCascade_SetsMediaIndex(t *testing.T) {
	analysis := cleanAnalysis()
	analysis["violence_severity"] = 0.9
	llm := &mock.TextLLM{Responses: []ports.TextResponse{{Structured: analysis}}}
	cascade := VideoCascade{Text: TextCascade{
		Moderation: &mock.Moderation{},
		Pii:        &mock.PiiDetector{},
		TextLLM:    llm,
		Config:     config.Default(),
	}}

	violations, err := cascade.Run(context.Background(), workflowstate.AgeGroup6to8, 3, "a dragon battle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(violations) == 0 {
		t.Fatalf("expected at least one violation")
	}
	for _, v := range violations {
		if v.MediaIndex == nil || *v.MediaIndex != 3 {
			t.Errorf("expected MediaIndex=3, got %+v", v.MediaIndex)
		}
	}
}
