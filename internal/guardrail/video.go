package guardrail

import (
	"context"
	"fmt"

	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// VideoCascade moderates only the text prompt that produced a video
// (spec.md §4.8: "moderate the text prompt only (same three-layer text
// cascade); frame sampling is a declared extension point but not
// required"). It has no vision stage of its own.
type VideoCascade struct {
	Text TextCascade
}

func (c VideoCascade) Run(ctx context.Context, age workflowstate.AgeGroup, index int, prompt string) ([]workflowstate.Violation, error) {
	violations, err := c.Text.Run(ctx, age, prompt, fmt.Sprintf("video_prompt[%d]", index))
	if err != nil {
		return nil, err
	}
	i := index
	for idx := range violations {
		violations[idx].MediaIndex = &i
	}
	return violations, nil
}
