package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kanavkalra-in/kids-story-agent/internal/engine"
	"github.com/kanavkalra-in/kids-story-agent/internal/review"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// Submission is the caller-supplied request that starts a new thread
// (spec.md §6 "submit(initial_state, thread_id, config)").
type Submission struct {
	Prompt           string
	AgeGroup         workflowstate.AgeGroup
	NumIllustrations int
	NumVideos        int
}

// Submit generates a fresh thread id (github.com/google/uuid, per
// SPEC_FULL.md §2) and runs the workflow to its first suspension or
// terminal outcome.
func Submit(ctx context.Context, exec *engine.Executor, reviewDeadline time.Duration, req Submission) (runID string, outcome engine.Outcome) {
	runID = uuid.NewString()
	initial := workflowstate.State{
		JobID:            runID,
		Prompt:           req.Prompt,
		AgeGroup:         req.AgeGroup,
		NumIllustrations: req.NumIllustrations,
		NumVideos:        req.NumVideos,
		JobStatus:        workflowstate.JobQueued,
		ReviewDeadline:   time.Now().Add(reviewDeadline),
	}
	return runID, exec.Run(ctx, runID, initial)
}

// Resume supplies a reviewer decision for a suspended thread and
// continues from human_review_gate's successor (publisher or
// mark_rejected), since the executor's Resume API takes the successor
// node ids directly rather than re-entering the suspending handler (see
// HumanReviewGate's doc comment).
func Resume(ctx context.Context, exec *engine.Executor, runID string, decision review.Decision) engine.Outcome {
	return exec.Resume(ctx, runID, decision.ToStateDelta(), nextAfterReview(decision))
}

// nextAfterReview computes human_review_gate's post-resume routing
// (spec.md §4.9 step 8: "approved → publisher; anything else →
// mark_rejected").
func nextAfterReview(d review.Decision) []string {
	if d.Approved() {
		return []string{NodePublisher}
	}
	return []string{NodeMarkRejected}
}
