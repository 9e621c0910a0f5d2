package review

import (
	"context"
	"time"

	"github.com/kanavkalra-in/kids-story-agent/graph/store"
	"github.com/kanavkalra-in/kids-story-agent/internal/engine"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// Resumer is the subset of engine.Executor a sweeper needs: resuming a
// suspended run with a decision and the node IDs to continue at.
type Resumer interface {
	Resume(ctx context.Context, runID string, decision workflowstate.State, next []string) engine.Outcome
}

// Sweeper enforces the per-thread review deadline (spec.md §4.7 "Timeout
// policy"): a run left AWAITING_REVIEW past its ReviewDeadline is resumed
// with a synthetic rejection instead of waiting for a human forever.
//
// The generic graph/store.Store[S] contract has no "list runs" operation
// (SPEC_FULL.md's C4 mapping keeps that store shape unchanged), so Sweeper
// does not self-discover candidates; the embedding service — out of scope
// per spec.md §1 — tracks which thread ids are awaiting review and passes
// them to Sweep. This mirrors the job-queue boundary spec.md draws around
// the engine: the engine only knows resume(thread_id, decision_value).
type Sweeper struct {
	Store   store.Store[workflowstate.State]
	Engine  Resumer
	// HumanReviewGateSuccessors is the routing internal/workflow's
	// human_review_gate would take on approval/rejection; it is supplied
	// here rather than imported, to avoid internal/review depending on
	// internal/workflow's node wiring.
	HumanReviewGateSuccessors []string
}

// Sweep resumes every AWAITING_REVIEW candidate thread whose ReviewDeadline
// has passed with a timeout rejection. It returns the number of threads
// swept and the first error encountered (Sweep keeps going after an
// individual candidate's load/resume error, since one bad thread id
// should not block sweeping the rest).
func (s *Sweeper) Sweep(ctx context.Context, candidates []string, now time.Time) (int, error) {
	var swept int
	var firstErr error
	for _, runID := range candidates {
		state, _, err := s.Store.LoadLatest(ctx, runID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if state.JobStatus != workflowstate.JobAwaitingReview {
			continue
		}
		if state.ReviewDeadline.IsZero() || now.Before(state.ReviewDeadline) {
			continue
		}
		outcome := s.Engine.Resume(ctx, runID, TimeoutDecision().ToStateDelta(), s.HumanReviewGateSuccessors)
		if outcome.Status == engine.StatusFailed && outcome.Err != nil && firstErr == nil {
			firstErr = outcome.Err
		}
		swept++
	}
	return swept, firstErr
}

// CancelOnTimeout enforces a whole-run wall-clock budget, passed to Cancel
// by the caller (SPEC_FULL.md §5 "Cancellation sweeper"), distinct from
// Sweeper's narrower review-deadline check: it writes CANCELLED directly
// instead of resuming with a rejection, and applies to any run that is not
// already in a terminal status.
type CancelOnTimeout struct {
	Store store.Store[workflowstate.State]
}

// Cancel marks runID CANCELLED if it has been running longer than budget,
// judged from the submission time recorded on the state. It is a
// best-effort terminal write, not a routed resume: a cancelled run's
// outstanding handlers are expected to observe ctx cancellation
// separately (spec.md §5 "Cancellation & timeouts").
func (c *CancelOnTimeout) Cancel(ctx context.Context, runID string, submittedAt time.Time, budget time.Duration, now time.Time) (cancelled bool, err error) {
	if now.Sub(submittedAt) < budget {
		return false, nil
	}
	state, step, err := c.Store.LoadLatest(ctx, runID)
	if err != nil {
		return false, err
	}
	switch state.JobStatus {
	case workflowstate.JobCompleted, workflowstate.JobRejected, workflowstate.JobAutoRejected,
		workflowstate.JobFailed, workflowstate.JobCancelled:
		return false, nil
	}
	state.JobStatus = workflowstate.JobCancelled
	if err := c.Store.SaveStep(ctx, runID, step+1, "cancel_on_timeout", state); err != nil {
		return false, err
	}
	return true, nil
}
