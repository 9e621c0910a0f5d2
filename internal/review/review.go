// Package review defines the concrete suspension payload/decision types for
// human_review_gate (spec.md §4.7, §4.9.8) and the deadline sweepers that
// turn wall-clock timeouts into synthetic resume/cancel decisions
// (SPEC_FULL.md §5).
package review

import (
	"time"

	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// Payload is the review snapshot human_review_gate builds and suspends
// with (SPEC_FULL.md §4). It carries everything a reviewer needs to make
// an approve/reject decision without touching the canonical state.
type Payload struct {
	JobID             string
	StoryText         string
	StoryTitle        string
	EvaluationScores  workflowstate.EvaluationScores
	HardViolations    []workflowstate.Violation
	SoftViolations     []workflowstate.Violation
	ImageURLs         []workflowstate.MediaBinding
	VideoURLs         []workflowstate.MediaBinding
	GuardrailSummary  string
	Deadline          time.Time
}

// NewPayload builds the review payload from the current state, as
// human_review_gate does immediately before suspending.
func NewPayload(s workflowstate.State) Payload {
	return Payload{
		JobID:            s.JobID,
		StoryText:        s.StoryText,
		StoryTitle:       s.StoryTitle,
		EvaluationScores: s.EvaluationScores,
		HardViolations:   s.HardViolations,
		SoftViolations:   s.SoftViolations,
		ImageURLs:        s.ImageURLs,
		VideoURLs:        s.VideoURLs,
		GuardrailSummary: s.GuardrailSummary,
		Deadline:         s.ReviewDeadline,
	}
}

// Decision is the decision_value a resume call supplies (spec.md §4.9.8).
// Decision is "approved" or "rejected"; anything else is treated as a
// rejection, matching the spec's explicit fallback rule.
type Decision struct {
	Decision   string
	Comment    string
	ReviewerID string
}

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Approved reports whether d should route to publisher. Per spec.md
// §4.9.8, any value other than the literal "approved" is a rejection.
func (d Decision) Approved() bool {
	return d.Decision == DecisionApproved
}

// ToStateDelta converts a reviewer decision into the State patch
// internal/workflow's human_review_gate merges on resume.
func (d Decision) ToStateDelta() workflowstate.State {
	decision := d.Decision
	if decision != DecisionApproved {
		decision = DecisionRejected
	}
	return workflowstate.State{
		ReviewDecision: decision,
		ReviewComment:  d.Comment,
		ReviewerID:     d.ReviewerID,
	}
}

// TimeoutDecision is the synthetic decision the sweeper resumes a thread
// with once its ReviewDeadline has passed (spec.md §4.7 "Timeout policy").
func TimeoutDecision() Decision {
	return Decision{Decision: DecisionRejected, Comment: "timeout"}
}
