// Package config holds the per-submission tunables described in spec.md §6.
package config

import (
	"time"

	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// Config configures one engine invocation. Zero-value Config is not
// valid; use Default() and override individual fields.
type Config struct {
	// AutoRejectOnHardFail routes straight to mark_auto_rejected when the
	// aggregated guardrail result has any hard violation, skipping
	// human_review_gate entirely.
	AutoRejectOnHardFail bool

	// MediaRetryMax bounds how many times a media guardrail hard
	// violation triggers a regeneration. Values > 1 are accepted but
	// strongly discouraged (spec.md §6); the shipped guardrail cascade
	// only implements the single-retry policy named in spec.md §4.8.
	MediaRetryMax int

	FearThresholdByAge         map[workflowstate.AgeGroup]float64
	ViolenceHardThresholdByAge map[workflowstate.AgeGroup]float64

	ReviewDeadline time.Duration
	WorkerPoolSize int
}

// Default returns the documented default configuration (spec.md §6).
func Default() Config {
	return Config{
		AutoRejectOnHardFail: true,
		MediaRetryMax:        1,
		FearThresholdByAge: map[workflowstate.AgeGroup]float64{
			workflowstate.AgeGroup3to5:  0.3,
			workflowstate.AgeGroup6to8:  0.4,
			workflowstate.AgeGroup9to12: 0.5,
		},
		ViolenceHardThresholdByAge: map[workflowstate.AgeGroup]float64{
			workflowstate.AgeGroup3to5:  0.4,
			workflowstate.AgeGroup6to8:  0.6,
			workflowstate.AgeGroup9to12: 0.7,
		},
		ReviewDeadline: 3 * 24 * time.Hour,
		WorkerPoolSize: 8,
	}
}
