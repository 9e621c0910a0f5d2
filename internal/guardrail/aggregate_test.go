package guardrail

import (
	"testing"

	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

func TestAggregate_NoViolationsPasses(t *testing.T) {
	passed, _, hard, soft := Aggregate(nil)
	if !passed {
		t.Fatalf("expected passed=true for no violations")
	}
	if len(hard) != 0 || len(soft) != 0 {
		t.Fatalf("expected empty partitions, got hard=%+v soft=%+v", hard, soft)
	}
}

func TestAggregate_ActiveHardFails(t *testing.T) {
	violations := []workflowstate.Violation{
		{Severity: workflowstate.SeverityHard, Category: "weapon"},
		{Severity: workflowstate.SeveritySoft, Category: "fear"},
	}
	passed, summary, hard, soft := Aggregate(violations)
	if passed {
		t.Fatalf("expected passed=false with an active hard violation")
	}
	if len(hard) != 1 || len(soft) != 1 {
		t.Fatalf("expected 1 hard and 1 soft, got hard=%+v soft=%+v", hard, soft)
	}
	if summary == "" {
		t.Fatalf("expected a non-empty summary")
	}
}

// TestAggregate_SupersededHardDoesNotBlock grounds scenario 3 from spec.md
// §8: a superseded (retried-and-fixed) hard violation must not flip
// guardrail_passed to false, even though it remains in the hard partition
// for the audit trail.
func TestAggregate_SupersededHardDoesNotBlock(t *testing.T) {
	violations := []workflowstate.Violation{
		{Severity: workflowstate.SeverityHard, Category: "vision:weapon", Superseded: true},
	}
	passed, _, hard, _ := Aggregate(violations)
	if !passed {
		t.Fatalf("expected passed=true when the only hard violation is superseded")
	}
	if len(hard) != 1 {
		t.Fatalf("expected the superseded violation retained in the hard partition, got %+v", hard)
	}
}
