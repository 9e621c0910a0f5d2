package guardrail

import (
	"fmt"
	"strings"

	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// Aggregate implements guardrail_aggregator (spec.md §4.8, §8 step 7): it
// folds the accumulated guardrail_violations reducer list into the hard/soft
// partition and the guardrail_passed scalar. Per the spec's resolution of
// the "final vs. all passes" open question, a violation marked Superseded
// (an image's pre-retry pass that was later fixed) is retained for the
// audit trail but never counts against guardrail_passed.
func Aggregate(violations []workflowstate.Violation) (passed bool, summary string, hard, soft []workflowstate.Violation) {
	for _, v := range violations {
		switch v.Severity {
		case workflowstate.SeverityHard:
			hard = append(hard, v)
		default:
			soft = append(soft, v)
		}
	}

	activeHard := 0
	for _, v := range hard {
		if !v.Superseded {
			activeHard++
		}
	}
	passed = activeHard == 0

	if passed {
		if len(soft) == 0 {
			summary = "no guardrail findings"
		} else {
			summary = fmt.Sprintf("%d soft finding(s), no active hard violations", len(soft))
		}
		return passed, summary, hard, soft
	}

	categories := make([]string, 0, activeHard)
	for _, v := range hard {
		if !v.Superseded {
			categories = append(categories, v.Category)
		}
	}
	summary = fmt.Sprintf("%d active hard violation(s): %s", activeHard, strings.Join(categories, ", "))
	return passed, summary, hard, soft
}
