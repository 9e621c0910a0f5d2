// Package workflowstate defines the shared state record threaded through
// every node of the story-generation workflow, and the reducer that merges
// partial updates produced by concurrent node handlers.
package workflowstate

import (
	"sort"
	"time"
)

// AgeGroup selects the threshold bundle used by the guardrail cascade.
type AgeGroup string

const (
	AgeGroup3to5  AgeGroup = "3-5"
	AgeGroup6to8  AgeGroup = "6-8"
	AgeGroup9to12 AgeGroup = "9-12"
)

// JobStatus mirrors the state machine in spec.md §4.9.
type JobStatus string

const (
	JobQueued         JobStatus = "QUEUED"
	JobRunning        JobStatus = "RUNNING"
	JobAwaitingReview JobStatus = "AWAITING_REVIEW"
	JobCompleted      JobStatus = "COMPLETED"
	JobRejected       JobStatus = "REJECTED"
	JobAutoRejected   JobStatus = "AUTO_REJECTED"
	JobFailed         JobStatus = "FAILED"
	JobCancelled      JobStatus = "CANCELLED"
)

// Severity classifies a guardrail Violation.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Violation is a single guardrail finding, produced by any guardrail node.
type Violation struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Detail   string   `json:"detail"`
	Source   string   `json:"source"`
	// MediaIndex is nil for text violations (input, story, prompt) and
	// set to the media's index for per-image/per-video violations.
	MediaIndex *int `json:"media_index,omitempty"`
	// Superseded marks a violation from a guardrail pass that was later
	// redone (image regenerate-and-recheck retry). guardrail_aggregator
	// keeps superseded violations in the audit history but excludes them
	// from the guardrail_passed computation (spec.md §9 Open Question).
	Superseded bool `json:"superseded,omitempty"`
}

// MediaPrompt is one element of the ImagePrompts/VideoPrompts reducer lists,
// emitted by image_prompter/video_prompter and consumed by the matching
// fan-out dispatch router.
type MediaPrompt struct {
	Index int `json:"index"`
	Text  string `json:"text"`
	// SourceURL is an optional reference asset (e.g. for image-to-video);
	// empty for plain text-to-image/video prompts.
	SourceURL string `json:"source_url,omitempty"`
}

// MediaBinding is a reducer element mapping a media index to its final URL.
type MediaBinding struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
}

// MediaMetadata records provenance for one generated media asset.
type MediaMetadata struct {
	Index       int    `json:"index"`
	Provider    string `json:"provider"`
	Regenerated bool   `json:"regenerated"`
	DurationMS  int64  `json:"duration_ms"`
}

// EvaluationScores is story_evaluator's scalar output.
type EvaluationScores struct {
	Moral       int `json:"moral"`
	Theme       int `json:"theme"`
	Emotional   int `json:"emotional"`
	Age         int `json:"age"`
	Educational int `json:"educational"`
}

// DispatchOverlay is the transient, per-dispatch-unit view a fan-out target
// node sees in addition to the canonical state. It is never scanned by
// Reduce and never survives past the node invocation it was created for —
// see the Dispatch entry in SPEC_FULL.md §3.
type DispatchOverlay struct {
	Index     int
	Prompt    string
	SourceURL string
	// Kind distinguishes which media generator this dispatch targets,
	// since "generate_single_image" and "generate_single_video" share
	// the overlay shape.
	Kind string
}

const (
	DispatchKindImage = "image"
	DispatchKindVideo = "video"
)

// State is the canonical workflow state threaded through internal/engine's Executor.
//
// Scalar fields follow last-writer-wins semantics; reducer fields are
// merged by list concatenation. See Reduce.
type State struct {
	// --- scalar fields ---
	JobID            string
	Prompt           string
	AgeGroup         AgeGroup
	NumIllustrations int
	NumVideos        int
	StoryText        string
	StoryTitle       string
	EvaluationScores EvaluationScores
	// GuardrailPassed is nil until guardrail_aggregator runs (mirrors the
	// teacher's ApprovalState.Approved *bool convention for "no decision
	// yet" vs. an explicit false).
	GuardrailPassed  *bool
	GuardrailSummary string
	HardViolations   []Violation
	SoftViolations   []Violation
	ReviewDecision   string
	ReviewComment    string
	ReviewerID       string
	JobStatus        JobStatus
	FailureCode      string
	FailureReason    string
	ReviewDeadline   time.Time

	// --- reducer (append-only) fields ---
	ImagePrompts        []MediaPrompt
	VideoPrompts        []MediaPrompt
	ImageURLs           []MediaBinding
	VideoURLs           []MediaBinding
	ImageMetadata       []MediaMetadata
	VideoMetadata       []MediaMetadata
	GuardrailViolations []Violation

	// --- transient, never persisted across a checkpoint ---
	Dispatch *DispatchOverlay `json:"-"`
}

// Reduce merges delta into prev following the scalar/reducer split
// described in SPEC_FULL.md §3. It is pure, associative, and commutative
// across reducer fields, so concurrent fan-out completions merge
// deterministically regardless of arrival order (spec.md §4.2, §8).
func Reduce(prev, delta State) State {
	out := prev

	if delta.JobID != "" {
		out.JobID = delta.JobID
	}
	if delta.Prompt != "" {
		out.Prompt = delta.Prompt
	}
	if delta.AgeGroup != "" {
		out.AgeGroup = delta.AgeGroup
	}
	if delta.NumIllustrations != 0 {
		out.NumIllustrations = delta.NumIllustrations
	}
	if delta.NumVideos != 0 {
		out.NumVideos = delta.NumVideos
	}
	if delta.StoryText != "" {
		out.StoryText = delta.StoryText
	}
	if delta.StoryTitle != "" {
		out.StoryTitle = delta.StoryTitle
	}
	if (delta.EvaluationScores != EvaluationScores{}) {
		out.EvaluationScores = delta.EvaluationScores
	}
	if delta.GuardrailSummary != "" {
		out.GuardrailSummary = delta.GuardrailSummary
	}
	if delta.HardViolations != nil {
		out.HardViolations = delta.HardViolations
	}
	if delta.SoftViolations != nil {
		out.SoftViolations = delta.SoftViolations
	}
	if delta.GuardrailPassed != nil {
		out.GuardrailPassed = delta.GuardrailPassed
	}
	if delta.ReviewDecision != "" {
		out.ReviewDecision = delta.ReviewDecision
	}
	if delta.ReviewComment != "" {
		out.ReviewComment = delta.ReviewComment
	}
	if delta.ReviewerID != "" {
		out.ReviewerID = delta.ReviewerID
	}
	if delta.JobStatus != "" {
		out.JobStatus = delta.JobStatus
	}
	if delta.FailureCode != "" {
		out.FailureCode = delta.FailureCode
	}
	if delta.FailureReason != "" {
		out.FailureReason = delta.FailureReason
	}
	if !delta.ReviewDeadline.IsZero() {
		out.ReviewDeadline = delta.ReviewDeadline
	}

	out.ImagePrompts = append(append([]MediaPrompt{}, out.ImagePrompts...), delta.ImagePrompts...)
	out.VideoPrompts = append(append([]MediaPrompt{}, out.VideoPrompts...), delta.VideoPrompts...)
	out.ImageURLs = append(append([]MediaBinding{}, out.ImageURLs...), delta.ImageURLs...)
	out.VideoURLs = append(append([]MediaBinding{}, out.VideoURLs...), delta.VideoURLs...)
	out.ImageMetadata = append(append([]MediaMetadata{}, out.ImageMetadata...), delta.ImageMetadata...)
	out.VideoMetadata = append(append([]MediaMetadata{}, out.VideoMetadata...), delta.VideoMetadata...)
	out.GuardrailViolations = append(append([]Violation{}, out.GuardrailViolations...), delta.GuardrailViolations...)

	// Dispatch is transient: a delta's overlay never propagates into
	// canonical state, and canonical state never carries one forward.
	out.Dispatch = nil

	return out
}

// FinalMediaBindings collapses a reducer-merged bindings list down to one
// entry per index, keeping the last-appended entry for each index. This is
// how a guardrail retry's regenerated ref supersedes the original: the
// retry's binding is always appended later than generate_single_image's
// (image_guardrail_with_retry only runs after assembler, which runs after
// every generate_single_image unit has completed), so last-per-index is
// exactly "the final outcome" spec.md §8 Scenario 3 requires. Results are
// sorted by Index ascending (spec.md §3: downstream nodes must sort
// explicitly, ordering across dispatch units is not guaranteed).
func FinalMediaBindings(bindings []MediaBinding) []MediaBinding {
	byIndex := map[int]MediaBinding{}
	for _, b := range bindings {
		byIndex[b.Index] = b
	}
	out := make([]MediaBinding, 0, len(byIndex))
	for _, b := range byIndex {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// PromptByIndex finds the MediaPrompt with the given index, used by
// assembler to recover a media item's original prompt when seeding its
// guardrail-retry dispatch unit.
func PromptByIndex(prompts []MediaPrompt, index int) (MediaPrompt, bool) {
	for _, p := range prompts {
		if p.Index == index {
			return p, true
		}
	}
	return MediaPrompt{}, false
}
