// Package engine is the C5/C6/C7 executor: it drives the fixed story
// workflow graph to completion, merging fan-out/fan-in results
// deterministically, checkpointing after every step, and suspending at the
// human-review gate until an external decision resumes it.
//
// The graph package in this module has no executor of its own; this
// package is the scheduler. Beyond single-target (Goto) and static (Many)
// routing it provides "wait until every declared predecessor of this node
// has completed" (needed by assembler and guardrail_aggregator) and
// suspending mid-run pending a human decision (needed by
// human_review_gate); see DESIGN.md. What it uses from graph: graph.Node[S]/NodeResult[S]/Next
// as the node contract, graph.ExecuteNodeWithTimeout for per-node timeouts,
// graph.RetryPolicy/ComputeBackoff for retries, graph/store.Store[S] and
// CheckpointV2 for persistence, and graph/emit.Emitter plus
// PrometheusMetrics for observability.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kanavkalra-in/kids-story-agent/graph"
	"github.com/kanavkalra-in/kids-story-agent/graph/emit"
	"github.com/kanavkalra-in/kids-story-agent/graph/store"
	"github.com/kanavkalra-in/kids-story-agent/internal/ports"
	"github.com/kanavkalra-in/kids-story-agent/internal/workflowstate"
)

// Node is the per-handler contract every workflow node implements. It
// reuses graph.Node[S] verbatim, instantiated on workflowstate.State.
type Node = graph.Node[workflowstate.State]

// NodeFunc adapts a plain function to Node, mirroring graph.NodeFunc.
type NodeFunc = graph.NodeFunc[workflowstate.State]

// Graph is the fixed set of named nodes plus each node's declared
// predecessors (for fan-in joins). A node becomes eligible to run only once
// every predecessor has completed in the current run.
type Graph struct {
	Start string
	Nodes map[string]Node
	// Predecessors lists, for each node ID, the node IDs that must have
	// completed before it becomes eligible. Empty/absent means "runs as
	// soon as reached by routing" (ordinary linear/fan-out successors).
	Predecessors map[string][]string
	// Policies optionally overrides timeout/retry per node.
	Policies map[string]*graph.NodePolicy
}

// Status classifies how a Run/Resume call ended.
type Status string

const (
	StatusTerminal  Status = "terminal"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
)

// Outcome is the union result of Run/Resume (spec.md §4.7:
// "{suspended(payload) | terminal(final_state) | failed(err)}").
type Outcome struct {
	Status  Status
	State   workflowstate.State
	Payload any
	Err     error
}

// Executor runs one Graph against a Store, checkpointing after each step.
type Executor struct {
	Graph          Graph
	Store          store.Store[workflowstate.State]
	Emitter        emit.Emitter
	Metrics        *graph.PrometheusMetrics
	DefaultTimeout time.Duration

	// WorkerPoolSize bounds how many frontier nodes this Executor runs
	// concurrently within a single drive() round (spec.md C5, §4.5: bounded
	// parallel dispatch with deterministic aggregation). Values <= 1 run the
	// frontier sequentially; zero-value Executors therefore default to
	// sequential execution rather than panicking on an unbuffered semaphore.
	WorkerPoolSize int
}

// workerLimit returns the effective concurrency bound for one drive() round.
func (e *Executor) workerLimit() int {
	if e.WorkerPoolSize > 1 {
		return e.WorkerPoolSize
	}
	return 1
}

// run tracks in-flight scheduling state for one execution (fresh or
// resumed). It is not persisted directly; completed is folded into
// the checkpoint's Frontier field as a plain []string.
type run struct {
	runID     string
	state     workflowstate.State
	completed map[string]bool
	step      int

	// fanOutRemaining counts, per dynamically-dispatched target node ID,
	// how many of its units are still outstanding. The target is only
	// marked completed (unblocking any fan-in join gated on it) once this
	// reaches zero. A target never dispatched this way is absent here and
	// falls back to "completed on first completion" semantics.
	fanOutRemaining map[string]int

	// mergeMu is the per-run logical merge lock (spec.md §5): it serializes
	// writes to state/completed/fanOutRemaining across drive() rounds so the
	// concurrent node execution in runFrontier never races with the merge.
	mergeMu sync.Mutex
}

// Run starts a fresh execution at Graph.Start.
func (e *Executor) Run(ctx context.Context, runID string, initial workflowstate.State) Outcome {
	r := &run{runID: runID, state: initial, completed: map[string]bool{}, fanOutRemaining: map[string]int{}}
	return e.drive(ctx, r, []pendingWork{{nodeID: e.Graph.Start, input: initial}})
}

// Resume continues a suspended run: decision is merged into the
// checkpointed state via the reducer, and execution proceeds from every
// node that was runnable immediately after the suspension point
// (fromNode's declared successors, supplied by the caller since Next isn't
// persisted across a suspend — see internal/workflow's Resume and
// nextAfterReview for how human_review_gate's successors are computed).
func (e *Executor) Resume(ctx context.Context, runID string, decision workflowstate.State, next []string) Outcome {
	latest, step, err := e.Store.LoadLatest(ctx, runID)
	if err != nil {
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("engine: resume: loading latest state: %w", err)}
	}
	merged := workflowstate.Reduce(latest, decision)

	r := &run{runID: runID, state: merged, completed: map[string]bool{}, fanOutRemaining: map[string]int{}, step: step}
	pending := make([]pendingWork, 0, len(next))
	for _, n := range next {
		pending = append(pending, pendingWork{nodeID: n, input: merged})
	}
	return e.drive(ctx, r, pending)
}

type pendingWork struct {
	nodeID string
	input  workflowstate.State
}

// stepOutcome is one frontier node's result, collected off its worker
// goroutine for the (single-threaded, deterministically ordered) merge pass.
type stepOutcome struct {
	nodeID string
	result graph.NodeResult[workflowstate.State]
	err    error
}

// runFrontier executes every runnable item of frontier concurrently, bounded
// by a worker-pool semaphore sized from Executor.WorkerPoolSize (spec.md C5,
// §4.5). Each worker's stepOutcome is appended to the shared slice under
// resultsMu, since the goroutines themselves run unordered and in parallel;
// once all have returned, the results are sorted by node ID so the caller
// folds them into run state in a deterministic order.
func (e *Executor) runFrontier(ctx context.Context, r *run, runnable []pendingWork) []stepOutcome {
	results := make([]stepOutcome, 0, len(runnable))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workerLimit())

	for _, w := range runnable {
		w := w
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := e.runNode(ctx, r, w.nodeID, w.input)

			resultsMu.Lock()
			results = append(results, stepOutcome{nodeID: w.nodeID, result: result, err: err})
			resultsMu.Unlock()
		}()
	}
	wg.Wait()

	// Goroutine completion order is not deterministic; sort by node ID so
	// the merge pass below folds results into state in a fixed order
	// regardless of which worker finished first (spec.md C5: "deterministic
	// aggregation").
	sort.Slice(results, func(i, j int) bool { return results[i].nodeID < results[j].nodeID })
	return results
}

// drive is the scheduling loop: it dispatches every currently-runnable
// piece of work to a bounded worker pool, merges results via the reducer
// under a single logical merge lock, persists a checkpoint, and repeats
// until the frontier is empty (terminal), a node suspends, or a node
// reports a permanent failure.
func (e *Executor) drive(ctx context.Context, r *run, frontier []pendingWork) Outcome {
	for len(frontier) > 0 {
		var next []pendingWork
		waiting := map[string][]pendingWork{}

		var runnable []pendingWork
		for _, w := range frontier {
			if deps := e.Graph.Predecessors[w.nodeID]; len(deps) > 0 && !e.allDone(r, deps) {
				waiting[w.nodeID] = append(waiting[w.nodeID], w)
				continue
			}
			if _, ok := e.Graph.Nodes[w.nodeID]; !ok {
				return Outcome{Status: StatusFailed, Err: fmt.Errorf("engine: unknown node %q", w.nodeID)}
			}
			runnable = append(runnable, w)
		}

		results := e.runFrontier(ctx, r, runnable)

		if outcome := e.mergeRound(ctx, r, results, &next); outcome != nil {
			return *outcome
		}

		// re-offer anything still waiting on predecessors, now that this
		// round's completions may have satisfied them
		for _, ws := range waiting {
			next = append(next, ws...)
		}
		frontier = dedupeFrontier(next)
	}
	return Outcome{Status: StatusTerminal, State: r.state}
}

// mergeRound folds one round's worker results into r.state and the
// completion bookkeeping, under r.mergeMu (spec.md §5's "per-thread logical
// merge lock"). It is the only place that mutates r after runFrontier's
// goroutines have all returned, so every write here is linearized even
// though the node executions that produced results ran concurrently. next
// accumulates this round's follow-on work; a non-nil returned Outcome means
// the run ended (failed or suspended) and the caller must return it as-is.
func (e *Executor) mergeRound(ctx context.Context, r *run, results []stepOutcome, next *[]pendingWork) *Outcome {
	r.mergeMu.Lock()
	defer r.mergeMu.Unlock()

	for _, so := range results {
		if so.err != nil {
			failure := workflowstate.State{JobStatus: workflowstate.JobFailed, FailureReason: so.err.Error()}
			var perm *ports.PermanentError
			if asPermanent(so.err, &perm) {
				failure.FailureCode = perm.Code
			}
			r.state = workflowstate.Reduce(r.state, failure)
			e.checkpoint(ctx, r)
			return &Outcome{Status: StatusFailed, State: r.state, Err: so.err}
		}

		r.state = workflowstate.Reduce(r.state, so.result.Delta)
		e.markNodeDone(r, so.nodeID)

		if so.result.Suspend != nil {
			e.checkpoint(ctx, r)
			return &Outcome{Status: StatusSuspended, State: r.state, Payload: so.result.Suspend}
		}

		route := so.result.Route

		// A dynamic fan-out group registers how many units are
		// outstanding per target *before* any of them can possibly
		// complete, so a join gated on that target never fires early.
		byTarget := map[string]int{}
		for _, unit := range route.FanOut {
			byTarget[unit.Target]++
		}
		for target, count := range byTarget {
			r.fanOutRemaining[target] += count
		}
		for _, unit := range route.FanOut {
			*next = append(*next, pendingWork{nodeID: unit.Target, input: unit.State})
		}
		for _, target := range route.EmptyFanOutTargets {
			e.markNodeDone(r, target)
		}

		for _, id := range route.Many {
			*next = append(*next, pendingWork{nodeID: id, input: r.state})
		}
		if route.To != "" {
			*next = append(*next, pendingWork{nodeID: route.To, input: r.state})
		}
		// route.Terminal: nothing further queued by this branch.
	}

	e.checkpoint(ctx, r)
	return nil
}

// markNodeDone records one completion of nodeID. For a node that was
// dynamically fanned out to (present in fanOutRemaining), completion only
// propagates once every dispatched unit has finished; ordinary nodes
// complete on their first (only) finish.
func (e *Executor) markNodeDone(r *run, nodeID string) {
	if remaining, tracked := r.fanOutRemaining[nodeID]; tracked {
		remaining--
		if remaining > 0 {
			r.fanOutRemaining[nodeID] = remaining
			return
		}
		delete(r.fanOutRemaining, nodeID)
	}
	r.completed[nodeID] = true
}

func (e *Executor) allDone(r *run, deps []string) bool {
	for _, d := range deps {
		if !r.completed[d] {
			return false
		}
	}
	return true
}

func (e *Executor) runNode(ctx context.Context, r *run, nodeID string, input workflowstate.State) (graph.NodeResult[workflowstate.State], error) {
	node := e.Graph.Nodes[nodeID]
	policy := e.Graph.Policies[nodeID]

	start := time.Now()
	result, timeoutErr := graph.ExecuteNodeWithTimeout(ctx, node, nodeID, input, policy, e.DefaultTimeout)
	if e.Metrics != nil {
		status := "success"
		if timeoutErr != nil || result.Err != nil {
			status = "error"
		}
		e.Metrics.RecordStepLatency(r.runID, nodeID, time.Since(start), status)
	}
	if e.Emitter != nil {
		e.Emitter.Emit(emit.Event{RunID: r.runID, Step: r.step + 1, NodeID: nodeID, Msg: "node_complete"})
	}
	if timeoutErr != nil {
		return result, timeoutErr
	}
	if result.Err != nil {
		return e.retryIfConfigured(ctx, r, nodeID, input, result)
	}
	return result, nil
}

// retryIfConfigured applies the node's RetryPolicy (if any) before giving
// up and surfacing failed to the caller. On a successful retry it returns
// the retry's own NodeResult (its Route/Delta), not the original failure.
func (e *Executor) retryIfConfigured(ctx context.Context, r *run, nodeID string, input workflowstate.State, failed graph.NodeResult[workflowstate.State]) (graph.NodeResult[workflowstate.State], error) {
	policy := e.Graph.Policies[nodeID]
	if policy == nil || policy.RetryPolicy == nil {
		return failed, failed.Err
	}
	rp := policy.RetryPolicy
	if rp.Retryable != nil && !rp.Retryable(failed.Err) {
		return failed, failed.Err
	}

	last := failed
	for attempt := 1; attempt < rp.MaxAttempts; attempt++ {
		if e.Metrics != nil {
			e.Metrics.IncrementRetries(r.runID, nodeID, "transient")
		}
		delay := graph.ComputeBackoff(attempt-1, rp.BaseDelay, rp.MaxDelay, nil)
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(delay):
		}
		node := e.Graph.Nodes[nodeID]
		result := node.Run(ctx, input)
		if result.Err == nil {
			return result, nil
		}
		last = result
	}
	return last, last.Err
}

func (e *Executor) checkpoint(ctx context.Context, r *run) {
	r.step++
	completedList := make([]string, 0, len(r.completed))
	for id := range r.completed {
		completedList = append(completedList, id)
	}
	sort.Strings(completedList)

	_ = e.Store.SaveStep(ctx, r.runID, r.step, "checkpoint", r.state)
	_ = e.Store.SaveCheckpointV2(ctx, store.CheckpointV2[workflowstate.State]{
		RunID:     r.runID,
		StepID:    r.step,
		State:     r.state,
		Frontier:  completedList,
		Timestamp: timeOrZero(),
	})
}

// timeOrZero avoids calling time.Now() directly at the call site so the
// checkpoint's Timestamp assignment reads clearly as "best-effort, not a
// correctness dependency" — CheckpointV2 ordering relies on StepID, not
// wall-clock time.
func timeOrZero() time.Time { return time.Now() }

func dedupeFrontier(in []pendingWork) []pendingWork {
	seen := map[string]bool{}
	out := make([]pendingWork, 0, len(in))
	for _, w := range in {
		key := w.nodeID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
	}
	return out
}

func asPermanent(err error, target **ports.PermanentError) bool {
	return errors.As(err, target)
}
