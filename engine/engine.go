package engine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coursetutor/ragdebate/engine/emit"
	"github.com/coursetutor/ragdebate/engine/store"
)

// contextKey is a private type for context value keys, so engine-internal
// keys can't collide with keys from other packages.
type contextKey string

const (
	// RunIDKey is the context key for the current workflow run identifier.
	RunIDKey contextKey = "langgraph.run_id"

	// StepIDKey is the context key for the current execution step number.
	StepIDKey contextKey = "langgraph.step_id"

	// NodeIDKey is the context key for the current node identifier.
	NodeIDKey contextKey = "langgraph.node_id"

	// AttemptKey is the context key for the current retry attempt (0-based).
	AttemptKey contextKey = "langgraph.attempt"

	// RNGKey is the context key for the run's seeded *rand.Rand, used for
	// reproducible retry-backoff jitter across runs sharing a runID.
	RNGKey contextKey = "langgraph.rng"
)

// initRNG seeds a random source from runID's SHA-256 hash, so retry jitter
// is reproducible for a given run.
func initRNG(runID string) *rand.Rand {
	h := sha256.Sum256([]byte(runID))
	seed := int64(binary.BigEndian.Uint64(h[:8])) // #nosec G115 -- seed derivation, not a security boundary
	return rand.New(rand.NewSource(seed))          // #nosec G404 -- deterministic jitter seed, not security-sensitive
}

// Engine orchestrates stateful workflow execution: it runs nodes in
// sequence (or, on fan-out, a bounded set of nodes in parallel), merges
// state updates via the reducer, persists state after each step, emits
// observability events, and enforces retry/timeout/step-count limits.
//
// Type parameter S is the state type shared across the workflow.
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	edges     []Edge[S]
	startNode string

	store   store.Store[S]
	emitter emit.Emitter
	metrics *PrometheusMetrics

	opts Options
}

// Options configures Engine execution behavior. The zero value is valid and
// runs with no step limit, no per-node timeout, and no metrics.
type Options struct {
	// MaxSteps caps the number of node executions in one Run call. Zero
	// means unlimited; use this to guard against missing exit conditions in
	// a loop. When exceeded, Run returns an EngineError coded
	// MAX_STEPS_EXCEEDED.
	MaxSteps int

	// DefaultNodeTimeout bounds the execution time of nodes that don't
	// declare their own NodePolicy.Timeout. Zero disables the default.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget bounds the total execution time of one Run call.
	// Zero disables the budget.
	RunWallClockBudget time.Duration

	// Metrics, if set, receives step_latency_ms and retries_total
	// observations for every node execution.
	Metrics *PrometheusMetrics
}

// New creates an Engine with the given reducer, store, and emitter.
// Additional configuration is accepted either as an Options struct or as
// one or more functional Option values (see WithMaxSteps, WithMetrics,
// etc); later arguments override fields set by earlier ones.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, options ...interface{}) *Engine[S] {
	cfg := &engineConfig{}
	for _, opt := range options {
		switch v := opt.(type) {
		case Options:
			cfg.opts = v
		case Option:
			_ = v(cfg)
		}
	}

	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		edges:   make([]Edge[S], 0),
		store:   st,
		emitter: emitter,
		metrics: cfg.opts.Metrics,
		opts:    cfg.opts,
	}
}

// Add registers a node under a unique ID. Nodes must be added before
// StartAt, Connect, or Run reference them.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for Run. The node must already be registered
// via Add.
func (e *Engine[S]) StartAt(nodeID string) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	e.startNode = nodeID
	return nil
}

// Connect adds an edge from one node to another, traversed unconditionally
// if predicate is nil or when predicate(state) is true. A node's own
// explicit NodeResult.Route always takes precedence over edges.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from startNode to a terminal route or error,
// persisting state after every step and emitting node_start/node_end/
// routing_decision/error observability events along the way.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if e == nil {
		return zero, &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if e.reducer == nil {
		return zero, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return zero, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if e.startNode == "" {
		return zero, &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}

	e.mu.RLock()
	_, exists := e.nodes[e.startNode]
	e.mu.RUnlock()
	if !exists {
		return zero, &EngineError{Message: "start node does not exist: " + e.startNode, Code: "NODE_NOT_FOUND"}
	}

	if e.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunWallClockBudget)
		defer cancel()
	}

	ctx = context.WithValue(ctx, RNGKey, initRNG(runID))

	currentState := initial
	currentNode := e.startNode
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{Message: "workflow exceeded MaxSteps limit", Code: "MAX_STEPS_EXCEEDED"}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		e.mu.RUnlock()
		if !exists {
			return zero, &EngineError{Message: "node not found during execution: " + currentNode, Code: "NODE_NOT_FOUND"}
		}

		e.emitNodeStart(runID, currentNode, step-1)

		result, err := e.runNode(ctx, runID, currentNode, step-1, nodeImpl, currentState)
		if err != nil {
			e.emitError(runID, currentNode, step-1, err)
			return zero, err
		}

		currentState = e.reducer(currentState, result.Delta)

		if err := e.store.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
			return zero, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR"}
		}

		e.emitNodeEnd(runID, currentNode, step-1, result.Delta)

		if result.Route.Terminal {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"terminal": true})
			return currentState, nil
		}

		if len(result.Route.Many) > 0 {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{
				"parallel": true,
				"branches": result.Route.Many,
			})
			parallelState, err := e.executeParallel(ctx, result.Route.Many, currentState)
			if err != nil {
				return zero, err
			}
			return parallelState, nil
		}

		if result.Route.To != "" {
			e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"next_node": result.Route.To})
			currentNode = result.Route.To
			continue
		}

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, &EngineError{Message: "no valid route from node: " + currentNode, Code: "NO_ROUTE"}
		}
		e.emitRoutingDecision(runID, currentNode, step-1, map[string]interface{}{"next_node": nextNode, "via_edge": true})
		currentNode = nextNode
	}
}

// runNode executes one node, applying its NodePolicy's timeout and retry
// behavior (if the node declares one via a Policy() NodePolicy method) and
// recording step latency / retry counts when metrics are configured.
func (e *Engine[S]) runNode(ctx context.Context, runID, nodeID string, step int, nodeImpl Node[S], state S) (NodeResult[S], error) {
	var policy *NodePolicy
	if p, ok := nodeImpl.(interface{ Policy() NodePolicy }); ok {
		np := p.Policy()
		policy = &np
	}

	timeout := getNodeTimeout(policy, e.opts.DefaultNodeTimeout)

	attempt := 0
	maxAttempts := 1
	var retryPolicy *RetryPolicy
	if policy != nil && policy.RetryPolicy != nil {
		retryPolicy = policy.RetryPolicy
		if retryPolicy.MaxAttempts > 1 {
			maxAttempts = retryPolicy.MaxAttempts
		}
	}

	rng, _ := ctx.Value(RNGKey).(*rand.Rand)

	for {
		attemptCtx := context.WithValue(ctx, RunIDKey, runID)
		attemptCtx = context.WithValue(attemptCtx, StepIDKey, step)
		attemptCtx = context.WithValue(attemptCtx, NodeIDKey, nodeID)
		attemptCtx = context.WithValue(attemptCtx, AttemptKey, attempt)

		start := time.Now()
		result, timeoutErr := executeNodeWithTimeout(attemptCtx, nodeImpl, nodeID, state, policy, timeout)
		latency := time.Since(start)

		status := "success"
		execErr := result.Err
		if timeoutErr != nil {
			status = "timeout"
			execErr = timeoutErr
		} else if execErr != nil {
			status = "error"
		}
		if e.metrics != nil {
			e.metrics.RecordStepLatency(runID, nodeID, latency, status)
		}

		if execErr == nil {
			return result, nil
		}

		attempt++
		if retryPolicy == nil || attempt >= maxAttempts || retryPolicy.Retryable == nil || !retryPolicy.Retryable(execErr) {
			return result, execErr
		}

		if e.metrics != nil {
			e.metrics.IncrementRetries(runID, nodeID, status)
		}

		delay := computeBackoff(attempt-1, retryPolicy.BaseDelay, retryPolicy.MaxDelay, rng)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// evaluateEdges returns the first outgoing edge from fromNode whose
// predicate matches state (nil predicates always match), or "" if none do.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// executeParallel runs each branch node against its own deep copy of state
// concurrently, then merges their deltas back in lexicographic node-ID
// order so the result is independent of goroutine completion order.
func (e *Engine[S]) executeParallel(ctx context.Context, branches []string, state S) (S, error) {
	var zero S

	type branchResult struct {
		nodeID string
		delta  S
		err    error
	}

	results := make(chan branchResult, len(branches))
	var wg sync.WaitGroup

	for _, branchID := range branches {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()

			branchState, err := deepCopyState(state)
			if err != nil {
				results <- branchResult{nodeID: nodeID, err: err}
				return
			}

			e.mu.RLock()
			node, exists := e.nodes[nodeID]
			e.mu.RUnlock()
			if !exists {
				results <- branchResult{nodeID: nodeID, err: &EngineError{Message: "parallel branch node not found: " + nodeID, Code: "NODE_NOT_FOUND"}}
				return
			}

			result := node.Run(ctx, branchState)
			if result.Err != nil {
				results <- branchResult{nodeID: nodeID, err: result.Err}
				return
			}
			results <- branchResult{nodeID: nodeID, delta: result.Delta}
		}(branchID)
	}

	wg.Wait()
	close(results)

	branchResults := make([]branchResult, 0, len(branches))
	for result := range results {
		branchResults = append(branchResults, result)
	}

	for _, result := range branchResults {
		if result.err != nil {
			return zero, result.err
		}
	}

	sort.Slice(branchResults, func(i, j int) bool {
		return branchResults[i].nodeID < branchResults[j].nodeID
	})

	finalState := state
	for _, result := range branchResults {
		finalState = e.reducer(finalState, result.delta)
	}
	return finalState, nil
}

// deepCopyState isolates a branch's state from its siblings via a
// JSON round-trip; S is already required to be JSON-serializable for
// store.Store persistence, so no extra constraint is introduced.
func deepCopyState[S any](s S) (S, error) {
	var out S
	data, err := json.Marshal(s)
	if err != nil {
		return out, fmt.Errorf("deep copy: marshal state: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("deep copy: unmarshal state: %w", err)
	}
	return out, nil
}

func (e *Engine[S]) emitNodeStart(runID, nodeID string, step int) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{RunID: runID, NodeID: nodeID, Step: step, Msg: "node_start"})
}

func (e *Engine[S]) emitNodeEnd(runID, nodeID string, step int, delta S) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{RunID: runID, NodeID: nodeID, Step: step, Msg: "node_end", Meta: map[string]interface{}{"delta": delta}})
}

func (e *Engine[S]) emitError(runID, nodeID string, step int, err error) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{RunID: runID, NodeID: nodeID, Step: step, Msg: "error", Meta: map[string]interface{}{"error": err.Error()}})
}

func (e *Engine[S]) emitRoutingDecision(runID, nodeID string, step int, meta map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{RunID: runID, NodeID: nodeID, Step: step, Msg: "routing_decision", Meta: meta})
}

// EngineError represents an error from Engine operations, with a
// machine-readable Code alongside the human-readable Message.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
