package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coursetutor/ragdebate/agents/critic"
	"github.com/coursetutor/ragdebate/agents/moderator"
	"github.com/coursetutor/ragdebate/agents/reporter"
	"github.com/coursetutor/ragdebate/agents/strategist"
	"github.com/coursetutor/ragdebate/agents/tutor"
	"github.com/coursetutor/ragdebate/chain"
	"github.com/coursetutor/ragdebate/engine"
	"github.com/coursetutor/ragdebate/engine/emit"
	"github.com/coursetutor/ragdebate/engine/store"
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/ragerr"
	"github.com/coursetutor/ragdebate/retrieval"
)

// sharedMetrics is initialized once per process so repeated New/
// NewStreaming calls (one per run_stream request) reuse the same
// Prometheus collectors instead of panicking on duplicate registration.
var (
	metricsOnce sync.Once
	metrics     *engine.PrometheusMetrics
)

func sharedMetrics() *engine.PrometheusMetrics {
	metricsOnce.Do(func() {
		metrics = engine.NewPrometheusMetrics(prometheus.NewRegistry())
	})
	return metrics
}

const (
	nodeRetrieve   = "retrieve"
	nodeStrategist = "strategist"
	nodeCritic     = "critic"
	nodeModerator  = "moderator"
	nodeReporter   = "reporter"
	nodeTutor      = "tutor"

	defaultRetrievalQualityThreshold = 0.7
	defaultMaxRounds                 = 3
)

// llmRetryPolicy runs a node up to 3 attempts, with exponential backoff
// from a 1s base, when its failure is a transient provider error (5xx,
// overloaded) rather than a prompt-shape or validation error.
func llmRetryPolicy() engine.NodePolicy {
	return engine.NodePolicy{
		Timeout: 30 * time.Second,
		RetryPolicy: &engine.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    2 * time.Second,
			Retryable: func(err error) bool {
				return errors.Is(err, ragerr.ErrTransient)
			},
		},
	}
}

// llmTimeoutOnlyPolicy bounds execution time without retrying: used for
// nodes whose side effects (e.g. streaming partial output to the caller)
// can't be safely replayed on a transient failure.
func llmTimeoutOnlyPolicy() engine.NodePolicy {
	return engine.NodePolicy{Timeout: 45 * time.Second}
}

// Clients bundles the LLM clients each node needs. HeavyModel, when set,
// drives the strategist and critic; BaseModel drives everything else
// (reframing, moderator, reporter, tutor) and also the strategist and
// critic when HeavyModel is nil.
type Clients struct {
	BaseModel  llm.Client
	HeavyModel llm.Client
}

// New builds the six-agent debate graph over engine.Engine[State]:
// retrieve -> strategist -> critic -> moderator, with the Moderator's
// conditional edge either looping back to strategist (iterate) or
// advancing to reporter -> tutor (converged / abort_deadlock /
// escalate_with_warning). Anything else is a terminal failure.
// retrievalQualityThreshold configures the Stage 3 skip threshold for
// the retrieve node's speculative chain; a zero value falls back to
// defaultRetrievalQualityThreshold.
func New(store_ retrieval.Store, clients Clients, emitter emit.Emitter, retrievalQualityThreshold float64) (*engine.Engine[State], error) {
	return build(store_, clients, emitter, retrievalQualityThreshold, nil)
}

// NewStreaming is identical to New except the Reporter node streams its
// synthesis via reporter.SynthesizeStream, forwarding each chunk to
// onContent as it arrives. The Orchestrator supplies onContent and reads
// it concurrently with the blocking engine.Run call.
func NewStreaming(store_ retrieval.Store, clients Clients, emitter emit.Emitter, retrievalQualityThreshold float64, onContent func(string)) (*engine.Engine[State], error) {
	return build(store_, clients, emitter, retrievalQualityThreshold, onContent)
}

func build(store_ retrieval.Store, clients Clients, emitter emit.Emitter, retrievalQualityThreshold float64, onContent func(string)) (*engine.Engine[State], error) {
	if retrievalQualityThreshold == 0 {
		retrievalQualityThreshold = defaultRetrievalQualityThreshold
	}

	heavy := clients.HeavyModel
	if heavy == nil {
		heavy = clients.BaseModel
	}

	eng := engine.New[State](Reduce, store.NewMemStore[State](), emitter, engine.WithMetrics(sharedMetrics()))

	if err := eng.Add(nodeRetrieve, engine.WithPolicy[State](retrieveNode(store_, clients.BaseModel, retrievalQualityThreshold), llmRetryPolicy())); err != nil {
		return nil, err
	}
	if err := eng.Add(nodeStrategist, engine.WithPolicy[State](strategistNode(heavy), llmRetryPolicy())); err != nil {
		return nil, err
	}
	if err := eng.Add(nodeCritic, engine.WithPolicy[State](criticNode(heavy), llmRetryPolicy())); err != nil {
		return nil, err
	}
	if err := eng.Add(nodeModerator, engine.WithPolicy[State](moderatorNode(clients.BaseModel), llmRetryPolicy())); err != nil {
		return nil, err
	}
	if err := eng.Add(nodeReporter, engine.WithPolicy[State](reporterNode(clients.BaseModel, onContent), llmTimeoutOnlyPolicy())); err != nil {
		return nil, err
	}
	if err := eng.Add(nodeTutor, engine.WithPolicy[State](tutorNode(clients.BaseModel), llmRetryPolicy())); err != nil {
		return nil, err
	}

	if err := eng.StartAt(nodeRetrieve); err != nil {
		return nil, err
	}
	if err := eng.Connect(nodeRetrieve, nodeStrategist, nil); err != nil {
		return nil, err
	}
	if err := eng.Connect(nodeStrategist, nodeCritic, nil); err != nil {
		return nil, err
	}
	if err := eng.Connect(nodeCritic, nodeModerator, nil); err != nil {
		return nil, err
	}
	if err := eng.Connect(nodeReporter, nodeTutor, nil); err != nil {
		return nil, err
	}

	return eng, nil
}

func timed(agentName string, start time.Time, state *State, inputSummary, outputSummary string, success bool) {
	elapsed := time.Since(start).Seconds()
	state.ProcessingTimes = map[string]float64{agentName: elapsed}
	state.ConversationHistory = []AgentExecution{{
		AgentName:      agentName,
		InputSummary:   inputSummary,
		OutputSummary:  outputSummary,
		ProcessingTime: elapsed,
		Success:        success,
		Timestamp:      start,
	}}
}

func retrieveNode(st retrieval.Store, reframer llm.Client, qualityThreshold float64) engine.NodeFunc[State] {
	return func(ctx context.Context, s State) engine.NodeResult[State] {
		start := time.Now()
		outcome := chain.Run(ctx, st, reframer, s.CourseID, s.Query, qualityThreshold, nil)

		delta := State{
			RetrievalResults:      outcome.Results,
			RetrievalQualityScore: outcome.Quality,
			RetrievalStrategy:     outcome.Strategy,
			SpeculativeQueries:    outcome.SpeculativeQueries,
			WorkflowStatus:        StatusDrafting,
		}
		timed("retrieve", start, &delta, s.Query, outcome.Strategy, true)
		return engine.NodeResult[State]{Delta: delta, Route: engine.Goto(nodeStrategist)}
	}
}

func strategistNode(client llm.Client) engine.NodeFunc[State] {
	return func(ctx context.Context, s State) engine.NodeResult[State] {
		start := time.Now()
		round := s.CurrentRound
		if round == 0 {
			round = 1
		}

		draft, err := strategist.Generate(ctx, client, strategist.Input{
			Query:            s.Query,
			RetrievalResults: s.RetrievalResults,
			CoursePrompt:     s.Options.CoursePrompt,
			PreviousFeedback: s.ModeratorFeedback,
			Round:            round,
		})

		delta := State{CurrentRound: round, WorkflowStatus: StatusCritiquing}
		if err != nil {
			delta.ErrorMessages = []string{err.Error()}
			timed("strategist", start, &delta, s.Query, "", false)
			return engine.NodeResult[State]{Delta: delta, Err: err}
		}

		delta.Draft = &draft
		timed("strategist", start, &delta, s.Query, draft.Content, true)
		return engine.NodeResult[State]{Delta: delta, Route: engine.Goto(nodeCritic)}
	}
}

func criticNode(client llm.Client) engine.NodeFunc[State] {
	return func(ctx context.Context, s State) engine.NodeResult[State] {
		start := time.Now()
		var draft strategist.Draft
		if s.Draft != nil {
			draft = *s.Draft
		}

		result := critic.Run(ctx, client, client, critic.Input{
			Query:            s.Query,
			Draft:            draft,
			RetrievalResults: s.RetrievalResults,
		})

		delta := State{Critiques: result.Critiques, WorkflowStatus: StatusDebating}
		timed("critic", start, &delta, draft.Content, result.Assessment, true)
		return engine.NodeResult[State]{Delta: delta, Route: engine.Goto(nodeModerator)}
	}
}

func moderatorNode(client llm.Client) engine.NodeFunc[State] {
	return func(ctx context.Context, s State) engine.NodeResult[State] {
		start := time.Now()
		maxRounds := s.MaxRounds
		if maxRounds == 0 {
			maxRounds = defaultMaxRounds
		}

		proposal, err := moderator.Propose(ctx, client, s.Query, s.Critiques, s.CurrentRound, maxRounds)
		if err != nil {
			delta := State{MaxRounds: maxRounds, WorkflowStatus: StatusFailed, ErrorMessages: []string{err.Error()}}
			timed("moderator", start, &delta, s.Query, "", false)
			return engine.NodeResult[State]{Delta: delta, Err: err}
		}

		outcome := moderator.Decide(moderator.Input{
			Critiques:           s.Critiques,
			CurrentRound:        s.CurrentRound,
			MaxRounds:           maxRounds,
			LLMProposedDecision: proposal.Decision,
		})

		feedback := proposal.Feedback
		if moderator.NeedsConcreteFeedback(outcome.Decision, feedback) {
			if generated, genErr := moderator.GenerateConcreteFeedback(ctx, client, s.Critiques); genErr == nil {
				feedback = generated
			} else {
				feedback = moderator.TemplatedFallback(s.Critiques)
			}
		}

		convergence := 1 - outcome.AggregateSeverity
		if convergence < 0 {
			convergence = 0
		}
		delta := State{
			MaxRounds:         maxRounds,
			ModeratorDecision: outcome.Decision,
			ModeratorFeedback: feedback,
			ConvergenceScore:  convergence,
		}
		timed("moderator", start, &delta, s.Query, string(outcome.Decision), true)

		switch outcome.Decision {
		case moderator.Iterate:
			delta.CurrentRound = s.CurrentRound + 1
			delta.WorkflowStatus = StatusDrafting
			return engine.NodeResult[State]{Delta: delta, Route: engine.Goto(nodeStrategist)}
		case moderator.Converged, moderator.AbortDeadlock, moderator.EscalateWithWarning:
			delta.WorkflowStatus = StatusSynthesizing
			return engine.NodeResult[State]{Delta: delta, Route: engine.Goto(nodeReporter)}
		default:
			delta.WorkflowStatus = StatusFailed
			return engine.NodeResult[State]{Delta: delta, Route: engine.Stop(), Err: &engine.NodeError{Message: "moderator returned an unroutable decision", NodeID: nodeModerator}}
		}
	}
}

func reporterNode(client llm.Client, onContent func(string)) engine.NodeFunc[State] {
	return func(ctx context.Context, s State) engine.NodeResult[State] {
		start := time.Now()
		var draft strategist.Draft
		if s.Draft != nil {
			draft = *s.Draft
		}

		in := reporter.Input{
			Query:            s.Query,
			Draft:            draft,
			Critiques:        s.Critiques,
			RetrievalResults: s.RetrievalResults,
			Decision:         s.ModeratorDecision,
			ConvergenceScore: s.ConvergenceScore,
		}

		var answer reporter.Answer
		var err error
		if onContent != nil {
			answer, err = reporter.SynthesizeStream(ctx, client, in, onContent)
		} else {
			answer, err = reporter.Synthesize(ctx, client, in)
		}

		delta := State{WorkflowStatus: StatusTutoring}
		if err != nil {
			delta.ErrorMessages = []string{err.Error()}
			delta.WorkflowStatus = StatusFailed
			timed("reporter", start, &delta, s.Query, "", false)
			return engine.NodeResult[State]{Delta: delta, Err: err}
		}

		delta.FinalAnswer = &answer
		timed("reporter", start, &delta, s.Query, answer.StepByStepSolution, true)
		return engine.NodeResult[State]{Delta: delta, Route: engine.Goto(nodeTutor)}
	}
}

func tutorNode(client llm.Client) engine.NodeFunc[State] {
	return func(ctx context.Context, s State) engine.NodeResult[State] {
		start := time.Now()
		var answer reporter.Answer
		if s.FinalAnswer != nil {
			answer = *s.FinalAnswer
		}

		interaction, err := tutor.Run(ctx, client, tutor.Input{
			RecentQueries: s.Options.ConversationHistory,
			Answer:        answer,
		})

		delta := State{WorkflowStatus: StatusComplete}
		if err != nil {
			delta.ErrorMessages = []string{err.Error()}
			delta.WorkflowStatus = StatusFailed
			timed("tutor", start, &delta, s.Query, "", false)
			return engine.NodeResult[State]{Delta: delta, Route: engine.Stop(), Err: err}
		}

		delta.TutorInteraction = &interaction
		timed("tutor", start, &delta, s.Query, string(interaction.Type), true)
		return engine.NodeResult[State]{Delta: delta, Route: engine.Stop()}
	}
}
