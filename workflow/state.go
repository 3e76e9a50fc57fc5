// Package workflow wires the six debate agents (retrieve, strategist,
// critic, moderator, reporter, tutor) into a graph over
// engine.Engine[State], with the Moderator's decision driving the
// iterate/converge routing between rounds.
package workflow

import (
	"time"

	"github.com/coursetutor/ragdebate/agents/critic"
	"github.com/coursetutor/ragdebate/agents/moderator"
	"github.com/coursetutor/ragdebate/agents/reporter"
	"github.com/coursetutor/ragdebate/agents/strategist"
	"github.com/coursetutor/ragdebate/agents/tutor"
	"github.com/coursetutor/ragdebate/retrieval"
)

// Status is the workflow_status enum.
type Status string

const (
	StatusRetrieving   Status = "retrieving"
	StatusDrafting     Status = "drafting"
	StatusCritiquing   Status = "critiquing"
	StatusDebating     Status = "debating"
	StatusSynthesizing Status = "synthesizing"
	StatusTutoring     Status = "tutoring"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
)

// AgentExecution records one node's execution for the audit log.
type AgentExecution struct {
	AgentName      string    `json:"agent_name"`
	InputSummary   string    `json:"input_summary"`
	OutputSummary  string    `json:"output_summary"`
	ProcessingTime float64   `json:"processing_time"`
	Success        bool      `json:"success"`
	Timestamp      time.Time `json:"timestamp"`
}

// Options mirrors the recognized run_stream options.
type Options struct {
	Mode                string
	BaseModel           string
	HeavyModel          string
	RAGModel            string
	CoursePrompt        string
	MaxRounds           int
	ConversationHistory []string
}

// State is the single mutable-record value threaded through every node.
// Fields use snake_case JSON tags to match the final response's wire
// shape.
type State struct {
	Query     string  `json:"query"`
	CourseID  string  `json:"course_id"`
	SessionID string  `json:"session_id"`
	Options   Options `json:"-"`

	RetrievalResults      []retrieval.Result `json:"retrieval_results"`
	RetrievalQualityScore float64            `json:"retrieval_quality_score"`
	RetrievalStrategy     string             `json:"retrieval_strategy"`
	SpeculativeQueries    []string           `json:"speculative_queries"`

	Draft             *strategist.Draft  `json:"draft,omitempty"`
	Critiques         []critic.Critique  `json:"critiques"`
	ModeratorDecision moderator.Decision `json:"moderator_decision"`
	ModeratorFeedback string             `json:"moderator_feedback,omitempty"`
	ConvergenceScore  float64            `json:"convergence_score"`
	CurrentRound      int                `json:"current_round"`
	MaxRounds         int                `json:"max_rounds"`

	FinalAnswer      *reporter.Answer   `json:"final_answer,omitempty"`
	TutorInteraction *tutor.Interaction `json:"tutor_interaction,omitempty"`

	ConversationHistory []AgentExecution   `json:"conversation_history"`
	ProcessingTimes     map[string]float64 `json:"processing_times"`
	ErrorMessages       []string           `json:"error_messages"`
	WorkflowStatus      Status             `json:"workflow_status"`
}

// Reduce implements the append/override merge discipline: conversation_history
// and error_messages are append-only audit logs; every other field is
// overridden wholesale by whichever node last produced it, matching how a
// single node owns each of those fields for the whole run.
func Reduce(prev, delta State) State {
	out := delta

	out.ConversationHistory = append(append([]AgentExecution{}, prev.ConversationHistory...), delta.ConversationHistory...)
	out.ErrorMessages = append(append([]string{}, prev.ErrorMessages...), delta.ErrorMessages...)

	if delta.ProcessingTimes == nil {
		out.ProcessingTimes = prev.ProcessingTimes
	} else {
		merged := make(map[string]float64, len(prev.ProcessingTimes)+len(delta.ProcessingTimes))
		for k, v := range prev.ProcessingTimes {
			merged[k] = v
		}
		for k, v := range delta.ProcessingTimes {
			merged[k] = v
		}
		out.ProcessingTimes = merged
	}

	out = overrideUnsetFields(prev, out)

	return out
}

// overrideUnsetFields preserves prev's value for fields the delta left
// at its zero value, so a node that only touches e.g. Draft doesn't
// wipe out RetrievalResults set by an earlier node.
func overrideUnsetFields(prev, delta State) State {
	out := delta

	if delta.Query == "" {
		out.Query = prev.Query
	}
	if delta.CourseID == "" {
		out.CourseID = prev.CourseID
	}
	if delta.SessionID == "" {
		out.SessionID = prev.SessionID
	}
	if delta.RetrievalResults == nil {
		out.RetrievalResults = prev.RetrievalResults
	}
	if delta.RetrievalQualityScore == 0 {
		out.RetrievalQualityScore = prev.RetrievalQualityScore
	}
	if delta.RetrievalStrategy == "" {
		out.RetrievalStrategy = prev.RetrievalStrategy
	}
	if delta.SpeculativeQueries == nil {
		out.SpeculativeQueries = prev.SpeculativeQueries
	}
	if delta.Draft == nil {
		out.Draft = prev.Draft
	}
	if delta.Critiques == nil {
		out.Critiques = prev.Critiques
	}
	if delta.ModeratorDecision == "" {
		out.ModeratorDecision = prev.ModeratorDecision
	}
	if delta.ModeratorFeedback == "" {
		out.ModeratorFeedback = prev.ModeratorFeedback
	}
	if delta.ConvergenceScore == 0 {
		out.ConvergenceScore = prev.ConvergenceScore
	}
	if delta.CurrentRound == 0 {
		out.CurrentRound = prev.CurrentRound
	}
	if delta.MaxRounds == 0 {
		out.MaxRounds = prev.MaxRounds
	}
	if delta.FinalAnswer == nil {
		out.FinalAnswer = prev.FinalAnswer
	}
	if delta.TutorInteraction == nil {
		out.TutorInteraction = prev.TutorInteraction
	}
	if delta.WorkflowStatus == "" {
		out.WorkflowStatus = prev.WorkflowStatus
	}

	return out
}
