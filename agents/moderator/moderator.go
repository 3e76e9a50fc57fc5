// Package moderator implements the Moderator agent: a pure
// severity-driven decision procedure layered under an LLM proposal,
// plus a secondary feedback-generation call when the decision is
// iterate and the LLM's own feedback is too thin to act on.
package moderator

import (
	"context"
	"strconv"
	"strings"

	"github.com/coursetutor/ragdebate/agents/critic"
	"github.com/coursetutor/ragdebate/llm"
)

// Decision is the moderator's decision alphabet.
type Decision string

const (
	Converged          Decision = "converged"
	Iterate            Decision = "iterate"
	AbortDeadlock      Decision = "abort_deadlock"
	EscalateWithWarning Decision = "escalate_with_warning"
)

// severityScore is the fixed severity -> numeric score map used to
// compute a critique set's aggregate severity.
var severityScore = map[string]float64{
	"low":      0.2,
	"medium":   0.5,
	"high":     0.8,
	"critical": 1.0,
}

const (
	defaultConvergenceThreshold  = 0.3
	defaultCriticalSeverityCap   = 2
	minActionableFeedbackLength  = 20
)

// Input bundles the decision procedure's deterministic inputs.
type Input struct {
	Critiques            []critic.Critique
	CurrentRound         int
	MaxRounds            int
	LLMProposedDecision  Decision
	ConvergenceThreshold float64
	CriticalSeverityCap  int
}

// Outcome describes the result of the pure decision procedure: the
// final Decision, and the aggregate severity score it was computed
// from.
type Outcome struct {
	Decision         Decision
	AggregateSeverity float64
	CriticalCount    int
}

// Decide applies a six-rule ordered decision procedure: deadlock abort,
// critical-count override, a severity-cap escalation, a low-severity
// convergence shortcut, an only-low-severity (or no-critique) shortcut,
// and finally deference to
// the LLM's own proposed decision. It is pure: no I/O, deterministic
// given the same Input.
func Decide(in Input) Outcome {
	threshold := in.ConvergenceThreshold
	if threshold == 0 {
		threshold = defaultConvergenceThreshold
	}
	criticalCap := in.CriticalSeverityCap
	if criticalCap == 0 {
		criticalCap = defaultCriticalSeverityCap
	}

	counts := countBySeverity(in.Critiques)
	aggregate := aggregateSeverity(counts)
	criticalCount := counts["critical"]

	// Rule 1.
	if in.CurrentRound >= in.MaxRounds {
		return Outcome{Decision: AbortDeadlock, AggregateSeverity: aggregate, CriticalCount: criticalCount}
	}

	// Rule 2.
	if in.LLMProposedDecision == Converged && criticalCount > 0 {
		if in.CurrentRound+1 >= in.MaxRounds {
			return Outcome{Decision: EscalateWithWarning, AggregateSeverity: aggregate, CriticalCount: criticalCount}
		}
		return Outcome{Decision: Iterate, AggregateSeverity: aggregate, CriticalCount: criticalCount}
	}

	// Rule 3.
	if criticalCount >= criticalCap {
		return Outcome{Decision: EscalateWithWarning, AggregateSeverity: aggregate, CriticalCount: criticalCount}
	}

	// Rule 4.
	if aggregate < threshold && in.LLMProposedDecision == Converged {
		return Outcome{Decision: Converged, AggregateSeverity: aggregate, CriticalCount: criticalCount}
	}

	// Rule 5.
	if counts["critical"]+counts["high"]+counts["medium"] == 0 {
		return Outcome{Decision: Converged, AggregateSeverity: aggregate, CriticalCount: criticalCount}
	}

	// Rule 6.
	return Outcome{Decision: in.LLMProposedDecision, AggregateSeverity: aggregate, CriticalCount: criticalCount}
}

func countBySeverity(critiques []critic.Critique) map[string]int {
	counts := map[string]int{"low": 0, "medium": 0, "high": 0, "critical": 0}
	for _, c := range critiques {
		if _, ok := counts[c.Severity]; ok {
			counts[c.Severity]++
		}
	}
	return counts
}

func aggregateSeverity(counts map[string]int) float64 {
	var a float64
	for sev, n := range counts {
		a += float64(n) * severityScore[sev]
	}
	return a
}

// LLMProposal is the four-field LLM decision call output.
type LLMProposal struct {
	Decision         Decision
	Reasoning        string
	Feedback         string
	ConvergenceScore float64
}

// Propose runs the moderator's LLM decision call and parses its four
// named fields.
func Propose(ctx context.Context, client llm.Client, query string, critiques []critic.Critique, currentRound, maxRounds int) (LLMProposal, error) {
	prompt := buildProposalPrompt(query, critiques, currentRound, maxRounds)
	out, err := client.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return LLMProposal{}, err
	}
	return parseProposal(out), nil
}

func buildProposalPrompt(query string, critiques []critic.Critique, currentRound, maxRounds int) string {
	var b strings.Builder
	b.WriteString("Review the critiques below for round ")
	b.WriteString(strconv.Itoa(currentRound))
	b.WriteString(" of ")
	b.WriteString(strconv.Itoa(maxRounds))
	b.WriteString(" on the question: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	for _, c := range critiques {
		b.WriteString("- [")
		b.WriteString(string(c.Type))
		b.WriteString("/")
		b.WriteString(c.Severity)
		b.WriteString("] ")
		b.WriteString(c.Description)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with exactly these fields, one per line:\n")
	b.WriteString("DECISION: converged|iterate\n")
	b.WriteString("REASONING: ...\n")
	b.WriteString("FEEDBACK: concrete revision instructions if iterating, else empty\n")
	b.WriteString("CONVERGENCE_SCORE: a number from 0 to 1\n")
	return b.String()
}

func parseProposal(text string) LLMProposal {
	var out LLMProposal
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "DECISION:"):
			d := strings.TrimSpace(strings.TrimPrefix(line, "DECISION:"))
			out.Decision = Decision(strings.ToLower(d))
		case strings.HasPrefix(line, "REASONING:"):
			out.Reasoning = strings.TrimSpace(strings.TrimPrefix(line, "REASONING:"))
		case strings.HasPrefix(line, "FEEDBACK:"):
			out.Feedback = strings.TrimSpace(strings.TrimPrefix(line, "FEEDBACK:"))
		case strings.HasPrefix(line, "CONVERGENCE_SCORE:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "CONVERGENCE_SCORE:"))
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				out.ConvergenceScore = f
			}
		}
	}
	return out
}

// NeedsConcreteFeedback reports whether the moderator must run a
// secondary feedback-generation call: the decision is iterate and the
// LLM's own feedback is empty or under 20 characters.
func NeedsConcreteFeedback(decision Decision, feedback string) bool {
	return decision == Iterate && len(strings.TrimSpace(feedback)) < minActionableFeedbackLength
}

// GenerateConcreteFeedback runs the secondary LLM call referencing the
// most severe specific critiques. If that call also fails, callers
// should fall back to TemplatedFallback.
func GenerateConcreteFeedback(ctx context.Context, client llm.Client, critiques []critic.Critique) (string, error) {
	mostSevere := mostSevereCritiques(critiques, 3)

	var b strings.Builder
	b.WriteString("Write concrete, actionable revision instructions addressing these specific critiques:\n")
	for _, c := range mostSevere {
		b.WriteString("- [")
		b.WriteString(c.Severity)
		b.WriteString("] ")
		b.WriteString(c.Description)
		b.WriteString("\n")
	}
	return client.Generate(ctx, llm.Request{Prompt: b.String()})
}

func mostSevereCritiques(critiques []critic.Critique, limit int) []critic.Critique {
	ordered := make([]critic.Critique, len(critiques))
	copy(ordered, critiques)

	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && severityScore[ordered[j].Severity] > severityScore[ordered[j-1].Severity]; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}

// TemplatedFallback assembles feedback from severity counts when both
// the LLM decision call's feedback and the secondary feedback call
// fail or are insufficient.
func TemplatedFallback(critiques []critic.Critique) string {
	counts := countBySeverity(critiques)
	var b strings.Builder
	b.WriteString("Address the outstanding issues before resubmitting: ")
	parts := []string{}
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, strconv.Itoa(n)+" "+sev)
		}
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(" severity issue(s) raised by the critic.")
	return b.String()
}
