// Package reporter implements the Reporter agent: branches on the
// incoming moderator decision to synthesize either a converged answer
// or a transparent deadlock/escalation report, then enhances it with
// confidence, sources, and quality indicators.
package reporter

import (
	"context"
	"sort"
	"strings"

	"github.com/coursetutor/ragdebate/agents/critic"
	"github.com/coursetutor/ragdebate/agents/moderator"
	"github.com/coursetutor/ragdebate/agents/strategist"
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
)

// VerificationLevel and ContextSupport enumerate the quality-indicator
// alphabets attached to a synthesized answer.
type VerificationLevel string
type ContextSupport string

const (
	VerificationHigh    VerificationLevel = "high"
	VerificationMedium  VerificationLevel = "medium"
	VerificationLimited VerificationLevel = "limited"

	ContextStrong   ContextSupport = "strong"
	ContextModerate ContextSupport = "moderate"
	ContextLimited  ContextSupport = "limited"

	maxSources = 5
)

// QualityIndicators is the enhancement record attached to a synthesized answer.
type QualityIndicators struct {
	DebateStatus      string
	VerificationLevel VerificationLevel
	ContextSupport    ContextSupport
}

// Answer is the Reporter's structured output. Fields populate depending
// on branch: converged uses Introduction/StepByStep/KeyTakeaways/
// ImportantNotes; deadlock/escalate use PartialSolution/
// AreasOfUncertainty/WhatWeCanConclude/Recommendations.
type Answer struct {
	Introduction       string
	StepByStepSolution string
	KeyTakeaways       string
	ImportantNotes     string

	PartialSolution               string
	AreasOfUncertainty            string
	WhatWeCanConclude             string
	RecommendationsForExploration string

	Warning string

	ConfidenceScore   float64
	Sources           []string
	QualityIndicators QualityIndicators
}

// Input bundles what the Reporter needs to synthesize an answer.
type Input struct {
	Query            string
	Draft            strategist.Draft
	Critiques        []critic.Critique
	RetrievalResults []retrieval.Result
	Decision         moderator.Decision
	ConvergenceScore float64
}

// Synthesize runs the Reporter's single LLM call and parses it into an
// Answer, then applies the shared enhancement fields.
func Synthesize(ctx context.Context, client llm.Client, in Input) (Answer, error) {
	prompt := buildPrompt(in)
	text, err := client.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return Answer{}, err
	}
	return finishAnswer(in, parseSections(in.Decision, text)), nil
}

// SynthesizeStream runs the streaming variant, feeding onChunk verbatim
// as chunks arrive. The returned Answer is parsed after the stream
// completes from the concatenated text.
func SynthesizeStream(ctx context.Context, client llm.Client, in Input, onChunk func(string)) (Answer, error) {
	prompt := buildPrompt(in)
	stream, err := client.GenerateStream(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return Answer{}, err
	}

	var full strings.Builder
	var streamErr error
	stream(func(chunk llm.Chunk, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		full.WriteString(chunk.Text)
		if onChunk != nil {
			onChunk(chunk.Text)
		}
		return true
	})
	if streamErr != nil {
		return Answer{}, streamErr
	}

	return finishAnswer(in, parseSections(in.Decision, full.String())), nil
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(in.Query)
	b.WriteString("\n\nDraft answer: ")
	b.WriteString(in.Draft.Content)
	b.WriteString("\n\n")

	if len(in.Critiques) > 0 {
		b.WriteString("Outstanding critic notes:\n")
		for _, c := range in.Critiques {
			b.WriteString("- [")
			b.WriteString(c.Severity)
			b.WriteString("] ")
			b.WriteString(c.Description)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	switch in.Decision {
	case moderator.Converged:
		b.WriteString("The debate converged. Synthesize a final answer with exactly these \"## \" headed sections: Introduction, Step By Step Solution, Key Takeaways, Important Notes.\n")
		b.WriteString("Integrate any remaining low-severity critiques naturally into the answer rather than ignoring them.\n")
	default:
		b.WriteString("The debate did not converge. Produce a transparent report with exactly these \"## \" headed sections: Partial Solution, Areas Of Uncertainty, What We Can Conclude, Recommendations For Exploration.\n")
		b.WriteString("Honestly disclose the unresolved issues, grouped by severity.\n")
		if in.Decision == moderator.EscalateWithWarning {
			b.WriteString("Also include an explicit warning that this answer requires human review.\n")
		}
	}
	return b.String()
}

func parseSections(decision moderator.Decision, text string) Answer {
	sections := splitHeadings(text)
	var a Answer

	if decision == moderator.Converged {
		a.Introduction = sections["introduction"]
		a.StepByStepSolution = orFallback(sections["step by step solution"], text)
		a.KeyTakeaways = sections["key takeaways"]
		a.ImportantNotes = sections["important notes"]
		return a
	}

	a.PartialSolution = orFallback(sections["partial solution"], text)
	a.AreasOfUncertainty = sections["areas of uncertainty"]
	a.WhatWeCanConclude = sections["what we can conclude"]
	a.RecommendationsForExploration = sections["recommendations for exploration"]
	if decision == moderator.EscalateWithWarning {
		a.Warning = "This answer did not fully resolve during debate and requires human review."
	}
	return a
}

func orFallback(section, fullText string) string {
	if strings.TrimSpace(section) == "" {
		return strings.TrimSpace(fullText)
	}
	return strings.TrimSpace(section)
}

func splitHeadings(text string) map[string]string {
	sections := make(map[string]string)
	for _, part := range strings.Split(text, "## ") {
		part = strings.TrimLeft(part, "\n")
		if part == "" {
			continue
		}
		nl := strings.IndexAny(part, "\n")
		var name, body string
		if nl < 0 {
			name = part
		} else {
			name, body = part[:nl], part[nl+1:]
		}
		sections[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(body)
	}
	return sections
}

func finishAnswer(in Input, a Answer) Answer {
	a.ConfidenceScore = in.ConvergenceScore
	a.Sources = buildSources(in.RetrievalResults)
	a.QualityIndicators = buildQualityIndicators(in)
	return a
}

func buildSources(results []retrieval.Result) []string {
	ordered := make([]retrieval.Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	var sources []string
	for _, r := range ordered {
		if r.Source == "" {
			continue
		}
		sources = append(sources, r.Source)
		if len(sources) == maxSources {
			break
		}
	}
	return sources
}

func buildQualityIndicators(in Input) QualityIndicators {
	return QualityIndicators{
		DebateStatus:      string(in.Decision),
		VerificationLevel: verificationLevel(in.Critiques),
		ContextSupport:    contextSupport(in.RetrievalResults),
	}
}

func verificationLevel(critiques []critic.Critique) VerificationLevel {
	var high, critical int
	for _, c := range critiques {
		switch c.Severity {
		case "high":
			high++
		case "critical":
			critical++
		}
	}
	switch {
	case critical > 0:
		return VerificationLimited
	case high > 0:
		return VerificationMedium
	default:
		return VerificationHigh
	}
}

func contextSupport(results []retrieval.Result) ContextSupport {
	if len(results) == 0 {
		return ContextLimited
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	avg := sum / float64(len(results))
	switch {
	case avg >= 0.7:
		return ContextStrong
	case avg >= 0.4:
		return ContextModerate
	default:
		return ContextLimited
	}
}
