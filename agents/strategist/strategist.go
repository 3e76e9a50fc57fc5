// Package strategist implements the Strategist agent: produces a
// Draft with chain-of-thought from a query and retrieval context,
// optionally revising in response to prior moderator feedback.
package strategist

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
)

// Step is one chain-of-thought step.
type Step struct {
	Step    int
	Thought string
	Details []string
}

// Draft is the Strategist's output.
type Draft struct {
	DraftID        string
	Content        string
	ChainOfThought []Step
}

// Input bundles what the Strategist needs to produce a Draft.
type Input struct {
	Query            string
	RetrievalResults []retrieval.Result
	CoursePrompt     string
	PreviousFeedback string
	Round            int
	DraftIDGenerator func() string
}

// Generate runs the Strategist's single LLM call and parses its response
// into a Draft. It fails only if the LLM call itself errors; parse
// failures degrade gracefully into synthetic/fallback content.
func Generate(ctx context.Context, client llm.Client, in Input) (Draft, error) {
	prompt := buildPrompt(in)

	out, err := client.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return Draft{}, fmt.Errorf("strategist: %w", err)
	}

	draft := parseResponse(out)
	if in.DraftIDGenerator != nil {
		draft.DraftID = in.DraftIDGenerator()
	}
	return draft, nil
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are answering a student's question using the retrieved course material below.\n\n")
	b.WriteString("Question: ")
	b.WriteString(in.Query)
	b.WriteString("\n\n")

	if in.CoursePrompt != "" {
		b.WriteString("Course context: ")
		b.WriteString(in.CoursePrompt)
		b.WriteString("\n\n")
	}

	b.WriteString("Retrieved material:\n")
	for i, r := range in.RetrievalResults {
		fmt.Fprintf(&b, "[%d] (score %.2f, %s) %s\n", i+1, r.Score, r.Source, r.Content)
	}
	b.WriteString("\n")

	if in.Round > 1 && in.PreviousFeedback != "" {
		b.WriteString("REVISION REQUIRED: the previous draft was critiqued as follows. Address these specific points directly; do not merely restate the prior answer.\n")
		b.WriteString(in.PreviousFeedback)
		b.WriteString("\n\n")
	}

	b.WriteString("Respond with exactly three sections, each introduced by a \"## \" heading:\n")
	b.WriteString("## Chain of Thought\n")
	b.WriteString("Numbered steps (\"Step 1:\", \"Step 2:\", ...), each followed by \"-\" bulleted details.\n")
	b.WriteString("## Draft Solution\n")
	b.WriteString("The answer itself.\n")
	b.WriteString("## Context References\n")
	b.WriteString("Which retrieved items the answer relies on.\n")
	return b.String()
}

// parseResponse extracts the draft solution and chain-of-thought steps
// from the LLM's heading-delimited response, falling back to the raw
// text when the expected headings are absent.
func parseResponse(response string) Draft {
	sections := splitHeadings(response)

	draft := Draft{Content: strings.TrimSpace(response)}
	if content, ok := sections["draft solution"]; ok && strings.TrimSpace(content) != "" {
		draft.Content = strings.TrimSpace(content)
	}

	if cot, ok := sections["chain of thought"]; ok {
		draft.ChainOfThought = parseChainOfThought(cot)
	}
	if len(draft.ChainOfThought) == 0 {
		raw := sections["chain of thought"]
		if raw == "" {
			raw = response
		}
		draft.ChainOfThought = []Step{{Step: 1, Thought: strings.TrimSpace(raw)}}
	}

	return draft
}

// splitHeadings splits on "## " headings, lowercasing and trimming
// section names.
func splitHeadings(text string) map[string]string {
	sections := make(map[string]string)
	parts := strings.Split(text, "## ")
	for _, part := range parts {
		part = strings.TrimLeft(part, "\n")
		if part == "" {
			continue
		}
		nlIdx := strings.IndexAny(part, "\n")
		var name, body string
		if nlIdx < 0 {
			name, body = part, ""
		} else {
			name, body = part[:nlIdx], part[nlIdx+1:]
		}
		name = strings.ToLower(strings.TrimSpace(name))
		sections[name] = body
	}
	return sections
}

func parseChainOfThought(text string) []Step {
	var steps []Step
	var current *Step

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if n, ok := parseStepHeader(trimmed); ok {
			steps = append(steps, Step{Step: n})
			current = &steps[len(steps)-1]
			continue
		}

		if strings.HasPrefix(trimmed, "-") {
			if current == nil {
				steps = append(steps, Step{Step: 1})
				current = &steps[len(steps)-1]
			}
			current.Details = append(current.Details, strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
			continue
		}

		if current == nil {
			steps = append(steps, Step{Step: 1})
			current = &steps[len(steps)-1]
		}
		if current.Thought != "" {
			current.Thought += " "
		}
		current.Thought += trimmed
	}

	return steps
}

// parseStepHeader recognizes lines of the form "Step N: ...".
func parseStepHeader(line string) (int, bool) {
	if !strings.HasPrefix(line, "Step ") {
		return 0, false
	}
	rest := line[len("Step "):]
	colonIdx := strings.Index(rest, ":")
	if colonIdx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest[:colonIdx]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// SelfCheckScore computes the internal, non-gating quality heuristic:
// length buckets + step count + context-reference count.
func SelfCheckScore(d Draft, referencedContextCount int) float64 {
	score := 0.0

	switch {
	case len(d.Content) >= 400:
		score += 0.4
	case len(d.Content) >= 150:
		score += 0.25
	case len(d.Content) > 0:
		score += 0.1
	}

	switch {
	case len(d.ChainOfThought) >= 3:
		score += 0.3
	case len(d.ChainOfThought) > 0:
		score += 0.15
	}

	switch {
	case referencedContextCount >= 2:
		score += 0.3
	case referencedContextCount == 1:
		score += 0.15
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
