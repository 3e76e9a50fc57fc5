// Package critic implements the parallel critic agent: three independent
// analyzer calls (logic, fact, hallucination) fanned out concurrently via
// errgroup, then a fourth synthesis call merging their raw JSON into an
// ordered critiques sequence. Results are collected into a fixed-index
// array preserving analyzer-role order, since synthesis needs all three
// results together rather than as they arrive.
package critic

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/coursetutor/ragdebate/agents/strategist"
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
)

// CritiqueType enumerates the kinds of issue an analyzer can raise.
type CritiqueType string

const (
	LogicFlaw         CritiqueType = "logic_flaw"
	FactContradiction CritiqueType = "fact_contradiction"
	Hallucination     CritiqueType = "hallucination"
)

// Critique is one issue raised against a draft. Claim is non-empty only
// for FactContradiction, where it names the specific assertion in dispute.
type Critique struct {
	Type        CritiqueType
	Severity    string
	Description string
	StepRef     *int
	Claim       string
}

// suspectKeywords are scanned for after parsing as a diagnostic guardrail,
// not a filter: a hit is logged but never blocks the critique from surfacing.
var suspectKeywords = []string{"Tesla", "Mars", "Earth is flat", "Event A caused Event B"}

// Result is the critic's output: the ordered critiques and any
// guardrail warnings raised while parsing.
type Result struct {
	Critiques  []Critique
	Warnings   []string
	Assessment string
}

// Input bundles what the critic needs to run its three analyzer calls.
type Input struct {
	Query            string
	Draft            strategist.Draft
	RetrievalResults []retrieval.Result
}

// Run fans out the three analyzers concurrently, then synthesizes.
func Run(ctx context.Context, analyzers, synthesizer llm.Client, in Input) Result {
	raw := runAnalyzers(ctx, analyzers, in)

	synthesisOut, err := synthesize(ctx, synthesizer, raw)
	if err != nil {
		return Result{Critiques: nil, Assessment: "Failed to parse critique"}
	}

	critiques, warnings := parseSynthesis(synthesisOut)
	if !gjson.Get(unwrapDoubledBraces(stripFences(synthesisOut)), "critiques").IsArray() {
		return Result{Warnings: warnings, Assessment: "Failed to parse critique"}
	}
	return Result{Critiques: critiques, Warnings: warnings, Assessment: "ok"}
}

// rawAnalysis holds one analyzer's raw JSON text (or a "Chain failed"
// substitute if the call errored).
type rawAnalysis struct {
	logic, fact, hallucination string
}

func runAnalyzers(ctx context.Context, client llm.Client, in Input) rawAnalysis {
	var out rawAnalysis
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp, err := client.Generate(gctx, llm.Request{Prompt: logicPrompt(in)})
		out.logic = orFailed(resp, err, `{"logic_issues":[],"summary":"Chain failed"}`)
		return nil
	})
	g.Go(func() error {
		resp, err := client.Generate(gctx, llm.Request{Prompt: factPrompt(in)})
		out.fact = orFailed(resp, err, `{"fact_issues":[],"summary":"Chain failed"}`)
		return nil
	})
	g.Go(func() error {
		resp, err := client.Generate(gctx, llm.Request{Prompt: hallucinationPrompt(in)})
		out.hallucination = orFailed(resp, err, `{"hallucinations":[],"summary":"Chain failed"}`)
		return nil
	})
	_ = g.Wait()

	return out
}

func orFailed(resp string, err error, fallback string) string {
	if err != nil {
		return fallback
	}
	return resp
}

func logicPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(antiTemplateGuardrail())
	b.WriteString("Scan the draft and chain-of-thought below for contradictions, unsupported logical leaps, and premise/conclusion mismatches.\n")
	b.WriteString("Question: ")
	b.WriteString(in.Query)
	b.WriteString("\nDraft: ")
	b.WriteString(in.Draft.Content)
	b.WriteString("\n\n")
	b.WriteString(renderChainOfThought(in.Draft.ChainOfThought))
	b.WriteString("\nRespond as JSON: {\"logic_issues\": [{\"step_ref\": <int or null>, \"severity\": \"low|medium|high|critical\", \"description\": \"...\", \"problematic_content\": \"...\"}]}\n")
	b.WriteString("Return an empty array if there are no real issues.\n")
	return b.String()
}

func factPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(antiTemplateGuardrail())
	b.WriteString("Verify claims in the draft against the retrieved course material. Only flag claims that contradict or are unsupported by the context; never criticize the context itself.\n")
	b.WriteString("Draft: ")
	b.WriteString(in.Draft.Content)
	b.WriteString("\n\n")
	b.WriteString(renderContext(in.RetrievalResults))
	b.WriteString("\nRespond as JSON: {\"fact_issues\": [{\"claim\": \"...\", \"step_ref\": <int or null>, \"severity\": \"low|medium|high|critical\", \"description\": \"...\"}]}\n")
	b.WriteString("Return an empty array if there are no real issues.\n")
	return b.String()
}

func hallucinationPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(antiTemplateGuardrail())
	b.WriteString("Flag draft content that has no support in the retrieved context. Do not flag reasonable inferences.\n")
	b.WriteString("Draft: ")
	b.WriteString(in.Draft.Content)
	b.WriteString("\n\n")
	b.WriteString(renderContext(in.RetrievalResults))
	b.WriteString("\nRespond as JSON: {\"hallucinations\": [{\"content\": \"...\", \"step_ref\": <int or null>, \"severity\": \"low|medium|high|critical\", \"reason\": \"...\", \"suggested_fix\": \"...\"}]}\n")
	b.WriteString("Return an empty array if there are no real issues.\n")
	return b.String()
}

func antiTemplateGuardrail() string {
	return "Do not generate canned example issues (e.g. \"Event A caused Event B\", a Mars-colonization example, or similar template filler). If there is no genuine issue, return an empty array.\n\n"
}

func renderChainOfThought(steps []strategist.Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString("Step ")
		b.WriteString(itoa(s.Step))
		b.WriteString(": ")
		b.WriteString(s.Thought)
		b.WriteString("\n")
	}
	return b.String()
}

func renderContext(results []retrieval.Result) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range results {
		b.WriteString("[")
		b.WriteString(itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(r.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// synthesize runs the fourth LLM call, merging the three raw analyzer
// outputs into a single critiques array.
func synthesize(ctx context.Context, client llm.Client, raw rawAnalysis) (string, error) {
	var b strings.Builder
	b.WriteString("Merge the following three analyzer outputs into a single ordered JSON array \"critiques\".\n")
	b.WriteString("Map logic_issues -> type \"logic_flaw\" (claim omitted), fact_issues -> type \"fact_contradiction\" (claim populated), hallucinations -> type \"hallucination\" (claim omitted).\n")
	b.WriteString("If all three inputs are empty arrays, output {\"critiques\": []}.\n\n")
	b.WriteString("Logic analyzer output:\n")
	b.WriteString(raw.logic)
	b.WriteString("\n\nFact analyzer output:\n")
	b.WriteString(raw.fact)
	b.WriteString("\n\nHallucination analyzer output:\n")
	b.WriteString(raw.hallucination)
	b.WriteString("\n\nRespond as JSON: {\"critiques\": [{\"type\": \"logic_flaw|fact_contradiction|hallucination\", \"severity\": \"low|medium|high|critical\", \"description\": \"...\", \"step_ref\": <int or null>, \"claim\": \"...\" or null}]}\n")

	return client.Generate(ctx, llm.Request{Prompt: b.String()})
}

// parseSynthesis extracts the critiques array from the synthesis
// response, stripping markdown fences and unwrapping accidental
// doubled braces before parsing with gjson.
func parseSynthesis(response string) ([]Critique, []string) {
	cleaned := stripFences(response)
	cleaned = unwrapDoubledBraces(cleaned)

	result := gjson.Get(cleaned, "critiques")
	if !result.IsArray() {
		return nil, scanGuardrailKeywords(response)
	}

	var critiques []Critique
	for _, item := range result.Array() {
		c := Critique{
			Type:        CritiqueType(item.Get("type").String()),
			Severity:    item.Get("severity").String(),
			Description: item.Get("description").String(),
		}
		if stepRef := item.Get("step_ref"); stepRef.Exists() && stepRef.Type != gjson.Null {
			v := int(stepRef.Int())
			c.StepRef = &v
		}
		if c.Type == FactContradiction {
			c.Claim = item.Get("claim").String()
		}
		critiques = append(critiques, c)
	}

	return critiques, scanGuardrailKeywords(response)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// unwrapDoubledBraces repairs a common LLM malformation: the whole
// payload wrapped in an extra brace pair, e.g. "{{...}}".
func unwrapDoubledBraces(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		return trimmed[1 : len(trimmed)-1]
	}
	return s
}

func scanGuardrailKeywords(text string) []string {
	var warnings []string
	for _, kw := range suspectKeywords {
		if strings.Contains(text, kw) {
			warnings = append(warnings, "suspect template content detected: "+kw)
		}
	}
	return warnings
}
