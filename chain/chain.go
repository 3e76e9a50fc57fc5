// Package chain implements the speculative retrieval chain: an initial
// retrieval, a deterministic quality score, a conditional LLM reframing
// step, bounded-parallel alternative retrieval, and a final
// merge/rerank.
package chain

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
)

const (
	initialK          = 5
	maxAlternatives    = 3
	alternativeTimeout = 30 * time.Second
	mergeTopK          = 10
	fewResultsPenalty  = 0.8
	minResultCount     = 3
	lowQualityBand     = 0.3
	mediumQualityBand  = 0.5
)

// Progress is a chain milestone, emitted via onProgress so a caller
// (the workflow node) can forward it as a stream.Event.
type Progress struct {
	Stage string // "retrieve_start" | "retrieve_alternative" | "merge_complete"
	Query string // populated for retrieve_alternative
}

// Outcome is Stage 4's output: the final result set, quality score,
// strategy tag, and the speculative queries actually issued.
type Outcome struct {
	Results            []retrieval.Result
	Quality            float64
	Strategy           string
	SpeculativeQueries []string
	Issues             []string
}

// Run executes the full four-stage chain against courseID/query.
// qualityThreshold is the Stage 3 skip threshold (default 0.7).
func Run(ctx context.Context, store retrieval.Store, reframer llm.Client, courseID, query string, qualityThreshold float64, onProgress func(Progress)) Outcome {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	onProgress(Progress{Stage: "retrieve_start"})
	initial, err := store.Search(ctx, courseID, query, initialK)
	if err != nil {
		return Outcome{Results: nil, Quality: 0, Strategy: "no_results", Issues: []string{err.Error()}}
	}

	quality, issues := assessQuality(initial)

	if len(initial) == 0 {
		return Outcome{Results: nil, Quality: 0, Strategy: "no_results", Issues: issues}
	}

	if quality >= qualityThreshold {
		return Outcome{Results: initial, Quality: quality, Strategy: "initial_sufficient", Issues: issues}
	}

	alternatives := reframe(ctx, reframer, query, quality, issues)

	altResults := searchAlternatives(ctx, store, courseID, alternatives, onProgress)

	merged, mergedQuality := mergeAndRerank(initial, altResults)
	onProgress(Progress{Stage: "merge_complete"})

	strategy := "refined_with_0_alternatives"
	if n := len(alternatives); n > 0 {
		strategy = alternativesStrategy(n)
	}

	return Outcome{
		Results:            merged,
		Quality:            mergedQuality,
		Strategy:           strategy,
		SpeculativeQueries: alternatives,
		Issues:             issues,
	}
}

func alternativesStrategy(n int) string {
	switch n {
	case 1:
		return "refined_with_1_alternatives"
	default:
		return "refined_with_" + itoa(n) + "_alternatives"
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// assessQuality implements Stage 2 exactly: no LLM, deterministic.
func assessQuality(results []retrieval.Result) (float64, []string) {
	if len(results) == 0 {
		return 0.0, []string{"No sources retrieved"}
	}

	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	q := sum / float64(len(results))

	var issues []string
	if len(results) < minResultCount {
		q *= fewResultsPenalty
		issues = append(issues, "Too few results ("+itoa(len(results))+")")
	}

	switch {
	case q < lowQualityBand:
		issues = append(issues, "Very low similarity scores")
	case q < mediumQualityBand:
		issues = append(issues, "Low similarity scores")
	}

	return q, issues
}

// reframe implements Stage 3: a single LLM call producing up to three
// alternative queries, or a fallback line-based parse.
func reframe(ctx context.Context, reframer llm.Client, query string, quality float64, issues []string) []string {
	if reframer == nil {
		return nil
	}

	prompt := buildReframePrompt(query, quality, issues)
	out, err := reframer.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil
	}

	queries := parseQueryLines(out)
	if len(queries) == 0 {
		queries = fallbackQueryLines(out)
	}
	if len(queries) > maxAlternatives {
		queries = queries[:maxAlternatives]
	}
	return queries
}

func buildReframePrompt(query string, quality float64, issues []string) string {
	var b strings.Builder
	b.WriteString("The following search query returned low-quality results for a course Q&A system.\n")
	b.WriteString("Original query: ")
	b.WriteString(query)
	b.WriteString("\n")
	b.WriteString("Quality issues: ")
	b.WriteString(strings.Join(issues, "; "))
	b.WriteString("\n\n")
	b.WriteString("Propose up to three alternative search queries that would retrieve better course material.\n")
	b.WriteString("Rephrase any relative or temporal expressions (e.g. \"yesterday's lesson\") into concrete terms (e.g. \"most recent lecture materials\").\n")
	b.WriteString("Do not use bracketed placeholders like {topic}.\n")
	b.WriteString("Emit each alternative on its own line, prefixed exactly with \"QUERY:\".\n")
	return b.String()
}

// parseQueryLines keeps lines starting with "QUERY:" that are not
// template placeholders (containing "{...}").
func parseQueryLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "QUERY:") {
			continue
		}
		q := strings.TrimSpace(strings.TrimPrefix(line, "QUERY:"))
		if q == "" || looksLikePlaceholder(q) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func looksLikePlaceholder(s string) bool {
	return strings.Contains(s, "{") && strings.Contains(s, "}")
}

// fallbackQueryLines takes non-empty lines longer than 10 characters
// that are not numbered bullets, for use when the LLM's reframe response
// yields no usable "QUERY:"-prefixed lines.
func fallbackQueryLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= 10 {
			continue
		}
		if isNumberedBullet(line) {
			continue
		}
		out = append(out, line)
		if len(out) == maxAlternatives {
			break
		}
	}
	return out
}

func isNumberedBullet(line string) bool {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 {
		return false
	}
	rest := strings.TrimSpace(line[i:])
	return strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, ")")
}

// searchAlternatives implements Stage 3b: bounded parallel retrieval,
// one outstanding call per alternative, 30s timeout each. Individual
// failures are recorded (as empty result sets) but never abort the
// chain, so errgroup.Go return values are always nil.
func searchAlternatives(ctx context.Context, store retrieval.Store, courseID string, alternatives []string, onProgress func(Progress)) [][]retrieval.Result {
	if len(alternatives) == 0 {
		return nil
	}

	results := make([][]retrieval.Result, len(alternatives))
	g, gctx := errgroup.WithContext(ctx)

	for i, q := range alternatives {
		i, q := i, q
		onProgress(Progress{Stage: "retrieve_alternative", Query: q})
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, alternativeTimeout)
			defer cancel()

			res, err := store.Search(callCtx, courseID, q, initialK)
			if err != nil {
				results[i] = nil
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// mergeAndRerank implements Stage 3c.
func mergeAndRerank(initial []retrieval.Result, alternatives [][]retrieval.Result) ([]retrieval.Result, float64) {
	seen := make(map[string]bool)
	var merged []retrieval.Result

	for _, r := range initial {
		if seen[r.Content] {
			continue
		}
		seen[r.Content] = true
		merged = append(merged, r)
	}
	for _, alt := range alternatives {
		for _, r := range alt {
			if seen[r.Content] {
				continue
			}
			seen[r.Content] = true
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > mergeTopK {
		merged = merged[:mergeTopK]
	}

	if len(merged) == 0 {
		return merged, 0
	}
	var sum float64
	for _, r := range merged {
		sum += r.Score
	}
	return merged, sum / float64(len(merged))
}
