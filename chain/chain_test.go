package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
)

type fakeStore struct {
	byQuery map[string][]retrieval.Result
	err     error
}

func (f *fakeStore) Search(ctx context.Context, courseID, query string, k int) ([]retrieval.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byQuery[query], nil
}

func (f *fakeStore) DebugList(ctx context.Context, k int) ([]retrieval.Result, error) {
	return nil, nil
}

type fakeLLM struct {
	out string
	err error
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	return f.out, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return nil, errors.New("not implemented")
}

func TestAssessQuality_NoResults(t *testing.T) {
	q, issues := assessQuality(nil)
	if q != 0 {
		t.Fatalf("expected 0 quality, got %v", q)
	}
	if len(issues) != 1 || issues[0] != "No sources retrieved" {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestAssessQuality_FewResultsPenalty(t *testing.T) {
	results := []retrieval.Result{{Score: 0.9}, {Score: 0.9}}
	q, issues := assessQuality(results)
	want := 0.9 * fewResultsPenalty
	if q != want {
		t.Fatalf("expected %v, got %v", want, q)
	}
	found := false
	for _, issue := range issues {
		if issue == "Too few results (2)" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected few-results issue, got %v", issues)
	}
}

func TestAssessQuality_Bands(t *testing.T) {
	_, issues := assessQuality([]retrieval.Result{{Score: 0.1}, {Score: 0.1}, {Score: 0.1}})
	if issues[0] != "Very low similarity scores" {
		t.Fatalf("expected very-low band, got %v", issues)
	}

	_, issues = assessQuality([]retrieval.Result{{Score: 0.4}, {Score: 0.4}, {Score: 0.4}})
	if issues[0] != "Low similarity scores" {
		t.Fatalf("expected low band, got %v", issues)
	}
}

func TestRun_InitialSufficientSkipsReframing(t *testing.T) {
	store := &fakeStore{byQuery: map[string][]retrieval.Result{
		"what is a pointer": {{Content: "a", Score: 0.9}, {Content: "b", Score: 0.8}, {Content: "c", Score: 0.85}},
	}}
	reframer := &fakeLLM{err: errors.New("should not be called")}

	out := Run(context.Background(), store, reframer, "cs101", "what is a pointer", 0.7, nil)
	if out.Strategy != "initial_sufficient" {
		t.Fatalf("expected initial_sufficient, got %s", out.Strategy)
	}
	if len(out.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out.Results))
	}
}

func TestRun_NoResultsEdgeCase(t *testing.T) {
	store := &fakeStore{byQuery: map[string][]retrieval.Result{}}
	out := Run(context.Background(), store, nil, "cs101", "nonexistent topic", 0.7, nil)
	if out.Strategy != "no_results" {
		t.Fatalf("expected no_results, got %s", out.Strategy)
	}
	if out.Quality != 0 || len(out.Results) != 0 {
		t.Fatalf("expected empty zero-quality outcome, got %+v", out)
	}
}

func TestRun_RetrievalUnavailableTreatedAsZeroQuality(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	out := Run(context.Background(), store, nil, "cs101", "anything", 0.7, nil)
	if out.Strategy != "no_results" || out.Quality != 0 {
		t.Fatalf("expected zero-quality no_results outcome, got %+v", out)
	}
	if len(out.Issues) == 0 {
		t.Fatalf("expected the failure to be recorded in issues")
	}
}

func TestParseQueryLines_SkipsPlaceholders(t *testing.T) {
	text := "QUERY: most recent lecture materials\nQUERY: {topic} review\nnot a query line"
	got := parseQueryLines(text)
	if len(got) != 1 || got[0] != "most recent lecture materials" {
		t.Fatalf("unexpected parse result: %v", got)
	}
}

func TestFallbackQueryLines_SkipsNumberedBulletsAndShortLines(t *testing.T) {
	text := "short\n1. a numbered bullet that is fairly long\nthis is a long enough freeform line to count"
	got := fallbackQueryLines(text)
	if len(got) != 1 || got[0] != "this is a long enough freeform line to count" {
		t.Fatalf("unexpected fallback result: %v", got)
	}
}

func TestMergeAndRerank_DedupesByContentAndSortsDescending(t *testing.T) {
	initial := []retrieval.Result{{Content: "a", Score: 0.5}, {Content: "b", Score: 0.9}}
	alternatives := [][]retrieval.Result{
		{{Content: "a", Score: 0.99}}, // duplicate content, first-seen (initial) wins
		{{Content: "c", Score: 0.7}},
	}

	merged, quality := mergeAndRerank(initial, alternatives)
	if len(merged) != 3 {
		t.Fatalf("expected 3 deduped results, got %d", len(merged))
	}
	if merged[0].Content != "b" || merged[1].Content != "c" || merged[2].Content != "a" {
		t.Fatalf("expected descending score order, got %+v", merged)
	}
	if merged[2].Score != 0.5 {
		t.Fatalf("expected first-seen score preserved on dedupe, got %v", merged[2].Score)
	}
	wantQuality := (0.9 + 0.7 + 0.5) / 3
	if quality != wantQuality {
		t.Fatalf("expected quality %v, got %v", wantQuality, quality)
	}
}

func TestRun_ThresholdEqualityPasses(t *testing.T) {
	store := &fakeStore{byQuery: map[string][]retrieval.Result{
		"q": {{Content: "a", Score: 0.7}, {Content: "b", Score: 0.7}, {Content: "c", Score: 0.7}},
	}}
	out := Run(context.Background(), store, &fakeLLM{err: errors.New("should not be called")}, "cs101", "q", 0.7, nil)
	if out.Strategy != "initial_sufficient" {
		t.Fatalf("expected exact-equality threshold to pass, got %s", out.Strategy)
	}
}
