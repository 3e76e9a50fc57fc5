package reporter

import (
	"context"
	"errors"
	"testing"

	"github.com/coursetutor/ragdebate/agents/critic"
	"github.com/coursetutor/ragdebate/agents/moderator"
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
)

type fakeLLM struct {
	out    string
	err    error
	chunks []string
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	return f.out, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return func(yield func(llm.Chunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(llm.Chunk{Text: c}, nil) {
				return
			}
		}
	}, nil
}

func TestSynthesize_ConvergedParsesFourSections(t *testing.T) {
	text := "## Introduction\nhere is the context\n## Step By Step Solution\ndo this then that\n## Key Takeaways\nremember x\n## Important Notes\nwatch out for y\n"
	client := &fakeLLM{out: text}
	answer, err := Synthesize(context.Background(), client, Input{
		Decision:         moderator.Converged,
		ConvergenceScore: 0.9,
		RetrievalResults: []retrieval.Result{{Source: "doc1:chunk_0", Score: 0.9}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.StepByStepSolution != "do this then that" {
		t.Fatalf("unexpected step-by-step: %q", answer.StepByStepSolution)
	}
	if answer.ConfidenceScore != 0.9 {
		t.Fatalf("expected confidence score to mirror convergence score")
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != "doc1:chunk_0" {
		t.Fatalf("unexpected sources: %v", answer.Sources)
	}
}

func TestSynthesize_DeadlockIncludesNoWarning(t *testing.T) {
	client := &fakeLLM{out: "## Partial Solution\npartial\n## Areas Of Uncertainty\nunclear\n## What We Can Conclude\nsomewhat\n## Recommendations For Exploration\nkeep digging\n"}
	answer, err := Synthesize(context.Background(), client, Input{Decision: moderator.AbortDeadlock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Warning != "" {
		t.Fatalf("expected no warning on plain deadlock, got %q", answer.Warning)
	}
	if answer.PartialSolution != "partial" {
		t.Fatalf("unexpected partial solution: %q", answer.PartialSolution)
	}
}

func TestSynthesize_EscalateIncludesWarning(t *testing.T) {
	client := &fakeLLM{out: "## Partial Solution\npartial\n"}
	answer, err := Synthesize(context.Background(), client, Input{Decision: moderator.EscalateWithWarning})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Warning == "" {
		t.Fatal("expected a warning on escalation")
	}
}

func TestSynthesize_ParseFailureFallsBackToFullResponse(t *testing.T) {
	client := &fakeLLM{out: "no headings at all"}
	answer, err := Synthesize(context.Background(), client, Input{Decision: moderator.Converged})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.StepByStepSolution != "no headings at all" {
		t.Fatalf("expected fallback to raw text, got %q", answer.StepByStepSolution)
	}
}

func TestSynthesizeStream_StreamsChunksAndParsesAfterCompletion(t *testing.T) {
	client := &fakeLLM{chunks: []string{"## Partial Solution\n", "streamed partial"}}
	var streamed string
	answer, err := SynthesizeStream(context.Background(), client, Input{Decision: moderator.AbortDeadlock}, func(s string) {
		streamed += s
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streamed != "## Partial Solution\nstreamed partial" {
		t.Fatalf("unexpected streamed content: %q", streamed)
	}
	if answer.PartialSolution != "streamed partial" {
		t.Fatalf("unexpected parsed partial solution: %q", answer.PartialSolution)
	}
}

func TestBuildSources_CapsAtFiveOrderedByScore(t *testing.T) {
	var results []retrieval.Result
	for i := 0; i < 8; i++ {
		results = append(results, retrieval.Result{Source: "s", Score: float64(i)})
	}
	sources := buildSources(results)
	if len(sources) != maxSources {
		t.Fatalf("expected %d sources, got %d", maxSources, len(sources))
	}
}

func TestVerificationLevel_DowngradesWithSeverity(t *testing.T) {
	if verificationLevel(nil) != VerificationHigh {
		t.Fatal("expected high with no critiques")
	}
	if verificationLevel([]critic.Critique{{Severity: "high"}}) != VerificationMedium {
		t.Fatal("expected medium with a high critique")
	}
	if verificationLevel([]critic.Critique{{Severity: "critical"}}) != VerificationLimited {
		t.Fatal("expected limited with a critical critique")
	}
}

func TestSynthesize_LLMErrorPropagates(t *testing.T) {
	client := &fakeLLM{err: errors.New("down")}
	_, err := Synthesize(context.Background(), client, Input{Decision: moderator.Converged})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
