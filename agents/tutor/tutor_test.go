package tutor

import (
	"context"
	"errors"
	"testing"

	"github.com/coursetutor/ragdebate/agents/reporter"
	"github.com/coursetutor/ragdebate/llm"
)

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

func TestSelectInteractionType_FirstInteractionIsGuide(t *testing.T) {
	if got := selectInteractionType(nil); got != Guide {
		t.Fatalf("expected guide, got %s", got)
	}
}

func TestSelectInteractionType_StandardOnDissimilarQueries(t *testing.T) {
	queries := []string{"what is a pointer", "how does garbage collection work"}
	if got := selectInteractionType(queries); got != Standard {
		t.Fatalf("expected standard, got %s", got)
	}
}

func TestSelectInteractionType_TestOnHighSimilarity(t *testing.T) {
	queries := []string{"explain recursion in detail please", "explain recursion in detail please now"}
	if got := selectInteractionType(queries); got != Test {
		t.Fatalf("expected test, got %s", got)
	}
}

func TestSelectInteractionType_DisciplineOnConsecutiveCopying(t *testing.T) {
	queries := []string{
		"explain recursion in detail please",
		"explain recursion in detail please now",
		"explain recursion in detail please right now",
		"explain recursion in detail please right away now",
	}
	if got := selectInteractionType(queries); got != Discipline {
		t.Fatalf("expected discipline, got %s", got)
	}
}

func TestRun_DisciplineSuppressesGuideQuestionAndAddsCooldown(t *testing.T) {
	queries := []string{
		"explain recursion in detail please",
		"explain recursion in detail please now",
		"explain recursion in detail please right now",
		"explain recursion in detail please right away now",
	}
	client := &fakeLLM{out: "tip one\ntip two\ntip three"}
	interaction, err := Run(context.Background(), client, Input{
		RecentQueries: queries,
		Answer:        reporter.Answer{StepByStepSolution: "the answer"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if interaction.Type != Discipline {
		t.Fatalf("expected discipline interaction, got %s", interaction.Type)
	}
	if interaction.Elements[0].Type != CooldownElement {
		t.Fatalf("expected cooldown element first, got %+v", interaction.Elements[0])
	}
}

func TestTrigramSimilarity_IdenticalStringsAreOne(t *testing.T) {
	if sim := trigramSimilarity("hello world", "hello world"); sim != 1.0 {
		t.Fatalf("expected similarity 1.0, got %v", sim)
	}
}

func TestParseQuiz_CapsAtQuizQuestionCount(t *testing.T) {
	text := "Q: first\nA: a\nExplanation: e1\nQ: second\nA: b\nExplanation: e2\nQ: third\nA: c\nExplanation: e3\n"
	questions := parseQuiz(text)
	if len(questions) != quizQuestionCount {
		t.Fatalf("expected %d questions, got %d", quizQuestionCount, len(questions))
	}
}
