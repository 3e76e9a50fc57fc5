package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/coursetutor/ragdebate/agents/moderator"
	"github.com/coursetutor/ragdebate/engine/emit"
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
)

func TestReduce_ConversationHistoryAndErrorMessagesAppend(t *testing.T) {
	prev := State{
		ConversationHistory: []AgentExecution{{AgentName: "retrieve"}},
		ErrorMessages:       []string{"first"},
	}
	delta := State{
		ConversationHistory: []AgentExecution{{AgentName: "strategist"}},
		ErrorMessages:       []string{"second"},
	}

	out := Reduce(prev, delta)

	if len(out.ConversationHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(out.ConversationHistory))
	}
	if len(out.ErrorMessages) != 2 || out.ErrorMessages[0] != "first" || out.ErrorMessages[1] != "second" {
		t.Fatalf("unexpected error messages: %v", out.ErrorMessages)
	}
}

func TestReduce_ScalarAndPointerFieldsOverrideButPreserveUnset(t *testing.T) {
	prev := State{Query: "what is a pointer", CourseID: "course-1", CurrentRound: 2}
	delta := State{CurrentRound: 3}

	out := Reduce(prev, delta)

	if out.Query != "what is a pointer" {
		t.Fatalf("expected Query to survive from prev, got %q", out.Query)
	}
	if out.CourseID != "course-1" {
		t.Fatalf("expected CourseID to survive from prev, got %q", out.CourseID)
	}
	if out.CurrentRound != 3 {
		t.Fatalf("expected CurrentRound to be overridden to 3, got %d", out.CurrentRound)
	}
}

func TestReduce_ProcessingTimesMerge(t *testing.T) {
	prev := State{ProcessingTimes: map[string]float64{"retrieve": 1.0}}
	delta := State{ProcessingTimes: map[string]float64{"strategist": 2.0}}

	out := Reduce(prev, delta)

	if out.ProcessingTimes["retrieve"] != 1.0 || out.ProcessingTimes["strategist"] != 2.0 {
		t.Fatalf("unexpected merged processing times: %v", out.ProcessingTimes)
	}
}

type fakeStore struct{}

func (fakeStore) Search(ctx context.Context, courseID, query string, k int) ([]retrieval.Result, error) {
	return []retrieval.Result{{Content: "relevant", Score: 0.9, Source: "doc:chunk_0"}}, nil
}

func (fakeStore) DebugList(ctx context.Context, k int) ([]retrieval.Result, error) {
	return nil, nil
}

type scriptedModeratorLLM struct{}

func (s *scriptedModeratorLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	return "DECISION: converged\nREASONING: ok\nFEEDBACK: none\nCONVERGENCE_SCORE: 0.9\n", nil
}

func (s *scriptedModeratorLLM) GenerateStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return nil, errors.New("not implemented")
}

func TestModeratorNode_ConvergedRoutesToReporter(t *testing.T) {
	node := moderatorNode(&scriptedModeratorLLM{})
	result := node.Run(context.Background(), State{MaxRounds: 3, CurrentRound: 1})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.ModeratorDecision != moderator.Converged {
		t.Fatalf("expected converged decision, got %s", result.Delta.ModeratorDecision)
	}
	if result.Route.To != nodeReporter {
		t.Fatalf("expected route to reporter, got %+v", result.Route)
	}
}

func TestNew_BuildsGraphWithoutError(t *testing.T) {
	eng, err := New(fakeStore{}, Clients{BaseModel: &scriptedModeratorLLM{}, HeavyModel: &scriptedModeratorLLM{}}, emit.NewNullEmitter(), 0)
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}
	if eng == nil {
		t.Fatal("expected a non-nil engine")
	}
}
