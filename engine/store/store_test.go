package store

import (
	"context"
	"errors"
	"testing"
)

// TestState is a test state type for store tests.
type TestState struct {
	Value   string
	Counter int
}

// TestStore_InterfaceContract verifies Store[S] interface can be implemented.
func TestStore_InterfaceContract(t *testing.T) {
	var _ Store[TestState] = (*mockStore)(nil)
}

// mockStore is a minimal Store implementation for testing the interface contract.
type mockStore struct {
	steps map[string][]StepRecord[TestState]
}

func (m *mockStore) SaveStep(ctx context.Context, runID string, step int, nodeID string, state TestState) error {
	if m.steps == nil {
		m.steps = make(map[string][]StepRecord[TestState])
	}
	m.steps[runID] = append(m.steps[runID], StepRecord[TestState]{
		Step:   step,
		NodeID: nodeID,
		State:  state,
	})
	return nil
}

func (m *mockStore) LoadLatest(ctx context.Context, runID string) (TestState, int, error) {
	steps, exists := m.steps[runID]
	if !exists || len(steps) == 0 {
		return TestState{}, 0, ErrNotFound
	}
	latest := steps[len(steps)-1]
	return latest.State, latest.Step, nil
}

// TestStore_SaveStep verifies SaveStep method behavior.
func TestStore_SaveStep(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}

	err := store.SaveStep(ctx, "run-001", 1, "node1", TestState{Value: "step1"})
	if err != nil {
		t.Fatalf("SaveStep failed: %v", err)
	}

	steps, exists := store.steps["run-001"]
	if !exists {
		t.Fatal("expected steps to be saved for run-001")
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].NodeID != "node1" {
		t.Errorf("expected NodeID = 'node1', got %q", steps[0].NodeID)
	}
	if steps[0].State.Value != "step1" {
		t.Errorf("expected State.Value = 'step1', got %q", steps[0].State.Value)
	}
}

// TestStore_LoadLatest verifies LoadLatest method behavior.
func TestStore_LoadLatest(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}

	_ = store.SaveStep(ctx, "run-001", 1, "node1", TestState{Value: "step1"})
	_ = store.SaveStep(ctx, "run-001", 2, "node2", TestState{Value: "step2"})
	_ = store.SaveStep(ctx, "run-001", 3, "node3", TestState{Value: "step3"})

	state, step, err := store.LoadLatest(ctx, "run-001")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}

	if step != 3 {
		t.Errorf("expected step = 3, got %d", step)
	}
	if state.Value != "step3" {
		t.Errorf("expected State.Value = 'step3', got %q", state.Value)
	}
}

// TestStore_LoadLatest_NotFound verifies error handling for missing runID.
func TestStore_LoadLatest_NotFound(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}

	_, _, err := store.LoadLatest(ctx, "nonexistent-run")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
