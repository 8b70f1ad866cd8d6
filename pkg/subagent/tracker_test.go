package subagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/reasoning"
	"github.com/restflow-ai/restflow/pkg/tools"
)

func TestMarkCompletedTransitions(t *testing.T) {
	tracker := NewTracker()
	tracker.RegisterState("id-1", "researcher", "find things")

	state, ok := tracker.Get("id-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, state.Status)

	tracker.MarkCompleted("id-1", Result{Success: true, Output: "found"})

	state, ok = tracker.Get("id-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, state.Status)
	require.NotNil(t, state.CompletedAt)
	require.NotNil(t, state.Result)
	assert.Equal(t, "found", state.Result.Output)

	// Failure result maps to Failed.
	tracker.RegisterState("id-2", "coder", "build")
	tracker.MarkCompleted("id-2", Result{Success: false, Error: "boom"})
	state, _ = tracker.Get("id-2")
	assert.Equal(t, StatusFailed, state.Status)
}

func TestWaitLateJoinReturnsStoredResult(t *testing.T) {
	tracker := NewTracker()
	tracker.RegisterState("id-1", "researcher", "task")
	tracker.MarkCompleted("id-1", Result{Success: true, Output: "early"})

	result, err := tracker.Wait(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "early", result.Output)
}

func TestWaitJoinsHandle(t *testing.T) {
	tracker := NewTracker()
	tracker.RegisterState("id-1", "coder", "task")
	h := &handle{done: make(chan Result, 1)}
	tracker.attachHandle("id-1", h)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.done <- Result{Success: true, Output: "late"}
	}()

	result, err := tracker.Wait(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "late", result.Output)

	state, _ := tracker.Get("id-1")
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestCompletionChannelPublishes(t *testing.T) {
	tracker := NewTracker()
	tracker.RegisterState("id-1", "writer", "write")
	tracker.MarkCompleted("id-1", Result{Success: true, Output: "text"})

	select {
	case completion := <-tracker.Completions():
		assert.Equal(t, "id-1", completion.ID)
		assert.True(t, completion.Result.Success)
	case <-time.After(time.Second):
		t.Fatal("no completion published")
	}
}

// stubLookup serves a fixed definition set.
type stubLookup struct{ defs map[string]models.AgentDefinition }

func (s stubLookup) Lookup(id string) (models.AgentDefinition, error) {
	if def, ok := s.defs[id]; ok {
		return def, nil
	}
	return models.AgentDefinition{}, assert.AnError
}
func (s stubLookup) Callable() []models.AgentDefinition {
	var out []models.AgentDefinition
	for _, def := range s.defs {
		out = append(out, def)
	}
	return out
}

func testDeps(provider llms.Provider) *Deps {
	return &Deps{
		Tracker: NewTracker(),
		Definitions: stubLookup{defs: map[string]models.AgentDefinition{
			"researcher": {
				ID: "researcher", Name: "researcher",
				SystemPrompt: "You research.", Callable: true,
			},
		}},
		Provider: provider,
		Registry: tools.NewRegistry(),
		Limits:   reasoning.DefaultResourceLimits(),
	}
}

func TestSpawnRunsChildToCompletion(t *testing.T) {
	provider := llms.NewScriptedProvider(llms.MockStep{Text: "child answer", Tokens: 5})
	deps := testDeps(provider)

	h, err := Spawn(deps, SpawnRequest{AgentID: "researcher", Task: "look things up"})
	require.NoError(t, err)
	assert.Equal(t, "researcher", h.AgentName)

	result, err := deps.Tracker.Wait(context.Background(), h.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "child answer", result.Output)
	assert.Equal(t, 5, result.TokensUsed)

	state, ok := deps.Tracker.Get(h.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestSpawnRejectsUnknownAgent(t *testing.T) {
	deps := testDeps(llms.NewMockProvider(""))
	_, err := Spawn(deps, SpawnRequest{AgentID: "nope", Task: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestSpawnEnforcesDepthLimit(t *testing.T) {
	deps := testDeps(llms.NewMockProvider(""))
	deps.Limits.MaxDepth = 2
	deps.ParentDepth = 1

	_, err := Spawn(deps, SpawnRequest{AgentID: "researcher", Task: "too deep"})
	require.Error(t, err)
	var resErr *reasoning.ResourceError
	assert.ErrorAs(t, err, &resErr)
}

func TestSpawnEnforcesParallelCap(t *testing.T) {
	deps := testDeps(llms.NewMockProvider(""))
	deps.MaxParallel = 1
	// A pending state counts against the cap.
	deps.Tracker.RegisterState("busy", "researcher", "running")

	_, err := Spawn(deps, SpawnRequest{AgentID: "researcher", Task: "one too many"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel")
}
