package reasoning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/events"
	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/tools"
)

// echoTool returns its arguments.
type echoTool struct{ tools.ParallelTool }

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the input." }
func (echoTool) ParametersSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{
		"msg": map[string]any{"type": "string"},
	}}
}
func (echoTool) Execute(_ context.Context, args map[string]any) (*tools.ToolOutput, error) {
	return tools.Success(args), nil
}

// slowTool sleeps until its context is cancelled or 5 s pass.
type slowTool struct{ tools.ParallelTool }

func (slowTool) Name() string                     { return "slow" }
func (slowTool) Description() string              { return "Sleep." }
func (slowTool) ParametersSchema() map[string]any { return map[string]any{"type": "object"} }
func (slowTool) Execute(ctx context.Context, _ map[string]any) (*tools.ToolOutput, error) {
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}
	return tools.Success("slept"), nil
}

func testRegistry(t *testing.T, extra ...tools.Tool) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.RegisterTool(echoTool{}))
	for _, tool := range extra {
		require.NoError(t, registry.RegisterTool(tool))
	}
	return registry
}

func TestRunWithToolCallThenFinal(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{
			ID: "call-1", Name: "echo", Arguments: map[string]any{"msg": "hi"},
		}}},
		llms.MockStep{Text: "final"},
	)
	emitter := &events.CollectingEmitter{}
	executor := NewExecutor(provider, testRegistry(t), emitter)

	cfg := NewAgentConfig("say hi").WithSystemPrompt("be brief")
	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "final", result.Answer)
	assert.Equal(t, 2, result.Iterations)
	assert.True(t, result.State.Terminal)

	// Exactly one tool_call_started/completed pair for echo.
	var starts, results int
	for _, e := range emitter.Snapshot() {
		switch e.Type {
		case events.StreamToolCallStart:
			starts++
			assert.Equal(t, "echo", e.ToolName)
		case events.StreamToolCallResult:
			results++
			assert.True(t, e.Success)
		}
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, results)
}

func TestMessageSequenceAlternates(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{
			{ID: "c1", Name: "echo", Arguments: map[string]any{"msg": "a"}},
			{ID: "c2", Name: "echo", Arguments: map[string]any{"msg": "b"}},
		}},
		llms.MockStep{Text: "done"},
	)
	executor := NewExecutor(provider, testRegistry(t), nil)

	result, err := executor.Run(context.Background(), NewAgentConfig("go").WithSystemPrompt("sys"))
	require.NoError(t, err)

	msgs := result.State.Messages
	require.GreaterOrEqual(t, len(msgs), 5)
	assert.Equal(t, llms.RoleSystem, msgs[0].Role)
	assert.Equal(t, llms.RoleUser, msgs[1].Role)
	assert.Equal(t, llms.RoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 2)

	// Tool results follow in declaration order.
	assert.Equal(t, llms.RoleTool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Equal(t, llms.RoleTool, msgs[4].Role)
	assert.Equal(t, "c2", msgs[4].ToolCallID)

	// Final assistant message carries no tool calls.
	last := msgs[len(msgs)-1]
	assert.Equal(t, llms.RoleAssistant, last.Role)
	assert.Empty(t, last.ToolCalls)
}

func TestMaxIterations(t *testing.T) {
	// The model loops on tool calls forever.
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{
			ID: "c", Name: "echo", Arguments: map[string]any{"msg": "again"},
		}}},
	)
	executor := NewExecutor(provider, testRegistry(t), nil)

	cfg := NewAgentConfig("loop").WithMaxIterations(3).WithoutStuckDetection()
	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "max_iterations")
	assert.Equal(t, 3, result.Iterations)
}

func TestStuckTerminates(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{
			ID: "c", Name: "echo", Arguments: map[string]any{"msg": "same"},
		}}},
	)
	executor := NewExecutor(provider, testRegistry(t), nil)

	cfg := NewAgentConfig("loop")
	cfg.Stuck = &StuckConfig{WindowSize: 10, Threshold: 2, Action: StuckTerminate}
	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "stuck")
}

func TestStuckNudgeInjectsUserMessage(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"m": "x"}}}},
		llms.MockStep{ToolCalls: []llms.ToolCall{{ID: "c2", Name: "echo", Arguments: map[string]any{"m": "x"}}}},
		llms.MockStep{Text: "recovered"},
	)
	executor := NewExecutor(provider, testRegistry(t), nil)

	cfg := NewAgentConfig("loop")
	cfg.Stuck = &StuckConfig{WindowSize: 10, Threshold: 2, Action: StuckNudge}
	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, result.Success)
	nudged := false
	for _, msg := range result.State.Messages {
		if msg.Role == llms.RoleUser && msg.Content == NudgeMessage {
			nudged = true
		}
	}
	assert.True(t, nudged, "expected a nudge user message in the transcript")
}

func TestResourceLimitTerminates(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{ID: "c", Name: "echo", Arguments: map[string]any{}}}},
	)
	executor := NewExecutor(provider, testRegistry(t), nil)

	cfg := NewAgentConfig("loop").WithoutStuckDetection()
	cfg.ResourceLimits = ResourceLimits{MaxToolCalls: 2}
	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool call limit")
	assert.Equal(t, 2, result.ResourceUsage.ToolCalls)
}

func TestCancellationDuringToolCall(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{ID: "c", Name: "slow", Arguments: map[string]any{}}}},
		llms.MockStep{Text: "should never be produced"},
	)
	emitter := &events.CollectingEmitter{}
	executor := NewExecutor(provider, testRegistry(t, slowTool{}), emitter)

	cfg := NewAgentConfig("sleep").WithoutStuckDetection()
	cfg.ToolTimeout = 500 * time.Millisecond
	cfg.Cancel = NewCancelToken()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cfg.Cancel.Cancel()
	}()

	start := time.Now()
	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "cancel")
	assert.Less(t, time.Since(start), 3*time.Second)

	starts := 0
	for _, e := range emitter.Snapshot() {
		if e.Type == events.StreamToolCallStart {
			starts++
		}
	}
	assert.GreaterOrEqual(t, starts, 1)
	// No LLM call after cancellation was observed.
	assert.Equal(t, 1, provider.CallCount())
}

func TestSteerMessagesAppendBeforeNextCall(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{ID: "c", Name: "echo", Arguments: map[string]any{}}}},
		llms.MockStep{Text: "ok"},
	)
	executor := NewExecutor(provider, testRegistry(t), nil)

	steer := NewSteerChannel()
	steer <- NewSteerMessage("focus on Paris", "user")

	cfg := NewAgentConfig("plan a trip").WithoutStuckDetection()
	cfg.Steer = steer
	pending := []string{"and keep it cheap"}
	cfg.Messages = func(context.Context) []string {
		out := pending
		pending = nil
		return out
	}

	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, result.Success)

	// Steer lands first, then the pending user message, both before the
	// first assistant turn.
	msgs := result.State.Messages
	var userContents []string
	for _, msg := range msgs {
		if msg.Role == llms.RoleUser {
			userContents = append(userContents, msg.Content)
		}
		if msg.Role == llms.RoleAssistant {
			break
		}
	}
	require.Len(t, userContents, 3)
	assert.Equal(t, "plan a trip", userContents[0])
	assert.Equal(t, "focus on Paris", userContents[1])
	assert.Equal(t, "and keep it cheap", userContents[2])
}

func TestCheckpointPerTurn(t *testing.T) {
	provider := llms.NewScriptedProvider(
		llms.MockStep{ToolCalls: []llms.ToolCall{{ID: "c", Name: "echo", Arguments: map[string]any{}}}},
		llms.MockStep{Text: "done"},
	)
	executor := NewExecutor(provider, testRegistry(t), nil)

	saved := make(chan *AgentState, 8)
	cfg := NewAgentConfig("go").WithoutStuckDetection()
	cfg.CheckpointPolicy = CheckpointPolicy{Kind: CheckpointPerTurn}
	cfg.Checkpoint = func(_ context.Context, state *AgentState) error {
		saved <- state
		return nil
	}

	result, err := executor.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, result.Success)

	// Per-turn checkpoint plus the terminal one.
	count := 0
	deadline := time.After(2 * time.Second)
	for count < 2 {
		select {
		case <-saved:
			count++
		case <-deadline:
			t.Fatalf("expected at least 2 checkpoints, got %d", count)
		}
	}
}
