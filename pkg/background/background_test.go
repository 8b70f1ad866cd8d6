package background

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/agent"
	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/storage"
	"github.com/restflow-ai/restflow/pkg/tools"
)

type harness struct {
	storage *Storage
	queue   *FiringQueue
	pool    *WorkerPool
	runner  *AgentRunner
	ticker  *Ticker
}

func newHarness(t *testing.T, provider llms.Provider) *harness {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "bg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	agentTasks, err := storage.NewAgentTaskStore(store)
	require.NoError(t, err)
	checkpoints, err := storage.NewCheckpointStore(store)
	require.NoError(t, err)

	definitions, err := agent.NewDefinitions("")
	require.NoError(t, err)

	providers := llms.NewRegistry()
	require.NoError(t, providers.Register("mock", provider))

	st := NewStorage(agentTasks)
	queue := NewFiringQueue()
	runner := NewAgentRunner(definitions, providers, "mock", tools.NewRegistry(), st, checkpoints)
	pool := NewWorkerPool(queue, st, runner, PoolConfig{WorkerCount: 2})
	return &harness{
		storage: st,
		queue:   queue,
		pool:    pool,
		runner:  runner,
		ticker:  NewTicker(st, queue),
	}
}

func waitForAgentStatus(t *testing.T, st *Storage, id string, want ...models.AgentStatus) models.BackgroundAgent {
	t.Helper()
	wanted := map[models.AgentStatus]bool{}
	for _, w := range want {
		wanted[w] = true
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := st.Get(id)
		require.NoError(t, err)
		if wanted[task.Status] {
			return task
		}
		time.Sleep(20 * time.Millisecond)
	}
	task, _ := st.Get(id)
	t.Fatalf("agent %s never reached %v (last %s)", id, want, task.Status)
	return models.BackgroundAgent{}
}

func TestOneShotBackgroundAgent(t *testing.T) {
	provider := llms.NewScriptedProvider(llms.MockStep{Text: "done", Tokens: 3})
	h := newHarness(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)
	defer h.pool.Stop()

	task := models.NewBackgroundAgent("daily-check", "researcher", models.TaskSchedule{
		Kind: models.ScheduleOnce, RunAt: time.Now().UnixMilli(),
	})
	task.Input = "check the thing"
	require.NoError(t, h.storage.Create(task))

	// One ticker pass picks the due task up.
	h.ticker.tick()

	final := waitForAgentStatus(t, h.storage, task.ID, models.AgentCompleted)
	assert.Equal(t, uint64(1), final.SuccessCount)
	assert.Equal(t, uint64(0), final.FailureCount)
	assert.Nil(t, final.NextRunAt)
	require.NotNil(t, final.LastRunAt)

	// Event order: started ... output("done") ... completed.
	events, err := h.storage.ListEvents(task.ID)
	require.NoError(t, err)
	var sequence []models.EventType
	var outputText string
	for _, event := range events {
		sequence = append(sequence, event.Type)
		if event.Type == models.EventOutput {
			outputText = event.Message
		}
	}
	require.NotEmpty(t, sequence)
	assert.Equal(t, models.EventStarted, sequence[0])
	assert.Equal(t, models.EventCompleted, sequence[len(sequence)-1])
	assert.Contains(t, sequence, models.EventOutput)
	assert.Equal(t, "done", outputText)
}

func TestIntervalAgentReschedules(t *testing.T) {
	provider := llms.NewScriptedProvider(llms.MockStep{Text: "tick"})
	h := newHarness(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)
	defer h.pool.Stop()

	task := models.NewBackgroundAgent("recurring", "researcher", models.TaskSchedule{
		Kind: models.ScheduleInterval, IntervalMS: 60_000,
	})
	// Make the first run due immediately.
	now := time.Now().UnixMilli()
	task.NextRunAt = &now
	require.NoError(t, h.storage.Create(task))

	h.ticker.tick()

	final := waitForAgentStatus(t, h.storage, task.ID, models.AgentActive)
	assert.Equal(t, uint64(1), final.SuccessCount)
	require.NotNil(t, final.NextRunAt)
	assert.Greater(t, *final.NextRunAt, now)
}

func TestFailedRunIncrementsFailureCount(t *testing.T) {
	provider := llms.NewScriptedProvider(llms.MockStep{Err: assert.AnError})
	h := newHarness(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)
	defer h.pool.Stop()

	task := models.NewBackgroundAgent("doomed", "researcher", models.TaskSchedule{
		Kind: models.ScheduleOnce, RunAt: time.Now().UnixMilli(),
	})
	require.NoError(t, h.storage.Create(task))

	h.ticker.tick()

	final := waitForAgentStatus(t, h.storage, task.ID, models.AgentFailed)
	assert.Equal(t, uint64(1), final.FailureCount)
	assert.Nil(t, final.NextRunAt)
}

func TestFiringQueuePriorityOrder(t *testing.T) {
	q := NewFiringQueue()
	low := models.NewBackgroundAgent("low", "a", models.TaskSchedule{Kind: models.ScheduleManual})
	high := models.NewBackgroundAgent("high", "a", models.TaskSchedule{Kind: models.ScheduleManual})
	normal := models.NewBackgroundAgent("normal", "a", models.TaskSchedule{Kind: models.ScheduleManual})

	require.True(t, q.Submit(low, models.PriorityLow))
	require.True(t, q.Submit(high, models.PriorityHigh))
	require.True(t, q.Submit(normal, models.PriorityNormal))

	// Duplicate submissions are rejected while queued.
	assert.False(t, q.Submit(high, models.PriorityHigh))

	ctx := context.Background()
	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", first.Task.Name)
	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "normal", second.Task.Name)
	third, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low", third.Task.Name)
}

func TestUnknownAgentFails(t *testing.T) {
	provider := llms.NewScriptedProvider(llms.MockStep{Text: "never"})
	h := newHarness(t, provider)

	task := models.NewBackgroundAgent("ghost-agent", "no-such-agent", models.TaskSchedule{
		Kind: models.ScheduleManual,
	})
	require.NoError(t, h.storage.Create(task))

	success, err := h.runner.Execute(context.Background(), &task)
	assert.False(t, success)
	assert.Error(t, err)
}
