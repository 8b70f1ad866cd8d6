package engine_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/nodes"
	"github.com/restflow-ai/restflow/pkg/queue"
	"github.com/restflow-ai/restflow/pkg/storage"
)

// failingExecutor fails every node of its kind; used for the fan-out
// failure scenario.
type failingExecutor struct{}

func (failingExecutor) Kind() models.NodeKind { return models.NodeHTTPRequest }
func (failingExecutor) Execute(context.Context, models.Node, *engine.ExecutionContext, json.RawMessage) (json.RawMessage, error) {
	return nil, assert.AnError
}

func newHarness(t *testing.T) (*engine.Executor, *engine.WorkerPool, *storage.HistoryStore) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q, err := queue.New(store)
	require.NoError(t, err)
	history, err := storage.NewHistoryStore(store)
	require.NoError(t, err)

	registry := nodes.NewRegistry().
		Register(nodes.PrintExecutor{}).
		Register(nodes.TransformExecutor{}).
		Register(failingExecutor{})

	executor := engine.NewExecutor(engine.NewScheduler(q), registry, history, nil)
	pool := engine.NewWorkerPool(executor, 2)
	return executor, pool, history
}

func waitForStatus(t *testing.T, executor *engine.Executor, executionID string, want models.ExecutionStatus) models.ExecutionSummary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		summary, err := executor.ExecutionStatus(executionID)
		if err == nil && summary.Status == want {
			return summary
		}
		time.Sleep(20 * time.Millisecond)
	}
	summary, _ := executor.ExecutionStatus(executionID)
	t.Fatalf("execution %s never reached %s (last: %+v)", executionID, want, summary)
	return models.ExecutionSummary{}
}

func TestLinearWorkflowEndToEnd(t *testing.T) {
	executor, pool, _ := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	wf := models.Workflow{
		ID:   "w-linear",
		Name: "linear",
		Nodes: []models.Node{
			{ID: "trigger", Kind: models.NodeManualTrigger},
			{ID: "print", Kind: models.NodePrint, Config: json.RawMessage(`{"message":"hello"}`)},
		},
		Edges: []models.Edge{{From: "trigger", To: "print"}},
	}

	executionID, err := executor.Submit(wf, json.RawMessage(`{"payload":{}}`))
	require.NoError(t, err)

	summary := waitForStatus(t, executor, executionID, models.ExecutionCompleted)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Failed)

	tasks, err := executor.Scheduler().TasksByExecution(executionID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskCompleted, tasks[0].Status)
	assert.JSONEq(t, `{"printed":"hello"}`, string(tasks[0].Output))
}

func TestFanOutWithFailure(t *testing.T) {
	executor, pool, _ := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	// a -> {b, c}; b (http_request) fails, c succeeds.
	wf := models.Workflow{
		ID:   "w-fan",
		Name: "fan",
		Nodes: []models.Node{
			{ID: "a", Kind: models.NodePrint, Config: json.RawMessage(`{"message":"a"}`)},
			{ID: "b", Kind: models.NodeHTTPRequest},
			{ID: "c", Kind: models.NodePrint, Config: json.RawMessage(`{"message":"c"}`)},
		},
		Edges: []models.Edge{{From: "a", To: "b"}, {From: "a", To: "c"}},
	}

	executionID, err := executor.Submit(wf, nil)
	require.NoError(t, err)

	summary := waitForStatus(t, executor, executionID, models.ExecutionFailed)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Failed)

	// Sibling branches continue; wait for c too.
	deadline := time.Now().Add(5 * time.Second)
	var byNode map[string]models.WorkflowTask
	for time.Now().Before(deadline) {
		tasks, err := executor.Scheduler().TasksByExecution(executionID)
		require.NoError(t, err)
		byNode = map[string]models.WorkflowTask{}
		for _, task := range tasks {
			byNode[task.Node.ID] = task
		}
		if len(byNode) == 3 && byNode["c"].Status.Terminal() && byNode["b"].Status.Terminal() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	assert.Equal(t, models.TaskCompleted, byNode["a"].Status)
	assert.Equal(t, models.TaskFailed, byNode["b"].Status)
	assert.NotEmpty(t, byNode["b"].Error)
	assert.Equal(t, models.TaskCompleted, byNode["c"].Status)
}

func TestRunSyncTopologicalOutputs(t *testing.T) {
	executor, _, _ := newHarness(t)

	wf := models.Workflow{
		ID:   "w-sync",
		Name: "sync",
		Nodes: []models.Node{
			{ID: "wh", Kind: models.NodeWebhookTrigger},
			{ID: "double", Kind: models.NodeDataTransform,
				Config: json.RawMessage(`{"mode":"math","field":"x","op":"multiply","value":2}`)},
			{ID: "print", Kind: models.NodePrint,
				Config: json.RawMessage(`{"message":"{{double.output.result}}"}`)},
		},
		Edges: []models.Edge{{From: "wh", To: "double"}, {From: "double", To: "print"}},
	}

	outputs, err := executor.RunSync(context.Background(), wf, json.RawMessage(`{"body":{"x":42}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":84}`, string(outputs["double"]))
	assert.JSONEq(t, `{"printed":"84"}`, string(outputs["print"]))
}
