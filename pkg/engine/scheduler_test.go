package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/queue"
	"github.com/restflow-ai/restflow/pkg/storage"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	q, err := queue.New(store)
	require.NoError(t, err)
	return NewScheduler(q)
}

func linearWorkflow() models.Workflow {
	return models.Workflow{
		ID:   "wf-linear",
		Name: "linear",
		Nodes: []models.Node{
			{ID: "a", Kind: models.NodePrint, Config: json.RawMessage(`{"message":"a"}`)},
			{ID: "b", Kind: models.NodePrint, Config: json.RawMessage(`{"message":"b"}`)},
		},
		Edges: []models.Edge{{From: "a", To: "b"}},
	}
}

func TestPushPopCompleteLifecycle(t *testing.T) {
	s := newTestScheduler(t)
	wf := linearWorkflow()
	node, _ := wf.NodeByID("a")

	taskID, err := s.PushTask("exec-1", node, wf, models.NewContextSnapshot("exec-1"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := s.PopTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, models.TaskRunning, task.Status)
	require.NotNil(t, task.StartedAt)

	require.NoError(t, s.CompleteTask(task.ID, json.RawMessage(`{"printed":"a"}`)))

	stored, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestQueueDownstreamGatesOnDependencies(t *testing.T) {
	s := newTestScheduler(t)
	// join: a -> c, b -> c
	wf := models.Workflow{
		ID: "wf-join",
		Nodes: []models.Node{
			{ID: "a", Kind: models.NodePrint},
			{ID: "b", Kind: models.NodePrint},
			{ID: "c", Kind: models.NodePrint},
		},
		Edges: []models.Edge{{From: "a", To: "c"}, {From: "b", To: "c"}},
	}
	snapshot := models.NewContextSnapshot("exec-j")

	// Run a to completion; c must not enqueue yet (b pending).
	_, err := s.PushTask("exec-j", wf.Nodes[0], wf, snapshot, nil)
	require.NoError(t, err)
	ctx := context.Background()
	taskA, err := s.PopTask(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(taskA.ID, json.RawMessage(`{"printed":"a"}`)))
	require.NoError(t, s.QueueDownstreamTasks(taskA, json.RawMessage(`{"printed":"a"}`)))

	tasks, err := s.TasksByExecution("exec-j")
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "join node must wait for both parents")

	// Now run b; its fan-out sees a's completed output and enqueues c.
	_, err = s.PushTask("exec-j", wf.Nodes[1], wf, snapshot, nil)
	require.NoError(t, err)
	taskB, err := s.PopTask(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(taskB.ID, json.RawMessage(`{"printed":"b"}`)))
	require.NoError(t, s.QueueDownstreamTasks(taskB, json.RawMessage(`{"printed":"b"}`)))

	taskC, err := s.PopTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", taskC.Node.ID)
	// The join task observes both parents' outputs.
	assert.Contains(t, taskC.Context.NodeOutputs, "a")
	assert.Contains(t, taskC.Context.NodeOutputs, "b")
}

func TestRecoverStalledTasks(t *testing.T) {
	s := newTestScheduler(t).WithStallTimeout(50 * time.Millisecond)
	wf := linearWorkflow()
	node, _ := wf.NodeByID("a")

	_, err := s.PushTask("exec-s", node, wf, models.NewContextSnapshot("exec-s"), nil)
	require.NoError(t, err)
	_, err = s.PushTask("exec-s", node, wf, models.NewContextSnapshot("exec-s"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	stalled, err := s.PopTask(ctx)
	require.NoError(t, err)
	fresh, err := s.PopTask(ctx)
	require.NoError(t, err)

	// The second task finishes normally; the first sits in processing.
	require.NoError(t, s.CompleteTask(fresh.ID, json.RawMessage(`{}`)))

	// Advance the scheduler clock past the stall threshold.
	s.now = func() time.Time { return time.Now().Add(time.Minute) }

	recovered, err := s.RecoverStalledTasks()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	pending, err := s.queue.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stalled.ID, pending[0].ID)
	assert.Equal(t, models.TaskPending, pending[0].Status)
	assert.Nil(t, pending[0].StartedAt)

	processing, err := s.queue.ListProcessing()
	require.NoError(t, err)
	assert.Empty(t, processing)
}
