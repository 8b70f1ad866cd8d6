package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/storage"
)

func newTestQueue(t *testing.T) *TaskQueue {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	q, err := New(store)
	require.NoError(t, err)
	return q
}

func testTask(id string) models.WorkflowTask {
	node := models.Node{ID: "n-" + id, Kind: models.NodePrint, Config: json.RawMessage(`{"message":"hi"}`)}
	wf := models.Workflow{ID: "wf", Name: "wf", Nodes: []models.Node{node}}
	task := models.NewWorkflowTask("exec-1", node, wf, models.NewContextSnapshot("exec-1"), nil)
	task.ID = id
	return task
}

func TestInsertThenPopRoundTrips(t *testing.T) {
	q := newTestQueue(t)
	task := testTask("task-a")
	require.NoError(t, q.InsertPending(100, task))

	popped, err := q.AtomicPopPending(nil)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, task.ID, popped.ID)
	assert.Equal(t, task.Node.ID, popped.Node.ID)
}

func TestPriorityOrderWithTiebreak(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.InsertPending(2, testTask("A")))
	require.NoError(t, q.InsertPending(1, testTask("B")))

	popped, err := q.AtomicPopPending(nil)
	require.NoError(t, err)
	assert.Equal(t, "B", popped.ID)

	// Same priority ties break on task id.
	require.NoError(t, q.InsertPending(5, testTask("z")))
	require.NoError(t, q.InsertPending(5, testTask("a")))
	popped, err = q.AtomicPopPending(nil)
	require.NoError(t, err)
	assert.Equal(t, "A", popped.ID) // priority 2 inserted earlier still wins
	popped, err = q.AtomicPopPending(nil)
	require.NoError(t, err)
	assert.Equal(t, "a", popped.ID)
	popped, err = q.AtomicPopPending(nil)
	require.NoError(t, err)
	assert.Equal(t, "z", popped.ID)
}

func TestTaskInExactlyOneTable(t *testing.T) {
	q := newTestQueue(t)
	task := testTask("solo")
	require.NoError(t, q.InsertPending(1, task))

	countTables := func() (int, int, int) {
		pending, err := q.ListPending()
		require.NoError(t, err)
		processing, err := q.ListProcessing()
		require.NoError(t, err)
		completed, err := q.ListCompleted()
		require.NoError(t, err)
		return len(pending), len(processing), len(completed)
	}

	p, r, c := countTables()
	assert.Equal(t, [3]int{1, 0, 0}, [3]int{p, r, c})

	popped, err := q.AtomicPopPending(func(task *models.WorkflowTask) {
		now := time.Now().UnixMilli()
		task.Status = models.TaskRunning
		task.StartedAt = &now
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, popped.Status)
	require.NotNil(t, popped.StartedAt)

	p, r, c = countTables()
	assert.Equal(t, [3]int{0, 1, 0}, [3]int{p, r, c})

	popped.Status = models.TaskCompleted
	require.NoError(t, q.MoveToCompleted(*popped))

	p, r, c = countTables()
	assert.Equal(t, [3]int{0, 0, 1}, [3]int{p, r, c})

	found, err := q.GetFromAnyTable("solo")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, found.Status)
}

func TestPopEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	popped, err := q.AtomicPopPending(nil)
	require.NoError(t, err)
	assert.Nil(t, popped)
}

func TestNotifierWakesWaiter(t *testing.T) {
	q := newTestQueue(t)

	woke := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		woke <- q.Notifier().Wait(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.InsertPending(1, testTask("wake")))

	select {
	case err := <-woke:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestClearAll(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.InsertPending(1, testTask("x")))
	_, err := q.AtomicPopPending(nil)
	require.NoError(t, err)
	require.NoError(t, q.InsertPending(2, testTask("y")))

	require.NoError(t, q.ClearAll())
	pending, err := q.ListPending()
	require.NoError(t, err)
	processing, err := q.ListProcessing()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, processing)
}
