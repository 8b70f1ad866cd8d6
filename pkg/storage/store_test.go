package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTablePutGetDelete(t *testing.T) {
	store := openTestStore(t)
	table, err := store.Table("tasks:pending")
	require.NoError(t, err)

	require.NoError(t, table.Put("k1", []byte("v1")))

	value, err := table.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	existed, err := table.Delete("k1")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = table.Get("k1")
	assert.ErrorIs(t, err, ErrNotFound)

	existed, err = table.Delete("k1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestTableOrderingAndPrefix(t *testing.T) {
	store := openTestStore(t)
	table, err := store.Table("idx")
	require.NoError(t, err)

	require.NoError(t, table.Put("b:2", []byte("b2")))
	require.NoError(t, table.Put("a:1", []byte("a1")))
	require.NoError(t, table.Put("a:2", []byte("a2")))

	kvs, err := table.List()
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	assert.Equal(t, "a:1", kvs[0].Key)
	assert.Equal(t, "a:2", kvs[1].Key)
	assert.Equal(t, "b:2", kvs[2].Key)

	prefixed, err := table.ListPrefix("a:")
	require.NoError(t, err)
	require.Len(t, prefixed, 2)

	key, value, err := table.First()
	require.NoError(t, err)
	assert.Equal(t, "a:1", key)
	assert.Equal(t, []byte("a1"), value)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	table, err := store.Table("t")
	require.NoError(t, err)

	err = store.Update(func(tx *Tx) error {
		require.NoError(t, tx.Put("t", "k", []byte("v")))
		return assert.AnError
	})
	require.Error(t, err)

	_, err = table.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpointVersioning(t *testing.T) {
	store := openTestStore(t)
	cs, err := NewCheckpointStore(store)
	require.NoError(t, err)

	cp := func(id string, version uint64, expired int64) models.AgentCheckpoint {
		return models.AgentCheckpoint{
			ID:          id,
			TaskID:      "task-1",
			ExecutionID: "exec-1",
			Version:     version,
			ExpiredAt:   expired,
			State:       []byte(`{"iteration":1}`),
		}
	}

	future := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, cs.Save(cp("cp-1", 1, future)))
	require.NoError(t, cs.Save(cp("cp-2", 2, future)))

	// A stale version is an invariant violation.
	err = cs.Save(cp("cp-3", 2, future))
	assert.ErrorIs(t, err, ErrStaleCheckpoint)

	latest, err := cs.LatestByTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-2", latest.ID)
	assert.Equal(t, uint64(2), latest.Version)
}

func TestCheckpointGC(t *testing.T) {
	store := openTestStore(t)
	cs, err := NewCheckpointStore(store)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour).UnixMilli()
	future := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, cs.Save(models.AgentCheckpoint{
		ID: "old", TaskID: "t1", ExecutionID: "e1", Version: 1, ExpiredAt: past,
		State: []byte(`{}`),
	}))
	require.NoError(t, cs.Save(models.AgentCheckpoint{
		ID: "new", TaskID: "t1", ExecutionID: "e1", Version: 2, ExpiredAt: future,
		State: []byte(`{}`),
	}))

	removed, err := cs.DeleteExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	latest, err := cs.LatestByTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
}

func TestPendingMessageConsumption(t *testing.T) {
	store := openTestStore(t)
	as, err := NewAgentTaskStore(store)
	require.NoError(t, err)

	first := models.NewTaskMessage("task-1", models.SourceUser, "first")
	second := models.NewTaskMessage("task-1", models.SourceUser, "second")
	second.CreatedAt = first.CreatedAt + 1
	agentMsg := models.NewTaskMessage("task-1", models.SourceAgent, "reply")

	require.NoError(t, as.PushMessage(first))
	require.NoError(t, as.PushMessage(second))
	require.NoError(t, as.PushMessage(agentMsg))

	consumed, err := as.ConsumePendingMessages("task-1")
	require.NoError(t, err)
	require.Len(t, consumed, 2)
	assert.Equal(t, "first", consumed[0].Content)
	assert.Equal(t, "second", consumed[1].Content)

	// Second drain is empty; messages are Consumed, not gone.
	consumed, err = as.ConsumePendingMessages("task-1")
	require.NoError(t, err)
	assert.Empty(t, consumed)

	all, err := as.ListMessages("task-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
