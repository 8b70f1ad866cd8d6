package secrets

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "secrets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)

	store, err := NewStore(db, key)
	require.NoError(t, err)
	return store
}

func TestSetGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("OPENAI_API_KEY", "sk-test-value", "llm key"))

	secret, err := store.Get("OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-value", secret.Value)
	assert.Equal(t, "llm key", secret.Description)
	assert.NotZero(t, secret.CreatedAt)
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("K", "v1", "first"))
	original, err := store.Get("K")
	require.NoError(t, err)

	require.NoError(t, store.Set("K", "v2", ""))
	updated, err := store.Get("K")
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Value)
	assert.Empty(t, updated.Description)
	assert.Equal(t, original.CreatedAt, updated.CreatedAt)
}

func TestListNeverExposesValues(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("A", "secret-a", "desc"))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Value)
	assert.Equal(t, "A", list[0].Key)
}

func TestResolveMissingKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Resolve("MISSING")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestValuesAreEncryptedAtRest(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	store, err := NewStore(db, key)
	require.NoError(t, err)
	require.NoError(t, store.Set("K", "plaintext-value", ""))

	table, err := db.Table("secrets")
	require.NoError(t, err)
	raw, err := table.Get("K")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext-value")
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("K", "v", ""))

	existed, err := store.Delete("K")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = store.Get("K")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
