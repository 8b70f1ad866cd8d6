package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/nodes"
	"github.com/restflow-ai/restflow/pkg/queue"
	"github.com/restflow-ai/restflow/pkg/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.WorkflowStore) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "trigger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	workflows, err := storage.NewWorkflowStore(store)
	require.NoError(t, err)
	triggers, err := storage.NewTriggerStore(store)
	require.NoError(t, err)
	q, err := queue.New(store)
	require.NoError(t, err)
	history, err := storage.NewHistoryStore(store)
	require.NoError(t, err)

	registry := nodes.NewRegistry().
		Register(nodes.PrintExecutor{}).
		Register(nodes.TransformExecutor{})
	executor := engine.NewExecutor(engine.NewScheduler(q), registry, history, nil)
	return NewManager(workflows, triggers, executor), workflows
}

func webhookWorkflow(auth *models.AuthConfig, mode models.ResponseMode) models.Workflow {
	triggerCfg, _ := json.Marshal(map[string]any{
		"webhook_id":    "wh-1",
		"method":        "POST",
		"auth":          auth,
		"response_mode": mode,
	})
	return models.Workflow{
		ID:   "wf-hook",
		Name: "hook",
		Nodes: []models.Node{
			{ID: "wh", Kind: models.NodeWebhookTrigger, Config: triggerCfg},
			{ID: "double", Kind: models.NodeDataTransform,
				Config: json.RawMessage(`{"mode":"math","field":"x","op":"multiply","value":2}`)},
			{ID: "print", Kind: models.NodePrint,
				Config: json.RawMessage(`{"message":"{{double.output.result}}"}`)},
		},
		Edges: []models.Edge{{From: "wh", To: "double"}, {From: "double", To: "print"}},
	}
}

func TestActivateAndDeactivateWorkflow(t *testing.T) {
	m, workflows := newTestManager(t)
	require.NoError(t, workflows.Put(webhookWorkflow(nil, models.ResponseSync)))

	active, err := m.ActivateWorkflow("wf-hook")
	require.NoError(t, err)
	assert.Equal(t, "wh-1", active.ID)

	// Double activation is rejected.
	_, err = m.ActivateWorkflow("wf-hook")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has an active trigger")

	require.NoError(t, m.DeactivateWorkflow("wf-hook"))
	_, err = m.ActivateWorkflow("wf-hook")
	assert.NoError(t, err)
}

func TestActivateRequiresTriggerNode(t *testing.T) {
	m, workflows := newTestManager(t)
	require.NoError(t, workflows.Put(models.Workflow{
		ID:    "wf-plain",
		Nodes: []models.Node{{ID: "p", Kind: models.NodePrint}},
	}))
	_, err := m.ActivateWorkflow("wf-plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no trigger node")
}

func TestWebhookSyncExecution(t *testing.T) {
	m, workflows := newTestManager(t)
	require.NoError(t, workflows.Put(webhookWorkflow(nil, models.ResponseSync)))
	_, err := m.ActivateWorkflow("wf-hook")
	require.NoError(t, err)

	resp, err := m.HandleWebhook(context.Background(), "wh-1", "POST",
		map[string]string{"Content-Type": "application/json"},
		map[string]any{"x": float64(42)})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.JSONEq(t, `{"printed":"84"}`, string(resp.Result["print"]))

	// Firing statistics updated.
	trigger, err := m.triggers.Get("wh-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), trigger.TriggerCount)
}

func TestWebhookMethodMismatch(t *testing.T) {
	m, workflows := newTestManager(t)
	require.NoError(t, workflows.Put(webhookWorkflow(nil, models.ResponseSync)))
	_, err := m.ActivateWorkflow("wf-hook")
	require.NoError(t, err)

	_, err = m.HandleWebhook(context.Background(), "wh-1", "GET", nil, nil)
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
}

func TestWebhookUnknownID(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.HandleWebhook(context.Background(), "ghost", "POST", nil, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWebhookAPIKeyAuth(t *testing.T) {
	m, workflows := newTestManager(t)
	auth := &models.AuthConfig{Mode: models.AuthAPIKey, Key: "sekrit"}
	require.NoError(t, workflows.Put(webhookWorkflow(auth, models.ResponseSync)))
	_, err := m.ActivateWorkflow("wf-hook")
	require.NoError(t, err)

	_, err = m.HandleWebhook(context.Background(), "wh-1", "POST",
		map[string]string{}, map[string]any{"x": float64(1)})
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = m.HandleWebhook(context.Background(), "wh-1", "POST",
		map[string]string{"X-Api-Key": "wrong"}, map[string]any{"x": float64(1)})
	assert.True(t, errors.Is(err, ErrUnauthorized))

	resp, err := m.HandleWebhook(context.Background(), "wh-1", "POST",
		map[string]string{"X-Api-Key": "sekrit"}, map[string]any{"x": float64(1)})
	require.NoError(t, err)
	assert.NotNil(t, resp.Result)
}

func TestVerifyBasicAuth(t *testing.T) {
	cfg := &models.AuthConfig{Mode: models.AuthBasic, Username: "u", Password: "p"}

	// u:p base64 = dTpw
	assert.NoError(t, verifyAuth(cfg, map[string]string{"Authorization": "Basic dTpw"}))
	assert.Error(t, verifyAuth(cfg, map[string]string{"Authorization": "Basic d3Jvbmc6d3Jvbmc="}))
	assert.Error(t, verifyAuth(cfg, map[string]string{}))
	// Case-insensitive header lookup.
	assert.NoError(t, verifyAuth(cfg, map[string]string{"authorization": "Basic dTpw"}))
}

func TestVerifyNoneAuthAllowsAll(t *testing.T) {
	assert.NoError(t, verifyAuth(nil, nil))
	assert.NoError(t, verifyAuth(&models.AuthConfig{Mode: models.AuthNone}, nil))
}
