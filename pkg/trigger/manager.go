// Copyright 2025 The RestFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trigger binds workflow triggers to submissions: webhook
// ingress and the schedule evaluator.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/storage"
)

// ErrMethodNotAllowed maps to HTTP 405.
var ErrMethodNotAllowed = errors.New("method not allowed")

// WebhookResponse is the outcome of a webhook dispatch: the execution
// id in async mode, the full result map in sync mode.
type WebhookResponse struct {
	ExecutionID string                     `json:"execution_id,omitempty"`
	Result      map[string]json.RawMessage `json:"result,omitempty"`
}

// Manager owns the webhook_id <-> workflow binding and the schedule
// evaluator.
type Manager struct {
	workflows *storage.WorkflowStore
	triggers  *storage.TriggerStore
	executor  *engine.Executor

	mu      sync.Mutex
	nextDue map[string]int64 // schedule trigger id -> next fire (ms)
}

// NewManager wires a manager.
func NewManager(workflows *storage.WorkflowStore, triggers *storage.TriggerStore, executor *engine.Executor) *Manager {
	return &Manager{
		workflows: workflows,
		triggers:  triggers,
		executor:  executor,
		nextDue:   make(map[string]int64),
	}
}

// Init logs the restored trigger set.
func (m *Manager) Init() error {
	triggers, err := m.triggers.List()
	if err != nil {
		return err
	}
	webhooks := 0
	for _, t := range triggers {
		if t.Config.Kind == models.NodeWebhookTrigger {
			webhooks++
		}
	}
	slog.Info("Trigger manager initialized", "triggers", len(triggers), "webhooks", webhooks)
	return nil
}

// ActivateWorkflow reads the workflow's trigger node and persists an
// active trigger. Fails if the workflow has no trigger configuration or
// already has an active trigger.
func (m *Manager) ActivateWorkflow(workflowID string) (models.ActiveTrigger, error) {
	if _, err := m.triggers.GetByWorkflow(workflowID); err == nil {
		return models.ActiveTrigger{}, fmt.Errorf("workflow %s already has an active trigger", workflowID)
	}
	wf, err := m.workflows.Get(workflowID)
	if err != nil {
		return models.ActiveTrigger{}, fmt.Errorf("failed to get workflow: %w", err)
	}
	cfg, err := ExtractTriggerConfig(&wf)
	if err != nil {
		return models.ActiveTrigger{}, err
	}

	active := models.NewActiveTrigger(workflowID, cfg)
	if err := m.triggers.Activate(active); err != nil {
		return models.ActiveTrigger{}, err
	}
	slog.Info("Activated trigger", "workflow_id", workflowID, "kind", cfg.Kind, "trigger_id", active.ID)
	return active, nil
}

// DeactivateWorkflow removes the workflow's active trigger.
func (m *Manager) DeactivateWorkflow(workflowID string) error {
	active, err := m.triggers.GetByWorkflow(workflowID)
	if err != nil {
		return fmt.Errorf("no active trigger for workflow %s: %w", workflowID, err)
	}
	if err := m.triggers.Deactivate(active.ID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.nextDue, active.ID)
	m.mu.Unlock()
	slog.Info("Deactivated trigger", "workflow_id", workflowID)
	return nil
}

// HandleWebhook verifies method and auth, assembles the input and
// dispatches per the trigger's response mode.
func (m *Manager) HandleWebhook(ctx context.Context, webhookID, method string, headers map[string]string, body any) (*WebhookResponse, error) {
	active, err := m.triggers.Get(webhookID)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: %w", webhookID, storage.ErrNotFound)
	}
	cfg := active.Config
	if cfg.Kind != models.NodeWebhookTrigger {
		return nil, fmt.Errorf("webhook %s: %w", webhookID, storage.ErrNotFound)
	}
	if cfg.Method != "" && !strings.EqualFold(cfg.Method, method) {
		return nil, fmt.Errorf("%w: expected %s", ErrMethodNotAllowed, strings.ToUpper(cfg.Method))
	}
	if err := verifyAuth(cfg.Auth, headers); err != nil {
		return nil, err
	}

	input, err := json.Marshal(map[string]any{
		"headers":      headers,
		"body":         body,
		"method":       strings.ToUpper(method),
		"webhook_id":   webhookID,
		"triggered_at": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	wf, err := m.workflows.Get(active.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", active.WorkflowID, err)
	}

	var response *WebhookResponse
	switch cfg.ResponseMode {
	case models.ResponseSync:
		// Sync mode runs inline and is bounded by the request context
		// deadline rather than workflow-wide resource limits.
		outputs, err := m.executor.RunSync(ctx, wf, input)
		if err != nil {
			return nil, err
		}
		response = &WebhookResponse{Result: outputs}
	default:
		executionID, err := m.executor.Submit(wf, input)
		if err != nil {
			return nil, err
		}
		response = &WebhookResponse{ExecutionID: executionID}
	}

	active.RecordTrigger()
	if err := m.triggers.Update(active); err != nil {
		slog.Warn("Failed to update trigger stats", "trigger_id", active.ID, "error", err)
	}
	return response, nil
}

// RunScheduleTicker evaluates schedule triggers at a coarse cadence and
// submits due workflows until ctx is done.
func (m *Manager) RunScheduleTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluateSchedules()
		}
	}
}

func (m *Manager) evaluateSchedules() {
	triggers, err := m.triggers.List()
	if err != nil {
		slog.Error("Failed to list triggers", "error", err)
		return
	}
	now := time.Now().UnixMilli()
	for _, active := range triggers {
		if active.Config.Kind != models.NodeScheduleTrigger {
			continue
		}
		m.mu.Lock()
		due, known := m.nextDue[active.ID]
		if !known {
			due = m.computeNext(active.Config, now)
			m.nextDue[active.ID] = due
		}
		fire := due > 0 && now >= due
		if fire {
			m.nextDue[active.ID] = m.computeNext(active.Config, now)
		}
		m.mu.Unlock()

		if !fire {
			continue
		}
		m.fireSchedule(active, now)
	}
}

func (m *Manager) fireSchedule(active models.ActiveTrigger, now int64) {
	wf, err := m.workflows.Get(active.WorkflowID)
	if err != nil {
		slog.Error("Scheduled workflow missing", "workflow_id", active.WorkflowID, "error", err)
		return
	}
	input, _ := json.Marshal(map[string]any{
		"triggered_at": time.UnixMilli(now).Format(time.RFC3339),
		"trigger_id":   active.ID,
	})
	executionID, err := m.executor.Submit(wf, input)
	if err != nil {
		slog.Error("Failed to submit scheduled workflow", "workflow_id", wf.ID, "error", err)
		return
	}
	active.RecordTrigger()
	if err := m.triggers.Update(active); err != nil {
		slog.Warn("Failed to update trigger stats", "trigger_id", active.ID, "error", err)
	}
	slog.Info("Fired schedule trigger", "workflow_id", wf.ID, "execution_id", executionID)
}

// computeNext returns the next fire time for a schedule trigger config.
func (m *Manager) computeNext(cfg models.TriggerConfig, now int64) int64 {
	switch {
	case cfg.Cron != "":
		schedule := models.TaskSchedule{
			Kind:       models.ScheduleCron,
			Expression: cfg.Cron,
			Timezone:   cfg.Timezone,
		}
		if next := schedule.NextRunAfter(nil, now); next != nil {
			return *next
		}
		return 0
	case cfg.IntervalMS > 0:
		return now + cfg.IntervalMS
	default:
		return 0
	}
}

// ExtractTriggerConfig parses the workflow's trigger node config.
func ExtractTriggerConfig(wf *models.Workflow) (models.TriggerConfig, error) {
	node, ok := wf.TriggerNode()
	if !ok {
		return models.TriggerConfig{}, fmt.Errorf("workflow %s has no trigger node", wf.ID)
	}
	cfg := models.TriggerConfig{Kind: node.Kind}
	if len(node.Config) > 0 {
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return models.TriggerConfig{}, fmt.Errorf("workflow %s has malformed trigger config: %w", wf.ID, err)
		}
	}
	cfg.Kind = node.Kind
	if cfg.Kind == models.NodeWebhookTrigger && cfg.WebhookID == "" {
		return models.TriggerConfig{}, fmt.Errorf("workflow %s webhook trigger requires webhook_id", wf.ID)
	}
	return cfg, nil
}
