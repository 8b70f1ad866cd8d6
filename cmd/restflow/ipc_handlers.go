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

package main

import (
	"context"
	"encoding/json"
	"errors"

	restflow "github.com/restflow-ai/restflow"
	"github.com/restflow-ai/restflow/pkg/ipc"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/storage"
)

// idParams is the common {"id": "..."} request shape.
type idParams struct {
	ID string `json:"id"`
}

// registerIPCHandlers exposes the daemon surface to the CLI.
func (rt *runtime) registerIPCHandlers() {
	s := rt.ipcServer

	s.Handle("system.status", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{
			"version": restflow.Version,
			"dir":     rt.dirs.Root,
		}, nil
	})

	// Workflows.
	s.Handle("workflow.list", func(context.Context, json.RawMessage) (any, error) {
		return rt.workflows.List()
	})
	s.Handle("workflow.put", func(_ context.Context, params json.RawMessage) (any, error) {
		var wf models.Workflow
		if err := json.Unmarshal(params, &wf); err != nil {
			return nil, ipc.InvalidParams("invalid workflow: %v", err)
		}
		if err := rt.workflows.Put(wf); err != nil {
			return nil, err
		}
		return map[string]string{"id": wf.ID}, nil
	})
	s.Handle("workflow.run", func(_ context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID    string          `json:"id"`
			Input json.RawMessage `json:"input,omitempty"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		wf, err := rt.workflows.Get(p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ipc.NotFound("workflow %s not found", p.ID)
		} else if err != nil {
			return nil, err
		}
		executionID, err := rt.executor.Submit(wf, p.Input)
		if err != nil {
			return nil, err
		}
		return map[string]string{"execution_id": executionID}, nil
	})
	s.Handle("workflow.activate", func(_ context.Context, params json.RawMessage) (any, error) {
		var p idParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		return rt.triggerMgr.ActivateWorkflow(p.ID)
	})
	s.Handle("workflow.deactivate", func(_ context.Context, params json.RawMessage) (any, error) {
		var p idParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		return nil, rt.triggerMgr.DeactivateWorkflow(p.ID)
	})
	s.Handle("execution.status", func(_ context.Context, params json.RawMessage) (any, error) {
		var p idParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		summary, err := rt.executor.ExecutionStatus(p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ipc.NotFound("execution %s not found", p.ID)
		}
		return summary, err
	})

	// Background agents.
	s.Handle("agent.definitions", func(context.Context, json.RawMessage) (any, error) {
		return rt.definitions.List(), nil
	})
	s.Handle("task.list", func(context.Context, json.RawMessage) (any, error) {
		return rt.bgStorage.List()
	})
	s.Handle("task.create", func(_ context.Context, params json.RawMessage) (any, error) {
		var task models.BackgroundAgent
		if err := json.Unmarshal(params, &task); err != nil {
			return nil, ipc.InvalidParams("invalid task: %v", err)
		}
		if task.ID == "" {
			created := models.NewBackgroundAgent(task.Name, task.AgentID, task.Schedule)
			created.Description = task.Description
			created.Input = task.Input
			created.InputTemplate = task.InputTemplate
			created.Notification = task.Notification
			created.TimeoutSecs = task.TimeoutSecs
			created.Memory = task.Memory
			created.ResourceLimits = task.ResourceLimits
			task = created
		}
		if err := rt.bgStorage.Create(task); err != nil {
			return nil, ipc.InvalidParams("%v", err)
		}
		return task, nil
	})
	s.Handle("task.get", func(_ context.Context, params json.RawMessage) (any, error) {
		var p idParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		task, err := rt.bgStorage.Get(p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ipc.NotFound("task %s not found", p.ID)
		}
		return task, err
	})
	s.Handle("task.delete", func(_ context.Context, params json.RawMessage) (any, error) {
		var p idParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		existed, err := rt.bgStorage.Delete(p.ID)
		if err != nil {
			return nil, err
		}
		if !existed {
			return nil, ipc.NotFound("task %s not found", p.ID)
		}
		return map[string]bool{"deleted": true}, nil
	})
	s.Handle("task.events", func(_ context.Context, params json.RawMessage) (any, error) {
		var p idParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		return rt.bgStorage.ListEvents(p.ID)
	})
	s.Handle("task.cancel", func(_ context.Context, params json.RawMessage) (any, error) {
		var p idParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		return map[string]bool{"cancelled": rt.bgRunner.Cancel(p.ID)}, nil
	})
	s.Handle("task.message", func(_ context.Context, params json.RawMessage) (any, error) {
		var p struct {
			ID      string `json:"id"`
			Content string `json:"content"`
			Steer   bool   `json:"steer,omitempty"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		if p.Steer {
			if err := rt.bgRunner.Steer(p.ID, p.Content, "cli"); err != nil {
				return nil, err
			}
			return map[string]bool{"steered": true}, nil
		}
		msg := models.NewTaskMessage(p.ID, models.SourceUser, p.Content)
		if err := rt.bgStorage.PushMessage(msg); err != nil {
			return nil, err
		}
		return msg, nil
	})

	// Secrets. Values never travel back over list.
	s.Handle("secret.set", func(_ context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Key         string `json:"key"`
			Value       string `json:"value"`
			Description string `json:"description,omitempty"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		return nil, rt.secrets.Set(p.Key, p.Value, p.Description)
	})
	s.Handle("secret.get", func(_ context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		secret, err := rt.secrets.Get(p.Key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ipc.NotFound("secret %s not found", p.Key)
		}
		return secret, err
	})
	s.Handle("secret.list", func(context.Context, json.RawMessage) (any, error) {
		return rt.secrets.List()
	})
	s.Handle("secret.delete", func(_ context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.InvalidParams("invalid params: %v", err)
		}
		existed, err := rt.secrets.Delete(p.Key)
		if err != nil {
			return nil, err
		}
		if !existed {
			return nil, ipc.NotFound("secret %s not found", p.Key)
		}
		return map[string]bool{"deleted": true}, nil
	})
}
