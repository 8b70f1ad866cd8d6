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

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/observability"
)

// DefaultWorkerCount is the size of the shared workflow worker pool.
const DefaultWorkerCount = 4

// WorkerPool drains the scheduler with a fixed set of workers. One pool
// serves all workflows.
type WorkerPool struct {
	executor    *Executor
	workerCount int
	stallEvery  time.Duration

	// Metrics, when set, receives task outcome counts.
	Metrics *observability.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool over the executor's scheduler.
func NewWorkerPool(executor *Executor, workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	return &WorkerPool{
		executor:    executor,
		workerCount: workerCount,
		stallEvery:  time.Minute,
	}
}

// Start launches the workers and the stall-recovery ticker.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	slog.Info("Starting workflow worker pool", "workers", p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.workerLoop(ctx, workerID)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.stallEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := p.executor.Scheduler().RecoverStalledTasks(); err != nil {
					slog.Error("Stall recovery failed", "error", err)
				} else if n > 0 {
					slog.Info("Recovered stalled tasks", "count", n)
					if p.Metrics != nil {
						p.Metrics.TasksRecovered.Add(ctx, int64(n))
					}
				}
			}
		}
	}()
}

// Stop cancels the workers and waits for them to finish their current
// task.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	slog.Debug("Workflow worker started", "worker_id", workerID)
	for {
		task, err := p.executor.Scheduler().PopTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Debug("Workflow worker shutting down", "worker_id", workerID)
				return
			}
			slog.Error("Failed to pop task", "worker_id", workerID, "error", err)
			continue
		}
		p.runTask(ctx, workerID, task)
	}
}

// runTask dispatches one claimed task and finishes it. Panics inside a
// node executor are mapped to task failure at this boundary.
func (p *WorkerPool) runTask(ctx context.Context, workerID int, task *models.WorkflowTask) {
	scheduler := p.executor.Scheduler()
	ec := NewExecutionContext(task.Context, p.executor.resolver)

	output, err := func() (out json.RawMessage, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("node executor panicked: %v", r)
			}
		}()
		return p.executor.runner.Run(ctx, task, ec)
	}()

	if err != nil {
		slog.Warn("Task failed", "worker_id", workerID, "task_id", task.ID,
			"node_id", task.Node.ID, "error", err)
		if ferr := scheduler.FailTask(task.ID, err.Error()); ferr != nil {
			slog.Error("Failed to record task failure", "task_id", task.ID, "error", ferr)
		}
		p.executor.recordTaskResult(task.ExecutionID, true)
		if p.Metrics != nil {
			p.Metrics.TasksFailed.Add(ctx, 1)
		}
		return
	}

	if cerr := scheduler.CompleteTask(task.ID, output); cerr != nil {
		slog.Error("Failed to record task completion", "task_id", task.ID, "error", cerr)
		return
	}
	p.executor.recordTaskResult(task.ExecutionID, false)
	if p.Metrics != nil {
		p.Metrics.TasksCompleted.Add(ctx, 1)
	}
	if qerr := scheduler.QueueDownstreamTasks(task, output); qerr != nil {
		slog.Error("Failed to queue downstream tasks", "task_id", task.ID, "error", qerr)
	}
	slog.Debug("Task completed", "worker_id", workerID, "task_id", task.ID, "node_id", task.Node.ID)
}
