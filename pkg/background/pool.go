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

package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/observability"
)

// workerStopTimeout is how long Stop waits for each worker before
// abandoning it.
const workerStopTimeout = 10 * time.Second

// TaskExecutor runs one background-agent firing. Ok(true) means the
// agent succeeded; Ok(false) a clean failure; error an execution fault.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.BackgroundAgent) (bool, error)
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	// WorkerCount is the number of worker goroutines.
	WorkerCount int
	// MaxConcurrent bounds simultaneously executing firings; it may be
	// lower than WorkerCount.
	MaxConcurrent int
}

// DefaultPoolConfig returns the standard pool sizing.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{WorkerCount: 4, MaxConcurrent: 4}
}

// WorkerPool drains the firing queue with N workers. Each worker pops a
// firing, acquires a permit, marks the agent Running, executes and
// records the result.
type WorkerPool struct {
	queue    *FiringQueue
	storage  *Storage
	executor TaskExecutor
	config   PoolConfig
	permits  *semaphore.Weighted

	// Metrics, when set, counts firings.
	Metrics *observability.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool wires a pool.
func NewWorkerPool(queue *FiringQueue, st *Storage, executor TaskExecutor, config PoolConfig) *WorkerPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultPoolConfig().WorkerCount
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = config.WorkerCount
	}
	return &WorkerPool{
		queue:    queue,
		storage:  st,
		executor: executor,
		config:   config,
		permits:  semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Start launches the workers.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	slog.Info("Starting background-agent worker pool", "workers", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.workerLoop(ctx, workerID)
		}(i)
	}
}

// Stop signals shutdown, lets each worker finish its current firing and
// abandons workers that miss the join window.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Background-agent worker pool stopped")
	case <-time.After(workerStopTimeout):
		slog.Warn("Background workers did not stop in time, abandoning",
			"timeout", workerStopTimeout)
	}
}

func (p *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	slog.Debug("Background worker started", "worker_id", workerID)
	for {
		firing, err := p.queue.Pop(ctx)
		if err != nil {
			slog.Debug("Background worker shutting down", "worker_id", workerID)
			return
		}
		if err := p.permits.Acquire(ctx, 1); err != nil {
			return
		}
		p.processFiring(ctx, workerID, firing)
		p.permits.Release(1)
	}
}

func (p *WorkerPool) processFiring(ctx context.Context, workerID int, firing *Firing) {
	taskID := firing.Task.ID
	waitTime := time.Since(firing.SubmittedAt)

	task, err := p.storage.MarkRunning(taskID)
	if err != nil {
		slog.Error("Failed to mark agent running", "task_id", taskID, "error", err)
		return
	}
	if p.Metrics != nil {
		p.Metrics.AgentFirings.Add(ctx, 1)
	}

	execCtx := ctx
	if task.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutSecs)*time.Second)
		defer cancel()
	}

	success, err := p.executor.Execute(execCtx, &task)
	if err != nil {
		slog.Error("Background task failed", "worker_id", workerID,
			"task_id", taskID, "wait_ms", waitTime.Milliseconds(), "error", err)
		success = false
	} else if success {
		slog.Info("Background task completed", "worker_id", workerID,
			"task_id", taskID, "wait_ms", waitTime.Milliseconds())
	} else {
		slog.Warn("Background task completed with failure", "worker_id", workerID,
			"task_id", taskID)
	}

	if _, err := p.storage.MarkFinished(taskID, success); err != nil {
		slog.Error("Failed to record task result", "task_id", taskID, "error", err)
	}
}
