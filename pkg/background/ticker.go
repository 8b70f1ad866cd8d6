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
	"time"

	"github.com/restflow-ai/restflow/pkg/models"
)

// tickInterval is the due-time resolution.
const tickInterval = time.Second

// Ticker feeds due agents from storage into the firing queue. Due-time
// resolution is deliberately external to the worker pool.
type Ticker struct {
	storage *Storage
	queue   *FiringQueue
}

// NewTicker wires a ticker.
func NewTicker(st *Storage, queue *FiringQueue) *Ticker {
	return &Ticker{storage: st, queue: queue}
}

// Run loops until ctx is done, enqueueing runnable agents once per tick.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	due, err := t.storage.ListRunnable(time.Now().UnixMilli())
	if err != nil {
		slog.Error("Failed to list runnable agents", "error", err)
		return
	}
	for _, task := range due {
		if t.queue.Submit(task, models.PriorityNormal) {
			slog.Debug("Enqueued background agent", "task_id", task.ID, "name", task.Name)
		}
	}
}
