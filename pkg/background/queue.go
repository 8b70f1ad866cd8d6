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
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/restflow-ai/restflow/pkg/models"
)

// Firing is one queued agent-task submission. submitted_at feeds the
// queue-wait metric.
type Firing struct {
	Task        models.BackgroundAgent
	Priority    models.TaskPriority
	SubmittedAt time.Time

	seq int // FIFO tiebreak within a priority
}

// firingHeap orders by priority (High first) then submission order.
type firingHeap []*Firing

func (h firingHeap) Len() int { return len(h) }
func (h firingHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h firingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *firingHeap) Push(x any)   { *h = append(*h, x.(*Firing)) }
func (h *firingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// FiringQueue is the in-memory priority queue of due agent firings.
type FiringQueue struct {
	mu      sync.Mutex
	heap    firingHeap
	nextSeq int
	queued  map[string]bool // task ids currently queued
	signal  chan struct{}
}

// NewFiringQueue creates an empty queue.
func NewFiringQueue() *FiringQueue {
	return &FiringQueue{
		queued: make(map[string]bool),
		signal: make(chan struct{}, 1),
	}
}

// Submit enqueues a firing unless the task is already queued.
// Returns whether it was accepted.
func (q *FiringQueue) Submit(task models.BackgroundAgent, priority models.TaskPriority) bool {
	q.mu.Lock()
	if q.queued[task.ID] {
		q.mu.Unlock()
		return false
	}
	q.queued[task.ID] = true
	heap.Push(&q.heap, &Firing{
		Task:        task,
		Priority:    priority,
		SubmittedAt: time.Now(),
		seq:         q.nextSeq,
	})
	q.nextSeq++
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until a firing is available or ctx is done.
func (q *FiringQueue) Pop(ctx context.Context) (*Firing, error) {
	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			firing := heap.Pop(&q.heap).(*Firing)
			delete(q.queued, firing.Task.ID)
			q.mu.Unlock()
			return firing, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued firings.
func (q *FiringQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
