// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package worker

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/optakt/voyager/message"
)

// RequestQueue is the concurrency-safe FIFO a supervisor pushes
// FromSupervisor requests onto, and a worker drains whenever its tree
// hits a ProcessPendingRequests yield point (spec.md §4.1). It adds a
// condition variable around the teacher's mutex-guarded deque so a
// worker with nothing left to do can block until the next request
// arrives, rather than busy-polling.
type RequestQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	dq   *deque.Deque
}

// NewRequestQueue returns an empty RequestQueue.
func NewRequestQueue() *RequestQueue {
	q := &RequestQueue{dq: deque.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends req to the back of the queue and wakes any goroutine
// blocked in PopFrontBlocking.
func (q *RequestQueue) Push(req message.FromSupervisor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dq.PushBack(req)
	q.cond.Signal()
}

// PopFront removes and returns the request at the front of the queue, if
// any.
func (q *RequestQueue) PopFront() (message.FromSupervisor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dq.Len() == 0 {
		return message.FromSupervisor{}, false
	}
	return q.dq.PopFront().(message.FromSupervisor), true
}

// PopFrontBlocking removes and returns the request at the front of the
// queue, blocking until one is available.
func (q *RequestQueue) PopFrontBlocking() message.FromSupervisor {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.dq.Len() == 0 {
		q.cond.Wait()
	}
	return q.dq.PopFront().(message.FromSupervisor)
}

// Len returns the number of requests currently queued.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dq.Len()
}
