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

package supervisor

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/optakt/voyager/message"
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/stats"
	"github.com/optakt/voyager/tree"
	"github.com/optakt/voyager/worker"
	"github.com/optakt/voyager/workload"
)

// Controller is the transport boundary of spec.md §6.3: every way the
// scheduling logic in this package reaches a worker goes through it.
// How a message actually gets to a worker process, thread, or goroutine
// is an external collaborator's concern; the supervisor only ever calls
// these methods. inProcessController, used unless an Option overrides it,
// spawns worker.Engine goroutines directly and pushes onto their
// RequestQueues; a distributed deployment would supply its own
// Controller backed by whatever transport it uses instead.
type Controller[R any] interface {
	// SpawnWorker starts a new worker identified by id and reports every
	// message it produces through report, until the worker quits.
	SpawnWorker(id int, report func(message.ToSupervisor[R]))
	// SendWorkloadToWorker delivers w to the worker identified by id.
	SendWorkloadToWorker(id int, w workload.Workload)
	// BroadcastProgressUpdateToWorkers asks every worker in ids to report
	// its progress.
	BroadcastProgressUpdateToWorkers(ids []int)
	// BroadcastWorkloadStealToWorkers asks every worker in ids to give up
	// part of its remaining work.
	BroadcastWorkloadStealToWorkers(ids []int)
	// QuitWorker asks the worker identified by id to stop.
	QuitWorker(id int)
}

// inProcessController is the default Controller: every worker is a
// goroutine running a worker.Engine in the same process as the
// supervisor, and messages move over Go channels and the engine's own
// RequestQueue.
type inProcessController[R any] struct {
	root  tree.Tree
	mode  mode.Mode[R]
	log   zerolog.Logger
	stats *stats.Collector

	mu      sync.Mutex
	engines map[int]*worker.Engine[R]
}

// newInProcessController builds the default Controller used when no
// Option supplies one.
func newInProcessController[R any](root tree.Tree, m mode.Mode[R], log zerolog.Logger, s *stats.Collector) *inProcessController[R] {
	return &inProcessController[R]{
		root:    root,
		mode:    m,
		log:     log,
		stats:   s,
		engines: make(map[int]*worker.Engine[R]),
	}
}

func (c *inProcessController[R]) SpawnWorker(id int, report func(message.ToSupervisor[R])) {
	outbox := make(chan message.ToSupervisor[R], 32)
	opts := []worker.Option[R]{worker.WithLogger[R](c.log)}
	if c.stats != nil {
		opts = append(opts, worker.WithOccupation[R](c.stats.WorkerOccupation(id)))
	}
	eng := worker.New(id, c.root, c.mode, outbox, opts...)

	c.mu.Lock()
	c.engines[id] = eng
	c.mu.Unlock()

	go func() {
		eng.Run()
		close(outbox)
	}()
	go func() {
		for msg := range outbox {
			report(msg)
		}
	}()
}

func (c *inProcessController[R]) engine(id int) *worker.Engine[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[id]
}

func (c *inProcessController[R]) SendWorkloadToWorker(id int, w workload.Workload) {
	if eng := c.engine(id); eng != nil {
		eng.Requests().Push(message.StartWorkload(w))
	}
}

// BroadcastProgressUpdateToWorkers and BroadcastWorkloadStealToWorkers
// fan their pushes out across an errgroup rather than a plain loop: each
// worker's RequestQueue has its own lock, so pushing to N workers has
// nothing to serialize on.
func (c *inProcessController[R]) BroadcastProgressUpdateToWorkers(ids []int) {
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if eng := c.engine(id); eng != nil {
				eng.Requests().Push(message.RequestProgressUpdate())
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *inProcessController[R]) BroadcastWorkloadStealToWorkers(ids []int) {
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if eng := c.engine(id); eng != nil {
				eng.Requests().Push(message.RequestWorkloadSteal())
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *inProcessController[R]) QuitWorker(id int) {
	if eng := c.engine(id); eng != nil {
		eng.Requests().Push(message.QuitWorker())
	}
}
