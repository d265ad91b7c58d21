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

package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/voyager/checkpoint"
	"github.com/optakt/voyager/message"
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/path"
	"github.com/optakt/voyager/supervisor"
	"github.com/optakt/voyager/workload"
)

func unexploredDelta(result int) mode.Progress[int] {
	return mode.Progress[int]{Checkpoint: checkpoint.NewUnexplored(), Result: result}
}

// TestSupervisorFoundModeStopsAsSoonAsThePredicateIsSatisfied covers the
// early-termination half of termination detection: a mode whose Satisfied
// predicate is met must end the run immediately, without waiting for the
// tree to be exhausted.
func TestSupervisorFoundModeStopsAsSoonAsThePredicateIsSatisfied(t *testing.T) {
	fc := newFakeController()
	m := mode.FoundUsingPull(
		func() int { return 0 },
		func(a, b int) int { return a + b },
		func(r int) bool { return r >= 3 },
	)

	s := supervisor.New[int](countTree(20), m, supervisor.WithController[int](fc))
	id := s.AddWorker()

	runDone := make(chan supervisor.Outcome[int], 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { runDone <- s.Run(ctx) }()

	fc.report(id, message.NewProgressUpdateMessage(unexploredDelta(3), workload.New(nil, checkpoint.NewUnexplored())))
	fc.report(id, message.NewWorkerQuitMessage[int]())

	out := <-runDone
	require.Equal(t, supervisor.Completed, out.Reason)
	assert.Equal(t, 3, out.Result)
	assert.Zero(t, out.RemainingWorkers)
}

// TestSupervisorPrefersShallowerWorkloadWhenPickingAStealVictim covers the
// depth-based steal-victim selection: among several busy, eligible
// workers, the one whose current workload is shallowest must be asked
// first, even when a deeper worker has a lower id.
func TestSupervisorPrefersShallowerWorkloadWhenPickingAStealVictim(t *testing.T) {
	fc := newFakeController()
	s := supervisor.New[int](countTree(20), sumMode(), supervisor.WithController[int](fc))

	id0 := s.AddWorker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan supervisor.Outcome[int], 1)
	go func() { runDone <- s.Run(ctx) }()

	deep := path.Path{path.ChoiceStep(path.Left), path.ChoiceStep(path.Left), path.ChoiceStep(path.Left)}
	shallow := path.Path{path.ChoiceStep(path.Left)}
	remaining := workload.New(deep, checkpoint.NewUnexplored())
	stolen := workload.New(shallow, checkpoint.NewUnexplored())

	// id0 gives part of its work away to itself, landing it at depth 3
	// with a second, shallower (depth 1) workload sitting available.
	fc.report(id0, message.NewStolenWorkloadMessage(unexploredDelta(0), remaining, stolen))
	time.Sleep(20 * time.Millisecond)

	id1 := s.AddWorker()

	batches := fc.stealBatchesSnapshot()
	require.NotEmpty(t, batches)
	last := batches[len(batches)-1]
	require.Len(t, last, 1)
	assert.Equal(t, id1, last[0], "the worker at depth 1 must be preferred over the one at depth 3, regardless of id order")

	s.AbortRun("test finished")
	<-runDone
}

// TestSupervisorBatchesStealRequestsAccordingToNeededSteals covers the
// needed_steals formula of spec.md §4.4: a single reconcile pass must ask
// every eligible victim it needs at once, not one victim per call, and
// the batch it picks still respects depth ordering.
func TestSupervisorBatchesStealRequestsAccordingToNeededSteals(t *testing.T) {
	fc := newFakeController()
	s := supervisor.New[int](countTree(20), sumMode(), supervisor.WithController[int](fc))

	id0 := s.AddWorker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan supervisor.Outcome[int], 1)
	go func() { runDone <- s.Run(ctx) }()

	id1 := s.AddWorker()
	id2 := s.AddWorker()

	deep := path.Path{path.ChoiceStep(path.Left), path.ChoiceStep(path.Left), path.ChoiceStep(path.Left)}
	shallow := path.Path{path.ChoiceStep(path.Left)}
	remaining := workload.New(deep, checkpoint.NewUnexplored())
	stolen := workload.New(shallow, checkpoint.NewUnexplored())

	// id0 gives part of its work away. With id1 and id2 both still
	// waiting and only one workload freed up, one of them (id1) gets it
	// and stays busy, leaving id2 waiting and both id0 and id1 eligible
	// steal victims at once.
	fc.report(id0, message.NewStolenWorkloadMessage(unexploredDelta(0), remaining, stolen))
	time.Sleep(20 * time.Millisecond)

	batches := fc.stealBatchesSnapshot()
	require.NotEmpty(t, batches)
	last := batches[len(batches)-1]
	require.Len(t, last, 2, "buffer size 1 plus one still-waiting worker needs two more workloads in flight at once")
	assert.Equal(t, []int{id1, id0}, last, "depth order must hold within a batch too")

	s.AbortRun("test finished")
	<-runDone
	_ = id2
}

// TestSupervisorFailsWithOutOfSourcesWhenNoVictimCanCoverAWaitingWorker
// covers the OutOfSourcesForNewWorkloads inconsistency of spec.md §7: a
// worker sits waiting, nothing is available, and the only other
// registered worker has already quit, so the stealing policy can never
// satisfy the buffer and the run must fail instead of hanging.
func TestSupervisorFailsWithOutOfSourcesWhenNoVictimCanCoverAWaitingWorker(t *testing.T) {
	fc := newFakeController()
	s := supervisor.New[int](countTree(20), sumMode(), supervisor.WithController[int](fc))

	id0 := s.AddWorker()
	id1 := s.AddWorker()

	runDone := make(chan supervisor.Outcome[int], 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { runDone <- s.Run(ctx) }()

	// id0 is busy; marking it for removal now defers the removal until it
	// next goes idle.
	s.RemoveWorker(id0)
	// id0 finishes without anything left to steal: it goes idle, and
	// because a removal was pending it quits instead of joining the
	// waiting queue, leaving id1 waiting with no possible source of work.
	fc.report(id0, message.NewFinishedMessage(unexploredDelta(0)))

	fc.report(id0, message.NewWorkerQuitMessage[int]())
	fc.report(id1, message.NewWorkerQuitMessage[int]())

	out := <-runDone
	require.Equal(t, supervisor.Failed, out.Reason)
	assert.Contains(t, out.AbortReason, "out of sources")
}

// TestSupervisorPerformGlobalProgressUpdateWaitsOnlyForTheFrozenActiveSet
// covers the global progress update protocol of spec.md §4.4: the round
// must complete exactly once every worker active when it started has
// replied, and a worker that was already waiting (not active) when the
// round began must not hold it up.
func TestSupervisorPerformGlobalProgressUpdateWaitsOnlyForTheFrozenActiveSet(t *testing.T) {
	fc := newFakeController()
	s := supervisor.New[int](countTree(20), sumMode(), supervisor.WithController[int](fc))

	id0 := s.AddWorker()
	s.AddWorker() // available is empty, so this second worker sits waiting.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan supervisor.Outcome[int], 1)
	go func() { runDone <- s.Run(ctx) }()

	done := make(chan mode.Progress[int], 1)
	s.PerformGlobalProgressUpdate(func(p mode.Progress[int]) { done <- p })

	select {
	case <-done:
		t.Fatal("round must not complete before the only active worker (id0) replies; the other worker is waiting, not active")
	case <-time.After(20 * time.Millisecond):
	}

	fc.report(id0, message.NewProgressUpdateMessage(unexploredDelta(5), workload.New(nil, checkpoint.NewUnexplored())))

	select {
	case p := <-done:
		assert.Equal(t, 5, p.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("round never completed after the only active worker replied")
	}

	s.AbortRun("test finished")
	<-runDone
}

// TestSupervisorPerformGlobalProgressUpdateCompletesImmediatelyWithNoActiveWorkers
// covers the other half of the same protocol: with nothing active to
// wait on, the round must fire its completion callback right away.
func TestSupervisorPerformGlobalProgressUpdateCompletesImmediatelyWithNoActiveWorkers(t *testing.T) {
	fc := newFakeController()
	s := supervisor.New[int](countTree(20), sumMode(), supervisor.WithController[int](fc))

	done := make(chan mode.Progress[int], 1)
	s.PerformGlobalProgressUpdate(func(p mode.Progress[int]) { done <- p })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a round with no active workers must complete synchronously")
	}
}
