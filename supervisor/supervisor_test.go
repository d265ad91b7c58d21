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

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/voyager/checkpoint"
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/stats"
	"github.com/optakt/voyager/supervisor"
	"github.com/optakt/voyager/tree"
)

// countTree builds a complete binary tree of the given depth whose every
// leaf holds 1, with a yield point inside every branch so workers have
// somewhere to cooperate with the supervisor.
func countTree(depth int) tree.Tree {
	if depth == 0 {
		return tree.Return(1)
	}
	return tree.Choice(
		func() tree.Tree { return tree.Yield(func() tree.Tree { return countTree(depth - 1) }) },
		func() tree.Tree { return tree.Yield(func() tree.Tree { return countTree(depth - 1) }) },
	)
}

func sumMode() mode.Mode[int] {
	return mode.All(func() int { return 0 }, func(a, b int) int { return a + b })
}

func runWithTimeout(t *testing.T, s *supervisor.Supervisor[int], d time.Duration) supervisor.Outcome[int] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Run(ctx)
}

func TestSupervisorSingleWorkerCompletesWholeTree(t *testing.T) {
	s := supervisor.New(countTree(6), sumMode())
	s.AddWorker()

	out := runWithTimeout(t, s, 2*time.Second)
	require.Equal(t, supervisor.Completed, out.Reason)
	assert.Equal(t, 64, out.Result)
	assert.Zero(t, out.RemainingWorkers)
	assert.Equal(t, 1, out.Statistics.WorkersAdded)
}

func TestSupervisorMultipleWorkersShareOneTreeAndStillSumCorrectly(t *testing.T) {
	s := supervisor.New(countTree(8), sumMode())
	for i := 0; i < 4; i++ {
		s.AddWorker()
	}

	out := runWithTimeout(t, s, 5*time.Second)
	require.Equal(t, supervisor.Completed, out.Reason)
	assert.Equal(t, 256, out.Result)
	assert.Equal(t, 4, out.Statistics.WorkersAdded)
	assert.Positive(t, out.Statistics.StealsAttempted, "a 4-way pool exploring one workload should have to steal at least once")
}

func TestSupervisorAddWorkerLaterStillContributes(t *testing.T) {
	s := supervisor.New(countTree(10), sumMode())
	s.AddWorker()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.AddWorker()
	}()

	out := runWithTimeout(t, s, 5*time.Second)
	require.Equal(t, supervisor.Completed, out.Reason)
	assert.Equal(t, 1024, out.Result)
	assert.Equal(t, 2, out.Statistics.WorkersAdded)
}

func TestSupervisorAbortRunEndsEarly(t *testing.T) {
	s := supervisor.New(countTree(20), sumMode())
	s.AddWorker()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.AbortRun("stopping for a test")
	}()

	out := runWithTimeout(t, s, 2*time.Second)
	require.Equal(t, supervisor.Aborted, out.Reason)
	assert.Equal(t, "stopping for a test", out.AbortReason)
	assert.Zero(t, out.RemainingWorkers)
}

func TestSupervisorContextCancellationAborts(t *testing.T) {
	s := supervisor.New(countTree(20), sumMode())
	s.AddWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := s.Run(ctx)
	require.Equal(t, supervisor.Aborted, out.Reason)
	assert.Equal(t, "context canceled", out.AbortReason)
}

func TestSupervisorRemoveWorkerIfPresent(t *testing.T) {
	s := supervisor.New(countTree(4), sumMode())
	id := s.AddWorker()

	found := s.RemoveWorkerIfPresent(id)
	assert.True(t, found)

	found = s.RemoveWorkerIfPresent(999)
	assert.False(t, found)

	// The only worker was handed the whole tree when it was added, so its
	// removal waits until it goes idle; after that no worker is left to
	// finish the run. The removal itself must not hang or panic; aborting
	// lets the test observe a clean outcome.
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.AbortRun("no workers left")
	}()
	out := runWithTimeout(t, s, time.Second)
	require.Equal(t, supervisor.Aborted, out.Reason)
}

func TestSupervisorTryGetWaitingWorker(t *testing.T) {
	s := supervisor.New(countTree(4), sumMode())
	_, ok := s.TryGetWaitingWorker()
	assert.False(t, ok, "no worker has been added yet")

	// The first worker consumes the only available workload the moment it
	// is added, so it is immediately busy, not waiting.
	s.AddWorker()
	_, ok = s.TryGetWaitingWorker()
	assert.False(t, ok, "the only worker already claimed the whole tree")

	// With nothing left to hand out, a second worker has to sit in the
	// waiting queue until the first one gives some of its work away.
	id2 := s.AddWorker()
	waiting, ok := s.TryGetWaitingWorker()
	require.True(t, ok)
	assert.Equal(t, id2, waiting)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := s.Run(ctx)
	require.Equal(t, supervisor.Completed, out.Reason)
	assert.Equal(t, 16, out.Result)
}

func TestSupervisorResumesFromInitialProgress(t *testing.T) {
	tr := countTree(4)
	m := sumMode()

	// Explore the left half only, and fake up the progress a checkpoint
	// file would have held for that partial run.
	half := checkpoint.NewChoicePoint(checkpoint.NewExplored(), checkpoint.NewUnexplored())
	seed := mode.Progress[int]{Checkpoint: half, Result: 8}

	s := supervisor.New(tr, m, supervisor.WithInitialProgress(seed))
	s.AddWorker()

	out := runWithTimeout(t, s, 2*time.Second)
	require.Equal(t, supervisor.Completed, out.Reason)
	assert.Equal(t, 16, out.Result, "resumed result must include both the seeded half and the freshly explored half")
}

func TestSupervisorCollectsStats(t *testing.T) {
	collector := stats.NewCollector(zerolog.Nop())
	defer collector.Close()

	s := supervisor.New(countTree(8), sumMode(), supervisor.WithStats[int](collector))
	for i := 0; i < 3; i++ {
		s.AddWorker()
	}

	out := runWithTimeout(t, s, 5*time.Second)
	require.Equal(t, supervisor.Completed, out.Reason)
	assert.Equal(t, 256, out.Result)

	snap := collector.Snapshot()
	assert.Positive(t, snap.StealCompletionCount, "a 3-way pool should have completed at least one steal")
	assert.NotEmpty(t, snap.WorkerOccupation)
}
