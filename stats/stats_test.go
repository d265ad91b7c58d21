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

package stats_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/voyager/stats"
)

func TestOccupationFractionReflectsBusyShare(t *testing.T) {
	occ := stats.NewOccupation(zerolog.Nop(), "test")

	occ.MarkBusy()
	time.Sleep(10 * time.Millisecond)
	occ.MarkIdle()
	time.Sleep(10 * time.Millisecond)
	occ.MarkBusy()

	fraction := occ.Fraction()
	assert.Greater(t, fraction, 0.0)
	assert.Less(t, fraction, 1.0)
}

func TestOccupationIgnoresRedundantTransitions(t *testing.T) {
	occ := stats.NewOccupation(zerolog.Nop(), "test")
	occ.MarkBusy()
	occ.MarkBusy() // redundant: must not reset the busy-period start
	time.Sleep(5 * time.Millisecond)
	occ.MarkIdle()

	// The first MarkBusy also records the (tiny) idle time since
	// NewOccupation, so the fraction is just under 1.
	assert.InDelta(t, 1.0, occ.Fraction(), 0.01)
}

func TestCollectorWorkerCounts(t *testing.T) {
	c := stats.NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetWorkerCounts(4, 1, 2)
	snap := c.Snapshot()
	assert.Equal(t, 4, snap.WorkerCount)
	assert.Equal(t, 1, snap.WaitingCount)
	assert.Equal(t, 2, snap.AvailableCount)
}

func TestCollectorStealCompletionHistogram(t *testing.T) {
	c := stats.NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordWorkloadSteal(10 * time.Millisecond)
	c.RecordWorkloadSteal(20 * time.Millisecond)
	c.RecordWorkloadSteal(30 * time.Millisecond)

	snap := c.Snapshot()
	assert.EqualValues(t, 3, snap.StealCompletionCount)
	assert.Equal(t, 10*time.Millisecond, snap.StealCompletionMin)
	assert.Equal(t, 30*time.Millisecond, snap.StealCompletionMax)
	assert.Equal(t, 20*time.Millisecond, snap.StealCompletionMean)
}

func TestCollectorWorkerWaitInterpolation(t *testing.T) {
	c := stats.NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordWorkerWait(1, 0)
	time.Sleep(20 * time.Millisecond)
	c.RecordWorkerWait(1, 100*time.Millisecond)

	mid, ok := c.WorkerWaitAt(1, time.Now())
	require.True(t, ok)
	assert.InDelta(t, 100*time.Millisecond, mid, float64(100*time.Millisecond))

	_, ok = c.WorkerWaitAt(2, time.Now())
	assert.False(t, ok, "a worker with no samples has nothing to interpolate")
}

func TestCollectorPerWorkerOccupationIsIndependent(t *testing.T) {
	c := stats.NewCollector(zerolog.Nop())
	defer c.Close()

	a := c.WorkerOccupation(1)
	b := c.WorkerOccupation(2)
	a.MarkBusy()
	time.Sleep(5 * time.Millisecond)
	a.MarkIdle()

	snap := c.Snapshot()
	assert.InDelta(t, 1.0, snap.WorkerOccupation[1], 0.01)
	assert.Equal(t, 0.0, snap.WorkerOccupation[2])
	_ = b
}
