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

// Package stats implements spec.md §4.5: the four statistic families a
// supervisor maintains as plain run metadata. None of it affects
// exploration correctness; it exists to answer "how is this run doing"
// while it is in flight or after it ends.
package stats

import (
	"math/big"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
)

// Occupation tracks the fraction of wall-clock time one entity (a
// worker, or the supervisor itself) spent marked busy versus idle. It
// implements worker.Occupation without importing the worker package, the
// same way the teacher's rcrowley metrics wrappers stay ignorant of
// their callers.
type Occupation struct {
	mu    sync.Mutex
	log   zerolog.Logger
	busy  metrics.Timer
	idle  metrics.Timer
	last  time.Time
	isBusy bool
}

// NewOccupation creates a tracker that starts out idle.
func NewOccupation(log zerolog.Logger, name string) *Occupation {
	return &Occupation{
		log:  log.With().Str("entity", name).Logger(),
		busy: metrics.NewTimer(),
		idle: metrics.NewTimer(),
		last: time.Now(),
	}
}

// MarkBusy records the time since the last transition as idle, then
// starts timing a busy period.
func (o *Occupation) MarkBusy() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isBusy {
		return
	}
	o.idle.UpdateSince(o.last)
	o.last = time.Now()
	o.isBusy = true
}

// MarkIdle records the time since the last transition as busy, then
// starts timing an idle period.
func (o *Occupation) MarkIdle() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.isBusy {
		return
	}
	o.busy.UpdateSince(o.last)
	o.last = time.Now()
	o.isBusy = false
}

// Fraction returns the share of tracked wall-clock time spent busy, in
// [0, 1]. It is zero until at least one full busy/idle transition has
// been recorded.
func (o *Occupation) Fraction() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	busy := float64(o.busy.Sum())
	idle := float64(o.idle.Sum())
	if busy+idle == 0 {
		return 0
	}
	return busy / (busy + idle)
}

// BusySeconds returns the total time spent busy so far as an exact
// rational number of seconds, including whatever fraction of the
// current busy period has elapsed if a busy period is in progress. It
// is the source of truth behind a checkpoint file's cpu_time_rational
// field: a float would silently round, and this value is meant to
// accumulate losslessly across many checkpoint writes over a long run.
func (o *Occupation) BusySeconds() *big.Rat {
	o.mu.Lock()
	defer o.mu.Unlock()
	nanos := o.busy.Sum()
	if o.isBusy {
		nanos += time.Since(o.last).Nanoseconds()
	}
	return big.NewRat(nanos, int64(time.Second))
}

// Log writes the current busy/idle totals at info level.
func (o *Occupation) Log() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log.Info().
		Str("busy_total", time.Duration(o.busy.Sum()).String()).
		Str("idle_total", time.Duration(o.idle.Sum()).String()).
		Msg("occupation")
}
