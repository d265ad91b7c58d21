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

// Package supervisor implements the scheduler of spec.md §4.4 (Component
// G): it hands workloads out to a pool of workers, keeps the invariant
// that waiting workers and available workloads are never both non-empty,
// asks busy workers to give up a slice of their work when the supply
// runs dry, folds every worker's progress into one running total, and
// detects when a run has completed, been aborted, or failed.
package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/optakt/voyager/message"
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/stats"
	"github.com/optakt/voyager/tree"
	"github.com/optakt/voyager/workload"
)

type workerHandle[R any] struct {
	quitSent  bool
	idleSince time.Time
	workload  workload.Workload
}

type workerEvent[R any] struct {
	workerID int
	msg      message.ToSupervisor[R]
}

// progressRound tracks one in-flight "global progress update" round
// (spec.md §4.4): the set of workers that were active when it started,
// and the callback to fire once every one of them has responded.
type progressRound[R any] struct {
	remaining  map[int]bool
	onComplete func(mode.Progress[R])
}

// Option configures a Supervisor.
type Option[R any] func(*Supervisor[R])

// WithLogger attaches a logger to the supervisor and every worker it
// starts.
func WithLogger[R any](log zerolog.Logger) Option[R] {
	return func(s *Supervisor[R]) {
		s.log = log
	}
}

// WithWorkloadBufferSize sets how many available workloads the
// supervisor tries to keep on hand before it stops asking busy workers
// to steal (spec.md §4.4, "workload_buffer_size"). The default is 1: only
// steal once the supply is completely dry.
func WithWorkloadBufferSize[R any](n int) Option[R] {
	return func(s *Supervisor[R]) {
		s.workloadBufferSize = n
	}
}

// WithStats attaches a stats.Collector, wiring spec.md §4.5's statistic
// families (worker/waiting/available counts, workload-request rate,
// steal-time EWMA and histogram, per-worker wait interpolation and
// occupation) to this run. Without one, the supervisor still works; it
// just reports nothing.
func WithStats[R any](c *stats.Collector) Option[R] {
	return func(s *Supervisor[R]) {
		s.stats = c
	}
}

// WithController overrides the transport through which the supervisor
// reaches its workers (spec.md §6.3). Without one, New builds the
// default in-process Controller, which runs every worker as a goroutine
// in this process.
func WithController[R any](c Controller[R]) Option[R] {
	return func(s *Supervisor[R]) {
		s.controller = c
	}
}

// WithInitialProgress resumes a run from progress already accumulated by
// a previous one (spec.md §6.1: "on start-up, if the file exists, the
// run resumes from it"). The supervisor starts with progress's result
// already folded in, and its one available workload covering exactly
// the regions progress's checkpoint does not yet mark explored.
func WithInitialProgress[R any](progress mode.Progress[R]) Option[R] {
	return func(s *Supervisor[R]) {
		s.progress = progress
		s.available = []workload.Workload{workload.New(nil, progress.Checkpoint)}
	}
}

// Supervisor coordinates a pool of workers exploring a single tree under
// one exploration Mode, reaching them through a Controller. All of its
// public methods besides Run are safe to call from any goroutine, before
// or after Run starts; Run itself must only be called once.
type Supervisor[R any] struct {
	mu sync.Mutex

	mode mode.Mode[R]
	log  zerolog.Logger

	controller Controller[R]

	nextID  int
	workers map[int]*workerHandle[R]

	waiting           []int
	available         []workload.Workload
	outstandingSteals map[int]bool
	stealStarted      map[int]time.Time
	pendingRemoval    map[int]bool

	workloadBufferSize int
	debug              bool

	progress       mode.Progress[R]
	progressRounds []*progressRound[R]
	runStats       RunStatistics
	stats          *stats.Collector

	shuttingDown bool
	reason       Reason
	reasonMsg    string

	events  chan workerEvent[R]
	done    chan struct{}
	outcome Outcome[R]
}

// New creates a Supervisor ready to explore root under m. It starts with
// one available workload covering the whole tree; AddWorker must be
// called at least once for Run to make any progress.
func New[R any](root tree.Tree, m mode.Mode[R], opts ...Option[R]) *Supervisor[R] {
	s := &Supervisor[R]{
		mode:               m,
		log:                zerolog.Nop(),
		workers:            make(map[int]*workerHandle[R]),
		available:          []workload.Workload{workload.Whole()},
		outstandingSteals:  make(map[int]bool),
		stealStarted:       make(map[int]time.Time),
		pendingRemoval:     make(map[int]bool),
		workloadBufferSize: 1,
		progress:           mode.Empty[R](m),
		events:             make(chan workerEvent[R], 256),
		done:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.controller == nil {
		s.controller = newInProcessController[R](root, m, s.log, s.stats)
	}
	return s
}

// AddWorker starts a new worker and registers it with the supervisor,
// returning its id. It returns -1 without starting anything if the run
// is already shutting down.
func (s *Supervisor[R]) AddWorker() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown {
		return -1
	}

	id := s.nextID
	s.nextID++

	s.workers[id] = &workerHandle[R]{idleSince: time.Now()}
	s.runStats.WorkersAdded++

	s.controller.SpawnWorker(id, func(msg message.ToSupervisor[R]) {
		s.events <- workerEvent[R]{workerID: id, msg: msg}
	})

	s.waiting = append(s.waiting, id)
	s.reconcile()

	return id
}

// RemoveWorker requests that worker id be removed: immediately, if it is
// currently idle, or once it finishes its current workload otherwise.
func (s *Supervisor[R]) RemoveWorker(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeWorker(id)
}

// RemoveWorkerIfPresent is RemoveWorker, reporting whether id was a
// registered worker at all.
func (s *Supervisor[R]) RemoveWorkerIfPresent(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[id]; !ok {
		return false
	}
	s.removeWorker(id)
	return true
}

func (s *Supervisor[R]) removeWorker(id int) {
	h, ok := s.workers[id]
	if !ok {
		return
	}
	if s.isWaiting(id) {
		s.waiting = removeInt(s.waiting, id)
		if !h.quitSent {
			s.controller.QuitWorker(id)
			h.quitSent = true
		}
		return
	}
	s.pendingRemoval[id] = true
}

// SetWorkloadBufferSize changes how many available workloads the
// supervisor tries to keep on hand.
func (s *Supervisor[R]) SetWorkloadBufferSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workloadBufferSize = n
	s.reconcile()
}

// SetDebugMode toggles verbose per-event logging.
func (s *Supervisor[R]) SetDebugMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = enabled
}

// PerformGlobalProgressUpdate implements spec.md §4.4's global progress
// update protocol: the set of workers active at this exact moment is
// frozen, each one is asked to report its progress, and onComplete (if
// not nil) fires exactly once, with the aggregate progress as of the
// moment the last of that frozen set has responded — whether by
// ProgressUpdate, Finished, Failed, or removal. If no workers are
// currently active, onComplete fires immediately, before this method
// returns. onComplete may run on the goroutine that called Run, so it
// must not block or call back into the supervisor.
func (s *Supervisor[R]) PerformGlobalProgressUpdate(onComplete func(mode.Progress[R])) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waitingSet := make(map[int]bool, len(s.waiting))
	for _, id := range s.waiting {
		waitingSet[id] = true
	}

	var active []int
	for id, h := range s.workers {
		if waitingSet[id] || h.quitSent {
			continue
		}
		active = append(active, id)
	}

	if len(active) == 0 {
		if onComplete != nil {
			onComplete(s.progress)
		}
		return
	}

	round := &progressRound[R]{remaining: make(map[int]bool, len(active)), onComplete: onComplete}
	for _, id := range active {
		round.remaining[id] = true
	}
	s.progressRounds = append(s.progressRounds, round)

	s.controller.BroadcastProgressUpdateToWorkers(active)
}

// resolveProgressRound marks id as having responded in every in-flight
// global progress update round, firing and dropping any round whose last
// outstanding worker this was.
func (s *Supervisor[R]) resolveProgressRound(id int) {
	if len(s.progressRounds) == 0 {
		return
	}
	remainingRounds := s.progressRounds[:0]
	for _, round := range s.progressRounds {
		delete(round.remaining, id)
		if len(round.remaining) == 0 {
			if round.onComplete != nil {
				round.onComplete(s.progress)
			}
			continue
		}
		remainingRounds = append(remainingRounds, round)
	}
	s.progressRounds = remainingRounds
}

// Progress returns a snapshot of the aggregate progress folded in so far.
func (s *Supervisor[R]) Progress() mode.Progress[R] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// AbortRun ends the run early with the given human-readable reason; every
// worker is asked to quit, and Run returns once they all have.
func (s *Supervisor[R]) AbortRun(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginShutdown(Aborted, reason)
}

// TryGetWaitingWorker returns the id of the worker at the front of the
// waiting queue, if any, without removing it.
func (s *Supervisor[R]) TryGetWaitingWorker() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiting) == 0 {
		return 0, false
	}
	return s.waiting[0], true
}

// Run services worker events until the run completes, is aborted, or
// fails, or until ctx is canceled (which aborts the run), and returns the
// final Outcome.
func (s *Supervisor[R]) Run(ctx context.Context) Outcome[R] {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.beginShutdown(Aborted, "context canceled")
			s.mu.Unlock()
			ctx = context.Background() // context.Background().Done() is nil: this case never fires again.
		case ev := <-s.events:
			s.mu.Lock()
			if s.stats != nil {
				s.stats.SupervisorOccupation().MarkBusy()
			}
			s.handleEvent(ev)
			if s.stats != nil {
				s.stats.SupervisorOccupation().MarkIdle()
			}
			s.mu.Unlock()
		case <-s.done:
			s.mu.Lock()
			out := s.outcome
			s.mu.Unlock()
			return out
		}
	}
}

func (s *Supervisor[R]) handleEvent(ev workerEvent[R]) {
	id := ev.workerID
	log := s.log.With().Int("worker_id", id).Uint8("message_kind", uint8(ev.msg.Kind)).Logger()
	if s.debug {
		log.Debug().Msg("received worker message")
	}

	switch ev.msg.Kind {
	case message.KindProgressUpdate:
		s.runStats.ProgressUpdates++
		if h, ok := s.workers[id]; ok {
			h.workload = ev.msg.ProgressUpdate.RemainingWorkload
		}
		s.fold(ev.msg.ProgressUpdate.Delta)
		s.resolveProgressRound(id)

	case message.KindStolenWorkload:
		delete(s.outstandingSteals, id)
		if started, ok := s.stealStarted[id]; ok && s.stats != nil {
			s.stats.RecordWorkloadSteal(time.Since(started))
		}
		delete(s.stealStarted, id)
		if ev.msg.StolenWorkload.Some {
			s.runStats.StealsSucceeded++
			if h, ok := s.workers[id]; ok {
				h.workload = ev.msg.StolenWorkload.Remaining
			}
			s.fold(ev.msg.StolenWorkload.Delta)
			s.available = append(s.available, ev.msg.StolenWorkload.Stolen)
		}

	case message.KindFinished:
		s.fold(ev.msg.Finished.FinalProgress)
		s.resolveProgressRound(id)
		s.onWorkerIdle(id)

	case message.KindFailed:
		log.Error().Str("reason", ev.msg.Failed.Message).Msg("worker reported a failure")
		s.resolveProgressRound(id)
		s.beginShutdown(Failed, ev.msg.Failed.Message)

	case message.KindWorkerQuit:
		s.onWorkerGone(id)
	}

	s.reconcile()
}

// fold merges a worker-reported progress increment into the running
// total, then checks whether the mode now considers the search satisfied
// (spec.md §4.4 Termination: for FirstMode, a located value; for
// Found*Mode, a result meeting the user predicate). A merge error means
// two workers reported inconsistent checkpoints for the same tree, which
// can only mean a bug in how workloads were carved up; it ends the run
// as a failure rather than silently reporting a wrong result.
func (s *Supervisor[R]) fold(delta mode.Progress[R]) {
	merged, err := mode.Fold(s.mode, s.progress, delta)
	if err != nil {
		s.beginShutdown(Failed, err.Error())
		return
	}
	s.progress = merged
	if s.mode.Satisfied(s.progress.Result) {
		s.beginShutdown(Completed, "")
	}
}

func (s *Supervisor[R]) onWorkerIdle(id int) {
	h, ok := s.workers[id]
	if !ok {
		return
	}
	if s.pendingRemoval[id] {
		delete(s.pendingRemoval, id)
		if !h.quitSent {
			s.controller.QuitWorker(id)
			h.quitSent = true
			delete(s.outstandingSteals, id)
			delete(s.stealStarted, id)
		}
		return
	}
	if s.shuttingDown {
		if !h.quitSent {
			s.controller.QuitWorker(id)
			h.quitSent = true
			delete(s.outstandingSteals, id)
			delete(s.stealStarted, id)
		}
		return
	}
	h.idleSince = time.Now()
	h.workload = workload.Workload{}
	s.waiting = append(s.waiting, id)
}

func (s *Supervisor[R]) onWorkerGone(id int) {
	delete(s.workers, id)
	delete(s.outstandingSteals, id)
	delete(s.stealStarted, id)
	delete(s.pendingRemoval, id)
	s.waiting = removeInt(s.waiting, id)
	s.runStats.WorkersRemoved++
	s.resolveProgressRound(id)

	if s.shuttingDown && len(s.workers) == 0 {
		s.finalize()
	}
}

// reconcile restores the assignment invariant (waiting workers and
// available workloads are never both non-empty), requests as many steals
// as spec.md §4.4's batch formula calls for, and detects completion.
func (s *Supervisor[R]) reconcile() {
	if s.shuttingDown {
		return
	}

	for len(s.waiting) > 0 && len(s.available) > 0 {
		id := s.waiting[0]
		s.waiting = s.waiting[1:]
		wl := s.available[0]
		s.available = s.available[1:]
		h := s.workers[id]
		h.workload = wl
		s.controller.SendWorkloadToWorker(id, wl)
		s.runStats.WorkloadsHandled++
		if s.stats != nil {
			s.stats.RecordWorkerWait(id, time.Since(h.idleSince))
			s.stats.RecordWorkloadRequest()
		}
	}

	if s.stats != nil {
		s.stats.SetWorkerCounts(len(s.workers), len(s.waiting), len(s.available))
	}

	bufferTarget := s.workloadBufferSize
	if bufferTarget < 1 {
		bufferTarget = 1
	}

	// needed_steals = max(0, buffer_size + |waiting| − |available| − |pending_steals|)
	neededSteals := bufferTarget + len(s.waiting) - len(s.available) - len(s.outstandingSteals)
	if neededSteals <= 0 {
		return
	}

	victims := s.pickStealVictims(neededSteals)
	if len(victims) > 0 {
		s.controller.BroadcastWorkloadStealToWorkers(victims)
		for _, id := range victims {
			s.outstandingSteals[id] = true
			s.stealStarted[id] = time.Now()
			s.runStats.StealsAttempted++
		}
		return
	}

	if len(s.outstandingSteals) > 0 {
		// Steals already requested of every eligible worker may still come
		// back with something to give away; wait for those replies instead
		// of declaring the run stuck.
		return
	}

	if len(s.waiting) == len(s.workers) {
		s.beginShutdown(Completed, "")
		return
	}

	s.beginShutdown(Failed, ErrOutOfSourcesForNewWorkloads.Error())
}

// pickStealVictims returns up to n busy workers not already being asked
// for a steal, scanning available_workers_for_steal from shallowest
// current workload upward and tie-breaking (depth asc, id asc), per
// spec.md §4.4.
func (s *Supervisor[R]) pickStealVictims(n int) []int {
	waitingSet := make(map[int]bool, len(s.waiting))
	for _, id := range s.waiting {
		waitingSet[id] = true
	}

	type candidate struct {
		id    int
		depth int
	}
	candidates := make([]candidate, 0, len(s.workers))
	for id, h := range s.workers {
		if waitingSet[id] || s.outstandingSteals[id] || h.quitSent {
			continue
		}
		candidates = append(candidates, candidate{id: id, depth: h.workload.Depth()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth < candidates[j].depth
		}
		return candidates[i].id < candidates[j].id
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		ids[i] = candidates[i].id
	}
	return ids
}

func (s *Supervisor[R]) beginShutdown(reason Reason, msg string) {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.reason = reason
	s.reasonMsg = msg
	s.available = nil
	s.waiting = nil

	s.broadcastQuit()

	for _, round := range s.progressRounds {
		if round.onComplete != nil {
			round.onComplete(s.progress)
		}
	}
	s.progressRounds = nil

	if len(s.workers) == 0 {
		s.finalize()
	}
}

// broadcastQuit pushes QuitWorker to every worker that has not already
// received one. It fans the pushes out across an errgroup rather than a
// plain loop: each worker's RequestQueue has its own lock, so pushing to
// N workers has nothing to serialize on, and a pool with many workers
// notices a shutdown request sooner this way than waiting on N sequential
// mutex acquisitions.
func (s *Supervisor[R]) broadcastQuit() {
	var g errgroup.Group
	for id, h := range s.workers {
		if h.quitSent {
			continue
		}
		h.quitSent = true
		id := id
		g.Go(func() error {
			s.controller.QuitWorker(id)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor[R]) finalize() {
	s.outcome = Outcome[R]{
		Reason:           s.reason,
		AbortReason:      s.reasonMsg,
		Result:           s.progress.Result,
		RemainingWorkers: len(s.workers),
		Statistics:       s.runStats,
	}
	close(s.done)
}

func (s *Supervisor[R]) isWaiting(id int) bool {
	for _, w := range s.waiting {
		if w == id {
			return true
		}
	}
	return false
}

func removeInt(xs []int, x int) []int {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
