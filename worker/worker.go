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

// Package worker implements the engine that drives one goroutine's worth
// of exploration (spec.md §4.3, Component F): replay a workload's
// InitialPath, step the tree node by node, cooperatively drain requests
// from its supervisor at every ProcessPendingRequests yield point, and
// report progress, stolen work or failure back over outbox.
package worker

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/optakt/voyager/checkpoint"
	"github.com/optakt/voyager/message"
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/path"
	"github.com/optakt/voyager/stepper"
	"github.com/optakt/voyager/tree"
	"github.com/optakt/voyager/workload"
)

// Occupation is implemented by the stats package's busy/idle tracker. A
// worker calls it around every blocking wait, so the supervisor's
// reported statistics reflect genuine occupation, not wall-clock alone.
// Engines default to a no-op implementation so the dependency is always
// optional.
type Occupation interface {
	MarkBusy()
	MarkIdle()
}

type noopOccupation struct{}

func (noopOccupation) MarkBusy() {}
func (noopOccupation) MarkIdle() {}

// Option configures an Engine.
type Option[R any] func(*Engine[R])

// WithLogger attaches a logger to the engine.
func WithLogger[R any](log zerolog.Logger) Option[R] {
	return func(e *Engine[R]) {
		e.log = log
	}
}

// WithOccupation attaches a busy/idle recorder to the engine.
func WithOccupation[R any](occ Occupation) Option[R] {
	return func(e *Engine[R]) {
		e.occupation = occ
	}
}

// Engine explores a user's tree under a single exploration Mode,
// receiving work and requests from its supervisor through requests and
// reporting back over outbox. Engine is safe to drive from exactly one
// goroutine at a time; concurrency across workers comes from running
// multiple Engines, not from sharing one.
type Engine[R any] struct {
	id       int
	root     tree.Tree
	mode     mode.Mode[R]
	requests *RequestQueue
	outbox   chan<- message.ToSupervisor[R]

	log        zerolog.Logger
	occupation Occupation
}

// New creates an Engine exploring root under mode m, identified to its
// supervisor and logs as id. outbox is where every ToSupervisor message
// this engine ever produces is sent; the caller owns its lifetime.
func New[R any](id int, root tree.Tree, m mode.Mode[R], outbox chan<- message.ToSupervisor[R], opts ...Option[R]) *Engine[R] {
	e := &Engine[R]{
		id:         id,
		root:       root,
		mode:       m,
		requests:   NewRequestQueue(),
		outbox:     outbox,
		log:        zerolog.Nop(),
		occupation: noopOccupation{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Requests returns the queue a supervisor pushes FromSupervisor messages
// onto for this engine.
func (e *Engine[R]) Requests() *RequestQueue {
	return e.requests
}

// Run is the engine's main loop: it blocks for the next request,
// explores a workload to completion or failure on KindStartWorkload, and
// returns once it receives KindQuitWorker, whether that arrives while it
// is idle or while it is exploring a workload. It is meant to be run in
// its own goroutine.
func (e *Engine[R]) Run() {
	for {
		e.occupation.MarkIdle()
		req := e.requests.PopFrontBlocking()
		e.occupation.MarkBusy()

		switch req.Kind {
		case message.KindStartWorkload:
			if e.explore(req.StartWorkload) {
				e.outbox <- message.NewWorkerQuitMessage[R]()
				return
			}
		case message.KindQuitWorker:
			e.outbox <- message.NewWorkerQuitMessage[R]()
			return
		case message.KindRequestWorkloadSteal:
			// A steal request can race against this engine's own workload
			// finishing; reply anyway; an idle worker never has anything
			// left to give away, but the supervisor is waiting on a reply
			// either way before it can trust its own bookkeeping.
			e.outbox <- message.NewNoStealMessage[R]()
		case message.KindRequestProgressUpdate:
			// Same race as above: nothing to report while idle.
			e.outbox <- message.NewProgressUpdateMessage(mode.Empty(e.mode), workload.Workload{})
		default:
			e.log.Warn().Uint8("kind", uint8(req.Kind)).Msg("dropping request received while idle")
		}
	}
}

// explore drives one workload from start to finish, sending exactly one
// of Finished or Failed to outbox when it is done, and zero or more
// ProgressUpdate/StolenWorkload messages along the way. If a quit request
// arrives at a yield point, it abandons the workload without sending
// either and returns true; otherwise it returns false.
func (e *Engine[R]) explore(w workload.Workload) bool {
	log := e.log.With().Int("worker_id", e.id).Str("workload", w.String()).Logger()

	sub, replayCtx, err := stepper.Replay(e.root, w.InitialPath)
	if err != nil {
		log.Error().Err(err).Msg("could not replay workload path")
		e.outbox <- message.NewFailedMessage[R](err.Error())
		return false
	}

	state := stepper.State{Context: replayCtx, Remaining: w.Remaining, Tree: sub}
	pending := e.mode.EmptyResult()

	for {
		if state.Tree.Kind() == tree.KindYield {
			var quit bool
			pending, quit = e.drainRequests(w, &state, pending)
			if quit {
				return true
			}
		}

		leaf, hasLeaf, next, hasNext, err := safeStep(state)
		if err != nil {
			log.Error().Err(err).Msg("exploration failed")
			e.outbox <- message.NewFailedMessage[R](err.Error())
			return false
		}

		if hasLeaf {
			leafResult, ok := leaf.(R)
			if !ok {
				msg := fmt.Sprintf("leaf value has unexpected type %T", leaf)
				log.Error().Msg(msg)
				e.outbox <- message.NewFailedMessage[R](msg)
				return false
			}
			pending = e.mode.CombineResults(pending, leafResult)
			if e.mode.Pushes() {
				e.pushProgress(w, state, &pending)
			}
		}

		if !hasNext {
			// The workload is exhausted: its entire region is now
			// explored, regardless of the exact path taken to get here.
			e.outbox <- message.NewFinishedMessage(mode.Progress[R]{
				Checkpoint: checkpoint.FromInitialPath(w.InitialPath, checkpoint.NewExplored()),
				Result:     pending,
			})
			return false
		}
		state = next
	}
}

// drainRequests processes every request queued since the last yield
// point. It returns the (possibly flushed) pending result and whether
// the engine must stop exploring this workload. The supervisor sends a
// quit request to every worker, busy or idle, when a run shuts down; one
// arriving mid-exploration makes this engine log and abandon the
// workload.
func (e *Engine[R]) drainRequests(w workload.Workload, state *stepper.State, pending R) (R, bool) {
	for {
		req, ok := e.requests.PopFront()
		if !ok {
			return pending, false
		}
		switch req.Kind {
		case message.KindRequestProgressUpdate:
			pending = e.reportProgress(w, *state, pending)
		case message.KindRequestWorkloadSteal:
			pending = e.attemptSteal(w, state, pending)
		case message.KindQuitWorker:
			e.log.Warn().Int("worker_id", e.id).Msg("quit request received while exploring a workload; abandoning it")
			return pending, true
		case message.KindStartWorkload:
			e.log.Warn().Int("worker_id", e.id).Msg("start-workload request received while already exploring; ignoring")
		}
	}
}

// reportProgress sends the accumulated-since-last-report result together
// with a freshly computed, cumulative exploration checkpoint, then
// returns the reset (empty) pending accumulator.
func (e *Engine[R]) reportProgress(w workload.Workload, state stepper.State, pending R) R {
	progress := mode.Progress[R]{
		Checkpoint: fullExploredCheckpoint(w, state),
		Result:     pending,
	}
	remaining := workload.New(w.InitialPath, checkpoint.FromContext(state.Context[len(w.InitialPath):], state.Remaining))
	e.outbox <- message.NewProgressUpdateMessage(progress, remaining)
	return e.mode.EmptyResult()
}

// pushProgress is reportProgress's FoundModeUsingPush variant: it reports
// eagerly, on every new leaf, rather than waiting to be asked.
func (e *Engine[R]) pushProgress(w workload.Workload, state stepper.State, pending *R) {
	*pending = e.reportProgress(w, state, *pending)
}

// attemptSteal looks for the shallowest live sibling this worker is not
// currently inside (the outermost LeftKind frame in its context) and, if
// one exists, carves it out into a fresh workload for another worker.
// Shallower is preferred because it is, by construction, the largest
// unclaimed region left in this worker's hands (spec.md §9 Open Question
// 3 resolves "which frame to steal" this way; see DESIGN.md).
func (e *Engine[R]) attemptSteal(w workload.Workload, state *stepper.State, pending R) R {
	idx := shallowestLeftFrame(state.Context)
	if idx < 0 {
		e.outbox <- message.NewNoStealMessage[R]()
		return pending
	}

	frame := state.Context[idx]
	prefix := append(checkpoint.Context(nil), state.Context[:idx]...)
	stolenPath := checkpoint.PathFromContext(prefix).Append(path.ChoiceStep(path.Right))
	stolenWorkload := workload.New(stolenPath, frame.SiblingCheckpoint())

	newCtx := append(checkpoint.Context(nil), state.Context[:idx]...)
	newCtx = newCtx.Push(checkpoint.StolenRightContextStep())
	newCtx = append(newCtx, state.Context[idx+1:]...)
	state.Context = newCtx

	progress := mode.Progress[R]{
		Checkpoint: fullExploredCheckpoint(w, *state),
		Result:     pending,
	}
	remaining := workload.New(w.InitialPath, checkpoint.FromContext(state.Context[len(w.InitialPath):], state.Remaining))
	e.outbox <- message.NewStolenWorkloadMessage(progress, remaining, stolenWorkload)
	return e.mode.EmptyResult()
}

// shallowestLeftFrame returns the index of the first (shallowest)
// LeftKind frame in ctx, or -1 if there is none to steal.
func shallowestLeftFrame(ctx checkpoint.Context) int {
	for i, f := range ctx {
		if f.Kind() == checkpoint.LeftKind {
			return i
		}
	}
	return -1
}

// fullExploredCheckpoint computes the global checkpoint this workload has
// explored as of state: invert the local remaining checkpoint to get
// what has been explored in local coordinates, then lift it to global
// coordinates by marking every sibling off w.InitialPath as Unexplored
// (unclaimed, not this workload's to report on). state.Context begins with
// the one frame per InitialPath step that Replay pushed; those are left
// out of the local checkpoint.
func fullExploredCheckpoint(w workload.Workload, state stepper.State) checkpoint.Checkpoint {
	localRemaining := checkpoint.FromContext(state.Context[len(w.InitialPath):], state.Remaining)
	localExplored := checkpoint.Invert(localRemaining)
	return checkpoint.FromInitialPath(w.InitialPath, localExplored)
}

// safeStep calls stepper.Step, turning a panic in user tree code into an
// error instead of taking down the engine's goroutine.
func safeStep(s stepper.State) (leaf interface{}, hasLeaf bool, next stepper.State, hasNext bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("user tree code panicked: %v", r)
		}
	}()
	return stepper.Step(s)
}
