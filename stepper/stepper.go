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

// Package stepper implements the single-step tree interpreter of
// spec.md §4.1 (Component D): given an exploration state, it performs
// exactly one semantic step, crossing one node, pushing or popping one
// context frame, or terminating.
package stepper

import (
	"fmt"

	"github.com/optakt/voyager/checkpoint"
	"github.com/optakt/voyager/codec"
	"github.com/optakt/voyager/path"
	"github.com/optakt/voyager/tree"
)

// State is the triple (Context, remaining Checkpoint, remaining Tree) the
// stepper advances one node at a time.
type State struct {
	Context   checkpoint.Context
	Remaining checkpoint.Checkpoint
	Tree      tree.Tree
}

// PastTreeInconsistentWithPresentTreeError reports that a checkpoint (or
// a path, during replay) names a node the current tree does not actually
// have at that position: a Cache/Choice checkpoint frame or path step
// sits over a tree node of a different kind. This is
// fatal to the worker exploring the checkpoint (spec.md §7).
type PastTreeInconsistentWithPresentTreeError struct {
	Reason string
}

// Error implements the error interface.
func (e PastTreeInconsistentWithPresentTreeError) Error() string {
	return fmt.Sprintf("past tree inconsistent with present tree: %s", e.Reason)
}

// VisitorTerminatedBeforeEndOfWalkError reports that a path instructs the
// walk to go somewhere the tree has already stopped (hit a Return or Null
// before exhausting the path). This is fatal to the worker (spec.md §7).
type VisitorTerminatedBeforeEndOfWalkError struct {
	StepsRemaining int
}

// Error implements the error interface.
func (e VisitorTerminatedBeforeEndOfWalkError) Error() string {
	return fmt.Sprintf("visitor terminated before end of walk: %d steps remaining", e.StepsRemaining)
}

// Step performs one semantic step from s. leaf/hasLeaf report an emitted
// value, if any; next/hasNext report the following state, if the
// exploration has not terminated. Yield nodes are checkpoint-transparent:
// they are skipped regardless of the shape of the remaining checkpoint,
// since spec.md §9 Open Question 2 leaves ProcessPendingRequests an
// explicit instruction with no corresponding checkpoint frame, and a
// checkpoint may resume in the middle of a run of yields that happened
// to precede the next real node.
func Step(s State) (leaf interface{}, hasLeaf bool, next State, hasNext bool, err error) {
	if s.Tree.Kind() == tree.KindYield {
		return nil, false, State{Context: s.Context, Remaining: s.Remaining, Tree: s.Tree.YieldContinuation()}, true, nil
	}

	switch s.Remaining.Kind() {

	case checkpoint.Explored:
		ctx, chk, t, ok := backtrack(s.Context)
		if !ok {
			return nil, false, State{}, false, nil
		}
		return nil, false, State{Context: ctx, Remaining: chk, Tree: t}, true, nil

	case checkpoint.Unexplored:
		return stepUnexplored(s)

	case checkpoint.CachePointKind:
		if s.Tree.Kind() != tree.KindCache {
			return nil, false, State{}, false, PastTreeInconsistentWithPresentTreeError{
				Reason: fmt.Sprintf("checkpoint expects a cache node, tree has %s", s.Tree.Kind()),
			}
		}
		cacheBytes := s.Remaining.CacheBytes()
		v, decodeErr := s.Tree.Decode()(cacheBytes)
		if decodeErr != nil {
			return nil, false, State{}, false, fmt.Errorf("could not decode cached value: %w", decodeErr)
		}
		newCtx := s.Context.Push(checkpoint.CacheContextStep(cacheBytes))
		cont := s.Tree.CacheContinuation(v)
		return nil, false, State{Context: newCtx, Remaining: s.Remaining.Inner(), Tree: cont}, true, nil

	case checkpoint.ChoicePointKind:
		if s.Tree.Kind() != tree.KindChoice {
			return nil, false, State{}, false, PastTreeInconsistentWithPresentTreeError{
				Reason: fmt.Sprintf("checkpoint expects a choice node, tree has %s", s.Tree.Kind()),
			}
		}
		newCtx := s.Context.Push(checkpoint.LeftBranchContextStep(s.Remaining.Right(), s.Tree.RightThunk()))
		return nil, false, State{Context: newCtx, Remaining: s.Remaining.Left(), Tree: s.Tree.Left()}, true, nil

	default:
		return nil, false, State{}, false, fmt.Errorf("stepper: invalid checkpoint kind %s", s.Remaining.Kind())
	}
}

func stepUnexplored(s State) (leaf interface{}, hasLeaf bool, next State, hasNext bool, err error) {
	switch s.Tree.Kind() {

	case tree.KindReturn:
		ctx, chk, t, ok := backtrack(s.Context)
		if !ok {
			return s.Tree.Value(), true, State{}, false, nil
		}
		return s.Tree.Value(), true, State{Context: ctx, Remaining: chk, Tree: t}, true, nil

	case tree.KindNull:
		ctx, chk, t, ok := backtrack(s.Context)
		if !ok {
			return nil, false, State{}, false, nil
		}
		return nil, false, State{Context: ctx, Remaining: chk, Tree: t}, true, nil

	case tree.KindCache:
		v, ok := s.Tree.Effect()()
		if !ok {
			ctx, chk, t, hasNext := backtrack(s.Context)
			if !hasNext {
				return nil, false, State{}, false, nil
			}
			return nil, false, State{Context: ctx, Remaining: chk, Tree: t}, true, nil
		}
		encoded, encErr := codec.Default.Marshal(v)
		if encErr != nil {
			return nil, false, State{}, false, fmt.Errorf("could not encode cache value: %w", encErr)
		}
		newCtx := s.Context.Push(checkpoint.CacheContextStep(encoded))
		cont := s.Tree.CacheContinuation(v)
		return nil, false, State{Context: newCtx, Remaining: checkpoint.NewUnexplored(), Tree: cont}, true, nil

	case tree.KindChoice:
		newCtx := s.Context.Push(checkpoint.LeftBranchContextStep(checkpoint.NewUnexplored(), s.Tree.RightThunk()))
		return nil, false, State{Context: newCtx, Remaining: checkpoint.NewUnexplored(), Tree: s.Tree.Left()}, true, nil

	default:
		return nil, false, State{}, false, fmt.Errorf("stepper: invalid tree kind %s", s.Tree.Kind())
	}
}

// backtrack pops context frames from the hole outward: Cache and
// already-right frames are discarded, a Left frame is converted to a
// plain right frame and exploration resumes in its sibling sub-tree. An
// empty context after popping means the exploration is over.
func backtrack(ctx checkpoint.Context) (checkpoint.Context, checkpoint.Checkpoint, tree.Tree, bool) {
	for {
		rest, frame, ok := ctx.Pop()
		if !ok {
			return rest, checkpoint.Checkpoint{}, tree.Tree{}, false
		}
		switch frame.Kind() {
		case checkpoint.CacheKind, checkpoint.RightKind, checkpoint.StolenRightKind:
			ctx = rest
			continue
		case checkpoint.LeftKind:
			newCtx := rest.Push(checkpoint.RightBranchContextStep())
			return newCtx, frame.SiblingCheckpoint(), frame.SiblingTree(), true
		default:
			panic("stepper: invalid context frame kind")
		}
	}
}

// Replay advances t along p. At each CacheStep it decodes p's recorded
// bytes with the cache node's Decode function instead of running the
// node's effect, so the bytes are not compared with a fresh result
// (spec.md §4.3 "Startup"). It returns the tree at the end of the path
// and the context accumulated along the way, ready to be combined with a
// workload's remaining checkpoint to build the worker's initial State.
//
// A workload's InitialPath is a fixed, committed prefix: the worker owns
// only the sub-tree at its far end, never a sibling branched off along
// the way (that sibling belongs to whichever workload, if any, claims
// it). So every frame Replay pushes is one backtrack discards outright
// rather than one that resumes into a live sibling — reaching the top of
// this prefix while backtracking means the workload is exhausted, not
// that there is more to explore.
func Replay(t tree.Tree, p path.Path) (tree.Tree, checkpoint.Context, error) {
	ctx := checkpoint.Context(nil)
	i := 0
	for i < len(p) {
		for t.Kind() == tree.KindYield {
			t = t.YieldContinuation()
		}
		step := p[i]
		switch {
		case step.IsCache():
			if t.Kind() != tree.KindCache {
				return tree.Tree{}, nil, PastTreeInconsistentWithPresentTreeError{
					Reason: fmt.Sprintf("path expects a cache node at step %d, tree has %s", i, t.Kind()),
				}
			}
			v, decodeErr := t.Decode()(step.CacheBytes())
			if decodeErr != nil {
				return tree.Tree{}, nil, fmt.Errorf("could not decode path cache bytes at step %d: %w", i, decodeErr)
			}
			ctx = ctx.Push(checkpoint.CacheContextStep(step.CacheBytes()))
			t = t.CacheContinuation(v)
		default:
			if t.Kind() != tree.KindChoice {
				return tree.Tree{}, nil, PastTreeInconsistentWithPresentTreeError{
					Reason: fmt.Sprintf("path expects a choice node at step %d, tree has %s", i, t.Kind()),
				}
			}
			if step.Branch() == path.Left {
				ctx = ctx.Push(checkpoint.StolenRightContextStep())
				t = t.Left()
			} else {
				ctx = ctx.Push(checkpoint.RightBranchContextStep())
				t = t.Right()
			}
		}
		i++
		if isTerminal(t.Kind()) && i != len(p) {
			return tree.Tree{}, nil, VisitorTerminatedBeforeEndOfWalkError{StepsRemaining: len(p) - i}
		}
	}
	// Drain any trailing yields so the caller starts stepping from a
	// semantically meaningful node.
	for t.Kind() == tree.KindYield {
		t = t.YieldContinuation()
	}
	return t, ctx, nil
}

func isTerminal(k tree.Kind) bool {
	return k == tree.KindReturn || k == tree.KindNull
}
