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

package checkpoint

import (
	"github.com/optakt/voyager/path"
	"github.com/optakt/voyager/tree"
)

// FrameKind identifies the shape of one Context or Cursor frame.
//
// The stepper has only three frame shapes in spec.md §3 (cache, left,
// right), but this package splits "right branch" into two distinct kinds.
// A plain RightKind frame means the hole is genuinely inside the right
// sub-tree (left is fully explored, by construction, since we only move
// into the right sub-tree once backtracking has exhausted the left one).
// A StolenRightKind frame means a steal converted what used to be a
// LeftKind frame while the hole was still nested *inside* the left
// sub-tree: the right sibling was given away, but left is not necessarily
// finished. Collapsing these into one kind would make
// FromContext/FromCursor ambiguous about which side the accumulated
// checkpoint belongs to; see DESIGN.md for the write-up of this choice
// (spec.md §9 Open Question 3, "which frame to steal", is adjacent but
// distinct from this one).
type FrameKind uint8

const (
	CacheKind FrameKind = iota
	LeftKind
	RightKind
	StolenRightKind
)

// ContextFrame is one level of a Context zipper: cache bytes, or a choice
// branch with its live (unforced) sibling sub-tree.
type ContextFrame struct {
	kind FrameKind

	cacheBytes []byte // CacheKind

	siblingCheckpoint Checkpoint  // LeftKind: checkpoint of the (live) right sibling
	siblingTree       func() tree.Tree // LeftKind: thunk for the right sibling, never forced until explored or discarded
}

// CacheContextStep builds a CacheKind frame.
func CacheContextStep(cacheBytes []byte) ContextFrame {
	return ContextFrame{kind: CacheKind, cacheBytes: cacheBytes}
}

// LeftBranchContextStep builds a LeftKind frame: we are exploring the left
// sub-tree, and the right sibling (with its checkpoint) is still here,
// unforced, in case we backtrack into it or it gets stolen.
func LeftBranchContextStep(siblingCheckpoint Checkpoint, siblingTree func() tree.Tree) ContextFrame {
	return ContextFrame{kind: LeftKind, siblingCheckpoint: siblingCheckpoint, siblingTree: siblingTree}
}

// RightBranchContextStep builds a RightKind frame: we are exploring the
// right sub-tree: the left one is fully explored.
func RightBranchContextStep() ContextFrame {
	return ContextFrame{kind: RightKind}
}

// StolenRightContextStep builds a StolenRightKind frame: our right
// sibling was stolen while we were still inside the left sub-tree.
func StolenRightContextStep() ContextFrame {
	return ContextFrame{kind: StolenRightKind}
}

// Kind reports the shape of this frame.
func (f ContextFrame) Kind() FrameKind {
	return f.kind
}

// CacheBytes returns the cache bytes of a CacheKind frame. It panics
// otherwise.
func (f ContextFrame) CacheBytes() []byte {
	if f.kind != CacheKind {
		panic("checkpoint: CacheBytes called on a non-cache frame")
	}
	return f.cacheBytes
}

// SiblingCheckpoint returns the right sibling's checkpoint of a LeftKind
// frame. It panics otherwise.
func (f ContextFrame) SiblingCheckpoint() Checkpoint {
	if f.kind != LeftKind {
		panic("checkpoint: SiblingCheckpoint called on a non-left frame")
	}
	return f.siblingCheckpoint
}

// SiblingTree forces and returns the right sibling's sub-tree of a
// LeftKind frame. It panics otherwise.
func (f ContextFrame) SiblingTree() tree.Tree {
	if f.kind != LeftKind {
		panic("checkpoint: SiblingTree called on a non-left frame")
	}
	return f.siblingTree()
}

// Context is the zipper used by an active worker: a LIFO list of frames
// ordered from the root (index 0) to the current hole (last index), each
// LeftKind frame holding the live, unforced sub-tree of its unexplored
// sibling.
type Context []ContextFrame

// Push returns a new context with frame appended at the hole. The
// receiver is never mutated.
func (c Context) Push(frame ContextFrame) Context {
	out := make(Context, len(c), len(c)+1)
	copy(out, c)
	return append(out, frame)
}

// Pop returns the context with its last frame removed, that frame, and
// whether the context was non-empty.
func (c Context) Pop() (Context, ContextFrame, bool) {
	if len(c) == 0 {
		return c, ContextFrame{}, false
	}
	return c[:len(c)-1], c[len(c)-1], true
}

// ToCursor projects a Context onto a Cursor, forgetting every live
// sub-tree reference. This is what lets a worker describe its position to
// the supervisor, since Tree values never cross the wire.
func (c Context) ToCursor() Cursor {
	out := make(Cursor, len(c))
	for i, f := range c {
		switch f.kind {
		case CacheKind:
			out[i] = CacheCursorStep(f.cacheBytes)
		case LeftKind:
			out[i] = LeftBranchCursorStep(f.siblingCheckpoint)
		case RightKind:
			out[i] = RightBranchCursorStep()
		case StolenRightKind:
			out[i] = StolenRightCursorStep()
		}
	}
	return out
}

// CursorFrame is one level of a Cursor zipper: the same shape as
// ContextFrame, but carrying only checkpoints, never live sub-trees.
type CursorFrame struct {
	kind              FrameKind
	cacheBytes        []byte
	siblingCheckpoint Checkpoint
}

// CacheCursorStep builds a CacheKind cursor frame.
func CacheCursorStep(cacheBytes []byte) CursorFrame {
	return CursorFrame{kind: CacheKind, cacheBytes: cacheBytes}
}

// LeftBranchCursorStep builds a LeftKind cursor frame.
func LeftBranchCursorStep(siblingCheckpoint Checkpoint) CursorFrame {
	return CursorFrame{kind: LeftKind, siblingCheckpoint: siblingCheckpoint}
}

// RightBranchCursorStep builds a RightKind cursor frame.
func RightBranchCursorStep() CursorFrame {
	return CursorFrame{kind: RightKind}
}

// StolenRightCursorStep builds a StolenRightKind cursor frame.
func StolenRightCursorStep() CursorFrame {
	return CursorFrame{kind: StolenRightKind}
}

// Kind reports the shape of this frame.
func (f CursorFrame) Kind() FrameKind {
	return f.kind
}

// CacheBytes returns the cache bytes of a CacheKind frame. It panics
// otherwise.
func (f CursorFrame) CacheBytes() []byte {
	if f.kind != CacheKind {
		panic("checkpoint: CacheBytes called on a non-cache frame")
	}
	return f.cacheBytes
}

// SiblingCheckpoint returns the right sibling's checkpoint of a LeftKind
// frame. It panics otherwise.
func (f CursorFrame) SiblingCheckpoint() Checkpoint {
	if f.kind != LeftKind {
		panic("checkpoint: SiblingCheckpoint called on a non-left frame")
	}
	return f.siblingCheckpoint
}

// Cursor is a Context that has forgotten its live sub-trees: the shape a
// worker's position takes once it has to leave the process (reported in a
// message, or once a sibling has actually been stolen).
type Cursor []CursorFrame

// Push returns a new cursor with frame appended at the hole.
func (c Cursor) Push(frame CursorFrame) Cursor {
	out := make(Cursor, len(c), len(c)+1)
	copy(out, c)
	return append(out, frame)
}

// FromContext replays ctx outside its hole, wrapping sub (the checkpoint
// of what remains at the hole) one frame at a time until the root is
// reached. This is checkpoint_from_context in spec.md §4.2.
func FromContext(ctx Context, sub Checkpoint) Checkpoint {
	cur := sub
	for i := len(ctx) - 1; i >= 0; i-- {
		cur = wrapFrame(ctx[i].kind, ctx[i].cacheBytes, ctx[i].siblingCheckpoint, cur)
	}
	return cur
}

// FromCursor is the Cursor equivalent of FromContext (checkpoint_from_cursor).
func FromCursor(cur Cursor, sub Checkpoint) Checkpoint {
	acc := sub
	for i := len(cur) - 1; i >= 0; i-- {
		acc = wrapFrame(cur[i].kind, cur[i].cacheBytes, cur[i].siblingCheckpoint, acc)
	}
	return acc
}

func wrapFrame(kind FrameKind, cacheBytes []byte, siblingCheckpoint Checkpoint, acc Checkpoint) Checkpoint {
	switch kind {
	case CacheKind:
		return NewCachePoint(cacheBytes, acc)
	case LeftKind:
		// The hole is in the left branch; the sibling checkpoint is the
		// (possibly partial) state of the right branch as recorded when
		// the frame was pushed or last updated.
		return NewChoicePoint(acc, siblingCheckpoint)
	case RightKind:
		// The hole is genuinely inside the right sub-tree: left is fully
		// explored by construction.
		return NewChoicePoint(NewExplored(), acc)
	case StolenRightKind:
		// The hole is still inside what used to be the left sub-tree;
		// the right sibling was given away and is no longer ours to
		// account for.
		return NewChoicePoint(acc, NewExplored())
	default:
		panic("checkpoint: invalid frame kind")
	}
}

// PathFromContext lossily projects ctx onto the Path of branch/cache steps
// taken to reach the hole, forgetting sibling checkpoints entirely.
func PathFromContext(ctx Context) path.Path {
	p := make(path.Path, 0, len(ctx))
	for _, f := range ctx {
		p = append(p, stepFromFrameKind(f.kind, f.cacheBytes))
	}
	return p
}

// PathFromCursor is the Cursor equivalent of PathFromContext.
func PathFromCursor(cur Cursor) path.Path {
	p := make(path.Path, 0, len(cur))
	for _, f := range cur {
		p = append(p, stepFromFrameKind(f.kind, f.cacheBytes))
	}
	return p
}

func stepFromFrameKind(kind FrameKind, cacheBytes []byte) path.Step {
	switch kind {
	case CacheKind:
		return path.CacheStep(cacheBytes)
	case LeftKind, StolenRightKind:
		return path.ChoiceStep(path.Left)
	case RightKind:
		return path.ChoiceStep(path.Right)
	default:
		panic("checkpoint: invalid frame kind")
	}
}

// FromInitialPath builds the whole-tree checkpoint for a workload that
// starts at the node reached by p with remaining checkpoint sub, marking
// every sibling of the taken branches Unexplored ("we have no knowledge
// there"). This is checkpoint_from_initial_path in spec.md §4.2.
func FromInitialPath(p path.Path, sub Checkpoint) Checkpoint {
	cur := sub
	for i := len(p) - 1; i >= 0; i-- {
		cur = wrapPathStep(p[i], cur, NewUnexplored())
	}
	return cur
}

// FromUnexploredPath builds the whole-tree checkpoint whose only
// unexplored region is the node reached by p, marking every sibling of
// the taken branches Explored ("we have fully explored everywhere else").
// This is checkpoint_from_unexplored_path in spec.md §4.2.
func FromUnexploredPath(p path.Path) Checkpoint {
	cur := NewUnexplored()
	for i := len(p) - 1; i >= 0; i-- {
		cur = wrapPathStep(p[i], cur, NewExplored())
	}
	return cur
}

func wrapPathStep(step path.Step, cur, sibling Checkpoint) Checkpoint {
	if step.IsCache() {
		return NewCachePoint(step.CacheBytes(), cur)
	}
	if step.Branch() == path.Left {
		return NewChoicePoint(cur, sibling)
	}
	return NewChoicePoint(sibling, cur)
}
