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

// Package checkpoint implements the partially-explored-tree data type from
// spec.md §3/§4.2: the Checkpoint sum type with its simplifying smart
// constructors, structural merge and inversion, and the Context/Cursor
// zippers used to describe "where we are" while exploring.
package checkpoint

import (
	"bytes"
	"fmt"
)

// Kind identifies which of the four Checkpoint shapes a value holds.
type Kind uint8

const (
	Unexplored Kind = iota
	Explored
	CachePointKind
	ChoicePointKind
)

// String implements the Stringer interface.
func (k Kind) String() string {
	switch k {
	case Unexplored:
		return "unexplored"
	case Explored:
		return "explored"
	case CachePointKind:
		return "cache_point"
	case ChoicePointKind:
		return "choice_point"
	default:
		return "invalid"
	}
}

// Checkpoint is the recursive sum type of spec.md §3: Unexplored, Explored,
// CachePoint(bytes, inner) or ChoicePoint(left, right). Values are always
// produced through the smart constructors below (or Simplify), which keep
// every Checkpoint in its simplified normal form.
type Checkpoint struct {
	kind  Kind
	bytes []byte
	inner *Checkpoint
	left  *Checkpoint
	right *Checkpoint
}

// NewUnexplored returns the Unexplored checkpoint.
func NewUnexplored() Checkpoint {
	return Checkpoint{kind: Unexplored}
}

// NewExplored returns the Explored checkpoint.
func NewExplored() Checkpoint {
	return Checkpoint{kind: Explored}
}

// NewCachePoint builds a CachePoint, collapsing to Explored when inner is
// already Explored (CachePoint(_, Explored) → Explored).
func NewCachePoint(cacheBytes []byte, inner Checkpoint) Checkpoint {
	if inner.kind == Explored {
		return NewExplored()
	}
	innerCopy := inner
	return Checkpoint{kind: CachePointKind, bytes: cacheBytes, inner: &innerCopy}
}

// NewChoicePoint builds a ChoicePoint, collapsing to Unexplored when both
// sides are Unexplored and to Explored when both sides are Explored.
func NewChoicePoint(left, right Checkpoint) Checkpoint {
	if left.kind == Unexplored && right.kind == Unexplored {
		return NewUnexplored()
	}
	if left.kind == Explored && right.kind == Explored {
		return NewExplored()
	}
	leftCopy, rightCopy := left, right
	return Checkpoint{kind: ChoicePointKind, left: &leftCopy, right: &rightCopy}
}

// Kind reports the shape of this checkpoint.
func (c Checkpoint) Kind() Kind {
	return c.kind
}

// CacheBytes returns the cache bytes of a CachePoint. It panics otherwise.
func (c Checkpoint) CacheBytes() []byte {
	if c.kind != CachePointKind {
		panic("checkpoint: CacheBytes called on a non-CachePoint")
	}
	return c.bytes
}

// Inner returns the continuation checkpoint of a CachePoint. It panics
// otherwise.
func (c Checkpoint) Inner() Checkpoint {
	if c.kind != CachePointKind {
		panic("checkpoint: Inner called on a non-CachePoint")
	}
	return *c.inner
}

// Left returns the left checkpoint of a ChoicePoint. It panics otherwise.
func (c Checkpoint) Left() Checkpoint {
	if c.kind != ChoicePointKind {
		panic("checkpoint: Left called on a non-ChoicePoint")
	}
	return *c.left
}

// Right returns the right checkpoint of a ChoicePoint. It panics
// otherwise.
func (c Checkpoint) Right() Checkpoint {
	if c.kind != ChoicePointKind {
		panic("checkpoint: Right called on a non-ChoicePoint")
	}
	return *c.right
}

// Simplify rebuilds c bottom-up through the smart constructors. It is a
// no-op (modulo allocation) for any checkpoint already built through them,
// but is needed after deserializing a checkpoint from the wire or from a
// checkpoint file, where the simplifying invariant is not otherwise
// guaranteed.
func Simplify(c Checkpoint) Checkpoint {
	switch c.kind {
	case Unexplored, Explored:
		return c
	case CachePointKind:
		return NewCachePoint(c.bytes, Simplify(*c.inner))
	case ChoicePointKind:
		return NewChoicePoint(Simplify(*c.left), Simplify(*c.right))
	default:
		panic(fmt.Sprintf("checkpoint: invalid kind %d", c.kind))
	}
}

// InconsistentCheckpointsError reports that two checkpoints could not be
// merged because they disagree on cache bytes or overall shape at some
// node. It is fatal to the caller attempting the merge (spec.md §7).
type InconsistentCheckpointsError struct {
	A, B Checkpoint
}

// Error implements the error interface.
func (e InconsistentCheckpointsError) Error() string {
	return fmt.Sprintf("inconsistent checkpoints: %s vs %s", e.A.kind, e.B.kind)
}

// Merge is the associative, commutative-up-to-structural-equality union of
// two checkpoints for the same tree: Unexplored is identity, Explored is
// absorbing, congruent CachePoint/ChoicePoint pairs recurse, and anything
// else (including mismatched cache bytes) is an InconsistentCheckpointsError.
func Merge(a, b Checkpoint) (Checkpoint, error) {
	switch {
	case a.kind == Unexplored:
		return b, nil
	case b.kind == Unexplored:
		return a, nil
	case a.kind == Explored || b.kind == Explored:
		return NewExplored(), nil
	case a.kind == CachePointKind && b.kind == CachePointKind:
		if !bytes.Equal(a.bytes, b.bytes) {
			return Checkpoint{}, InconsistentCheckpointsError{A: a, B: b}
		}
		inner, err := Merge(*a.inner, *b.inner)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("could not merge cache continuations: %w", err)
		}
		return NewCachePoint(a.bytes, inner), nil
	case a.kind == ChoicePointKind && b.kind == ChoicePointKind:
		left, err := Merge(*a.left, *b.left)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("could not merge left branches: %w", err)
		}
		right, err := Merge(*a.right, *b.right)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("could not merge right branches: %w", err)
		}
		return NewChoicePoint(left, right), nil
	default:
		return Checkpoint{}, InconsistentCheckpointsError{A: a, B: b}
	}
}

// Invert swaps Explored and Unexplored throughout c, leaving cache bytes
// and overall shape untouched except where the smart constructors
// collapse the result (a CachePoint whose inverted continuation is
// Explored becomes Explored). For any commutative result monoid and tree
// t, explore(c, t) combined with explore(Invert(c), t) yields the same
// result as exploring t with no checkpoint at all.
func Invert(c Checkpoint) Checkpoint {
	switch c.kind {
	case Unexplored:
		return NewExplored()
	case Explored:
		return NewUnexplored()
	case CachePointKind:
		return NewCachePoint(c.bytes, Invert(*c.inner))
	case ChoicePointKind:
		return NewChoicePoint(Invert(*c.left), Invert(*c.right))
	default:
		panic(fmt.Sprintf("checkpoint: invalid kind %d", c.kind))
	}
}

// Equal reports whether a and b are the same checkpoint, assuming both
// are already simplified (the normal state for any checkpoint obtained
// through this package's constructors).
func Equal(a, b Checkpoint) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Unexplored, Explored:
		return true
	case CachePointKind:
		return bytes.Equal(a.bytes, b.bytes) && Equal(*a.inner, *b.inner)
	case ChoicePointKind:
		return Equal(*a.left, *b.left) && Equal(*a.right, *b.right)
	default:
		return false
	}
}

// String implements the Stringer interface, rendering a checkpoint as an
// s-expression for logs and test failures.
func (c Checkpoint) String() string {
	switch c.kind {
	case Unexplored:
		return "_"
	case Explored:
		return "X"
	case CachePointKind:
		return fmt.Sprintf("(cache %x %s)", c.bytes, c.inner.String())
	case ChoicePointKind:
		return fmt.Sprintf("(choice %s %s)", c.left.String(), c.right.String())
	default:
		return "invalid"
	}
}
