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

// Package tree describes the lazy binary search tree a user program hands
// to the stepper. A Tree is a program of five instructions (Return, Null,
// Cache, Choice, ProcessPendingRequests); non-leaf instructions carry an
// explicit continuation rather than relying on the call stack, so that the
// stepper can walk trees many nodes deep without recursing (see Design
// Notes in spec.md §9 on deep trees).
package tree

// Kind identifies which of the five instructions a Tree node is.
type Kind uint8

const (
	// KindReturn is a leaf carrying a user value.
	KindReturn Kind = iota
	// KindNull is a dead branch, equivalent to mzero.
	KindNull
	// KindCache runs an effect and, on success, caches its value.
	KindCache
	// KindChoice is a binary branch; Left must be explored before Right.
	KindChoice
	// KindYield is a cooperative yield point for the worker engine.
	KindYield
)

// String implements the Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindReturn:
		return "return"
	case KindNull:
		return "null"
	case KindCache:
		return "cache"
	case KindChoice:
		return "choice"
	case KindYield:
		return "yield"
	default:
		return "invalid"
	}
}

// Effect produces an optional user value. A false second return acts as
// Null. Effects are run at most once per node visit on a given worker
// (spec.md §9); on checkpoint replay the stepper skips the call entirely
// and decodes the previously cached bytes instead.
type Effect func() (value interface{}, ok bool)

// Decode turns the opaque bytes recorded for a Cache node back into the
// user value, for checkpoint replay. It is supplied by the tree author at
// the Cache call site because only they know the concrete type involved.
type Decode func(data []byte) (interface{}, error)

// Tree is a single node of the lazy program. The zero value is not a valid
// Tree; construct one with Return, Null, Cache, Choice or Yield.
type Tree struct {
	kind Kind

	value interface{} // KindReturn

	effect   Effect                // KindCache
	decode   Decode                // KindCache
	cacheCnt func(interface{}) Tree // KindCache continuation

	left  func() Tree // KindChoice, built lazily
	right func() Tree // KindChoice, built lazily

	yieldCnt func() Tree // KindYield continuation
}

// Kind reports which instruction this node represents.
func (t Tree) Kind() Kind {
	return t.kind
}

// Return constructs a leaf carrying v.
func Return(v interface{}) Tree {
	return Tree{kind: KindReturn, value: v}
}

// Value returns the leaf value of a KindReturn node. It panics otherwise.
func (t Tree) Value() interface{} {
	if t.kind != KindReturn {
		panic("tree: Value called on a non-Return node")
	}
	return t.value
}

// Null constructs a dead branch.
func Null() Tree {
	return Tree{kind: KindNull}
}

// Cache constructs a node that runs effect; on success the result is
// passed to cont and is also cached (via decode, when replayed from a
// checkpoint instead of re-run).
func Cache(effect Effect, decode Decode, cont func(interface{}) Tree) Tree {
	return Tree{kind: KindCache, effect: effect, decode: decode, cacheCnt: cont}
}

// Effect returns the effect of a KindCache node. It panics otherwise.
func (t Tree) Effect() Effect {
	if t.kind != KindCache {
		panic("tree: Effect called on a non-Cache node")
	}
	return t.effect
}

// Decode returns the decode function of a KindCache node. It panics
// otherwise.
func (t Tree) Decode() Decode {
	if t.kind != KindCache {
		panic("tree: Decode called on a non-Cache node")
	}
	return t.decode
}

// CacheContinuation applies the continuation of a KindCache node to the
// (possibly replayed) cached value. It panics if called on any other kind.
func (t Tree) CacheContinuation(v interface{}) Tree {
	if t.kind != KindCache {
		panic("tree: CacheContinuation called on a non-Cache node")
	}
	return t.cacheCnt(v)
}

// Choice constructs a binary branch. Both sides are thunks so that
// constructing a Choice node never forces the construction of either
// sub-tree; the stepper decides which (if any) to force.
func Choice(left, right func() Tree) Tree {
	return Tree{kind: KindChoice, left: left, right: right}
}

// Left forces and returns the left sub-tree of a KindChoice node. It
// panics otherwise.
func (t Tree) Left() Tree {
	if t.kind != KindChoice {
		panic("tree: Left called on a non-Choice node")
	}
	return t.left()
}

// Right forces and returns the right sub-tree of a KindChoice node. It
// panics otherwise.
func (t Tree) Right() Tree {
	if t.kind != KindChoice {
		panic("tree: Right called on a non-Choice node")
	}
	return t.right()
}

// RightThunk returns the unforced thunk for the right sub-tree of a
// KindChoice node, so that a context frame can hold it without evaluating
// it until it is actually explored (or discard it entirely if stolen).
func (t Tree) RightThunk() func() Tree {
	if t.kind != KindChoice {
		panic("tree: RightThunk called on a non-Choice node")
	}
	return t.right
}

// Yield constructs a cooperative yield point; cont is the rest of the
// program, resumed with no new information.
func Yield(cont func() Tree) Tree {
	return Tree{kind: KindYield, yieldCnt: cont}
}

// YieldContinuation applies the continuation of a KindYield node. It
// panics if called on any other kind.
func (t Tree) YieldContinuation() Tree {
	if t.kind != KindYield {
		panic("tree: YieldContinuation called on a non-Yield node")
	}
	return t.yieldCnt()
}
