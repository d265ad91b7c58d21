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

// Package mode implements the four exploration-result policies of
// spec.md §4.4/§2 (Component H): sum-all, first-found, sum-until-pull and
// sum-until-push. A Mode is generic over the user's result type R, which
// the spec describes as "a user monoid"; rather than an interface with a
// method set, results combine through plain functions (Combine, Empty),
// matching this codebase's preference for named function types over
// single-method interfaces (see the teacher's CheckFunc/TransitionFunc).
package mode

// Combine associatively merges two partial results into one. It must be
// associative, and commutative if the caller needs deterministic fold
// order independence (spec.md §8 property 6).
type Combine[R any] func(a, b R) R

// Empty produces the identity element of the result monoid.
type Empty[R any] func() R

// Predicate reports whether an accumulated result already satisfies a
// found-mode's termination condition.
type Predicate[R any] func(r R) bool

// Mode selects one of the four result policies over a concrete result
// type R.
type Mode[R any] interface {
	// EmptyResult returns the identity element for this mode's result
	// monoid.
	EmptyResult() R
	// CombineResults folds two partial results together.
	CombineResults(a, b R) R
	// Satisfied reports whether r already satisfies this mode's
	// completion condition, independent of whether the checkpoint is
	// fully Explored. AllMode never completes early this way.
	Satisfied(r R) bool
	// Pushes reports whether workers must eagerly forward every partial
	// result as soon as user code produces one (FoundModeUsingPush),
	// rather than waiting to be asked for a progress update.
	Pushes() bool
}

// allMode sums every leaf under Combine with no early termination.
type allMode[R any] struct {
	empty   Empty[R]
	combine Combine[R]
}

// All builds the sum-all exploration mode.
func All[R any](empty Empty[R], combine Combine[R]) Mode[R] {
	return allMode[R]{empty: empty, combine: combine}
}

func (m allMode[R]) EmptyResult() R            { return m.empty() }
func (m allMode[R]) CombineResults(a, b R) R    { return m.combine(a, b) }
func (m allMode[R]) Satisfied(R) bool           { return false }
func (m allMode[R]) Pushes() bool               { return false }

// Located pairs a value with an indicator of whether it was ever found;
// it is the result type First uses (spec.md §3, "first-mode = Option<value>").
type Located[V any] struct {
	Value V
	Found bool
}

// firstMode completes as soon as any worker reports a found value; ties
// are broken by whichever progress update reaches the supervisor first.
type firstMode[V any] struct{}

// First builds the first-found exploration mode.
func First[V any]() Mode[Located[V]] {
	return firstMode[V]{}
}

func (m firstMode[V]) EmptyResult() Located[V] { return Located[V]{} }

func (m firstMode[V]) CombineResults(a, b Located[V]) Located[V] {
	if a.Found {
		return a
	}
	return b
}

func (m firstMode[V]) Satisfied(r Located[V]) bool { return r.Found }
func (m firstMode[V]) Pushes() bool                { return false }

// foundMode sums like All but completes early once Predicate is satisfied.
// Pull and push differ only in the worker-side contract (see worker
// package): push workers forward every partial result as soon as user
// code calls Push, instead of waiting for a RequestProgressUpdate.
type foundMode[R any] struct {
	empty     Empty[R]
	combine   Combine[R]
	predicate Predicate[R]
	pushes    bool
}

// FoundUsingPull builds the sum-until-predicate exploration mode where the
// supervisor only learns of new results when it asks for a progress
// update.
func FoundUsingPull[R any](empty Empty[R], combine Combine[R], predicate Predicate[R]) Mode[R] {
	return foundMode[R]{empty: empty, combine: combine, predicate: predicate}
}

// FoundUsingPush builds the sum-until-predicate exploration mode where
// workers forward partial results as soon as user code produces them.
func FoundUsingPush[R any](empty Empty[R], combine Combine[R], predicate Predicate[R]) Mode[R] {
	return foundMode[R]{empty: empty, combine: combine, predicate: predicate, pushes: true}
}

func (m foundMode[R]) EmptyResult() R          { return m.empty() }
func (m foundMode[R]) CombineResults(a, b R) R { return m.combine(a, b) }
func (m foundMode[R]) Satisfied(r R) bool      { return m.predicate(r) }
func (m foundMode[R]) Pushes() bool            { return m.pushes }
