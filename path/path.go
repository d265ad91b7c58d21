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

// Package path addresses nodes in a lazy binary search tree by replay: a
// Path is the ordered sequence of steps (branch taken, or cache value
// produced) needed to walk from the root to one node.
package path

import "fmt"

// Branch identifies which side of a Choice was taken.
type Branch uint8

const (
	Left Branch = iota
	Right
)

// String implements the Stringer interface.
func (b Branch) String() string {
	switch b {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "invalid"
	}
}

// Step is one element of a Path: either the branch taken at a Choice node,
// or the encoded bytes produced by a Cache node.
type Step struct {
	branch    Branch
	cache     []byte
	isCache   bool
}

// ChoiceStep returns a Step recording that the given branch was taken.
func ChoiceStep(branch Branch) Step {
	return Step{branch: branch}
}

// CacheStep returns a Step recording that a Cache node produced the given
// encoded bytes.
func CacheStep(value []byte) Step {
	return Step{cache: value, isCache: true}
}

// IsCache reports whether this step records a cache value rather than a
// choice branch.
func (s Step) IsCache() bool {
	return s.isCache
}

// Branch returns the branch recorded by this step. It panics if the step
// is a cache step.
func (s Step) Branch() Branch {
	if s.isCache {
		panic("path: Branch called on a cache step")
	}
	return s.branch
}

// CacheBytes returns the cache bytes recorded by this step. It panics if
// the step is a choice step.
func (s Step) CacheBytes() []byte {
	if !s.isCache {
		panic("path: CacheBytes called on a choice step")
	}
	return s.cache
}

// String implements the Stringer interface.
func (s Step) String() string {
	if s.isCache {
		return fmt.Sprintf("cache(%x)", s.cache)
	}
	return s.branch.String()
}

// Path is an ordered sequence of steps identifying a unique node by replay
// from the root of a tree.
type Path []Step

// Append returns a new path with the given step appended. The receiver is
// never mutated.
func (p Path) Append(step Step) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, step)
}

// Equal reports whether two paths contain the same sequence of steps.
func Equal(a, b Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].isCache != b[i].isCache {
			return false
		}
		if a[i].isCache {
			if string(a[i].cache) != string(b[i].cache) {
				return false
			}
			continue
		}
		if a[i].branch != b[i].branch {
			return false
		}
	}
	return true
}
