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

// Package location models a tree coordinate as a left/right bit string,
// independent of the cache values recorded along the way. Two paths that
// differ only in their cache bytes map to the same Location.
package location

import (
	"strings"

	"github.com/optakt/voyager/path"
)

// Location is an abstract tree coordinate: a sequence of left/right moves
// from the root. The zero value is the root.
type Location struct {
	branches []path.Branch
}

// Root returns the identity location.
func Root() Location {
	return Location{}
}

// Append returns the location reached by taking one more branch from l.
func (l Location) Append(branch path.Branch) Location {
	out := make([]path.Branch, len(l.branches), len(l.branches)+1)
	copy(out, l.branches)
	out = append(out, branch)
	return Location{branches: out}
}

// LeftChild returns the location of this location's left child.
func (l Location) LeftChild() Location {
	return l.Append(path.Left)
}

// RightChild returns the location of this location's right child.
func (l Location) RightChild() Location {
	return l.Append(path.Right)
}

// Depth returns the number of branches taken from the root.
func (l Location) Depth() int {
	return len(l.branches)
}

// IsRoot reports whether this is the root location.
func (l Location) IsRoot() bool {
	return len(l.branches) == 0
}

// Branches returns the branch sequence as a read-only slice.
func (l Location) Branches() []path.Branch {
	out := make([]path.Branch, len(l.branches))
	copy(out, l.branches)
	return out
}

// Compare returns -1, 0 or 1 comparing l and other under the total order
// matching lexicographic branching (Left < Right, shorter prefix first).
func Compare(l, other Location) int {
	n := len(l.branches)
	if len(other.branches) < n {
		n = len(other.branches)
	}
	for i := 0; i < n; i++ {
		if l.branches[i] == other.branches[i] {
			continue
		}
		if l.branches[i] == path.Left {
			return -1
		}
		return 1
	}
	switch {
	case len(l.branches) < len(other.branches):
		return -1
	case len(l.branches) > len(other.branches):
		return 1
	default:
		return 0
	}
}

// FromPath projects a path onto its branch-only Location, dropping cache
// steps. This is the "labelFromPath" operation of the universal properties.
func FromPath(p path.Path) Location {
	l := Root()
	for _, step := range p {
		if step.IsCache() {
			continue
		}
		l = l.Append(step.Branch())
	}
	return l
}

// String implements the Stringer interface, rendering the location as an
// "L"/"R" string, e.g. "LRL" for left-right-left.
func (l Location) String() string {
	var sb strings.Builder
	for _, b := range l.branches {
		if b == path.Left {
			sb.WriteByte('L')
		} else {
			sb.WriteByte('R')
		}
	}
	return sb.String()
}
