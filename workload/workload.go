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

// Package workload defines the (Path, Checkpoint) pair that delimits one
// worker's slice of the search tree (spec.md §3, Component E).
package workload

import (
	"fmt"

	"github.com/optakt/voyager/checkpoint"
	"github.com/optakt/voyager/path"
)

// Workload is the unit of assignment between the supervisor and a
// worker: replay InitialPath against the user's tree to resurrect the
// node, then explore Remaining starting there.
type Workload struct {
	InitialPath path.Path
	Remaining   checkpoint.Checkpoint
}

// New constructs a Workload.
func New(initialPath path.Path, remaining checkpoint.Checkpoint) Workload {
	return Workload{InitialPath: initialPath, Remaining: remaining}
}

// Whole returns the workload covering an entire, freshly-created tree:
// the empty path with an Unexplored checkpoint.
func Whole() Workload {
	return Workload{InitialPath: nil, Remaining: checkpoint.NewUnexplored()}
}

// Depth is the length of the initial path, used by the supervisor to
// prefer shallower workloads when picking a worker to steal from (spec.md
// §4.4, "shallower = preferred for stealing").
func (w Workload) Depth() int {
	return len(w.InitialPath)
}

// FullCheckpoint lifts this workload's Remaining checkpoint back up to a
// whole-tree checkpoint, for folding into aggregate progress (spec.md §8
// property 7, "Workload disjointness").
func (w Workload) FullCheckpoint() checkpoint.Checkpoint {
	return checkpoint.FromInitialPath(w.InitialPath, w.Remaining)
}

// String implements the Stringer interface.
func (w Workload) String() string {
	return fmt.Sprintf("workload(path=%d steps, remaining=%s)", len(w.InitialPath), w.Remaining)
}
