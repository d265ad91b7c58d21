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

package mode

import "github.com/optakt/voyager/checkpoint"

// Progress pairs a checkpoint with the aggregated result accumulated over
// the region it describes (spec.md §3, Component "Progress").
type Progress[R any] struct {
	Checkpoint checkpoint.Checkpoint
	Result     R
}

// Empty returns the progress of having explored nothing.
func Empty[R any](m Mode[R]) Progress[R] {
	return Progress[R]{Checkpoint: checkpoint.NewUnexplored(), Result: m.EmptyResult()}
}

// Fold combines two progress values under m: checkpoints merge
// structurally, results combine through the mode's monoid. Progress
// updates are losslessly foldable this way for any sequence a worker
// emits (spec.md §8 property 9).
func Fold[R any](m Mode[R], a, b Progress[R]) (Progress[R], error) {
	merged, err := checkpoint.Merge(a.Checkpoint, b.Checkpoint)
	if err != nil {
		return Progress[R]{}, err
	}
	return Progress[R]{
		Checkpoint: merged,
		Result:     m.CombineResults(a.Result, b.Result),
	}, nil
}
