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

package workload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/optakt/voyager/checkpoint"
	"github.com/optakt/voyager/path"
	"github.com/optakt/voyager/workload"
)

func TestWholeCoversTheEntireTree(t *testing.T) {
	w := workload.Whole()
	assert.Nil(t, w.InitialPath)
	assert.Equal(t, checkpoint.Unexplored, w.Remaining.Kind())
	assert.Zero(t, w.Depth())
}

func TestDepthIsTheLengthOfTheInitialPath(t *testing.T) {
	p := path.Path{path.ChoiceStep(path.Left), path.ChoiceStep(path.Right)}
	w := workload.New(p, checkpoint.NewUnexplored())
	assert.Equal(t, 2, w.Depth())
}

func TestFullCheckpointLiftsRemainingBackToTheWholeTree(t *testing.T) {
	p := path.Path{path.ChoiceStep(path.Left)}
	w := workload.New(p, checkpoint.NewExplored())

	full := w.FullCheckpoint()
	assert.Equal(t, checkpoint.ChoicePointKind, full.Kind())
	assert.Equal(t, checkpoint.Explored, full.Left().Kind())
	assert.Equal(t, checkpoint.Unexplored, full.Right().Kind())
}

func TestStringReportsPathLengthAndRemaining(t *testing.T) {
	p := path.Path{path.ChoiceStep(path.Left), path.ChoiceStep(path.Right)}
	w := workload.New(p, checkpoint.NewExplored())
	assert.Contains(t, w.String(), "2 steps")
	assert.Contains(t, w.String(), "X")
}
