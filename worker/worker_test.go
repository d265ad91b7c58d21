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

package worker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/voyager/message"
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/tree"
	"github.com/optakt/voyager/worker"
	"github.com/optakt/voyager/workload"
)

func TestEngineRunLifecycle(t *testing.T) {
	root := tree.Choice(
		func() tree.Tree { return tree.Return(1) },
		func() tree.Tree { return tree.Return(1) },
	)
	m := mode.All(func() int { return 0 }, func(a, b int) int { return a + b })
	outbox := make(chan message.ToSupervisor[int], 8)
	eng := worker.New(1, root, m, outbox)

	done := make(chan struct{})
	go func() {
		eng.Run()
		close(done)
	}()

	eng.Requests().Push(message.StartWorkload(workload.Whole()))

	select {
	case msg := <-outbox:
		require.Equal(t, message.KindFinished, msg.Kind)
		assert.Equal(t, 2, msg.Finished.FinalProgress.Result)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the workload to finish")
	}

	eng.Requests().Push(message.QuitWorker())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the engine to quit")
	}
}
