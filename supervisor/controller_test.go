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

package supervisor_test

import (
	"sync"

	"github.com/optakt/voyager/message"
	"github.com/optakt/voyager/supervisor"
	"github.com/optakt/voyager/workload"
)

// fakeController is a Controller that never runs a real worker.Engine: it
// hands the supervisor's report callback straight back to the test, which
// can then inject whatever message.ToSupervisor it likes. It exists only to
// let the scheduling logic in Supervisor be driven and observed directly,
// something the Controller boundary of spec.md §6.3 makes possible without
// touching the worker package at all.
type fakeController struct {
	mu sync.Mutex

	reports         map[int]func(message.ToSupervisor[int])
	sent            map[int][]workload.Workload
	progressBatches [][]int
	stealBatches    [][]int
	quit            []int
}

var _ supervisor.Controller[int] = (*fakeController)(nil)

func newFakeController() *fakeController {
	return &fakeController{
		reports: make(map[int]func(message.ToSupervisor[int])),
		sent:    make(map[int][]workload.Workload),
	}
}

func (f *fakeController) SpawnWorker(id int, report func(message.ToSupervisor[int])) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[id] = report
}

func (f *fakeController) SendWorkloadToWorker(id int, w workload.Workload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = append(f.sent[id], w)
}

func (f *fakeController) BroadcastProgressUpdateToWorkers(ids []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressBatches = append(f.progressBatches, append([]int(nil), ids...))
}

func (f *fakeController) BroadcastWorkloadStealToWorkers(ids []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stealBatches = append(f.stealBatches, append([]int(nil), ids...))
}

func (f *fakeController) QuitWorker(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quit = append(f.quit, id)
}

// report delivers msg to the supervisor as if worker id had sent it.
func (f *fakeController) report(id int, msg message.ToSupervisor[int]) {
	f.mu.Lock()
	cb := f.reports[id]
	f.mu.Unlock()
	cb(msg)
}

func (f *fakeController) stealBatchesSnapshot() [][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int(nil), f.stealBatches...)
}
