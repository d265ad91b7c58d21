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

package supervisor

import "errors"

// ErrOutOfSourcesForNewWorkloads reports the inconsistency error of
// spec.md §7: the stealing policy determined that more workloads are
// needed (waiting workers exist and the available-workload buffer is
// under target) but no worker remains that could be asked to give part
// of its work away. It is fatal to the run, the same as a worker-reported
// failure.
var ErrOutOfSourcesForNewWorkloads = errors.New("supervisor: out of sources for new workloads")
