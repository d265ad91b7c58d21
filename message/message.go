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

// Package message defines the wire shapes of spec.md §6.2. Encodings are
// opaque to the spec; this package only fixes the Go struct shapes that
// the codec package then marshals to and from canonical CBOR. Transport
// (how these values actually move between processes, threads or over a
// socket) is an external collaborator and out of this package's scope.
package message

import (
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/workload"
)

// ToSupervisorKind discriminates ToSupervisor's active field.
type ToSupervisorKind uint8

const (
	KindProgressUpdate ToSupervisorKind = iota
	KindStolenWorkload
	KindFinished
	KindFailed
	KindWorkerQuit
)

// ToSupervisor is the union of messages a worker sends its supervisor.
// Exactly one of the fields is meaningful, selected by Kind.
type ToSupervisor[R any] struct {
	Kind ToSupervisorKind

	ProgressUpdate ProgressUpdate[R]
	StolenWorkload StolenWorkloadReply[R]
	Finished       Finished[R]
	Failed         Failed
}

// ProgressUpdate reports the portion of a workload a worker can now claim
// as fully explored, along with what is left.
type ProgressUpdate[R any] struct {
	Delta             mode.Progress[R]
	RemainingWorkload workload.Workload
}

// StolenWorkloadReply answers a steal request: either a workload was
// carved out (Some true) or the worker had nothing left to give away.
type StolenWorkloadReply[R any] struct {
	Some      bool
	Delta     mode.Progress[R]
	Remaining workload.Workload
	Stolen    workload.Workload
}

// Finished reports that a workload is fully explored.
type Finished[R any] struct {
	FinalProgress mode.Progress[R]
}

// Failed reports that user code panicked, or a walk/consistency error was
// detected, while processing a workload.
type Failed struct {
	Message string
}

// FromSupervisorKind discriminates FromSupervisor's active field.
type FromSupervisorKind uint8

const (
	KindRequestProgressUpdate FromSupervisorKind = iota
	KindRequestWorkloadSteal
	KindStartWorkload
	KindQuitWorker
)

// FromSupervisor is the union of messages the supervisor sends a worker.
type FromSupervisor struct {
	Kind          FromSupervisorKind
	StartWorkload workload.Workload
}

// RequestProgressUpdate builds a KindRequestProgressUpdate message.
func RequestProgressUpdate() FromSupervisor {
	return FromSupervisor{Kind: KindRequestProgressUpdate}
}

// RequestWorkloadSteal builds a KindRequestWorkloadSteal message.
func RequestWorkloadSteal() FromSupervisor {
	return FromSupervisor{Kind: KindRequestWorkloadSteal}
}

// StartWorkload builds a KindStartWorkload message.
func StartWorkload(w workload.Workload) FromSupervisor {
	return FromSupervisor{Kind: KindStartWorkload, StartWorkload: w}
}

// QuitWorker builds a KindQuitWorker message.
func QuitWorker() FromSupervisor {
	return FromSupervisor{Kind: KindQuitWorker}
}

// NewProgressUpdateMessage builds a KindProgressUpdate worker message.
func NewProgressUpdateMessage[R any](delta mode.Progress[R], remaining workload.Workload) ToSupervisor[R] {
	return ToSupervisor[R]{
		Kind: KindProgressUpdate,
		ProgressUpdate: ProgressUpdate[R]{
			Delta:             delta,
			RemainingWorkload: remaining,
		},
	}
}

// NewStolenWorkloadMessage builds a KindStolenWorkload worker message
// reporting a successful steal.
func NewStolenWorkloadMessage[R any](delta mode.Progress[R], remaining, stolen workload.Workload) ToSupervisor[R] {
	return ToSupervisor[R]{
		Kind: KindStolenWorkload,
		StolenWorkload: StolenWorkloadReply[R]{
			Some:      true,
			Delta:     delta,
			Remaining: remaining,
			Stolen:    stolen,
		},
	}
}

// NewNoStealMessage builds a KindStolenWorkload worker message reporting
// that nothing could be stolen.
func NewNoStealMessage[R any]() ToSupervisor[R] {
	return ToSupervisor[R]{Kind: KindStolenWorkload, StolenWorkload: StolenWorkloadReply[R]{Some: false}}
}

// NewFinishedMessage builds a KindFinished worker message.
func NewFinishedMessage[R any](final mode.Progress[R]) ToSupervisor[R] {
	return ToSupervisor[R]{Kind: KindFinished, Finished: Finished[R]{FinalProgress: final}}
}

// NewFailedMessage builds a KindFailed worker message.
func NewFailedMessage[R any](reason string) ToSupervisor[R] {
	return ToSupervisor[R]{Kind: KindFailed, Failed: Failed{Message: reason}}
}

// NewWorkerQuitMessage builds a KindWorkerQuit worker message.
func NewWorkerQuitMessage[R any]() ToSupervisor[R] {
	return ToSupervisor[R]{Kind: KindWorkerQuit}
}
