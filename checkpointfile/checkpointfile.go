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

// Package checkpointfile implements spec.md §6.1: a single-record file
// holding a run's progress plus its accumulated CPU time, written
// atomically so a reader never observes a half-written record, and read
// back on start-up so a run can resume where a previous one left off.
package checkpointfile

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"

	"github.com/optakt/voyager/codec"
	"github.com/optakt/voyager/mode"
)

// record is the on-disk shape of a checkpoint file: a run's progress
// plus the exact rational number of CPU-seconds the supervisor had
// accumulated as of the write. CPUTime is stored as its exact
// numerator/denominator text form (big.Rat.RatString) rather than a
// *big.Rat directly, so the encoding does not depend on whether the
// codec happens to special-case math/big types.
type record[R any] struct {
	Progress mode.Progress[R] `cbor:"progress"`
	CPUTime  string           `cbor:"cpu_time_rational"`
}

// File manages one checkpoint file's read/write lifecycle at a fixed
// path. It is not safe for concurrent use by more than one writer; a
// supervisor's single event loop, or a single periodic-writer goroutine
// fed from it, is the expected caller.
type File struct {
	path       string
	compressed bool

	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// Option configures a File.
type Option func(*File)

// WithCompression enables zstd compression of the serialized record
// before the atomic write, mirroring the teacher's codec/zbor
// compressor pairing; deep spines and large cache byte strings compress
// well, and the stored bytes are still a single self-contained frame so
// a truncated write is distinguishable from a valid-but-uncompressible
// one at read time (zstd's frame format itself errors on truncation).
func WithCompression() Option {
	return func(f *File) {
		f.compressed = true
	}
}

// New creates a File bound to path. Compression codecs are built
// eagerly so a misconfiguration surfaces at construction, not on the
// first write.
func New(path string, opts ...Option) (*File, error) {
	f := &File{path: path}
	for _, opt := range opts {
		opt(f)
	}

	if f.compressed {
		compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("could not create compressor: %w", err)
		}
		decompressor, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("could not create decompressor: %w", err)
		}
		f.compressor = compressor
		f.decompressor = decompressor
	}

	return f, nil
}

// Load reads the checkpoint file at f's path and returns the progress
// and accumulated CPU time it contains. If the file does not exist, it
// returns empty progress and zero CPU time, which is a run's starting
// point rather than an error (spec.md §6.1: "otherwise, from empty
// progress").
func Load[R any](f *File, m mode.Mode[R]) (mode.Progress[R], *big.Rat, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return mode.Empty(m), new(big.Rat), nil
	}
	if err != nil {
		return mode.Progress[R]{}, nil, fmt.Errorf("could not read checkpoint file: %w", err)
	}

	if f.compressed {
		data, err = f.decompressor.DecodeAll(data, nil)
		if err != nil {
			return mode.Progress[R]{}, nil, fmt.Errorf("could not decompress checkpoint file: %w", err)
		}
	}

	var rec record[R]
	err = codec.Default.Unmarshal(data, &rec)
	if err != nil {
		return mode.Progress[R]{}, nil, fmt.Errorf("could not decode checkpoint file: %w", err)
	}

	cpuTime := new(big.Rat)
	if rec.CPUTime != "" {
		_, ok := cpuTime.SetString(rec.CPUTime)
		if !ok {
			return mode.Progress[R]{}, nil, fmt.Errorf("could not parse cpu_time_rational %q", rec.CPUTime)
		}
	}

	return rec.Progress, cpuTime, nil
}

// Save atomically overwrites the checkpoint file with progress and
// cpuTime: it writes a sibling .tmp file, fsyncs it, then renames it
// over the target (spec.md §6.1). On any failure it removes the
// half-written .tmp file and leaves the previous checkpoint, if any,
// intact.
func Save[R any](f *File, progress mode.Progress[R], cpuTime *big.Rat) error {
	if cpuTime == nil {
		cpuTime = new(big.Rat)
	}
	rec := record[R]{Progress: progress, CPUTime: cpuTime.RatString()}

	data, err := codec.Default.Marshal(rec)
	if err != nil {
		return fmt.Errorf("could not encode checkpoint: %w", err)
	}

	if f.compressed {
		data = f.compressor.EncodeAll(data, nil)
	}

	tmpPath := f.path + ".tmp"
	err = writeAndRename(tmpPath, f.path, data)
	if err != nil {
		return fmt.Errorf("could not write checkpoint file: %w", err)
	}

	return nil
}

// Delete removes the checkpoint file, signaling a completed run
// (spec.md §6.1: "on completion, the checkpoint is deleted"). It is not
// an error for the file to already be gone.
func Delete(f *File) error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete checkpoint file: %w", err)
	}
	return nil
}

// writeAndRename writes data to tmpPath, syncs it, and renames it over
// finalPath. On any error, tmpPath is removed and finalPath is left
// untouched; cleanup failures are aggregated with the original error
// via multierror rather than discarded.
func writeAndRename(tmpPath, finalPath string, data []byte) error {
	dir := filepath.Dir(finalPath)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("could not create checkpoint directory: %w", err)
	}

	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("could not create temporary checkpoint file: %w", err)
	}

	_, writeErr := file.Write(data)
	if writeErr == nil {
		writeErr = file.Sync()
	}
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		var result *multierror.Error
		result = multierror.Append(result, writeErr, closeErr)
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			result = multierror.Append(result, removeErr)
		}
		return result.ErrorOrNil()
	}

	err = os.Rename(tmpPath, finalPath)
	if err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err)
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			result = multierror.Append(result, removeErr)
		}
		return result.ErrorOrNil()
	}

	return nil
}
