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

// Command voyager-explore is a local, in-process reference wiring of the
// core: tree, mode, supervisor, workers, statistics and the checkpoint
// file all connected end-to-end with no transport beyond goroutines and
// Go channels. It explores a configurable complete binary tree and
// reports how many leaves it found, demonstrating resumption from a
// checkpoint file across restarts.
package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/optakt/voyager/checkpointfile"
	"github.com/optakt/voyager/mode"
	"github.com/optakt/voyager/stats"
	"github.com/optakt/voyager/supervisor"
	"github.com/optakt/voyager/tree"
)

// checkpointSnapshot carries the progress a completed global progress
// update round gathered, paired with the CPU time observed when that
// round was requested, over to the goroutine that actually writes the
// checkpoint file.
type checkpointSnapshot struct {
	progress mode.Progress[int]
	cpuTime  *big.Rat
}

// countTree builds a complete binary tree of the given depth whose every
// leaf holds 1, with a yield point inside every branch so workers have
// somewhere to cooperate with the supervisor and the demo has something
// non-trivial to steal and checkpoint.
func countTree(depth int) tree.Tree {
	if depth == 0 {
		return tree.Return(1)
	}
	return tree.Choice(
		func() tree.Tree { return tree.Yield(func() tree.Tree { return countTree(depth - 1) }) },
		func() tree.Tree { return tree.Yield(func() tree.Tree { return countTree(depth - 1) }) },
	)
}

func sumMode() mode.Mode[int] {
	return mode.All(func() int { return 0 }, func(a, b int) int { return a + b })
}

func main() {

	// Signal catching for clean shutdown.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	var (
		flagDepth              int
		flagWorkers            int
		flagBufferSize         int
		flagCheckpoint         string
		flagCompressCheckpoint bool
		flagCheckpointEvery    time.Duration
		flagProgressEvery      time.Duration
		flagLog                string
	)

	pflag.IntVarP(&flagDepth, "depth", "d", 20, "depth of the demo binary tree to explore")
	pflag.IntVarP(&flagWorkers, "workers", "w", 4, "number of worker engines to run")
	pflag.IntVarP(&flagBufferSize, "buffer-size", "b", 1, "available-workload buffer size before stealing stops")
	pflag.StringVarP(&flagCheckpoint, "checkpoint", "c", "", "checkpoint file path; empty disables checkpointing")
	pflag.BoolVar(&flagCompressCheckpoint, "compress-checkpoint", false, "zstd-compress the checkpoint file")
	pflag.DurationVar(&flagCheckpointEvery, "checkpoint-interval", 2*time.Second, "how often to write the checkpoint file")
	pflag.DurationVar(&flagProgressEvery, "progress-interval", time.Second, "how often to poll workers for a progress update")
	pflag.StringVarP(&flagLog, "log", "l", "info", "log output level")

	pflag.Parse()

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(flagLog)
	if err != nil {
		log.Fatal().Err(err).Msg("could not parse log level")
	}
	log = log.Level(level)

	collector := stats.NewCollector(log)
	defer collector.Close()

	root := countTree(flagDepth)
	m := sumMode()

	opts := []supervisor.Option[int]{
		supervisor.WithLogger[int](log),
		supervisor.WithWorkloadBufferSize[int](flagBufferSize),
		supervisor.WithStats[int](collector),
	}

	var file *checkpointfile.File
	if flagCheckpoint != "" {
		var fileOpts []checkpointfile.Option
		if flagCompressCheckpoint {
			fileOpts = append(fileOpts, checkpointfile.WithCompression())
		}
		file, err = checkpointfile.New(flagCheckpoint, fileOpts...)
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize checkpoint file")
		}

		progress, cpuTime, err := checkpointfile.Load(file, m)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load checkpoint file")
		}
		log.Info().Str("cpu_time_so_far", cpuTime.FloatString(3)+"s").Msg("resuming from checkpoint")
		opts = append(opts, supervisor.WithInitialProgress(progress))
	}

	s := supervisor.New(root, m, opts...)
	for i := 0; i < flagWorkers; i++ {
		s.AddWorker()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	checkpointCh := make(chan checkpointSnapshot, 1)
	go func() {
		defer close(done)
		progressTicker := time.NewTicker(flagProgressEvery)
		defer progressTicker.Stop()

		var checkpointTicker *time.Ticker
		var checkpointTickerC <-chan time.Time
		if file != nil {
			checkpointTicker = time.NewTicker(flagCheckpointEvery)
			defer checkpointTicker.Stop()
			checkpointTickerC = checkpointTicker.C
		}

		for {
			select {
			case <-progressTicker.C:
				s.PerformGlobalProgressUpdate(nil)
			case <-checkpointTickerC:
				cpuTime := collector.SupervisorOccupation().BusySeconds()
				// onComplete runs once every worker active at this moment has
				// answered, so progress is never a stale interleaving of an
				// in-flight round; hand it to the writer below instead of
				// blocking the supervisor's event loop with file I/O here.
				s.PerformGlobalProgressUpdate(func(progress mode.Progress[int]) {
					select {
					case checkpointCh <- checkpointSnapshot{progress: progress, cpuTime: cpuTime}:
					default:
					}
				})
			case snap := <-checkpointCh:
				err := checkpointfile.Save(file, snap.progress, snap.cpuTime)
				if err != nil {
					log.Error().Err(err).Msg("could not write checkpoint file")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	start := time.Now()
	log.Info().Time("start", start).Int("depth", flagDepth).Int("workers", flagWorkers).Msg("voyager-explore starting")

	var outcome supervisor.Outcome[int]
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		outcome = s.Run(ctx)
	}()

	select {
	case <-sig:
		log.Info().Msg("voyager-explore stopping")
		s.AbortRun("interrupted")
	case <-runDone:
	}

	<-runDone
	cancel()
	<-done

	log.Info().
		Str("reason", outcome.Reason.String()).
		Int("result", outcome.Result).
		Int("remaining_workers", outcome.RemainingWorkers).
		Int("workers_added", outcome.Statistics.WorkersAdded).
		Int("steals_attempted", outcome.Statistics.StealsAttempted).
		Int("steals_succeeded", outcome.Statistics.StealsSucceeded).
		Msg("voyager-explore finished")

	if file != nil {
		if outcome.Reason == supervisor.Completed {
			err := checkpointfile.Delete(file)
			if err != nil {
				log.Error().Err(err).Msg("could not delete checkpoint file on completion")
			}
		} else {
			progress := s.Progress()
			cpuTime := collector.SupervisorOccupation().BusySeconds()
			err := checkpointfile.Save(file, progress, cpuTime)
			if err != nil {
				log.Error().Err(err).Msg("could not write final checkpoint file")
			}
		}
	}

	if outcome.Reason == supervisor.Failed {
		os.Exit(1)
	}
}
