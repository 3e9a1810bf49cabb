// Copyright (C) 2024 The fdistdump-go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package bootstrap is the single entry point both fdistdump roles run
// through (spec.md §4.7: one binary, role decided by rank): it builds the
// cluster transport from a resolved config.Cluster, broadcasts the task
// descriptor rank 0 parsed from its CLI flags, and dispatches to
// coordinator.Run or worker.Run. It is the one package that is allowed to
// know about every other engine package at once, since wiring them
// together is its entire job.
package bootstrap

import (
	"context"
	"io"
	"sync"

	"github.com/CESNET/fdistdump-sub002/config"
	"github.com/CESNET/fdistdump-sub002/coordinator"
	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/metrics"
	"github.com/CESNET/fdistdump-sub002/progress"
	"github.com/CESNET/fdistdump-sub002/query"
	"github.com/CESNET/fdistdump-sub002/render"
	"github.com/CESNET/fdistdump-sub002/transport"
	"github.com/CESNET/fdistdump-sub002/worker"
)

// Options carries everything a CLI invocation resolved: the participant
// set, the task descriptor as parsed on rank 0 (ignored by the decode path
// on every other rank, since the broadcast task overwrites it), and the
// ambient-stack knobs SPEC_FULL.md Section B adds on top of spec.md's CLI
// surface.
type Options struct {
	Cluster *config.Cluster
	Task    *query.Task
	Threads int

	ProgressMode progress.Mode
	OutputFormat render.Format
	MetricsAddr  string

	Logger query.Logger
	Out    io.Writer
}

// Run resolves the cluster transport from opts.Cluster and runs one query
// to completion, returning a *ferrors.Error on any failure.
func Run(opts Options) error {
	data, err := dialCluster(opts.Cluster)
	if err != nil {
		return err
	}
	defer data.Close()
	return runWithTransport(data, opts)
}

// dialCluster builds the real TCP transport.Transport for rank 0
// (ListenCoordinator) or any other rank (DialWorker), per spec.md §4.7.
func dialCluster(c *config.Cluster) (transport.Transport, error) {
	if c.Rank == 0 {
		t, err := transport.ListenCoordinator(c.Peers)
		if err != nil {
			return nil, ferrors.New(ferrors.KindTransport, err)
		}
		return t, nil
	}
	t, err := transport.DialWorker(c.Rank, c.Peers)
	if err != nil {
		return nil, ferrors.New(ferrors.KindTransport, err)
	}
	return t, nil
}

// runWithTransport is dialCluster's transport-agnostic continuation,
// split out so tests can drive it over transport.NewMockCluster instead
// of real sockets.
func runWithTransport(data transport.Transport, opts Options) error {
	progressData, err := data.DupChannel()
	if err != nil {
		return ferrors.New(ferrors.KindTransport, err)
	}
	defer progressData.Close()

	if data.Rank() == 0 {
		opts.Task.WorkerCount = data.WorldSize() - 1
		if err := opts.Task.Validate(); err != nil {
			return err
		}
	}
	task, err := broadcastTask(data, opts.Task)
	if err != nil {
		return err
	}

	ctx := &query.Context{Task: task, Data: data, Progress: progressData, Logger: opts.Logger}

	var reg *metrics.Registry
	if opts.MetricsAddr != "" {
		reg = metrics.NewRegistry(ctx.Rank())
		srv, err := metrics.NewServer(opts.MetricsAddr, reg)
		if err != nil {
			return ferrors.New(ferrors.KindTransport, err)
		}
		go srv.Serve()
		defer srv.Shutdown(context.Background())
	}

	if ctx.IsCoordinator() {
		return runCoordinator(ctx, task, opts, reg)
	}
	return runWorker(ctx, opts, reg)
}

// broadcastTask sends task's wire encoding from rank 0 to every other
// rank (spec.md §5's BroadcastBlock), returning the task every rank
// should run: the same *query.Task object on rank 0, a freshly decoded
// one everywhere else.
func broadcastTask(data transport.Transport, task *query.Task) (*query.Task, error) {
	if data.Rank() == 0 {
		if _, err := data.BroadcastBlock(task.Encode()); err != nil {
			return nil, ferrors.New(ferrors.KindTransport, err)
		}
		return task, nil
	}
	buf, err := data.BroadcastBlock(nil)
	if err != nil {
		return nil, ferrors.New(ferrors.KindTransport, err)
	}
	t, err := query.Decode(buf)
	if err != nil {
		return nil, ferrors.New(ferrors.KindInternal, err)
	}
	return t, nil
}

// runCoordinator runs the rank-0 side: coordinator.Run's progress-gather
// hook spins up a progress.Reporter over the dedicated Progress channel,
// running concurrently with the data-stream merge exactly as spec.md §5
// allows, then the merged records are rendered to opts.Out.
func runCoordinator(ctx *query.Context, task *query.Task, opts Options, reg *metrics.Registry) error {
	var wg sync.WaitGroup
	var reporterErr error
	var fileTotal uint64

	progressFn := func(perWorker []uint64) {
		for _, n := range perWorker {
			fileTotal += n
		}
		reporter := progress.NewReporter(ctx.Progress, perWorker, opts.ProgressMode, opts.Out)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reporterErr = reporter.Run()
		}()
	}

	result, err := coordinator.Run(ctx, progressFn)
	wg.Wait()
	if err != nil {
		return err
	}
	if reporterErr != nil {
		return ferrors.New(ferrors.KindTransport, reporterErr)
	}

	if reg != nil {
		reg.ObserveSummary(result.Summary)
		for i := uint64(0); i < fileTotal; i++ {
			reg.ObserveFileDone()
		}
	}

	return render.Write(opts.Out, opts.OutputFormat, task, result.Records)
}

// runWorker runs a non-zero rank: the file loop, folding and streaming
// its contribution to rank 0 (worker.Run), then the local summary is
// folded into this process's own metrics registry, if any.
func runWorker(ctx *query.Context, opts Options, reg *metrics.Registry) error {
	summary, err := worker.Run(ctx, opts.Threads)
	if err != nil {
		return err
	}
	if reg != nil {
		reg.ObserveSummary(summary)
	}
	return nil
}
