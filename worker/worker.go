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

// Package worker implements the per-rank worker engine of spec.md §4.3: a
// bounded, dynamically scheduled file loop that filters records, either
// streams them to the coordinator or folds them into record memory, and
// a final summary reduce. Everything it needs is handed to it explicitly
// through a *query.Context (spec.md §9's design note): no package-level
// state survives between queries.
package worker

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/CESNET/fdistdump-sub002/bfindex"
	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/filter"
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/pathexpand"
	"github.com/CESNET/fdistdump-sub002/query"
	"github.com/CESNET/fdistdump-sub002/recmem"
	"github.com/CESNET/fdistdump-sub002/stats"
	"github.com/CESNET/fdistdump-sub002/transport"
)

// engine holds the per-query state one worker run needs, shared across its
// file-loop goroutines. Per spec.md §5, the transport is not required to
// support MPI_THREAD_MULTIPLE, so every call into ctx.Data from inside the
// parallel region is serialized under dataMu; ctx.Progress (a logically
// independent channel) gets its own mutex for the same reason.
type engine struct {
	ctx  *query.Context
	task *query.Task
	filt *filter.Filter
	tree *bfindex.Tree

	dataMu     sync.Mutex
	progressMu sync.Mutex

	procRecCounter atomic.Uint64
	limitReached   atomic.Bool
}

type threadState struct {
	summary stats.Summary
	mem     recmem.Memory
	sender  *recordSender
}

// Run executes the full worker pipeline of spec.md §4.3 for one query and
// returns this rank's contribution to the cluster summary (the caller on
// a worker rank has no further use for the return value beyond logging;
// the coordinator alone renders the post-Reduce total). threads bounds
// the file-loop's goroutine pool; it is a local resource knob, not part
// of the broadcast Task, so it is passed in separately.
func Run(ctx *query.Context, threads int) (stats.Summary, error) {
	if ctx.IsCoordinator() {
		return stats.Summary{}, ferrors.Newf(ferrors.KindInternal, "worker.Run invoked on the coordinator rank")
	}
	task := ctx.Task

	filt, err := filter.Compile(task.Filter)
	if err != nil {
		return stats.Summary{}, err
	}

	e := &engine{ctx: ctx, task: task, filt: filt}
	if task.UseBloomIndex && filt != nil {
		if tree, ok := bfindex.Build(filt.Root); ok {
			e.tree = tree
		}
	}

	allFiles, err := pathexpand.Expand(task.Paths, task.Begin, task.End)
	if err != nil {
		return stats.Summary{}, ferrors.New(ferrors.KindIO, err)
	}
	numWorkers := ctx.Data.WorldSize() - 1
	myFiles := pathexpand.Shard(allFiles, numWorkers)[ctx.Rank()-1]

	if _, err := ctx.Progress.Gather(uint64(len(myFiles))); err != nil {
		return stats.Summary{}, ferrors.New(ferrors.KindTransport, err)
	}

	states, err := e.runFileLoop(myFiles, threads)
	if err != nil {
		return stats.Summary{}, err
	}

	summary, mem, err := e.fold(states)
	if err != nil {
		return stats.Summary{}, err
	}
	defer mem.free()

	if err := e.postProcess(mem); err != nil {
		return stats.Summary{}, err
	}

	if _, err := ctx.Data.Reduce(summary.ToUint64s()); err != nil {
		return stats.Summary{}, ferrors.New(ferrors.KindTransport, err)
	}
	return summary, nil
}

// foldedMemory is the one shared record memory a worker ends up with after
// merging every thread-local memory, or a no-op stand-in when the mode
// needed none (LIST, SORT-N=0, META).
type foldedMemory struct {
	mem recmem.Memory
}

func (f foldedMemory) free() {
	if f.mem != nil {
		f.mem.Free()
	}
}

func (e *engine) fold(states []threadState) (stats.Summary, foldedMemory, error) {
	var total stats.Summary
	var mems []recmem.Memory
	haveMem := e.task.NeedsAggregation() || e.task.NeedsSortMemory()
	for i := range states {
		total.Add(states[i].summary)
		if haveMem && states[i].mem != nil {
			mems = append(mems, states[i].mem)
		}
	}
	if !haveMem {
		return total, foldedMemory{}, nil
	}
	shared := recmem.New(&e.task.Fields, 0)
	shared.MergeThreads(mems)
	for _, m := range mems {
		m.Free()
	}
	return total, foldedMemory{mem: shared}, nil
}

// runFileLoop is the bounded, dynamically scheduled parallel-for of
// spec.md §5: a thread pool of size min(threads, len(files)) pulls from a
// shared work channel. Each goroutine owns one threadState (its own
// record memory and/or double-buffered sender) for the whole run, merged
// only once at the join point.
func (e *engine) runFileLoop(files []string, threads int) ([]threadState, error) {
	n := threads
	if n < 1 {
		n = 1
	}
	if n > len(files) {
		n = len(files)
	}
	if n == 0 {
		// No files at all: still contribute an empty stream/sentinel so
		// the coordinator's per-worker accounting stays correct.
		return nil, nil
	}

	states := make([]threadState, n)
	needSender, tag := e.streamingTag()
	needMem := e.task.NeedsAggregation() || e.task.NeedsSortMemory()
	for i := range states {
		if needSender {
			states[i].sender = newRecordSender(e.sendFunc(tag), e.onFlush)
		}
		if needMem {
			states[i].mem = recmem.New(&e.task.Fields, 0)
		}
	}

	jobs := make(chan string)
	errCh := make(chan error, n)
	var wg sync.WaitGroup
	for i := range states {
		wg.Add(1)
		go func(st *threadState) {
			defer wg.Done()
			for path := range jobs {
				if err := e.processFile(path, st); err != nil {
					errCh <- err
					return
				}
			}
			if st.sender != nil {
				if err := st.sender.Close(); err != nil {
					errCh <- err
				}
			}
		}(&states[i])
	}
	for _, p := range files {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	return states, nil
}

// streamingTag reports whether this query's mode streams records directly
// (LIST, or SORT with no bound) rather than buffering them in record
// memory, and if so which tag it streams on.
func (e *engine) streamingTag() (bool, transport.Tag) {
	switch {
	case e.task.Mode == query.List:
		return true, transport.TagList
	case e.task.Mode == query.Sort && !e.task.NeedsSortMemory():
		return true, transport.TagSort
	default:
		return false, 0
	}
}

func (e *engine) sendFunc(tag transport.Tag) func(transport.Message) error {
	return func(msg transport.Message) error {
		e.dataMu.Lock()
		defer e.dataMu.Unlock()
		return e.ctx.Data.SendTagged(tag, 0, msg)
	}
}

// onFlush implements the record-limit bookkeeping of spec.md §4.3: the
// shared counter only advances at flush time, so a worker may overshoot
// the requested limit by at most one buffer-worth; the coordinator is
// responsible for the final truncation to N.
func (e *engine) onFlush(n int) {
	if e.task.Limit == 0 {
		return
	}
	total := e.procRecCounter.Add(uint64(n))
	if total >= e.task.Limit {
		e.limitReached.Store(true)
	}
}

func (e *engine) processFile(path string, st *threadState) error {
	f, err := flowrec.Open(path)
	if err != nil {
		return ferrors.New(ferrors.KindIO, err)
	}
	defer f.Close()

	st.summary.AddFileHeader(f.Header)
	if err := f.Header.CheckInvariant(); err != nil {
		e.ctx.Warnf("%s: %v", path, err)
	}

	skip := false
	if e.tree != nil {
		idx, err := bfindex.Load(bfindex.PathForFlow(path))
		if err != nil {
			e.ctx.Warnf("bloom index unavailable for %s, scanning unindexed: %v", path, err)
		} else if !bfindex.Evaluate(e.tree, idx) {
			skip = true
		}
	}

	if !skip && e.task.Mode != query.Meta {
		if err := e.readRecords(f, st); err != nil {
			return err
		}
	}

	e.progressMu.Lock()
	err = e.ctx.Progress.SendTagged(transport.TagProgress, 0, transport.Message{})
	e.progressMu.Unlock()
	if err != nil {
		return ferrors.New(ferrors.KindTransport, err)
	}
	return nil
}

func (e *engine) readRecords(f *flowrec.File, st *threadState) error {
	for {
		if e.task.Limit > 0 && e.limitReached.Load() {
			return nil
		}
		rec, err := f.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return ferrors.New(ferrors.KindIO, err)
		}
		if e.filt != nil && !e.filt.Eval(&rec) {
			continue
		}
		st.summary.AddRecordPassingFilter(&rec)
		switch {
		case st.sender != nil:
			if err := st.sender.Append(&rec); err != nil {
				return ferrors.New(ferrors.KindTransport, err)
			}
		case st.mem != nil:
			st.mem.Write(&rec)
		}
	}
}

// postProcess sends this worker's final results to the coordinator per
// the per-mode behavior of spec.md §4.4; AGGR with fast top-N delegates
// to the three-phase TPUT protocol (spec.md §4.5, tput.go).
func (e *engine) postProcess(mem foldedMemory) error {
	switch {
	case e.task.Mode == query.List:
		return e.sendSentinelOnly(transport.TagList)
	case e.task.Mode == query.Sort && !e.task.NeedsSortMemory():
		return e.sendSentinelOnly(transport.TagSort)
	case e.task.Mode == query.Sort:
		top := recmem.TopN(mem.mem, e.task.Fields.Sort, int(e.task.Limit))
		return e.sendBatchAndSentinel(transport.TagSort, top)
	case e.task.Mode == query.Aggr && e.task.UseFastTopN:
		return e.runTPUT(mem.mem)
	case e.task.Mode == query.Aggr:
		all := recmem.TopN(mem.mem, nil, 0)
		return e.sendBatchAndSentinel(transport.TagAggr, all)
	case e.task.Mode == query.Meta:
		return nil
	default:
		return ferrors.Newf(ferrors.KindInternal, "worker: unhandled mode %v", e.task.Mode)
	}
}

func (e *engine) sendSentinelOnly(tag transport.Tag) error {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	return e.ctx.Data.SendSentinel(tag, 0)
}

func (e *engine) sendBatchAndSentinel(tag transport.Tag, recs []*flowrec.Record) error {
	var buf []byte
	for _, r := range recs {
		buf = flowrec.AppendLenPrefixed(buf, r)
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	if err := e.ctx.Data.SendTagged(tag, 0, compressForSend(buf)); err != nil {
		return ferrors.New(ferrors.KindTransport, err)
	}
	return e.ctx.Data.SendSentinel(tag, 0)
}
