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

// Package coordinator implements the rank-0 side of spec.md §4.4/§4.5: the
// per-mode merge of every worker's contribution (streamed records, batched
// top-N, or the three-phase TPUT protocol), the final summary reduce, and
// the progress-gather counterpart to each worker's per-file ticks. It
// mirrors the worker package's collective call sequence exactly, since the
// two run concurrently over the same barrier-synchronized transport
// (spec.md §5).
package coordinator

import (
	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/query"
	"github.com/CESNET/fdistdump-sub002/recmem"
	"github.com/CESNET/fdistdump-sub002/stats"
	"github.com/CESNET/fdistdump-sub002/transport"
)

// Result is what one query produces on the coordinator: the final record
// set (already sorted/truncated per the task's mode) and the reduced
// cluster-wide summary.
type Result struct {
	Records []flowrec.Record
	Summary stats.Summary
}

// Run executes the coordinator side of one query. numWorkers is the
// number of participants other than rank 0 (ctx.Data.WorldSize()-1);
// progressFn, if non-nil, is called once per Gather with the per-worker
// file counts (spec.md §4.6's progress-reporting hook), so a caller can
// wire it to the not-yet-rendered progress display without coordinator
// depending on it directly.
func Run(ctx *query.Context, progressFn func(perWorker []uint64)) (Result, error) {
	if !ctx.IsCoordinator() {
		return Result{}, ferrors.Newf(ferrors.KindInternal, "coordinator.Run invoked on a worker rank")
	}
	task := ctx.Task
	numWorkers := ctx.Data.WorldSize() - 1

	fileCounts, err := ctx.Progress.Gather(0)
	if err != nil {
		return Result{}, ferrors.New(ferrors.KindTransport, err)
	}
	if progressFn != nil {
		progressFn(fileCounts)
	}

	var recs []flowrec.Record
	switch {
	case task.Mode == query.List:
		recs, err = collectStream(ctx.Data, transport.TagList, numWorkers)
		if err == nil && task.Limit > 0 && uint64(len(recs)) > task.Limit {
			recs = recs[:task.Limit]
		}
	case task.Mode == query.Sort:
		// Covers both bounded and unbounded SORT: workers stream raw
		// records on TagSort either way (worker.streamingTag), and
		// mergeStream doesn't care how many batches each worker sent,
		// only that every record lands in mem before the final sort.
		// TopN's n<=0 case returns every record sorted, which is exactly
		// spec.md §4.4's "SORT with N=0" behavior.
		recs, err = collectAndTopN(ctx.Data, transport.TagSort, numWorkers, &task.Fields, task.Limit)
	case task.Mode == query.Aggr && task.UseFastTopN:
		recs, err = runTPUT(ctx, numWorkers)
	case task.Mode == query.Aggr:
		recs, err = collectAndTopN(ctx.Data, transport.TagAggr, numWorkers, &task.Fields, task.Limit)
	case task.Mode == query.Meta:
		// no per-record stream at all
	default:
		err = ferrors.Newf(ferrors.KindInternal, "coordinator: unhandled mode %v", task.Mode)
	}
	if err != nil {
		return Result{}, err
	}

	totals, err := ctx.Data.Reduce(make([]uint64, 18))
	if err != nil {
		return Result{}, ferrors.New(ferrors.KindTransport, err)
	}

	return Result{Records: recs, Summary: stats.FromUint64s(totals)}, nil
}

// collectStream drains tag until numWorkers sentinels have been seen,
// decoding every length-prefixed record along the way, in arrival order.
// Used by LIST, whose output has no defined order.
func collectStream(data transport.Transport, tag transport.Tag, numWorkers int) ([]flowrec.Record, error) {
	var out []flowrec.Record
	seen := 0
	for seen < numWorkers {
		_, msg, err := data.RecvTaggedAny(tag)
		if err != nil {
			return nil, ferrors.New(ferrors.KindTransport, err)
		}
		if msg.Sentinel {
			seen++
			continue
		}
		payload, err := decompressIfNeeded(msg)
		if err != nil {
			return nil, err
		}
		recs, err := decodeBatch(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// collectAndTopN drains tag until every worker's sentinel has arrived,
// folds every received record (from any number of batches per worker)
// into one shared record memory (so matching aggregation keys from
// different workers combine via their AggrFunc), and returns the final
// sorted/truncated top-N. Used by SORT (bounded or not) and AGGR without
// fast top-N.
func collectAndTopN(data transport.Transport, tag transport.Tag, numWorkers int, desc *field.Descriptor, limit uint64) ([]flowrec.Record, error) {
	mem := recmem.New(desc, 0)
	defer mem.Free()
	if err := mergeStream(data, tag, numWorkers, mem); err != nil {
		return nil, err
	}
	return derefAll(recmem.TopN(mem, desc.Sort, int(limit))), nil
}

func mergeStream(data transport.Transport, tag transport.Tag, numWorkers int, mem recmem.Memory) error {
	seen := 0
	for seen < numWorkers {
		_, msg, err := data.RecvTaggedAny(tag)
		if err != nil {
			return ferrors.New(ferrors.KindTransport, err)
		}
		if msg.Sentinel {
			seen++
			continue
		}
		payload, err := decompressIfNeeded(msg)
		if err != nil {
			return err
		}
		recs, err := decodeBatch(payload)
		if err != nil {
			return err
		}
		for i := range recs {
			mem.Write(&recs[i])
		}
	}
	return nil
}

// decompressIfNeeded reverses the worker's optional flate compression
// (worker.compressForSend), so the streaming and merge paths never care
// whether a given batch happened to cross transport.CompressThreshold.
func decompressIfNeeded(msg transport.Message) ([]byte, error) {
	if !msg.Compressed {
		return msg.Payload, nil
	}
	buf, err := transport.Decompress(msg.Payload)
	if err != nil {
		return nil, ferrors.New(ferrors.KindTransport, err)
	}
	return buf, nil
}

func decodeBatch(buf []byte) ([]flowrec.Record, error) {
	var out []flowrec.Record
	for len(buf) > 0 {
		var r flowrec.Record
		var err error
		r, buf, err = flowrec.DecodeLenPrefixed(buf)
		if err != nil {
			return nil, ferrors.New(ferrors.KindTransport, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func derefAll(recs []*flowrec.Record) []flowrec.Record {
	out := make([]flowrec.Record, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}
