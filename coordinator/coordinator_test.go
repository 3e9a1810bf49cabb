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

package coordinator

import (
	"net"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/query"
	"github.com/CESNET/fdistdump-sub002/transport"
	"github.com/CESNET/fdistdump-sub002/worker"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Printf(format string, args ...any) { l.t.Logf(format, args...) }

func rec(dstIP string, dstPort uint16, bytes uint64) flowrec.Record {
	var r flowrec.Record
	r.SrcAddr = flowrec.CanonicalizeIP(net.ParseIP("10.0.0.1"))
	r.DstAddr = flowrec.CanonicalizeIP(net.ParseIP(dstIP))
	r.DstPort = dstPort
	r.Packets = 1
	r.Bytes = bytes
	return r
}

func writeFixture(t *testing.T, dir, name string, recs []flowrec.Record) {
	t.Helper()
	hdr := flowrec.Header{FlowsTotal: uint64(len(recs)), FlowsOther: uint64(len(recs))}
	var total uint64
	for _, r := range recs {
		total += r.Bytes
	}
	hdr.BytesTotal, hdr.BytesOther = total, total
	if err := flowrec.WriteFile(filepath.Join(dir, name), hdr, recs); err != nil {
		t.Fatal(err)
	}
}

// cluster builds a world-sized mock cluster (rank 0 coordinator) plus one
// *query.Context per rank, sharing one query.Task.
func cluster(t *testing.T, world int, task *query.Task) []*query.Context {
	t.Helper()
	data := transport.NewMockCluster(world)
	ctxs := make([]*query.Context, world)
	for r := 0; r < world; r++ {
		progress, err := data[r].DupChannel()
		if err != nil {
			t.Fatal(err)
		}
		ctxs[r] = &query.Context{Task: task, Data: data[r], Progress: progress, Logger: testLogger{t}}
	}
	return ctxs
}

// runAll runs coordinator.Run on rank 0 and worker.Run on every other rank
// concurrently, returning the coordinator's Result.
func runAll(t *testing.T, ctxs []*query.Context) Result {
	t.Helper()
	var wg sync.WaitGroup
	for _, c := range ctxs[1:] {
		wg.Add(1)
		go func(c *query.Context) {
			defer wg.Done()
			if _, err := worker.Run(c, 2); err != nil {
				t.Errorf("worker.Run: %v", err)
			}
		}(c)
	}
	result, err := Run(ctxs[0], nil)
	if err != nil {
		t.Fatalf("coordinator.Run: %v", err)
	}
	wg.Wait()
	return result
}

func byBytes(recs []flowrec.Record) []uint64 {
	out := make([]uint64, len(recs))
	for i, r := range recs {
		out[i] = r.Bytes
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestCoordinatorListMergesAcrossWorkers(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeFixture(t, dirA, "lnf.1000", []flowrec.Record{rec("8.8.8.8", 53, 100), rec("1.1.1.1", 80, 1)})
	writeFixture(t, dirB, "lnf.1000", []flowrec.Record{rec("8.8.4.4", 53, 150)})

	// Every rank sees the same full path list: pathexpand.Shard (inside
	// worker.Run) is what splits it across workers by rank, not the test.
	task := &query.Task{QueryID: uuid.New(), Mode: query.List, Filter: "dstport == 53", Paths: []string{dirA, dirB}, WorkerCount: 2}
	ctxs := cluster(t, 3, task)

	result := runAll(t, ctxs)
	if len(result.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(result.Records))
	}
	for _, r := range result.Records {
		if r.DstPort != 53 {
			t.Errorf("unfiltered record leaked through: dstport=%d", r.DstPort)
		}
	}
}

func aggrTask(mode query.Mode, fastTopN bool, limit uint64, paths []string) *query.Task {
	return &query.Task{
		QueryID: uuid.New(),
		Mode:    mode,
		Filter:  "dstport == 53",
		Paths:   paths,
		Limit:   limit,
		Fields: field.Descriptor{
			AggrKeys:     []field.AggrKey{{Field: field.DstAddr, NetV4: 32, NetV6: 128}},
			OutputFields: []field.OutputField{{Field: field.Bytes, Func: field.Sum}},
			Sort:         &field.SortKey{Field: field.Bytes, Dir: field.Desc, Func: field.Sum, HasFunc: true},
		},
		UseFastTopN: fastTopN,
		WorkerCount: 2,
	}
}

// twoWorkerAggrFixture writes fixture files across two directories; every
// rank gets the full path list, and pathexpand.Shard (inside worker.Run)
// is what actually splits the files across worker ranks.
func twoWorkerAggrFixture(t *testing.T) []string {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeFixture(t, dirA, "lnf.1000", []flowrec.Record{rec("8.8.8.8", 53, 100), rec("1.1.1.1", 80, 9999)})
	writeFixture(t, dirB, "lnf.1000", []flowrec.Record{rec("8.8.8.8", 53, 40), rec("8.8.4.4", 53, 500)})
	return []string{dirA, dirB}
}

func TestCoordinatorAggrCombinesAcrossWorkers(t *testing.T) {
	paths := twoWorkerAggrFixture(t)
	task := aggrTask(query.Aggr, false, 0, paths)
	ctxs := cluster(t, 3, task)

	result := runAll(t, ctxs)
	want := []uint64{140, 500} // 8.8.8.8: 100+40, 8.8.4.4: 500
	got := byBytes(result.Records)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCoordinatorFastTopNMatchesPlainAggr(t *testing.T) {
	paths := twoWorkerAggrFixture(t)

	plain := aggrTask(query.Aggr, false, 1, paths)
	ctxsPlain := cluster(t, 3, plain)
	wantResult := runAll(t, ctxsPlain)

	fast := aggrTask(query.Aggr, true, 1, paths)
	ctxsFast := cluster(t, 3, fast)
	gotResult := runAll(t, ctxsFast)

	if len(gotResult.Records) != 1 || len(wantResult.Records) != 1 {
		t.Fatalf("expected exactly 1 record from each mode, got fast=%d plain=%d",
			len(gotResult.Records), len(wantResult.Records))
	}
	if gotResult.Records[0].Bytes != wantResult.Records[0].Bytes {
		t.Errorf("fast top-N bytes = %d, want %d (bitwise-identical to plain AGGR, spec.md P4)",
			gotResult.Records[0].Bytes, wantResult.Records[0].Bytes)
	}
	if gotResult.Records[0].Bytes != 500 {
		t.Errorf("fast top-N bytes = %d, want 500 (the 8.8.4.4 bucket)", gotResult.Records[0].Bytes)
	}
}

func sortTask(limit uint64, paths []string) *query.Task {
	return &query.Task{
		QueryID: uuid.New(),
		Mode:    query.Sort,
		Filter:  "dstport == 53",
		Paths:   paths,
		Limit:   limit,
		Fields: field.Descriptor{
			Sort: &field.SortKey{Field: field.Bytes, Dir: field.Desc},
		},
		WorkerCount: 2,
	}
}

// TestCoordinatorSortUnboundedProducesTotalOrder covers SORT with N=0
// (spec.md §4.4, testable invariant P2): records stream in from multiple
// workers in network-arrival order, but the coordinator must still return
// them as one globally sorted sequence, not just a concatenation.
func TestCoordinatorSortUnboundedProducesTotalOrder(t *testing.T) {
	paths := twoWorkerAggrFixture(t)
	task := sortTask(0, paths)
	ctxs := cluster(t, 3, task)

	result := runAll(t, ctxs)
	if len(result.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(result.Records))
	}
	for i := 1; i < len(result.Records); i++ {
		if result.Records[i-1].Bytes < result.Records[i].Bytes {
			t.Fatalf("records not in descending bytes order: %v", byBytes(result.Records))
		}
	}
	want := []uint64{40, 100, 500}
	if got := byBytes(result.Records); got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestCoordinatorSortBoundedTruncatesToLimit covers SORT with N>0: the
// same total order as the unbounded case, truncated to the top Limit
// records.
func TestCoordinatorSortBoundedTruncatesToLimit(t *testing.T) {
	paths := twoWorkerAggrFixture(t)
	task := sortTask(1, paths)
	ctxs := cluster(t, 3, task)

	result := runAll(t, ctxs)
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}
	if result.Records[0].Bytes != 500 {
		t.Errorf("top record bytes = %d, want 500", result.Records[0].Bytes)
	}
}
