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

package worker

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/query"
	"github.com/CESNET/fdistdump-sub002/stats"
	"github.com/CESNET/fdistdump-sub002/transport"
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
	hdr := flowrec.Header{
		FlowsTotal: uint64(len(recs)), FlowsOther: uint64(len(recs)),
	}
	var total uint64
	for _, r := range recs {
		total += r.Bytes
	}
	hdr.BytesTotal, hdr.BytesOther = total, total
	if err := flowrec.WriteFile(filepath.Join(dir, name), hdr, recs); err != nil {
		t.Fatal(err)
	}
}

// collectCoordinator stands in for the coordinator package:
// it participates in the collectives a worker.Run call makes (progress
// gather, final summary reduce) and drains one tag's stream until it sees
// numWorkers sentinels, returning the decoded records.
func collectCoordinator(t *testing.T, data, progress transport.Transport, tag transport.Tag, numWorkers int) []flowrec.Record {
	t.Helper()
	if _, err := progress.Gather(0); err != nil {
		t.Errorf("coordinator progress gather: %v", err)
	}
	var out []flowrec.Record
	sentinels := 0
	for sentinels < numWorkers {
		_, msg, err := data.RecvTaggedAny(tag)
		if err != nil {
			t.Errorf("coordinator recv: %v", err)
			return out
		}
		if msg.Sentinel {
			sentinels++
			continue
		}
		buf := msg.Payload
		for len(buf) > 0 {
			var r flowrec.Record
			var err error
			r, buf, err = flowrec.DecodeLenPrefixed(buf)
			if err != nil {
				t.Errorf("decode: %v", err)
				return out
			}
			out = append(out, r)
		}
	}
	if _, err := data.Reduce(make([]uint64, 18)); err != nil {
		t.Errorf("coordinator reduce: %v", err)
	}
	return out
}

func baseTask(mode query.Mode, filterStr string) *query.Task {
	return &query.Task{
		QueryID:     uuid.New(),
		Mode:        mode,
		Filter:      filterStr,
		WorkerCount: 1,
	}
}

func newPair(world int) (data []transport.Transport, progress []transport.Transport) {
	data = transport.NewMockCluster(world)
	progress = make([]transport.Transport, world)
	for i, d := range data {
		p, err := d.DupChannel()
		if err != nil {
			panic(err)
		}
		progress[i] = p
	}
	return data, progress
}

func TestRunListStreamsFilteredRecords(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "lnf.1000", []flowrec.Record{
		rec("8.8.8.8", 53, 100),
		rec("1.1.1.1", 80, 200),
		rec("8.8.4.4", 53, 150),
	})

	task := baseTask(query.List, "dstport == 53")
	task.Paths = []string{dir}

	data, progress := newPair(2)
	ctx0 := &query.Context{Task: task, Data: data[0], Progress: progress[0], Logger: testLogger{t}}
	ctx1 := &query.Context{Task: task, Data: data[1], Progress: progress[1], Logger: testLogger{t}}

	var got []flowrec.Record
	done := make(chan struct{})
	go func() {
		defer close(done)
		got = collectCoordinator(t, ctx0.Data, ctx0.Progress, transport.TagList, 1)
	}()

	if _, err := Run(ctx1, 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done

	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	for _, r := range got {
		if r.DstPort != 53 {
			t.Errorf("unfiltered record leaked through: dstport=%d", r.DstPort)
		}
	}
}

func TestRunAggrCombinesByKeyAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "lnf.1000", []flowrec.Record{
		rec("8.8.8.8", 53, 100),
		rec("8.8.8.8", 53, 50),
	})
	writeFixture(t, dir, "lnf.2000", []flowrec.Record{
		rec("8.8.8.8", 53, 25),
		rec("1.1.1.1", 80, 9999),
	})

	task := baseTask(query.Aggr, "dstport == 53")
	task.Paths = []string{dir}
	task.Fields = field.Descriptor{
		AggrKeys:     []field.AggrKey{{Field: field.DstAddr, NetV4: 32, NetV6: 128}},
		OutputFields: []field.OutputField{{Field: field.Bytes, Func: field.Sum}},
		Sort:         &field.SortKey{Field: field.Bytes, Dir: field.Desc, Func: field.Sum, HasFunc: true},
	}

	data, progress := newPair(2)
	ctx0 := &query.Context{Task: task, Data: data[0], Progress: progress[0], Logger: testLogger{t}}
	ctx1 := &query.Context{Task: task, Data: data[1], Progress: progress[1], Logger: testLogger{t}}

	var got []flowrec.Record
	done := make(chan struct{})
	go func() {
		defer close(done)
		got = collectCoordinator(t, ctx0.Data, ctx0.Progress, transport.TagAggr, 1)
	}()

	summary, err := Run(ctx1, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done

	if len(got) != 1 {
		t.Fatalf("got %d aggregated rows, want 1 (one distinct key)", len(got))
	}
	if got[0].Bytes != 175 {
		t.Errorf("aggregated bytes = %d, want 175 (100+50+25)", got[0].Bytes)
	}
	if summary.ProcessedFlows != 3 {
		t.Errorf("ProcessedFlows = %d, want 3 (records passing the filter)", summary.ProcessedFlows)
	}
	if summary.Meta.FlowsTotal != 4 {
		t.Errorf("Meta.FlowsTotal = %d, want 4 (every record read, filtered or not)", summary.Meta.FlowsTotal)
	}
}

func TestRunMetaHasNoRecordLoop(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "lnf.1000", []flowrec.Record{rec("8.8.8.8", 53, 100)})

	task := baseTask(query.Meta, "")
	task.Paths = []string{dir}

	data, progress := newPair(2)
	ctx0 := &query.Context{Task: task, Data: data[0], Progress: progress[0], Logger: testLogger{t}}
	ctx1 := &query.Context{Task: task, Data: data[1], Progress: progress[1], Logger: testLogger{t}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := ctx0.Progress.Gather(0); err != nil {
			t.Errorf("coordinator progress gather: %v", err)
		}
		if _, err := ctx0.Data.Reduce(make([]uint64, 18)); err != nil {
			t.Errorf("coordinator reduce: %v", err)
		}
	}()

	summary, err := Run(ctx1, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done

	if summary.ProcessedFlows != 0 {
		t.Errorf("ProcessedFlows = %d, want 0: META does no record loop", summary.ProcessedFlows)
	}
	if summary.Meta.FlowsTotal != 1 {
		t.Errorf("Meta.FlowsTotal = %d, want 1: metadata is still folded from the file header", summary.Meta.FlowsTotal)
	}
}

var _ = stats.Summary{}
