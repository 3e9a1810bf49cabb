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

package recmem

import (
	"net"
	"testing"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
)

func aggrDesc() *field.Descriptor {
	return &field.Descriptor{
		AggrKeys:     []field.AggrKey{{Field: field.DstAddr, NetV4: 32, NetV6: 128}},
		OutputFields: []field.OutputField{{Field: field.Bytes, Func: field.Sum}, {Field: field.Packets, Func: field.Max}},
	}
}

func rec(dst string, bytes, packets uint64) *flowrec.Record {
	var r flowrec.Record
	r.SetAddr(field.DstAddr, net.ParseIP(dst))
	r.Bytes = bytes
	r.Packets = packets
	return &r
}

func TestHashMemoryAggregates(t *testing.T) {
	desc := aggrDesc()
	m := New(desc, 0)
	m.Write(rec("10.0.0.1", 100, 5))
	m.Write(rec("10.0.0.1", 50, 9))
	m.Write(rec("10.0.0.2", 7, 1))

	if m.Len() != 2 {
		t.Fatalf("got %d buckets, want 2", m.Len())
	}
	key := Key(desc, rec("10.0.0.1", 0, 0))
	got, ok := m.LookupRawByKey(key)
	if !ok {
		t.Fatal("expected bucket for 10.0.0.1")
	}
	if got.Bytes != 150 {
		t.Errorf("Bytes = %d, want 150 (sum)", got.Bytes)
	}
	if got.Packets != 9 {
		t.Errorf("Packets = %d, want 9 (max)", got.Packets)
	}
}

func TestHashMemoryMergeThreads(t *testing.T) {
	desc := aggrDesc()
	a := New(desc, 0)
	a.Write(rec("10.0.0.1", 10, 1))
	b := New(desc, 0)
	b.Write(rec("10.0.0.1", 20, 2))
	b.Write(rec("10.0.0.2", 5, 1))

	a.MergeThreads([]Memory{b})
	if a.Len() != 2 {
		t.Fatalf("got %d buckets after merge, want 2", a.Len())
	}
	key := Key(desc, rec("10.0.0.1", 0, 0))
	got, ok := a.LookupRawByKey(key)
	if !ok || got.Bytes != 30 {
		t.Fatalf("got %+v, want Bytes=30", got)
	}
}

func TestSortMemoryOrdering(t *testing.T) {
	desc := &field.Descriptor{
		Sort: &field.SortKey{Field: field.Bytes, Dir: field.Desc},
	}
	m := New(desc, 0)
	m.Write(rec("10.0.0.1", 5, 1))
	m.Write(rec("10.0.0.2", 50, 1))
	m.Write(rec("10.0.0.3", 20, 1))

	sm := m.(*sortMemory)
	sorted := sm.Sorted()
	if len(sorted) != 3 {
		t.Fatalf("got %d records, want 3", len(sorted))
	}
	want := []uint64{50, 20, 5}
	for i, r := range sorted {
		if r.Bytes != want[i] {
			t.Errorf("sorted[%d].Bytes = %d, want %d", i, r.Bytes, want[i])
		}
	}
}

func TestKeyMasksNetmask(t *testing.T) {
	desc := &field.Descriptor{
		AggrKeys: []field.AggrKey{{Field: field.DstAddr, NetV4: 24, NetV6: 128}},
	}
	k1 := Key(desc, rec("10.0.0.1", 0, 0))
	k2 := Key(desc, rec("10.0.0.254", 0, 0))
	if k1 != k2 {
		t.Fatal("addresses in the same /24 must produce the same aggregation key")
	}
	k3 := Key(desc, rec("10.0.1.1", 0, 0))
	if k1 == k3 {
		t.Fatal("addresses in different /24s must produce different aggregation keys")
	}
}

func TestMemoryFree(t *testing.T) {
	desc := aggrDesc()
	m := New(desc, 0)
	m.Write(rec("10.0.0.1", 1, 1))
	m.Free()
	if m.Len() != 0 {
		t.Fatalf("got %d after Free, want 0", m.Len())
	}
}
