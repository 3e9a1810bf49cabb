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
	"golang.org/x/exp/slices"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
)

// sortMemory is the SORT-with-N>0 shape of spec.md §3: records are simply
// appended (no aggregation), and Sorted produces them in sort-key order on
// demand. There is no true aggregation key, so LookupRawByKey matches by
// the full encoded record bytes instead.
type sortMemory struct {
	desc *field.Descriptor
	recs []*flowrec.Record
}

func newSortMemory(desc *field.Descriptor, sizeHint int) *sortMemory {
	return &sortMemory{desc: desc, recs: make([]*flowrec.Record, 0, sizeHint)}
}

func (m *sortMemory) Write(rec *flowrec.Record) {
	cp := *rec
	m.recs = append(m.recs, &cp)
}

func (m *sortMemory) IterateRaw(fn func(*flowrec.Record) bool) {
	for _, r := range m.recs {
		if !fn(r) {
			return
		}
	}
}

func (m *sortMemory) LookupRawByKey(key string) (*flowrec.Record, bool) {
	for _, r := range m.recs {
		var buf [flowrec.EncodedLen]byte
		if string(r.Encode(buf[:0])) == key {
			return r, true
		}
	}
	return nil, false
}

func (m *sortMemory) Len() int { return len(m.recs) }

func (m *sortMemory) MergeThreads(others []Memory) {
	for _, o := range others {
		sm, ok := o.(*sortMemory)
		if !ok {
			continue
		}
		m.recs = append(m.recs, sm.recs...)
	}
}

func (m *sortMemory) Free() {
	m.recs = nil
}

// Sorted returns the stored records ordered by the descriptor's sort key,
// least-effort-first per spec.md §4.3: a stable sort so ties preserve
// insertion order, which in turn preserves each file's on-disk order.
func (m *sortMemory) Sorted() []*flowrec.Record {
	out := slices.Clone(m.recs)
	if m.desc.Sort == nil {
		return out
	}
	sortField := m.desc.Sort.Field
	asc := m.desc.Sort.Dir == field.Asc
	slices.SortStableFunc(out, func(a, b *flowrec.Record) bool {
		va, vb := sortValue(a, sortField), sortValue(b, sortField)
		if asc {
			return va < vb
		}
		return va > vb
	})
	return out
}

func sortValue(r *flowrec.Record, id field.ID) uint64 {
	if field.ByID(id).IsAddr() {
		addr := r.Addr(id)
		var v uint64
		for _, b := range addr {
			v = v<<8 | uint64(b)
		}
		return v
	}
	return r.Uint64(id)
}
