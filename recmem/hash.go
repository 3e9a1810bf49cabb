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
	"github.com/dchest/siphash"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
)

// hashKey0/hashKey1 are the process-wide siphash keys used to fingerprint
// aggregation keys. They only need to be stable within one process's
// lifetime since fingerprints never cross the wire.
const (
	hashKey0 = 0x9ae16a3b2f90404f
	hashKey1 = 0xc2b2ae3d27d4eb4f
)

// bucket holds the raw aggregation key alongside its record, so a table
// keyed by the cheap fixed-size fingerprint can still recover the exact
// key for LookupRawByKey and can detect the (cryptographically negligible)
// case of a fingerprint collision between two distinct keys.
type bucket struct {
	key string
	rec *flowrec.Record
}

// hashMemory is the aggregation shape: a table keyed by a 128-bit siphash
// fingerprint of the encoded aggrKeys string, combining output fields with
// each key's AggrFunc on collision.
type hashMemory struct {
	desc  *field.Descriptor
	table map[[2]uint64]*bucket
}

func newHashMemory(desc *field.Descriptor, sizeHint int) *hashMemory {
	return &hashMemory{
		desc:  desc,
		table: make(map[[2]uint64]*bucket, sizeHint),
	}
}

func fingerprint(key string) [2]uint64 {
	b := []byte(key)
	return [2]uint64{siphash.Hash(hashKey0, hashKey1, b), siphash.Hash(hashKey1, hashKey0, b)}
}

func (m *hashMemory) combine(existing, rec *flowrec.Record) {
	for _, o := range m.desc.OutputFields {
		existing.SetUint64(o.Field, o.Func.Combine(existing.Uint64(o.Field), rec.Uint64(o.Field)))
	}
}

func (m *hashMemory) Write(rec *flowrec.Record) {
	key := Key(m.desc, rec)
	fp := fingerprint(key)
	if b, ok := m.table[fp]; ok && b.key == key {
		m.combine(b.rec, rec)
		return
	}
	cp := *rec
	m.table[fp] = &bucket{key: key, rec: &cp}
}

func (m *hashMemory) IterateRaw(fn func(*flowrec.Record) bool) {
	for _, b := range m.table {
		if !fn(b.rec) {
			return
		}
	}
}

func (m *hashMemory) LookupRawByKey(key string) (*flowrec.Record, bool) {
	b, ok := m.table[fingerprint(key)]
	if !ok || b.key != key {
		return nil, false
	}
	return b.rec, true
}

func (m *hashMemory) Len() int { return len(m.table) }

func (m *hashMemory) MergeThreads(others []Memory) {
	for _, o := range others {
		hm, ok := o.(*hashMemory)
		if !ok {
			continue
		}
		for fp, b := range hm.table {
			existing, ok := m.table[fp]
			if !ok {
				m.table[fp] = b
				continue
			}
			m.combine(existing.rec, b.rec)
		}
	}
}

func (m *hashMemory) Free() {
	m.table = nil
}
