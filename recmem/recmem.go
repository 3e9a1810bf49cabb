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

// Package recmem is the Record Memory Adapter of spec.md §3/§9: a thin
// wrapper over an in-memory record store, shaped either as a hash table
// (aggregation) or a sort-only list (plain SORT with a bounded limit).
// It is an external mutable collaborator: the worker and coordinator
// packages only ever see it through the Memory interface below, never
// through either implementation's internals.
package recmem

import (
	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
)

// Memory is the narrow surface spec.md §9 calls for: Write, IterateRaw,
// LookupRawByKey, MergeThreads, Free. Both the hash-aggregation and the
// sort-only shapes implement it identically so worker/coordinator code
// never has to branch on which one it was handed.
type Memory interface {
	// Write inserts rec, combining it into an existing aggregation bucket
	// when one exists (aggregation memory) or simply appending it
	// (sort-only memory).
	Write(rec *flowrec.Record)

	// IterateRaw calls fn once per stored record in unspecified order,
	// stopping early if fn returns false.
	IterateRaw(fn func(*flowrec.Record) bool)

	// LookupRawByKey finds the record matching key, the same key encoding
	// Key produces from a record's aggregation fields. It is used by the
	// TPUT key-lookup phase (spec.md §4.5 phase 3) to resolve a
	// coordinator-broadcast candidate key against a worker's local memory
	// without scanning the whole table.
	LookupRawByKey(key string) (*flowrec.Record, bool)

	// Len reports the number of distinct records currently stored.
	Len() int

	// MergeThreads folds the contents of others into the receiver,
	// combining aggregation buckets that collide on key. It is how a
	// worker folds its per-goroutine thread-local memories into the one
	// shared memory after the parallel file loop (spec.md §3 step 5).
	MergeThreads(others []Memory)

	// Free releases the backing storage. Safe to call on an already-freed
	// Memory.
	Free()
}

// New constructs the memory shape spec.md §3 step 2 calls for: hash-table
// aggregation when desc has aggregation keys, otherwise a sort-only list.
// sizeHint is an optional pre-allocation hint (0 is fine).
func New(desc *field.Descriptor, sizeHint int) Memory {
	if desc.IsAggregation() {
		return newHashMemory(desc, sizeHint)
	}
	return newSortMemory(desc, sizeHint)
}

// Key encodes a record's aggregation-key fields (masked per each AggrKey's
// netmask/alignment) into a byte string suitable both as a Go map key and
// as the siphash input the hash-aggregation memory hashes for bucketing.
// It is exported so the TPUT key-lookup phase (worker/coordinator) can
// build the same key a coordinator-broadcast candidate implies and hand it
// to LookupRawByKey.
func Key(desc *field.Descriptor, rec *flowrec.Record) string {
	buf := make([]byte, 0, 16*len(desc.AggrKeys))
	for _, k := range desc.AggrKeys {
		def := field.ByID(k.Field)
		if def.IsAddr() {
			addr := rec.Addr(k.Field)
			masked := maskAddr(addr, k.NetV4, k.NetV6)
			buf = append(buf, masked[:]...)
			continue
		}
		v := rec.Uint64(k.Field)
		if k.Align > 1 {
			v -= v % k.Align
		}
		buf = appendUint64(buf, v)
	}
	return string(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// maskAddr zeroes the host bits of a 16-byte canonical address per the
// field's netmask lengths. addr is always in the IPv4-mapped-IPv6
// canonical form flowrec.CanonicalizeIP produces, so an IPv4 address's
// real bits start at byte 12 (bit 96); netV4 is translated accordingly,
// mirroring filter.canonicalMaskBits's reasoning for the same ambiguity.
func maskAddr(addr [16]byte, netV4, netV6 int) [16]byte {
	isV4Mapped := addr[10] == 0xff && addr[11] == 0xff
	for i := 0; i < 10; i++ {
		if addr[i] != 0 {
			isV4Mapped = false
			break
		}
	}
	bits := netV6
	if isV4Mapped {
		bits = 96 + netV4
	}
	if bits >= 128 {
		return addr
	}
	if bits <= 0 {
		return [16]byte{}
	}
	out := addr
	fullBytes := bits / 8
	remBits := bits % 8
	clearFrom := fullBytes
	if remBits > 0 {
		out[fullBytes] &= byte(0xff << (8 - remBits))
		clearFrom = fullBytes + 1
	}
	for i := clearFrom; i < 16; i++ {
		out[i] = 0
	}
	return out
}
