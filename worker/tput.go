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
	"encoding/binary"

	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/recmem"
	"github.com/CESNET/fdistdump-sub002/transport"
)

// runTPUT is the worker side of the three-phase exact distributed top-N
// protocol of spec.md §4.5. mem is this worker's full aggregation memory,
// already merged from every file-loop thread.
func (e *engine) runTPUT(mem recmem.Memory) error {
	sortKey := e.task.Fields.Sort
	n := int(e.task.Limit)

	// sorted is this worker's whole shard in sort-key order; phase 1 takes
	// its head, phase 2 takes a (possibly longer) threshold-qualifying
	// prefix of the same slice.
	sorted := recmem.TopN(mem, sortKey, 0)

	local1 := sorted
	if n > 0 && n < len(local1) {
		local1 = local1[:n]
	}
	if err := e.sendBatchAndSentinel(transport.TagTPUT1, local1); err != nil {
		return err
	}

	thrBuf, err := e.broadcastStruct(make([]byte, 8))
	if err != nil {
		return err
	}
	threshold := binary.LittleEndian.Uint64(thrBuf)

	asc := sortKey.Dir == field.Asc
	prefixLen := 0
	for _, r := range sorted {
		v := r.Uint64(sortKey.Field)
		ok := v >= threshold
		if asc {
			ok = v <= threshold
		}
		if !ok {
			break
		}
		prefixLen++
	}
	if err := e.sendBatchAndSentinel(transport.TagTPUT2, sorted[:prefixLen]); err != nil {
		return err
	}

	keysBuf, err := e.broadcastBlock(nil)
	if err != nil {
		return err
	}
	matched, err := lookupKeys(mem, keysBuf)
	if err != nil {
		return err
	}
	return e.sendBatchAndSentinel(transport.TagTPUT3, matched)
}

// lookupKeys decodes the phase-3 candidate key batch and resolves each
// key against mem, per spec.md §4.5 phase 3's lookupRawByKey step.
func lookupKeys(mem recmem.Memory, buf []byte) ([]*flowrec.Record, error) {
	keys, err := recmem.DecodeKeys(buf)
	if err != nil {
		return nil, err
	}
	var out []*flowrec.Record
	for _, key := range keys {
		if r, ok := mem.LookupRawByKey(key); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *engine) broadcastStruct(buf []byte) ([]byte, error) {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	out, err := e.ctx.Data.BroadcastStruct(buf)
	if err != nil {
		return nil, ferrors.New(ferrors.KindTransport, err)
	}
	return out, nil
}

func (e *engine) broadcastBlock(buf []byte) ([]byte, error) {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	out, err := e.ctx.Data.BroadcastBlock(buf)
	if err != nil {
		return nil, ferrors.New(ferrors.KindTransport, err)
	}
	return out, nil
}
