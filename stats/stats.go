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

// Package stats holds the summary counters spec.md §3/§4.3 folds from
// thread-private state into a worker-shared total, then reduces across
// the whole cluster to the coordinator: (flows, pkts, bytes) for records
// that passed the filter, plus the 15-counter metadata breakdown read
// from file headers.
package stats

import "github.com/CESNET/fdistdump-sub002/flowrec"

// Summary is one participant's (or, after Reduce, the whole cluster's)
// counters.
type Summary struct {
	ProcessedFlows uint64
	ProcessedPkts  uint64
	ProcessedBytes uint64
	Meta           flowrec.Header
}

// Add folds o into s in place (thread-private fold into a shared total,
// or local-into-cluster after a reduce).
func (s *Summary) Add(o Summary) {
	s.ProcessedFlows += o.ProcessedFlows
	s.ProcessedPkts += o.ProcessedPkts
	s.ProcessedBytes += o.ProcessedBytes
	s.Meta.FlowsTotal += o.Meta.FlowsTotal
	s.Meta.PktsTotal += o.Meta.PktsTotal
	s.Meta.BytesTotal += o.Meta.BytesTotal
	s.Meta.FlowsTCP += o.Meta.FlowsTCP
	s.Meta.PktsTCP += o.Meta.PktsTCP
	s.Meta.BytesTCP += o.Meta.BytesTCP
	s.Meta.FlowsUDP += o.Meta.FlowsUDP
	s.Meta.PktsUDP += o.Meta.PktsUDP
	s.Meta.BytesUDP += o.Meta.BytesUDP
	s.Meta.FlowsICMP += o.Meta.FlowsICMP
	s.Meta.PktsICMP += o.Meta.PktsICMP
	s.Meta.BytesICMP += o.Meta.BytesICMP
	s.Meta.FlowsOther += o.Meta.FlowsOther
	s.Meta.PktsOther += o.Meta.PktsOther
	s.Meta.BytesOther += o.Meta.BytesOther
}

// AddRecordPassingFilter folds one filter-passing record into the
// processed counters (spec.md §3's "(flows, pkts, bytes) for the subset
// that passed the filter": one flow, its packet count, its byte count).
func (s *Summary) AddRecordPassingFilter(rec *flowrec.Record) {
	s.ProcessedFlows++
	s.ProcessedPkts += rec.Packets
	s.ProcessedBytes += rec.Bytes
}

// AddFileHeader folds one flow file's header into the metadata counters.
func (s *Summary) AddFileHeader(h flowrec.Header) {
	s.Meta.FlowsTotal += h.FlowsTotal
	s.Meta.PktsTotal += h.PktsTotal
	s.Meta.BytesTotal += h.BytesTotal
	s.Meta.FlowsTCP += h.FlowsTCP
	s.Meta.PktsTCP += h.PktsTCP
	s.Meta.BytesTCP += h.BytesTCP
	s.Meta.FlowsUDP += h.FlowsUDP
	s.Meta.PktsUDP += h.PktsUDP
	s.Meta.BytesUDP += h.BytesUDP
	s.Meta.FlowsICMP += h.FlowsICMP
	s.Meta.PktsICMP += h.PktsICMP
	s.Meta.BytesICMP += h.BytesICMP
	s.Meta.FlowsOther += h.FlowsOther
	s.Meta.PktsOther += h.PktsOther
	s.Meta.BytesOther += h.BytesOther
}

// ToUint64s flattens s into the fixed uint64[3]+uint64[15] layout
// spec.md §8 names for the summary reduce, in the same field order
// flowrec.Header.encode uses for its 15 counters.
func (s *Summary) ToUint64s() []uint64 {
	return []uint64{
		s.ProcessedFlows, s.ProcessedPkts, s.ProcessedBytes,
		s.Meta.FlowsTotal, s.Meta.PktsTotal, s.Meta.BytesTotal,
		s.Meta.FlowsTCP, s.Meta.PktsTCP, s.Meta.BytesTCP,
		s.Meta.FlowsUDP, s.Meta.PktsUDP, s.Meta.BytesUDP,
		s.Meta.FlowsICMP, s.Meta.PktsICMP, s.Meta.BytesICMP,
		s.Meta.FlowsOther, s.Meta.PktsOther, s.Meta.BytesOther,
	}
}

// FromUint64s is the inverse of ToUint64s, used by the coordinator to
// decode the totals a Transport.Reduce call returns.
func FromUint64s(v []uint64) Summary {
	if len(v) < 18 {
		return Summary{}
	}
	return Summary{
		ProcessedFlows: v[0], ProcessedPkts: v[1], ProcessedBytes: v[2],
		Meta: flowrec.Header{
			FlowsTotal: v[3], PktsTotal: v[4], BytesTotal: v[5],
			FlowsTCP: v[6], PktsTCP: v[7], BytesTCP: v[8],
			FlowsUDP: v[9], PktsUDP: v[10], BytesUDP: v[11],
			FlowsICMP: v[12], PktsICMP: v[13], BytesICMP: v[14],
			FlowsOther: v[15], PktsOther: v[16], BytesOther: v[17],
		},
	}
}
