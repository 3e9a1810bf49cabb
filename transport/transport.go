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

// Package transport is the rank-addressed, tagged messaging layer of
// spec.md §5: collectives (Broadcast, Reduce, Gather) plus point-to-point
// tagged sends with a zero-length sentinel terminator, over two logically
// independent channels (data and progress). The engine (worker,
// coordinator) only ever depends on the Transport interface, never on a
// concrete implementation, so it can run identically over the real TCP
// transport or the in-process mock used by tests.
package transport

import (
	"fmt"
)

// Tag identifies a logical stream of point-to-point messages, per spec.md
// §5's fixed tag set.
type Tag uint8

const (
	TagList Tag = iota
	TagSort
	TagAggr
	TagTPUT1
	TagTPUT2
	TagTPUT3
	TagStats
	TagProgress
)

func (t Tag) String() string {
	switch t {
	case TagList:
		return "LIST"
	case TagSort:
		return "SORT"
	case TagAggr:
		return "AGGR"
	case TagTPUT1:
		return "TPUT1"
	case TagTPUT2:
		return "TPUT2"
	case TagTPUT3:
		return "TPUT3"
	case TagStats:
		return "STATS"
	case TagProgress:
		return "PROGRESS"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Message is one point-to-point data blob, with optional flate compression
// applied by the sender (spec.md's klauspost/compress wiring in
// SPEC_FULL.md Section B). A Message with Sentinel set carries no payload:
// it is the zero-length terminator spec.md §5 requires, one per sender on
// a tag.
type Message struct {
	Payload    []byte
	Compressed bool
	Sentinel   bool
}

// Transport is the minimal collective + point-to-point interface spec.md
// §9's design notes call for, so the engine can run over a mock transport
// in tests. Coordinator is rank 0; SendTagged/RecvTaggedAny only ever run
// between a worker and the coordinator, never between two workers, since
// every task in spec.md funnels data through rank 0.
type Transport interface {
	// Rank returns this participant's rank (0 is the coordinator).
	Rank() int
	// WorldSize returns the total number of participants, >= 2.
	WorldSize() int

	// BroadcastStruct broadcasts a fixed-size buffer from rank 0 to every
	// other rank. The caller on rank 0 passes the value to send; every
	// rank gets the broadcast bytes as the return value. A non-root
	// caller's buf is not written to.
	BroadcastStruct(buf []byte) ([]byte, error)

	// BroadcastBlock broadcasts a length-prefixed, variable-length byte
	// block from rank 0. Non-root callers should pass nil; the received
	// bytes are returned to every rank including rank 0.
	BroadcastBlock(data []byte) ([]byte, error)

	// Reduce sums local element-wise into rank 0 and returns the totals
	// there; non-root ranks get a nil slice and no error.
	Reduce(local []uint64) ([]uint64, error)

	// Gather collects one uint64 per rank into rank 0, indexed by rank;
	// non-root ranks get a nil slice and no error.
	Gather(v uint64) ([]uint64, error)

	// SendTagged sends msg to dest on tag. A worker's dest must be 0; the
	// coordinator's dest may be any worker rank.
	SendTagged(tag Tag, dest int, msg Message) error

	// SendSentinel sends the zero-length terminator for tag to dest.
	SendSentinel(tag Tag, dest int) error

	// RecvTaggedAny blocks for the next message on tag from any source,
	// returning the sender's rank alongside the message. A worker only
	// ever receives from rank 0; the coordinator receives from any
	// worker. Callers distinguish a sentinel from a data message via
	// Message.Sentinel, and must count one sentinel per expected sender
	// before considering the stream on tag complete.
	RecvTaggedAny(tag Tag) (src int, msg Message, err error)

	// DupChannel returns a second Transport, logically independent of
	// the receiver, standing in for spec.md §5's "one channel for data,
	// one for progress" requirement.
	DupChannel() (Transport, error)

	// Abort tears down the whole cluster's transport in response to a
	// fatal TRANSPORT-kind error (spec.md §7), unblocking any peer
	// stuck in a collective. A RecvTaggedAny call that is already blocked
	// waiting for a message is not unblocked.
	Abort(cause error) error

	// Close releases this transport's resources. Safe to call more than
	// once.
	Close() error
}
