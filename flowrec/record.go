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

// Package flowrec plays the role of spec.md's "external record library":
// it owns the flow-record representation, its on-disk file format, and
// wire (de)serialization. The core engine (worker, coordinator, recmem)
// only depends on the narrow Record/Reader/Writer surface this package
// exposes, never on the file format itself.
package flowrec

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/CESNET/fdistdump-sub002/field"
)

// MaxRecordLen is the maximum raw record length, per spec.md §3.
const MaxRecordLen = 1 << 20

// Record is one flow summary. All fields are always present; callers only
// consult the subset named by a query's fields descriptor.
type Record struct {
	SrcAddr  [16]byte
	DstAddr  [16]byte
	SrcPort  uint16
	DstPort  uint16
	Proto    uint8
	TCPFlags uint8
	Packets  uint64
	Bytes    uint64
	First    uint64
	Last     uint64
}

// EncodedLen is the fixed wire size of a Record, excluding the 32-bit
// length prefix spec.md §6 specifies for every record on the wire.
const EncodedLen = 16 + 16 + 2 + 2 + 1 + 1 + 8 + 8 + 8 + 8

// Uint64 returns the value of a numeric field.
func (r *Record) Uint64(id field.ID) uint64 {
	switch id {
	case field.SrcPort:
		return uint64(r.SrcPort)
	case field.DstPort:
		return uint64(r.DstPort)
	case field.Proto:
		return uint64(r.Proto)
	case field.TCPFlags:
		return uint64(r.TCPFlags)
	case field.Packets:
		return r.Packets
	case field.Bytes:
		return r.Bytes
	case field.First:
		return r.First
	case field.Last:
		return r.Last
	default:
		panic(fmt.Sprintf("flowrec: field %v is not numeric", field.ByID(id).Name))
	}
}

// SetUint64 sets the value of a numeric field.
func (r *Record) SetUint64(id field.ID, v uint64) {
	switch id {
	case field.SrcPort:
		r.SrcPort = uint16(v)
	case field.DstPort:
		r.DstPort = uint16(v)
	case field.Proto:
		r.Proto = uint8(v)
	case field.TCPFlags:
		r.TCPFlags = uint8(v)
	case field.Packets:
		r.Packets = v
	case field.Bytes:
		r.Bytes = v
	case field.First:
		r.First = v
	case field.Last:
		r.Last = v
	default:
		panic(fmt.Sprintf("flowrec: field %v is not numeric", field.ByID(id).Name))
	}
}

// Addr returns the value of an address field, already canonicalized to a
// 16-byte IPv4-mapped-IPv6 form when the underlying address is IPv4 (see
// CanonicalizeIP and SPEC_FULL.md Open Question (b)).
func (r *Record) Addr(id field.ID) [16]byte {
	switch id {
	case field.SrcAddr:
		return r.SrcAddr
	case field.DstAddr:
		return r.DstAddr
	default:
		panic(fmt.Sprintf("flowrec: field %v is not an address", field.ByID(id).Name))
	}
}

// SetAddr sets an address field from a net.IP, canonicalizing it first.
func (r *Record) SetAddr(id field.ID, ip net.IP) {
	b := CanonicalizeIP(ip)
	switch id {
	case field.SrcAddr:
		r.SrcAddr = b
	case field.DstAddr:
		r.DstAddr = b
	default:
		panic(fmt.Sprintf("flowrec: field %v is not an address", field.ByID(id).Name))
	}
}

// CanonicalizeIP converts ip to the 16-byte IPv4-mapped IPv6 form used
// throughout the engine, resolving Open Question (b) of spec.md §9: the
// index library's leaf lookup always receives a full 16-byte buffer with a
// well-defined IPv4 encoding rather than relying on undocumented
// high-byte truncation behavior.
func CanonicalizeIP(ip net.IP) [16]byte {
	var out [16]byte
	if v4 := ip.To4(); v4 != nil {
		copy(out[:10], []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
		out[10] = 0xff
		out[11] = 0xff
		copy(out[12:], v4)
		return out
	}
	copy(out[:], ip.To16())
	return out
}

// Encode appends the wire form of r (fixed-width, no length prefix) to buf.
func (r *Record) Encode(buf []byte) []byte {
	var tmp [EncodedLen]byte
	off := 0
	off += copy(tmp[off:], r.SrcAddr[:])
	off += copy(tmp[off:], r.DstAddr[:])
	binary.LittleEndian.PutUint16(tmp[off:], r.SrcPort)
	off += 2
	binary.LittleEndian.PutUint16(tmp[off:], r.DstPort)
	off += 2
	tmp[off] = r.Proto
	off++
	tmp[off] = r.TCPFlags
	off++
	binary.LittleEndian.PutUint64(tmp[off:], r.Packets)
	off += 8
	binary.LittleEndian.PutUint64(tmp[off:], r.Bytes)
	off += 8
	binary.LittleEndian.PutUint64(tmp[off:], r.First)
	off += 8
	binary.LittleEndian.PutUint64(tmp[off:], r.Last)
	return append(buf, tmp[:]...)
}

// Decode reads one record from the front of buf, returning the remainder.
func Decode(buf []byte) (Record, []byte, error) {
	if len(buf) < EncodedLen {
		return Record{}, buf, fmt.Errorf("flowrec: short record: %d < %d", len(buf), EncodedLen)
	}
	var r Record
	off := 0
	copy(r.SrcAddr[:], buf[off:off+16])
	off += 16
	copy(r.DstAddr[:], buf[off:off+16])
	off += 16
	r.SrcPort = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	r.DstPort = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	r.Proto = buf[off]
	off++
	r.TCPFlags = buf[off]
	off++
	r.Packets = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.Bytes = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.First = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.Last = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	return r, buf[off:], nil
}

// AppendLenPrefixed appends a record to buf in the spec.md §6 wire form:
// uint32 little-endian length, then the record bytes.
func AppendLenPrefixed(buf []byte, r *Record) []byte {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(EncodedLen))
	buf = append(buf, lenbuf[:]...)
	return r.Encode(buf)
}

// DecodeLenPrefixed reads one length-prefixed record from the front of buf.
func DecodeLenPrefixed(buf []byte) (Record, []byte, error) {
	if len(buf) < 4 {
		return Record{}, buf, fmt.Errorf("flowrec: short length prefix")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < n || n > MaxRecordLen {
		return Record{}, buf, fmt.Errorf("flowrec: invalid record length %d", n)
	}
	rec, _, err := Decode(buf[:n])
	if err != nil {
		return Record{}, buf, err
	}
	return rec, buf[n:], nil
}
