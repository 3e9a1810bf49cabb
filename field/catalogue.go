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

// Package field holds the fixed flow-record field catalogue and the
// fields-descriptor types that a task descriptor carries (spec.md §3).
package field

// Type is the wire/in-memory representation of a field's value.
type Type int

const (
	TypeUint64 Type = iota
	TypeUint32
	TypeUint16
	TypeUint8
	TypeIPAddr // 16-byte, IPv4 addresses canonicalized to IPv4-mapped IPv6
)

// Catalogue entry: every field known to the engine has a stable ID, a
// type, and a size in bytes. Unlike the external record library itself,
// this catalogue is part of the core: it is what the fields descriptor,
// the aggregation hash table, and the bloom-index builder all key off of.
type Def struct {
	ID   ID
	Name string
	Type Type
	Size int // bytes
}

// ID identifies a field in the catalogue.
type ID int

const (
	SrcAddr ID = iota
	DstAddr
	SrcPort
	DstPort
	Proto
	TCPFlags
	Packets
	Bytes
	First // first-seen timestamp, ms since epoch
	Last  // last-seen timestamp, ms since epoch
	numFields
)

var catalogue = [numFields]Def{
	SrcAddr:  {SrcAddr, "srcip", TypeIPAddr, 16},
	DstAddr:  {DstAddr, "dstip", TypeIPAddr, 16},
	SrcPort:  {SrcPort, "srcport", TypeUint16, 2},
	DstPort:  {DstPort, "dstport", TypeUint16, 2},
	Proto:    {Proto, "proto", TypeUint8, 1},
	TCPFlags: {TCPFlags, "tcpflags", TypeUint8, 1},
	Packets:  {Packets, "packets", TypeUint64, 8},
	Bytes:    {Bytes, "bytes", TypeUint64, 8},
	First:    {First, "first", TypeUint64, 8},
	Last:     {Last, "last", TypeUint64, 8},
}

// Lookup returns the catalogue entry for name, if any.
func Lookup(name string) (Def, bool) {
	for i := range catalogue {
		if catalogue[i].Name == name {
			return catalogue[i], true
		}
	}
	return Def{}, false
}

// ByID returns the catalogue entry for id.
func ByID(id ID) Def {
	return catalogue[id]
}

// IsAddr reports whether id refers to an address-typed field; this is the
// distinction the bloom-index builder (package bfindex) needs to decide
// whether an equality test is indexable.
func (d Def) IsAddr() bool { return d.Type == TypeIPAddr }
