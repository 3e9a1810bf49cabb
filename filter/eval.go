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

package filter

import (
	"bytes"
	"net"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
)

// Eval reports whether rec satisfies f. A nil *Filter always matches.
func (f *Filter) Eval(rec *flowrec.Record) bool {
	if f == nil {
		return true
	}
	return evalNode(f.Root, rec)
}

func evalNode(n Node, rec *flowrec.Record) bool {
	switch v := n.(type) {
	case *And:
		for _, c := range v.Children {
			if !evalNode(c, rec) {
				return false
			}
		}
		return true
	case *Or:
		for _, c := range v.Children {
			if evalNode(c, rec) {
				return true
			}
		}
		return false
	case *Not:
		return !evalNode(v.Child, rec)
	case *Cmp:
		return evalCmp(v, rec)
	default:
		panic("filter: unknown node type")
	}
}

func evalCmp(c *Cmp, rec *flowrec.Record) bool {
	def, ok := field.Lookup(c.Field)
	if !ok {
		return false
	}
	if def.IsAddr() {
		return evalAddrCmp(c, rec, def.ID)
	}
	return evalNumCmp(c, rec.Uint64(def.ID))
}

func evalAddrCmp(c *Cmp, rec *flowrec.Record, id field.ID) bool {
	recAddr := rec.Addr(id)
	want := flowrec.CanonicalizeIP(c.IP)
	switch c.Op {
	case Eq, Ne:
		var eq bool
		if c.Mask < 0 {
			eq = recAddr == want
		} else {
			eq = addrInNetwork(recAddr, want, canonicalMaskBits(c.IP, c.Mask))
		}
		if c.Op == Eq {
			return eq
		}
		return !eq
	default:
		// ordering comparisons on addresses are not meaningful;
		// Compile rejects them, so this branch is only defensive.
		return bytes.Compare(recAddr[:], want[:]) != 0
	}
}

// addrInNetwork reports whether addr falls within the network formed by
// masking want to its first bits high-order bits. bits is interpreted
// against the 128-bit canonical form (so an IPv4 /24 is bits=120).
func addrInNetwork(addr, want [16]byte, bits int) bool {
	if bits > 128 {
		bits = 128
	}
	if bits < 0 {
		bits = 0
	}
	full := bits / 8
	for i := 0; i < full; i++ {
		if addr[i] != want[i] {
			return false
		}
	}
	rem := bits % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xff << (8 - rem))
	return addr[full]&mask == want[full]&mask
}

// canonicalMaskBits translates a netmask the user wrote against the
// literal's own address family (e.g. /24 against a dotted-quad IPv4
// literal) into a bit count against the 128-bit canonical IPv4-mapped-IPv6
// form records are stored in (see flowrec.CanonicalizeIP).
func canonicalMaskBits(lit net.IP, mask int) int {
	if lit.To4() != nil {
		if mask > 32 {
			mask = 32
		}
		return 96 + mask
	}
	if mask > 128 {
		mask = 128
	}
	return mask
}

func evalNumCmp(c *Cmp, v uint64) bool {
	switch c.Op {
	case Eq:
		return v == c.Num
	case Ne:
		return v != c.Num
	case Lt:
		return v < c.Num
	case Le:
		return v <= c.Num
	case Gt:
		return v > c.Num
	case Ge:
		return v >= c.Num
	default:
		return false
	}
}
