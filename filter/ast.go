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

// Package filter is the "filter expression compiler" spec.md §6 names as
// an external collaborator: it owns the small predicate language queries
// are expressed in, its AST, compilation, and evaluation against a
// flowrec.Record. bfindex.Build walks the same AST to derive a
// bloom-index predicate tree.
package filter

import "net"

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "?"
	}
}

// Node is a filter AST node.
type Node interface {
	isNode()
}

// And is a conjunction of two or more children.
type And struct{ Children []Node }

// Or is a disjunction of two or more children.
type Or struct{ Children []Node }

// Not negates its single child.
type Not struct{ Child Node }

// Cmp is a leaf comparison between a field and a literal value.
//
// Exactly one of IP/Mask or Num is meaningful, selected by whether the
// named field is address-typed (see field.Def.IsAddr).
type Cmp struct {
	Field string
	Op    Op

	IP   net.IP // set when the field is address-typed
	Mask int    // network length in bits; -1 means "no mask" (exact address)

	Num uint64 // set when the field is numeric
}

func (*And) isNode() {}
func (*Or) isNode()  {}
func (*Not) isNode() {}
func (*Cmp) isNode() {}
