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

// Package bfindex builds and evaluates the bloom-index predicate tree of
// spec.md §4.2: a reduced boolean tree over address-equality leaves,
// derived from a compiled filter.Filter, used to skip whole flow files
// whose bloom-filter index proves they cannot contain a match.
package bfindex

import (
	"github.com/CESNET/fdistdump-sub002/filter"
	"github.com/CESNET/fdistdump-sub002/flowrec"
)

// MaxLeaves is the cap on address leaves per tree (spec.md §3); exceeding
// it discards the tree rather than building a partial one.
const MaxLeaves = 20

// Kind distinguishes the node shapes of the tree.
type Kind int

const (
	KindAnd Kind = iota
	KindOr
	KindV4
	KindV6
)

// Node is one node of the bloom-index predicate tree. Leaves
// (KindV4/KindV6) carry Addr; interior nodes (KindAnd/KindOr) carry
// Children. The tree is an owned DAG with no sharing: Build never
// produces two pointers to the same Node, so Go's garbage collector frees
// a collapsed duplicate branch exactly the way spec.md §9 describes (no
// manual reference counting needed in this language).
type Node struct {
	Kind     Kind
	Addr     [16]byte // meaningful only for KindV4/KindV6
	Children []*Node  // meaningful only for KindAnd/KindOr
}

// Tree is a built predicate, ready for Evaluate.
type Tree struct {
	Root *Node
}

// Build compiles root (normally a filter.Filter's Root) into a bloom-index
// predicate tree. It returns ok=false ("no tree") when:
//
//   - any node is not AND, OR, or an address equality leaf,
//   - an address leaf carries a netmask (spec.md: "no netmask" required),
//   - the comparison isn't "==",
//   - more than MaxLeaves address leaves would result.
//
// A false result means indexing is simply turned off for this query; it
// is never an error.
func Build(root filter.Node) (*Tree, bool) {
	n, leaves, ok := build(root)
	if !ok || leaves > MaxLeaves {
		return nil, false
	}
	n = prune(n)
	if n == nil {
		return nil, false
	}
	return &Tree{Root: n}, true
}

func build(fn filter.Node) (*Node, int, bool) {
	switch v := fn.(type) {
	case *filter.And:
		return buildJunction(KindAnd, v.Children)
	case *filter.Or:
		return buildJunction(KindOr, v.Children)
	case *filter.Cmp:
		return buildLeaf(v)
	default:
		// filter.Not (or any future node kind) has no analogue in
		// the {AND, OR, V4, V6} node set: discard the whole tree.
		return nil, 0, false
	}
}

func buildJunction(kind Kind, children []filter.Node) (*Node, int, bool) {
	n := &Node{Kind: kind}
	total := 0
	for _, c := range children {
		cn, leaves, ok := build(c)
		if !ok {
			return nil, 0, false
		}
		total += leaves
		if cn != nil {
			n.Children = append(n.Children, cn)
		}
	}
	return n, total, true
}

func buildLeaf(c *filter.Cmp) (*Node, int, bool) {
	if c.Op != filter.Eq || c.Mask >= 0 {
		return nil, 0, false
	}
	if c.IP == nil {
		return nil, 0, false
	}
	var n Node
	if c.IP.To4() != nil {
		n.Kind = KindV4
	} else {
		n.Kind = KindV6
	}
	n.Addr = flowrec.CanonicalizeIP(c.IP)
	return &n, 1, true
}

// prune applies the bottom-up rules of spec.md §3: an operator with no
// children is removed, an operator with one child becomes that child, and
// an operator with two identical address-literal children collapses to
// one. It returns nil if the whole tree prunes away to nothing.
func prune(n *Node) *Node {
	if n == nil {
		return nil
	}
	if n.Kind != KindAnd && n.Kind != KindOr {
		return n
	}
	var kept []*Node
	for _, c := range n.Children {
		pc := prune(c)
		if pc != nil {
			kept = append(kept, pc)
		}
	}
	kept = collapseIdenticalPairs(kept)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		n.Children = kept
		return n
	}
}

// collapseIdenticalPairs removes duplicate identical address-literal
// children (the two-identical-children collapse rule generalized to the
// case of more than two children, which the source algorithm only needed
// pairwise for).
func collapseIdenticalPairs(children []*Node) []*Node {
	var out []*Node
	for _, c := range children {
		dup := false
		if c.Kind == KindV4 || c.Kind == KindV6 {
			for _, existing := range out {
				if existing.Kind == c.Kind && existing.Addr == c.Addr {
					dup = true
					break
				}
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}
