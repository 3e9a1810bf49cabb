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

package bfindex

// Evaluate short-circuit recurses AND/OR over leaf membership tests
// against idx. A nil tree (or nil idx) conservatively returns true: the
// caller should simply not call Evaluate when it has no tree or no index,
// but we keep this defensive per spec.md §4.2's "false negatives must be
// impossible" rule.
func Evaluate(t *Tree, idx *IndexFile) bool {
	if t == nil || t.Root == nil || idx == nil {
		return true
	}
	return evalNode(t.Root, idx)
}

func evalNode(n *Node, idx *IndexFile) bool {
	switch n.Kind {
	case KindAnd:
		for _, c := range n.Children {
			if !evalNode(c, idx) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range n.Children {
			if evalNode(c, idx) {
				return true
			}
		}
		return false
	case KindV4, KindV6:
		return idx.Contains(n.Addr)
	default:
		// INTERNAL: unknown node kind reached at evaluation time.
		return true
	}
}
