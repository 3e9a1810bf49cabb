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

package recmem

import (
	"golang.org/x/exp/slices"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
)

// TopN reads every record out of mem (whichever concrete shape it is) and
// returns them ordered by key, truncated to the first n. n<=0 means
// "no truncation, return every record sorted". A nil key leaves the
// records in mem's native iteration order.
//
// This is the one sort entry point both the worker's TPUT phases and the
// coordinator's post-processing (spec.md §4.4/§4.5) share, so a candidate
// list coming out of a hash-aggregation memory and one coming out of a
// sort-only memory are ordered identically.
func TopN(mem Memory, key *field.SortKey, n int) []*flowrec.Record {
	var out []*flowrec.Record
	mem.IterateRaw(func(r *flowrec.Record) bool {
		out = append(out, r)
		return true
	})
	if key != nil {
		asc := key.Dir == field.Asc
		slices.SortStableFunc(out, func(a, b *flowrec.Record) bool {
			va, vb := sortValue(a, key.Field), sortValue(b, key.Field)
			if asc {
				return va < vb
			}
			return va > vb
		})
	}
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
