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

package field

import "github.com/CESNET/fdistdump-sub002/ferrors"

// AggrFunc is the combining function applied to an output field when
// aggregation is in effect.
type AggrFunc int

const (
	Min AggrFunc = iota
	Max
	Sum
	Or
)

func (f AggrFunc) String() string {
	switch f {
	case Min:
		return "min"
	case Max:
		return "max"
	case Sum:
		return "sum"
	case Or:
		return "or"
	default:
		return "?"
	}
}

// Combine folds b into a according to f.
func (f AggrFunc) Combine(a, b uint64) uint64 {
	switch f {
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	case Sum:
		return a + b
	case Or:
		return a | b
	default:
		return a
	}
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// AggrKey is one field in the aggregation key (spec.md §3). Netmask
// lengths only apply to address fields; Align is the value alignment used
// for 64-bit numeric fields (time bucketing): the value is rounded down to
// a multiple of Align, e.g. Align=1000 buckets a
// millisecond timestamp into whole seconds.
type AggrKey struct {
	Field   ID
	NetV4   int // 0-32, only meaningful for address fields
	NetV6   int // 0-128
	Align   uint64
}

// OutputField is one field of the non-key projection, combined with Func
// when aggregation is in effect (spec.md §3).
type OutputField struct {
	Field ID
	Func  AggrFunc
}

// SortKey picks the single field that SORT/AGGR-with-topN orders by.
type SortKey struct {
	Field     ID
	Dir       Direction
	Func      AggrFunc // only meaningful under aggregation
	HasFunc   bool
}

// Descriptor is the fields descriptor of spec.md §3: up to 11 aggregation
// keys, up to 31 output fields, and an optional sort key, with the
// disjointness invariants spec.md states.
type Descriptor struct {
	AggrKeys     []AggrKey
	OutputFields []OutputField
	Sort         *SortKey
}

const (
	MaxAggrKeys     = 11
	MaxOutputFields = 31
)

// Validate checks the disjointness invariants and size caps of spec.md §3,
// returning a *ferrors.Error with KindFields on violation.
func (d *Descriptor) Validate() error {
	if len(d.AggrKeys) > MaxAggrKeys {
		return ferrors.Newf(ferrors.KindFields, "too many aggregation keys: %d > %d", len(d.AggrKeys), MaxAggrKeys)
	}
	if len(d.OutputFields) > MaxOutputFields {
		return ferrors.Newf(ferrors.KindFields, "too many output fields: %d > %d", len(d.OutputFields), MaxOutputFields)
	}
	aggrSet := make(map[ID]bool, len(d.AggrKeys))
	for _, k := range d.AggrKeys {
		if aggrSet[k.Field] {
			return ferrors.Newf(ferrors.KindFields, "duplicate aggregation key field %v", ByID(k.Field).Name)
		}
		aggrSet[k.Field] = true
	}
	outSet := make(map[ID]bool, len(d.OutputFields))
	for _, o := range d.OutputFields {
		if outSet[o.Field] {
			return ferrors.Newf(ferrors.KindFields, "duplicate output field %v", ByID(o.Field).Name)
		}
		outSet[o.Field] = true
		if aggrSet[o.Field] {
			return ferrors.Newf(ferrors.KindFields, "field %v used as both an aggregation key and an output field", ByID(o.Field).Name)
		}
	}
	if d.Sort != nil {
		if outSet[d.Sort.Field] {
			return ferrors.Newf(ferrors.KindFields, "sort key %v may not also be an output field", ByID(d.Sort.Field).Name)
		}
		// aggrKeys may include the sort key; that's fine.
	}
	return nil
}

// ValidateTopN additionally enforces the Open Question (a) decision
// recorded in SPEC_FULL.md: under fast top-N, the sort key's aggregation
// function must be subadditive across shards for the TPUT threshold
// (tau1/s) to be a valid lower bound. Only SUM qualifies.
func (d *Descriptor) ValidateTopN(useFastTopN bool) error {
	if !useFastTopN || d.Sort == nil || !d.Sort.HasFunc {
		return nil
	}
	if d.Sort.Func != Sum {
		return ferrors.Newf(ferrors.KindFields,
			"useFastTopN requires a SUM sort key (got %v): MIN/MAX/OR are not valid TPUT thresholds", d.Sort.Func)
	}
	return nil
}

// IsAggregation reports whether the descriptor implies a hash-aggregation
// record memory (non-empty AggrKeys).
func (d *Descriptor) IsAggregation() bool {
	return len(d.AggrKeys) > 0
}
