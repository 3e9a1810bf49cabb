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

import (
	"strconv"
	"strings"

	"github.com/CESNET/fdistdump-sub002/ferrors"
)

// ParseSpec parses the --fields flag's comma-separated list:
//
//	name                plain field, becomes a full-width aggregation key
//	name/v4             aggregation key with a IPv4 netmask of v4 bits
//	name/v4/v6          aggregation key with separate IPv4/IPv6 netmasks
//	name@align          aggregation key bucketed by Align (for timestamps)
//	name#func           output field combined with func (min/max/sum/or)
func ParseSpec(spec string) (*Descriptor, error) {
	d := &Descriptor{}
	if strings.TrimSpace(spec) == "" {
		return d, nil
	}
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if name, fn, ok := strings.Cut(tok, "#"); ok {
			def, ok := Lookup(name)
			if !ok {
				return nil, ferrors.Newf(ferrors.KindFields, "unknown field %q", name)
			}
			f, err := parseFunc(fn)
			if err != nil {
				return nil, err
			}
			d.OutputFields = append(d.OutputFields, OutputField{Field: def.ID, Func: f})
			continue
		}
		name, rest, hasRest := strings.Cut(tok, "/")
		alignName, alignStr, hasAlign := strings.Cut(name, "@")
		if hasAlign {
			name = alignName
		}
		def, ok := Lookup(name)
		if !ok {
			return nil, ferrors.Newf(ferrors.KindFields, "unknown field %q", name)
		}
		key := AggrKey{Field: def.ID, NetV4: 32, NetV6: 128}
		if hasAlign {
			align, err := strconv.ParseUint(alignStr, 10, 64)
			if err != nil {
				return nil, ferrors.Newf(ferrors.KindFields, "invalid alignment %q for field %q: %w", alignStr, name, err)
			}
			key.Align = align
		}
		if hasRest {
			if !def.IsAddr() {
				return nil, ferrors.Newf(ferrors.KindFields, "netmask given for non-address field %q", name)
			}
			v4s, v6s, hasV6 := strings.Cut(rest, "/")
			v4, err := strconv.Atoi(v4s)
			if err != nil || v4 < 0 || v4 > 32 {
				return nil, ferrors.Newf(ferrors.KindFields, "invalid IPv4 netmask %q for field %q", v4s, name)
			}
			key.NetV4 = v4
			key.NetV6 = 128
			if hasV6 {
				v6, err := strconv.Atoi(v6s)
				if err != nil || v6 < 0 || v6 > 128 {
					return nil, ferrors.Newf(ferrors.KindFields, "invalid IPv6 netmask %q for field %q", v6s, name)
				}
				key.NetV6 = v6
			}
		}
		d.AggrKeys = append(d.AggrKeys, key)
	}
	return d, nil
}

func parseFunc(s string) (AggrFunc, error) {
	switch strings.ToLower(s) {
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	case "sum":
		return Sum, nil
	case "or":
		return Or, nil
	default:
		return 0, ferrors.Newf(ferrors.KindFields, "unknown aggregation function %q", s)
	}
}

// ParseOrder parses the --order flag: "<field>[#func][,{asc,desc}]".
func ParseOrder(order string) (*SortKey, error) {
	if strings.TrimSpace(order) == "" {
		return nil, nil
	}
	fieldPart, dirPart, hasDir := strings.Cut(order, ",")
	name, fn, hasFn := strings.Cut(fieldPart, "#")
	def, ok := Lookup(name)
	if !ok {
		return nil, ferrors.Newf(ferrors.KindFields, "unknown sort field %q", name)
	}
	sk := &SortKey{Field: def.ID, Dir: Asc}
	if hasFn {
		f, err := parseFunc(fn)
		if err != nil {
			return nil, err
		}
		sk.Func = f
		sk.HasFunc = true
	}
	if hasDir {
		switch strings.ToLower(strings.TrimSpace(dirPart)) {
		case "asc":
			sk.Dir = Asc
		case "desc":
			sk.Dir = Desc
		default:
			return nil, ferrors.Newf(ferrors.KindFields, "invalid sort direction %q", dirPart)
		}
	}
	return sk, nil
}
