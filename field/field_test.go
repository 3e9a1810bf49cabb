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

import "testing"

func TestParseSpecAggrAndOutput(t *testing.T) {
	d, err := ParseSpec("srcip/24,dstip/24/64,bytes#sum,packets#sum")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.AggrKeys) != 2 {
		t.Fatalf("got %d aggr keys, want 2", len(d.AggrKeys))
	}
	if d.AggrKeys[0].Field != SrcAddr || d.AggrKeys[0].NetV4 != 24 {
		t.Errorf("srcip key = %+v", d.AggrKeys[0])
	}
	if d.AggrKeys[1].NetV4 != 24 || d.AggrKeys[1].NetV6 != 64 {
		t.Errorf("dstip key = %+v", d.AggrKeys[1])
	}
	if len(d.OutputFields) != 2 {
		t.Fatalf("got %d output fields, want 2", len(d.OutputFields))
	}
	if d.OutputFields[0].Func != Sum {
		t.Errorf("bytes func = %v, want sum", d.OutputFields[0].Func)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseSpecUnknownField(t *testing.T) {
	if _, err := ParseSpec("nosuchfield"); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseSpecNetmaskOnNonAddr(t *testing.T) {
	if _, err := ParseSpec("bytes/24"); err == nil {
		t.Fatal("expected error for netmask on non-address field")
	}
}

func TestValidateRejectsOverlap(t *testing.T) {
	d := &Descriptor{
		AggrKeys:     []AggrKey{{Field: SrcAddr, NetV4: 32, NetV6: 128}},
		OutputFields: []OutputField{{Field: SrcAddr, Func: Sum}},
	}
	if err := d.Validate(); err == nil {
		t.Fatal("expected disjointness violation")
	}
}

func TestValidateAllowsSortKeyInAggrKeys(t *testing.T) {
	d := &Descriptor{
		AggrKeys: []AggrKey{{Field: Bytes, NetV4: 32, NetV6: 128}},
		Sort:     &SortKey{Field: Bytes, Dir: Desc},
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("aggrKeys may include sortKey: %v", err)
	}
}

func TestValidateTopNRejectsNonSum(t *testing.T) {
	d := &Descriptor{Sort: &SortKey{Field: Bytes, Dir: Desc, Func: Max, HasFunc: true}}
	if err := d.ValidateTopN(true); err == nil {
		t.Fatal("expected rejection of MAX sort key under fast top-N")
	}
	if err := d.ValidateTopN(false); err != nil {
		t.Fatalf("MAX sort key is fine without fast top-N: %v", err)
	}
}

func TestParseOrder(t *testing.T) {
	sk, err := ParseOrder("bytes#sum,desc")
	if err != nil {
		t.Fatal(err)
	}
	if sk.Field != Bytes || sk.Func != Sum || sk.Dir != Desc {
		t.Errorf("got %+v", sk)
	}
	sk2, err := ParseOrder("srcport")
	if err != nil {
		t.Fatal(err)
	}
	if sk2.Dir != Asc {
		t.Errorf("default direction should be Asc, got %v", sk2.Dir)
	}
}
