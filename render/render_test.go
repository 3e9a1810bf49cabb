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

package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/query"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"pretty": Pretty, "": Pretty, "csv": CSV}
	for s, want := range cases {
		got, err := ParseFormat(s)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", s, err)
		}
		if got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("ParseFormat(xml) did not error")
	}
}

func listRecord(srcPort, dstPort uint16, pkts, bytes uint64) flowrec.Record {
	var r flowrec.Record
	r.SetAddr(field.SrcAddr, []byte{10, 0, 0, 1})
	r.SetAddr(field.DstAddr, []byte{10, 0, 0, 2})
	r.SrcPort = srcPort
	r.DstPort = dstPort
	r.Packets = pkts
	r.Bytes = bytes
	return r
}

func TestWriteCSVList(t *testing.T) {
	task := &query.Task{Mode: query.List}
	recs := []flowrec.Record{listRecord(1234, 80, 5, 500)}

	var out bytes.Buffer
	if err := Write(&out, CSV, task, recs); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out.String())
	}
	if lines[0] != "srcip,dstip,srcport,dstport,proto,tcpflags,packets,bytes,first,last" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "10.0.0.1,10.0.0.2,1234,80") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestWritePrettyAggr(t *testing.T) {
	task := &query.Task{
		Mode: query.Aggr,
		Fields: field.Descriptor{
			AggrKeys:     []field.AggrKey{{Field: field.SrcAddr, NetV4: 32, NetV6: 128}},
			OutputFields: []field.OutputField{{Field: field.Bytes, Func: field.Sum}},
		},
	}
	var rec flowrec.Record
	rec.SetAddr(field.SrcAddr, []byte{192, 168, 0, 1})
	rec.Bytes = 4096

	var out bytes.Buffer
	if err := Write(&out, Pretty, task, []flowrec.Record{rec}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "srcip") || !strings.Contains(got, "bytes/sum") {
		t.Errorf("header missing expected columns: %q", got)
	}
	if !strings.Contains(got, "192.168.0.1") || !strings.Contains(got, "4096") {
		t.Errorf("row missing expected values: %q", got)
	}
}

func TestWriteMetaEmitsNothing(t *testing.T) {
	task := &query.Task{Mode: query.Meta}
	var out bytes.Buffer
	if err := Write(&out, Pretty, task, nil); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("meta-mode output = %q, want empty", out.String())
	}
}
