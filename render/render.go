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

// Package render formats a coordinator.Result for the two --output-format
// values spec.md §6 names: "pretty", a column-aligned text table, and
// "csv", RFC 4180. Both derive the same column list from the query's mode
// and fields descriptor, then walk the same flowrec.Record slice; neither
// format needs to special-case LIST vs SORT/AGGR beyond that column list.
package render

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"text/tabwriter"

	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/query"
)

// Format selects one of the --output-format values.
type Format int

const (
	Pretty Format = iota
	CSV
)

// ParseFormat parses the --output-format flag value.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "pretty", "":
		return Pretty, nil
	case "csv":
		return CSV, nil
	default:
		return 0, ferrors.Newf(ferrors.KindArgs, "unknown --output-format %q", s)
	}
}

// column is one output column: the field it reads and the header text.
// AggrKey columns have no Func; OutputField columns name their combining
// function in the header, matching the original fdistdump's "bytes/sum"
// convention for aggregated fields.
type column struct {
	Field field.ID
	Name  string
}

// columns derives the ordered column list from a task's mode and fields
// descriptor. LIST mode has no descriptor-driven projection: spec.md §3
// says every field is always present on a Record, so LIST prints the
// fixed catalogue order a reader of raw flow data expects.
func columns(task *query.Task) []column {
	if task.Mode == query.Meta {
		return nil
	}
	if task.Mode == query.List {
		ids := []field.ID{
			field.SrcAddr, field.DstAddr, field.SrcPort, field.DstPort,
			field.Proto, field.TCPFlags, field.Packets, field.Bytes, field.First, field.Last,
		}
		cols := make([]column, len(ids))
		for i, id := range ids {
			cols[i] = column{Field: id, Name: field.ByID(id).Name}
		}
		return cols
	}
	cols := make([]column, 0, len(task.Fields.AggrKeys)+len(task.Fields.OutputFields))
	for _, k := range task.Fields.AggrKeys {
		cols = append(cols, column{Field: k.Field, Name: field.ByID(k.Field).Name})
	}
	for _, o := range task.Fields.OutputFields {
		cols = append(cols, column{Field: o.Field, Name: field.ByID(o.Field).Name + "/" + o.Func.String()})
	}
	return cols
}

// cellValue renders one field of one record as text. Address fields print
// the canonical net.IP form; everything else is decimal.
func cellValue(rec *flowrec.Record, id field.ID) string {
	if field.ByID(id).IsAddr() {
		addr := rec.Addr(id)
		return net.IP(addr[:]).String()
	}
	return strconv.FormatUint(rec.Uint64(id), 10)
}

// Write renders recs according to task's mode/fields descriptor in the
// given format. A Meta-mode task has no rows; Write emits nothing rather
// than an empty table, since there is no column list to head one with.
func Write(w io.Writer, format Format, task *query.Task, recs []flowrec.Record) error {
	cols := columns(task)
	if cols == nil {
		return nil
	}
	switch format {
	case CSV:
		return writeCSV(w, cols, recs)
	default:
		return writePretty(w, cols, recs)
	}
}

func writePretty(w io.Writer, cols []column, recs []flowrec.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c.Name)
	}
	fmt.Fprint(tw, "\n")
	for i := range recs {
		rec := &recs[i]
		for j, c := range cols {
			if j > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cellValue(rec, c.Field))
		}
		fmt.Fprint(tw, "\n")
	}
	return tw.Flush()
}

func writeCSV(w io.Writer, cols []column, recs []flowrec.Record) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return ferrors.New(ferrors.KindIO, err)
	}
	row := make([]string, len(cols))
	for i := range recs {
		rec := &recs[i]
		for j, c := range cols {
			row[j] = cellValue(rec, c.Field)
		}
		if err := cw.Write(row); err != nil {
			return ferrors.New(ferrors.KindIO, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return ferrors.New(ferrors.KindIO, err)
	}
	return nil
}
