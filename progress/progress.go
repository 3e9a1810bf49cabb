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

// Package progress implements the coordinator side of spec.md §4.6: it
// drains the zero-length PROGRESS-tag pings every worker fires after each
// file and renders a total bar, a per-worker bar, or a JSON stream
// (SPEC_FULL.md Section C adds the json form spec.md's CLI surface names
// but never describes).
package progress

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/transport"
)

// Mode selects one of the --progress renderings.
type Mode int

const (
	None Mode = iota
	Total
	PerWorker
	JSON
)

// ParseMode parses the --progress flag value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none", "":
		return None, nil
	case "total":
		return Total, nil
	case "perworker":
		return PerWorker, nil
	case "json":
		return JSON, nil
	default:
		return 0, ferrors.Newf(ferrors.KindArgs, "unknown --progress mode %q", s)
	}
}

// frame is the json-mode wire shape: one object per tick.
type frame struct {
	Rank int `json:"rank"`
	Done int `json:"done"`
	Total int `json:"total"`
}

// Reporter drains PROGRESS-tag ticks on the coordinator and renders them.
// It is constructed with the per-worker file totals the coordinator
// already gathered (ctx.Progress.Gather's result, ranks 1..N; index 0 is
// unused since the coordinator has no files of its own), and owns the
// Progress transport exclusively for the life of one query: nothing else
// may call RecvTaggedAny(TagProgress) concurrently.
type Reporter struct {
	data  transport.Transport
	mode  Mode
	out   io.Writer
	total []int
	done  []int
}

// NewReporter builds a Reporter. totals is indexed by rank (0 unused,
// coordinator); mode None makes Run a no-op that still drains every tick,
// since workers send them unconditionally regardless of what the
// coordinator renders.
func NewReporter(data transport.Transport, totals []uint64, mode Mode, out io.Writer) *Reporter {
	total := make([]int, len(totals))
	for i, v := range totals {
		total[i] = int(v)
	}
	return &Reporter{data: data, mode: mode, out: out, total: total, done: make([]int, len(totals))}
}

// Run blocks draining PROGRESS ticks until every worker's declared file
// count has been accounted for, rendering after each one per Mode.
// Callers run it concurrently with the coordinator's data-stream merge,
// since the PROGRESS and DATA channels are independent (spec.md §5).
func (r *Reporter) Run() error {
	want := 0
	for _, t := range r.total {
		want += t
	}
	got := 0
	for got < want {
		src, msg, err := r.data.RecvTaggedAny(transport.TagProgress)
		if err != nil {
			return ferrors.New(ferrors.KindTransport, err)
		}
		if msg.Sentinel {
			continue
		}
		if src >= 0 && src < len(r.done) {
			r.done[src]++
		}
		got++
		r.render(src)
	}
	return nil
}

func (r *Reporter) render(src int) {
	switch r.mode {
	case None:
		return
	case Total:
		doneTotal, wantTotal := 0, 0
		for i := range r.total {
			doneTotal += r.done[i]
			wantTotal += r.total[i]
		}
		fmt.Fprintf(r.out, "%d/%d files\n", doneTotal, wantTotal)
	case PerWorker:
		fmt.Fprintf(r.out, "rank=%d %d/%d files\n", src, r.done[src], r.total[src])
	case JSON:
		enc, err := json.Marshal(frame{Rank: src, Done: r.done[src], Total: r.total[src]})
		if err != nil {
			return
		}
		fmt.Fprintln(r.out, string(enc))
	}
}
