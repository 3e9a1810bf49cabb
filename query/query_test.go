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

package query

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CESNET/fdistdump-sub002/field"
)

func sampleTask() *Task {
	return &Task{
		QueryID: uuid.New(),
		Mode:    Aggr,
		Filter:  "dstport == 53",
		Paths:   []string{"/data/a", "/data/b"},
		Begin:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Limit:   100,
		Fields: field.Descriptor{
			AggrKeys:     []field.AggrKey{{Field: field.DstAddr, NetV4: 24, NetV6: 128}},
			OutputFields: []field.OutputField{{Field: field.Bytes, Func: field.Sum}},
			Sort:         &field.SortKey{Field: field.Bytes, Dir: field.Desc, Func: field.Sum, HasFunc: true},
		},
		UseFastTopN:   true,
		UseBloomIndex: true,
		WorkerCount:   4,
	}
}

func TestTaskEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleTask()
	got, err := Decode(want.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.QueryID != want.QueryID {
		t.Errorf("QueryID mismatch")
	}
	if got.Mode != want.Mode || got.Filter != want.Filter || got.Limit != want.Limit {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.Paths) != 2 || got.Paths[0] != "/data/a" || got.Paths[1] != "/data/b" {
		t.Errorf("Paths = %v", got.Paths)
	}
	if !got.Begin.Equal(want.Begin) || !got.End.Equal(want.End) {
		t.Errorf("time window mismatch: got [%v,%v)", got.Begin, got.End)
	}
	if len(got.Fields.AggrKeys) != 1 || got.Fields.AggrKeys[0].NetV4 != 24 {
		t.Errorf("AggrKeys mismatch: %+v", got.Fields.AggrKeys)
	}
	if got.Fields.Sort == nil || got.Fields.Sort.Dir != field.Desc {
		t.Errorf("Sort mismatch: %+v", got.Fields.Sort)
	}
	if !got.UseFastTopN || !got.UseBloomIndex || got.WorkerCount != 4 {
		t.Errorf("flags mismatch: %+v", got)
	}
}

func TestTaskValidateRejectsMissingSortKey(t *testing.T) {
	task := sampleTask()
	task.Fields.Sort = nil
	if err := task.Validate(); err == nil {
		t.Fatal("expected an error: aggr mode requires a sort key")
	}
}

func TestTaskValidateRejectsNonSumTopN(t *testing.T) {
	task := sampleTask()
	task.Fields.Sort.Func = field.Max
	if err := task.Validate(); err == nil {
		t.Fatal("expected an error: fast top-N requires a SUM sort key")
	}
}

func TestParseMode(t *testing.T) {
	for _, c := range []struct {
		in   string
		want Mode
	}{{"list", List}, {"sort", Sort}, {"aggr", Aggr}, {"meta", Meta}} {
		got, err := ParseMode(c.in)
		if err != nil || got != c.want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v, nil", c.in, got, err, c.want)
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
