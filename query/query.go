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

// Package query holds the Task descriptor spec.md §3 broadcasts once per
// query, and the Context every component (worker, coordinator, transport)
// is handed explicitly rather than reaching for process-wide state
// (spec.md §9's "process-wide state" design note).
package query

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/transport"
)

// Mode is one of the four query modes spec.md §3 defines.
type Mode int

const (
	List Mode = iota
	Sort
	Aggr
	Meta
)

func (m Mode) String() string {
	switch m {
	case List:
		return "list"
	case Sort:
		return "sort"
	case Aggr:
		return "aggr"
	case Meta:
		return "meta"
	default:
		return "?"
	}
}

// ParseMode parses the --mode flag value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "list":
		return List, nil
	case "sort":
		return Sort, nil
	case "aggr":
		return Aggr, nil
	case "meta":
		return Meta, nil
	default:
		return 0, ferrors.Newf(ferrors.KindFields, "unknown mode %q", s)
	}
}

// Task is the task descriptor of spec.md §3: broadcast once by the
// coordinator and immutable for the life of the query. QueryID is the
// SPEC_FULL.md Section B correlation ID threaded through every log line
// and error this query produces.
type Task struct {
	QueryID uuid.UUID
	Mode    Mode
	Filter  string
	Paths   []string
	Begin   time.Time
	End     time.Time
	Limit   uint64

	Fields field.Descriptor

	UseFastTopN   bool
	UseBloomIndex bool
	WorkerCount   int
}

// Validate applies the fields-descriptor invariants plus the TPUT
// legal-sort-key rule (spec.md §3 and §9 Open Question (a)).
func (t *Task) Validate() error {
	if err := t.Fields.Validate(); err != nil {
		return err
	}
	if err := t.Fields.ValidateTopN(t.UseFastTopN); err != nil {
		return err
	}
	if t.Mode == Sort || t.Mode == Aggr {
		if t.Fields.Sort == nil {
			return ferrors.Newf(ferrors.KindFields, "sort/aggr mode requires an --order sort key")
		}
	}
	if t.WorkerCount < 1 {
		return ferrors.Newf(ferrors.KindFields, "worker count must be >= 1")
	}
	return nil
}

// NeedsAggregation reports whether the mode implies hash-table record
// memory (spec.md §3 step 2).
func (t *Task) NeedsAggregation() bool {
	return t.Mode == Aggr
}

// NeedsSortMemory reports whether the mode implies sort-only record
// memory (SORT with a positive limit).
func (t *Task) NeedsSortMemory() bool {
	return t.Mode == Sort && t.Limit > 0
}

// Context is the per-query state every engine component receives
// explicitly, replacing the module-level state the source keeps (spec.md
// §9's design note): the transport handles (data + progress), the task,
// and this rank's identity.
type Context struct {
	Task *Task

	Data     transport.Transport
	Progress transport.Transport

	Logger Logger
}

// Logger is the narrow logging surface query.Context threads through,
// matching the teacher's "construct one *log.Logger in main, pass it as
// a field" convention rather than a package-level global.
type Logger interface {
	Printf(format string, args ...any)
}

// Rank returns this participant's rank (0 is the coordinator).
func (c *Context) Rank() int { return c.Data.Rank() }

// IsCoordinator reports whether this participant is rank 0.
func (c *Context) IsCoordinator() bool { return c.Rank() == 0 }

// Warnf logs a spec.md §7 warning with the mandated
// "rank=<n> query=<id>:" prefix.
func (c *Context) Warnf(format string, args ...any) {
	prefix := "rank=" + strconv.Itoa(c.Rank()) + " query=" + c.Task.QueryID.String() + ": "
	c.Logger.Printf(prefix+format, args...)
}
