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

// Package ferrors implements the error-kind taxonomy used across the
// coordinator and worker engines: every fatal or warning condition carries
// one of a fixed set of kinds, a severity, and a process exit code.
package ferrors

import "fmt"

// Kind identifies the category of a fdistdump error.
type Kind int

const (
	// KindNone is the zero value: no error.
	KindNone Kind = iota
	// KindArgs is a malformed or missing CLI argument, caught before any
	// filter/field/mode semantics are consulted.
	KindArgs
	// KindMem is an allocation failure.
	KindMem
	// KindIO is a flow-file open/read failure.
	KindIO
	// KindIndex is a bloom-index file missing or corrupt.
	KindIndex
	// KindFilter is a filter expression compile error.
	KindFilter
	// KindFields is an invalid field spec.
	KindFields
	// KindTransport is a collective or point-to-point transport failure.
	KindTransport
	// KindInternal is an invariant violation.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindArgs:
		return "ARGS"
	case KindMem:
		return "MEM"
	case KindIO:
		return "IO"
	case KindIndex:
		return "INDEX"
	case KindFilter:
		return "FILTER"
	case KindFields:
		return "FIELDS"
	case KindTransport:
		return "TRANSPORT"
	case KindInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Severity classifies how an error should propagate.
type Severity int

const (
	// Info is purely informational.
	Info Severity = iota
	// Warning is non-fatal: the query continues, but the condition is
	// logged to stderr with a rank/query prefix.
	Warning
	// Fatal aborts the query cluster-wide.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Fatal:
		return "error"
	default:
		return "unknown"
	}
}

// ExitCode returns the process exit code associated with k, per spec.md §6.
func (k Kind) ExitCode() int {
	switch k {
	case KindNone:
		return 0
	case KindArgs:
		return 2
	case KindFilter, KindFields:
		return 3
	case KindIO:
		return 4
	case KindTransport:
		return 5
	case KindInternal:
		return 6
	case KindMem, KindIndex:
		return 1
	default:
		return 1
	}
}

// severityOf reports the default severity for a kind when no override is
// given to New.
func severityOf(k Kind) Severity {
	switch k {
	case KindIO, KindIndex:
		return Warning
	case KindNone:
		return Info
	default:
		return Fatal
	}
}

// Error is the concrete error type carried across the worker and
// coordinator engines.
type Error struct {
	Kind     Kind
	Severity Severity
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the default severity for kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Severity: severityOf(kind), Err: err}
}

// Newf is like New but builds the wrapped error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

// AsKind extracts the Kind of err if it (or something it wraps) is an
// *Error; otherwise it returns KindInternal, since an error that reached
// this far without a kind attached is itself an invariant violation of the
// taxonomy.
func AsKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	var fe *Error
	if asError(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// asError is a small local errors.As to avoid importing "errors" just for
// this one call site used twice.
func asError(err error, target **Error) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Reduce implements the "MAX over error codes" propagation rule of spec.md
// §7: worker threads each produce at most one error, and the per-process
// code is the most severe/greatest-kind error observed. Reduce treats a
// higher numeric Kind as more significant than a lower one when severities
// tie at Fatal, and a Fatal error always outranks a Warning.
func Reduce(errs []error) error {
	var worst *Error
	for _, err := range errs {
		if err == nil {
			continue
		}
		fe, ok := err.(*Error)
		if !ok {
			fe = New(KindInternal, err)
		}
		if worst == nil || rank(fe) > rank(worst) {
			worst = fe
		}
	}
	if worst == nil {
		return nil
	}
	return worst
}

func rank(e *Error) int {
	return int(e.Severity)*1000 + int(e.Kind)
}
