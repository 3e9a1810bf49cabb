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

package ferrors

import (
	"errors"
	"testing"
)

func TestExitCodes(t *testing.T) {
	cases := []struct {
		k    Kind
		want int
	}{
		{KindNone, 0},
		{KindArgs, 2},
		{KindFilter, 3},
		{KindFields, 3},
		{KindIO, 4},
		{KindTransport, 5},
		{KindInternal, 6},
		{KindMem, 1},
	}
	for _, c := range cases {
		if got := c.k.ExitCode(); got != c.want {
			t.Errorf("%s.ExitCode() = %d, want %d", c.k, got, c.want)
		}
	}
}

func TestReducePicksMostSevere(t *testing.T) {
	errs := []error{
		New(KindIO, errors.New("file a missing")),
		New(KindInternal, errors.New("bad enum")),
		New(KindIndex, errors.New("index b corrupt")),
	}
	got := Reduce(errs)
	if AsKind(got) != KindInternal {
		t.Fatalf("Reduce picked %v, want KindInternal", AsKind(got))
	}
}

func TestReduceAllWarningsIsWarning(t *testing.T) {
	errs := []error{
		New(KindIO, errors.New("a")),
		New(KindIndex, errors.New("b")),
	}
	got := Reduce(errs)
	fe, ok := got.(*Error)
	if !ok {
		t.Fatalf("Reduce did not return *Error: %T", got)
	}
	if fe.Severity != Warning {
		t.Fatalf("severity = %v, want Warning", fe.Severity)
	}
}

func TestReduceNilOnNoErrors(t *testing.T) {
	if Reduce(nil) != nil {
		t.Fatal("Reduce(nil) should be nil")
	}
	if Reduce([]error{nil, nil}) != nil {
		t.Fatal("Reduce of all-nil should be nil")
	}
}

func TestAsKindPlainErrorIsInternal(t *testing.T) {
	base := New(KindFields, errors.New("dup field"))
	wrapped := errors.New("context: " + base.Error())
	if AsKind(wrapped) != KindInternal {
		t.Fatalf("a plain error should report KindInternal, got %v", AsKind(wrapped))
	}
	if AsKind(base) != KindFields {
		t.Fatalf("AsKind(base) = %v, want KindFields", AsKind(base))
	}
}
