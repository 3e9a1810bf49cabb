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

package pathexpand

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExpandFiltersByTimeWindow(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	touch(t, dir, "lnf."+itoa(base.Unix()))
	touch(t, dir, "lnf."+itoa(base.Add(time.Hour).Unix()))
	touch(t, dir, "lnf."+itoa(base.Add(48*time.Hour).Unix()))
	touch(t, dir, "notes.txt")

	files, err := Expand([]string{dir}, base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3 (two in-window flow files + the untimed file): %v", len(files), files)
	}
}

func TestExpandExplicitFileAlwaysIncluded(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "lnf.1")
	path := filepath.Join(dir, "lnf.1")
	files, err := Expand([]string{path}, time.Now(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != path {
		t.Fatalf("got %v, want [%s]", files, path)
	}
}

func TestShardRoundRobin(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e"}
	shards := Shard(files, 2)
	if len(shards) != 2 {
		t.Fatalf("got %d shards, want 2", len(shards))
	}
	total := 0
	for _, s := range shards {
		total += len(s)
	}
	if total != len(files) {
		t.Fatalf("shard total %d != %d", total, len(files))
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
