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

// Package pathexpand is the "path globbing over time ranges" external
// collaborator of spec.md §1/§4: it turns user-supplied root paths plus a
// [begin, end) time window into a concrete, ordered list of flow-file
// paths. The core (bootstrap, coordinator) only consumes the resulting
// slice; nothing downstream depends on how it was produced.
package pathexpand

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// flowPrefix matches flowrec/bfindex's fixed prefix.
const flowPrefix = "lnf."

// Expand walks each root (a file or a directory) and returns every flow
// file path found, restricted to the half-open window [begin, end) when a
// file's name encodes a timestamp (spec.md §6's "lnf.<unixseconds>"
// convention) and end is non-zero. A root that is itself a regular file is
// always included, on the assumption that the caller named it explicitly
// and already knows it is in range. The result is sorted for determinism;
// callers that want to shard files round-robin should do so after sorting.
func Expand(roots []string, begin, end time.Time) ([]string, error) {
	var out []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ts, ok := parseTimestamp(d.Name()); ok {
				if !end.IsZero() && (ts.Before(begin) || !ts.Before(end)) {
					return nil
				}
			}
			out = append(out, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

// parseTimestamp extracts a unix-seconds timestamp from a flow file name
// of the form "lnf.<unixseconds>", as written by flowrec test fixtures.
func parseTimestamp(name string) (time.Time, bool) {
	tail, ok := strings.CutPrefix(name, flowPrefix)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

// Shard splits files round-robin across n workers, preserving the
// deterministic order Expand produced. Round-robin (rather than
// contiguous ranges) keeps shard sizes balanced when file sizes correlate
// with position (e.g. files are sorted by time and traffic grows over the
// window).
func Shard(files []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	shards := make([][]string, n)
	for i, f := range files {
		w := i % n
		shards[w] = append(shards[w], f)
	}
	return shards
}
