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

package bfindex

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/sys/unix"
)

// flowPrefix is the fixed flow-file name prefix spec.md §6 names.
const flowPrefix = "lnf"

// PathForFlow derives the bloom-index sidecar path for a flow file path,
// per spec.md §6: ".../<prefix>.<tail>" -> ".../bfi.<tail>", and
// ".../<name>" (no flow prefix) -> ".../bfi.<name>".
func PathForFlow(flowPath string) string {
	dir, name := filepath.Split(flowPath)
	tail, ok := strings.CutPrefix(name, flowPrefix+".")
	if !ok {
		tail = name
	}
	return filepath.Join(dir, "bfi."+tail)
}

// IndexFile answers "does this file possibly contain addr", backed by a
// real bloom filter (github.com/bits-and-blooms/bloom/v3), per spec.md §6.
type IndexFile struct {
	filter *bloom.BloomFilter
}

// Load reads a bloom-index file from disk, mmap-ing it rather than
// read()-ing it whole (SPEC_FULL.md Section B's x/sys wiring): index files
// are read once per query per file and never written by this process, so a
// read-only shared mapping avoids a full-file copy into the heap. The
// filter's own ReadFrom copies what it needs into its internal bitset, so
// the mapping is torn down again before Load returns.
func Load(path string) (*IndexFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bfindex: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("bfindex: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("bfindex: empty index %s", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("bfindex: mmap %s: %w", path, err)
	}
	defer unix.Munmap(data)

	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("bfindex: corrupt index %s: %w", path, err)
	}
	return &IndexFile{filter: bf}, nil
}

// Contains answers the leaf query Evaluate needs: does the index possibly
// contain addr (already in canonical 16-byte form)?
func (i *IndexFile) Contains(addr [16]byte) bool {
	return i.filter.Test(addr[:])
}

// BuildIndex constructs a fresh bloom filter over addrs, sized for n
// expected insertions at the given false-positive rate; it is the
// counterpart to Load used to produce test fixtures and, in an actual
// deployment, by whatever offline job materializes index files from flow
// files.
func BuildIndex(addrs [][16]byte, falsePositiveRate float64) *IndexFile {
	n := len(addrs)
	if n < 1 {
		n = 1
	}
	bf := bloom.NewWithEstimates(uint(n), falsePositiveRate)
	for _, a := range addrs {
		bf.Add(a[:])
	}
	return &IndexFile{filter: bf}
}

// Save serializes i to path.
func (i *IndexFile) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = i.filter.WriteTo(f)
	return err
}
