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

package flowrec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

var magic = [4]byte{'l', 'n', 'f', '1'}

// Header carries the per-file metadata totals read directly from a flow
// file's header (spec.md §3's metadata summary counters).
type Header struct {
	FlowsTotal, PktsTotal, BytesTotal uint64
	FlowsTCP, PktsTCP, BytesTCP       uint64
	FlowsUDP, PktsUDP, BytesUDP       uint64
	FlowsICMP, PktsICMP, BytesICMP    uint64
	FlowsOther, PktsOther, BytesOther uint64
}

// CheckInvariant reports whether total = tcp + udp + icmp + other holds
// for flows, pkts, and bytes, per spec.md §3. Violations are warnings,
// never fatal.
func (h *Header) CheckInvariant() error {
	sumFlows := h.FlowsTCP + h.FlowsUDP + h.FlowsICMP + h.FlowsOther
	sumPkts := h.PktsTCP + h.PktsUDP + h.PktsICMP + h.PktsOther
	sumBytes := h.BytesTCP + h.BytesUDP + h.BytesICMP + h.BytesOther
	if sumFlows != h.FlowsTotal || sumPkts != h.PktsTotal || sumBytes != h.BytesTotal {
		return fmt.Errorf("metadata header: totals (%d,%d,%d) != protocol sums (%d,%d,%d)",
			h.FlowsTotal, h.PktsTotal, h.BytesTotal, sumFlows, sumPkts, sumBytes)
	}
	return nil
}

const headerFieldCount = 15

func (h *Header) encode(w io.Writer) error {
	vals := [headerFieldCount]uint64{
		h.FlowsTotal, h.PktsTotal, h.BytesTotal,
		h.FlowsTCP, h.PktsTCP, h.BytesTCP,
		h.FlowsUDP, h.PktsUDP, h.BytesUDP,
		h.FlowsICMP, h.PktsICMP, h.BytesICMP,
		h.FlowsOther, h.PktsOther, h.BytesOther,
	}
	var buf [headerFieldCount * 8]byte
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	_, err := w.Write(buf[:])
	return err
}

func decodeHeader(r io.Reader) (Header, error) {
	var buf [headerFieldCount * 8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	var vals [headerFieldCount]uint64
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return Header{
		FlowsTotal: vals[0], PktsTotal: vals[1], BytesTotal: vals[2],
		FlowsTCP: vals[3], PktsTCP: vals[4], BytesTCP: vals[5],
		FlowsUDP: vals[6], PktsUDP: vals[7], BytesUDP: vals[8],
		FlowsICMP: vals[9], PktsICMP: vals[10], BytesICMP: vals[11],
		FlowsOther: vals[12], PktsOther: vals[13], BytesOther: vals[14],
	}, nil
}

// File is a flow file opened for reading.
type File struct {
	Header Header

	f *os.File
	r *bufio.Reader
}

// Open opens path and reads its header.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if m != magic {
		f.Close()
		return nil, fmt.Errorf("%s: not a flow file (bad magic)", path)
	}
	hdr, err := decodeHeader(r)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return &File{Header: hdr, f: f, r: r}, nil
}

// Next reads the next record, or io.EOF when the file is exhausted.
func (fl *File) Next() (Record, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(fl.r, lenbuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("flow file: truncated record length")
		}
		return Record{}, err
	}
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if n != EncodedLen {
		return Record{}, fmt.Errorf("flow file: unexpected record length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(fl.r, buf); err != nil {
		return Record{}, fmt.Errorf("flow file: truncated record body: %w", err)
	}
	rec, _, err := Decode(buf)
	return rec, err
}

// Close closes the underlying file.
func (fl *File) Close() error { return fl.f.Close() }

// WriteFile writes a flow file at path with the given header and records;
// it exists to build test fixtures and is not used by the query engine
// itself.
func WriteFile(path string, hdr Header, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := hdr.encode(w); err != nil {
		return err
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], EncodedLen)
	for i := range records {
		if _, err := w.Write(lenbuf[:]); err != nil {
			return err
		}
		buf := records[i].Encode(nil)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return w.Flush()
}
