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

package transport

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// CompressThreshold is the payload size below which Compress is a net
// loss (flate's own framing overhead dominates for tiny blobs), per
// SPEC_FULL.md Section B's "trading CPU for network bytes" tradeoff.
const CompressThreshold = 4096

// Compress flate-compresses buf for use as a Message's Payload with
// Compressed set. Callers on the sending side (worker's record batches)
// decide whether compressing is worth it; Decompress is the inverse the
// receiving side (coordinator) always applies when Message.Compressed is
// set.
func Compress(buf []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(buf); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(buf []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(buf))
	defer r.Close()
	return io.ReadAll(r)
}
