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

package recmem

import (
	"encoding/binary"

	"github.com/CESNET/fdistdump-sub002/ferrors"
)

// AppendKey appends one length-prefixed Key string to buf. The coordinator
// uses this to build the TPUT phase-3 candidate-key broadcast (spec.md
// §4.5); workers decode it with DecodeKeys and resolve each key with
// Memory.LookupRawByKey.
func AppendKey(buf []byte, key string) []byte {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(key)))
	buf = append(buf, lenbuf[:]...)
	return append(buf, key...)
}

// DecodeKeys parses a batch AppendKey built back into the individual key
// strings.
func DecodeKeys(buf []byte) ([]string, error) {
	var out []string
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, ferrors.Newf(ferrors.KindTransport, "recmem: truncated key batch")
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return nil, ferrors.Newf(ferrors.KindTransport, "recmem: truncated key")
		}
		out = append(out, string(buf[:n]))
		buf = buf[n:]
	}
	return out, nil
}
