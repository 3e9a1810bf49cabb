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

package worker

import "github.com/CESNET/fdistdump-sub002/transport"

// compressForSend flate-compresses payload when it is large enough for the
// saved network bytes to be worth the CPU (transport.CompressThreshold),
// per SPEC_FULL.md Section B. A compression failure is not fatal to the
// query: fall back to sending the record batch uncompressed.
func compressForSend(payload []byte) transport.Message {
	if len(payload) < transport.CompressThreshold {
		return transport.Message{Payload: payload}
	}
	compressed, err := transport.Compress(payload)
	if err != nil {
		return transport.Message{Payload: payload}
	}
	return transport.Message{Payload: compressed, Compressed: true}
}
