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

import (
	"github.com/CESNET/fdistdump-sub002/flowrec"
	"github.com/CESNET/fdistdump-sub002/transport"
)

// bufSize is the fixed size of each of a recordSender's two buffers,
// per spec.md §4.3's "each thread uses two 1 MiB buffers".
const bufSize = 1 << 20

// recordSender implements the double-buffered nonblocking send loop of
// spec.md §4.3: fill buffer A, start send(A), fill buffer B, wait(A),
// start send(B), fill A again. It is thread-private: one instance per
// file-loop goroutine, never shared.
type recordSender struct {
	send    func(transport.Message) error
	onFlush func(recordCount int)

	bufs      [2][]byte
	recCounts [2]int
	cur       int
	inflight  [2]chan error
}

func newRecordSender(send func(transport.Message) error, onFlush func(int)) *recordSender {
	return &recordSender{
		send:    send,
		onFlush: onFlush,
		bufs:    [2][]byte{make([]byte, 0, bufSize), make([]byte, 0, bufSize)},
	}
}

// Append buffers rec, flushing first if it would not fit in the active
// buffer.
func (s *recordSender) Append(rec *flowrec.Record) error {
	need := 4 + flowrec.EncodedLen
	if len(s.bufs[s.cur])+need > cap(s.bufs[s.cur]) {
		if err := s.flush(); err != nil {
			return err
		}
	}
	s.bufs[s.cur] = flowrec.AppendLenPrefixed(s.bufs[s.cur], rec)
	s.recCounts[s.cur]++
	return nil
}

// flush starts sending the active buffer (if non-empty) and swaps to the
// other one, first waiting for that other buffer's own previous send (if
// any) to finish, since its storage is about to be reused.
func (s *recordSender) flush() error {
	other := 1 - s.cur
	if err := s.wait(other); err != nil {
		return err
	}
	if len(s.bufs[s.cur]) > 0 {
		s.onFlush(s.recCounts[s.cur])
		payload := s.bufs[s.cur]
		done := make(chan error, 1)
		s.inflight[s.cur] = done
		go func() {
			done <- s.send(compressForSend(payload))
		}()
	}
	s.cur = other
	s.bufs[s.cur] = s.bufs[s.cur][:0]
	s.recCounts[s.cur] = 0
	return nil
}

func (s *recordSender) wait(i int) error {
	if s.inflight[i] == nil {
		return nil
	}
	err := <-s.inflight[i]
	s.inflight[i] = nil
	return err
}

// Close flushes any remaining buffered records and waits for every
// outstanding send, per spec.md §4.3's "at shutdown, wait for the
// outstanding send before freeing buffers." It does not send a sentinel:
// exactly one sentinel per worker (not per thread) is the caller's
// responsibility once every thread's sender has been closed.
func (s *recordSender) Close() error {
	if err := s.flush(); err != nil {
		return err
	}
	if err := s.wait(0); err != nil {
		return err
	}
	return s.wait(1)
}
