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
	"errors"
	"fmt"
	"sync"
)

// ErrAborted is returned by any call on a mock transport after Abort has
// been invoked on its hub.
var ErrAborted = errors.New("transport: aborted")

// mockHub is the shared state backing one cluster of in-process mock
// transports: one per participant, all talking through Go channels
// instead of sockets. NewMockCluster is the constructor; individual
// *mockTransport values are not meant to be built directly.
type mockHub struct {
	world int

	mu       sync.Mutex
	aborted  bool
	abortErr error

	// bcastStruct/bcastBlock/reduce/gather are one-shot rendezvous points
	// per collective call: rank 0 publishes, everyone (including rank 0)
	// reads, then the hub resets the slot for the next call. barrier
	// guards the read side so all World ranks observe the same value
	// before the slot is cleared.
	collMu   sync.Mutex
	collCond *sync.Cond
	collSeq  int
	collKind string
	bcastVal []byte
	reduceIn [][]uint64
	reduceOK []bool
	gatherIn []uint64
	gatherOK []bool

	mailboxes [][]chan mailboxMsg // mailboxes[rank][tag]
}

type mailboxMsg struct {
	src int
	msg Message
}

// NewMockCluster builds world in-process transports wired together,
// rank 0 is the coordinator. Used by package worker/coordinator tests to
// drive the protocol without a network.
func NewMockCluster(world int) []Transport {
	if world < 2 {
		panic("transport: mock cluster needs at least 2 participants")
	}
	h := &mockHub{
		world:     world,
		reduceIn:  make([][]uint64, world),
		reduceOK:  make([]bool, world),
		gatherIn:  make([]uint64, world),
		gatherOK:  make([]bool, world),
		mailboxes: make([][]chan mailboxMsg, world),
	}
	h.collCond = sync.NewCond(&h.collMu)
	for r := 0; r < world; r++ {
		h.mailboxes[r] = make([]chan mailboxMsg, TagProgress+1)
		for t := range h.mailboxes[r] {
			h.mailboxes[r][t] = make(chan mailboxMsg, 64)
		}
	}
	out := make([]Transport, world)
	for r := 0; r < world; r++ {
		out[r] = &mockTransport{hub: h, rank: r}
	}
	return out
}

// mockTransport is one participant's view of a mockHub.
type mockTransport struct {
	hub  *mockHub
	rank int
}

func (m *mockTransport) Rank() int      { return m.rank }
func (m *mockTransport) WorldSize() int { return m.hub.world }

func (m *mockTransport) checkAborted() error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.hub.aborted {
		return fmt.Errorf("%w: %v", ErrAborted, m.hub.abortErr)
	}
	return nil
}

// barrier runs fn exactly once (by the first caller to arrive, which in
// practice should always be rank 0 for a collective) and blocks every
// other caller until the shared value is ready, then clears it so the
// next collective of the same kind starts fresh. kind distinguishes
// concurrently-issued collectives so mismatched call order is caught
// rather than silently corrupting another collective's slot.
func (h *mockHub) barrier(kind string, rank int, publish func()) error {
	h.collMu.Lock()
	defer h.collMu.Unlock()
	seq := h.collSeq
	if rank == 0 {
		publish()
		h.collKind = kind
		h.collSeq++
		h.collCond.Broadcast()
		return nil
	}
	for h.collSeq == seq {
		h.mu.Lock()
		aborted := h.aborted
		h.mu.Unlock()
		if aborted {
			return ErrAborted
		}
		h.collCond.Wait()
	}
	if h.collKind != kind {
		panic(fmt.Sprintf("transport: mock collective mismatch: rank %d called %s, rank 0 called %s", rank, kind, h.collKind))
	}
	return nil
}

func (m *mockTransport) BroadcastStruct(buf []byte) ([]byte, error) {
	if err := m.checkAborted(); err != nil {
		return nil, err
	}
	if err := m.hub.barrier("bcast", m.rank, func() {
		m.hub.bcastVal = append([]byte(nil), buf...)
	}); err != nil {
		return nil, err
	}
	return append([]byte(nil), m.hub.bcastVal...), nil
}

func (m *mockTransport) BroadcastBlock(data []byte) ([]byte, error) {
	return m.BroadcastStruct(data)
}

func (m *mockTransport) Reduce(local []uint64) ([]uint64, error) {
	if err := m.checkAborted(); err != nil {
		return nil, err
	}
	m.hub.collMu.Lock()
	m.hub.reduceIn[m.rank] = local
	m.hub.reduceOK[m.rank] = true
	ready := true
	for _, ok := range m.hub.reduceOK {
		if !ok {
			ready = false
			break
		}
	}
	var totals []uint64
	if ready {
		width := len(local)
		totals = make([]uint64, width)
		for r := 0; r < m.hub.world; r++ {
			for i, v := range m.hub.reduceIn[r] {
				if i < width {
					totals[i] += v
				}
			}
			m.hub.reduceOK[r] = false
			m.hub.reduceIn[r] = nil
		}
		// Park the totals in rank 0's slot for a rank 0 that is waiting.
		m.hub.reduceIn[0] = totals
		m.hub.collCond.Broadcast()
	} else {
		for {
			allOK := true
			for _, ok := range m.hub.reduceOK {
				if ok {
					allOK = false
					break
				}
			}
			if allOK {
				break
			}
			m.hub.mu.Lock()
			aborted := m.hub.aborted
			m.hub.mu.Unlock()
			if aborted {
				m.hub.collMu.Unlock()
				return nil, ErrAborted
			}
			m.hub.collCond.Wait()
		}
		if m.rank == 0 {
			totals = m.hub.reduceIn[0]
			m.hub.reduceIn[0] = nil
		}
	}
	m.hub.collMu.Unlock()
	if m.rank != 0 {
		return nil, nil
	}
	return totals, nil
}

func (m *mockTransport) Gather(v uint64) ([]uint64, error) {
	if err := m.checkAborted(); err != nil {
		return nil, err
	}
	m.hub.collMu.Lock()
	m.hub.gatherIn[m.rank] = v
	m.hub.gatherOK[m.rank] = true
	ready := true
	for _, ok := range m.hub.gatherOK {
		if !ok {
			ready = false
			break
		}
	}
	var all []uint64
	if ready {
		all = append([]uint64(nil), m.hub.gatherIn...)
		for r := range m.hub.gatherOK {
			m.hub.gatherOK[r] = false
		}
		m.hub.collCond.Broadcast()
	} else {
		for {
			allOK := true
			for _, ok := range m.hub.gatherOK {
				if ok {
					allOK = false
					break
				}
			}
			if allOK {
				break
			}
			m.hub.mu.Lock()
			aborted := m.hub.aborted
			m.hub.mu.Unlock()
			if aborted {
				m.hub.collMu.Unlock()
				return nil, ErrAborted
			}
			m.hub.collCond.Wait()
		}
		if m.rank == 0 {
			all = append([]uint64(nil), m.hub.gatherIn...)
		}
	}
	m.hub.collMu.Unlock()
	if m.rank != 0 {
		return nil, nil
	}
	return all, nil
}

func (m *mockTransport) SendTagged(tag Tag, dest int, msg Message) error {
	if err := m.checkAborted(); err != nil {
		return err
	}
	if dest < 0 || dest >= m.hub.world {
		return fmt.Errorf("transport: bad destination rank %d", dest)
	}
	m.hub.mailboxes[dest][tag] <- mailboxMsg{src: m.rank, msg: msg}
	return nil
}

func (m *mockTransport) SendSentinel(tag Tag, dest int) error {
	return m.SendTagged(tag, dest, Message{Sentinel: true})
}

func (m *mockTransport) RecvTaggedAny(tag Tag) (int, Message, error) {
	if err := m.checkAborted(); err != nil {
		return 0, Message{}, err
	}
	got := <-m.hub.mailboxes[m.rank][tag]
	return got.src, got.msg, nil
}

func (m *mockTransport) DupChannel() (Transport, error) {
	return &mockTransport{hub: m.hub, rank: m.rank}, nil
}

func (m *mockTransport) Abort(cause error) error {
	m.hub.mu.Lock()
	m.hub.aborted = true
	m.hub.abortErr = cause
	m.hub.mu.Unlock()
	m.hub.collMu.Lock()
	m.hub.collCond.Broadcast()
	m.hub.collMu.Unlock()
	return nil
}

func (m *mockTransport) Close() error { return nil }
