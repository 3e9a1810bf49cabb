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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// Control messages ride the same wire frame as data, using tag values
// above the public tag set so a demultiplexing reader never confuses a
// collective with a point-to-point send.
const (
	ctrlBroadcastStruct Tag = 0xf0 + iota
	ctrlBroadcastBlock
	ctrlReduce
	ctrlGather
)

// frameHeader is the fixed wire prefix of every message: tag, a
// sentinel/compressed bit field, then a uint32 little-endian payload
// length, mirroring the length-prefixed framing spec.md §6 specifies for
// records and the teacher's own tagged-length-prefixed proxy framing.
const frameHeaderLen = 1 + 1 + 4

const (
	flagSentinel   = 1 << 0
	flagCompressed = 1 << 1
)

func writeFrame(w *bufio.Writer, mu *sync.Mutex, tag Tag, flags byte, payload []byte) error {
	mu.Lock()
	defer mu.Unlock()
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(tag)
	hdr[1] = flags
	binary.LittleEndian.PutUint32(hdr[2:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader) (Tag, byte, []byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, err
	}
	tag := Tag(hdr[0])
	flags := hdr[1]
	n := binary.LittleEndian.Uint32(hdr[2:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, 0, nil, err
		}
	}
	return tag, flags, payload, nil
}

// peerConn wraps one TCP connection to a single other rank with its own
// write mutex (writes interleave across goroutines; reads are owned by a
// single per-connection pump goroutine) and demultiplexes inbound frames
// by tag into per-tag mailboxes, plus one control-message mailbox shared
// by the collectives.
type peerConn struct {
	rank int
	nc   net.Conn
	w    *bufio.Writer
	wmu  sync.Mutex

	mailboxes [TagProgress + 1]chan mailboxMsg
	ctrl      chan ctrlMsg
}

type ctrlMsg struct {
	tag     Tag
	payload []byte
}

func setNoDelay(nc net.Conn) error {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func newPeerConn(rank int, nc net.Conn) *peerConn {
	p := &peerConn{rank: rank, nc: nc, w: bufio.NewWriter(nc), ctrl: make(chan ctrlMsg, 16)}
	for t := range p.mailboxes {
		p.mailboxes[t] = make(chan mailboxMsg, 64)
	}
	go p.pump()
	return p
}

// pump reads frames off nc until it errors (peer closed, or Close was
// called), dispatching each to the matching per-tag or control mailbox.
func (p *peerConn) pump() {
	r := bufio.NewReader(p.nc)
	for {
		tag, flags, payload, err := readFrame(r)
		if err != nil {
			close(p.ctrl)
			return
		}
		switch tag {
		case ctrlBroadcastStruct, ctrlBroadcastBlock, ctrlReduce, ctrlGather:
			p.ctrl <- ctrlMsg{tag: tag, payload: payload}
		default:
			if int(tag) >= len(p.mailboxes) {
				continue
			}
			p.mailboxes[tag] <- mailboxMsg{
				src: p.rank,
				msg: Message{
					Payload:    payload,
					Compressed: flags&flagCompressed != 0,
					Sentinel:   flags&flagSentinel != 0,
				},
			}
		}
	}
}

func (p *peerConn) send(tag Tag, flags byte, payload []byte) error {
	return writeFrame(p.w, &p.wmu, tag, flags, payload)
}

// tcpTransport is the real network Transport: the coordinator (rank 0)
// holds one peerConn per worker; a worker holds exactly one peerConn, to
// rank 0. Every collective and point-to-point call therefore only ever
// touches connections to/from rank 0, matching the star topology spec.md's
// coordinator/worker architecture implies.
type tcpTransport struct {
	rank  int
	world int

	// peers[r] is this rank's connection to rank r, for r != this rank.
	// Only peers[0] is populated on a worker; the coordinator populates
	// peers[1..world-1].
	peers    []*peerConn
	listener net.Listener
	addrs    []string // host:port per rank, kept to support DupChannel

	closeOnce sync.Once
}

// DialWorker connects a worker (rank > 0) to the coordinator at
// addrs[0], handshaking its rank so the coordinator can key its peers
// slice. addrs is the full peer list from --peers/FDISTDUMP_PEERS.
func DialWorker(rank int, addrs []string) (Transport, error) {
	if rank <= 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("transport: bad worker rank %d for %d peers", rank, len(addrs))
	}
	nc, err := net.Dial("tcp", addrs[0])
	if err != nil {
		return nil, fmt.Errorf("transport: dial coordinator: %w", err)
	}
	if err := setNoDelay(nc); err != nil {
		return nil, fmt.Errorf("transport: set nodelay: %w", err)
	}
	var rankBuf [4]byte
	binary.LittleEndian.PutUint32(rankBuf[:], uint32(rank))
	if _, err := nc.Write(rankBuf[:]); err != nil {
		return nil, fmt.Errorf("transport: handshake: %w", err)
	}
	peers := make([]*peerConn, len(addrs))
	peers[0] = newPeerConn(0, nc)
	return &tcpTransport{rank: rank, world: len(addrs), peers: peers, addrs: addrs}, nil
}

// ListenCoordinator starts the coordinator (rank 0) listening on
// addrs[0] and blocks until all len(addrs)-1 workers have connected and
// handshaked.
func ListenCoordinator(addrs []string) (Transport, error) {
	ln, err := net.Listen("tcp", addrs[0])
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	peers := make([]*peerConn, len(addrs))
	want := len(addrs) - 1
	for i := 0; i < want; i++ {
		nc, err := ln.Accept()
		if err != nil {
			return nil, fmt.Errorf("transport: accept: %w", err)
		}
		if err := setNoDelay(nc); err != nil {
			return nil, fmt.Errorf("transport: set nodelay: %w", err)
		}
		var rankBuf [4]byte
		if _, err := io.ReadFull(nc, rankBuf[:]); err != nil {
			return nil, fmt.Errorf("transport: handshake: %w", err)
		}
		rank := int(binary.LittleEndian.Uint32(rankBuf[:]))
		if rank <= 0 || rank >= len(addrs) {
			return nil, fmt.Errorf("transport: peer presented invalid rank %d", rank)
		}
		peers[rank] = newPeerConn(rank, nc)
	}
	return &tcpTransport{rank: 0, world: len(addrs), peers: peers, addrs: addrs, listener: ln}, nil
}

func (t *tcpTransport) Rank() int      { return t.rank }
func (t *tcpTransport) WorldSize() int { return t.world }

func (t *tcpTransport) BroadcastStruct(buf []byte) ([]byte, error) {
	return t.broadcast(ctrlBroadcastStruct, buf)
}

func (t *tcpTransport) BroadcastBlock(data []byte) ([]byte, error) {
	return t.broadcast(ctrlBroadcastBlock, data)
}

func (t *tcpTransport) broadcast(tag Tag, data []byte) ([]byte, error) {
	if t.rank == 0 {
		for r := 1; r < t.world; r++ {
			if err := t.peers[r].send(tag, 0, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	msg, ok := <-t.peers[0].ctrl
	if !ok {
		return nil, fmt.Errorf("transport: %w: broadcast", io.ErrClosedPipe)
	}
	if msg.tag != tag {
		return nil, fmt.Errorf("transport: expected %v broadcast, got control tag %v", tag, msg.tag)
	}
	return msg.payload, nil
}

func (t *tcpTransport) Reduce(local []uint64) ([]uint64, error) {
	if t.rank != 0 {
		if err := t.peers[0].send(ctrlReduce, 0, encodeUint64s(local)); err != nil {
			return nil, err
		}
		return nil, nil
	}
	totals := append([]uint64(nil), local...)
	for r := 1; r < t.world; r++ {
		msg, ok := <-t.peers[r].ctrl
		if !ok || msg.tag != ctrlReduce {
			return nil, fmt.Errorf("transport: reduce: bad or missing message from rank %d", r)
		}
		vals := decodeUint64s(msg.payload)
		for i, v := range vals {
			if i < len(totals) {
				totals[i] += v
			}
		}
	}
	return totals, nil
}

func (t *tcpTransport) Gather(v uint64) ([]uint64, error) {
	if t.rank != 0 {
		if err := t.peers[0].send(ctrlGather, 0, encodeUint64s([]uint64{v})); err != nil {
			return nil, err
		}
		return nil, nil
	}
	all := make([]uint64, t.world)
	all[0] = v
	for r := 1; r < t.world; r++ {
		msg, ok := <-t.peers[r].ctrl
		if !ok || msg.tag != ctrlGather {
			return nil, fmt.Errorf("transport: gather: bad or missing message from rank %d", r)
		}
		vals := decodeUint64s(msg.payload)
		if len(vals) > 0 {
			all[r] = vals[0]
		}
	}
	return all, nil
}

func (t *tcpTransport) peerFor(rank int) (*peerConn, error) {
	if rank < 0 || rank >= len(t.peers) || t.peers[rank] == nil {
		return nil, fmt.Errorf("transport: no connection to rank %d", rank)
	}
	return t.peers[rank], nil
}

func (t *tcpTransport) SendTagged(tag Tag, dest int, msg Message) error {
	p, err := t.peerFor(dest)
	if err != nil {
		return err
	}
	var flags byte
	if msg.Compressed {
		flags |= flagCompressed
	}
	if msg.Sentinel {
		flags |= flagSentinel
	}
	return p.send(tag, flags, msg.Payload)
}

func (t *tcpTransport) SendSentinel(tag Tag, dest int) error {
	return t.SendTagged(tag, dest, Message{Sentinel: true})
}

func (t *tcpTransport) RecvTaggedAny(tag Tag) (int, Message, error) {
	if t.rank != 0 {
		p, err := t.peerFor(0)
		if err != nil {
			return 0, Message{}, err
		}
		got, ok := <-p.mailboxes[tag]
		if !ok {
			return 0, Message{}, io.ErrClosedPipe
		}
		return got.src, got.msg, nil
	}
	// Fan-in across all worker connections for this tag. A fresh select
	// set is built each call; world is small (one rank per cluster
	// member), so this is cheap relative to one file-scan tick.
	cases := make([]chanCase, 0, t.world-1)
	for r := 1; r < t.world; r++ {
		if t.peers[r] != nil {
			cases = append(cases, chanCase{rank: r, ch: t.peers[r].mailboxes[tag]})
		}
	}
	return recvAny(cases)
}

func (t *tcpTransport) DupChannel() (Transport, error) {
	dupAddrs := make([]string, len(t.addrs))
	for i, a := range t.addrs {
		da, err := shiftPort(a, 1)
		if err != nil {
			return nil, err
		}
		dupAddrs[i] = da
	}
	if t.rank == 0 {
		return ListenCoordinator(dupAddrs)
	}
	return DialWorker(t.rank, dupAddrs)
}

func (t *tcpTransport) Abort(cause error) error {
	return t.Close()
}

func (t *tcpTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		for _, p := range t.peers {
			if p != nil {
				p.nc.Close()
			}
		}
		if t.listener != nil {
			err = t.listener.Close()
		}
	})
	return err
}

func encodeUint64s(vs []uint64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return buf
}

func decodeUint64s(buf []byte) []uint64 {
	out := make([]uint64, len(buf)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out
}
