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
	"fmt"
	"net"
	"reflect"
	"strconv"
)

// chanCase pairs a worker rank with its per-tag mailbox, for recvAny's
// dynamic select over however many workers are currently connected.
type chanCase struct {
	rank int
	ch   chan mailboxMsg
}

// recvAny blocks until exactly one of cases' channels has a value ready,
// returning which rank it came from. The coordinator's RecvTaggedAny has
// no static upper bound on worker count known at compile time, so this
// uses reflect.Select rather than a fixed-arity select statement.
func recvAny(cases []chanCase) (int, Message, error) {
	if len(cases) == 0 {
		return 0, Message{}, fmt.Errorf("transport: no peers to receive from")
	}
	selCases := make([]reflect.SelectCase, len(cases))
	for i, c := range cases {
		selCases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.ch)}
	}
	chosen, val, ok := reflect.Select(selCases)
	if !ok {
		return 0, Message{}, fmt.Errorf("transport: connection to rank %d closed", cases[chosen].rank)
	}
	got := val.Interface().(mailboxMsg)
	return got.src, got.msg, nil
}

// shiftPort parses a host:port address and returns the same host with
// its port number shifted by delta, used by DupChannel to derive the
// progress channel's address from the data channel's without a second
// entry in the peer list.
func shiftPort(addr string, delta int) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("transport: bad peer address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("transport: bad peer port %q: %w", portStr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+delta)), nil
}
