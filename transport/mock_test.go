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
	"sync"
	"testing"
)

func TestMockBroadcastBlock(t *testing.T) {
	cluster := NewMockCluster(3)
	var wg sync.WaitGroup
	got := make([][]byte, 3)
	for r, tr := range cluster {
		wg.Add(1)
		go func(r int, tr Transport) {
			defer wg.Done()
			var data []byte
			if r == 0 {
				data = []byte("hello")
			}
			b, err := tr.BroadcastBlock(data)
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			got[r] = b
		}(r, tr)
	}
	wg.Wait()
	for r, b := range got {
		if string(b) != "hello" {
			t.Errorf("rank %d got %q, want %q", r, b, "hello")
		}
	}
}

func TestMockReduceSum(t *testing.T) {
	cluster := NewMockCluster(3)
	var wg sync.WaitGroup
	var result []uint64
	locals := [][]uint64{{1, 10}, {2, 20}, {3, 30}}
	for r, tr := range cluster {
		wg.Add(1)
		go func(r int, tr Transport) {
			defer wg.Done()
			totals, err := tr.Reduce(locals[r])
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			if r == 0 {
				result = totals
			}
		}(r, tr)
	}
	wg.Wait()
	if len(result) != 2 || result[0] != 6 || result[1] != 60 {
		t.Fatalf("got %v, want [6 60]", result)
	}
}

func TestMockGather(t *testing.T) {
	cluster := NewMockCluster(3)
	var wg sync.WaitGroup
	var all []uint64
	for r, tr := range cluster {
		wg.Add(1)
		go func(r int, tr Transport) {
			defer wg.Done()
			got, err := tr.Gather(uint64(r * 7))
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			if r == 0 {
				all = got
			}
		}(r, tr)
	}
	wg.Wait()
	want := []uint64{0, 7, 14}
	for i, v := range want {
		if all[i] != v {
			t.Errorf("all[%d] = %d, want %d", i, all[i], v)
		}
	}
}

func TestMockTaggedSendRecvWithSentinel(t *testing.T) {
	cluster := NewMockCluster(3)
	coord := cluster[0]

	var wg sync.WaitGroup
	for r := 1; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			cluster[r].SendTagged(TagSort, 0, Message{Payload: []byte{byte(r)}})
			cluster[r].SendSentinel(TagSort, 0)
		}(r)
	}

	received := map[int]int{}
	sentinels := 0
	for sentinels < 2 {
		src, msg, err := coord.RecvTaggedAny(TagSort)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Sentinel {
			sentinels++
			continue
		}
		received[src]++
	}
	wg.Wait()
	if received[1] != 1 || received[2] != 1 {
		t.Fatalf("got %v, want one data message per worker", received)
	}
}

func TestMockDupChannelIndependentFromDataTag(t *testing.T) {
	cluster := NewMockCluster(2)
	prog0, err := cluster[0].DupChannel()
	if err != nil {
		t.Fatal(err)
	}
	prog1, err := cluster[1].DupChannel()
	if err != nil {
		t.Fatal(err)
	}
	go prog1.SendTagged(TagProgress, 0, Message{Payload: []byte("tick")})
	src, msg, err := prog0.RecvTaggedAny(TagProgress)
	if err != nil {
		t.Fatal(err)
	}
	if src != 1 || string(msg.Payload) != "tick" {
		t.Fatalf("got src=%d payload=%q", src, msg.Payload)
	}
}

func TestMockAbortUnblocksCollective(t *testing.T) {
	cluster := NewMockCluster(2)
	done := make(chan error, 1)
	go func() {
		_, err := cluster[1].BroadcastBlock(nil)
		done <- err
	}()
	cluster[0].Abort(nil)
	if err := <-done; err == nil {
		t.Fatal("expected an error after Abort unblocked the pending collective")
	}
}
