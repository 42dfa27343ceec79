// Copyright (C) 2022 Sneller, Inc.
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
	"testing"
	"time"
)

func TestSendRecvFIFO(t *testing.T) {
	tr := New()
	tr.Send(Request{Kind: ReqLand, DroneID: 1})
	tr.Send(Request{Kind: ReqTakeoff, DroneID: 2})

	req, ok := tr.Recv()
	if !ok || req.Kind != ReqLand || req.DroneID != 1 {
		t.Fatalf("Recv = %+v,%v, want ReqLand/1", req, ok)
	}
	req, ok = tr.Recv()
	if !ok || req.Kind != ReqTakeoff || req.DroneID != 2 {
		t.Fatalf("Recv = %+v,%v, want ReqTakeoff/2", req, ok)
	}
	if _, ok := tr.Recv(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestRecvNeverBlocksWhenEmpty(t *testing.T) {
	tr := New()
	done := make(chan struct{})
	go func() {
		tr.Recv()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv blocked on an empty queue")
	}
}

func TestWakeSignalsOnSend(t *testing.T) {
	tr := New()
	tr.Send(Request{Kind: ReqLand, DroneID: 1})
	select {
	case <-tr.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected wake signal after Send")
	}
}

func TestGrantAddressedDelivery(t *testing.T) {
	tr := New()
	tr.RegisterDrone(1)
	tr.RegisterDrone(2)

	if !tr.SendGrant(1, Grant{ChannelID: 0}) {
		t.Fatal("expected grant to drone 1 to succeed")
	}

	select {
	case g := <-tr.RecvGrant(1):
		if g.ChannelID != 0 {
			t.Fatalf("ChannelID = %d, want 0", g.ChannelID)
		}
	default:
		t.Fatal("expected drone 1 to observe its grant")
	}

	select {
	case <-tr.RecvGrant(2):
		t.Fatal("drone 2 should never observe drone 1's grant")
	default:
	}
}

func TestSendGrantToUnknownDroneFails(t *testing.T) {
	tr := New()
	if tr.SendGrant(42, Grant{}) {
		t.Fatal("expected grant to unregistered drone to fail")
	}
}

func TestSendGrantFailsWhenOutstanding(t *testing.T) {
	tr := New()
	tr.RegisterDrone(1)
	if !tr.SendGrant(1, Grant{ChannelID: 0}) {
		t.Fatal("first grant should succeed")
	}
	if tr.SendGrant(1, Grant{ChannelID: 1}) {
		t.Fatal("second grant should fail: channel already holds an unconsumed grant")
	}
}
