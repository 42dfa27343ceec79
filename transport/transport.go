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

// Package transport implements the message path between drones and
// the operator: a multi-producer single-consumer request stream, and
// addressed single-drone grant delivery.
//
// The original C implementation uses one SysV message queue for both
// directions, selecting on mtype (msgrcv with a negative type matches
// "any type <= abs(mtype)", used by the operator to receive the five
// request kinds while leaving the RESPONSE_BASE+id grant types
// alone). Here the two directions are genuinely separate Go
// primitives so they cannot interfere, per spec.md §4.1's requirement
// that "grants and requests must be independent streams".
//
// The request side is an unbounded queue guarded by a mutex, with a
// 1-buffered wake channel used to signal the consumer — Send never
// blocks and never drops, which a fixed-capacity channel could not
// guarantee. This is the same shape as the received-frame queue in
// a packet-radio TNC's receive path, which also funnels many
// producer goroutines into one single-consumer processing loop
// behind a mutex and a wake-up channel.
package transport

import "sync"

// RequestKind enumerates the five message kinds a drone may send to
// the operator, matching MSG_REQ_LAND..MSG_DEAD in common.h.
type RequestKind int

const (
	// ReqLand asks for permission to enter the inbound tunnel.
	ReqLand RequestKind = iota + 1
	// ReqTakeoff asks for permission to enter the outbound tunnel.
	ReqTakeoff
	// Landed notifies the operator that the drone has completed its
	// inbound crossing and now occupies a hangar slot.
	Landed
	// Departed notifies the operator that the drone has completed
	// its outbound crossing and is back in free flight.
	Departed
	// Dead notifies the operator that the drone has terminated.
	Dead
)

func (k RequestKind) String() string {
	switch k {
	case ReqLand:
		return "ReqLand"
	case ReqTakeoff:
		return "ReqTakeoff"
	case Landed:
		return "Landed"
	case Departed:
		return "Departed"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Request is a message sent from a drone to the operator.
type Request struct {
	Kind    RequestKind
	DroneID int
}

// Grant is an authorization sent from the operator to exactly one
// drone, carrying the channel id it must traverse.
type Grant struct {
	ChannelID int
}

// Transport is the shared request/grant message path between the
// operator and the fleet of drones.
type Transport struct {
	mu      sync.Mutex
	queue   []Request
	wake    chan struct{}
	closed  bool
	grantMu sync.Mutex
	grants  map[int]chan Grant
}

// New creates an empty Transport.
func New() *Transport {
	return &Transport{
		wake:   make(chan struct{}, 1),
		grants: make(map[int]chan Grant),
	}
}

func (t *Transport) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Send enqueues req for the operator. It never blocks and never
// drops a message.
func (t *Transport) Send(req Request) {
	t.mu.Lock()
	t.queue = append(t.queue, req)
	t.mu.Unlock()
	t.notify()
}

// Recv returns the next pending request, or ok=false immediately if
// none is pending — the operator's event loop uses this to fall
// through to servicing timers and directives rather than blocking
// (spec.md §4.1).
func (t *Transport) Recv() (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return Request{}, false
	}
	req := t.queue[0]
	t.queue = t.queue[1:]
	return req, true
}

// Wake returns the channel the operator's cooperative wait can select
// on to wake up as soon as a new request arrives, instead of sleeping
// out the full wait interval.
func (t *Transport) Wake() <-chan struct{} {
	return t.wake
}

// RegisterDrone creates the addressed grant channel for droneID. It
// must be called once before the drone's first ReqLand/ReqTakeoff.
func (t *Transport) RegisterDrone(droneID int) {
	t.grantMu.Lock()
	defer t.grantMu.Unlock()
	t.grants[droneID] = make(chan Grant, 1)
}

// UnregisterDrone removes the addressed grant channel for droneID,
// called once the drone has died.
func (t *Transport) UnregisterDrone(droneID int) {
	t.grantMu.Lock()
	defer t.grantMu.Unlock()
	delete(t.grants, droneID)
}

// SendGrant delivers grant to exactly one drone. It reports false if
// no such drone is registered (it has died or never existed) or if
// the drone already has an outstanding, unconsumed grant — either
// case is a transaction failure the caller (the operator's dispatch
// loop) must roll back its hangar reservation for.
func (t *Transport) SendGrant(droneID int, grant Grant) bool {
	t.grantMu.Lock()
	ch, ok := t.grants[droneID]
	t.grantMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- grant:
		return true
	default:
		return false
	}
}

// RecvGrant returns the drone's own grant channel, for the drone
// goroutine to select on (blocking takeoff wait) or poll via a
// non-blocking select (battery-draining landing wait) — the
// asymmetry required by spec.md §4.7.
func (t *Transport) RecvGrant(droneID int) <-chan Grant {
	t.grantMu.Lock()
	defer t.grantMu.Unlock()
	return t.grants[droneID]
}
