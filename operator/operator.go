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

// Package operator implements the base's concurrent scheduler and
// resource-accounting state machine: the event loop that mediates the
// channel arbiter, the hangar, the wait queues, the drone registry,
// and the population controller.
//
// Operator owns all of that state exclusively and mutates it only
// from within Run's own loop body, the same single-goroutine-owns-it
// discipline tenant.Manager uses for its `live` map: every other
// goroutine (drones, the commander) talks to the Operator only
// through the transport and the Submit method, never by reaching into
// its fields directly.
package operator

import (
	"context"
	"log"
	"time"

	"github.com/AimBought/Drone-swarm/arbiter"
	"github.com/AimBought/Drone-swarm/config"
	"github.com/AimBought/Drone-swarm/drone"
	"github.com/AimBought/Drone-swarm/hangar"
	"github.com/AimBought/Drone-swarm/population"
	"github.com/AimBought/Drone-swarm/registry"
	"github.com/AimBought/Drone-swarm/transport"
	"github.com/AimBought/Drone-swarm/waitqueue"
)

// SpawnFunc creates and starts a new drone with the given id and
// birth mode, and returns a handle the registry can store. Operator
// calls this only from Replenish, always with drone.Base. Supplying
// it as a field (rather than operator importing a concrete drone
// runner) lets the composing root (commander) own goroutine lifetime
// and cancellation for spawned drones, the same inversion
// tenant/dcache.Manager uses by taking a worker constructor rather
// than hard-coding one.
type SpawnFunc func(id int, mode drone.Mode) registry.Handle

// DirectiveKind is a runtime rescaling signal from the commander.
type DirectiveKind int

const (
	// DirectiveGrow doubles the platform, once only.
	DirectiveGrow DirectiveKind = iota
	// DirectiveShrink halves the platform.
	DirectiveShrink
)

// Directive is one commander-issued rescaling signal.
type Directive struct {
	Kind DirectiveKind
}

// Operator is the base's scheduler and resource owner.
type Operator struct {
	cfg    config.Tunables
	tr     *transport.Transport
	hangar *hangar.Hangar
	arb    *arbiter.Arbiter
	queues *waitqueue.WaitQueues
	reg    *registry.Registry
	pop    *population.Controller
	logger *log.Logger
	spawn  SpawnFunc

	directives chan Directive

	// Cumulative counters for the end-of-run summary: every event
	// already gets its own log line, these just aggregate the same
	// events in memory instead of requiring a grep over the log.
	// Written only from Run's own goroutine, the same single-writer
	// discipline as the rest of the Operator's state.
	grants         int
	deaths         int
	replenishments int
}

// New creates an Operator. platformCapacity is P (hangar slots);
// targetN and currentActive are the initial population counters —
// for the standard Air-mode startup both equal N, the size of the
// fleet the commander launches directly.
func New(cfg config.Tunables, tr *transport.Transport, reg *registry.Registry, platformCapacity, targetN, currentActive int, logger *log.Logger, spawn SpawnFunc) *Operator {
	return &Operator{
		cfg:        cfg,
		tr:         tr,
		hangar:     hangar.New(platformCapacity),
		arb:        arbiter.New(cfg.Channels),
		queues:     waitqueue.New(cfg.WaitQueueCapacity),
		reg:        reg,
		pop:        population.New(targetN, currentActive),
		logger:     logger,
		spawn:      spawn,
		directives: make(chan Directive, 16),
	}
}

// Hangar exposes the hangar for diagnostics and tests.
func (op *Operator) Hangar() *hangar.Hangar { return op.hangar }

// Arbiter exposes the channel arbiter for diagnostics and tests.
func (op *Operator) Arbiter() *arbiter.Arbiter { return op.arb }

// Population exposes the population controller for diagnostics and
// tests.
func (op *Operator) Population() *population.Controller { return op.pop }

// Grants is the cumulative count of LAND/TAKEOFF grants issued since
// this Operator started running.
func (op *Operator) Grants() int { return op.grants }

// Deaths is the cumulative count of drones that have reached Dead
// since this Operator started running.
func (op *Operator) Deaths() int { return op.deaths }

// Replenishments is the cumulative count of Base-mode drones spawned
// to close the gap between current_active and target_N.
func (op *Operator) Replenishments() int { return op.replenishments }

// Submit enqueues a directive for the event loop to apply at its next
// iteration. It never blocks: if the directive channel is saturated
// (only possible if the commander floods directives far faster than
// the loop can drain them), the directive is logged and dropped
// rather than stalling whichever goroutine is forwarding it.
func (op *Operator) Submit(d Directive) {
	select {
	case op.directives <- d:
	default:
		op.logger.Printf("directive dropped: queue saturated")
	}
}

// Grow submits a one-shot Grow directive.
func (op *Operator) Grow() { op.Submit(Directive{Kind: DirectiveGrow}) }

// Shrink submits a Shrink directive.
func (op *Operator) Shrink() { op.Submit(Directive{Kind: DirectiveShrink}) }

// Run executes the event loop until ctx is canceled: drain pending
// directives, run the periodic watchdog/replenish pass, then serve
// one pending request or cooperatively wait for the next thing to
// happen (spec.md §4.5).
func (op *Operator) Run(ctx context.Context) {
	op.logger.Printf("[Operator] Ready. P=%d, Target N=%d.", op.hangar.Capacity(), op.pop.TargetN())

	lastCheck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

	drainDirectives:
		for {
			select {
			case d := <-op.directives:
				op.applyDirective(d)
			default:
				break drainDirectives
			}
		}

		if time.Since(lastCheck) >= op.cfg.CheckInterval {
			op.watchdog()
			op.replenish()
			lastCheck = time.Now()
		}

		req, ok := op.tr.Recv()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case d := <-op.directives:
				op.applyDirective(d)
			case <-op.tr.Wake():
			case <-time.After(op.cfg.CooperativeWait):
			}
			continue
		}
		op.dispatch(req)
	}
}

func (op *Operator) applyDirective(d Directive) {
	switch d.Kind {
	case DirectiveGrow:
		op.applyGrow()
	case DirectiveShrink:
		op.applyShrink()
	}
}

func (op *Operator) applyGrow() {
	oldCapacity := op.hangar.Capacity()
	if !op.pop.ApplyGrow() {
		op.logger.Printf("GROW rejected: already applied, or would exceed the id space")
		return
	}
	op.hangar.Grow(oldCapacity)
	op.logger.Printf("GROW: target_N=%d capacity=%d", op.pop.TargetN(), op.hangar.Capacity())
}

func (op *Operator) applyShrink() {
	capacity := op.hangar.Capacity()
	if capacity <= 1 {
		op.logger.Printf("SHRINK rejected: capacity already at minimum")
		return
	}
	removed := capacity / 2 // floor; matches the source's asymmetric P -= P/2
	op.pop.ApplyShrink()
	op.hangar.RequestShrink(removed)
	op.logger.Printf("SHRINK: target_N=%d capacity=%d pending_removal=%d", op.pop.TargetN(), op.hangar.Capacity(), op.hangar.Pending())
}

func (op *Operator) dispatch(req transport.Request) {
	switch req.Kind {
	case transport.ReqLand:
		op.handleReqLand(req.DroneID)
	case transport.ReqTakeoff:
		op.handleReqTakeoff(req.DroneID)
	case transport.Landed:
		op.handleLanded(req.DroneID)
	case transport.Departed:
		op.handleDeparted(req.DroneID)
	case transport.Dead:
		op.handleDead(req.DroneID)
	}
}

func (op *Operator) handleReqLand(id int) {
	if op.pop.Overshooting() {
		op.queues.Enqueue(waitqueue.Landing, id)
		op.logger.Printf("BLOCKED ReqLand %d: population overshooting target", id)
		return
	}
	if op.hangar.FreeSlots() <= 0 {
		op.queues.Enqueue(waitqueue.Landing, id)
		op.logger.Printf("BLOCKED ReqLand %d: hangar full", id)
		return
	}
	ch, ok := op.arb.Pick(arbiter.In)
	if !ok {
		op.queues.Enqueue(waitqueue.Landing, id)
		op.logger.Printf("BLOCKED ReqLand %d: no inbound channel available", id)
		return
	}
	if !op.hangar.TryReserve() {
		op.queues.Enqueue(waitqueue.Landing, id)
		op.logger.Printf("BLOCKED ReqLand %d: hangar filled before reservation", id)
		return
	}
	if !op.tr.SendGrant(id, transport.Grant{ChannelID: ch}) {
		op.hangar.Release()
		op.queues.Enqueue(waitqueue.Landing, id)
		op.logger.Printf("BLOCKED ReqLand %d: grant send failed, reservation rolled back", id)
		return
	}
	op.arb.Begin(ch, arbiter.In)
	op.grants++
	op.logger.Printf("GRANT LAND %d channel %d", id, ch)
}

func (op *Operator) handleReqTakeoff(id int) {
	ch, ok := op.arb.Pick(arbiter.Out)
	if !ok {
		op.queues.Enqueue(waitqueue.Takeoff, id)
		op.logger.Printf("BLOCKED ReqTakeoff %d: no outbound channel available", id)
		return
	}
	if !op.tr.SendGrant(id, transport.Grant{ChannelID: ch}) {
		op.queues.Enqueue(waitqueue.Takeoff, id)
		op.logger.Printf("BLOCKED ReqTakeoff %d: grant send failed", id)
		return
	}
	op.arb.Begin(ch, arbiter.Out)
	op.grants++
	op.logger.Printf("GRANT TAKEOFF %d channel %d", id, ch)
}

func (op *Operator) handleLanded(id int) {
	ch, ok := op.arb.FindRunning(arbiter.In)
	if !ok {
		op.logger.Printf("ERROR Landed %d: no channel currently running inbound", id)
		return
	}
	op.arb.End(ch)
	// The hangar reservation made at ReqLand is retained: the drone
	// now occupies the slot it reserved.
	op.processQueues()
}

func (op *Operator) handleDeparted(id int) {
	ch, ok := op.arb.FindRunning(arbiter.Out)
	if !ok {
		op.logger.Printf("ERROR Departed %d: no channel currently running outbound", id)
		return
	}
	op.arb.End(ch)
	if dismantled := op.hangar.Release(); dismantled {
		op.logger.Printf("platform dismantled: pending removal consumed")
	}
	op.processQueues()
}

func (op *Operator) handleDead(id int) {
	op.queues.Invalidate(id)
	op.pop.Died()
	op.reg.Clear(id)
	op.deaths++
	op.logger.Printf("RIP drone %d", id)
}

// processQueues is run whenever a channel or hangar slot may have
// freed, servicing takeoffs ahead of landings (spec.md §4.3's
// fairness note: takeoffs free hangar slots and so increase system
// liveness).
func (op *Operator) processQueues() {
	if ch, ok := op.arb.Pick(arbiter.Out); ok {
		if id, ok := op.queues.Dequeue(waitqueue.Takeoff); ok {
			if op.tr.SendGrant(id, transport.Grant{ChannelID: ch}) {
				op.arb.Begin(ch, arbiter.Out)
				op.grants++
				op.logger.Printf("GRANT TAKEOFF %d channel %d (queued)", id, ch)
			} else {
				op.queues.Enqueue(waitqueue.Takeoff, id)
				op.logger.Printf("BLOCKED ReqTakeoff %d: grant send failed, re-queued", id)
			}
		}
	}
	if op.pop.CurrentActive() <= op.pop.TargetN() && op.hangar.FreeSlots() > 0 {
		if ch, ok := op.arb.Pick(arbiter.In); ok {
			if id, ok := op.queues.Dequeue(waitqueue.Landing); ok {
				if op.hangar.TryReserve() {
					if op.tr.SendGrant(id, transport.Grant{ChannelID: ch}) {
						op.arb.Begin(ch, arbiter.In)
						op.grants++
						op.logger.Printf("GRANT LAND %d channel %d (queued)", id, ch)
					} else {
						op.hangar.Release()
						op.queues.Enqueue(waitqueue.Landing, id)
						op.logger.Printf("BLOCKED ReqLand %d: grant send failed, re-queued", id)
					}
				} else {
					op.queues.Enqueue(waitqueue.Landing, id)
				}
			}
		}
	}
}

// watchdog self-heals a desynchronized death chain: if the fleet has
// fully drained but the hangar never got back to its full free count
// (and nothing is owed to a pending shrink), reset it by fiat.
func (op *Operator) watchdog() {
	if op.pop.CurrentActive() == 0 && op.hangar.FreeSlots() < op.hangar.Capacity() && op.hangar.Pending() == 0 {
		op.hangar.Reset()
		op.logger.Printf("WATCHDOG: hangar free slots resynchronized to capacity")
	}
}

// replenish spawns Base-mode drones to close the gap between
// current_active and target_N, bounded by available hangar slots.
func (op *Operator) replenish() {
	need := op.pop.NeedsReplenish()
	if need <= 0 {
		return
	}
	n := need
	if free := op.hangar.FreeSlots(); free < n {
		n = free
	}
	for i := 0; i < n; i++ {
		if !op.hangar.TryReserve() {
			break
		}
		id := op.reg.Allocate(nil)
		if id < 0 {
			op.hangar.Release()
			op.logger.Printf("REPLENISH failed: drone id space exhausted")
			break
		}
		handle := op.spawn(id, drone.Base)
		op.reg.Set(id, handle)
		op.pop.Spawned()
		op.replenishments++
		op.logger.Printf("REPLENISH drone %d", id)
	}
}
