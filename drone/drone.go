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

// Package drone implements the per-drone lifecycle state machine:
// flight, battery drain, the landing/takeoff request-grant exchange,
// charging, wear-out, and kamikaze handling.
//
// Each Drone is intended to run as its own goroutine (one Run call
// per goroutine is the idiomatic-Go stand-in for the one
// fork/execl child process the original drone.c becomes). All of a
// Drone's mutable state is private and guarded by its own mutex, so
// Attack — called from whatever goroutine is servicing commander
// directives — can safely observe and latch state concurrently with
// the drone's own run loop, the same shape tenant/dcache's
// reservation type uses for fields "guarded by queue.lock".
package drone

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/dchest/siphash"

	"github.com/AimBought/Drone-swarm/config"
	"github.com/AimBought/Drone-swarm/transport"
)

// Location is where a drone currently is, which determines whether a
// kamikaze directive can be honored immediately (spec.md §3, §4.7).
type Location int

const (
	// Outside covers free flight, the landing-wait queue, and the
	// inbound crossing.
	Outside Location = iota
	// Inside covers the hangar and the outbound crossing.
	Inside
)

func (l Location) String() string {
	if l == Inside {
		return "inside"
	}
	return "outside"
}

// Mode is the drone's birth mode (spec.md §4.7 "Startup modes").
type Mode int

const (
	// Air is an externally-born drone: starts Flying with a random
	// battery in [50,100], already Outside.
	Air Mode = iota
	// Base is an operator-replenished drone: starts
	// RequestingTakeoff with a full battery, already Inside.
	Base
)

// state is the drone's lifecycle state (spec.md §4.7).
type state int

const (
	stateFlying state = iota
	stateRequestingLand
	stateCrossingIn
	stateCharging
	stateRequestingTakeoff
	stateCrossingOut
	stateDying
	stateTerminated
)

// seedSalt scatters every drone's siphash-derived seed so the
// fleet's battery starting points diverge from drone to drone (and
// repeat identically from run to run) without reading the system clock — the same deterministic-hash-to-bucket
// approach tenant.go uses (siphash.Hash128) to scatter tenant
// shards, applied here to battery start values instead.
const seedSalt uint64 = 0x44524f4e45534c49

// seedFor derives a PRNG seed for a drone id so the fleet
// desynchronizes (spec.md §4.7) reproducibly rather than racing the
// wall clock for entropy.
func seedFor(id int) int64 {
	lo, hi := siphash.Hash128(seedSalt, uint64(id), []byte("drone-battery-seed"))
	return int64(lo ^ hi)
}

// Drone is one fleet member's lifecycle state machine.
type Drone struct {
	id        int
	startMode Mode
	cfg       config.Tunables
	tr        *transport.Transport
	logger    *log.Logger
	rng       *rand.Rand

	mu                sync.Mutex
	battery           float64
	location          Location
	cyclesFlown       int
	kamikazePending   bool
	forceDyingOutside bool
}

// New creates a Drone with the given id, birth mode, and tunables. It
// does not run until Run is called. The caller must have already
// called transport.RegisterDrone(id) so the drone's grant channel
// exists before Run sends its first request.
func New(id int, mode Mode, cfg config.Tunables, tr *transport.Transport, logger *log.Logger) *Drone {
	d := &Drone{
		id:        id,
		startMode: mode,
		cfg:       cfg,
		tr:        tr,
		logger:    logger,
		rng:       rand.New(rand.NewSource(seedFor(id))),
	}
	switch mode {
	case Base:
		d.battery = cfg.BatteryFull
		d.location = Inside
	default: // Air
		d.battery = 50 + d.rng.Float64()*50
		d.location = Outside
	}
	return d
}

// ID returns the drone's registry id.
func (d *Drone) ID() int { return d.id }

// Battery returns the current battery percentage.
func (d *Drone) Battery() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.battery
}

// Attack delivers a kamikaze directive (spec.md §4.7 "Kamikaze"). A
// drone below the critical battery threshold ignores it outright —
// it is already on the way down. Otherwise, a drone currently Outside
// dies immediately; a drone currently Inside latches the directive,
// cuts any charge short, takes off through the outbound tunnel
// (sending Departed so its hangar slot is released), and then dies
// instead of flying again.
func (d *Drone) Attack() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.battery < d.cfg.BatteryCritical {
		d.logger.Printf("kamikaze ignored: battery %.1f already below critical", d.battery)
		return
	}
	if d.location == Outside {
		d.forceDyingOutside = true
		d.logger.Printf("kamikaze: outside, dying immediately")
		return
	}
	d.kamikazePending = true
	d.logger.Printf("kamikaze: latched, will die after this cycle")
}

// drainLocked subtracts the battery drained over dt and reports
// whether it reached zero. Caller must hold d.mu.
func (d *Drone) drainLocked(dt time.Duration) (dead bool) {
	d.battery -= d.cfg.DrainRatePerSecond() * dt.Seconds()
	if d.battery <= 0 {
		d.battery = 0
		return true
	}
	return false
}

// Run executes the drone's lifecycle state machine until it dies or
// ctx is canceled. It sends Landed, Departed, and Dead notifications
// to tr as the corresponding transitions occur, and, when it dies,
// unregisters its grant channel as its last act so a recycled id never
// observes a stale grant. Cancellation of ctx returns without sending
// Dead or unregistering.
func (d *Drone) Run(ctx context.Context) {
	st := stateFlying
	if d.startMode == Base {
		st = stateRequestingTakeoff
	}
	for {
		switch st {
		case stateFlying:
			st = d.flying(ctx)
		case stateRequestingLand:
			st = d.requestingLand(ctx)
		case stateCrossingIn:
			st = d.crossingIn(ctx)
		case stateCharging:
			st = d.charging(ctx)
		case stateRequestingTakeoff:
			st = d.requestingTakeoff(ctx)
		case stateCrossingOut:
			st = d.crossingOut(ctx)
		case stateDying:
			d.die()
			return
		case stateTerminated:
			return
		}
	}
}

func (d *Drone) flying(ctx context.Context) state {
	d.logger.Printf("flying (battery %.1f%%)", d.Battery())
	ticker := time.NewTicker(d.cfg.LandingPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return stateTerminated
		case <-ticker.C:
			d.mu.Lock()
			if d.forceDyingOutside {
				d.mu.Unlock()
				return stateDying
			}
			dead := d.drainLocked(d.cfg.LandingPollInterval)
			critical := d.battery <= d.cfg.BatteryCritical
			d.mu.Unlock()
			if dead {
				return stateDying
			}
			if critical {
				return stateRequestingLand
			}
		}
	}
}

func (d *Drone) requestingLand(ctx context.Context) state {
	d.logger.Printf("requesting landing (battery %.1f%%)", d.Battery())
	d.tr.Send(transport.Request{Kind: transport.ReqLand, DroneID: d.id})
	grants := d.tr.RecvGrant(d.id)
	ticker := time.NewTicker(d.cfg.LandingPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return stateTerminated
		case <-grants:
			return stateCrossingIn
		case <-ticker.C:
			d.mu.Lock()
			if d.forceDyingOutside {
				d.mu.Unlock()
				return stateDying
			}
			dead := d.drainLocked(d.cfg.LandingPollInterval)
			d.mu.Unlock()
			if dead {
				return stateDying
			}
		}
	}
}

// crossingIn and crossingOut run the tunnel traversal to completion
// uninterrupted, matching the original's plain sleep(CROSSING_TIME): a
// kamikaze directive cannot interrupt a crossing already in flight. A
// drone is still nominally Outside for the whole of crossingIn, so an
// attack landing during the tunnel traversal sets forceDyingOutside;
// crossingIn converts that into a latched kamikaze once the crossing
// completes, rather than leaving it unchecked until the drone is back
// in Flying or RequestingLand a full cycle later.
func (d *Drone) crossingIn(ctx context.Context) state {
	d.logger.Printf("crossing in")
	select {
	case <-ctx.Done():
		return stateTerminated
	case <-time.After(d.cfg.CrossingTime):
	}
	d.mu.Lock()
	d.location = Inside
	d.cyclesFlown++
	if d.forceDyingOutside {
		d.forceDyingOutside = false
		d.kamikazePending = true
	}
	d.mu.Unlock()
	d.tr.Send(transport.Request{Kind: transport.Landed, DroneID: d.id})
	return stateCharging
}

func (d *Drone) charging(ctx context.Context) state {
	d.mu.Lock()
	start := d.battery
	d.mu.Unlock()
	remaining := time.Duration(float64(d.cfg.ChargeDuration) * (d.cfg.BatteryFull - start) / d.cfg.BatteryFull)
	d.logger.Printf("charging (battery %.1f%%, ~%s to full)", start, remaining)
	if remaining <= 0 {
		return stateRequestingTakeoff
	}
	deadline := time.Now().Add(remaining)
	poll := time.NewTicker(d.cfg.LandingPollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return stateTerminated
		case <-poll.C:
			d.mu.Lock()
			aborted := d.kamikazePending
			if aborted || !time.Now().Before(deadline) {
				elapsed := remaining - time.Until(deadline)
				frac := elapsed.Seconds() / remaining.Seconds()
				if frac > 1 {
					frac = 1
				}
				if frac < 0 {
					frac = 0
				}
				d.battery = start + (d.cfg.BatteryFull-start)*frac
				d.mu.Unlock()
				return stateRequestingTakeoff
			}
			d.mu.Unlock()
		}
	}
}

func (d *Drone) requestingTakeoff(ctx context.Context) state {
	d.logger.Printf("requesting takeoff (battery %.1f%%)", d.Battery())
	d.tr.Send(transport.Request{Kind: transport.ReqTakeoff, DroneID: d.id})
	grants := d.tr.RecvGrant(d.id)
	select {
	case <-ctx.Done():
		return stateTerminated
	case <-grants:
		return stateCrossingOut
	}
}

func (d *Drone) crossingOut(ctx context.Context) state {
	d.logger.Printf("crossing out")
	select {
	case <-ctx.Done():
		return stateTerminated
	case <-time.After(d.cfg.CrossingTime):
	}
	d.mu.Lock()
	d.location = Outside
	kamikaze := d.kamikazePending
	wornOut := d.cyclesFlown >= d.cfg.MaxCycles
	d.mu.Unlock()
	d.tr.Send(transport.Request{Kind: transport.Departed, DroneID: d.id})
	if kamikaze {
		return stateDying
	}
	if wornOut {
		d.logger.Printf("worn out after %d cycles", d.cyclesFlown)
		return stateDying
	}
	return stateFlying
}

func (d *Drone) die() {
	d.logger.Printf("RIP")
	d.tr.Send(transport.Request{Kind: transport.Dead, DroneID: d.id})
	d.tr.UnregisterDrone(d.id)
}
