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

package drone

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/AimBought/Drone-swarm/config"
	"github.com/AimBought/Drone-swarm/transport"
)

func fastTunables() config.Tunables {
	cfg := config.Default()
	cfg.LandingPollInterval = 2 * time.Millisecond
	cfg.CrossingTime = 2 * time.Millisecond
	cfg.ChargeDuration = 4 * time.Millisecond
	cfg.FlightDurationFactor = 4 // T2 = 16ms, ~10%/tick drain at a 2ms poll
	cfg.MaxCycles = 1
	return cfg
}

func waitForKind(t *testing.T, tr *transport.Transport, kind transport.RequestKind, timeout time.Duration) transport.Request {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if req, ok := tr.Recv(); ok {
			if req.Kind == kind {
				return req
			}
			continue
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestAttackOutsideDiesImmediately(t *testing.T) {
	cfg := fastTunables()
	tr := transport.New()
	tr.RegisterDrone(1)
	logger := log.New(testLogWriter{t}, "", 0)
	d := New(1, Air, cfg, tr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	time.Sleep(5 * time.Millisecond)
	d.Attack()

	waitForKind(t, tr, transport.Dead, time.Second)
}

func TestAttackBelowCriticalIgnored(t *testing.T) {
	cfg := fastTunables()
	tr := transport.New()
	tr.RegisterDrone(1)
	logger := log.New(testLogWriter{t}, "", 0)
	d := New(1, Air, cfg, tr, logger)
	d.mu.Lock()
	d.battery = cfg.BatteryCritical - 1
	d.mu.Unlock()

	d.Attack()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.forceDyingOutside || d.kamikazePending {
		t.Fatal("attack below critical battery should be ignored")
	}
}

func TestAttackInsideLatchesAndDiesAfterCycle(t *testing.T) {
	cfg := fastTunables()
	cfg.MaxCycles = 1000 // wear-out must not be what kills it here
	tr := transport.New()
	tr.RegisterDrone(5)
	logger := log.New(testLogWriter{t}, "", 0)
	d := New(5, Base, cfg, tr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Base mode starts Inside in RequestingTakeoff; latch the attack
	// before granting takeoff so it must finish its cycle then die,
	// not resume flying.
	d.Attack()
	d.mu.Lock()
	if !d.kamikazePending {
		d.mu.Unlock()
		t.Fatal("expected kamikaze to latch for an Inside drone")
	}
	d.mu.Unlock()

	req := waitForKind(t, tr, transport.ReqTakeoff, time.Second)
	if !tr.SendGrant(req.DroneID, transport.Grant{ChannelID: 0}) {
		t.Fatal("expected takeoff grant to be deliverable")
	}

	waitForKind(t, tr, transport.Departed, time.Second)
	waitForKind(t, tr, transport.Dead, time.Second)
}

// TestAttackDuringCrossingInLatchesKamikaze covers a kamikaze
// delivered while the drone is mid-tunnel inbound: it must not be
// forgotten until a whole extra cycle has flown. The crossing
// completes normally (Landed still fires), but the drone must finish
// this cycle and die after Departed instead of flying again.
func TestAttackDuringCrossingInLatchesKamikaze(t *testing.T) {
	cfg := fastTunables()
	cfg.CrossingTime = 40 * time.Millisecond
	cfg.MaxCycles = 1000 // only the kamikaze should kill it, not wear-out
	tr := transport.New()
	tr.RegisterDrone(11)
	logger := log.New(testLogWriter{t}, "", 0)
	d := New(11, Air, cfg, tr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := waitForKind(t, tr, transport.ReqLand, time.Second)
	if !tr.SendGrant(req.DroneID, transport.Grant{ChannelID: 0}) {
		t.Fatal("expected landing grant to be deliverable")
	}

	// Attack mid-crossing, while the drone is still nominally Outside.
	time.Sleep(cfg.CrossingTime / 2)
	d.mu.Lock()
	if d.location != Outside {
		d.mu.Unlock()
		t.Fatal("test attacked too late: drone already landed")
	}
	d.mu.Unlock()
	d.Attack()

	waitForKind(t, tr, transport.Landed, time.Second)
	d.mu.Lock()
	stillForcedOutside := d.forceDyingOutside
	latched := d.kamikazePending
	d.mu.Unlock()
	if stillForcedOutside {
		t.Fatal("forceDyingOutside should have been converted to a latched kamikaze on landing")
	}
	if !latched {
		t.Fatal("expected the mid-crossing attack to latch as a kamikaze once landed")
	}

	req = waitForKind(t, tr, transport.ReqTakeoff, time.Second)
	if !tr.SendGrant(req.DroneID, transport.Grant{ChannelID: 0}) {
		t.Fatal("expected takeoff grant to be deliverable")
	}
	waitForKind(t, tr, transport.Departed, time.Second)
	waitForKind(t, tr, transport.Dead, time.Second)
}

func TestFullCycleBaseDronesWornOutAfterMaxCycles(t *testing.T) {
	cfg := fastTunables()
	cfg.MaxCycles = 1
	tr := transport.New()
	tr.RegisterDrone(9)
	logger := log.New(testLogWriter{t}, "", 0)
	d := New(9, Base, cfg, tr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	req := waitForKind(t, tr, transport.ReqTakeoff, time.Second)
	if !tr.SendGrant(req.DroneID, transport.Grant{ChannelID: 0}) {
		t.Fatal("expected takeoff grant to be deliverable")
	}
	waitForKind(t, tr, transport.Departed, time.Second)

	// With a tiny T2, the drone should drain to critical and request
	// landing quickly.
	req = waitForKind(t, tr, transport.ReqLand, time.Second)
	if !tr.SendGrant(req.DroneID, transport.Grant{ChannelID: 1}) {
		t.Fatal("expected landing grant to be deliverable")
	}
	waitForKind(t, tr, transport.Landed, time.Second)

	// Charges, requests takeoff again, and this time should die of
	// wear-out instead of flying a second cycle.
	req = waitForKind(t, tr, transport.ReqTakeoff, time.Second)
	if !tr.SendGrant(req.DroneID, transport.Grant{ChannelID: 0}) {
		t.Fatal("expected second takeoff grant to be deliverable")
	}
	waitForKind(t, tr, transport.Departed, time.Second)
	waitForKind(t, tr, transport.Dead, time.Second)
}

// testLogWriter discards drone log lines during tests via t.Logf so
// failures still show the sequence of states without cluttering
// normal test output.
type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
