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

// Package commander launches the Operator and the initial fleet of
// drones, forwards runtime directives read from standard input, and
// coordinates shutdown — the supervisor role commander.c plays over
// forked child processes, reduced here to goroutine lifecycle
// management (spec.md §4.8).
package commander

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AimBought/Drone-swarm/config"
	"github.com/AimBought/Drone-swarm/drone"
	"github.com/AimBought/Drone-swarm/logging"
	"github.com/AimBought/Drone-swarm/operator"
	"github.com/AimBought/Drone-swarm/registry"
	"github.com/AimBought/Drone-swarm/transport"
)

// droneHandle is what the registry stores for every live drone: the
// state machine itself (so Attack can be forwarded to it directly,
// per spec.md §4.8 — kamikaze bypasses the Operator) and the cancel
// func that tears its goroutine down on shutdown.
type droneHandle struct {
	drone  *drone.Drone
	cancel context.CancelFunc
}

// Commander supervises one simulation run.
type Commander struct {
	runID            string
	platformCapacity int
	fleetSize        int
	cfg              config.Tunables

	tr     *transport.Transport
	reg    *registry.Registry
	op     *operator.Operator
	logger *log.Logger

	wg sync.WaitGroup
}

// New validates P (platform/hangar capacity) and N (fleet size)
// against spec.md §4.8's constraints and constructs a Commander ready
// to Run. It does not launch anything yet.
func New(platformCapacity, fleetSize int, cfg config.Tunables) (*Commander, error) {
	if platformCapacity <= 0 || fleetSize <= 0 {
		return nil, fmt.Errorf("commander: P and N must be positive, got P=%d N=%d", platformCapacity, fleetSize)
	}
	if 2*platformCapacity >= fleetSize {
		return nil, fmt.Errorf("commander: require 2*P < N, got P=%d N=%d", platformCapacity, fleetSize)
	}
	if fleetSize > registry.MaxID {
		return nil, fmt.Errorf("commander: N=%d exceeds the drone id space (%d)", fleetSize, registry.MaxID)
	}
	return &Commander{
		runID:            uuid.NewString(),
		platformCapacity: platformCapacity,
		fleetSize:        fleetSize,
		cfg:              cfg,
		tr:               transport.New(),
		reg:              registry.New(),
		logger:           logging.For("commander"),
	}, nil
}

// RunID is a correlation id unique to this simulation run, logged on
// the commander's startup line to identify the invocation — the same
// role a request id plays when dcache logs a worker fetch. It is not
// attached to operator or drone log lines.
func (c *Commander) RunID() string { return c.runID }

// launch starts one drone's goroutine under a child of ctx (so it can
// be individually canceled) and registers its grant channel. The
// caller is responsible for recording the returned handle in the
// registry.
func (c *Commander) launch(ctx context.Context, id int, mode drone.Mode) droneHandle {
	c.tr.RegisterDrone(id)
	dCtx, cancel := context.WithCancel(ctx)
	d := drone.New(id, mode, c.cfg, c.tr, logging.For("drone", id))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		d.Run(dCtx)
	}()
	return droneHandle{drone: d, cancel: cancel}
}

// Run launches the Operator and the initial Air-mode fleet, forwards
// directives read from stdin until ctx is canceled, then propagates
// shutdown to every goroutine and waits for them to exit.
func (c *Commander) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.logger.Printf("run %s starting: P=%d N=%d", c.runID, c.platformCapacity, c.fleetSize)

	spawn := func(id int, mode drone.Mode) registry.Handle {
		return c.launch(ctx, id, mode)
	}
	c.op = operator.New(c.cfg, c.tr, c.reg, c.platformCapacity, c.fleetSize, c.fleetSize, logging.For("operator"), spawn)

	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.op.Run(opCtx)
	}()

	for id := 0; id < c.fleetSize; id++ {
		h := c.launch(ctx, id, drone.Air)
		c.reg.Set(id, h)
	}
	c.logger.Printf("all processes launched, monitoring")

	c.monitor(ctx, os.Stdin)

	cancel()
	c.wg.Wait()
	c.logger.Printf("%s", c.Summary())
	return nil
}

// Summary reports the state of the fleet at the end of a run: drones
// still active, plus the cumulative grants/deaths/replenishments the
// Operator counted over its lifetime. The original commander printed
// only the active-drone count at shutdown; every figure here comes
// from in-memory counters the Operator already maintains, never from
// re-reading the run's own log output.
func (c *Commander) Summary() string {
	return fmt.Sprintf(
		"simulation finished: %d drones remaining in registry, %d grants, %d deaths, %d replenishments",
		c.reg.Count(), c.op.Grants(), c.op.Deaths(), c.op.Replenishments(),
	)
}

// monitor reads directives from r (os.Stdin in production; a fake
// reader in tests) until ctx is canceled, forwarding Grow/Shrink to
// the Operator and Attack directly to the targeted drone. It also
// logs a status line once per second — the idiomatic-Go analogue of
// the original commander's sleep(1)/waitpid(WNOHANG) polling cadence,
// here driven by a ticker instead of reaping child processes.
//
// Canceling ctx does not interrupt an in-flight blocking read from r;
// the reader goroutine is abandoned rather than joined on shutdown,
// the same caveat any Go program reading stdin under a context
// accepts, since os.Stdin offers no portable cancellation hook.
func (c *Commander) monitor(ctx context.Context, r io.Reader) {
	directives := make(chan directive, 8)
	go readDirectives(r, directives)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-directives:
			if !ok {
				// The input stream is exhausted (e.g. stdin is
				// /dev/null or a closed pipe); stop selecting on it
				// but keep monitoring until ctx is canceled.
				directives = nil
				continue
			}
			c.apply(d)
		case <-ticker.C:
			c.logger.Printf("status: %d drones registered, target_N=%d", c.reg.Count(), c.op.Population().TargetN())
		}
	}
}

func (c *Commander) apply(d directive) {
	switch d.kind {
	case directiveGrow:
		c.op.Grow()
	case directiveShrink:
		c.op.Shrink()
	case directiveAttack:
		h, ok := c.reg.Lookup(d.id)
		if !ok {
			c.logger.Printf("ORPHANED Attack(%d): no such drone", d.id)
			return
		}
		handle, ok := h.(droneHandle)
		if !ok {
			c.logger.Printf("ORPHANED Attack(%d): registry handle of unexpected type", d.id)
			return
		}
		handle.drone.Attack()
	}
}

type directiveKind int

const (
	directiveGrow directiveKind = iota
	directiveShrink
	directiveAttack
)

type directive struct {
	kind directiveKind
	id   int
}

// readDirectives parses newline-delimited directives from r: "1" for
// Grow, "2" for Shrink, "3 <id>" for Attack, forwarding each onto out.
// It returns (closing out) when r is exhausted or produces an error.
func readDirectives(r io.Reader, out chan<- directive) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line[0] {
		case '1':
			out <- directive{kind: directiveGrow}
		case '2':
			out <- directive{kind: directiveShrink}
		case '3':
			rest := strings.TrimSpace(line[1:])
			id, err := strconv.Atoi(rest)
			if err != nil {
				continue
			}
			out <- directive{kind: directiveAttack, id: id}
		}
	}
}
