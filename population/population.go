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

// Package population implements the operator's fleet-size controller:
// target_N, current_active, and the Grow one-shot latch.
package population

// Controller tracks the desired and actual fleet size. It is not
// internally synchronized, matching the rest of the operator's state:
// mutated only by the operator's own loop body.
type Controller struct {
	targetN       int
	currentActive int
	growOnceUsed  bool
}

// New creates a Controller with the given initial target and active
// count (for the standard Air-mode startup, both start equal to N).
func New(targetN, currentActive int) *Controller {
	return &Controller{targetN: targetN, currentActive: currentActive}
}

// TargetN is the desired live population.
func (c *Controller) TargetN() int { return c.targetN }

// CurrentActive is the currently-alive count.
func (c *Controller) CurrentActive() int { return c.currentActive }

// Spawned records that one more drone is alive (Replenish). The
// initial fleet is counted through New's currentActive instead.
func (c *Controller) Spawned() { c.currentActive++ }

// Died records that one drone has died (a Dead message was
// processed). current_active only ever changes by +-1 per dispatched
// message, per spec.md §4.6.
func (c *Controller) Died() { c.currentActive-- }

// Overshooting reports whether current_active exceeds target_N, the
// condition under which spec.md §4.5 deliberately queues (rather than
// grants) incoming ReqLand to accelerate attrition toward the new,
// smaller target.
func (c *Controller) Overshooting() bool {
	return c.currentActive > c.targetN
}

// NeedsReplenish reports how many additional drones should be spawned
// to reach target_N, zero or negative if none are needed.
func (c *Controller) NeedsReplenish() int {
	return c.targetN - c.currentActive
}

// GrowOnceUsed reports whether the one-shot Grow directive has
// already been applied.
func (c *Controller) GrowOnceUsed() bool { return c.growOnceUsed }

// MaxID bounds how large target_N may grow, matching the drone id
// space (registry.MaxID), duplicated here as a plain constant to
// avoid an import cycle between population and registry — both
// derive it from the same spec.md constant (MAX_DRONE_ID = 1024).
const MaxID = 1024

// ApplyGrow doubles target_N if the one-shot latch has not already
// been consumed and the doubled target still fits within MaxID. It
// reports whether the grow was applied.
func (c *Controller) ApplyGrow() bool {
	if c.growOnceUsed {
		return false
	}
	if c.targetN*2 > MaxID {
		return false
	}
	c.targetN *= 2
	c.growOnceUsed = true
	return true
}

// ApplyShrink halves target_N (floor, minimum 1), matching the
// source's asymmetric integer-division semantics (spec.md §9's
// "Open question — ceiling/floor on Shrink": target_N /= 2, floor 1).
func (c *Controller) ApplyShrink() {
	c.targetN /= 2
	if c.targetN < 1 {
		c.targetN = 1
	}
}
