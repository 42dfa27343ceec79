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

package population

import "testing"

func TestGrowLatchOnce(t *testing.T) {
	c := New(5, 5)
	if !c.ApplyGrow() {
		t.Fatal("expected first Grow to apply")
	}
	if got := c.TargetN(); got != 10 {
		t.Fatalf("TargetN = %d, want 10", got)
	}
	if c.ApplyGrow() {
		t.Fatal("expected second Grow to be rejected")
	}
	if got := c.TargetN(); got != 10 {
		t.Fatalf("TargetN = %d, want 10 (unchanged)", got)
	}
}

func TestGrowRejectedPastMaxID(t *testing.T) {
	c := New(600, 600)
	if c.ApplyGrow() {
		t.Fatal("expected Grow to be rejected: 2*600 > MaxID")
	}
}

func TestShrinkFloorsAtOne(t *testing.T) {
	c := New(1, 1)
	c.ApplyShrink()
	if got := c.TargetN(); got != 1 {
		t.Fatalf("TargetN = %d, want 1 (floor)", got)
	}
}

func TestShrinkHalves(t *testing.T) {
	c := New(10, 10)
	c.ApplyShrink()
	if got := c.TargetN(); got != 5 {
		t.Fatalf("TargetN = %d, want 5", got)
	}
}

func TestOvershootingAndReplenish(t *testing.T) {
	c := New(5, 5)
	c.ApplyShrink() // target -> 2, active still 5
	if !c.Overshooting() {
		t.Fatal("expected overshoot after shrink")
	}
	c.Died()
	c.Died()
	c.Died()
	if c.Overshooting() {
		t.Fatal("expected overshoot to resolve once active caught up to target")
	}
	if got := c.NeedsReplenish(); got != 0 {
		t.Fatalf("NeedsReplenish = %d, want 0", got)
	}
}
