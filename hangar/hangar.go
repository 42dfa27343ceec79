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

// Package hangar implements the bounded charging-bay slot counter
// owned by the operator.
//
// The original C implementation keeps this counter in a SysV
// semaphore (reserve = semop(-1, IPC_NOWAIT), release = semop(+1)).
// Here it is a plain mutex-guarded struct, since the operator is the
// sole owner and mutator of hangar state (spec.md §5) and every other
// goroutine only ever calls through Hangar's exported methods.
package hangar

import "sync"

// Hangar is the bounded charging-bay slot counter.
//
// Invariant: 0 <= free <= capacity at every observation point, and
// free + occupied == capacity + pending outside of Reset, where
// occupied is tracked implicitly by the caller (every reserved slot
// that has not yet been released).
type Hangar struct {
	mu       sync.Mutex
	capacity int
	free     int
	pending  int // slots logically destroyed, still physically occupied
}

// New creates a Hangar with the given initial capacity, entirely free.
func New(capacity int) *Hangar {
	return &Hangar{capacity: capacity, free: capacity}
}

// TryReserve atomically decrements the free-slot count if it is
// greater than zero, and reports whether it succeeded.
func (h *Hangar) TryReserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.free <= 0 {
		return false
	}
	h.free--
	return true
}

// Release returns a slot to the hangar. If slots are owed to a
// pending shrink, the release is consumed by that debt instead of
// growing the free count (the platform the slot belonged to is
// dismantled). Release reports true if a slot was physically
// dismantled rather than freed, so the caller can log it.
func (h *Hangar) Release() (dismantled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending > 0 {
		h.pending--
		return true
	}
	h.free++
	return false
}

// FreeSlots is an observational read of the current free-slot count.
func (h *Hangar) FreeSlots() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.free
}

// Capacity is an observational read of the current nominal capacity.
// It only changes via Grow and RequestShrink.
func (h *Hangar) Capacity() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capacity
}

// Pending is an observational read of the outstanding deferred-removal
// count.
func (h *Hangar) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// Grow increases free slots and capacity by k. Used only by the Grow
// directive.
func (h *Hangar) Grow(k int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capacity += k
	h.free += k
}

// RequestShrink immediately destroys min(k, free) free slots and adds
// any remainder to the pending-removal debt, to be consumed
// preferentially by future calls to Release. The nominal capacity is
// reduced by k immediately (the slots are logically gone even if some
// are still physically occupied).
func (h *Hangar) RequestShrink(k int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if k <= 0 {
		return
	}
	h.capacity -= k
	immediate := k
	if immediate > h.free {
		immediate = h.free
	}
	h.free -= immediate
	h.pending += k - immediate
}

// Reset forcibly sets the free count back to the full capacity. This
// is the operator watchdog's self-heal path: after a fully drained
// fleet (current_active == 0) with no deferred removals owed, any
// desynchronization between free slots and capacity is corrected by
// fiat, the same "fix na martwe semafory" recovery the original
// operator.c performs with semctl(SETVAL).
func (h *Hangar) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.free = h.capacity
}
