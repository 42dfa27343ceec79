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

// Package registry implements the drone id -> handle directory.
//
// The original C implementation keeps a pid_t[MAX_DRONE_ID] array in
// shared memory, with 0 meaning "slot free". Here the same shape is
// a mutex-guarded map, written by the commander for the initial fleet
// and by the operator (as drones are replenished and die), and read
// by the commander to target directives —
// the same split tenant.Manager uses between its own mutations of
// `live` and the read-only view it exposes for diagnostics.
package registry

import (
	"sort"
	"sync"

	"golang.org/x/exp/slices"
)

// MaxID is the size of the drone id space, matching MAX_DRONE_ID in
// common.h.
const MaxID = 1024

// Handle is an opaque reference to a running drone. In the original
// this is a pid_t; here it is anything the caller's goroutine
// bookkeeping needs (e.g. a cancel func or a struct carrying one).
type Handle interface{}

// Registry is the id -> handle directory.
type Registry struct {
	mu      sync.Mutex
	handles map[int]Handle
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handles: make(map[int]Handle)}
}

// Allocate finds the lowest free id in [0, MaxID), records handle
// under it, and returns the id. It returns -1 if the registry is
// full. The operator's Replenish-driven Base-mode spawns use it, so
// ids are recycled rather than growing unboundedly; the commander's
// initial Air-mode fleet is recorded with Set instead.
func (r *Registry) Allocate(handle Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	used := make([]int, 0, len(r.handles))
	for id := range r.handles {
		used = append(used, id)
	}
	sort.Ints(used)
	for id := 0; id < MaxID; id++ {
		if _, found := slices.BinarySearch(used, id); !found {
			r.handles[id] = handle
			return id
		}
	}
	return -1
}

// Set records handle directly under id, used when the caller (e.g.
// the commander launching the initial Air-mode fleet) has already
// chosen the id deterministically (0..N-1).
func (r *Registry) Set(id int, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = handle
}

// Clear removes id from the registry. Called when a drone's Dead
// message is processed.
func (r *Registry) Clear(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Lookup returns the handle registered for id, and whether it is
// present. Reads may observe a handle for a drone that has exited
// moments ago (spec.md §5); callers must tolerate that rather than
// treat it as an error.
func (r *Registry) Lookup(id int) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Count reports the number of live entries, which spec.md §8's
// invariant 8 requires to equal current_active at steady-state
// observation points.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// IDs returns a sorted snapshot of the currently-registered drone
// ids, for diagnostics and targeted directive validation.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
