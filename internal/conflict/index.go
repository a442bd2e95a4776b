/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package conflict maintains the derived per-resource interval index
// used for booking overlap queries. The index mirrors approved
// bookings only; it is rebuilt from the ledger at startup and kept in
// sync on every commit, cancel, and completion sweep.
package conflict

import (
	"sort"
	"sync"

	"github.com/friendsincode/skuld/internal/interval"
)

// Entry is one approved booking interval.
type Entry struct {
	BookingID string
	Window    interval.Window
}

// Index holds sorted interval sets keyed by resource ID.
//
// Mutations (Insert, Remove, Load) are only ever called while the
// engine holds that resource's serialization, so two writers never
// race on the same resource. The internal RWMutex additionally makes
// lock-free reads safe for reporting callers, which tolerate an
// eventually-consistent snapshot.
type Index struct {
	mu         sync.RWMutex
	byResource map[string][]Entry
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byResource: make(map[string][]Entry)}
}

// FindOverlaps returns all entries for the resource whose window
// intersects w, in start order. Entries are sorted by start, so the
// scan can stop once entry starts reach w.End.
func (idx *Index) FindOverlaps(resourceID string, w interval.Window) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Entry
	for _, e := range idx.byResource[resourceID] {
		if !e.Window.Start.Before(w.End) {
			break
		}
		if e.Window.Overlaps(w) {
			out = append(out, e)
		}
	}
	return out
}

// Insert adds an entry for the resource, keeping the set sorted by
// window start.
func (idx *Index) Insert(resourceID, bookingID string, w interval.Window) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := idx.byResource[resourceID]
	pos := sort.Search(len(entries), func(i int) bool {
		return entries[i].Window.Start.After(w.Start)
	})
	entries = append(entries, Entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = Entry{BookingID: bookingID, Window: w}
	idx.byResource[resourceID] = entries
}

// Remove deletes the entry with the given booking ID. Returns false if
// the booking was not indexed for that resource.
func (idx *Index) Remove(resourceID, bookingID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := idx.byResource[resourceID]
	for i, e := range entries {
		if e.BookingID == bookingID {
			idx.byResource[resourceID] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Load replaces the full index contents. Used at startup to rebuild
// from the ledger's approved bookings.
func (idx *Index) Load(entries map[string][]Entry) {
	fresh := make(map[string][]Entry, len(entries))
	for resourceID, list := range entries {
		copied := append([]Entry(nil), list...)
		sort.Slice(copied, func(i, j int) bool {
			return copied[i].Window.Start.Before(copied[j].Window.Start)
		})
		fresh[resourceID] = copied
	}

	idx.mu.Lock()
	idx.byResource = fresh
	idx.mu.Unlock()
}

// Size returns the number of indexed entries for a resource.
func (idx *Index) Size(resourceID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byResource[resourceID])
}

// Entries returns a snapshot of a resource's entries in start order.
func (idx *Index) Entries(resourceID string) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]Entry(nil), idx.byResource[resourceID]...)
}
