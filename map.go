// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package indexmap implements a hash map that preserves insertion order and
// supports positional access. See also the Rust crate it is modeled on:
// https://docs.rs/indexmap.
//
// # Layout
//
// A Map is two structures kept mutually consistent:
//
//   - The entry store, a dense []Bucket holding (hash, key, value) records in
//     insertion order. A record is addressed by its position in [0, Len()).
//     Iteration walks the entry store, so iteration order is insertion order
//     unless a swap removal moved the last entry into a vacated position.
//
//   - The index, a Swiss table (https://abseil.io/about/design/swisstables)
//     whose slots hold positions into the entry store instead of keys and
//     values. The index uses open-addressing with quadratic probing over
//     groups of 8 slots and a separate array of 1 byte per slot control
//     bytes holding 7 bits of the hash, exactly like
//     github.com/cockroachdb/swiss. Keys are compared by looking up the
//     candidate position in the entry store.
//
// The hash of every record is cached in its Bucket. Growing the index,
// rehashing it in place and relocating a position after a removal only read
// the cached hash; keys are hashed exactly once, on insertion.
//
// # Removal
//
// There are two ways to remove an entry and they trade cost against order:
//
//   - SwapRemove is O(1). The last entry is moved into the vacated position
//     and the index slot that pointed at the last position is retargeted.
//     This perturbs the position of the former last entry.
//
//   - ShiftRemove is O(n). Every entry after the vacated position moves down
//     by one and every index slot pointing past it is decremented. The
//     relative order of the remaining entries is preserved.
//
// # Raw entries
//
// RawEntry and RawEntryMut expose the index directly: callers may supply a
// precomputed hash, a custom match predicate, or defer constructing an
// owned key until they know an insertion is needed. The *HashedNocheck
// variants trust the supplied hash. A wrong hash makes a lookup miss, or an
// inserted entry unreachable through correctly hashed lookups; it never
// causes an out of bounds access because every access goes through a
// bounds checked position.
//
// # Equality
//
// Two Maps are Equal if they hold the same key/value pairs, regardless of
// order. Two Slices are equal only if they hold the same entries in the same
// order.
package indexmap

import (
	"fmt"
	"hash/maphash"
	"strings"

	"github.com/cockroachdb/errors"
)

// Map is a hash map from keys to values that remembers the order in which
// keys were inserted and allows entries to be accessed by position. By
// default, a Map[K,V] hashes keys with hash/maphash.Comparable, though a
// different hash function can be specified using the WithHash option.
//
// A Map is NOT goroutine-safe. Concurrent readers are fine; a writer must
// have exclusive access.
type Map[K comparable, V any] struct {
	// The hash function applied to keys of type K.
	hash HashFunc[K]
	seed maphash.Seed
	// The allocator to use for the entry store and the index.
	allocator Allocator[K, V]
	// entries is the entry store. Its capacity is kept at the growth limit
	// of index so that the two grow together.
	entries []Bucket[K, V]
	index   indexTable[K, V]
	// version is incremented by every operation that adds, removes or moves
	// an entry. Raw entries and EntryRefs capture it on creation and refuse
	// to operate once it has changed.
	version uint64
}

// New constructs a new Map with the specified initial capacity. If
// initialCapacity is 0 the map will start out with zero capacity and will
// grow on the first insert. The zero value for a Map is not usable.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		hash:      defaultHash[K],
		seed:      maphash.MakeSeed(),
		allocator: defaultAllocator[K, V]{},
	}
	m.index.init()

	for _, op := range options {
		op.apply(m)
	}

	if initialCapacity > 0 {
		m.index.resize(m, capacityFor(initialCapacity))
	}

	m.checkInvariants()
	return m
}

func defaultHash[K comparable](seed maphash.Seed, key K) uint64 {
	return maphash.Comparable(seed, key)
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	if m.allocator == nil {
		return
	}
	m.index.release(m.allocator)
	if cap(m.entries) > 0 {
		clear(m.entries)
		m.allocator.FreeBuckets(m.entries[:cap(m.entries)])
	}
	m.entries = nil
	m.version++
	m.allocator = nil
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return len(m.entries)
}

// Hash returns the hash the map computes for key. It is the hash to pass to
// the raw entry methods that accept one.
func (m *Map[K, V]) Hash(key K) uint64 {
	return m.hash(m.seed, key)
}

// locate returns the index slot and entry position of the first entry on
// the probe sequence of h for which eq returns true.
func (m *Map[K, V]) locate(h uint64, eq func(pos int) bool) (slot uintptr, pos int, ok bool) {
	slot, ok = m.index.find(h, eq)
	if !ok {
		return 0, -1, false
	}
	return slot, m.index.positions[slot], true
}

// locateKey returns the position of key, which must hash to h.
func (m *Map[K, V]) locateKey(h uint64, key K) (slot uintptr, pos int, ok bool) {
	entries := m.entries
	return m.locate(h, func(i int) bool {
		return entries[i].key == key
	})
}

// appendEntry inserts a new entry known not to be in the map at the end of
// the entry store and returns its position, which is always the length of
// the map before the call.
func (m *Map[K, V]) appendEntry(h uint64, key K, value V) int {
	// Before performing the insertion we may decide the table is getting
	// overcrowded (i.e. the load factor is greater than 7/8 for big tables;
	// small tables use a max load factor of 1).
	if m.index.growthLeft == 0 {
		m.index.rehash(m)
	}
	pos := len(m.entries)
	m.index.uncheckedPut(h, pos)
	m.pushEntry(h, key, value)
	m.version++
	if debug {
		fmt.Printf("append(%v): position=%d\n", key, pos)
	}
	m.checkInvariants()
	return pos
}

// swapRemoveFinish removes the entry at pos whose index slot has already
// been erased, filling the hole with the last entry.
func (m *Map[K, V]) swapRemoveFinish(pos int) (K, V) {
	last := len(m.entries) - 1
	b := m.entries[pos]
	if pos != last {
		// The index slot that points at the last position now has to point
		// at pos. Find it using the cached hash of the last entry.
		slot := m.index.findPosition(m.hashAt(last), last)
		m.index.positions[slot] = pos
		m.entries[pos] = m.entries[last]
	}
	m.truncateEntries(last)
	m.version++
	if debug {
		fmt.Printf("swap-remove(%v): position=%d last=%d\n", b.key, pos, last)
	}
	m.checkInvariants()
	return b.key, b.value
}

// shiftRemoveFinish removes the entry at pos whose index slot has already
// been erased, shifting every later entry down by one.
func (m *Map[K, V]) shiftRemoveFinish(pos int) (K, V) {
	b := m.entries[pos]
	n := len(m.entries)
	if moved := n - pos - 1; moved > 0 {
		// Each later entry needs its index slot decremented. If only a few
		// entries move it is cheaper to find each of their slots than to
		// sweep the whole index.
		if uintptr(moved) < m.index.capacity/2 {
			for i := pos + 1; i < n; i++ {
				slot := m.index.findPosition(m.hashAt(i), i)
				m.index.positions[slot] = i - 1
			}
		} else {
			m.index.decrementAbove(pos)
		}
		copy(m.entries[pos:], m.entries[pos+1:])
	}
	m.truncateEntries(n - 1)
	m.version++
	if debug {
		fmt.Printf("shift-remove(%v): position=%d\n", b.key, pos)
	}
	m.checkInvariants()
	return b.key, b.value
}

// swapRemoveIndex removes the entry at pos by moving the last entry into
// its place.
func (m *Map[K, V]) swapRemoveIndex(pos int) (K, V) {
	m.index.erase(m.index.findPosition(m.hashAt(pos), pos))
	return m.swapRemoveFinish(pos)
}

// shiftRemoveIndex removes the entry at pos by shifting every later entry
// down by one.
func (m *Map[K, V]) shiftRemoveIndex(pos int) (K, V) {
	m.index.erase(m.index.findPosition(m.hashAt(pos), pos))
	return m.shiftRemoveFinish(pos)
}

// Put inserts an entry into the map, overwriting the value of an existing
// entry with the same key. A new entry is appended at the end of the map;
// an existing entry keeps its position. Put returns the position of the
// entry and whether it was newly inserted.
func (m *Map[K, V]) Put(key K, value V) (index int, inserted bool) {
	h := m.Hash(key)
	if _, pos, ok := m.locateKey(h, key); ok {
		m.entries[pos].value = value
		return pos, false
	}
	return m.appendEntry(h, key, value), true
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	_, pos, ok := m.locateKey(m.Hash(key), key)
	if !ok {
		return value, false
	}
	return m.entries[pos].value, true
}

// GetFull retrieves the position, stored key and value for the specified
// key, returning ok=false if the key is not present.
func (m *Map[K, V]) GetFull(key K) (index int, k K, v V, ok bool) {
	_, pos, ok := m.locateKey(m.Hash(key), key)
	if !ok {
		return -1, k, v, false
	}
	b := &m.entries[pos]
	return pos, b.key, b.value, true
}

// GetIndexOf returns the position of key, returning ok=false if the key is
// not present.
func (m *Map[K, V]) GetIndexOf(key K) (index int, ok bool) {
	_, pos, ok := m.locateKey(m.Hash(key), key)
	return pos, ok
}

// GetIndex returns the entry at position i, returning ok=false if i is not
// in [0, Len()).
func (m *Map[K, V]) GetIndex(i int) (key K, value V, ok bool) {
	return m.AsSlice().Get(i)
}

// First returns the first entry in the map.
func (m *Map[K, V]) First() (key K, value V, ok bool) {
	return m.AsSlice().First()
}

// Last returns the last entry in the map.
func (m *Map[K, V]) Last() (key K, value V, ok bool) {
	return m.AsSlice().Last()
}

// SwapRemove removes key from the map by swapping it with the last entry,
// returning its value. This perturbs the position of the last entry.
// Computes in O(1) time (average).
func (m *Map[K, V]) SwapRemove(key K) (value V, ok bool) {
	slot, pos, ok := m.locateKey(m.Hash(key), key)
	if !ok {
		return value, false
	}
	m.index.erase(slot)
	_, value = m.swapRemoveFinish(pos)
	return value, true
}

// ShiftRemove removes key from the map by shifting all of the entries that
// follow it, returning its value. This preserves the relative order of the
// remaining entries. Computes in O(n) time (average).
func (m *Map[K, V]) ShiftRemove(key K) (value V, ok bool) {
	slot, pos, ok := m.locateKey(m.Hash(key), key)
	if !ok {
		return value, false
	}
	m.index.erase(slot)
	_, value = m.shiftRemoveFinish(pos)
	return value, true
}

// SwapRemoveIndex removes the entry at position i by swapping it with the
// last entry. It returns ok=false if i is not in [0, Len()).
func (m *Map[K, V]) SwapRemoveIndex(i int) (key K, value V, ok bool) {
	if i < 0 || i >= len(m.entries) {
		return key, value, false
	}
	key, value = m.swapRemoveIndex(i)
	return key, value, true
}

// ShiftRemoveIndex removes the entry at position i by shifting all of the
// entries that follow it. It returns ok=false if i is not in [0, Len()).
func (m *Map[K, V]) ShiftRemoveIndex(i int) (key K, value V, ok bool) {
	if i < 0 || i >= len(m.entries) {
		return key, value, false
	}
	key, value = m.shiftRemoveIndex(i)
	return key, value, true
}

// All calls yield sequentially for each key and value present in the map,
// in order. If yield returns false, iteration stops. Mutating the map
// during iteration is not supported.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.AsSlice().All(yield)
}

// Keys calls yield sequentially for each key in the map, in order.
func (m *Map[K, V]) Keys(yield func(key K) bool) {
	m.AsSlice().Keys(yield)
}

// Values calls yield sequentially for each value in the map, in order.
func (m *Map[K, V]) Values(yield func(value V) bool) {
	m.AsSlice().Values(yield)
}

// Clear deletes all entries from the map resulting in an empty map. The
// capacity of the map is retained.
func (m *Map[K, V]) Clear() {
	m.index.clear()
	m.truncateEntries(0)
	m.version++
	m.checkInvariants()
}

// AsSlice returns a Slice over all of the entries of the map.
func (m *Map[K, V]) AsSlice() Slice[K, V] {
	return Slice[K, V]{entries: m.entries[:len(m.entries):len(m.entries)]}
}

// Range returns a Slice over the entries in positions [lo, hi). It panics
// if the range is out of bounds.
func (m *Map[K, V]) Range(lo, hi int) Slice[K, V] {
	return m.AsSlice().Range(lo, hi)
}

// RangeFrom returns a Slice over the entries in positions [lo, Len()).
func (m *Map[K, V]) RangeFrom(lo int) Slice[K, V] {
	return m.AsSlice().RangeFrom(lo)
}

// RangeTo returns a Slice over the entries in positions [0, hi).
func (m *Map[K, V]) RangeTo(hi int) Slice[K, V] {
	return m.AsSlice().RangeTo(hi)
}

// Iter returns an iterator over the entries of the map.
func (m *Map[K, V]) Iter() *Iter[K, V] {
	return m.AsSlice().Iter()
}

// String returns the entries of the map in order, formatted as
// map[k1:v1 k2:v2].
func (m *Map[K, V]) String() string {
	var buf strings.Builder
	buf.WriteString("map")
	m.AsSlice().format(&buf)
	return buf.String()
}

// Equal reports whether a and b contain the same key/value pairs. The order
// of the entries is not considered.
func Equal[K, V comparable](a, b *Map[K, V]) bool {
	return EqualFunc(a, b, func(x, y V) bool { return x == y })
}

// EqualFunc is like Equal, but compares values using eq. Keys are still
// compared with ==.
func EqualFunc[K comparable, V1, V2 any](a *Map[K, V1], b *Map[K, V2], eq func(V1, V2) bool) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.entries {
		e := &a.entries[i]
		v, ok := b.Get(e.key)
		if !ok || !eq(e.value, v) {
			return false
		}
	}
	return true
}

// capacity returns the number of slots in the index.
func (m *Map[K, V]) capacity() int {
	return int(m.index.capacity)
}

// checkStale panics if the map was structurally modified since version.
func (m *Map[K, V]) checkStale(version uint64) {
	if m.version != version {
		panic(errors.Wrapf(ErrStaleEntry, "map version %d, handle version %d", m.version, version))
	}
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if err := m.verify(); err != nil {
			panic(errors.Wrapf(err, "invariant failed\n%s", m.debugString()))
		}
	}
}

// verify checks that the index and the entry store are consistent: every
// position is targeted by exactly one full slot, that slot's control byte
// matches the cached hash of the entry, and the slot can be found by
// probing with the cached hash.
func (m *Map[K, V]) verify() error {
	if err := m.index.verify(); err != nil {
		return err
	}
	if m.index.used != len(m.entries) {
		return errors.AssertionFailedf("index holds %d positions, but entry store holds %d entries",
			m.index.used, len(m.entries))
	}
	if limit := growthLimit(m.index.capacity); cap(m.entries) < limit {
		return errors.AssertionFailedf("entry store capacity %d is below index growth limit %d",
			cap(m.entries), limit)
	}

	seen := make([]bool, len(m.entries))
	t := &m.index
	for i := uintptr(0); i < t.capacity; i++ {
		if !t.isFull(i) {
			continue
		}
		pos := t.positions[i]
		if pos < 0 || pos >= len(m.entries) {
			return errors.AssertionFailedf("slot(%d): position %d out of range [0:%d)", i, pos, len(m.entries))
		}
		if seen[pos] {
			return errors.AssertionFailedf("slot(%d): position %d indexed twice", i, pos)
		}
		seen[pos] = true
		h := m.entries[pos].hash
		if c := t.ctrls[i]; uintptr(c) != h2(h) {
			return errors.AssertionFailedf("slot(%d): ctrl %02x does not match h2=%02x of position %d",
				i, c, h2(h), pos)
		}
		if slot, ok := t.find(h, func(p int) bool { return p == pos }); !ok || slot != i {
			return errors.AssertionFailedf("slot(%d): position %d not reachable [h2=%02x h1=%07x]",
				i, pos, h2(h), h1(h))
		}
	}
	return nil
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "entries=%d/%d  version=%d\n", len(m.entries), cap(m.entries), m.version)
	for i := range m.entries {
		b := &m.entries[i]
		fmt.Fprintf(&buf, "  [%d] %v: %v [hash=%016x]\n", i, b.key, b.value, b.hash)
	}
	buf.WriteString(m.index.debugString(m))
	return buf.String()
}
