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

package indexmap

import "fmt"

// Equivalent is implemented by lookup keys that can be compared against a
// stored key of type K without converting them to a K first (e.g. a []byte
// looked up against string keys). An Equivalent must only report true for
// keys whose hash equals the hash passed alongside it.
type Equivalent[K any] interface {
	Equivalent(key *K) bool
}

// RawEntry returns a builder for read-only raw lookups.
//
// Raw entries provide the lowest level of control for searching a map. They
// must be manually initialized with a hash and then manually searched. This
// is useful for hash memoization, for search keys that are not a K, and for
// custom comparison logic. Prefer Get unless in such a situation.
func (m *Map[K, V]) RawEntry() RawEntryBuilder[K, V] {
	return RawEntryBuilder[K, V]{m: m}
}

// RawEntryMut returns a builder for raw lookups that can insert, update or
// remove the located entry.
//
// Raw entries give mutable access to the keys. This must not be used to
// modify how the key would compare or hash, as the map will not re-evaluate
// where the key should go, meaning the keys may become "lost" if their
// location does not reflect their state. For instance, if you change a key
// so that the map now contains keys which compare equal, search may start
// acting erratically, with two keys randomly masking each other. All of
// this remains memory safe: the map only ever accesses entries through
// bounds checked positions.
func (m *Map[K, V]) RawEntryMut() RawEntryBuilderMut[K, V] {
	return RawEntryBuilderMut[K, V]{m: m}
}

// RawEntryBuilder performs read-only raw lookups. See Map.RawEntry.
type RawEntryBuilder[K comparable, V any] struct {
	m *Map[K, V]
}

// FromKey looks up key using the map's hash function.
func (b RawEntryBuilder[K, V]) FromKey(key K) (K, V, bool) {
	return b.FromKeyHashedNocheck(b.m.Hash(key), key)
}

// FromKeyHashedNocheck looks up key using the supplied hash, which is
// trusted to be Map.Hash(key). If it is not, the lookup probes the wrong
// part of the index and an entry for key will generally not be found.
func (b RawEntryBuilder[K, V]) FromKeyHashedNocheck(hash uint64, key K) (K, V, bool) {
	return b.FromHash(hash, func(k *K) bool { return *k == key })
}

// FromEquivalentHashedNocheck looks up the entry whose key is equivalent to
// q, using the supplied hash.
func (b RawEntryBuilder[K, V]) FromEquivalentHashedNocheck(hash uint64, q Equivalent[K]) (K, V, bool) {
	return b.FromHash(hash, q.Equivalent)
}

// FromHash returns the first entry on the probe sequence of hash for which
// match returns true. match must not modify the key it is passed.
func (b RawEntryBuilder[K, V]) FromHash(hash uint64, match func(key *K) bool) (key K, value V, ok bool) {
	entries := b.m.entries
	_, pos, ok := b.m.locate(hash, func(i int) bool {
		return match(&entries[i].key)
	})
	if !ok {
		return key, value, false
	}
	return entries[pos].key, entries[pos].value, true
}

// RawEntryBuilderMut performs raw lookups that produce a RawEntryMut. See
// Map.RawEntryMut.
type RawEntryBuilderMut[K comparable, V any] struct {
	m *Map[K, V]
}

// FromKey looks up key using the map's hash function.
func (b RawEntryBuilderMut[K, V]) FromKey(key K) RawEntryMut[K, V] {
	return b.FromKeyHashedNocheck(b.m.Hash(key), key)
}

// FromKeyHashedNocheck looks up key using the supplied hash, which is
// trusted to be Map.Hash(key). With a wrong hash an existing entry for key
// will generally not be found and the result is Vacant; inserting through
// it creates an entry that correctly hashed lookups cannot find.
func (b RawEntryBuilderMut[K, V]) FromKeyHashedNocheck(hash uint64, key K) RawEntryMut[K, V] {
	return b.FromHash(hash, func(k *K) bool { return *k == key })
}

// FromEquivalentHashedNocheck looks up the entry whose key is equivalent to
// q, using the supplied hash.
func (b RawEntryBuilderMut[K, V]) FromEquivalentHashedNocheck(hash uint64, q Equivalent[K]) RawEntryMut[K, V] {
	return b.FromHash(hash, q.Equivalent)
}

// FromHash locates the first entry on the probe sequence of hash for which
// match returns true. The result is Occupied if one was found and Vacant
// otherwise. A Vacant result remembers nothing about hash: its insertion
// methods take the hash (or compute it from the key) again.
func (b RawEntryBuilderMut[K, V]) FromHash(hash uint64, match func(key *K) bool) RawEntryMut[K, V] {
	m := b.m
	entries := m.entries
	slot, pos, ok := m.locate(hash, func(i int) bool {
		return match(&entries[i].key)
	})
	if !ok {
		return RawEntryMut[K, V]{
			vacant: RawVacantEntryMut[K, V]{m: m, version: m.version},
		}
	}
	return RawEntryMut[K, V]{
		occupied:   RawOccupiedEntryMut[K, V]{m: m, slot: slot, index: pos, version: m.version},
		isOccupied: true,
	}
}

// RawEntryMut is either an existing entry (Occupied) or the authorization
// to append a new one (Vacant). It is only valid until the map is next
// structurally modified through any other means; using it afterwards panics
// with ErrStaleEntry.
type RawEntryMut[K comparable, V any] struct {
	occupied   RawOccupiedEntryMut[K, V]
	vacant     RawVacantEntryMut[K, V]
	isOccupied bool
}

// IsOccupied returns true if the entry exists.
func (e RawEntryMut[K, V]) IsOccupied() bool {
	return e.isOccupied
}

// Occupied returns the occupied entry, or ok=false if the entry is vacant.
func (e RawEntryMut[K, V]) Occupied() (RawOccupiedEntryMut[K, V], bool) {
	return e.occupied, e.isOccupied
}

// Vacant returns the vacant entry, or ok=false if the entry is occupied.
func (e RawEntryMut[K, V]) Vacant() (RawVacantEntryMut[K, V], bool) {
	return e.vacant, !e.isOccupied
}

// OrInsert inserts key and value if the entry is vacant. It returns a
// reference to the new entry, or to the existing entry if it is occupied.
func (e RawEntryMut[K, V]) OrInsert(key K, value V) EntryRef[K, V] {
	if e.isOccupied {
		return e.occupied.IntoKeyValueMut()
	}
	return e.vacant.Insert(key, value)
}

// OrInsertWith is like OrInsert, but only calls fn to construct the key and
// value if the entry is vacant.
func (e RawEntryMut[K, V]) OrInsertWith(fn func() (K, V)) EntryRef[K, V] {
	if e.isOccupied {
		return e.occupied.IntoKeyValueMut()
	}
	key, value := fn()
	return e.vacant.Insert(key, value)
}

// AndModify calls fn with the entry's key and value if it is occupied, and
// returns e. fn must not change how the key hashes or compares.
func (e RawEntryMut[K, V]) AndModify(fn func(key *K, value *V)) RawEntryMut[K, V] {
	if e.isOccupied {
		fn(e.occupied.GetKeyValueMut())
	}
	return e
}

func (e RawEntryMut[K, V]) String() string {
	if e.isOccupied {
		return fmt.Sprintf("RawEntryMut(%s)", e.occupied)
	}
	return fmt.Sprintf("RawEntryMut(%s)", e.vacant)
}

// RawOccupiedEntryMut is a located entry of a map. See RawEntryMut for its
// validity.
type RawOccupiedEntryMut[K comparable, V any] struct {
	m       *Map[K, V]
	slot    uintptr
	index   int
	version uint64
}

func (e RawOccupiedEntryMut[K, V]) bucket() *Bucket[K, V] {
	e.m.checkStale(e.version)
	return &e.m.entries[e.index]
}

// Index returns the position of the entry.
func (e RawOccupiedEntryMut[K, V]) Index() int {
	e.m.checkStale(e.version)
	return e.index
}

// Key returns the entry's key. Note that this is the stored key, not the
// key that was used to find the entry.
func (e RawOccupiedEntryMut[K, V]) Key() K {
	return e.bucket().key
}

// KeyMut returns a pointer to the entry's key, valid until the map is
// structurally modified. Modifying the key must not change how it hashes
// or compares.
func (e RawOccupiedEntryMut[K, V]) KeyMut() *K {
	return &e.bucket().key
}

// IntoKey converts the entry into a reference to the entry's key that
// outlives the raw entry.
func (e RawOccupiedEntryMut[K, V]) IntoKey() EntryRef[K, V] {
	return e.IntoKeyValueMut()
}

// Get returns the entry's value.
func (e RawOccupiedEntryMut[K, V]) Get() V {
	return e.bucket().value
}

// GetMut returns a pointer to the entry's value, valid until the map is
// structurally modified.
func (e RawOccupiedEntryMut[K, V]) GetMut() *V {
	return &e.bucket().value
}

// IntoMut converts the entry into a reference to the entry's value that
// outlives the raw entry.
func (e RawOccupiedEntryMut[K, V]) IntoMut() EntryRef[K, V] {
	return e.IntoKeyValueMut()
}

// GetKeyValue returns the entry's key and value.
func (e RawOccupiedEntryMut[K, V]) GetKeyValue() (K, V) {
	b := e.bucket()
	return b.key, b.value
}

// GetKeyValueMut returns pointers to the entry's key and value, valid until
// the map is structurally modified.
func (e RawOccupiedEntryMut[K, V]) GetKeyValueMut() (*K, *V) {
	b := e.bucket()
	return &b.key, &b.value
}

// IntoKeyValueMut converts the entry into a reference to its key and value
// that outlives the raw entry.
func (e RawOccupiedEntryMut[K, V]) IntoKeyValueMut() EntryRef[K, V] {
	e.m.checkStale(e.version)
	return EntryRef[K, V]{m: e.m, index: e.index, version: e.version}
}

// Insert sets the value of the entry and returns the old value.
func (e RawOccupiedEntryMut[K, V]) Insert(value V) V {
	b := e.bucket()
	old := b.value
	b.value = value
	return old
}

// InsertKey sets the key of the entry and returns the old key. The new key
// must hash and compare like the old one: the index is not updated, so a
// key with a different hash is only reachable through its position.
func (e RawOccupiedEntryMut[K, V]) InsertKey(key K) K {
	b := e.bucket()
	old := b.key
	b.key = key
	return old
}

// SwapRemove removes the entry by swapping it with the last entry of the
// map, and returns its value. This perturbs the position of what used to
// be the last entry. Computes in O(1) time (average).
func (e RawOccupiedEntryMut[K, V]) SwapRemove() V {
	_, v := e.SwapRemoveEntry()
	return v
}

// SwapRemoveEntry is like SwapRemove, but returns the key as well.
func (e RawOccupiedEntryMut[K, V]) SwapRemoveEntry() (K, V) {
	e.m.checkStale(e.version)
	e.m.index.erase(e.slot)
	return e.m.swapRemoveFinish(e.index)
}

// ShiftRemove removes the entry by shifting all of the entries that follow
// it, and returns its value. This preserves the relative order of the
// remaining entries but perturbs all of their positions. Computes in O(n)
// time (average).
func (e RawOccupiedEntryMut[K, V]) ShiftRemove() V {
	_, v := e.ShiftRemoveEntry()
	return v
}

// ShiftRemoveEntry is like ShiftRemove, but returns the key as well.
func (e RawOccupiedEntryMut[K, V]) ShiftRemoveEntry() (K, V) {
	e.m.checkStale(e.version)
	e.m.index.erase(e.slot)
	return e.m.shiftRemoveFinish(e.index)
}

// Remove removes the entry and returns its value.
//
// Deprecated: Remove is SwapRemove, which disrupts the map order. Use
// SwapRemove or ShiftRemove for explicit behavior.
func (e RawOccupiedEntryMut[K, V]) Remove() V {
	return e.SwapRemove()
}

// RemoveEntry removes the entry and returns its key and value.
//
// Deprecated: RemoveEntry is SwapRemoveEntry, which disrupts the map order.
// Use SwapRemoveEntry or ShiftRemoveEntry for explicit behavior.
func (e RawOccupiedEntryMut[K, V]) RemoveEntry() (K, V) {
	return e.SwapRemoveEntry()
}

func (e RawOccupiedEntryMut[K, V]) String() string {
	k, v := e.GetKeyValue()
	return fmt.Sprintf("Occupied{index: %d, key: %v, value: %v}", e.index, k, v)
}

// RawVacantEntryMut is the authorization to append a new entry to a map.
// See RawEntryMut for its validity.
type RawVacantEntryMut[K comparable, V any] struct {
	m       *Map[K, V]
	version uint64
}

// Index returns the position a new entry will be inserted at, which is the
// length of the map.
func (e RawVacantEntryMut[K, V]) Index() int {
	e.m.checkStale(e.version)
	return len(e.m.entries)
}

// Insert appends key and value to the map, hashing key with the map's hash
// function, and returns a reference to the new entry.
func (e RawVacantEntryMut[K, V]) Insert(key K, value V) EntryRef[K, V] {
	return e.InsertHashedNocheck(e.m.Hash(key), key, value)
}

// InsertHashedNocheck appends key and value to the map using the supplied
// hash, which is trusted to be Map.Hash(key), and returns a reference to
// the new entry. With a wrong hash the entry is stored and remains
// reachable by position and by lookups using the same wrong hash, but
// correctly hashed lookups will not find it.
func (e RawVacantEntryMut[K, V]) InsertHashedNocheck(hash uint64, key K, value V) EntryRef[K, V] {
	e.m.checkStale(e.version)
	pos := e.m.appendEntry(hash, key, value)
	return EntryRef[K, V]{m: e.m, index: pos, version: e.m.version}
}

func (e RawVacantEntryMut[K, V]) String() string {
	return fmt.Sprintf("Vacant{index: %d}", e.Index())
}

// EntryRef refers to an entry of a map by position. It is stamped with the
// map's version when created and every access re-validates the stamp,
// panicking with ErrStaleEntry if the map has since been structurally
// modified (an insertion or removal may have moved the entry).
type EntryRef[K comparable, V any] struct {
	m       *Map[K, V]
	index   int
	version uint64
}

// Valid returns true if the reference can still be used.
func (r EntryRef[K, V]) Valid() bool {
	return r.m != nil && r.m.version == r.version
}

func (r EntryRef[K, V]) bucket() *Bucket[K, V] {
	r.m.checkStale(r.version)
	return &r.m.entries[r.index]
}

// Index returns the position of the entry.
func (r EntryRef[K, V]) Index() int {
	r.m.checkStale(r.version)
	return r.index
}

// Key returns the entry's key.
func (r EntryRef[K, V]) Key() K {
	return r.bucket().key
}

// Value returns the entry's value.
func (r EntryRef[K, V]) Value() V {
	return r.bucket().value
}

// KeyMut returns a pointer to the entry's key. Modifying the key must not
// change how it hashes or compares. The pointer must not be retained across
// structural modifications of the map.
func (r EntryRef[K, V]) KeyMut() *K {
	return &r.bucket().key
}

// ValueMut returns a pointer to the entry's value. The pointer must not be
// retained across structural modifications of the map.
func (r EntryRef[K, V]) ValueMut() *V {
	return &r.bucket().value
}

// SetValue sets the entry's value and returns the old value.
func (r EntryRef[K, V]) SetValue(value V) V {
	b := r.bucket()
	old := b.value
	b.value = value
	return old
}
