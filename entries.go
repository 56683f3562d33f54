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

// Bucket holds a key, its value and the hash the key was inserted with.
// The entry store of a Map is a dense []Bucket in insertion order.
type Bucket[K comparable, V any] struct {
	hash  uint64
	key   K
	value V
}

// hashAt returns the hash cached for the entry at position pos. This is the
// hash the entry was inserted with, which is not necessarily the hash the
// Map would compute for its key (see RawVacantEntryMut.InsertHashedNocheck).
func (m *Map[K, V]) hashAt(pos int) uint64 {
	return m.entries[pos].hash
}

// reserveEntries ensures the entry store can hold n entries without
// reallocating. It is called when the index grows so that the two
// structures grow together.
func (m *Map[K, V]) reserveEntries(n int) {
	if n <= cap(m.entries) {
		return
	}
	old := m.entries
	m.entries = append(m.allocator.AllocBuckets(n), old...)
	if cap(old) > 0 {
		m.allocator.FreeBuckets(old[:cap(old)])
	}
}

// pushEntry appends an entry to the entry store.
func (m *Map[K, V]) pushEntry(h uint64, key K, value V) {
	if len(m.entries) == cap(m.entries) {
		// The index grows before the entry store fills, so this only happens
		// if an allocator returned less capacity than requested.
		m.reserveEntries(2*len(m.entries) + 1)
	}
	m.entries = append(m.entries, Bucket[K, V]{hash: h, key: key, value: value})
}

// truncateEntries shrinks the entry store to n entries, zeroing the removed
// tail so the GC can reclaim anything the keys and values reference.
func (m *Map[K, V]) truncateEntries(n int) {
	clear(m.entries[n:])
	m.entries = m.entries[:n]
}
