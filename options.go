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

import "hash/maphash"

// option configures a Map in New.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

// HashFunc computes the hash of a key. It must be deterministic for the
// lifetime of a Map (the seed is fixed when the Map is created) and keys
// that compare equal must produce equal hashes.
type HashFunc[K any] func(seed maphash.Seed, key K) uint64

type hashOption[K comparable, V any] struct {
	hash HashFunc[K]
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash sets the hash function of a Map. The default hashes keys with
// maphash.Comparable.
func WithHash[K comparable, V any](hash func(seed maphash.Seed, key K) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

// Allocator supplies the three arrays a Map is built from: the entry store
// and the control bytes and positions of the index. The default allocator
// uses make and leaves reclamation to the GC.
//
// Every array a Map allocates is returned to the Free method matching its
// Alloc method when the Map grows past it or is closed. An allocator that
// manages memory manually therefore requires Map.Close to be called.
type Allocator[K comparable, V any] interface {
	// AllocBuckets returns the backing array of an entry store, equivalent
	// to make([]Bucket[K,V], 0, n). Its capacity must be at least n.
	AllocBuckets(n int) []Bucket[K, V]

	// AllocControls returns n control bytes, equivalent to make([]uint8, n).
	AllocControls(n int) []uint8

	// AllocPositions returns n index slots, equivalent to make([]int, n).
	AllocPositions(n int) []int

	// FreeBuckets releases an array obtained from AllocBuckets, resliced to
	// its full capacity. Its entries have been zeroed if the map was closed.
	FreeBuckets(v []Bucket[K, V])

	// FreeControls releases an array obtained from AllocControls.
	FreeControls(v []uint8)

	// FreePositions releases an array obtained from AllocPositions.
	FreePositions(v []int)
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocBuckets(n int) []Bucket[K, V] {
	return make([]Bucket[K, V], 0, n)
}

func (defaultAllocator[K, V]) AllocControls(n int) []uint8 {
	return make([]uint8, n)
}

func (defaultAllocator[K, V]) AllocPositions(n int) []int {
	return make([]int, n)
}

func (defaultAllocator[K, V]) FreeBuckets([]Bucket[K, V]) {}

func (defaultAllocator[K, V]) FreeControls([]uint8) {}

func (defaultAllocator[K, V]) FreePositions([]int) {}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator sets the Allocator of a Map.
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
