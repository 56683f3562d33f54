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

import (
	"cmp"
	"fmt"
	"hash/maphash"
	"strings"

	"golang.org/x/exp/constraints"
)

// Slice is a read-only view of a contiguous run of entries of a Map. It
// supports positional operations much like a Go slice, but no hashed
// operations. Creating a Slice does not copy or allocate: it shares the
// entry store of its Map and is only valid until the Map is next modified.
//
// Unlike Map, Slice considers order: see EqualSlices, CompareSlices and
// HashSlice.
type Slice[K comparable, V any] struct {
	entries []Bucket[K, V]
}

// Len returns the number of entries in the slice.
func (s Slice[K, V]) Len() int {
	return len(s.entries)
}

// IsEmpty returns true if the slice contains no entries.
func (s Slice[K, V]) IsEmpty() bool {
	return len(s.entries) == 0
}

// Get returns the entry at position i, returning ok=false if i is not in
// [0, Len()).
func (s Slice[K, V]) Get(i int) (key K, value V, ok bool) {
	if i < 0 || i >= len(s.entries) {
		return key, value, false
	}
	b := &s.entries[i]
	return b.key, b.value, true
}

// At returns the entry at position i. It panics if i is not in [0, Len()).
func (s Slice[K, V]) At(i int) (K, V) {
	if i < 0 || i >= len(s.entries) {
		panicIndex("At", i, len(s.entries))
	}
	b := &s.entries[i]
	return b.key, b.value
}

// First returns the first entry.
func (s Slice[K, V]) First() (key K, value V, ok bool) {
	return s.Get(0)
}

// Last returns the last entry.
func (s Slice[K, V]) Last() (key K, value V, ok bool) {
	return s.Get(len(s.entries) - 1)
}

// SplitAt divides the slice into [0, i) and [i, Len()). It panics if i is
// not in [0, Len()].
func (s Slice[K, V]) SplitAt(i int) (Slice[K, V], Slice[K, V]) {
	if i < 0 || i > len(s.entries) {
		panicIndex("SplitAt", i, len(s.entries))
	}
	return s.sub(0, i), s.sub(i, len(s.entries))
}

// SplitFirst returns the first entry and the rest of the slice, or ok=false
// if the slice is empty.
func (s Slice[K, V]) SplitFirst() (key K, value V, rest Slice[K, V], ok bool) {
	if len(s.entries) == 0 {
		return key, value, s, false
	}
	b := &s.entries[0]
	return b.key, b.value, s.sub(1, len(s.entries)), true
}

// SplitLast returns the last entry and the rest of the slice, or ok=false
// if the slice is empty.
func (s Slice[K, V]) SplitLast() (key K, value V, rest Slice[K, V], ok bool) {
	n := len(s.entries)
	if n == 0 {
		return key, value, s, false
	}
	b := &s.entries[n-1]
	return b.key, b.value, s.sub(0, n-1), true
}

// Range returns the entries in positions [lo, hi). It panics if the range
// is out of bounds.
func (s Slice[K, V]) Range(lo, hi int) Slice[K, V] {
	if lo < 0 || lo > hi || hi > len(s.entries) {
		panicRange("Range", lo, hi, len(s.entries))
	}
	return s.sub(lo, hi)
}

// RangeFrom returns the entries in positions [lo, Len()).
func (s Slice[K, V]) RangeFrom(lo int) Slice[K, V] {
	return s.Range(lo, len(s.entries))
}

// RangeTo returns the entries in positions [0, hi).
func (s Slice[K, V]) RangeTo(hi int) Slice[K, V] {
	return s.Range(0, hi)
}

// RangeInclusive returns the entries in positions [lo, hi].
func (s Slice[K, V]) RangeInclusive(lo, hi int) Slice[K, V] {
	return s.Range(lo, hi+1)
}

// RangeToInclusive returns the entries in positions [0, hi].
func (s Slice[K, V]) RangeToInclusive(hi int) Slice[K, V] {
	return s.Range(0, hi+1)
}

// BoundKind is the kind of a Bound.
type BoundKind uint8

const (
	// Unbounded extends a range to the start or the end of a slice.
	Unbounded BoundKind = iota
	// Included bounds a range at a position which is part of the range.
	Included
	// Excluded bounds a range at a position which is not part of the range.
	Excluded
)

// Bound is one end of a range passed to Slice.Bounds.
type Bound struct {
	Kind  BoundKind
	Index int
}

// IncludedBound returns an inclusive bound at i.
func IncludedBound(i int) Bound { return Bound{Kind: Included, Index: i} }

// ExcludedBound returns an exclusive bound at i.
func ExcludedBound(i int) Bound { return Bound{Kind: Excluded, Index: i} }

// Bounds returns the entries between lo and hi. An excluded lower bound
// starts the range after its position; an included upper bound ends the
// range after its position. It panics if the resulting range is out of
// bounds.
func (s Slice[K, V]) Bounds(lo, hi Bound) Slice[K, V] {
	var start, end int
	switch lo.Kind {
	case Included:
		start = lo.Index
	case Excluded:
		start = lo.Index + 1
	default:
		start = 0
	}
	switch hi.Kind {
	case Included:
		end = hi.Index + 1
	case Excluded:
		end = hi.Index
	default:
		end = len(s.entries)
	}
	return s.Range(start, end)
}

func (s Slice[K, V]) sub(lo, hi int) Slice[K, V] {
	return Slice[K, V]{entries: s.entries[lo:hi:hi]}
}

// All calls yield sequentially for each key and value in the slice. If
// yield returns false, iteration stops.
func (s Slice[K, V]) All(yield func(key K, value V) bool) {
	for i := range s.entries {
		b := &s.entries[i]
		if !yield(b.key, b.value) {
			return
		}
	}
}

// Keys calls yield sequentially for each key in the slice.
func (s Slice[K, V]) Keys(yield func(key K) bool) {
	for i := range s.entries {
		if !yield(s.entries[i].key) {
			return
		}
	}
}

// Values calls yield sequentially for each value in the slice.
func (s Slice[K, V]) Values(yield func(value V) bool) {
	for i := range s.entries {
		if !yield(s.entries[i].value) {
			return
		}
	}
}

// Iter returns an iterator over the entries of the slice.
func (s Slice[K, V]) Iter() *Iter[K, V] {
	return &Iter[K, V]{entries: s.entries}
}

// String returns the entries of the slice formatted as [k1:v1 k2:v2].
func (s Slice[K, V]) String() string {
	var buf strings.Builder
	s.format(&buf)
	return buf.String()
}

func (s Slice[K, V]) format(buf *strings.Builder) {
	buf.WriteByte('[')
	for i := range s.entries {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(buf, "%v:%v", s.entries[i].key, s.entries[i].value)
	}
	buf.WriteByte(']')
}

// EqualSlices reports whether a and b have the same length and hold equal
// entries in the same order.
func EqualSlices[K, V comparable](a, b Slice[K, V]) bool {
	return EqualSlicesFunc(a, b, func(x, y V) bool { return x == y })
}

// EqualSlicesFunc is like EqualSlices, but compares values using eq. Keys
// are still compared with ==.
func EqualSlicesFunc[K comparable, V1, V2 any](a Slice[K, V1], b Slice[K, V2], eq func(V1, V2) bool) bool {
	if len(a.entries) != len(b.entries) {
		return false
	}
	for i := range a.entries {
		x, y := &a.entries[i], &b.entries[i]
		if x.key != y.key || !eq(x.value, y.value) {
			return false
		}
	}
	return true
}

// CompareSlices compares a and b lexicographically by entry, ordering
// entries by key and then by value. A slice that is a prefix of the other
// orders first. The result is 0 if a == b, -1 if a < b, and +1 if a > b.
func CompareSlices[K, V constraints.Ordered](a, b Slice[K, V]) int {
	return CompareSlicesFunc(a, b, func(k1 K, v1 V, k2 K, v2 V) int {
		if c := cmp.Compare(k1, k2); c != 0 {
			return c
		}
		return cmp.Compare(v1, v2)
	})
}

// CompareSlicesFunc is like CompareSlices, but compares entries using the
// supplied function.
func CompareSlicesFunc[K comparable, V any](
	a, b Slice[K, V], compare func(k1 K, v1 V, k2 K, v2 V) int,
) int {
	n := min(len(a.entries), len(b.entries))
	for i := 0; i < n; i++ {
		x, y := &a.entries[i], &b.entries[i]
		if c := compare(x.key, x.value, y.key, y.value); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a.entries), len(b.entries))
}

// HashSlice writes the length of s followed by each of its keys and values,
// in order, to h. Slices that are EqualSlices hash identically; slices
// holding the same entries in a different order generally do not.
func HashSlice[K, V comparable](h *maphash.Hash, s Slice[K, V]) {
	maphash.WriteComparable(h, len(s.entries))
	for i := range s.entries {
		maphash.WriteComparable(h, s.entries[i].key)
		maphash.WriteComparable(h, s.entries[i].value)
	}
}

// Iter is an iterator over the entries of a Map or Slice.
type Iter[K comparable, V any] struct {
	entries []Bucket[K, V]
}

// Next returns the next entry, or ok=false once the iterator is exhausted.
func (it *Iter[K, V]) Next() (key K, value V, ok bool) {
	if len(it.entries) == 0 {
		return key, value, false
	}
	b := &it.entries[0]
	it.entries = it.entries[1:]
	return b.key, b.value, true
}

// Len returns the number of entries remaining.
func (it *Iter[K, V]) Len() int {
	return len(it.entries)
}

// AsSlice returns a Slice of the entries remaining in the iterator.
func (it *Iter[K, V]) AsSlice() Slice[K, V] {
	return Slice[K, V]{entries: it.entries}
}
