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
	"fmt"
	"strings"
)

// Set is a set of values that remembers insertion order. It is a Map whose
// values are empty, and shares its layout and removal semantics.
type Set[T comparable] struct {
	m *Map[T, struct{}]
}

// NewSet constructs a new Set with the specified initial capacity.
func NewSet[T comparable](initialCapacity int, options ...option[T, struct{}]) *Set[T] {
	return &Set[T]{m: New[T, struct{}](initialCapacity, options...)}
}

// Insert adds v to the set if it is not already present. It returns the
// position of v and whether it was newly inserted.
func (s *Set[T]) Insert(v T) (index int, inserted bool) {
	return s.m.Put(v, struct{}{})
}

// Contains returns true if v is in the set.
func (s *Set[T]) Contains(v T) bool {
	_, ok := s.m.GetIndexOf(v)
	return ok
}

// GetIndexOf returns the position of v.
func (s *Set[T]) GetIndexOf(v T) (index int, ok bool) {
	return s.m.GetIndexOf(v)
}

// GetIndex returns the value at position i.
func (s *Set[T]) GetIndex(i int) (v T, ok bool) {
	v, _, ok = s.m.GetIndex(i)
	return v, ok
}

// SwapRemove removes v by swapping it with the last value.
func (s *Set[T]) SwapRemove(v T) bool {
	_, ok := s.m.SwapRemove(v)
	return ok
}

// ShiftRemove removes v by shifting all of the values that follow it.
func (s *Set[T]) ShiftRemove(v T) bool {
	_, ok := s.m.ShiftRemove(v)
	return ok
}

// Len returns the number of values in the set.
func (s *Set[T]) Len() int {
	return s.m.Len()
}

// All calls yield sequentially for each value in the set, in order.
func (s *Set[T]) All(yield func(v T) bool) {
	s.m.Keys(yield)
}

// AsSlice returns a Slice over the values of the set. The values of the
// Slice are empty.
func (s *Set[T]) AsSlice() Slice[T, struct{}] {
	return s.m.AsSlice()
}

// Map returns the Map backing the set, which gives access to the raw entry
// API.
func (s *Set[T]) Map() *Map[T, struct{}] {
	return s.m
}

// String returns the values of the set in order, formatted as [v1 v2].
func (s *Set[T]) String() string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i := range s.m.entries {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprint(&buf, s.m.entries[i].key)
	}
	buf.WriteByte(']')
	return buf.String()
}

// EqualSets reports whether a and b contain the same values, regardless of
// order.
func EqualSets[T comparable](a, b *Set[T]) bool {
	return Equal(a.m, b.m)
}
