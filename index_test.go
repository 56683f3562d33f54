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
	"hash/maphash"
	"sort"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestLittleEndian(t *testing.T) {
	// The implementation of group h2 matching and group empty and deleted
	// masking assumes a little endian CPU architecture. Assert that we are
	// running on one.
	b := []uint8{0x1, 0x2, 0x3, 0x4}
	v := *(*uint32)(unsafe.Pointer(&b[0]))
	require.EqualValues(t, 0x04030201, v)
}

func TestProbeSeq(t *testing.T) {
	genSeq := func(n int, hash, mask uintptr) []uintptr {
		seq := makeProbeSeq(hash, mask)
		vals := make([]uintptr, n)
		for i := 0; i < n; i++ {
			vals[i] = seq.offset
			seq = seq.next()
		}
		return vals
	}
	genGroups := func(n, stride uintptr) []uintptr {
		var vals []uintptr
		for i := uintptr(0); i < n; i++ {
			vals = append(vals, i*stride)
		}
		return vals
	}

	// A table of 16 groups has 127 slots. Starting at offset 0 the sequence
	// visits the start of every group exactly once.
	seq := genSeq(16, 0, 127)
	require.Equal(t, []uintptr{0, 8, 24, 48, 80, 120, 40, 96, 32, 104, 56, 16, 112, 88, 72, 64}, seq)
	sort.Slice(seq, func(i, j int) bool { return seq[i] < seq[j] })
	require.Equal(t, genGroups(16, groupSize), seq)

	// The offset wraps around at mask+1.
	require.Equal(t, []uintptr{5, 13, 29, 53, 85, 125, 45, 101}, genSeq(8, 5, 127))
	require.Equal(t, genSeq(8, 5, 127), genSeq(8, 5+128, 127))
}

func ctrlGroup(ctrls ...ctrl) *ctrl {
	if len(ctrls) != groupSize {
		panic("ctrl group must have groupSize elements")
	}
	return &ctrls[0]
}

func matchIndexes(match bitset) []uintptr {
	var results []uintptr
	for match != 0 {
		idx := match.next()
		results = append(results, idx)
		match = match.clear(idx)
	}
	return results
}

func TestMatchH2(t *testing.T) {
	g := ctrlGroup(0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8)
	for i := uintptr(1); i <= 8; i++ {
		match := g.matchH2(i)
		require.EqualValues(t, i-1, match.next())
	}
	require.EqualValues(t, 0, g.matchH2(0x7f))
	require.EqualValues(t, 0, ctrlGroup(ctrlEmpty, ctrlDeleted, ctrlSentinel,
		ctrlEmpty, ctrlEmpty, ctrlEmpty, ctrlEmpty, ctrlEmpty).matchH2(0))
}

func TestMatchEmpty(t *testing.T) {
	testCases := []struct {
		ctrls    []ctrl
		expected []uintptr
	}{
		{[]ctrl{0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8}, nil},
		{[]ctrl{0x1, 0x2, 0x3, ctrlEmpty, 0x5, ctrlDeleted, 0x7, ctrlSentinel}, []uintptr{3}},
		{[]ctrl{0x1, 0x2, 0x3, ctrlEmpty, 0x5, 0x6, ctrlEmpty, 0x8}, []uintptr{3, 6}},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			require.Equal(t, c.expected, matchIndexes(ctrlGroup(c.ctrls...).matchEmpty()))
		})
	}
}

func TestMatchEmptyOrDeleted(t *testing.T) {
	testCases := []struct {
		ctrls    []ctrl
		expected []uintptr
	}{
		{[]ctrl{0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8}, nil},
		{[]ctrl{0x1, 0x2, ctrlEmpty, ctrlDeleted, 0x5, 0x6, 0x7, ctrlSentinel}, []uintptr{2, 3}},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			require.Equal(t, c.expected, matchIndexes(ctrlGroup(c.ctrls...).matchEmptyOrDeleted()))
		})
	}
}

func TestConvertNonFullToEmptyAndFullToDeleted(t *testing.T) {
	ctrls := make([]ctrl, groupSize)
	expected := make([]ctrl, groupSize)
	for i := 0; i < 100; i++ {
		for j := 0; j < groupSize; j++ {
			switch rand.Intn(4) {
			case 0: // 25% empty
				ctrls[j] = ctrlEmpty
				expected[j] = ctrlEmpty
			case 1: // 25% deleted
				ctrls[j] = ctrlDeleted
				expected[j] = ctrlEmpty
			case 2: // 25% sentinel
				ctrls[j] = ctrlSentinel
				expected[j] = ctrlEmpty
			default: // 25% full
				ctrls[j] = ctrl(rand.Intn(127))
				expected[j] = ctrlDeleted
			}
		}

		ctrlGroup(ctrls...).convertNonFullToEmptyAndFullToDeleted()
		require.EqualValues(t, expected, ctrls)
	}
}

func TestBitsetString(t *testing.T) {
	require.Equal(t, "00010010", bitset(0x80<<(3*8)|0x80<<(6*8)).String())
	require.Equal(t, "00000000", bitset(0).String())
}

func TestCapacityFor(t *testing.T) {
	testCases := []struct {
		n        int
		capacity uintptr
	}{
		{1, 7},
		{6, 7},
		{7, 15},
		{13, 15},
		{14, 31},
		{895, 1023},
		{896, 2047},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			capacity := capacityFor(c.n)
			require.Equal(t, c.capacity, capacity)
			require.GreaterOrEqual(t, growthLimit(capacity), c.n)
		})
	}

	require.Equal(t, 0, growthLimit(0))
	require.Equal(t, 6, growthLimit(7))
	require.Equal(t, 13, growthLimit(15))
	require.Equal(t, 111, growthLimit(127))
}

func TestIndexTombstones(t *testing.T) {
	// Every key hashes to the same group, so erasing from a full group must
	// leave tombstones that keep the later keys reachable.
	m := New[int, int](0, WithHash[int, int](func(_ maphash.Seed, key int) uint64 {
		return uint64(key) & 0x7f
	}))
	const count = 40
	for i := 0; i < count; i++ {
		m.Put(i, i)
	}
	require.NoError(t, m.verify())

	for i := 0; i < count; i += 2 {
		_, ok := m.SwapRemove(i)
		require.True(t, ok)
		require.NoError(t, m.verify())
	}
	var deleted int
	for i := uintptr(0); i < m.index.capacity; i++ {
		if m.index.ctrls[i] == ctrlDeleted {
			deleted++
		}
	}
	require.Less(t, 0, deleted)

	for i := 1; i < count; i += 2 {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	// Dropping the tombstones in place keeps every key at its position.
	before := m.Iter().AsSlice().String()
	m.index.rehashInPlace(m)
	require.NoError(t, m.verify())
	require.Equal(t, before, m.AsSlice().String())
	for i := uintptr(0); i < m.index.capacity; i++ {
		require.NotEqual(t, ctrlDeleted, m.index.ctrls[i])
	}
}

func TestDecrementAbove(t *testing.T) {
	m := New[int, int](0)
	for i := 0; i < 10; i++ {
		m.Put(i, i)
	}
	// Emulate the second half of a shift removal of position 4 by hand.
	m.index.erase(m.index.findPosition(m.hashAt(4), 4))
	m.index.decrementAbove(4)
	copy(m.entries[4:], m.entries[5:])
	m.truncateEntries(9)
	require.NoError(t, m.verify())
	for i, k := range []int{0, 1, 2, 3, 5, 6, 7, 8, 9} {
		pos, ok := m.GetIndexOf(k)
		require.True(t, ok)
		require.Equal(t, i, pos)
	}
}
