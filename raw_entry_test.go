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
	"testing"

	"github.com/stretchr/testify/require"
)

func newABC() *Map[string, int] {
	m := New[string, int](0)
	m.Put("a", 100)
	m.Put("b", 200)
	m.Put("c", 300)
	return m
}

// fixedHashes gives every key a known hash with a distinct, nonzero h2 and
// all keys in the same home group.
var fixedHashes = map[string]uint64{
	"a": 0x1,
	"b": 0x2,
	"c": 0x3,
}

func newFixedHash() *Map[string, int] {
	m := New[string, int](0, WithHash[string, int](func(_ maphash.Seed, key string) uint64 {
		return fixedHashes[key]
	}))
	m.Put("a", 100)
	m.Put("b", 200)
	m.Put("c", 300)
	return m
}

func TestRawEntryRoundTrip(t *testing.T) {
	m := New[string, int](0)
	for i, k := range []string{"x", "y", "z"} {
		h := m.Hash(k)
		e := m.RawEntryMut().FromKeyHashedNocheck(h, k)
		require.False(t, e.IsOccupied())
		v, ok := e.Vacant()
		require.True(t, ok)
		ref := v.InsertHashedNocheck(h, k, i)
		require.Equal(t, i, ref.Index())

		key, value, ok := m.RawEntry().FromKeyHashedNocheck(h, k)
		require.True(t, ok)
		require.Equal(t, k, key)
		require.Equal(t, i, value)

		key, value, ok = m.RawEntry().FromKey(k)
		require.True(t, ok)
		require.Equal(t, k, key)
		require.Equal(t, i, value)
	}
	require.Equal(t, []string{"x", "y", "z"}, m.keys())
	require.NoError(t, m.verify())
}

func TestRawEntryFromHash(t *testing.T) {
	m := newABC()
	var seen []string
	key, value, ok := m.RawEntry().FromHash(m.Hash("b"), func(k *string) bool {
		seen = append(seen, *k)
		return *k == "b"
	})
	require.True(t, ok)
	require.Equal(t, "b", key)
	require.Equal(t, 200, value)
	require.Contains(t, seen, "b")

	// A predicate that never matches is a miss even for the right hash.
	_, _, ok = m.RawEntry().FromHash(m.Hash("b"), func(*string) bool { return false })
	require.False(t, ok)

	_, _, ok = m.RawEntry().FromKey("d")
	require.False(t, ok)
}

func TestRawEntryHashMismatch(t *testing.T) {
	m := newFixedHash()

	// Lookups with a hash other than the key's own miss the key.
	wrong := fixedHashes["a"] ^ 0x40
	_, _, ok := m.RawEntry().FromKeyHashedNocheck(wrong, "a")
	require.False(t, ok)
	e := m.RawEntryMut().FromKeyHashedNocheck(wrong, "a")
	require.False(t, e.IsOccupied())

	// Inserting with the wrong hash adds a second "a" which is only
	// reachable by position and by the same wrong hash.
	vac, ok := e.Vacant()
	require.True(t, ok)
	ref := vac.InsertHashedNocheck(wrong, "a", 999)
	require.Equal(t, 3, ref.Index())
	require.Equal(t, 4, m.Len())
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 100, v)
	k, v, ok := m.GetIndex(3)
	require.True(t, ok)
	require.Equal(t, "a", k)
	require.Equal(t, 999, v)
	_, v, ok = m.RawEntry().FromKeyHashedNocheck(wrong, "a")
	require.True(t, ok)
	require.Equal(t, 999, v)
	require.NoError(t, m.verify())

	// Removal by position uses the cached hash and cleans up both
	// structures.
	k, v, ok = m.SwapRemoveIndex(3)
	require.True(t, ok)
	require.Equal(t, "a", k)
	require.Equal(t, 999, v)
	require.NoError(t, m.verify())
	_, _, ok = m.RawEntry().FromKeyHashedNocheck(wrong, "a")
	require.False(t, ok)
}

func TestRawEntryScenarioShiftRemove(t *testing.T) {
	m := newABC()
	e := m.RawEntryMut().FromKey("b")
	occ, ok := e.Occupied()
	require.True(t, ok)
	require.Equal(t, 1, occ.Index())
	k, v := occ.ShiftRemoveEntry()
	require.Equal(t, "b", k)
	require.Equal(t, 200, v)
	require.Equal(t, []string{"a", "c"}, m.keys())
	pos, ok := m.GetIndexOf("c")
	require.True(t, ok)
	require.Equal(t, 1, pos)
	require.NoError(t, m.verify())
}

func TestRawEntryScenarioInsert(t *testing.T) {
	m := newABC()
	occ, ok := m.RawEntryMut().FromKey("a").Occupied()
	require.True(t, ok)
	require.Equal(t, 100, occ.Insert(1111))
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1111, v)
	require.Equal(t, []string{"a", "b", "c"}, m.keys())

	// Updating a value does not invalidate the handle.
	require.Equal(t, 1111, occ.Get())
}

func TestRawEntryScenarioVacant(t *testing.T) {
	m := newABC()
	vac, ok := m.RawEntryMut().FromKey("d").Vacant()
	require.True(t, ok)
	require.Equal(t, m.Len(), vac.Index())
	ref := vac.Insert("d", 4000)
	require.Equal(t, 3, ref.Index())
	require.Equal(t, "d", ref.Key())
	require.Equal(t, 4000, ref.Value())
	v, ok := m.Get("d")
	require.True(t, ok)
	require.Equal(t, 4000, v)
	require.Equal(t, []string{"a", "b", "c", "d"}, m.keys())
}

func TestRawOccupiedAccessors(t *testing.T) {
	m := newABC()
	occ, ok := m.RawEntryMut().FromKey("b").Occupied()
	require.True(t, ok)

	require.Equal(t, "b", occ.Key())
	require.Equal(t, 200, occ.Get())
	k, v := occ.GetKeyValue()
	require.Equal(t, "b", k)
	require.Equal(t, 200, v)

	*occ.GetMut() = 201
	require.Equal(t, 201, occ.Get())
	kp, vp := occ.GetKeyValueMut()
	require.Equal(t, "b", *kp)
	*vp = 202
	v, _ = m.Get("b")
	require.Equal(t, 202, v)

	ref := occ.IntoMut()
	require.True(t, ref.Valid())
	require.Equal(t, 1, ref.Index())
	require.Equal(t, 202, ref.SetValue(203))
	*ref.ValueMut() += 1
	require.Equal(t, 204, ref.Value())
	require.Equal(t, "b", occ.IntoKey().Key())
	require.Equal(t, "b", *occ.KeyMut())
	require.Equal(t, "b", occ.IntoKeyValueMut().Key())
	require.Equal(t, "Occupied{index: 1, key: b, value: 204}", occ.String())
	require.Equal(t, "RawEntryMut(Occupied{index: 1, key: b, value: 204})",
		m.RawEntryMut().FromKey("b").String())
	require.Equal(t, "RawEntryMut(Vacant{index: 3})", m.RawEntryMut().FromKey("z").String())
}

func TestRawOccupiedRemove(t *testing.T) {
	setup := func() *Map[string, int] {
		m := New[string, int](0)
		for i, k := range []string{"a", "b", "c", "d"} {
			m.Put(k, i)
		}
		return m
	}
	occupied := func(t *testing.T, m *Map[string, int], k string) RawOccupiedEntryMut[string, int] {
		occ, ok := m.RawEntryMut().FromKey(k).Occupied()
		require.True(t, ok)
		return occ
	}

	testCases := []struct {
		name     string
		remove   func(RawOccupiedEntryMut[string, int]) (string, int)
		expected []string
	}{
		{"swap-remove", func(e RawOccupiedEntryMut[string, int]) (string, int) {
			return "b", e.SwapRemove()
		}, []string{"a", "d", "c"}},
		{"swap-remove-entry", func(e RawOccupiedEntryMut[string, int]) (string, int) {
			return e.SwapRemoveEntry()
		}, []string{"a", "d", "c"}},
		{"shift-remove", func(e RawOccupiedEntryMut[string, int]) (string, int) {
			return "b", e.ShiftRemove()
		}, []string{"a", "c", "d"}},
		{"shift-remove-entry", func(e RawOccupiedEntryMut[string, int]) (string, int) {
			return e.ShiftRemoveEntry()
		}, []string{"a", "c", "d"}},
		// The deprecated removals disturb the order like a swap removal.
		{"remove", func(e RawOccupiedEntryMut[string, int]) (string, int) {
			return "b", e.Remove()
		}, []string{"a", "d", "c"}},
		{"remove-entry", func(e RawOccupiedEntryMut[string, int]) (string, int) {
			return e.RemoveEntry()
		}, []string{"a", "d", "c"}},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			m := setup()
			k, v := c.remove(occupied(t, m, "b"))
			require.Equal(t, "b", k)
			require.Equal(t, 1, v)
			require.Equal(t, c.expected, m.keys())
			_, ok := m.Get("b")
			require.False(t, ok)
			require.NoError(t, m.verify())
		})
	}
}

func TestRawEntryCombinators(t *testing.T) {
	m := newABC()

	// OrInsert on an occupied entry leaves it alone.
	ref := m.RawEntryMut().FromKey("a").OrInsert("a", 0)
	require.Equal(t, 0, ref.Index())
	require.Equal(t, 100, ref.Value())

	ref = m.RawEntryMut().FromKey("d").OrInsert("d", 400)
	require.Equal(t, 3, ref.Index())
	require.Equal(t, 400, ref.Value())

	var calls int
	mk := func() (string, int) {
		calls++
		return "e", 500
	}
	ref = m.RawEntryMut().FromKey("e").OrInsertWith(mk)
	require.Equal(t, 1, calls)
	require.Equal(t, 4, ref.Index())
	ref = m.RawEntryMut().FromKey("e").OrInsertWith(mk)
	require.Equal(t, 1, calls)
	require.Equal(t, 500, ref.Value())

	// AndModify only runs for occupied entries.
	bump := func(_ *string, v *int) { *v++ }
	ref = m.RawEntryMut().FromKey("a").AndModify(bump).OrInsert("a", 0)
	require.Equal(t, 101, ref.Value())
	ref = m.RawEntryMut().FromKey("f").AndModify(bump).OrInsert("f", 0)
	require.Equal(t, 0, ref.Value())

	require.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, m.keys())
	require.NoError(t, m.verify())
}

type labeledKey struct {
	id    int
	label string
}

type idQuery int

func (q idQuery) Equivalent(k *labeledKey) bool {
	return k.id == int(q)
}

func TestRawEntryInsertKey(t *testing.T) {
	m := New[labeledKey, int](0, WithHash[labeledKey, int](func(seed maphash.Seed, k labeledKey) uint64 {
		return maphash.Comparable(seed, k.id)
	}))
	m.Put(labeledKey{1, "old"}, 10)
	m.Put(labeledKey{2, "two"}, 20)

	h := m.Hash(labeledKey{id: 1})
	key, value, ok := m.RawEntry().FromEquivalentHashedNocheck(h, idQuery(1))
	require.True(t, ok)
	require.Equal(t, labeledKey{1, "old"}, key)
	require.Equal(t, 10, value)

	occ, ok := m.RawEntryMut().FromEquivalentHashedNocheck(h, idQuery(1)).Occupied()
	require.True(t, ok)

	// The replacement key hashes like the old one, so it stays reachable.
	require.Equal(t, labeledKey{1, "old"}, occ.InsertKey(labeledKey{1, "new"}))
	_, ok = m.Get(labeledKey{1, "old"})
	require.False(t, ok)
	v, ok := m.Get(labeledKey{1, "new"})
	require.True(t, ok)
	require.Equal(t, 10, v)
	require.NoError(t, m.verify())

	_, _, ok = m.RawEntry().FromEquivalentHashedNocheck(m.Hash(labeledKey{id: 3}), idQuery(3))
	require.False(t, ok)
}

func TestRawEntryStale(t *testing.T) {
	m := newABC()
	occ, ok := m.RawEntryMut().FromKey("b").Occupied()
	require.True(t, ok)
	vac, ok := m.RawEntryMut().FromKey("z").Vacant()
	require.True(t, ok)
	ref := occ.IntoMut()

	// Updating a value in place is not a structural modification.
	m.Put("a", 101)
	require.Equal(t, 200, occ.Get())
	require.True(t, ref.Valid())

	// An insertion invalidates every outstanding handle.
	m.Put("d", 400)
	require.False(t, ref.Valid())
	requirePanicsWith(t, ErrStaleEntry, func() { occ.Get() })
	requirePanicsWith(t, ErrStaleEntry, func() { occ.SwapRemove() })
	requirePanicsWith(t, ErrStaleEntry, func() { vac.Insert("z", 0) })
	requirePanicsWith(t, ErrStaleEntry, func() { ref.Value() })
	requirePanicsWith(t, ErrStaleEntry, func() { ref.SetValue(0) })

	// So do removals and Clear.
	ref = m.RawEntryMut().FromKey("a").OrInsert("a", 0)
	m.SwapRemove("d")
	requirePanicsWith(t, ErrStaleEntry, func() { ref.Key() })

	occ, ok = m.RawEntryMut().FromKey("a").Occupied()
	require.True(t, ok)
	m.Clear()
	requirePanicsWith(t, ErrStaleEntry, func() { occ.Index() })

	// A handle used for removal is itself stale afterwards.
	m = newABC()
	occ, ok = m.RawEntryMut().FromKey("a").Occupied()
	require.True(t, ok)
	occ.ShiftRemove()
	requirePanicsWith(t, ErrStaleEntry, func() { occ.ShiftRemove() })
	require.Equal(t, []string{"b", "c"}, m.keys())
}

func TestRawEntrySet(t *testing.T) {
	s := NewSet[string](0)
	s.Insert("a")
	s.Insert("b")
	ref := s.Map().RawEntryMut().FromKey("c").OrInsert("c", struct{}{})
	require.Equal(t, 2, ref.Index())
	require.True(t, s.Contains("c"))
}
