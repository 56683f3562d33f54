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
	"math/bits"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const (
	debug = false

	groupSize       = 8
	maxAvgGroupLoad = 7

	ctrlEmpty    ctrl = 0b10000000
	ctrlDeleted  ctrl = 0b11111110
	ctrlSentinel ctrl = 0b11111111

	bitsetLSB     = 0x0101010101010101
	bitsetMSB     = 0x8080808080808080
	bitsetEmpty   = bitsetLSB * uint64(ctrlEmpty)
	bitsetDeleted = bitsetLSB * uint64(ctrlDeleted)
)

// indexTable is the hash index of a Map. It is a Swiss table whose slots
// hold positions into the entry store rather than keys and values. The hash
// of every position is cached in the entry store (Bucket.hash), so the table
// never needs to hash a key: growing, rehashing in place and relocating a
// position all read the cached hash through the owning Map.
//
// A table's layout is N-1 slots where N is a power of 2 and N+groupSize
// control bytes. The [N:N+groupSize] control bytes mirror the first
// groupSize control bytes so that probe operations at the end of the control
// bytes do not have to perform additional checks. The control byte for slot
// N is always a sentinel which is considered empty for the purposes of
// probing but is not available for storing a position and is also not a
// deletion tombstone.
type indexTable[K comparable, V any] struct {
	// ctrls has capacity+groupSize bytes: one per slot, the sentinel at
	// ctrls[capacity], then a mirror of ctrls[:groupSize-1] so that a group
	// read near the end never wraps. A table without slots shares the
	// read-only emptyCtrls, which find treats as a single empty group.
	ctrls []ctrl
	// positions is capacity in length. positions[i] is only meaningful if
	// ctrls[i] is full.
	positions []int
	// capacity is 2^N-1 slots and doubles as the mask for probe offsets.
	capacity uintptr
	// used is the number of full slots, which equals the map's Len.
	used int
	// growthLeft is the number of empty slots that may still be filled
	// before a rehash. Tombstones do not count as empty, so a table that
	// churns through removals eventually rehashes and drops them.
	growthLeft int
}

func (t *indexTable[K, V]) init() {
	*t = indexTable[K, V]{ctrls: emptyCtrls}
}

// growthLimit returns the number of positions a table of the specified
// capacity can hold before it must be rehashed.
func growthLimit(capacity uintptr) int {
	if capacity == 0 {
		return 0
	}
	if capacity < groupSize {
		// If the table fits in a single group then we're able to fill all of
		// the slots except 1 (an empty slot is needed to terminate find
		// operations).
		return int(capacity - 1)
	}
	return int((capacity * maxAvgGroupLoad) / groupSize)
}

// capacityFor returns the smallest capacity of the form 2^k-1 whose growth
// limit is >= n.
func capacityFor(n int) uintptr {
	c := (uintptr(1) << bits.Len(uint(n))) - 1
	if c < groupSize-1 {
		c = groupSize - 1
	}
	for growthLimit(c) < n {
		c = 2*c + 1
	}
	return c
}

// find returns the slot holding the position for which eq returns true,
// probing from the home group of hash h. Only positions whose control byte
// matches h2(h) are offered to eq.
func (t *indexTable[K, V]) find(h uint64, eq func(pos int) bool) (slot uintptr, ok bool) {
	// Walk the groups of the probe sequence of h1(h). In each group the
	// slots whose control byte equals h2(h) are candidates and their
	// positions go to eq. A group with an empty slot ends the search since
	// uncheckedPut would have used that slot. Tombstones never match and
	// never end the search.
	seq := makeProbeSeq(h1(h), t.capacity)
	if debug {
		fmt.Printf("find(%016x): %s\n", h, seq)
	}

	for ; ; seq = seq.next() {
		g := &t.ctrls[seq.offset]
		match := g.matchH2(h2(h))
		if debug {
			fmt.Printf("find(probing): offset=%d h2=%02x match=%s [% 02x]\n",
				seq.offset, h2(h), match, t.ctrls[seq.offset:seq.offset+groupSize])
		}

		for match != 0 {
			bit := match.next()
			i := seq.offsetAt(bit)
			if debug {
				fmt.Printf("find(checking): slot=%d position=%d\n", i, t.positions[i])
			}
			if eq(t.positions[i]) {
				return i, true
			}
			match = match.clear(bit)
		}

		if g.matchEmpty() != 0 {
			if debug {
				fmt.Printf("find(not-found): offset=%d\n", seq.offset)
			}
			return 0, false
		}
	}
}

// findPosition returns the slot holding pos, which must be present in the
// table and must have been inserted with hash h.
func (t *indexTable[K, V]) findPosition(h uint64, pos int) uintptr {
	slot, ok := t.find(h, func(p int) bool { return p == pos })
	if !ok {
		panic(errors.AssertionFailedf("position %d not found in index [h2=%02x h1=%07x]",
			pos, h2(h), h1(h)))
	}
	return slot
}

// uncheckedPut inserts a position known not to be in the table. The caller
// is responsible for ensuring growthLeft > 0.
func (t *indexTable[K, V]) uncheckedPut(h uint64, pos int) {
	// The position goes into the first empty or deleted slot on the probe
	// sequence of h1(h), and that slot's control byte becomes h2(h).
	seq := makeProbeSeq(h1(h), t.capacity)
	if debug {
		fmt.Printf("put(%016x,%d): %s\n", h, pos, seq)
	}

	for ; ; seq = seq.next() {
		g := &t.ctrls[seq.offset]
		match := g.matchEmptyOrDeleted()
		if debug {
			fmt.Printf("put(probing): offset=%d match-empty=%s [% 02x]\n",
				seq.offset, match, t.ctrls[seq.offset:seq.offset+groupSize])
		}

		if match != 0 {
			i := seq.offsetAt(match.next())
			t.positions[i] = pos
			if t.ctrls[i] == ctrlEmpty {
				t.growthLeft--
			}
			t.setCtrl(i, ctrl(h2(h)))
			t.used++
			if debug {
				fmt.Printf("put(inserting): slot=%d used=%d growth-left=%d\n", i, t.used, t.growthLeft)
			}
			return
		}
	}
}

// erase removes the position stored in slot i.
func (t *indexTable[K, V]) erase(i uintptr) {
	t.used--

	// A freed slot normally becomes a tombstone so that probes for positions
	// placed further along the sequence keep going. If no group window
	// covering the slot was ever full, no probe ever passed over it, and the
	// slot can go straight back to empty.
	if t.wasNeverFull(i) {
		t.setCtrl(i, ctrlEmpty)
		t.growthLeft++
		if debug {
			fmt.Printf("erase: slot=%d used=%d growth-left=%d\n", i, t.used, t.growthLeft)
		}
	} else {
		t.setCtrl(i, ctrlDeleted)
		if debug {
			fmt.Printf("erase: slot=%d used=%d (tombstone)\n", i, t.used)
		}
	}
}

// isFull returns true if slot i holds a position.
func (t *indexTable[K, V]) isFull(i uintptr) bool {
	// Full control bytes have a high-bit of zero.
	return (t.ctrls[i] & ctrlEmpty) != ctrlEmpty
}

// decrementAbove decrements every position greater than pos. It visits every
// slot and is used when too many positions move for individual lookups to
// be cheaper.
func (t *indexTable[K, V]) decrementAbove(pos int) {
	for i := uintptr(0); i < t.capacity; i++ {
		if t.isFull(i) && t.positions[i] > pos {
			t.positions[i]--
		}
	}
}

// setCtrl sets the control byte at index i, taking care to mirror the byte to
// the end of the control bytes slice if i<groupSize.
func (t *indexTable[K, V]) setCtrl(i uintptr, v ctrl) {
	t.ctrls[i] = v
	// For i in [groupSize-1, capacity) the mirror index is i itself, so the
	// second store is a harmless rewrite.
	t.ctrls[((i-(groupSize-1))&t.capacity)+(groupSize-1)] = v
}

// wasNeverFull returns true if index i was never part a full group. This
// check allows an optimization during deletion whereby a deleted slot can be
// converted to empty rather than a tombstone. See the comment in erase for
// further explanation.
func (t *indexTable[K, V]) wasNeverFull(i uintptr) bool {
	if t.capacity < groupSize {
		// The table fits entirely in a single group so we will never probe
		// beyond this group.
		return true
	}

	indexBefore := (i - groupSize) & t.capacity
	after := (&t.ctrls[i]).matchEmpty()
	before := (&t.ctrls[indexBefore]).matchEmpty()
	if debug {
		fmt.Printf("wasNeverFull: before=%d/%s/%d after=%d/%s/%d\n",
			indexBefore, before, bits.LeadingZeros64(uint64(before))>>3,
			i, after, bits.TrailingZeros64(uint64(after))>>3)
	}

	// Trailing zero bytes of after count the non-empty run starting at i;
	// leading zero bytes of before count the non-empty run ending just
	// before i. If the two runs together are shorter than a group, no
	// groupSize window containing i was ever full.
	if before != 0 && after != 0 &&
		((bits.TrailingZeros64(uint64(after))>>3)+
			(bits.LeadingZeros64(uint64(before))>>3)) < groupSize {
		return true
	}
	return false
}

// rehash makes room for at least one more position, either by dropping
// tombstones in place or by growing the table. Growing the table also grows
// the entry store so the two structures always double together.
func (t *indexTable[K, V]) rehash(m *Map[K, V]) {
	// growthLeft is 0, so every slot of the growth limit not used by a
	// position is a tombstone. Dropping them in place is worthwhile if it
	// frees at least a third of the table; otherwise double.
	recoverable := growthLimit(t.capacity) - t.used
	if t.capacity > groupSize && uintptr(recoverable) >= t.capacity/3 {
		t.rehashInPlace(m)
	} else {
		t.resize(m, 2*t.capacity+1)
	}
}

// resize allocates a table of newCapacity slots, re-inserts every position
// using the hash cached in the entry store, and discards the old arrays.
func (t *indexTable[K, V]) resize(m *Map[K, V], newCapacity uintptr) {
	if (1 + newCapacity) < groupSize {
		newCapacity = groupSize - 1
	}

	oldCtrls, oldPositions := t.ctrls, t.positions
	oldCapacity := t.capacity

	t.positions = m.allocator.AllocPositions(int(newCapacity))
	t.ctrls = unsafeConvertSlice[ctrl](m.allocator.AllocControls(int(newCapacity + groupSize)))
	for i := range t.ctrls {
		t.ctrls[i] = ctrlEmpty
	}
	t.ctrls[newCapacity] = ctrlSentinel
	t.capacity = newCapacity
	t.used = 0
	t.growthLeft = growthLimit(newCapacity)

	if debug {
		fmt.Printf("resize: capacity=%d->%d  growth-left=%d\n",
			oldCapacity, newCapacity, t.growthLeft)
	}

	for i := uintptr(0); i < oldCapacity; i++ {
		c := oldCtrls[i]
		if c == ctrlEmpty || c == ctrlDeleted {
			continue
		}
		pos := oldPositions[i]
		t.uncheckedPut(m.hashAt(pos), pos)
	}

	if oldCapacity > 0 {
		m.allocator.FreePositions(oldPositions)
		m.allocator.FreeControls(unsafeConvertSlice[uint8](oldCtrls))
	}

	m.reserveEntries(growthLimit(newCapacity))
}

// rehashInPlace drops every tombstone without changing the capacity.
func (t *indexTable[K, V]) rehashInPlace(m *Map[K, V]) {
	if debug {
		fmt.Printf("rehash: %d/%d\n", t.used, t.capacity)
	}

	// Turn tombstones into empty slots and full slots into "deleted" markers.
	// Afterwards every marker is a position that still has to be re-placed.
	for i := uintptr(0); i < t.capacity; i += groupSize {
		(&t.ctrls[i]).convertNonFullToEmptyAndFullToDeleted()
	}

	// The group conversion clobbered the mirror and the sentinel.
	for i, n := uintptr(0), uintptr(groupSize-1); i < n; i++ {
		t.ctrls[((i-(groupSize-1))&t.capacity)+(groupSize-1)] = t.ctrls[i]
	}
	t.ctrls[t.capacity] = ctrlSentinel

	// Re-place each marked position at the first empty or marked slot of its
	// probe sequence. No slot in [0, i) is ever marked again, so a single
	// pass suffices, though a swap with a marked target revisits slot i.
	for i := uintptr(0); i < t.capacity; i++ {
		if t.ctrls[i] != ctrlDeleted {
			continue
		}

		h := m.hashAt(t.positions[i])
		seq := makeProbeSeq(h1(h), t.capacity)
		desired := seq

		probeIndex := func(pos uintptr) uintptr {
			return ((pos - desired.offset) & t.capacity) / groupSize
		}

		var target uintptr
		for ; ; seq = seq.next() {
			if match := (&t.ctrls[seq.offset]).matchEmptyOrDeleted(); match != 0 {
				target = seq.offsetAt(match.next())
				break
			}
		}

		if i == target || probeIndex(i) == probeIndex(target) {
			// Already in its home group.
			t.setCtrl(i, ctrl(h2(h)))
			continue
		}

		if t.ctrls[target] == ctrlEmpty {
			t.setCtrl(target, ctrl(h2(h)))
			t.positions[target] = t.positions[i]
			t.setCtrl(i, ctrlEmpty)
			continue
		}

		if t.ctrls[target] == ctrlDeleted {
			// target holds a position that still needs placing. Swap and
			// process slot i again.
			t.setCtrl(target, ctrl(h2(h)))
			t.positions[target], t.positions[i] = t.positions[i], t.positions[target]
			i--
			continue
		}

		panic(errors.AssertionFailedf("ctrl at position %d (%02x) should be empty or deleted",
			target, t.ctrls[target]))
	}

	t.growthLeft = growthLimit(t.capacity) - t.used

	if debug {
		fmt.Printf("rehash: done: used=%d growth-left=%d\n", t.used, t.growthLeft)
	}
}

// clear empties the table while retaining its capacity.
func (t *indexTable[K, V]) clear() {
	if t.capacity == 0 {
		return
	}
	for i := range t.ctrls {
		t.ctrls[i] = ctrlEmpty
	}
	t.ctrls[t.capacity] = ctrlSentinel
	t.used = 0
	t.growthLeft = growthLimit(t.capacity)
}

// release returns the table's memory to the allocator and leaves the table
// empty.
func (t *indexTable[K, V]) release(a Allocator[K, V]) {
	if t.capacity > 0 {
		a.FreePositions(t.positions)
		a.FreeControls(unsafeConvertSlice[uint8](t.ctrls))
	}
	t.init()
}

// verify checks the structural invariants of the table itself: the mirrored
// control bytes, the sentinel, and the used and growthLeft counts.
func (t *indexTable[K, V]) verify() error {
	if t.capacity > 0 {
		// Verify the cloned control bytes are good.
		for i, n := uintptr(0), uintptr(groupSize-1); i < n; i++ {
			j := ((i - (groupSize - 1)) & t.capacity) + (groupSize - 1)
			if ci, cj := t.ctrls[i], t.ctrls[j]; ci != cj {
				return errors.AssertionFailedf("ctrl(%d)=%02x != ctrl(%d)=%02x", i, ci, j, cj)
			}
		}
		// Verify the sentinel is good.
		if c := t.ctrls[t.capacity]; c != ctrlSentinel {
			return errors.AssertionFailedf("ctrl(%d): expected sentinel, but found %02x", t.capacity, c)
		}
	}

	var used, deleted int
	for i := uintptr(0); i < t.capacity; i++ {
		switch c := t.ctrls[i]; {
		case c == ctrlDeleted:
			deleted++
		case c == ctrlEmpty:
		case c == ctrlSentinel:
			return errors.AssertionFailedf("ctrl(%d): unexpected sentinel", i)
		default:
			used++
		}
	}
	if used != t.used {
		return errors.AssertionFailedf("found %d used slots, but used count is %d", used, t.used)
	}
	if growthLeft := growthLimit(t.capacity) - t.used - deleted; growthLeft != t.growthLeft {
		return errors.AssertionFailedf("found %d growthLeft, but expected %d", t.growthLeft, growthLeft)
	}
	return nil
}

func (t *indexTable[K, V]) debugString(m *Map[K, V]) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  growth-left=%d\n", t.capacity, t.used, t.growthLeft)
	for i := uintptr(0); i < t.capacity+groupSize && t.capacity > 0; i++ {
		switch c := t.ctrls[i]; c {
		case ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case ctrlDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		case ctrlSentinel:
			fmt.Fprintf(&buf, "  %4d: sentinel\n", i)
		default:
			if i < t.capacity {
				pos := t.positions[i]
				if pos >= 0 && pos < len(m.entries) {
					b := &m.entries[pos]
					fmt.Fprintf(&buf, "  %4d: %d -> %v [ctrl=%02x h2=%02x]\n", i, pos, b.key, c, h2(b.hash))
				} else {
					fmt.Fprintf(&buf, "  %4d: %d -> <out of range> [ctrl=%02x]\n", i, pos, c)
				}
			} else {
				fmt.Fprintf(&buf, "  %4d: [ctrl=%02x]\n", i, c)
			}
		}
	}
	return buf.String()
}

type bitset uint64

func (b bitset) next() uintptr {
	return uintptr(bits.TrailingZeros64(uint64(b))) >> 3
}

func (b bitset) clear(i uintptr) bitset {
	return b &^ (bitset(0x80) << (i << 3))
}

func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(groupSize)
	for i := 0; i < groupSize; i++ {
		if (b & (bitset(0x80) << (i << 3))) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// Each slot in the hash table has a control byte which can have one of four
// states: empty, deleted, full and the sentinel. They have the following bit
// patterns:
//
//	   empty: 1 0 0 0 0 0 0 0
//	 deleted: 1 1 1 1 1 1 1 0
//	    full: 0 h h h h h h h  // h represents the H2 hash bits
//	sentinel: 1 1 1 1 1 1 1 1
type ctrl uint8

var emptyCtrls = func() []ctrl {
	v := make([]ctrl, groupSize)
	for i := range v {
		v[i] = ctrlEmpty
	}
	return v
}()

// matchH2 returns a bitset where each byte is 0x80 if that control byte
// holds h. The group starting at c must have groupSize readable bytes.
func (c *ctrl) matchH2(h uintptr) bitset {
	// The borrow of the subtraction can flag the byte after a real match as
	// a false positive (ctrls 0x0302 with h=0x02 flags both bytes). Only full
	// slots next to a real match are affected and eq rejects them.
	v := *(*uint64)((unsafe.Pointer)(c)) ^ (bitsetLSB * uint64(h))
	return bitset(((v - bitsetLSB) &^ v) & bitsetMSB)
}

// matchEmpty returns a bitset where each byte is 0x80 if that control byte
// indicates an empty slot (and 0x00 otherwise).
func (c *ctrl) matchEmpty() bitset {
	v := *(*uint64)((unsafe.Pointer)(c))
	// An empty slot is              1000 0000
	// A deleted or sentinel slot is 1111 111?
	// A slot is empty iff bit 7 is set and bit 1 is not.
	return bitset((v &^ (v << 6)) & bitsetMSB)
}

// matchEmptyOrDeleted returns a bitset where each byte is 0x80 if that
// control byte indicates an empty or deleted slot (and 0x00 otherwise).
func (c *ctrl) matchEmptyOrDeleted() bitset {
	// An empty slot is  1000 0000.
	// A deleted slot is 1111 1110.
	// The sentinel is   1111 1111.
	// A slot is empty or deleted iff bit 7 is set and bit 0 is not.
	v := *(*uint64)((unsafe.Pointer)(c))
	return bitset((v &^ (v << 7)) & bitsetMSB)
}

// convertNonFullToEmptyAndFullToDeleted converts deleted or sentinel control
// bytes in a group to empty control bytes, and control bytes indicating full
// slots to deleted control bytes.
func (c *ctrl) convertNonFullToEmptyAndFullToDeleted() {
	// Keep only the high bit of each byte, h. The result per byte is
	// (^h + h>>7) with the low bit cleared: 0x80 (empty) when h was set,
	// 0xfe (deleted) when it was clear.
	p := (*uint64)((unsafe.Pointer)(c))
	v := *p & bitsetMSB
	*p = (^v + (v >> 7)) &^ bitsetLSB
}

// probeSeq walks the groups of a table in triangular order:
//
//	p(i) := groupSize * (i^2 + i)/2 + hash (mod mask+1)
//
// Consecutive probes never overlap, and because (i^2+i)/2 is a bijection
// modulo a power of two, the sequence visits every group of the table
// exactly once before repeating. Offsets wrap at mask+1 even though groups
// read past the end see the mirrored control bytes: the slot an offset
// names must be a real slot.
type probeSeq struct {
	mask   uintptr
	offset uintptr
	index  uintptr
}

func makeProbeSeq(hash, mask uintptr) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: hash & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index += groupSize
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) offsetAt(i uintptr) uintptr {
	return (s.offset + i) & s.mask
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}

// Extracts the H1 portion of a hash: the 57 upper bits.
func h1(h uint64) uintptr {
	return uintptr(h >> 7)
}

// Extracts the H2 portion of a hash: the 7 bits not used for h1.
//
// These are used as an occupied control byte.
func h2(h uint64) uintptr {
	return uintptr(h & 0x7f)
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
