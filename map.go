// Copyright 2024 The Hybridmap Authors
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

// Package hybridmap implements an associative container keyed by machine
// integers with a hybrid two-tier representation: a dense direct-address
// array covers a contiguous zero-based range of small keys, and an
// open-addressed hash table holds every other key (negative, or beyond the
// array's current size).
//
// # Layout
//
// The single routing invariant is: if unsigned(key) < arraySize the entry
// lives in the array tier, otherwise in the hash tier. The array tier is a
// flat buffer of values indexed directly by key; a reserved "empty" value
// marks absent slots, which keeps reads a single indexed load with no
// occupancy bitmap. The hash tier is a pair of parallel buffers of keys and
// values using linear probing with power-of-two masking. Two reserved key
// values mark vacant (EMPTY_KEY) and tombstoned (REMOVED_KEY) cells.
//
// Probing skips tombstones, and inserts never reuse them; tombstones are
// reclaimed only when the table rehashes. Because tombstones count toward
// the fill bound (75% of hashSize) but not toward the live count, a
// delete-then-reinsert loop eventually triggers a rehash even if the live
// count is stable. That rehash is the only tombstone-collection mechanism
// short of Reserve with cleanHash set.
//
// # Growth
//
// When a hash-tier write finds the fill bound reached, adaptSizes builds a
// histogram of existing keys bucketed by bit-width and jointly picks new
// array and hash lengths: the array takes the largest power of two it can
// cover at 45% density or better, and the hash is doubled until the leftover
// keys sit below 60% density. Entries whose keys now fall under the array
// size migrate out of the hash during relocation. Neither tier ever shrinks.
//
// # Performance
//
// The target workload is keys that are usually small IDs but occasionally
// fall outside that range. For such workloads Go's builtin map pays the full
// hashing and probing cost on every access, while here the common case is a
// bounds check and one indexed load.
//
// A Map is NOT goroutine-safe, and no operation blocks.
package hybridmap

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	debug = false

	// Tier density bounds. The array tier is only grown to a size it can
	// cover at arrayMinFill; the hash tier is sized so live entries stay
	// below twice hashMinFill and is declared full at hashMaxFill
	// (hashFill >= (hashSize>>2)*3, the branch-free form).
	arrayMinFill = 0.45
	hashMinFill  = 0.30
	hashMaxFill  = 0.75

	minArraySize = 8
	minHashSize  = 8

	// keyBits bounds the bit-width histogram in adaptSizes. Keys are
	// bucketed by the width of their unsigned value, so bucket keyBits
	// collects the keys (negative ones among them) that no array tier can
	// ever cover.
	keyBits = 64
)

// Map is a two-tier container mapping integer keys to values. The zero
// value is not usable; construct with New. A freshly constructed Map owns
// no buffers; the first insert allocates.
//
// Pointers returned by GetPtr, Set and SetIfNew alias interior storage.
// They are invalidated by any operation that can relocate the tiers: Set
// and SetIfNew when they trigger growth, Reserve, Clear, Swap and Close.
// Remove and RemovePtr never relocate.
type Map[K Key, V any] struct {
	hash       func(K) uint64
	emptyKey   K
	removedKey K
	emptyVal   V
	isEmpty    func(V) bool
	allocator  Allocator[K, V]

	arrayCount uint64
	arraySize  uint64
	hashSize   uint64
	hashCount  uint64
	hashFill   uint64

	arrayValues unsafeSlice[V]
	hashValues  unsafeSlice[V]
	hashKeys    unsafeSlice[K]
}

// New constructs an empty Map. Both tiers start at zero capacity and grow on
// the first insert; use Reserve to preallocate.
func New[K Key, V any](opts ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		hash:      defaultHash[K],
		allocator: defaultAllocator[K, V]{},
	}
	m.emptyKey = maxKey[K]()
	m.removedKey = m.emptyKey - 1
	m.emptyVal, m.isEmpty = defaultValueTraits[V]()
	for _, op := range opts {
		op.apply(m)
	}
	return m
}

// Close releases the map's buffers back to its configured allocator and
// resets the map to the empty zero-capacity state. It is unnecessary to
// close a map using the default allocator. Close is idempotent and the map
// is reusable afterwards.
func (m *Map[K, V]) Close() {
	if m.arraySize > 0 {
		m.allocator.FreeValues(m.arrayValues.Slice(0, uintptr(m.arraySize)))
	}
	if m.hashSize > 0 {
		m.allocator.FreeKeys(m.hashKeys.Slice(0, uintptr(m.hashSize)))
		m.allocator.FreeValues(m.hashValues.Slice(0, uintptr(m.hashSize)))
	}
	m.arrayCount, m.arraySize = 0, 0
	m.hashSize, m.hashCount, m.hashFill = 0, 0, 0
	m.arrayValues = unsafeSlice[V]{}
	m.hashValues = unsafeSlice[V]{}
	m.hashKeys = unsafeSlice[K]{}
}

// EmptyValue returns the reserved value marking absent slots. Get returns it
// for keys that are not present; Set and SetIfNew reject it.
func (m *Map[K, V]) EmptyValue() V {
	return m.emptyVal
}

// IsEmptyValue reports whether v is the reserved empty value.
func (m *Map[K, V]) IsEmptyValue(v V) bool {
	return m.isEmpty(v)
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return int(m.arrayCount + m.hashCount)
}

// Get returns the value stored for key, or the empty value if the key is
// not present.
func (m *Map[K, V]) Get(key K) V {
	m.assertUserKey(key)
	if m.inArray(key) {
		return *m.arrayValues.At(uintptr(unsigned(key)))
	}
	return m.hashGet(key)
}

// GetPtr returns a pointer to the live slot holding key's value, or nil if
// the key is not present. The pointer is valid until the next relocating
// operation.
func (m *Map[K, V]) GetPtr(key K) *V {
	m.assertUserKey(key)
	if m.inArray(key) {
		v := m.arrayValues.At(uintptr(unsigned(key)))
		if m.isEmpty(*v) {
			return nil
		}
		return v
	}
	return m.hashGetPtr(key)
}

// Set stores value for key, inserting it if absent, and returns a pointer
// to the stored value. The value must not be the empty value.
func (m *Map[K, V]) Set(key K, value V) *V {
	m.assertUserKey(key)
	m.assertUserValue(value)
	if m.inArray(key) {
		slot := m.arrayValues.At(uintptr(unsigned(key)))
		if m.isEmpty(*slot) {
			m.arrayCount++
		}
		*slot = value
		m.checkInvariants()
		return slot
	}
	return m.hashSet(key, value)
}

// SetIfNew inserts value for key only if the key is absent. If the key is
// already present the stored value is left alone and a pointer to it is
// returned; on insertion SetIfNew returns nil.
func (m *Map[K, V]) SetIfNew(key K, value V) *V {
	m.assertUserKey(key)
	m.assertUserValue(value)
	if m.inArray(key) {
		slot := m.arrayValues.At(uintptr(unsigned(key)))
		if m.isEmpty(*slot) {
			*slot = value
			m.arrayCount++
			return nil
		}
		return slot
	}
	return m.hashSetIfNew(key, value)
}

// Remove deletes the entry for key. It is a noop to remove a non-existent
// key.
func (m *Map[K, V]) Remove(key K) {
	m.assertUserKey(key)
	if m.inArray(key) {
		slot := m.arrayValues.At(uintptr(unsigned(key)))
		if !m.isEmpty(*slot) {
			m.arrayCount--
		}
		*slot = m.emptyVal
		return
	}
	m.hashRemove(key)
}

// RemovePtr deletes the entry whose live slot ptr points to. The pointer
// must have been obtained from this map after its last relocation.
func (m *Map[K, V]) RemovePtr(ptr *V) {
	if ptr == nil || m.isEmpty(*ptr) {
		panic("hybridmap: RemovePtr requires a pointer to a live slot")
	}
	if m.inArrayPtr(ptr) {
		m.arrayCount--
		*ptr = m.emptyVal
		return
	}
	cell := m.hashCell(ptr)
	if k := *m.hashKeys.At(cell); k == m.emptyKey || k == m.removedKey {
		panic("hybridmap: RemovePtr on a dead hash cell")
	}
	*m.hashKeys.At(cell) = m.removedKey
	m.hashCount--
	var zero V
	*m.hashValues.At(cell) = zero
}

// KeyOf returns the key whose live slot ptr points to. It is the inverse of
// GetPtr under the same no-relocation window.
func (m *Map[K, V]) KeyOf(ptr *V) K {
	if ptr == nil {
		panic("hybridmap: KeyOf requires a pointer into map storage")
	}
	if m.inArrayPtr(ptr) {
		var v V
		off := uintptr(unsafe.Pointer(ptr)) - uintptr(m.arrayValues.ptr)
		return K(off / unsafe.Sizeof(v))
	}
	return *m.hashKeys.At(m.hashCell(ptr))
}

// ForEach calls action for every entry: the array tier in ascending key
// order first, then the hash tier in cell order. Returning true from action
// stops the iteration. The value pointer may be written through, but the
// map must not be mutated through its API while the iteration is running.
func (m *Map[K, V]) ForEach(action func(key K, value *V) bool) {
	for i := uintptr(0); i < uintptr(m.arraySize); i++ {
		v := m.arrayValues.At(i)
		if !m.isEmpty(*v) {
			if action(K(i), v) {
				return
			}
		}
	}
	for i := uintptr(0); i < uintptr(m.hashSize); i++ {
		key := *m.hashKeys.At(i)
		if key != m.emptyKey && key != m.removedKey {
			if action(key, m.hashValues.At(i)) {
				return
			}
		}
	}
}

// Clear removes all entries without releasing or shrinking the buffers.
func (m *Map[K, V]) Clear() {
	if m.arraySize > 0 && m.arrayCount > 0 {
		for i := uintptr(0); i < uintptr(m.arraySize); i++ {
			*m.arrayValues.At(i) = m.emptyVal
		}
	}
	if m.hashSize > 0 && m.hashFill > 0 {
		m.destroyHashValues()
		for i := uintptr(0); i < uintptr(m.hashSize); i++ {
			*m.hashKeys.At(i) = m.emptyKey
		}
	}
	m.arrayCount, m.hashCount, m.hashFill = 0, 0, 0
	m.checkInvariants()
}

// Swap exchanges the contents of m and other in O(1) by swapping buffers
// and counters (the traits and allocator travel with their buffers).
// Outstanding pointers keep aliasing the storage they were taken from,
// which now belongs to the other map.
func (m *Map[K, V]) Swap(other *Map[K, V]) {
	*m, *other = *other, *m
}

// Reserve grows each tier to at least the given lower bound, rounded up to
// a power of two and clamped against the tier minimum. Capacity never
// shrinks. If cleanHash is set the hash tier is rehashed even when no bound
// requires growth, flushing accumulated tombstones.
func (m *Map[K, V]) Reserve(arraySizeLB, hashSizeLB uint64, cleanHash bool) {
	if arraySizeLB > 0 || m.arraySize > 0 {
		arraySizeLB = max(uint64(1)<<log2up(arraySizeLB), max(m.arraySize, minArraySize))
	}
	if hashSizeLB > 0 || m.hashSize > 0 {
		hashSizeLB = max(uint64(1)<<log2up(hashSizeLB), max(m.hashSize, minHashSize))
	}
	if arraySizeLB == m.arraySize && hashSizeLB == m.hashSize && !cleanHash {
		return
	}
	m.reallocate(arraySizeLB, hashSizeLB)
	m.checkInvariants()
}

// inArray reports whether key belongs to the array tier.
func (m *Map[K, V]) inArray(key K) bool {
	return unsigned(key) < m.arraySize
}

// inArrayPtr reports whether ptr points into the array tier's buffer.
func (m *Map[K, V]) inArrayPtr(ptr *V) bool {
	var v V
	off := uintptr(unsafe.Pointer(ptr)) - uintptr(m.arrayValues.ptr)
	return off < uintptr(m.arraySize)*unsafe.Sizeof(v)
}

// hashCell maps a value pointer to its hash-tier cell index.
func (m *Map[K, V]) hashCell(ptr *V) uintptr {
	var v V
	off := uintptr(unsafe.Pointer(ptr)) - uintptr(m.hashValues.ptr)
	cell := off / unsafe.Sizeof(v)
	if cell >= uintptr(m.hashSize) {
		panic("hybridmap: pointer does not alias map storage")
	}
	return cell
}

func (m *Map[K, V]) assertUserKey(key K) {
	if key == m.emptyKey || key == m.removedKey {
		panic(fmt.Sprintf("hybridmap: key %v collides with a reserved sentinel", key))
	}
}

func (m *Map[K, V]) assertUserValue(value V) {
	if m.isEmpty(value) {
		panic("hybridmap: cannot store the reserved empty value")
	}
}

// findEmpty probes for the first vacant cell. It is used only during
// relocation, on a table already free of tombstones and duplicates, so it
// stops at EMPTY_KEY alone.
func (m *Map[K, V]) findEmpty(key K) uint64 {
	mask := m.hashSize - 1
	cell := m.hash(key) & mask
	for *m.hashKeys.At(uintptr(cell)) != m.emptyKey {
		cell = (cell + 1) & mask
	}
	return cell
}

// findEmptyOrKey probes for key, stopping at the first cell that is vacant
// or holds the key. Tombstones are scanned past: a live key may sit beyond
// its probe start through any number of REMOVED_KEY cells.
func (m *Map[K, V]) findEmptyOrKey(key K) uint64 {
	mask := m.hashSize - 1
	cell := m.hash(key) & mask
	for {
		k := *m.hashKeys.At(uintptr(cell))
		if k == m.emptyKey || k == key {
			return cell
		}
		cell = (cell + 1) & mask
	}
}

func (m *Map[K, V]) hashGet(key K) V {
	if m.hashSize == 0 {
		return m.emptyVal
	}
	cell := m.findEmptyOrKey(key)
	if *m.hashKeys.At(uintptr(cell)) == m.emptyKey {
		return m.emptyVal
	}
	return *m.hashValues.At(uintptr(cell))
}

func (m *Map[K, V]) hashGetPtr(key K) *V {
	if m.hashSize == 0 {
		return nil
	}
	cell := m.findEmptyOrKey(key)
	if *m.hashKeys.At(uintptr(cell)) == m.emptyKey {
		return nil
	}
	return m.hashValues.At(uintptr(cell))
}

func (m *Map[K, V]) hashSet(key K, value V) *V {
	if m.hashFill >= (m.hashSize>>2)*3 {
		m.adaptSizes(key)
		// Growth may have migrated key's range into the array tier;
		// restart at the public entry to re-route.
		return m.Set(key, value)
	}
	cell := m.findEmptyOrKey(key)
	k := m.hashKeys.At(uintptr(cell))
	if *k == m.emptyKey {
		m.hashFill++
		m.hashCount++
	}
	*k = key
	slot := m.hashValues.At(uintptr(cell))
	*slot = value
	m.checkInvariants()
	return slot
}

func (m *Map[K, V]) hashSetIfNew(key K, value V) *V {
	if m.hashFill >= (m.hashSize>>2)*3 {
		m.adaptSizes(key)
		return m.SetIfNew(key, value)
	}
	cell := m.findEmptyOrKey(key)
	k := m.hashKeys.At(uintptr(cell))
	if *k != m.emptyKey {
		return m.hashValues.At(uintptr(cell))
	}
	m.hashFill++
	m.hashCount++
	*k = key
	*m.hashValues.At(uintptr(cell)) = value
	m.checkInvariants()
	return nil
}

func (m *Map[K, V]) hashRemove(key K) {
	if m.hashSize == 0 {
		return
	}
	cell := m.findEmptyOrKey(key)
	if *m.hashKeys.At(uintptr(cell)) == m.emptyKey {
		return
	}
	*m.hashKeys.At(uintptr(cell)) = m.removedKey
	m.hashCount--
	var zero V
	*m.hashValues.At(uintptr(cell)) = zero
	m.checkInvariants()
}

func (m *Map[K, V]) destroyHashValues() {
	var zero V
	for i := uintptr(0); i < uintptr(m.hashSize); i++ {
		key := *m.hashKeys.At(i)
		if key != m.emptyKey && key != m.removedKey {
			*m.hashValues.At(i) = zero
		}
	}
}

// adaptSizes jointly picks new array and hash lengths from a bit-width
// histogram of the existing keys plus newKey, then relocates. Called when a
// hash-tier write finds the fill bound reached; newKey is the key about to
// be inserted.
func (m *Map[K, V]) adaptSizes(newKey K) {
	var logHisto [keyBits + 1]uint64

	// Bucket every key by the bit-width of its unsigned value. Array-tier
	// keys are all below arraySize, so they land in one bucket.
	logArraySize := log2up(m.arraySize)
	logHisto[logArraySize] = m.arrayCount
	logHisto[log2size(unsigned(newKey))]++
	for i := uintptr(0); i < uintptr(m.hashSize); i++ {
		key := *m.hashKeys.At(i)
		if key == m.emptyKey || key == m.removedKey {
			continue
		}
		logHisto[log2size(unsigned(key))]++
	}

	// Walk candidate array sizes upward, tracking in prefSum how many keys
	// would fit below each. The largest candidate meeting the density floor
	// wins; once even the total entry count cannot meet the floor, no
	// larger candidate ever can.
	var newArraySize, newArrayCount uint64
	lowerBound := max(m.arraySize, minArraySize)
	var prefSum uint64
	for i := logArraySize; i < keyBits; i++ {
		prefSum += logHisto[i]
		aSize := uint64(1) << i
		required := uint64(arrayMinFill * float64(aSize))
		if aSize <= lowerBound || prefSum >= required {
			newArraySize = aSize
			newArrayCount = prefSum
		} else if m.arrayCount+m.hashCount < required {
			break
		}
	}
	if m.arraySize == 0 && newArrayCount == 0 {
		newArraySize = 0
	}

	// Size the hash tier for everything the array will not absorb, plus the
	// incoming key, doubling until density falls below twice the floor.
	newHashCount := m.arrayCount + m.hashCount - newArrayCount + 1
	newHashSize := max(m.hashSize, minHashSize)
	for float64(newHashCount) >= hashMinFill*float64(newHashSize)*2 {
		newHashSize *= 2
	}
	if m.hashSize == 0 && newHashCount == 0 {
		newHashSize = 0
	}

	if debug {
		fmt.Printf("adaptSizes(%v): array=%d->%d hash=%d->%d\n",
			newKey, m.arraySize, newArraySize, m.hashSize, newHashSize)
	}

	m.reallocate(newArraySize, newHashSize)
}

// reallocate changes tier sizes and relocates data. Sizes are monotone:
// the in-place rehash and the cyclic reinsertion pass both rely on the new
// sizes being at least the old ones.
func (m *Map[K, V]) reallocate(newArraySize, newHashSize uint64) {
	if newArraySize < m.arraySize || newHashSize < m.hashSize {
		panic("hybridmap: capacity must not shrink")
	}
	if newHashSize == m.hashSize {
		m.rehashInPlace(newArraySize != m.arraySize, newArraySize)
	} else {
		m.rehashToNew(newArraySize != m.arraySize, newHashSize, newArraySize)
	}
}

// relocateOne moves a value between slots, leaving the source dead so the
// tier does not retain references through it.
func relocateOne[V any](dst, src *V) {
	*dst = *src
	var zero V
	*src = zero
}

// relocateMany is the bulk form over two buffers.
func relocateMany[V any](dst, src unsafeSlice[V], n uint64) {
	if n == 0 {
		return
	}
	d := dst.Slice(0, uintptr(n))
	s := src.Slice(0, uintptr(n))
	copy(d, s)
	clear(s)
}

// relocateArrayPart grows the array tier, value-constructing the new suffix
// to the empty state.
func (m *Map[K, V]) relocateArrayPart(newArraySize uint64) {
	newValues := makeUnsafeSlice(m.allocator.AllocValues(int(newArraySize)))
	relocateMany(newValues, m.arrayValues, m.arraySize)
	for i := uintptr(m.arraySize); i < uintptr(newArraySize); i++ {
		*newValues.At(i) = m.emptyVal
	}
	if m.arraySize > 0 {
		m.allocator.FreeValues(m.arrayValues.Slice(0, uintptr(m.arraySize)))
	}
	m.arrayValues = newValues
	m.arraySize = newArraySize
}

// rehashInPlace flushes tombstones from the hash tier without changing its
// size, migrating entries into the array tier first when it grew.
func (m *Map[K, V]) rehashInPlace(relocArray bool, newArraySize uint64) {
	if relocArray {
		m.relocateArrayPart(newArraySize)
	}
	if m.hashSize == 0 {
		return
	}
	totalCount := m.arrayCount + m.hashCount

	// The fill bound guarantees at least one vacant cell.
	firstEmpty := uint64(0)
	for *m.hashKeys.At(uintptr(firstEmpty)) != m.emptyKey {
		firstEmpty++
	}

	// One full cyclic pass starting at the first vacant cell. Starting
	// there visits probe chains in insertion order, so reinsertion never
	// lands on a cell that has not been vacated yet.
	pos := firstEmpty
	for {
		key := *m.hashKeys.At(uintptr(pos))
		*m.hashKeys.At(uintptr(pos)) = m.emptyKey

		if key != m.emptyKey && key != m.removedKey {
			src := m.hashValues.At(uintptr(pos))
			if relocArray && m.inArray(key) {
				relocateOne(m.arrayValues.At(uintptr(unsigned(key))), src)
				m.arrayCount++
			} else {
				cell := m.findEmpty(key)
				*m.hashKeys.At(uintptr(cell)) = key
				if cell != pos {
					relocateOne(m.hashValues.At(uintptr(cell)), src)
				}
			}
		}

		pos = (pos + 1) & (m.hashSize - 1)
		if pos == firstEmpty {
			break
		}
	}

	if relocArray {
		m.hashCount = totalCount - m.arrayCount
	}
	m.hashFill = m.hashCount
}

// rehashToNew swaps in freshly allocated hash buffers and reinserts every
// live entry, migrating entries into the array tier first when it grew.
func (m *Map[K, V]) rehashToNew(relocArray bool, newHashSize, newArraySize uint64) {
	if relocArray {
		m.relocateArrayPart(newArraySize)
	}

	oldKeys, oldValues, oldSize := m.hashKeys, m.hashValues, m.hashSize

	newKeys := makeUnsafeSlice(m.allocator.AllocKeys(int(newHashSize)))
	for i := uintptr(0); i < uintptr(newHashSize); i++ {
		*newKeys.At(i) = m.emptyKey
	}
	m.hashKeys = newKeys
	m.hashValues = makeUnsafeSlice(m.allocator.AllocValues(int(newHashSize)))
	m.hashSize = newHashSize

	totalCount := m.arrayCount + m.hashCount

	for i := uintptr(0); i < uintptr(oldSize); i++ {
		key := *oldKeys.At(i)
		if key == m.emptyKey || key == m.removedKey {
			continue
		}
		src := oldValues.At(i)
		if relocArray && m.inArray(key) {
			relocateOne(m.arrayValues.At(uintptr(unsigned(key))), src)
			m.arrayCount++
		} else {
			cell := m.findEmpty(key)
			*m.hashKeys.At(uintptr(cell)) = key
			relocateOne(m.hashValues.At(uintptr(cell)), src)
		}
	}

	if oldSize > 0 {
		m.allocator.FreeKeys(oldKeys.Slice(0, uintptr(oldSize)))
		m.allocator.FreeValues(oldValues.Slice(0, uintptr(oldSize)))
	}

	if relocArray {
		m.hashCount = totalCount - m.arrayCount
	}
	m.hashFill = m.hashCount
}

// checkInvariants is a debug hook: builds tagged with "invariants" validate
// the whole structure at mutation points.
func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if err := m.Validate(2); err != nil {
			panic(err)
		}
	}
}

// Validate checks the structural invariants and returns the first violation
// found, or nil. Level 0 checks sizes, buffers and the fill bound; level 1
// additionally recounts both tiers; level 2 additionally verifies that hash
// keys are pairwise distinct and reachable from their probe starts.
func (m *Map[K, V]) Validate(level int) error {
	if level >= 0 {
		if m.arraySize != 0 && (m.arraySize < minArraySize || m.arraySize&(m.arraySize-1) != 0) {
			return errors.Errorf("array size %d is not zero or a power of two >= %d", m.arraySize, minArraySize)
		}
		if m.hashSize != 0 && (m.hashSize < minHashSize || m.hashSize&(m.hashSize-1) != 0) {
			return errors.Errorf("hash size %d is not zero or a power of two >= %d", m.hashSize, minHashSize)
		}
		if (m.arraySize == 0) != (m.arrayValues.ptr == nil) {
			return errors.Errorf("array buffer inconsistent with array size %d", m.arraySize)
		}
		if (m.hashSize == 0) != (m.hashKeys.ptr == nil) {
			return errors.Errorf("hash key buffer inconsistent with hash size %d", m.hashSize)
		}
		if (m.hashSize == 0) != (m.hashValues.ptr == nil) {
			return errors.Errorf("hash value buffer inconsistent with hash size %d", m.hashSize)
		}
		if float64(m.hashFill) > hashMaxFill*float64(m.hashSize) {
			return errors.Errorf("hash fill %d exceeds %v of hash size %d", m.hashFill, hashMaxFill, m.hashSize)
		}
	}
	if level >= 1 {
		var arrayCount uint64
		for i := uintptr(0); i < uintptr(m.arraySize); i++ {
			if !m.isEmpty(*m.arrayValues.At(i)) {
				arrayCount++
			}
		}
		if arrayCount != m.arrayCount {
			return errors.Errorf("array count %d, recounted %d", m.arrayCount, arrayCount)
		}
		var hashCount, hashFill uint64
		for i := uintptr(0); i < uintptr(m.hashSize); i++ {
			key := *m.hashKeys.At(i)
			if key != m.emptyKey {
				hashFill++
			}
			if key == m.emptyKey || key == m.removedKey {
				continue
			}
			if unsigned(key) < m.arraySize {
				return errors.Errorf("hash cell %d holds key %v inside the array range", i, key)
			}
			if m.isEmpty(*m.hashValues.At(i)) {
				return errors.Errorf("hash cell %d holds the empty value for key %v", i, key)
			}
			hashCount++
		}
		if hashCount != m.hashCount {
			return errors.Errorf("hash count %d, recounted %d", m.hashCount, hashCount)
		}
		if hashFill != m.hashFill {
			return errors.Errorf("hash fill %d, recounted %d", m.hashFill, hashFill)
		}
	}
	if level >= 2 {
		seen := make(map[K]struct{}, m.hashCount)
		for i := uintptr(0); i < uintptr(m.hashSize); i++ {
			key := *m.hashKeys.At(i)
			if key == m.emptyKey || key == m.removedKey {
				continue
			}
			if _, dup := seen[key]; dup {
				return errors.Errorf("hash key %v occupies more than one cell", key)
			}
			seen[key] = struct{}{}
			if cell := m.findEmptyOrKey(key); *m.hashKeys.At(uintptr(cell)) != key {
				return errors.Errorf("hash key %v is not reachable from its probe start", key)
			}
		}
	}
	return nil
}

// log2size returns the number of bits needed to represent sz, i.e. the
// smallest b with sz < 1<<b.
func log2size(sz uint64) uint64 {
	return uint64(bits.Len64(sz))
}

// log2up returns ceil(log2(sz)), with log2up(0) = 0.
func log2up(sz uint64) uint64 {
	if sz == 0 {
		return 0
	}
	return uint64(bits.Len64(sz - 1))
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}
