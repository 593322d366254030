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

package hybridmap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// toBuiltinMap returns the elements as a map[K]V. Useful for testing.
func (m *Map[K, V]) toBuiltinMap() map[K]V {
	r := make(map[K]V)
	m.ForEach(func(k K, v *V) bool {
		r[k] = *v
		return false
	})
	return r
}

func requireValid[K Key, V any](t *testing.T, m *Map[K, V]) {
	t.Helper()
	require.NoError(t, m.Validate(2))
}

func TestEmptyMap(t *testing.T) {
	m := New[int64, int64]()
	require.Equal(t, 0, m.Len())
	require.Equal(t, m.EmptyValue(), m.Get(5))
	require.Equal(t, m.EmptyValue(), m.Get(-5))
	require.Nil(t, m.GetPtr(5))
	require.Nil(t, m.GetPtr(-5))
	m.Remove(5)
	m.Remove(-5)
	m.ForEach(func(k int64, v *int64) bool {
		t.Fatal("should not iterate")
		return true
	})
	require.Equal(t, 0, m.Len())
	requireValid(t, m)
}

func TestSentinelDefaults(t *testing.T) {
	m := New[int32, int32]()
	require.EqualValues(t, math.MaxInt32, m.emptyKey)
	require.EqualValues(t, math.MaxInt32-1, m.removedKey)

	// The two topmost values are reserved; their predecessor is the largest
	// usable key.
	require.Panics(t, func() { m.Set(math.MaxInt32, 1) })
	require.Panics(t, func() { m.Get(math.MaxInt32 - 1) })
	m.Set(math.MaxInt32-2, 7)
	require.EqualValues(t, 7, m.Get(math.MaxInt32-2))

	u := New[uint16, int32]()
	require.EqualValues(t, math.MaxUint16, u.emptyKey)
	require.EqualValues(t, math.MaxUint16-1, u.removedKey)

	// Custom sentinels free the top of the key range.
	c := New[int32, int32](WithSentinelKeys[int32, int32](-1, -2))
	c.Set(math.MaxInt32, 3)
	require.EqualValues(t, 3, c.Get(math.MaxInt32))
	require.Panics(t, func() { c.Set(-1, 1) })
	requireValid(t, c)
}

func TestEmptyValueDefaults(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		m := New[int64, int32]()
		require.EqualValues(t, math.MaxInt32, m.EmptyValue())
		require.EqualValues(t, math.MaxInt32, m.Get(1))
		require.Panics(t, func() { m.Set(1, math.MaxInt32) })
	})

	t.Run("uint", func(t *testing.T) {
		m := New[int64, uint8]()
		require.EqualValues(t, math.MaxUint8, m.EmptyValue())
	})

	t.Run("float", func(t *testing.T) {
		m := New[int64, float64]()
		empty := m.Get(1)
		require.True(t, math.IsNaN(empty))
		require.Equal(t, ^uint64(0), math.Float64bits(empty))
		// A plain NaN is not the empty marker; only the all-ones pattern is.
		require.False(t, m.IsEmptyValue(math.NaN()))
		m.Set(1, math.NaN())
		require.True(t, math.IsNaN(m.Get(1)))
		require.Equal(t, 1, m.Len())
	})

	t.Run("pointer", func(t *testing.T) {
		m := New[int64, *int32]()
		require.Nil(t, m.Get(1))
		v := int32(42)
		m.Set(1, &v)
		require.Equal(t, &v, m.Get(1))
		require.Panics(t, func() { m.Set(2, nil) })
	})

	t.Run("string", func(t *testing.T) {
		m := New[int64, string]()
		require.Equal(t, "", m.Get(1))
		m.Set(1, "x")
		require.Equal(t, "x", m.Get(1))
		require.Panics(t, func() { m.Set(2, "") })
	})
}

func TestBasic(t *testing.T) {
	const count = 100

	m := New[int64, int64]()
	e := make(map[int64]int64)

	// Keys span both tiers: the sequence covers negatives, a dense low
	// range, and values past any array size this test reaches.
	key := func(i int) int64 { return int64(i*3 - 50) }

	for i := 0; i < count; i++ {
		_, ok := e[key(i)]
		require.False(t, ok)
		require.Nil(t, m.GetPtr(key(i)))
	}

	for i := 0; i < count; i++ {
		m.Set(key(i), int64(i+count))
		e[key(i)] = int64(i + count)
		require.EqualValues(t, i+count, m.Get(key(i)))
		require.Equal(t, i+1, m.Len())
		require.Equal(t, e, m.toBuiltinMap())
	}
	requireValid(t, m)

	for i := 0; i < count; i++ {
		m.Set(key(i), int64(i+2*count))
		e[key(i)] = int64(i + 2*count)
		require.EqualValues(t, i+2*count, m.Get(key(i)))
		require.Equal(t, count, m.Len())
	}
	require.Equal(t, e, m.toBuiltinMap())
	requireValid(t, m)

	for i := 0; i < count; i++ {
		m.Remove(key(i))
		delete(e, key(i))
		require.Equal(t, count-i-1, m.Len())
		require.Equal(t, m.EmptyValue(), m.Get(key(i)))
	}
	require.Equal(t, e, m.toBuiltinMap())
	requireValid(t, m)
}

func TestSmallKeys(t *testing.T) {
	m := New[int32, int32]()
	for i := int32(0); i < 10; i++ {
		m.Set(i, 11*i)
	}
	var sum int32
	for i := int32(5); i < 10; i++ {
		sum += m.Get(i)
	}
	require.EqualValues(t, 385, sum)
	require.Equal(t, 10, m.Len())

	m.Reserve(32, 0, false)
	require.EqualValues(t, 32, m.arraySize)

	p := m.SetIfNew(9, 0)
	require.NotNil(t, p)
	require.EqualValues(t, 99, *p)
	require.Nil(t, m.SetIfNew(12, 0))
	require.Equal(t, 11, m.Len())

	present := map[int32]bool{}
	zeroed := map[int32]bool{}
	for i := int32(8); i <= 12; i++ {
		if ptr := m.GetPtr(i); ptr != nil {
			present[i] = true
			if *ptr == 0 {
				zeroed[i] = true
			}
		}
	}
	require.Equal(t, map[int32]bool{8: true, 9: true, 12: true}, present)
	require.Equal(t, map[int32]bool{12: true}, zeroed)
	requireValid(t, m)
}

func TestSwapClearSwap(t *testing.T) {
	primes := []int64{2, 3, 5, 7, 11, 13}
	m := New[int64, int64]()
	for i, p := range primes {
		m.Set(int64(i), p)
	}

	other := New[int64, int64]()
	m.Swap(other)
	require.Equal(t, 0, m.Len())
	require.Equal(t, 6, other.Len())

	m.Clear()
	m.Swap(other)
	require.Equal(t, 6, m.Len())
	require.Equal(t, 0, other.Len())
	for i, p := range primes {
		require.EqualValues(t, p, m.Get(int64(i)))
	}
	requireValid(t, m)
	requireValid(t, other)

	for i := int64(0); i < 5; i++ {
		m.Remove(i)
	}
	require.Equal(t, 1, m.Len())
	require.EqualValues(t, 13, m.Get(5))
	for i := int64(0); i < 5; i++ {
		require.Equal(t, m.EmptyValue(), m.Get(i))
	}
	requireValid(t, m)
}

func TestRemoveByPointer(t *testing.T) {
	m := New[int64, int64]()
	for i := int64(0); i < 100; i++ {
		m.Set(i, i+1)
	}
	require.Equal(t, 100, m.Len())
	for i := int64(0); i < 100; i++ {
		if ptr := m.GetPtr(i); ptr != nil && *ptr > 0 {
			m.RemovePtr(ptr)
		}
	}
	require.Equal(t, 0, m.Len())
	requireValid(t, m)
}

func TestSparsePowerKeys(t *testing.T) {
	m := New[int64, int64]()
	var keys []int64
	for k := int64(4); k <= 20; k++ {
		keys = append(keys, 1<<k+k)
	}
	for i, key := range keys {
		m.Set(key, int64(i)*3+1)
	}
	require.Equal(t, len(keys), m.Len())
	for i, key := range keys {
		require.EqualValues(t, int64(i)*3+1, m.Get(key))
	}
	// Sparse keys never justify an array tier, but the hash tier must have
	// grown past its minimum to hold them.
	require.Greater(t, m.hashSize, uint64(minHashSize))
	requireValid(t, m)
}

func TestHashToArrayMigration(t *testing.T) {
	m := New[int64, int64]()

	// Keys 8.. start beyond any array tier and land in the hash. Once
	// enough of them accumulate, adaptSizes grows the array over the dense
	// run and migrates them out of the hash.
	for i := int64(8); i < 40; i++ {
		m.Set(i, i*i)
	}
	require.GreaterOrEqual(t, m.arraySize, uint64(16))
	require.GreaterOrEqual(t, m.arrayCount, uint64(8))
	for i := int64(8); i < 40; i++ {
		require.EqualValues(t, i*i, m.Get(i))
	}
	require.Equal(t, 32, m.Len())
	requireValid(t, m)
}

func TestDenseWithStraggler(t *testing.T) {
	m := New[int64, int64]()
	for i := int64(0); i < 256; i++ {
		m.Set(i, i*2+1)
	}
	for i := int64(0); i < 16; i++ {
		m.Set(1_000_000+i, i+1)
	}
	require.GreaterOrEqual(t, m.arraySize, uint64(256))
	require.EqualValues(t, 256, m.arrayCount)
	require.EqualValues(t, 16, m.hashCount)
	for i := int64(0); i < 256; i++ {
		require.EqualValues(t, i*2+1, m.Get(i))
	}
	for i := int64(0); i < 16; i++ {
		require.EqualValues(t, i+1, m.Get(1_000_000+i))
	}
	requireValid(t, m)
}

func TestTombstoneCollection(t *testing.T) {
	m := New[int64, int64]()

	// Delete-then-reinsert loops with disjoint keys pile up tombstones;
	// the fill bound counts them, so growth must eventually flush them
	// even though the live count stays flat.
	next := int64(1 << 30)
	for round := 0; round < 50; round++ {
		var batch []int64
		for i := 0; i < 4; i++ {
			batch = append(batch, next)
			next += 9973
		}
		for _, k := range batch {
			m.Set(k, k)
		}
		for _, k := range batch {
			m.Remove(k)
		}
		requireValid(t, m)
	}
	require.Equal(t, 0, m.Len())

	// An explicit clean rehash leaves no tombstones behind.
	m.Reserve(0, 0, true)
	require.Equal(t, m.hashCount, m.hashFill)
	requireValid(t, m)
}

func TestReserve(t *testing.T) {
	m := New[int64, int64]()
	m.Reserve(20, 100, false)
	require.EqualValues(t, 32, m.arraySize)
	require.EqualValues(t, 128, m.hashSize)
	requireValid(t, m)

	// Bounds below current capacity never shrink it.
	m.Reserve(4, 4, false)
	require.EqualValues(t, 32, m.arraySize)
	require.EqualValues(t, 128, m.hashSize)

	m.Reserve(33, 0, false)
	require.EqualValues(t, 64, m.arraySize)
	require.EqualValues(t, 128, m.hashSize)

	// Minimum sizes apply once a tier exists at all.
	s := New[int64, int64]()
	s.Reserve(1, 1, false)
	require.EqualValues(t, minArraySize, s.arraySize)
	require.EqualValues(t, minHashSize, s.hashSize)
	requireValid(t, s)
}

func TestClearPreservesCapacity(t *testing.T) {
	m := New[int64, int64]()
	for i := int64(0); i < 100; i++ {
		m.Set(i, i+1)
		m.Set(i+1_000_000, i+1)
	}
	arraySize, hashSize := m.arraySize, m.hashSize
	m.Clear()
	require.Equal(t, 0, m.Len())
	require.Equal(t, arraySize, m.arraySize)
	require.Equal(t, hashSize, m.hashSize)
	m.ForEach(func(k int64, v *int64) bool {
		t.Fatal("should not iterate")
		return true
	})
	requireValid(t, m)

	// The cleared map is fully reusable.
	m.Set(3, 33)
	m.Set(2_000_000, 7)
	require.Equal(t, 2, m.Len())
	requireValid(t, m)
}

func TestForEach(t *testing.T) {
	m := New[int64, int64]()
	for i := int64(0); i < 8; i++ {
		m.Set(i, i*10)
	}
	m.Set(1_000_000, 1)

	// Array tier first, in ascending key order; hash tier after.
	var order []int64
	m.ForEach(func(k int64, v *int64) bool {
		order = append(order, k)
		return false
	})
	require.Len(t, order, 9)
	require.EqualValues(t, 1_000_000, order[8])
	for i := 0; i < 8; i++ {
		require.EqualValues(t, i, order[i])
	}

	// Returning true stops the iteration.
	var seen int
	m.ForEach(func(k int64, v *int64) bool {
		seen++
		return seen == 3
	})
	require.Equal(t, 3, seen)

	// Writes through the value pointer are visible.
	m.ForEach(func(k int64, v *int64) bool {
		*v++
		return false
	})
	require.EqualValues(t, 1, m.Get(0))
	require.EqualValues(t, 2, m.Get(1_000_000))
	requireValid(t, m)
}

func TestKeyOfRoundTrip(t *testing.T) {
	m := New[int64, int64]()
	keys := []int64{0, 1, 7, 1 << 20, -3, math.MaxInt64 - 2}
	for i, k := range keys {
		m.Set(k, int64(i)+1)
	}
	for _, k := range keys {
		p := m.GetPtr(k)
		require.NotNil(t, p)
		require.Equal(t, k, m.KeyOf(p))
	}
	requireValid(t, m)
}

func TestLaws(t *testing.T) {
	m := New[int64, int64]()

	// Idempotent insert.
	m.Set(10, 5)
	require.Equal(t, 1, m.Len())
	m.Set(10, 5)
	require.Equal(t, 1, m.Len())
	require.EqualValues(t, 5, m.Get(10))

	// Remove after Set restores the pre-Set state.
	size := m.Len()
	m.Set(77, 1)
	m.Remove(77)
	require.Equal(t, size, m.Len())
	require.Equal(t, m.EmptyValue(), m.Get(77))

	// SetIfNew keeps the first value.
	m.SetIfNew(20, 1)
	m.SetIfNew(20, 2)
	require.EqualValues(t, 1, m.Get(20))
	requireValid(t, m)
}

func TestBoundaryKeys(t *testing.T) {
	m := New[int64, int64]()
	m.Reserve(16, 0, false)

	// arraySize-1 is the last array-tier key; arraySize itself is the
	// first hash-tier key.
	boundary := int64(m.arraySize)
	for _, k := range []int64{0, -1, boundary - 1, boundary, math.MaxInt64 - 2} {
		m.Set(k, k^7)
	}
	require.True(t, m.inArray(boundary-1))
	require.False(t, m.inArray(boundary))
	require.False(t, m.inArray(-1))
	for _, k := range []int64{0, -1, boundary - 1, boundary, math.MaxInt64 - 2} {
		require.EqualValues(t, k^7, m.Get(k))
	}
	require.Equal(t, 5, m.Len())
	requireValid(t, m)
}

func TestUnsignedKeys(t *testing.T) {
	m := New[uint32, int32]()
	keys := []uint32{0, 1, 100, 1 << 20, math.MaxUint32 - 2}
	for i, k := range keys {
		m.Set(k, int32(i)+1)
	}
	for i, k := range keys {
		require.EqualValues(t, int32(i)+1, m.Get(k))
	}
	require.Panics(t, func() { m.Set(math.MaxUint32, 1) })
	require.Equal(t, len(keys), m.Len())
	requireValid(t, m)
}

func TestNamedTypes(t *testing.T) {
	type entityID int32
	type score float32

	m := New[entityID, score]()
	missing := m.Get(1)
	require.True(t, math.IsNaN(float64(missing)))
	m.Set(1, 0.5)
	m.Set(-1, 1.5)
	require.EqualValues(t, 0.5, m.Get(1))
	require.EqualValues(t, 1.5, m.Get(-1))
	require.Equal(t, 2, m.Len())
	requireValid(t, m)
}

func TestPointerValues(t *testing.T) {
	m := New[int64, *string]()
	vals := []string{"a", "b", "c"}
	for i := range vals {
		m.Set(int64(i), &vals[i])
	}
	require.Equal(t, 3, m.Len())
	p := m.GetPtr(1)
	require.NotNil(t, p)
	require.Equal(t, "b", **p)
	require.EqualValues(t, 1, m.KeyOf(p))
	m.RemovePtr(p)
	require.Equal(t, 2, m.Len())
	require.Nil(t, m.Get(1))
	requireValid(t, m)
}

func TestDegenerateHash(t *testing.T) {
	// Constant hash functions collapse every probe chain to one cluster;
	// behavior must stay correct, only slower.
	for _, h := range []uint64{0, ^uint64(0)} {
		h := h
		m := New[int64, int64](WithHash[int64, int64](func(key int64) uint64 { return h }))
		e := make(map[int64]int64)
		for i := int64(0); i < 200; i++ {
			k := i * 37
			m.Set(k, i)
			e[k] = i
		}
		require.Equal(t, e, m.toBuiltinMap())
		for i := int64(0); i < 200; i += 2 {
			m.Remove(i * 37)
			delete(e, i*37)
		}
		require.Equal(t, e, m.toBuiltinMap())
		requireValid(t, m)
	}
}

type countingAllocator[K Key, V any] struct {
	allocKeys   int
	allocValues int
	freeKeys    int
	freeValues  int
}

func (a *countingAllocator[K, V]) AllocKeys(n int) []K {
	a.allocKeys++
	return make([]K, n)
}

func (a *countingAllocator[K, V]) AllocValues(n int) []V {
	a.allocValues++
	return make([]V, n)
}

func (a *countingAllocator[K, V]) FreeKeys(v []K) {
	a.freeKeys++
}

func (a *countingAllocator[K, V]) FreeValues(v []V) {
	a.freeValues++
}

func TestAllocator(t *testing.T) {
	a := &countingAllocator[int64, int64]{}
	m := New(WithAllocator[int64, int64](a))
	for i := int64(0); i < 1000; i++ {
		m.Set(i, i)
	}
	for i := int64(0); i < 100; i++ {
		m.Set(1_000_000_000+i*7919, i)
	}
	require.Equal(t, 1100, m.Len())
	require.Positive(t, a.allocValues)

	m.Close()
	require.Equal(t, 0, m.Len())
	require.Equal(t, a.allocKeys, a.freeKeys)
	require.Equal(t, a.allocValues, a.freeValues)

	// Close is idempotent and the map stays usable.
	m.Close()
	m.Set(1, 1)
	require.Equal(t, 1, m.Len())
}

func TestValidateDetectsDamage(t *testing.T) {
	m := New[int64, int64]()
	m.Set(1, 1)
	m.Set(1_000_000, 2)
	requireValid(t, m)

	m.arrayCount++
	require.Error(t, m.Validate(1))
	m.arrayCount--

	m.hashCount++
	require.Error(t, m.Validate(1))
	m.hashCount--
	requireValid(t, m)
}

func TestRandom(t *testing.T) {
	test := func(t *testing.T, m *Map[int64, int64], seed int64) {
		rnd := rand.New(rand.NewSource(seed))
		e := make(map[int64]int64)
		randKey := func() int64 { return rnd.Int63n(256) - 64 }
		randValue := func() int64 { return rnd.Int63n(1<<40) + 1 }

		for i := 0; i < 10000; i++ {
			switch r := rnd.Float64(); {
			case r < 0.5:
				k, v := randKey(), randValue()
				m.Set(k, v)
				e[k] = v
			case r < 0.65:
				k, v := randKey(), randValue()
				if _, ok := e[k]; !ok {
					e[k] = v
				}
				m.SetIfNew(k, v)
			case r < 0.8:
				k := randKey()
				m.Remove(k)
				delete(e, k)
			case r < 0.95:
				k := randKey()
				want, ok := e[k]
				if !ok {
					want = m.EmptyValue()
				}
				require.Equal(t, want, m.Get(k))
			default:
				m.Reserve(uint64(rnd.Intn(512)), uint64(rnd.Intn(512)), rnd.Intn(2) == 0)
			}
			require.Equal(t, len(e), m.Len())
		}
		require.Equal(t, e, m.toBuiltinMap())
		requireValid(t, m)
	}

	t.Run("normal", func(t *testing.T) {
		test(t, New[int64, int64](), 1)
	})

	t.Run("degenerate", func(t *testing.T) {
		m := New[int64, int64](WithHash[int64, int64](func(key int64) uint64 { return 0 }))
		test(t, m, 2)
	})
}
