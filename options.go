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

// option provide an interface to do work on Map while it is being created.
type option[K Key, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K Key, V any] struct {
	hash func(key K) uint64
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// Only the low log2(hashSize) bits of the result select the probe start, so
// the function must spread entropy into the low bits.
func WithHash[K Key, V any](hash func(key K) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

type sentinelOption[K Key, V any] struct {
	emptyKey, removedKey K
}

func (op sentinelOption[K, V]) apply(m *Map[K, V]) {
	if op.emptyKey == op.removedKey {
		panic("hybridmap: sentinel keys must be distinct")
	}
	m.emptyKey = op.emptyKey
	m.removedKey = op.removedKey
}

// WithSentinelKeys overrides the two reserved key values marking vacant and
// tombstoned hash cells. User keys must never equal either sentinel. The
// defaults are the maximal representable value of K and its predecessor.
func WithSentinelKeys[K Key, V any](emptyKey, removedKey K) option[K, V] {
	return sentinelOption[K, V]{emptyKey, removedKey}
}

type emptyValueOption[K Key, V any] struct {
	empty   V
	isEmpty func(V) bool
}

func (op emptyValueOption[K, V]) apply(m *Map[K, V]) {
	m.emptyVal = op.empty
	m.isEmpty = op.isEmpty
}

// WithEmptyValue overrides the value marking absent array-tier slots and the
// predicate detecting it. isEmpty(empty) must hold, and no stored value may
// satisfy isEmpty. See defaultValueTraits for the per-kind defaults.
func WithEmptyValue[K Key, V any](empty V, isEmpty func(V) bool) option[K, V] {
	return emptyValueOption[K, V]{empty, isEmpty}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Map. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// If the allocator is manually managing memory then Map.Close must be called
// in order to ensure FreeKeys and FreeValues are called.
type Allocator[K Key, V any] interface {
	// AllocKeys should return a slice equivalent to make([]K, n).
	AllocKeys(n int) []K

	// AllocValues should return a slice equivalent to make([]V, n).
	AllocValues(n int) []V

	// FreeKeys can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by AllocKeys.
	FreeKeys(v []K)

	// FreeValues can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocValues.
	FreeValues(v []V)
}

type defaultAllocator[K Key, V any] struct{}

func (defaultAllocator[K, V]) AllocKeys(n int) []K {
	return make([]K, n)
}

func (defaultAllocator[K, V]) AllocValues(n int) []V {
	return make([]V, n)
}

func (defaultAllocator[K, V]) FreeKeys(v []K) {
}

func (defaultAllocator[K, V]) FreeValues(v []V) {
}

type allocatorOption[K Key, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K Key, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
