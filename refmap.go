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

import "fmt"

// RefMap mirrors Map's method surface on top of Go's builtin map. It exists
// as the oracle for differential testing: driving a Map and a RefMap with
// the same operation sequence must produce the same return values and the
// same (key, value) set, for every method except KeyOf (defined only on
// pointers produced by the same container) and pointer invalidation timing
// (RefMap pointers stay valid until their entry is removed).
//
// Entries are boxed so that GetPtr and friends hand out stable pointers.
type RefMap[K Key, V any] struct {
	emptyKey   K
	removedKey K
	emptyVal   V
	isEmpty    func(V) bool

	dict map[K]*V
	keys map[*V]K
}

// NewRef constructs an empty RefMap using the same trait options as New.
// Hash and allocator options are accepted and ignored.
func NewRef[K Key, V any](opts ...option[K, V]) *RefMap[K, V] {
	cfg := New[K, V](opts...)
	return &RefMap[K, V]{
		emptyKey:   cfg.emptyKey,
		removedKey: cfg.removedKey,
		emptyVal:   cfg.emptyVal,
		isEmpty:    cfg.isEmpty,
		dict:       make(map[K]*V),
		keys:       make(map[*V]K),
	}
}

// EmptyValue returns the reserved value marking absent entries.
func (r *RefMap[K, V]) EmptyValue() V {
	return r.emptyVal
}

// IsEmptyValue reports whether v is the reserved empty value.
func (r *RefMap[K, V]) IsEmptyValue(v V) bool {
	return r.isEmpty(v)
}

// Len returns the number of entries.
func (r *RefMap[K, V]) Len() int {
	return len(r.dict)
}

// Get returns the value stored for key, or the empty value if absent.
func (r *RefMap[K, V]) Get(key K) V {
	r.assertUserKey(key)
	if p, ok := r.dict[key]; ok {
		return *p
	}
	return r.emptyVal
}

// GetPtr returns a pointer to key's boxed value, or nil if absent.
func (r *RefMap[K, V]) GetPtr(key K) *V {
	r.assertUserKey(key)
	return r.dict[key]
}

// Set stores value for key and returns a pointer to the stored value.
func (r *RefMap[K, V]) Set(key K, value V) *V {
	r.assertUserKey(key)
	r.assertUserValue(value)
	if p, ok := r.dict[key]; ok {
		*p = value
		return p
	}
	p := new(V)
	*p = value
	r.dict[key] = p
	r.keys[p] = key
	return p
}

// SetIfNew inserts value only if key is absent, returning nil; if the key
// is present the stored value is untouched and a pointer to it is returned.
func (r *RefMap[K, V]) SetIfNew(key K, value V) *V {
	r.assertUserKey(key)
	r.assertUserValue(value)
	if p, ok := r.dict[key]; ok {
		return p
	}
	p := new(V)
	*p = value
	r.dict[key] = p
	r.keys[p] = key
	return nil
}

// Remove deletes the entry for key, if present.
func (r *RefMap[K, V]) Remove(key K) {
	r.assertUserKey(key)
	if p, ok := r.dict[key]; ok {
		delete(r.keys, p)
		delete(r.dict, key)
	}
}

// RemovePtr deletes the entry whose box ptr points to.
func (r *RefMap[K, V]) RemovePtr(ptr *V) {
	key, ok := r.keys[ptr]
	if !ok {
		panic("hybridmap: RemovePtr on a pointer not produced by this RefMap")
	}
	delete(r.keys, ptr)
	delete(r.dict, key)
}

// KeyOf returns the key whose box ptr points to.
func (r *RefMap[K, V]) KeyOf(ptr *V) K {
	key, ok := r.keys[ptr]
	if !ok {
		panic("hybridmap: KeyOf on a pointer not produced by this RefMap")
	}
	return key
}

// ForEach calls action for every entry in unspecified order. Returning true
// from action stops the iteration.
func (r *RefMap[K, V]) ForEach(action func(key K, value *V) bool) {
	for key, p := range r.dict {
		if action(key, p) {
			return
		}
	}
}

// Clear removes all entries.
func (r *RefMap[K, V]) Clear() {
	clear(r.dict)
	clear(r.keys)
}

// Swap exchanges the contents of r and other.
func (r *RefMap[K, V]) Swap(other *RefMap[K, V]) {
	*r, *other = *other, *r
}

// Reserve is accepted for surface compatibility and does nothing.
func (r *RefMap[K, V]) Reserve(arraySizeLB, hashSizeLB uint64, cleanHash bool) {
}

// Validate is accepted for surface compatibility and always succeeds.
func (r *RefMap[K, V]) Validate(level int) error {
	return nil
}

func (r *RefMap[K, V]) assertUserKey(key K) {
	if key == r.emptyKey || key == r.removedKey {
		panic(fmt.Sprintf("hybridmap: key %v collides with a reserved sentinel", key))
	}
}

func (r *RefMap[K, V]) assertUserValue(value V) {
	if r.isEmpty(value) {
		panic("hybridmap: cannot store the reserved empty value")
	}
}
