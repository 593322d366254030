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

// Package difftest drives a hybridmap.Map and a hybridmap.RefMap with the
// same random operation sequence and reports the first observable
// divergence. It is the randomized oracle test behind both `go test` and
// the `hybridmap check` command.
package difftest

import (
	"math"
	"math/rand"

	"github.com/hybridmap/hybridmap"
	"github.com/pkg/errors"
)

// Weights holds the relative frequency of each operation in a run. A zero
// weight disables the operation.
type Weights struct {
	Len       float64
	Get       float64
	GetPtr    float64
	Set       float64
	SetIfNew  float64
	Remove    float64
	RemovePtr float64
	Reserve   float64
	Swap      float64
	Clear     float64
	Checksum  float64
}

// Config describes one randomized run.
type Config struct {
	Name           string
	Ops            int
	MinKey, MaxKey int64
	Weights        Weights
	// ValidateLevel is passed to Map.Validate at checkpoints.
	ValidateLevel int
}

const checkpointEvery = 64

// maxUserKey is the largest usable int64 key: the maximal value and its
// predecessor are the default sentinels.
const maxUserKey = math.MaxInt64 - 2

// Scenarios returns the standard battery of runs: dense small-key ranges
// that live mostly in the array tier, mixed-sign ranges that split across
// both tiers, and sparse huge ranges that never leave the hash tier.
func Scenarios() []Config {
	uniform := Weights{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	pointOps := Weights{Len: 1, Get: 1, GetPtr: 1, Set: 1, SetIfNew: 1, Remove: 1, RemovePtr: 1,
		Reserve: 0.01, Swap: 0.01, Clear: 0.01, Checksum: 0.01}
	noStructural := Weights{Len: 1, Get: 1, GetPtr: 1, Set: 1, SetIfNew: 1, Remove: 1, RemovePtr: 1, Reserve: 0.01}
	readHeavy := Weights{Len: 1, Get: 50, GetPtr: 50, Set: 1, SetIfNew: 1, Remove: 1, RemovePtr: 1, Swap: 1}
	insertHeavy := Weights{Get: 1, GetPtr: 1, Set: 1, SetIfNew: 1, Remove: 0.1, RemovePtr: 0.01}

	return []Config{
		{Name: "uniform/mixed-sign", Ops: 1000, MinKey: -100, MaxKey: 100, Weights: uniform, ValidateLevel: 2},
		{Name: "point-ops/tiny-range", Ops: 1000, MinKey: -10, MaxKey: 10, Weights: pointOps, ValidateLevel: 2},
		{Name: "point-ops/mixed-sign", Ops: 2000, MinKey: -100, MaxKey: 100, Weights: noStructural, ValidateLevel: 2},
		{Name: "point-ops/non-negative", Ops: 1000, MinKey: 0, MaxKey: 100, Weights: noStructural, ValidateLevel: 2},
		{Name: "read-heavy/tiny-range", Ops: 1000, MinKey: -10, MaxKey: 10, Weights: readHeavy, ValidateLevel: 2},
		{Name: "insert-heavy/dense", Ops: 1000, MinKey: 0, MaxKey: 500, Weights: insertHeavy, ValidateLevel: 2},
		{Name: "insert-heavy/offset", Ops: 1000, MinKey: 100, MaxKey: 300, Weights: insertHeavy, ValidateLevel: 2},
		{Name: "uniform/huge-range", Ops: 1000, MinKey: -2000000000, MaxKey: 2000000000, Weights: noStructural, ValidateLevel: 2},
		{Name: "uniform/extreme-range", Ops: 1000, MinKey: math.MinInt64, MaxKey: maxUserKey, Weights: noStructural, ValidateLevel: 1},
	}
}

type opKind int

const (
	opLen opKind = iota
	opGet
	opGetPtr
	opSet
	opSetIfNew
	opRemove
	opRemovePtr
	opReserve
	opSwap
	opClear
	opChecksum
	numOps
)

var opNames = [numOps]string{
	"Len", "Get", "GetPtr", "Set", "SetIfNew", "Remove", "RemovePtr",
	"Reserve", "Swap", "Clear", "Checksum",
}

func (w Weights) prefixSums() [numOps + 1]float64 {
	raw := [numOps]float64{
		w.Len, w.Get, w.GetPtr, w.Set, w.SetIfNew, w.Remove, w.RemovePtr,
		w.Reserve, w.Swap, w.Clear, w.Checksum,
	}
	var sums [numOps + 1]float64
	for i, v := range raw {
		sums[i+1] = sums[i] + v
	}
	return sums
}

// Run applies cfg.Ops random operations to a Map and a RefMap in lockstep,
// returning an error naming the first diverging operation.
func Run(seed int64, cfg Config) error {
	rnd := rand.New(rand.NewSource(seed))
	m := hybridmap.New[int64, int64]()
	r := hybridmap.NewRef[int64, int64]()

	sums := cfg.Weights.prefixSums()
	total := sums[numOps]
	if total == 0 {
		return errors.New("all operation weights are zero")
	}

	randKey := func() int64 {
		span := uint64(cfg.MaxKey) - uint64(cfg.MinKey) + 1
		for {
			var k int64
			if span == 0 {
				k = int64(rnd.Uint64())
			} else {
				k = cfg.MinKey + int64(rnd.Uint64()%span)
			}
			if k <= maxUserKey {
				return k
			}
		}
	}
	randValue := func() int64 {
		return rnd.Int63n(1<<40) + 1
	}
	pick := func() opKind {
		p := rnd.Float64() * total
		for op := opKind(0); op < numOps; op++ {
			if p < sums[op+1] {
				return op
			}
		}
		return numOps - 1
	}
	someKey := func() (int64, bool) {
		var keys []int64
		r.ForEach(func(k int64, _ *int64) bool {
			keys = append(keys, k)
			return false
		})
		if len(keys) == 0 {
			return 0, false
		}
		return keys[rnd.Intn(len(keys))], true
	}

	for op := 0; op < cfg.Ops; op++ {
		kind := pick()
		fail := func(format string, args ...interface{}) error {
			return errors.Errorf("op %d (%s): "+format, append([]interface{}{op, opNames[kind]}, args...)...)
		}

		switch kind {
		case opLen:
			if m.Len() != r.Len() {
				return fail("len %d != reference %d", m.Len(), r.Len())
			}

		case opGet:
			key := randKey()
			if got, want := m.Get(key), r.Get(key); got != want {
				return fail("key %d: got %d, reference %d", key, got, want)
			}

		case opGetPtr:
			key := randKey()
			pm, pr := m.GetPtr(key), r.GetPtr(key)
			if (pm == nil) != (pr == nil) {
				return fail("key %d: present %v, reference %v", key, pm != nil, pr != nil)
			}
			if pm != nil {
				if *pm != *pr {
					return fail("key %d: got %d, reference %d", key, *pm, *pr)
				}
				if m.KeyOf(pm) != key {
					return fail("KeyOf(GetPtr(%d)) = %d", key, m.KeyOf(pm))
				}
				if r.KeyOf(pr) != key {
					return fail("reference KeyOf(GetPtr(%d)) = %d", key, r.KeyOf(pr))
				}
			}

		case opSet:
			key, value := randKey(), randValue()
			pm, pr := m.Set(key, value), r.Set(key, value)
			if *pm != *pr {
				return fail("key %d: stored %d, reference %d", key, *pm, *pr)
			}

		case opSetIfNew:
			key, value := randKey(), randValue()
			pm, pr := m.SetIfNew(key, value), r.SetIfNew(key, value)
			if (pm == nil) != (pr == nil) {
				return fail("key %d: inserted %v, reference %v", key, pm == nil, pr == nil)
			}
			if pm != nil && *pm != *pr {
				return fail("key %d: existing %d, reference %d", key, *pm, *pr)
			}

		case opRemove:
			key := randKey()
			m.Remove(key)
			r.Remove(key)

		case opRemovePtr:
			key, ok := someKey()
			if !ok {
				continue
			}
			pm, pr := m.GetPtr(key), r.GetPtr(key)
			if pm == nil || pr == nil {
				return fail("key %d vanished before RemovePtr", key)
			}
			m.RemovePtr(pm)
			r.RemovePtr(pr)

		case opReserve:
			arrayLB := uint64(rnd.Intn(cfg.Ops + 1))
			hashLB := uint64(rnd.Intn(cfg.Ops + 1))
			m.Reserve(arrayLB, hashLB, rnd.Intn(2) == 0)

		case opSwap:
			tmpM := hybridmap.New[int64, int64]()
			tmpR := hybridmap.NewRef[int64, int64]()
			for _, k := range []int64{0, 1, 2, 42, 27} {
				v := randValue()
				tmpM.Set(k, v)
				tmpR.Set(k, v)
			}
			m.Swap(tmpM)
			r.Swap(tmpR)

		case opClear:
			m.Clear()
			r.Clear()

		case opChecksum:
			if got, want := checksum(m.ForEach), checksum(r.ForEach); got != want {
				return fail("checksum %d, reference %d", got, want)
			}
		}

		if m.Len() != r.Len() {
			return fail("len %d != reference %d after operation", m.Len(), r.Len())
		}
		if (op+1)%checkpointEvery == 0 || op == cfg.Ops-1 {
			if err := m.Validate(cfg.ValidateLevel); err != nil {
				return errors.Wrapf(err, "op %d (%s): invariant violation", op, opNames[kind])
			}
			if err := compareContents(m, r); err != nil {
				return errors.Wrapf(err, "op %d (%s)", op, opNames[kind])
			}
		}
	}
	return nil
}

// checksum folds all entries into an order-independent hash.
func checksum(forEach func(func(int64, *int64) bool)) uint64 {
	var sum uint64
	forEach(func(k int64, v *int64) bool {
		h := uint64(k)*11400714819323198485 ^ uint64(*v)
		sum += h
		return false
	})
	return sum
}

func compareContents(m *hybridmap.Map[int64, int64], r *hybridmap.RefMap[int64, int64]) error {
	got := make(map[int64]int64, m.Len())
	m.ForEach(func(k int64, v *int64) bool {
		got[k] = *v
		return false
	})
	if len(got) != m.Len() {
		return errors.Errorf("iterated %d entries but Len is %d", len(got), m.Len())
	}
	var err error
	r.ForEach(func(k int64, v *int64) bool {
		if gv, ok := got[k]; !ok {
			err = errors.Errorf("key %d missing from map", k)
			return true
		} else if gv != *v {
			err = errors.Errorf("key %d: map holds %d, reference %d", k, gv, *v)
			return true
		}
		delete(got, k)
		return false
	})
	if err != nil {
		return err
	}
	for k, v := range got {
		return errors.Errorf("map holds stray entry (%d, %d)", k, v)
	}
	return nil
}
