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

package main

import (
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hybridmap/hybridmap"
)

var cmdBench = &cobra.Command{
	Use:   "bench",
	Short: "Run quick wall-clock micro-benchmarks against Go's builtin map",
	Long: `
The "bench" command fills a hybrid map and a builtin map with the same keys
and reports per-operation wall-clock timings for Set and Get across three
key profiles: dense small keys (array tier), sparse huge keys (hash tier),
and a 90/10 mix of the two. For counter-level measurements use the
perfbench-instrumented "go test -bench" suite instead.
`,
	Run: func(cmd *cobra.Command, args []string) {
		runBench(benchOptions)
	},
}

// BenchOptions bundles all options for the bench command.
type BenchOptions struct {
	Count  int
	Rounds int
}

var benchOptions BenchOptions

func init() {
	cmdRoot.AddCommand(cmdBench)

	f := cmdBench.Flags()
	f.IntVar(&benchOptions.Count, "count", 1<<16, "keys per profile")
	f.IntVar(&benchOptions.Rounds, "rounds", 8, "measured Get passes over the key set")
}

type keyProfile struct {
	name string
	gen  func(rnd *rand.Rand, n int) []int64
}

func benchProfiles() []keyProfile {
	return []keyProfile{
		{"small", func(rnd *rand.Rand, n int) []int64 {
			keys := make([]int64, n)
			for i := range keys {
				keys[i] = int64(i)
			}
			return keys
		}},
		{"huge", func(rnd *rand.Rand, n int) []int64 {
			keys := make([]int64, n)
			for i := range keys {
				keys[i] = rnd.Int63() | (1 << 40)
			}
			return keys
		}},
		{"mixed", func(rnd *rand.Rand, n int) []int64 {
			keys := make([]int64, n)
			for i := range keys {
				if rnd.Intn(10) == 0 {
					keys[i] = rnd.Int63() | (1 << 40)
				} else {
					keys[i] = int64(i)
				}
			}
			return keys
		}},
	}
}

func runBench(opts BenchOptions) {
	rnd := rand.New(rand.NewSource(1))
	for _, profile := range benchProfiles() {
		keys := profile.gen(rnd, opts.Count)

		m := hybridmap.New[int64, int64]()
		setStart := time.Now()
		for _, k := range keys {
			m.Set(k, k+1)
		}
		setDur := time.Since(setStart)

		var sink int64
		getStart := time.Now()
		for round := 0; round < opts.Rounds; round++ {
			for _, k := range keys {
				sink += m.Get(k)
			}
		}
		getDur := time.Since(getStart)

		rm := make(map[int64]int64)
		rtSetStart := time.Now()
		for _, k := range keys {
			rm[k] = k + 1
		}
		rtSetDur := time.Since(rtSetStart)

		rtGetStart := time.Now()
		for round := 0; round < opts.Rounds; round++ {
			for _, k := range keys {
				sink += rm[k]
			}
		}
		rtGetDur := time.Since(rtGetStart)

		gets := opts.Rounds * len(keys)
		log.WithFields(log.Fields{
			"profile":       profile.name,
			"keys":          len(keys),
			"set_ns_op":     setDur.Nanoseconds() / int64(len(keys)),
			"get_ns_op":     getDur.Nanoseconds() / int64(gets),
			"map_set_ns_op": rtSetDur.Nanoseconds() / int64(len(keys)),
			"map_get_ns_op": rtGetDur.Nanoseconds() / int64(gets),
			"checksum":      sink,
		}).Info("bench")
	}
}
