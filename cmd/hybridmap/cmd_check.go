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
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hybridmap/hybridmap/internal/difftest"
	"github.com/pkg/errors"
)

var cmdCheck = &cobra.Command{
	Use:   "check",
	Short: "Run the randomized differential tester",
	Long: `
The "check" command replays random operation sequences against the hybrid
map and a builtin-map oracle in lockstep, across every standard scenario,
and fails on the first observable divergence or invariant violation.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(checkOptions)
	},
}

// CheckOptions bundles all options for the check command.
type CheckOptions struct {
	Seeds    int
	Ops      int
	Level    int
	Parallel int
}

var checkOptions CheckOptions

func init() {
	cmdRoot.AddCommand(cmdCheck)

	f := cmdCheck.Flags()
	f.IntVar(&checkOptions.Seeds, "seeds", 16, "number of random seeds to run")
	f.IntVar(&checkOptions.Ops, "ops", 0, "override operations per scenario (0 keeps scenario defaults)")
	f.IntVar(&checkOptions.Level, "level", -1, "override invariant validation depth 0..2 (-1 keeps scenario defaults)")
	f.IntVar(&checkOptions.Parallel, "parallel", 1, "seeds checked concurrently, each on its own map")
}

func runCheck(opts CheckOptions) error {
	scenarios := difftest.Scenarios()
	log.WithFields(log.Fields{
		"seeds":     opts.Seeds,
		"scenarios": len(scenarios),
	}).Info("starting differential check")

	var g errgroup.Group
	g.SetLimit(max(opts.Parallel, 1))

	for seed := 0; seed < opts.Seeds; seed++ {
		seed := seed
		g.Go(func() error {
			for _, cfg := range scenarios {
				if opts.Ops > 0 {
					cfg.Ops = opts.Ops
				}
				if opts.Level >= 0 {
					cfg.ValidateLevel = opts.Level
				}
				if err := difftest.Run(int64(seed), cfg); err != nil {
					return errors.Wrapf(err, "seed %d scenario %q", seed, cfg.Name)
				}
			}
			log.WithField("seed", seed).Debug("seed passed")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("differential check failed")
		return err
	}
	log.Info("differential check passed")
	return nil
}
