// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Command vopr is the deterministic simulation harness's CLI driver
// (spec.md §4.6; SPEC_FULL.md "VOPR CLI"): run a seeded scenario to
// completion or failure, re-run a seed and confirm it still fails, bisect
// a failing seed's event log, or report pass/fail counts over a range of
// seeds.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kimberlitedb/kimberlite/internal/kimlog"
	"github.com/kimberlitedb/kimberlite/internal/sim"
	"github.com/kimberlitedb/kimberlite/internal/vsr"
)

func main() {
	app := &cli.App{
		Name:  "vopr",
		Usage: "Kimberlite deterministic simulation driver",
		Commands: []*cli.Command{
			runCommand(),
			reproCommand(),
			bisectCommand(),
			statsCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a seeded scenario until it completes or violates an invariant",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "seed", Value: 1},
			&cli.IntFlag{Name: "replicas", Value: 3},
			&cli.IntFlag{Name: "steps", Value: 100000},
		},
		Action: func(c *cli.Context) error {
			n := c.Int("replicas")
			ids := make([]vsr.ReplicaId, n)
			for i := range ids {
				ids[i] = vsr.ReplicaId(i + 1)
			}
			cluster := sim.NewCluster(c.Uint64("seed"), ids, sim.LinkFault{DropProbability: 0.01})
			cluster.Run(c.Int("steps"))
			if cluster.Violation != nil {
				bundle := cluster.Bundle(c.Uint64("seed"), "run")
				kimlog.Root().Error("invariant violated", "bundle", bundle.String())
				return fmt.Errorf("vopr: %s", bundle.Violation)
			}
			kimlog.Root().Info("scenario completed with no violations", "seed", c.Uint64("seed"), "steps", c.Int("steps"))
			return nil
		},
	}
}

func reproCommand() *cli.Command {
	return &cli.Command{
		Name:  "repro",
		Usage: "Re-run a saved ReproBundle's seed/scenario and confirm the violation still reproduces",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "seed", Required: true},
			&cli.IntFlag{Name: "replicas", Value: 3},
			&cli.IntFlag{Name: "steps", Value: 100000},
		},
		Action: func(c *cli.Context) error {
			n := c.Int("replicas")
			ids := make([]vsr.ReplicaId, n)
			for i := range ids {
				ids[i] = vsr.ReplicaId(i + 1)
			}
			cluster := sim.NewCluster(c.Uint64("seed"), ids, sim.LinkFault{DropProbability: 0.01})
			cluster.Run(c.Int("steps"))
			if cluster.Violation == nil {
				return fmt.Errorf("vopr: seed %d no longer reproduces a violation", c.Uint64("seed"))
			}
			fmt.Println(cluster.Bundle(c.Uint64("seed"), "repro").String())
			return nil
		},
	}
}

func bisectCommand() *cli.Command {
	return &cli.Command{
		Name:  "bisect",
		Usage: "Binary-search a failing seed's event log for the first step at which the failure is determined",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "seed", Required: true},
			&cli.IntFlag{Name: "replicas", Value: 3},
			&cli.IntFlag{Name: "steps", Value: 100000},
		},
		Action: func(c *cli.Context) error {
			n := c.Int("replicas")
			ids := make([]vsr.ReplicaId, n)
			for i := range ids {
				ids[i] = vsr.ReplicaId(i + 1)
			}
			seed := c.Uint64("seed")
			build := func() *sim.Cluster {
				cluster := sim.NewCluster(seed, ids, sim.LinkFault{DropProbability: 0.01})
				cluster.Run(c.Int("steps"))
				return cluster
			}
			full := build()
			if full.Violation == nil {
				return fmt.Errorf("vopr: seed %d does not fail", seed)
			}
			failStep := sim.Bisect(full.EventLog, func(prefixLen int) bool {
				trial := build()
				return len(trial.EventLog) >= prefixLen && trial.Violation != nil
			})
			fmt.Printf("seed=%d first failing step=%d of %d\n", seed, failStep, len(full.EventLog))
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Run a batch of seeds and report the pass/fail breakdown",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "start-seed", Value: 1},
			&cli.IntFlag{Name: "count", Value: 100},
			&cli.IntFlag{Name: "replicas", Value: 3},
			&cli.IntFlag{Name: "steps", Value: 20000},
		},
		Action: func(c *cli.Context) error {
			n := c.Int("replicas")
			ids := make([]vsr.ReplicaId, n)
			for i := range ids {
				ids[i] = vsr.ReplicaId(i + 1)
			}
			var passed, failed int
			start := c.Uint64("start-seed")
			for i := 0; i < c.Int("count"); i++ {
				seed := start + uint64(i)
				cluster := sim.NewCluster(seed, ids, sim.LinkFault{DropProbability: 0.01})
				cluster.Run(c.Int("steps"))
				if cluster.Violation != nil {
					failed++
					fmt.Printf("seed=%d FAIL: %v\n", seed, cluster.Violation)
				} else {
					passed++
				}
			}
			fmt.Printf("passed=%d failed=%d\n", passed, failed)
			return nil
		},
	}
}
