// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Command kimberlited is the minimal production server stub: it loads
// config.toml from the data directory, sets up logging, logs the
// configured replica, and waits for SIGINT/SIGTERM. It does not
// construct internal/runtime or internal/vsr, and serves no requests.
// SQL execution, wire framing, and cluster bootstrap/migration tooling
// are explicitly out of scope (spec.md Non-goals) — this binary proves
// out the ambient stack (config, logging, process lifecycle) the rest
// of the system runs inside.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	_ "go.uber.org/automaxprocs" // sets GOMAXPROCS from the container cgroup, matching go-ethereum's cmd/geth

	"github.com/kimberlitedb/kimberlite/internal/kimconfig"
	"github.com/kimberlitedb/kimberlite/internal/kimlog"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Data directory containing config.toml, log/, audit/, and superblock state",
		Required: true,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write structured logs to this file (with rotation) instead of stderr",
	}
)

func main() {
	app := &cli.App{
		Name:  "kimberlited",
		Usage: "Kimberlite replica server",
		Flags: []cli.Flag{dataDirFlag, logFileFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	setupLogging(c)

	cfg, err := loadConfig(c.String("datadir"))
	if err != nil {
		return fmt.Errorf("kimberlited: loading config: %w", err)
	}
	kimlog.Root().Info("starting replica", "self", cfg.Replica.Self, "datadir", cfg.DataDir.Root, "members", len(cfg.Cluster.Members))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	kimlog.Root().Info("shutting down")
	return nil
}

func setupLogging(c *cli.Context) {
	if path := c.String("log.file"); path != "" {
		w := &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 5, MaxAge: 28, Compress: true}
		kimlog.SetRoot(kimlog.New(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))))
	}
}

func loadConfig(dataDir string) (kimconfig.Config, error) {
	f, err := os.Open(dataDir + "/config.toml")
	if err != nil {
		return kimconfig.Config{}, err
	}
	defer f.Close()

	var cfg kimconfig.Config
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return kimconfig.Config{}, fmt.Errorf("parsing config.toml: %w", err)
	}
	if cfg.DataDir.Root == "" {
		cfg.DataDir = kimconfig.DefaultDataDirLayout(dataDir)
	}
	return cfg, nil
}
