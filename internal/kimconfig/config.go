// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

// Package kimconfig defines the data-directory and cluster config
// schema a config.toml loader populates (spec.md §6 "Environment /
// persisted state layout"). Parsing config.toml into these structs is a
// one-line naoina/toml call left to cmd/kimberlited; this package only
// owns the schema, the way go-ethereum's own eth/ethconfig owns the
// shape of its TOML config without being the CLI that loads it.
package kimconfig

import "time"

// DataDirLayout names the fixed subdirectories of a replica's data
// directory (spec.md §6: "a data directory with config.toml, log/
// (segments + indexes + manifest), audit/, projections.db, and
// per-replica VSR state").
type DataDirLayout struct {
	Root         string `toml:"root"`
	LogDir       string `toml:"log_dir"`
	AuditDir     string `toml:"audit_dir"`
	ProjectionDB string `toml:"projection_db"`
	SuperblockDB string `toml:"superblock_db"`
}

// DefaultDataDirLayout returns the conventional subdirectory names
// rooted at root.
func DefaultDataDirLayout(root string) DataDirLayout {
	return DataDirLayout{
		Root:         root,
		LogDir:       root + "/log",
		AuditDir:     root + "/audit",
		ProjectionDB: root + "/projections.db",
		SuperblockDB: root + "/superblock",
	}
}

// SegmentConfig governs the append-only segment storage layer
// (internal/segment): roll size, index and manifest behavior.
type SegmentConfig struct {
	MaxSegmentBytes   int64 `toml:"max_segment_bytes"`
	FsyncOnEveryWrite bool  `toml:"fsync_on_every_write"`
}

// DefaultSegmentConfig mirrors internal/segment's own defaults.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{MaxSegmentBytes: 256 << 20, FsyncOnEveryWrite: false}
}

// ReplicaConfig governs one VSR replica's timers and repair behavior
// (internal/vsr).
type ReplicaConfig struct {
	Self                 uint64        `toml:"self"`
	HeartbeatInterval    time.Duration `toml:"heartbeat_interval"`
	PrepareTimeout       time.Duration `toml:"prepare_timeout"`
	ViewChangeTimeout    time.Duration `toml:"view_change_timeout"`
	RecoveryTimeout      time.Duration `toml:"recovery_timeout"`
	MaxInflightRepairs   int           `toml:"max_inflight_repairs"`
	RepairRequestTimeout time.Duration `toml:"repair_request_timeout"`
}

// DefaultReplicaConfig mirrors internal/vsr's package-level defaults.
func DefaultReplicaConfig(self uint64) ReplicaConfig {
	return ReplicaConfig{
		Self:                 self,
		HeartbeatInterval:    50 * time.Millisecond,
		PrepareTimeout:       150 * time.Millisecond,
		ViewChangeTimeout:    300 * time.Millisecond,
		RecoveryTimeout:      500 * time.Millisecond,
		MaxInflightRepairs:   2,
		RepairRequestTimeout: 500 * time.Millisecond,
	}
}

// ClusterMember is one configured peer's address, dialed by the
// production Network implementation.
type ClusterMember struct {
	Id      uint64 `toml:"id"`
	Address string `toml:"address"`
	Standby bool   `toml:"standby"`
}

// ClusterConfig is the static cluster membership a data directory's
// config.toml declares (distinct from internal/vsr.ClusterConfig, the
// in-memory, reconfigurable runtime view derived from it).
type ClusterConfig struct {
	Members []ClusterMember `toml:"members"`
}

// Config is the root config.toml schema.
type Config struct {
	DataDir DataDirLayout `toml:"data_dir"`
	Segment SegmentConfig `toml:"segment"`
	Replica ReplicaConfig `toml:"replica"`
	Cluster ClusterConfig `toml:"cluster"`
}
