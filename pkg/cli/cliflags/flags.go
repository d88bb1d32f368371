// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cliflags defines the command line flags of spilljoin.
package cliflags

import (
	"fmt"
	"strings"
)

// FlagInfo contains the static information for a CLI flag.
type FlagInfo struct {
	// Name of the flag as used on the command line.
	Name string
	// Shorthand is the short form of the flag (optional).
	Shorthand string
	// EnvVar is the name of the environment variable through which the flag
	// value can be controlled (optional).
	EnvVar string
	// Description of the flag.
	Description string
}

// Usage returns the usage string of the flag, mentioning its environment
// variable if it has one.
func (f FlagInfo) Usage() string {
	s := strings.TrimSpace(f.Description)
	if f.EnvVar != "" {
		s += fmt.Sprintf(" Environment variable: %s", f.EnvVar)
	}
	return s
}

// Joiner configuration flags. They override the values of the configuration
// file.
var (
	Config = FlagInfo{
		Name:        "config",
		EnvVar:      "SPILLJOIN_CONFIG",
		Description: `YAML file with the joiner configuration.`,
	}

	MemoryLimit = FlagInfo{
		Name:        "memory-limit",
		EnvVar:      "SPILLJOIN_MEMORY_LIMIT",
		Description: `Memory limit of every join, e.g. 64MiB. 0 means unbounded.`,
	}

	MinReserve = FlagInfo{
		Name:        "min-reserve",
		Description: `Hash table size above which partitions are spilled.`,
	}

	DisableSpill = FlagInfo{
		Name:        "disable-spill",
		Description: `Fail with an out of memory error instead of spilling to disk.`,
	}

	SpillDir = FlagInfo{
		Name:        "spill-dir",
		EnvVar:      "SPILLJOIN_SPILL_DIR",
		Description: `Directory of the spill files.`,
	}

	SpillCompression = FlagInfo{
		Name:        "spill-compression",
		Description: `Codec of the spill files: none, snappy, lz4 or zstd.`,
	}

	Partitions = FlagInfo{
		Name:        "partitions",
		Description: `Number of hash partitions, a power of two.`,
	}

	MaxBatchRows = FlagInfo{
		Name:        "max-batch-rows",
		Description: `Capacity of the stored and produced batches.`,
	}

	MaxRecursionDepth = FlagInfo{
		Name:        "max-recursion-depth",
		Description: `Depth at which a joiner that still needs to spill fails.`,
	}

	MaxFieldSize = FlagInfo{
		Name:        "max-field-size",
		Description: `Largest variable width value kept by accumulators.`,
	}

	MaxOpenFiles = FlagInfo{
		Name:        "max-open-files",
		Description: `Number of spill files that may be open at the same time.`,
	}
)

// Workload flags.
var (
	JoinType = FlagInfo{
		Name:        "join-type",
		Description: `Join type: inner, left_outer, right_outer, full_outer, left_semi or left_anti.`,
	}

	Fragments = FlagInfo{
		Name:        "fragments",
		Shorthand:   "n",
		Description: `Number of joins to run concurrently, each with its own seed.`,
	}

	PrintMetrics = FlagInfo{
		Name:        "print-metrics",
		Description: `Print the Prometheus metrics once the run completes.`,
	}
)

// Logging flags.
var (
	Verbosity = FlagInfo{
		Name:        "verbosity",
		Shorthand:   "v",
		EnvVar:      "SPILLJOIN_VERBOSITY",
		Description: `Verbosity of the event log.`,
	}

	LogFile = FlagInfo{
		Name:        "log-file",
		Description: `File the log is written to instead of stderr.`,
	}
)
