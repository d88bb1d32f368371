// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/sql/colcontainer"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecjoin"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func smallArgs(cmd string, extra ...string) []string {
	args := []string{cmd, "--build-rows=2000", "--probe-rows=1000", "--build-hot-rows=200", "--key-domain=1500"}
	return append(args, extra...)
}

func TestJoinCmd(t *testing.T) {
	spillDir := t.TempDir()
	out, err := runCmd(t, smallArgs("join",
		"--fragments=3",
		"--join-type=left_outer",
		"--spill-dir="+spillDir,
		"--min-reserve=32KiB",
		"--memory-limit=8MiB",
		"--max-batch-rows=128",
		"--partitions=8",
		"--print-metrics",
	)...)
	require.NoError(t, err, out)
	require.Contains(t, out, "join-0")
	require.Contains(t, out, "join-2")
	require.Contains(t, out, "spilljoin_hash_joiner_spill_events_total")
	require.Contains(t, out, "batch latency")

	entries, err := os.ReadDir(spillDir)
	require.NoError(t, err)
	require.Empty(t, entries, "spill directories left behind")
}

func TestAggregateCmd(t *testing.T) {
	out, err := runCmd(t, smallArgs("aggregate", "--aggregations=count_rows,sum_int:1")...)
	require.NoError(t, err, out)
	require.Contains(t, out, "groups of 2000 rows")

	_, err = runCmd(t, smallArgs("aggregate", "--aggregations=avg:1")...)
	require.True(t, errors.HasType(err, (*cliError)(nil)), "%v", err)

	_, err = runCmd(t, smallArgs("aggregate", "--memory-limit=16KiB", "--disable-spill")...)
	require.Error(t, err)
}

func TestConfigCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory_limit_bytes: 128MiB
num_partitions: 4
spill_compression: zstd
spill_dir: /tmp/from-file
`), 0644))

	out, err := runCmd(t, "config", "--config="+path, "--partitions=32")
	require.NoError(t, err, out)
	cfg, err := colexecjoin.ParseConfig([]byte(out))
	require.NoError(t, err, out)
	require.Equal(t, colexecjoin.ByteSize(128<<20), cfg.MemoryLimitBytes)
	require.Equal(t, 32, cfg.NumPartitions)
	require.Equal(t, colcontainer.CompressionZSTD, cfg.SpillCompression)
	require.Equal(t, "/tmp/from-file", cfg.SpillDir)
	require.Equal(t, colexecjoin.DefaultConfig().MaxBatchRows, cfg.MaxBatchRows)
}

func TestCmdErrors(t *testing.T) {
	for _, args := range [][]string{
		{"join", "--partitions=3"},
		{"join", "--no-such-flag"},
		{"join", "--memory-limit=lots"},
		{"join", "--fragments=0"},
		{"join", "--join-type=sideways"},
		{"config", "--config=/does/not/exist.yaml"},
	} {
		_, err := runCmd(t, args...)
		require.True(t, errors.HasType(err, (*cliError)(nil)), "%v: %v", args, err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SPILLJOIN_MEMORY_LIMIT", "96MiB")
	out, err := runCmd(t, "config")
	require.NoError(t, err, out)
	cfg, err := colexecjoin.ParseConfig([]byte(out))
	require.NoError(t, err, out)
	require.Equal(t, colexecjoin.ByteSize(96<<20), cfg.MemoryLimitBytes)
}
