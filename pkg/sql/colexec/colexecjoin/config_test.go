// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecjoin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colcontainer"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
min_reserve_bytes: 8MiB
memory_limit_bytes: 33554432
num_partitions: 32
spill_compression: lz4
spill_dir: /tmp/joins
`))
	require.NoError(t, err)
	require.Equal(t, ByteSize(8<<20), cfg.MinReserveBytes)
	require.Equal(t, ByteSize(32<<20), cfg.MemoryLimitBytes)
	require.Equal(t, 32, cfg.NumPartitions)
	require.Equal(t, colcontainer.CompressionLZ4, cfg.SpillCompression)
	require.Equal(t, "/tmp/joins", cfg.SpillDir)
	// Options missing from the document keep their defaults.
	require.Equal(t, DefaultConfig().MaxRecursionDepth, cfg.MaxRecursionDepth)
	require.True(t, cfg.EnableSpill)

	cfg, err = ParseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.Contains(t, string(out), "min_reserve_bytes: 16 MiB")
	require.Contains(t, string(out), "spill_compression: snappy")
	roundTripped, err := ParseConfig(out)
	require.NoError(t, err)
	require.Equal(t, cfg, roundTripped)
}

func TestParseConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		yaml string
		err  string
	}{
		{yaml: `max_spill: 1`, err: "field max_spill not found"},
		{yaml: `min_reserve_bytes: lots`, err: "parsing config"},
		{yaml: `spill_compression: gzip`, err: "gzip"},
		{yaml: `num_partitions: 3`, err: "num_partitions 3 is not a power of two"},
		{yaml: `num_partitions: 2048`, err: "num_partitions 2048"},
		{yaml: `max_batch_rows: 0`, err: "max_batch_rows 0"},
		{yaml: `max_batch_rows: 70000`, err: "max_batch_rows 70000"},
		{yaml: `min_reserve_bytes: 64MiB`, err: "must be below memory_limit_bytes"},
		{yaml: `max_recursion_depth: 0`, err: "max_recursion_depth must be at least 1"},
		{yaml: `max_open_files: 4`, err: "max_open_files 4 is below 10"},
		{yaml: `spill_dir: ""`, err: "spill_dir unset"},
		{yaml: `max_field_size_bytes: 0`, err: "max_field_size_bytes must be positive"},
	} {
		t.Run(tc.yaml, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml))
			require.ErrorContains(t, err, tc.err)
		})
	}

	// Without spilling, the spilling options are not checked.
	_, err := ParseConfig([]byte("enable_spill: false\nmax_recursion_depth: 0\n"))
	require.NoError(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_batch_rows: 128\n"), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 128, cfg.MaxBatchRows)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "reading config")
}

func TestParseJoinType(t *testing.T) {
	for name, expected := range map[string]JoinType{
		"inner":       InnerJoin,
		"LEFT_OUTER":  LeftOuterJoin,
		"right outer": RightOuterJoin,
		"Full_Outer":  FullOuterJoin,
		"left_semi":   LeftSemiJoin,
		"left anti":   LeftAntiJoin,
	} {
		jt, err := ParseJoinType(name)
		require.NoError(t, err, name)
		require.Equal(t, expected, jt)
	}
	_, err := ParseJoinType("cross")
	require.Error(t, err)

	var jt JoinType
	require.NoError(t, jt.UnmarshalText([]byte("left_anti")))
	require.Equal(t, LeftAntiJoin, jt)
	require.True(t, jt.IsSetOpJoin())
	require.False(t, FullOuterJoin.IsSetOpJoin())
}

func TestHashJoinerSpecOutputTypes(t *testing.T) {
	spec := HashJoinerSpec{
		JoinType:     InnerJoin,
		BuildTypes:   []*coltypes.T{coltypes.Int, coltypes.Bytes},
		ProbeTypes:   []*coltypes.T{coltypes.Int},
		BuildKeyCols: []int{0},
		ProbeKeyCols: []int{0},
	}
	require.NoError(t, spec.Validate())
	require.Len(t, spec.OutputTypes(), 3)
	spec.JoinType = LeftSemiJoin
	require.Equal(t, spec.ProbeTypes, spec.OutputTypes())

	spec.ProbeKeyCols = nil
	require.ErrorContains(t, spec.Validate(), "1 build key columns and 0 probe key columns")
}

func TestNewColumnComparison(t *testing.T) {
	typs := []*coltypes.T{coltypes.Int, coltypes.Bytes}
	_, err := NewColumnComparison(typs, typs, 1, LT, 1)
	require.Error(t, err)
	_, err = NewColumnComparison(typs, typs, 2, LT, 0)
	require.Error(t, err)
	_, err = NewColumnComparison(typs, []*coltypes.T{coltypes.Float}, 0, LT, 0)
	require.Error(t, err)
	_, err = NewColumnComparison(typs, typs, 0, ComparisonOp("~"), 0)
	require.Error(t, err)
	_, err = NewColumnComparison(typs, typs, 0, GE, 0)
	require.NoError(t, err)
}
