// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package joingen_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/spilljoin/pkg/col/coldatatestutils"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/cockroachdb/spilljoin/pkg/workload/joingen"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s *joingen.Source) (rows []string, hot, nulls int) {
	s.Init(context.Background())
	for {
		b := s.Next()
		if b.Length() == 0 {
			return rows, hot, nulls
		}
		keys := b.ColVec(0)
		for i := 0; i < b.Length(); i++ {
			if keys.Nulls().NullAt(i) {
				nulls++
			} else if keys.Int64()[i] == joingen.HotKey {
				hot++
			}
		}
		rows = append(rows, coldatatestutils.RowStrings(b)...)
	}
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	m := mon.NewMonitor("test", 0)
	acc := m.MakeBoundAccount()
	defer acc.Close(ctx)
	allocator := colmem.NewAllocator(ctx, &acc)

	cfg := joingen.Config{
		Seed:            7,
		BuildRows:       1000,
		ProbeRows:       300,
		BuildHotRows:    100,
		ProbeHotRows:    3,
		KeyDomain:       50,
		NullProbability: 0.1,
		PayloadBytes:    4,
		BatchSize:       64,
	}
	require.NoError(t, cfg.Validate())

	build, hot, nulls := drain(t, cfg.Build(allocator))
	require.Len(t, build, cfg.BuildRows)
	require.Equal(t, cfg.BuildHotRows, hot)
	require.Greater(t, nulls, 0)

	probe, hot, _ := drain(t, cfg.Probe(allocator))
	require.Len(t, probe, cfg.ProbeRows)
	require.Equal(t, cfg.ProbeHotRows, hot)

	again, _, _ := drain(t, cfg.Build(allocator))
	require.Equal(t, build, again)

	cfg.Seed++
	other, _, _ := drain(t, cfg.Build(allocator))
	require.NotEqual(t, build, other)
}

func TestConfigFlags(t *testing.T) {
	cfg := joingen.DefaultConfig()
	fs := cfg.Flags()
	require.NoError(t, fs.Parse([]string{"--build-rows=10", "--build-hot-rows=20"}))
	require.Equal(t, 10, cfg.BuildRows)
	require.ErrorContains(t, cfg.Validate(), "20 hot build rows out of 10")

	cfg = joingen.DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.KeyDomain = 0
	require.Error(t, cfg.Validate())
}
