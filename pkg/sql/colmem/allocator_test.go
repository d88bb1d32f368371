// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colmem_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/stretchr/testify/require"
)

func TestAllocatorAccounting(t *testing.T) {
	ctx := context.Background()
	m := mon.NewMonitor("test", 0)
	acc := m.MakeBoundAccount()
	allocator := colmem.NewAllocator(ctx, &acc)

	typs := []*coltypes.T{coltypes.Int, coltypes.Bytes, coltypes.Bool}
	b := allocator.NewMemBatchWithFixedCapacity(typs, 16)
	require.Equal(t, colmem.GetBatchMemSize(b), allocator.Used())
	require.LessOrEqual(t, colmem.EstimateBatchSizeBytes(typs, 16), allocator.Used())

	before := allocator.Used()
	allocator.PerformOperation(b.ColVecs(), func() {
		for i := 0; i < 16; i++ {
			b.AppendRow(int64(i), make([]byte, 100), i%2 == 0)
		}
	})
	require.Greater(t, allocator.Used(), before)
	require.Equal(t, colmem.GetBatchMemSize(b), allocator.Used())

	v := allocator.NewMemColumn(coltypes.Float, 8)
	require.Equal(t, colmem.GetBatchMemSize(b)+v.Size(), allocator.Used())
	allocator.ReleaseMemory(v.Size())

	reused, reallocated := allocator.ResetMaybeReallocate(typs, b, 8)
	require.False(t, reallocated)
	require.Equal(t, 0, reused.Length())
	grown, reallocated := allocator.ResetMaybeReallocate(typs, reused, 32)
	require.True(t, reallocated)
	require.Equal(t, 32, grown.Capacity())

	allocator.ReleaseBatch(grown)
	require.Equal(t, int64(0), allocator.Used())
	acc.Close(ctx)
	require.NoError(t, m.Stop(ctx))
}

func TestAllocatorOutOfMemory(t *testing.T) {
	ctx := context.Background()
	m := mon.NewMonitor("test", 1024)
	acc := m.MakeBoundAccount()
	allocator := colmem.NewAllocator(ctx, &acc)

	err := colexecerror.CatchVectorizedRuntimeError(func() {
		allocator.NewMemBatchWithFixedCapacity([]*coltypes.T{coltypes.Int}, coldata.BatchSize())
	})
	require.True(t, errors.Is(err, colexecerror.ErrOutOfMemory), "%v", err)
	require.Equal(t, int64(0), allocator.Used())
	require.LessOrEqual(t, m.MaximumBytes(), m.Limit())
	acc.Close(ctx)
	require.NoError(t, m.Stop(ctx))
}

func TestArrowAllocator(t *testing.T) {
	ctx := context.Background()
	m := mon.NewMonitor("test", 0)
	acc := m.MakeBoundAccount()
	allocator := colmem.NewAllocator(ctx, &acc)

	mem := allocator.ArrowAllocator()
	buf := mem.Allocate(64)
	require.Equal(t, int64(64), m.Used())
	buf = mem.Reallocate(128, buf)
	require.Equal(t, int64(128), m.Used())
	mem.Free(buf)
	require.Equal(t, int64(0), m.Used())

	// Buffers that are never freed are released when the allocator is closed.
	_ = mem.Allocate(32)
	require.Equal(t, int64(32), mem.Used())
	mem.Close()
	require.Equal(t, int64(0), m.Used())
	acc.Close(ctx)
	require.NoError(t, m.Stop(ctx))
}
