// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colserde_test

import (
	"math/rand"
	"testing"

	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coldatatestutils"
	"github.com/cockroachdb/spilljoin/pkg/col/colserde"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/stretchr/testify/require"
)

func TestArrowBatchConverterRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(rand.Int63()))
	allocator, _ := newTestAllocator(0)
	for run := 0; run < 20; run++ {
		typs := coldatatestutils.RandomTypes(rng, rng.Intn(8)+1)
		capacity := rng.Intn(coldata.BatchSize()) + 1
		length := rng.Intn(capacity + 1)
		b := coldatatestutils.RandomBatch(allocator, rng, typs, capacity, length, rng.Float64())

		c, err := colserde.NewArrowBatchConverter(coltypes.MakeSchema(typs...))
		require.NoError(t, err)
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		rec, err := c.BatchToArrow(mem, b)
		require.NoError(t, err)
		require.Equal(t, int64(length), rec.NumRows())

		actual := allocator.NewMemBatchWithFixedCapacity(typs, capacity)
		require.NoError(t, c.ArrowToBatch(rec, actual))
		rec.Release()
		mem.AssertSize(t, 0)

		coldatatestutils.AssertEquivalentBatches(t, b, actual)
	}
}

func TestArrowBatchConverterSliced(t *testing.T) {
	allocator, _ := newTestAllocator(0)
	typs := []*coltypes.T{coltypes.Int, coltypes.MakeList(coltypes.Bytes)}
	b := allocator.NewMemBatchWithFixedCapacity(typs, 4)
	b.AppendRow(int64(1), []interface{}{"a", "b"})
	b.AppendRow(nil, []interface{}{})
	b.AppendRow(int64(3), nil)
	b.AppendRow(int64(4), []interface{}{nil, "dd"})

	c, err := colserde.NewArrowBatchConverter(coltypes.MakeSchema(typs...))
	require.NoError(t, err)
	rec, err := c.BatchToArrow(memory.NewGoAllocator(), b)
	require.NoError(t, err)
	defer rec.Release()

	// A slice of the record starts at a non-zero offset into its buffers.
	sliced := rec.NewSlice(2, 4)
	defer sliced.Release()
	actual := allocator.NewMemBatchWithFixedCapacity(typs, 2)
	require.NoError(t, c.ArrowToBatch(sliced, actual))
	require.Equal(t, []string{"3 NULL", "4 {NULL,dd}"}, coldatatestutils.RowStrings(actual))
}

func TestArrowBatchConverterCopiesValues(t *testing.T) {
	allocator, _ := newTestAllocator(0)
	typs := []*coltypes.T{coltypes.Int, coltypes.Float, coltypes.Bytes}
	b := allocator.NewMemBatchWithFixedCapacity(typs, 2)
	b.AppendRow(int64(1), 1.5, "a")
	b.AppendRow(int64(2), nil, "bb")

	c, err := colserde.NewArrowBatchConverter(coltypes.MakeSchema(typs...))
	require.NoError(t, err)
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	rec, err := c.BatchToArrow(mem, b)
	require.NoError(t, err)
	require.Greater(t, mem.CurrentAlloc(), 0)

	// Overwriting the batch leaves the record intact.
	b.Reset()
	b.AppendRow(int64(7), 7.5, "zzz")
	b.AppendRow(nil, 8.5, nil)
	actual := allocator.NewMemBatchWithFixedCapacity(typs, 2)
	require.NoError(t, c.ArrowToBatch(rec, actual))
	require.Equal(t, []string{"1 1.5 a", "2 NULL bb"}, coldatatestutils.RowStrings(actual))

	rec.Release()
	mem.AssertSize(t, 0)
}

func TestArrowBatchConverterMismatchedWidth(t *testing.T) {
	allocator, _ := newTestAllocator(0)
	c, err := colserde.NewArrowBatchConverter(coltypes.MakeSchema(coltypes.Int, coltypes.Int))
	require.NoError(t, err)
	b := allocator.NewMemBatchWithFixedCapacity([]*coltypes.T{coltypes.Int}, 1)
	_, err = c.BatchToArrow(memory.NewGoAllocator(), b)
	require.Error(t, err)
}
