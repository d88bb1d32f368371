// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecagg_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecagg"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, limit int64) *colmem.Allocator {
	ctx := context.Background()
	m := mon.NewMonitor("test", limit)
	acc := m.MakeBoundAccount()
	t.Cleanup(func() {
		require.Equal(t, int64(0), acc.Used(), "memory leaked")
		acc.Close(ctx)
		require.NoError(t, m.Stop(ctx))
	})
	return colmem.NewAllocator(ctx, &acc)
}

func TestHolderFixedWidth(t *testing.T) {
	allocator := newTestAllocator(t, 0)
	h, err := colexecagg.NewHolder(allocator, colexecagg.Int64Ops, 4)
	require.NoError(t, err)
	require.Equal(t, h.SizeInBytes(), allocator.Used())

	require.NoError(t, h.AddItem(10, 0))
	require.NoError(t, h.AddNull(1))
	require.NoError(t, h.AddItem(-3, 2))
	require.Equal(t, 3, h.Populated())
	require.False(t, h.Full())
	require.NoError(t, h.AddItem(7, 3))
	require.True(t, h.Full())
	require.Error(t, h.AddItem(8, 4))

	v, isNull := h.GetItem(0)
	require.False(t, isNull)
	require.Equal(t, int64(10), v)
	_, isNull = h.GetItem(1)
	require.True(t, isNull)
	v, _ = h.GetItem(2)
	require.Equal(t, int64(-3), v)
	err = colexecerror.CatchVectorizedRuntimeError(func() { h.GetItem(4) })
	require.ErrorContains(t, err, "holder index 4 out of range [0, 4)")

	// Overwriting a NULL slot makes it non-NULL.
	require.NoError(t, h.AddItem(5, 1))
	v, isNull = h.GetItem(1)
	require.False(t, isNull)
	require.Equal(t, int64(5), v)

	require.Equal(t, h.SizeInBytes(), allocator.Used())
	h.Close()
	require.Equal(t, int64(0), allocator.Used())
	require.Equal(t, int64(0), h.SizeInBytes())
	h.Close()
	require.Error(t, h.AddItem(1, 0))
	err = colexecerror.CatchVectorizedRuntimeError(func() { h.GetItem(0) })
	require.True(t, errors.HasAssertionFailure(err), "%v", err)
	require.ErrorContains(t, err, "holder used after Close")
}

func TestHolderBytesFieldSize(t *testing.T) {
	allocator := newTestAllocator(t, 0)
	const maxFieldSize = 8
	h, err := colexecagg.NewHolder(allocator, colexecagg.BytesOps(maxFieldSize), 4)
	require.NoError(t, err)
	defer h.Close()
	empty := h.SizeInBytes()

	require.NoError(t, h.AddItem(bytes.Repeat([]byte("a"), maxFieldSize), 0))
	err = h.AddItem(bytes.Repeat([]byte("b"), maxFieldSize+1), 1)
	require.True(t, errors.Is(err, colexecerror.ErrFieldSizeExceeded), "%v", err)
	require.Equal(t, 1, h.Populated())

	require.NoError(t, h.AddNull(1))
	require.NoError(t, h.AddItem([]byte("xyz"), 2))
	require.Greater(t, h.SizeInBytes(), empty)
	require.Equal(t, h.SizeInBytes(), allocator.Used())

	v, isNull := h.GetItem(0)
	require.False(t, isNull)
	require.Equal(t, "aaaaaaaa", string(v))
	_, isNull = h.GetItem(1)
	require.True(t, isNull)
	v, _ = h.GetItem(2)
	require.Equal(t, "xyz", string(v))
}

func TestHolderTimestampAndDecimal(t *testing.T) {
	allocator := newTestAllocator(t, 0)

	ts, err := colexecagg.NewHolder(allocator, colexecagg.TimestampOps, 2)
	require.NoError(t, err)
	defer ts.Close()
	when := time.Date(2024, 2, 29, 12, 30, 0, 123_000_000, time.UTC)
	require.NoError(t, ts.AddItem(when, 0))
	got, isNull := ts.GetItem(0)
	require.False(t, isNull)
	require.True(t, when.Equal(got))

	dec, err := colexecagg.NewHolder(allocator, colexecagg.DecimalOps, 2)
	require.NoError(t, err)
	defer dec.Close()
	d, _, err := apd.NewFromString("12345678901234567890.5")
	require.NoError(t, err)
	require.NoError(t, dec.AddItem(d, 1))
	gotDec, isNull := dec.GetItem(1)
	require.False(t, isNull)
	require.Equal(t, "12345678901234567890.5", gotDec.String())
	require.Equal(t, ts.SizeInBytes()+dec.SizeInBytes(), allocator.Used())
}

func TestHolderArena(t *testing.T) {
	allocator := newTestAllocator(t, 0)
	a := colexecagg.NewHolderArena(allocator, colexecagg.BytesOps(16), 3)
	defer a.Close()

	values := []string{"a", "bb", "", "dddd", "e", "ff", "g"}
	for i, v := range values {
		var idx int
		var err error
		if i == 4 {
			idx, err = a.AppendNull()
		} else {
			idx, err = a.Append([]byte(v))
		}
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
	require.Equal(t, len(values), a.Len())
	require.Equal(t, 3, a.NumHolders())
	require.Equal(t, a.SizeInBytes(), allocator.Used())

	for i, v := range values {
		got, isNull := a.Get(i)
		if i == 4 {
			require.True(t, isNull)
			require.Nil(t, a.Box(i))
			continue
		}
		require.False(t, isNull)
		require.Equal(t, v, string(got))
	}

	_, err := a.Append(bytes.Repeat([]byte("x"), 17))
	require.True(t, errors.Is(err, colexecerror.ErrFieldSizeExceeded))
	require.Equal(t, len(values), a.Len())

	a.Close()
	require.Equal(t, int64(0), allocator.Used())
	require.Equal(t, 0, a.Len())
}

func TestHolderOutOfMemory(t *testing.T) {
	allocator := newTestAllocator(t, 1024)
	_, err := colexecagg.NewHolder(allocator, colexecagg.Int64Ops, 1024)
	require.True(t, errors.Is(err, colexecerror.ErrOutOfMemory), "%v", err)
	require.Equal(t, int64(0), allocator.Used())
}
