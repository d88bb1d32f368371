// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colconv_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colconv"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/stretchr/testify/require"
)

func epochBE(ms int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(ms))
}

func TestTimestampFromEpochBE(t *testing.T) {
	when := time.Date(2021, 7, 1, 8, 15, 30, 250_000_000, time.UTC)
	src := coldata.NewMemColumn(coltypes.Bytes, 4)
	src.Set(0, epochBE(when.UnixMilli()))
	src.Set(1, nil)
	src.Set(2, epochBE(-1))
	src.Set(3, epochBE(0))
	dst := coldata.NewMemColumn(coltypes.Timestamp, 4)
	dst.Nulls().SetNull(3)

	require.NoError(t, colconv.TimestampFromEpochBE(src, dst, 4))
	require.True(t, when.Equal(dst.Get(0).(time.Time)))
	require.Nil(t, dst.Get(1))
	require.Equal(t, int64(-1), dst.Timestamp()[2])
	require.Equal(t, time.Unix(0, 0).UTC(), dst.Get(3))
}

func TestTimestampFromEpochBEErrors(t *testing.T) {
	for _, length := range []int{0, 7, 9} {
		src := coldata.NewMemColumn(coltypes.Bytes, 1)
		src.Set(0, make([]byte, length))
		err := colconv.TimestampFromEpochBE(src, coldata.NewMemColumn(coltypes.Timestamp, 1), 1)
		require.ErrorContains(t, err, "expected 8", "length %d", length)
	}

	err := colconv.TimestampFromEpochBE(
		coldata.NewMemColumn(coltypes.Int, 1), coldata.NewMemColumn(coltypes.Timestamp, 1), 1)
	require.True(t, errors.Is(err, colexecerror.ErrSchemaMismatch))
	err = colconv.TimestampFromEpochBE(
		coldata.NewMemColumn(coltypes.Bytes, 1), coldata.NewMemColumn(coltypes.Int, 1), 1)
	require.True(t, errors.Is(err, colexecerror.ErrSchemaMismatch))
}

func TestTimestampFromEpochBEOp(t *testing.T) {
	ctx := context.Background()
	m := mon.NewMonitor("test", 0)
	acc := m.MakeBoundAccount()
	allocator := colmem.NewAllocator(ctx, &acc)

	typs := []*coltypes.T{coltypes.Int, coltypes.Bytes}
	rows := [][]interface{}{
		{int64(1), epochBE(1000)},
		{int64(2), nil},
		{int64(3), epochBE(86_400_000)},
	}
	input := colexecop.NewRowsSource(allocator, typs, rows, 2)
	op, err := colconv.NewTimestampFromEpochBEOp(allocator, input, typs, 1)
	require.NoError(t, err)
	require.Len(t, op.OutputTypes(), 3)

	var out []string
	sink := colexecop.NewSink(func(b coldata.Batch) error {
		for i := 0; i < b.Length(); i++ {
			out = append(out, coldata.ValueString(b.ColVec(0), i)+" "+coldata.ValueString(b.ColVec(2), i))
		}
		return nil
	})
	require.NoError(t, colexecop.Drain(ctx, op, sink))
	require.Equal(t, []string{
		"1 1970-01-01 00:00:01.000",
		"2 NULL",
		"3 1970-01-02 00:00:00.000",
	}, out)
	require.NoError(t, op.Close(ctx))

	_, err = colconv.NewTimestampFromEpochBEOp(allocator, input, typs, 0)
	require.True(t, errors.Is(err, colexecerror.ErrSchemaMismatch))

	bad := colexecop.NewRowsSource(allocator, typs, [][]interface{}{{int64(1), []byte("short")}}, 2)
	op, err = colconv.NewTimestampFromEpochBEOp(allocator, bad, typs, 1)
	require.NoError(t, err)
	require.ErrorContains(t, colexecop.Drain(ctx, op, colexecop.NewSink(nil)), "wrong length 5")
	require.NoError(t, op.Close(ctx))

	acc.Close(ctx)
	require.NoError(t, m.Stop(ctx))
}
