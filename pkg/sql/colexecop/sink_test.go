// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecop_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/stretchr/testify/require"
)

func TestSinkStates(t *testing.T) {
	ctx := context.Background()
	s := colexecop.NewSink(nil)
	require.Equal(t, colexecop.NeedsSetup, s.State())
	require.Error(t, s.Consume(ctx, coldata.ZeroBatch))
	require.NoError(t, s.Setup(ctx))
	require.Equal(t, colexecop.CanConsume, s.State())
	require.Error(t, s.Setup(ctx))
	require.NoError(t, s.NoMoreToConsume(ctx))
	require.Equal(t, colexecop.Done, s.State())
	require.Error(t, s.Consume(ctx, coldata.ZeroBatch))
	require.Equal(t, "Done", s.State().String())
}

func TestDrainRowsSource(t *testing.T) {
	ctx := context.Background()
	m := mon.NewMonitor("test", 0)
	acc := m.MakeBoundAccount()
	allocator := colmem.NewAllocator(ctx, &acc)

	rows := make([][]interface{}, 10)
	for i := range rows {
		rows[i] = []interface{}{int64(i), "x"}
	}
	src := colexecop.NewRowsSource(allocator, []*coltypes.T{coltypes.Int, coltypes.Bytes}, rows, 3)
	var sum int64
	s := colexecop.NewSink(func(b coldata.Batch) error {
		for _, v := range b.ColVec(0).Int64()[:b.Length()] {
			sum += v
		}
		return nil
	})
	require.NoError(t, colexecop.Drain(ctx, src, s))
	require.Equal(t, int64(10), s.Rows())
	require.Equal(t, int64(4), s.Batches())
	require.Equal(t, int64(45), sum)
	require.Equal(t, colexecop.Done, s.State())
}

func TestDrainPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	src := colexecop.NewFuncSource(func(context.Context) coldata.Batch {
		colexecerror.ExpectedError(colexecerror.NewSpillIOError(errors.New("boom"), "reading"))
		return nil
	})
	err := colexecop.Drain(ctx, src, colexecop.NewSink(nil))
	require.True(t, errors.Is(err, colexecerror.ErrSpillIO))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = colexecop.Drain(canceled, colexecop.NewBatchesSource(), colexecop.NewSink(nil))
	require.True(t, errors.Is(err, context.Canceled))
}
