// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package mon

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestMonitorGrowShrink(t *testing.T) {
	ctx := context.Background()
	root := NewMonitor("root", 100)
	acc := root.MakeBoundAccount()
	require.NoError(t, acc.Grow(ctx, 60))
	require.Equal(t, int64(60), root.Used())

	err := acc.Grow(ctx, 41)
	require.True(t, errors.Is(err, ErrBudgetExceeded), "%v", err)
	require.Equal(t, int64(60), acc.Used())
	require.Equal(t, int64(60), root.Used())

	require.NoError(t, acc.Grow(ctx, 40))
	require.Equal(t, int64(100), root.MaximumBytes())
	acc.Shrink(ctx, 30)
	require.Equal(t, int64(70), root.Used())
	require.NoError(t, acc.Resize(ctx, 70, 10))
	require.Equal(t, int64(10), root.Used())

	acc.Close(ctx)
	acc.Close(ctx)
	require.Equal(t, int64(0), root.Used())
	require.Error(t, acc.Grow(ctx, 1))
	require.NoError(t, root.Stop(ctx))
}

func TestMonitorTree(t *testing.T) {
	ctx := context.Background()
	root := NewMonitor("root", 1000)
	a, err := root.NewChild(ctx, "a", 100, 500)
	require.NoError(t, err)
	b, err := root.NewChild(ctx, "b", 0, 0)
	require.NoError(t, err)
	// The minimum reservation is taken from the parent up front.
	require.Equal(t, int64(100), root.Used())
	require.Equal(t, int64(100), a.Reserved())

	accA := a.MakeBoundAccount()
	require.NoError(t, accA.Grow(ctx, 50))
	// Usage below the minimum reservation does not reach the parent.
	require.Equal(t, int64(100), root.Used())
	require.NoError(t, accA.Grow(ctx, 150))
	require.Equal(t, int64(200), root.Used())

	// The child limit applies even though the root has room.
	require.True(t, errors.Is(accA.Grow(ctx, 301), ErrBudgetExceeded))

	accB := b.MakeBoundAccount()
	require.NoError(t, accB.Grow(ctx, 800))
	require.Equal(t, int64(1000), root.Used())
	// The root limit applies to b even though b is unbounded.
	err = accB.Grow(ctx, 1)
	require.True(t, errors.Is(err, ErrBudgetExceeded))
	require.Equal(t, int64(800), b.Used())

	// Releasing gives back everything above the minimum reservation.
	accA.Shrink(ctx, 180)
	require.Equal(t, int64(20), a.Used())
	require.Equal(t, int64(100), a.Reserved())
	require.Equal(t, int64(900), root.Used())

	// Stopping a monitor with outstanding bytes is reported as a leak.
	require.Error(t, a.Stop(ctx))
	require.Error(t, root.Stop(ctx))

	accA.Close(ctx)
	accB.Close(ctx)
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
	require.Equal(t, int64(0), root.Used())
	require.NoError(t, root.Stop(ctx))
}

func TestNewChildMinReserveExceedsBudget(t *testing.T) {
	ctx := context.Background()
	root := NewMonitor("root", 10)
	_, err := root.NewChild(ctx, "child", 11, 0)
	require.True(t, errors.Is(err, ErrBudgetExceeded), "%v", err)
	require.Equal(t, int64(0), root.Used())
	require.NoError(t, root.Stop(ctx))
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	root := NewMonitor("root", 100)
	src, err := root.NewChild(ctx, "src", 0, 0)
	require.NoError(t, err)
	dst, err := root.NewChild(ctx, "dst", 0, 30)
	require.NoError(t, err)

	from := src.MakeBoundAccount()
	to := dst.MakeBoundAccount()
	require.NoError(t, from.Grow(ctx, 50))

	// The destination cannot take 40 bytes; nothing changes.
	require.True(t, errors.Is(TransferOwnership(ctx, &from, &to, 40), ErrBudgetExceeded))
	require.Equal(t, int64(50), from.Used())
	require.Equal(t, int64(0), to.Used())

	require.NoError(t, TransferOwnership(ctx, &from, &to, 25))
	require.Equal(t, int64(25), from.Used())
	require.Equal(t, int64(25), to.Used())
	require.Equal(t, int64(25), src.Used())
	require.Equal(t, int64(25), dst.Used())
	require.Equal(t, int64(50), root.Used())

	// Moving more than the source holds is an error.
	require.Error(t, TransferOwnership(ctx, &from, &to, 26))

	// Transfers within a monitor only move the account counters.
	other := src.MakeBoundAccount()
	require.NoError(t, TransferOwnership(ctx, &from, &other, 25))
	require.Equal(t, int64(25), src.Used())

	other.Close(ctx)
	from.Close(ctx)
	to.Close(ctx)
	require.NoError(t, src.Stop(ctx))
	require.NoError(t, dst.Stop(ctx))
	require.NoError(t, root.Stop(ctx))
}

func TestAllocationReleasedOnce(t *testing.T) {
	ctx := context.Background()
	root := NewMonitor("root", 0)
	acc := root.MakeBoundAccount()
	a1, err := acc.Reserve(ctx, 10)
	require.NoError(t, err)
	a2, err := acc.Reserve(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(15), root.Used())
	a1.Release(ctx)
	a1.Release(ctx)
	require.Equal(t, int64(5), root.Used())
	require.Equal(t, int64(5), a2.Bytes())
	a2.Release(ctx)
	require.Equal(t, int64(0), acc.Used())
	require.NoError(t, root.Stop(ctx))
}
