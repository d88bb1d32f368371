// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package mon

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
)

// BoundAccount tracks the bytes used by a single owner against a monitor.
// It is not safe for concurrent use.
type BoundAccount struct {
	used   int64
	mon    *BytesMonitor
	closed bool
}

// MakeBoundAccount creates a BoundAccount connected to the given monitor.
func (m *BytesMonitor) MakeBoundAccount() BoundAccount {
	return BoundAccount{mon: m}
}

// Monitor returns the monitor the account is bound to.
func (b *BoundAccount) Monitor() *BytesMonitor {
	return b.mon
}

// Used returns the number of bytes currently allocated through this account.
func (b *BoundAccount) Used() int64 {
	return b.used
}

// Grow is an accessor for b.mon.GrowAccount. On failure the accounting is
// left untouched and the returned error is marked with ErrBudgetExceeded.
func (b *BoundAccount) Grow(ctx context.Context, x int64) error {
	if x < 0 {
		return errors.AssertionFailedf("%s: negative growth %d", b.mon.name, x)
	}
	if b.closed {
		return errors.AssertionFailedf("%s: growing a closed account", b.mon.name)
	}
	if x == 0 {
		return nil
	}
	if err := b.mon.reserveBytes(ctx, x); err != nil {
		return err
	}
	b.used += x
	return nil
}

// Shrink releases part of the cumulated allocations by the specified size.
func (b *BoundAccount) Shrink(ctx context.Context, delta int64) {
	if delta > b.used {
		log.Errorf(ctx, "%s: no bytes in account to release, current %d, free %d",
			b.mon.name, b.used, delta)
		delta = b.used
	}
	if delta <= 0 {
		return
	}
	b.used -= delta
	b.mon.releaseBytes(ctx, delta)
}

// Resize requests a size change for an object already registered in an
// account. The reservation is not modified if the new allocation is refused.
func (b *BoundAccount) Resize(ctx context.Context, oldSz, newSz int64) error {
	delta := newSz - oldSz
	switch {
	case delta > 0:
		return b.Grow(ctx, delta)
	case delta < 0:
		b.Shrink(ctx, -delta)
	}
	return nil
}

// Clear releases all the cumulated allocations of an account at once and
// primes it for reuse.
func (b *BoundAccount) Clear(ctx context.Context) {
	b.Shrink(ctx, b.used)
}

// Close releases all the cumulated allocations of an account at once. It
// is safe to call Close more than once; only the first call has an effect.
func (b *BoundAccount) Close(ctx context.Context) {
	if b.mon == nil || b.closed {
		return
	}
	b.Clear(ctx)
	b.closed = true
}

// TransferOwnership moves n bytes of accounting from one account to
// another. If the destination cannot grow, both accounts are left
// untouched. Transfers between accounts of the same monitor do not touch
// the monitor.
func TransferOwnership(ctx context.Context, from, to *BoundAccount, n int64) error {
	if n < 0 || n > from.used {
		return errors.AssertionFailedf("%s: cannot transfer %d bytes out of an account with %d",
			from.mon.name, n, from.used)
	}
	if to.closed {
		return errors.AssertionFailedf("%s: transfer into a closed account", to.mon.name)
	}
	if from.mon == to.mon {
		from.used -= n
		to.used += n
		return nil
	}
	if err := to.Grow(ctx, n); err != nil {
		return err
	}
	from.Shrink(ctx, n)
	return nil
}

// Allocation is a reservation of a fixed number of bytes in an account. It
// is released exactly once; further calls to Release are no-ops.
type Allocation struct {
	acc      *BoundAccount
	n        int64
	released bool
}

// Reserve grows the account by n bytes and returns the handle that gives
// them back.
func (b *BoundAccount) Reserve(ctx context.Context, n int64) (*Allocation, error) {
	if err := b.Grow(ctx, n); err != nil {
		return nil, err
	}
	return &Allocation{acc: b, n: n}, nil
}

// Bytes returns the size of the allocation.
func (a *Allocation) Bytes() int64 {
	return a.n
}

// Release returns the bytes of the allocation to its account.
func (a *Allocation) Release(ctx context.Context) {
	if a == nil || a.released {
		return
	}
	a.released = true
	a.acc.Shrink(ctx, a.n)
}
