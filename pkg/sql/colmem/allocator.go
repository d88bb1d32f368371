// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colmem provides the Allocator through which the vectorized engine
// creates vectors and batches so that all of their memory is accounted for.
package colmem

import (
	"context"

	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
)

// Allocator is a memory management tool for vectorized components. It
// provides new batches (and appends to existing ones) within a fixed memory
// budget. If the budget is exceeded, it will panic with an error marked as
// colexecerror.ErrOutOfMemory.
//
// In general, memory is accounted for as the size of the vectors including
// their unused capacity, so the accounting of a batch matches what the Go
// runtime holds for it.
type Allocator struct {
	ctx context.Context
	acc *mon.BoundAccount
}

// NewAllocator constructs a new Allocator instance.
func NewAllocator(ctx context.Context, acc *mon.BoundAccount) *Allocator {
	return &Allocator{ctx: ctx, acc: acc}
}

// Acc returns the account the allocator reserves from.
func (a *Allocator) Acc() *mon.BoundAccount {
	return a.acc
}

// NewMemBatchWithFixedCapacity allocates a new in-memory batch with the given
// vector capacity.
// Note: consider whether you want the dynamic batch size behavior (in which
// case you should be using ResetMaybeReallocate).
func (a *Allocator) NewMemBatchWithFixedCapacity(
	typs []*coltypes.T, capacity int,
) coldata.Batch {
	b := coldata.NewMemBatchWithCapacity(typs, capacity)
	a.AdjustMemoryUsage(GetBatchMemSize(b))
	return b
}

// NewMemBatchNoCols creates a "skeleton" of new in-memory coldata.Batch. It
// does *not* allocate any memory for the column vectors - those will have to
// be added separately and accounted with RetainBatch.
func (a *Allocator) NewMemBatchNoCols(typs []*coltypes.T, capacity int) coldata.Batch {
	return coldata.NewMemBatchNoCols(typs, capacity)
}

// ResetMaybeReallocate returns a batch that is guaranteed to be in a "reset"
// state and to have the capacity of at least minCapacity. The old batch is
// reused when possible, otherwise its memory is released and a new batch is
// allocated.
func (a *Allocator) ResetMaybeReallocate(
	typs []*coltypes.T, oldBatch coldata.Batch, minCapacity int,
) (newBatch coldata.Batch, reallocated bool) {
	if oldBatch == nil || oldBatch == coldata.ZeroBatch || oldBatch.Capacity() < minCapacity {
		if oldBatch != nil && oldBatch != coldata.ZeroBatch {
			a.ReleaseBatch(oldBatch)
		}
		return a.NewMemBatchWithFixedCapacity(typs, minCapacity), true
	}
	a.PerformOperation(oldBatch.ColVecs(), oldBatch.Reset)
	return oldBatch, false
}

// NewMemColumn returns a new coldata.Vec, initialized with a length.
func (a *Allocator) NewMemColumn(t *coltypes.T, capacity int) coldata.Vec {
	v := coldata.NewMemColumn(t, capacity)
	a.AdjustMemoryUsage(v.Size())
	return v
}

// PerformOperation executes 'operation' (that somehow modifies 'destVecs')
// and updates the memory account accordingly.
// NOTE: all vectors in destVecs must be owned by the allocator.
func (a *Allocator) PerformOperation(destVecs []coldata.Vec, operation func()) {
	before := getVecsMemoryFootprint(destVecs)
	operation()
	after := getVecsMemoryFootprint(destVecs)
	a.AdjustMemoryUsage(after - before)
}

// RetainBatch adds the size of the batch to the memory account. This
// shouldn't be called on batches that are already accounted for by this
// allocator.
func (a *Allocator) RetainBatch(b coldata.Batch) {
	if b == coldata.ZeroBatch {
		return
	}
	a.AdjustMemoryUsage(GetBatchMemSize(b))
}

// ReleaseBatch releases the memory accounted for the batch and returns the
// number of bytes released. The batch must not be used afterwards.
func (a *Allocator) ReleaseBatch(b coldata.Batch) int64 {
	if b == coldata.ZeroBatch {
		return 0
	}
	size := GetBatchMemSize(b)
	a.ReleaseMemory(size)
	return size
}

// ReleaseMemory reduces the number of bytes currently allocated through this
// allocator by (at most) size. If size is larger than the number of bytes
// currently allocated, then all bytes are released.
func (a *Allocator) ReleaseMemory(size int64) {
	if size < 0 {
		colexecerror.InternalError(errors.AssertionFailedf("unexpectedly negative size in ReleaseMemory: %d", size))
	}
	if size > a.acc.Used() {
		size = a.acc.Used()
	}
	a.acc.Shrink(a.ctx, size)
}

// AdjustMemoryUsage adjusts the number of bytes currently allocated through
// this allocator by delta bytes (which can be both positive or negative).
func (a *Allocator) AdjustMemoryUsage(delta int64) {
	if delta > 0 {
		if err := a.acc.Grow(a.ctx, delta); err != nil {
			colexecerror.ExpectedError(err)
		}
	} else if delta < 0 {
		a.ReleaseMemory(-delta)
	}
}

// Used returns the number of bytes currently allocated through this
// allocator.
func (a *Allocator) Used() int64 {
	return a.acc.Used()
}

// ReleaseAll releases all of the reservations from the allocator.
func (a *Allocator) ReleaseAll() {
	a.acc.Clear(a.ctx)
}

// GetBatchMemSize returns the total memory footprint of the batch.
func GetBatchMemSize(b coldata.Batch) int64 {
	if b == nil || b == coldata.ZeroBatch {
		return 0
	}
	return getVecsMemoryFootprint(b.ColVecs())
}

func getVecsMemoryFootprint(vecs []coldata.Vec) int64 {
	var size int64
	for _, v := range vecs {
		if v == nil {
			continue
		}
		size += v.Size()
	}
	return size
}

// sizeOfOffset is the size of one offset of a bytes or a list vector.
const sizeOfOffset = 4

// EstimateBatchSizeBytes returns an estimated amount of bytes needed to
// store a batch in memory that has column types typs. Variable width data is
// not included since it cannot be known ahead of time.
func EstimateBatchSizeBytes(typs []*coltypes.T, batchLength int) int64 {
	if batchLength == 0 {
		return 0
	}
	var size int64
	nullsSize := int64((batchLength-1)/8 + 1)
	for _, t := range typs {
		size += nullsSize
		switch t.Family() {
		case coltypes.BytesFamily:
			size += int64(batchLength+1) * sizeOfOffset
		case coltypes.ListFamily:
			size += int64(batchLength+1) * sizeOfOffset
			size += EstimateBatchSizeBytes([]*coltypes.T{t.Elem()}, batchLength)
		default:
			size += int64(t.FixedWidth() * batchLength)
		}
	}
	return size
}

// ArrowAllocator returns an Arrow memory.Allocator whose allocations are
// accounted against the monitor of a. The returned allocator must be closed
// once all the Arrow buffers it handed out are released or dropped; closing
// it releases whatever is still accounted.
func (a *Allocator) ArrowAllocator() *ArrowAllocator {
	acc := a.acc.Monitor().MakeBoundAccount()
	return &ArrowAllocator{ctx: a.ctx, acc: acc, mem: memory.NewGoAllocator()}
}

// ArrowAllocator adapts a bound account to Arrow's memory.Allocator.
type ArrowAllocator struct {
	ctx context.Context
	acc mon.BoundAccount
	mem memory.Allocator
	// err is the first budget error hit by an allocation. Arrow may recover
	// the panic raised for it, so callers check Err after using Arrow.
	err error
}

var _ memory.Allocator = &ArrowAllocator{}

// Allocate implements the memory.Allocator interface.
func (a *ArrowAllocator) Allocate(size int) []byte {
	a.grow(int64(size))
	return a.mem.Allocate(size)
}

// Reallocate implements the memory.Allocator interface.
func (a *ArrowAllocator) Reallocate(size int, b []byte) []byte {
	if delta := int64(size - len(b)); delta > 0 {
		a.grow(delta)
	} else {
		a.shrink(-delta)
	}
	return a.mem.Reallocate(size, b)
}

// Free implements the memory.Allocator interface.
func (a *ArrowAllocator) Free(b []byte) {
	a.shrink(int64(len(b)))
	a.mem.Free(b)
}

// Used returns the number of bytes currently held by Arrow buffers.
func (a *ArrowAllocator) Used() int64 {
	return a.acc.Used()
}

// Err returns the first error encountered while reserving memory for an
// Arrow buffer, if any.
func (a *ArrowAllocator) Err() error {
	return a.err
}

// Close releases the remaining accounted bytes.
func (a *ArrowAllocator) Close() {
	a.acc.Close(a.ctx)
}

func (a *ArrowAllocator) grow(n int64) {
	if err := a.acc.Grow(a.ctx, n); err != nil {
		if a.err == nil {
			a.err = err
		}
		colexecerror.ExpectedError(err)
	}
}

func (a *ArrowAllocator) shrink(n int64) {
	if n > a.acc.Used() {
		n = a.acc.Used()
	}
	a.acc.Shrink(a.ctx, n)
}
