// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecagg

import (
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

const sizeOfArenaIdx = 4

// ArrayAggAccumulator implements ARRAY_AGG. The values of all groups are
// appended to a single holder arena and every group keeps the arena indices
// of its values in input order.
type ArrayAggAccumulator[T any] struct {
	allocator *colmem.Allocator
	ops       ValueOps[T]
	colIdx    int
	arena     *HolderArena[T]
	groups    groupState[[]int32]
	// idxBytes is the accounted capacity of the per-group index slices.
	idxBytes int64
	scratch  []interface{}
}

var _ AggregateFunc = &ArrayAggAccumulator[int64]{}

// NewArrayAggAccumulator returns an accumulator of the values of column
// colIdx. Values are stored in holders of holderCapacity values.
func NewArrayAggAccumulator[T any](
	allocator *colmem.Allocator, ops ValueOps[T], colIdx int, holderCapacity int,
) *ArrayAggAccumulator[T] {
	return &ArrayAggAccumulator[T]{
		allocator: allocator,
		ops:       ops,
		colIdx:    colIdx,
		arena:     NewHolderArena(allocator, ops, holderCapacity),
		groups:    groupState[[]int32]{allocator: allocator},
	}
}

func newArrayAgg(
	allocator *colmem.Allocator, typ *coltypes.T, colIdx, holderCapacity, maxFieldSize int,
) (AggregateFunc, error) {
	switch typ.Family() {
	case coltypes.BoolFamily:
		return NewArrayAggAccumulator(allocator, BoolOps, colIdx, holderCapacity), nil
	case coltypes.Int32Family:
		return NewArrayAggAccumulator(allocator, Int32Ops, colIdx, holderCapacity), nil
	case coltypes.Int64Family:
		return NewArrayAggAccumulator(allocator, Int64Ops, colIdx, holderCapacity), nil
	case coltypes.Float64Family:
		return NewArrayAggAccumulator(allocator, Float64Ops, colIdx, holderCapacity), nil
	case coltypes.TimestampFamily:
		return NewArrayAggAccumulator(allocator, TimestampOps, colIdx, holderCapacity), nil
	case coltypes.DecimalFamily:
		return NewArrayAggAccumulator(allocator, DecimalOps, colIdx, holderCapacity), nil
	case coltypes.BytesFamily:
		return NewArrayAggAccumulator(allocator, BytesOps(maxFieldSize), colIdx, holderCapacity), nil
	default:
		return nil, colexecerror.NewSchemaMismatchError("ARRAY_AGG: unsupported type %s", typ)
	}
}

// OutputType implements the AggregateFunc interface.
func (a *ArrayAggAccumulator[T]) OutputType() *coltypes.T {
	return coltypes.MakeList(a.ops.Type())
}

// Compute implements the AggregateFunc interface.
func (a *ArrayAggAccumulator[T]) Compute(
	vecs []coldata.Vec, groups []int, n int, numGroups int,
) error {
	if err := a.groups.ensureGroups(numGroups); err != nil {
		return err
	}
	vec := vecs[a.colIdx]
	var delta int64
	var err error
	for i, g := range groups[:n] {
		var idx int
		if isNull(vec, i) {
			idx, err = a.arena.AppendNull()
		} else {
			idx, err = a.arena.Append(a.ops.Get(vec, i))
		}
		if err != nil {
			break
		}
		idxs := a.groups.vals[g]
		before := cap(idxs)
		a.groups.vals[g] = append(idxs, int32(idx))
		delta += int64(cap(a.groups.vals[g])-before) * sizeOfArenaIdx
	}
	a.idxBytes += delta
	if accErr := colexecerror.CatchVectorizedRuntimeError(func() {
		a.allocator.AdjustMemoryUsage(delta)
	}); accErr != nil {
		a.idxBytes -= delta
		return accErr
	}
	return err
}

// Flush implements the AggregateFunc interface.
func (a *ArrayAggAccumulator[T]) Flush(group int, out coldata.Vec, outputIdx int) {
	vals := a.scratch[:0]
	for _, idx := range a.groups.vals[group] {
		vals = append(vals, a.arena.Box(int(idx)))
	}
	out.List().Set(outputIdx, vals)
	a.scratch = vals
}

// Values returns the values collected for the group. NULLs are returned as
// the zero value with the corresponding entry of nulls set.
func (a *ArrayAggAccumulator[T]) Values(group int) (vals []T, nulls []bool) {
	for _, idx := range a.groups.vals[group] {
		v, null := a.arena.Get(int(idx))
		vals = append(vals, v)
		nulls = append(nulls, null)
	}
	return vals, nulls
}

// SizeInBytes returns the size of the holders of the accumulator.
func (a *ArrayAggAccumulator[T]) SizeInBytes() int64 {
	return a.arena.SizeInBytes()
}

// Close implements the AggregateFunc interface.
func (a *ArrayAggAccumulator[T]) Close() {
	a.arena.Close()
	a.groups.release()
	a.allocator.ReleaseMemory(a.idxBytes)
	a.idxBytes = 0
}
