// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecagg

import (
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

// ValueOps are the operations of a Holder that depend on the type of the
// stored values.
type ValueOps[T any] interface {
	// Type is the type of the vector holding the values.
	Type() *coltypes.T
	// Get returns the value at row i of vec, which must not be NULL.
	Get(vec coldata.Vec, i int) T
	// Set stores v at row i of vec.
	Set(vec coldata.Vec, i int, v T)
	// Check validates v before it is stored.
	Check(v T) error
	// Box returns v in the form accepted by coldata.Vec.Set.
	Box(v T) interface{}
}

type fixedOps[T any] struct {
	typ *coltypes.T
	col func(coldata.Vec) []T
}

func (o fixedOps[T]) Type() *coltypes.T { return o.typ }
func (o fixedOps[T]) Get(vec coldata.Vec, i int) T { return o.col(vec)[i] }
func (o fixedOps[T]) Set(vec coldata.Vec, i int, v T) { o.col(vec)[i] = v }
func (o fixedOps[T]) Check(T) error { return nil }
func (o fixedOps[T]) Box(v T) interface{} { return v }

// Operations of the fixed width families.
var (
	BoolOps    ValueOps[bool]    = fixedOps[bool]{typ: coltypes.Bool, col: coldata.Vec.Bool}
	Int32Ops   ValueOps[int32]   = fixedOps[int32]{typ: coltypes.Int4, col: coldata.Vec.Int32}
	Int64Ops   ValueOps[int64]   = fixedOps[int64]{typ: coltypes.Int, col: coldata.Vec.Int64}
	Float64Ops ValueOps[float64] = fixedOps[float64]{typ: coltypes.Float, col: coldata.Vec.Float64}
)

type timestampOps struct{}

// TimestampOps stores timestamps with millisecond precision.
var TimestampOps ValueOps[time.Time] = timestampOps{}

func (timestampOps) Type() *coltypes.T { return coltypes.Timestamp }
func (timestampOps) Get(vec coldata.Vec, i int) time.Time {
	return time.UnixMilli(vec.Timestamp()[i]).UTC()
}
func (timestampOps) Set(vec coldata.Vec, i int, v time.Time) { vec.Timestamp()[i] = v.UnixMilli() }
func (timestampOps) Check(time.Time) error { return nil }
func (timestampOps) Box(v time.Time) interface{} { return v }

type decimalOps struct{}

// DecimalOps stores decimals.
var DecimalOps ValueOps[*apd.Decimal] = decimalOps{}

func (decimalOps) Type() *coltypes.T { return coltypes.Decimal }
func (decimalOps) Get(vec coldata.Vec, i int) *apd.Decimal {
	var d apd.Decimal
	d.Set(&vec.Decimal()[i])
	return &d
}
func (decimalOps) Set(vec coldata.Vec, i int, v *apd.Decimal) { vec.Decimal()[i].Set(v) }
func (decimalOps) Check(*apd.Decimal) error { return nil }
func (decimalOps) Box(v *apd.Decimal) interface{} { return v }

type bytesOps struct {
	maxFieldSize int
}

// BytesOps returns the operations of variable width values of at most
// maxFieldSize bytes.
func BytesOps(maxFieldSize int) ValueOps[[]byte] {
	return bytesOps{maxFieldSize: maxFieldSize}
}

func (bytesOps) Type() *coltypes.T { return coltypes.Bytes }
func (bytesOps) Get(vec coldata.Vec, i int) []byte { return vec.Bytes().Get(i) }
func (bytesOps) Set(vec coldata.Vec, i int, v []byte) { vec.Bytes().Set(i, v) }
func (o bytesOps) Check(v []byte) error {
	if len(v) > o.maxFieldSize {
		return colexecerror.NewFieldSizeExceededError(len(v), o.maxFieldSize)
	}
	return nil
}
func (bytesOps) Box(v []byte) interface{} { return v }

// Holder stores up to a fixed number of values of one type in a single
// vector. Its memory is accounted by the allocator it was created with.
type Holder[T any] struct {
	ops       ValueOps[T]
	allocator *colmem.Allocator
	vec       coldata.Vec
	capacity  int
	populated int
	accounted int64
}

// NewHolder allocates a holder for capacity values.
func NewHolder[T any](allocator *colmem.Allocator, ops ValueOps[T], capacity int) (*Holder[T], error) {
	h := &Holder[T]{ops: ops, allocator: allocator, capacity: capacity}
	if err := colexecerror.CatchVectorizedRuntimeError(func() {
		h.vec = allocator.NewMemColumn(ops.Type(), capacity)
	}); err != nil {
		return nil, err
	}
	h.accounted = h.vec.Size()
	return h, nil
}

// AddItem stores v at index idx. Slots are populated in increasing order of
// idx for variable width values.
func (h *Holder[T]) AddItem(v T, idx int) error {
	if err := h.checkIdx(idx); err != nil {
		return err
	}
	if err := h.ops.Check(v); err != nil {
		return err
	}
	return h.update(idx, func() {
		h.vec.Nulls().UnsetNull(idx)
		h.ops.Set(h.vec, idx, v)
	})
}

// AddNull stores NULL at index idx.
func (h *Holder[T]) AddNull(idx int) error {
	if err := h.checkIdx(idx); err != nil {
		return err
	}
	return h.update(idx, func() { h.vec.Set(idx, nil) })
}

func (h *Holder[T]) checkIdx(idx int) error {
	if h.vec == nil {
		return errors.AssertionFailedf("holder used after Close")
	}
	if idx < 0 || idx >= h.capacity {
		return errors.AssertionFailedf("holder index %d out of range [0, %d)", idx, h.capacity)
	}
	return nil
}

// update runs fn and accounts for the change in the size of the vector.
func (h *Holder[T]) update(idx int, fn func()) error {
	return colexecerror.CatchVectorizedRuntimeError(func() {
		before := h.vec.Size()
		fn()
		delta := h.vec.Size() - before
		h.allocator.AdjustMemoryUsage(delta)
		h.accounted += delta
		h.populated = max(h.populated, idx+1)
	})
}

// GetItem returns the value at index idx and whether it is NULL. It panics
// with an internal error if idx is out of range or the holder is closed.
func (h *Holder[T]) GetItem(idx int) (v T, isNull bool) {
	if err := h.checkIdx(idx); err != nil {
		colexecerror.InternalError(err)
	}
	if h.vec.Nulls().NullAt(idx) {
		return v, true
	}
	return h.ops.Get(h.vec, idx), false
}

// Populated returns the number of populated slots.
func (h *Holder[T]) Populated() int {
	return h.populated
}

// Full returns whether all slots are populated.
func (h *Holder[T]) Full() bool {
	return h.populated == h.capacity
}

// SizeInBytes returns the size of the buffers of the holder.
func (h *Holder[T]) SizeInBytes() int64 {
	if h.vec == nil {
		return 0
	}
	return h.vec.Size()
}

// Close releases the memory of the holder. Close is idempotent.
func (h *Holder[T]) Close() {
	if h.vec == nil {
		return
	}
	h.allocator.ReleaseMemory(h.accounted)
	h.accounted = 0
	h.vec = nil
}

// HolderArena appends values to a growing list of holders. The index of a
// value is stable for the lifetime of the arena.
type HolderArena[T any] struct {
	allocator      *colmem.Allocator
	ops            ValueOps[T]
	holderCapacity int
	holders        []*Holder[T]
	len            int
}

// NewHolderArena returns an empty arena whose holders have room for
// holderCapacity values each.
func NewHolderArena[T any](
	allocator *colmem.Allocator, ops ValueOps[T], holderCapacity int,
) *HolderArena[T] {
	return &HolderArena[T]{allocator: allocator, ops: ops, holderCapacity: holderCapacity}
}

func (a *HolderArena[T]) tail() (*Holder[T], int, error) {
	if n := len(a.holders); n > 0 && !a.holders[n-1].Full() {
		h := a.holders[n-1]
		return h, h.Populated(), nil
	}
	h, err := NewHolder(a.allocator, a.ops, a.holderCapacity)
	if err != nil {
		return nil, 0, err
	}
	a.holders = append(a.holders, h)
	return h, 0, nil
}

// Append adds v to the arena and returns its index.
func (a *HolderArena[T]) Append(v T) (int, error) {
	if err := a.ops.Check(v); err != nil {
		return 0, err
	}
	h, idx, err := a.tail()
	if err != nil {
		return 0, err
	}
	if err := h.AddItem(v, idx); err != nil {
		return 0, err
	}
	a.len++
	return a.len - 1, nil
}

// AppendNull adds a NULL to the arena and returns its index.
func (a *HolderArena[T]) AppendNull() (int, error) {
	h, idx, err := a.tail()
	if err != nil {
		return 0, err
	}
	if err := h.AddNull(idx); err != nil {
		return 0, err
	}
	a.len++
	return a.len - 1, nil
}

// Get returns the value at index i and whether it is NULL.
func (a *HolderArena[T]) Get(i int) (T, bool) {
	return a.holders[i/a.holderCapacity].GetItem(i % a.holderCapacity)
}

// Box returns the value at index i in the form accepted by
// coldata.Vec.Set.
func (a *HolderArena[T]) Box(i int) interface{} {
	v, isNull := a.Get(i)
	if isNull {
		return nil
	}
	return a.ops.Box(v)
}

// Len returns the number of values in the arena.
func (a *HolderArena[T]) Len() int {
	return a.len
}

// NumHolders returns the number of allocated holders.
func (a *HolderArena[T]) NumHolders() int {
	return len(a.holders)
}

// SizeInBytes returns the size of all holders.
func (a *HolderArena[T]) SizeInBytes() int64 {
	var size int64
	for _, h := range a.holders {
		size += h.SizeInBytes()
	}
	return size
}

// Close releases all holders.
func (a *HolderArena[T]) Close() {
	for _, h := range a.holders {
		h.Close()
	}
	a.holders = nil
	a.len = 0
}
