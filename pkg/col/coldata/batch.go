// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package coldata

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
)

// Batch is the type that columnar operators receive and produce. It
// represents a set of column vectors (partial data columns) as well as
// metadata about a batch, like its length.
type Batch interface {
	// Length returns the number of values in the columns in the batch.
	Length() int
	// SetLength sets the number of values in the columns in the batch.
	SetLength(int)
	// Capacity returns the maximum number of values that can be stored in the
	// columns in the batch.
	Capacity() int
	// Width returns the number of columns in the batch.
	Width() int
	// ColVec returns the ith Vec in this batch.
	ColVec(i int) Vec
	// ColVecs returns all of the underlying Vecs in this batch.
	ColVecs() []Vec
	// ReplaceCol replaces the current Vec at the provided index with the
	// provided Vec. The original and the replacement vectors must be of the
	// same type.
	ReplaceCol(Vec, int)
	// AppendRow appends a row of boxed values (nil for NULL) at the end of the
	// batch. It panics if the batch is full.
	AppendRow(vals ...interface{})
	// Slice returns a read-only window over the rows [start, start+n). The
	// window shares memory with the receiver.
	Slice(start, n int) Batch
	// CopyRow copies the row at srcIdx into dst at dstIdx. dst must have the
	// same schema and enough capacity; its length is not modified.
	CopyRow(dst Batch, srcIdx, dstIdx int)
	// Reset resets the batch so that it can be reused for writing. The
	// length is set to 0.
	Reset()
	// String returns a pretty representation of this batch.
	String() string
}

// defaultBatchSize is the size of batches that is used in the non-test
// setting.
const defaultBatchSize = 4096

// MaxBatchSize is the maximum capacity that a batch can have.
const MaxBatchSize = 65535

// BatchSize is the maximum number of tuples that fit in a column batch
// unless a larger capacity is configured.
func BatchSize() int {
	return defaultBatchSize
}

// NewMemBatch allocates a new in-memory Batch with the default capacity.
func NewMemBatch(typs []*coltypes.T) Batch {
	return NewMemBatchWithCapacity(typs, BatchSize())
}

// NewMemBatchWithCapacity allocates a new in-memory Batch with the given
// column size. Use for operators that have a precisely-sized output batch.
func NewMemBatchWithCapacity(typs []*coltypes.T, capacity int) Batch {
	if capacity < 0 || capacity > MaxBatchSize {
		panic(errors.AssertionFailedf("batch capacity %d out of range [0, %d]", capacity, MaxBatchSize))
	}
	b := NewMemBatchNoCols(typs, capacity).(*MemBatch)
	for i, t := range typs {
		b.b[i] = NewMemColumn(t, capacity)
	}
	return b
}

// NewMemBatchNoCols creates a "skeleton" of new in-memory Batch. It allocates
// memory for the vectors but does *not* allocate any memory for the
// underlying columns. Vectors are added with ReplaceCol.
func NewMemBatchNoCols(typs []*coltypes.T, capacity int) Batch {
	return &MemBatch{
		b:        make([]Vec, len(typs)),
		capacity: capacity,
	}
}

// ZeroBatch is a schema-less Batch of length 0.
var ZeroBatch = &zeroBatch{
	MemBatch: &MemBatch{b: make([]Vec, 0)},
}

// zeroBatch is a wrapper around MemBatch that prohibits modifications of the
// batch.
type zeroBatch struct {
	*MemBatch
}

var _ Batch = &zeroBatch{}

func (b *zeroBatch) SetLength(int) {
	panic(errors.AssertionFailedf("length should not be changed on zero batch"))
}

func (b *zeroBatch) AppendRow(...interface{}) {
	panic(errors.AssertionFailedf("zero batch should not be modified"))
}

func (b *zeroBatch) ReplaceCol(Vec, int) {
	panic(errors.AssertionFailedf("zero batch should not be modified"))
}

func (b *zeroBatch) Reset() {}

// MemBatch is an in-memory implementation of Batch.
type MemBatch struct {
	// length is the length of batch or sel in tuples.
	length int
	// capacity is the maximum number of tuples that can be stored in this
	// MemBatch.
	capacity int
	// b is the slice of columns in this batch.
	b []Vec
}

var _ Batch = &MemBatch{}

// Length implements the Batch interface.
func (m *MemBatch) Length() int {
	return m.length
}

// SetLength implements the Batch interface.
func (m *MemBatch) SetLength(length int) {
	if length > m.capacity {
		panic(errors.AssertionFailedf("length %d exceeds capacity %d", length, m.capacity))
	}
	m.length = length
}

// Capacity implements the Batch interface.
func (m *MemBatch) Capacity() int {
	return m.capacity
}

// Width implements the Batch interface.
func (m *MemBatch) Width() int {
	return len(m.b)
}

// ColVec implements the Batch interface.
func (m *MemBatch) ColVec(i int) Vec {
	return m.b[i]
}

// ColVecs implements the Batch interface.
func (m *MemBatch) ColVecs() []Vec {
	return m.b
}

// ReplaceCol implements the Batch interface.
func (m *MemBatch) ReplaceCol(col Vec, colIdx int) {
	m.b[colIdx] = col
}

// AppendRow implements the Batch interface.
func (m *MemBatch) AppendRow(vals ...interface{}) {
	if len(vals) != len(m.b) {
		panic(errors.AssertionFailedf("row has %d values, batch has %d columns", len(vals), len(m.b)))
	}
	if m.length >= m.capacity {
		panic(errors.AssertionFailedf("batch is full (capacity %d)", m.capacity))
	}
	for i, v := range vals {
		m.b[i].Set(m.length, v)
	}
	m.length++
}

// Slice implements the Batch interface.
func (m *MemBatch) Slice(start, n int) Batch {
	if start < 0 || n < 0 || start+n > m.length {
		panic(errors.AssertionFailedf("invalid slice [%d, %d) of batch with length %d", start, start+n, m.length))
	}
	w := &MemBatch{length: n, capacity: n, b: make([]Vec, len(m.b))}
	for i, v := range m.b {
		w.b[i] = v.Window(start, start+n)
	}
	return w
}

// CopyRow implements the Batch interface.
func (m *MemBatch) CopyRow(dst Batch, srcIdx, dstIdx int) {
	if dst.Width() != len(m.b) {
		panic(errors.AssertionFailedf("cannot copy a row of width %d into width %d", len(m.b), dst.Width()))
	}
	for i, v := range m.b {
		dst.ColVec(i).Copy(CopyArgs{
			Src:         v,
			DestIdx:     dstIdx,
			SrcStartIdx: srcIdx,
			SrcEndIdx:   srcIdx + 1,
		})
	}
}

// Reset implements the Batch interface.
func (m *MemBatch) Reset() {
	for _, v := range m.b {
		v.Reset()
	}
	m.length = 0
}

// String implements the Batch interface.
func (m *MemBatch) String() string {
	if m.length == 0 {
		return "[zero-length batch]"
	}
	var builder strings.Builder
	for i := 0; i < m.length; i++ {
		builder.WriteByte('[')
		for j, v := range m.b {
			if j > 0 {
				builder.WriteByte(' ')
			}
			builder.WriteString(ValueString(v, i))
		}
		builder.WriteString("]\n")
	}
	return builder.String()
}

// Types returns the types of the columns of a batch.
func Types(b Batch) []*coltypes.T {
	typs := make([]*coltypes.T, b.Width())
	for i, v := range b.ColVecs() {
		typs[i] = v.Type()
	}
	return typs
}

// Truncate sets the length of b to n, dropping the rows from n on so that
// they can be written again. The memory of the dropped rows is kept.
func Truncate(b Batch, n int) {
	for _, v := range b.ColVecs() {
		switch v.Type().Family() {
		case coltypes.BytesFamily:
			v.Bytes().truncate(n)
		case coltypes.ListFamily:
			v.List().truncate(n)
		}
	}
	b.SetLength(n)
}

// Rows returns the boxed values of the first Length() rows of the batch. It
// is used by tests and debugging tools.
func Rows(b Batch) [][]interface{} {
	rows := make([][]interface{}, b.Length())
	for i := range rows {
		row := make([]interface{}, b.Width())
		for j, v := range b.ColVecs() {
			row[j] = v.Get(i)
		}
		rows[i] = row
	}
	return rows
}
