// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colserde converts batches to and from Arrow records and their
// serialized representation.
package colserde

import (
	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/col/typeconv"
)

// ArrowBatchConverter converts batches to arrow records and back. The
// converter is only valid for the schema it was created with.
type ArrowBatchConverter struct {
	typs   []*coltypes.T
	schema *arrow.Schema
}

// NewArrowBatchConverter converts coldata.Batches to arrow records and back.
func NewArrowBatchConverter(schema coltypes.Schema) (*ArrowBatchConverter, error) {
	arrowSchema, err := typeconv.ToArrowSchema(schema)
	if err != nil {
		return nil, err
	}
	return &ArrowBatchConverter{typs: schema.Types(), schema: arrowSchema}, nil
}

// Schema returns the Arrow schema of the records produced by the converter.
func (c *ArrowBatchConverter) Schema() *arrow.Schema {
	return c.schema
}

// BatchToArrow converts the first Length() rows of batch to an arrow
// record. The values are copied into Arrow buffers allocated from mem, so
// batch may be reused once BatchToArrow returns. The caller must release the
// returned record.
func (c *ArrowBatchConverter) BatchToArrow(
	mem memory.Allocator, batch coldata.Batch,
) (_ arrow.Record, retErr error) {
	if batch.Width() != len(c.typs) {
		return nil, errors.AssertionFailedf("mismatched batch width and schema length: %d vs %d",
			batch.Width(), len(c.typs))
	}
	n := batch.Length()
	cols := make([]arrow.Array, 0, len(c.typs))
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()
	for i, t := range c.typs {
		vec := batch.ColVec(i)
		if !vec.Type().Identical(t) {
			return nil, errors.AssertionFailedf("column %d has type %s, expected %s", i, vec.Type(), t)
		}
		b := array.NewBuilder(mem, c.schema.Field(i).Type)
		appendValues(b, vec, 0, n)
		cols = append(cols, b.NewArray())
		b.Release()
	}
	// The record retains the columns, the deferred release drops our
	// references.
	return array.NewRecord(c.schema, cols, int64(n)), nil
}

// appendValues appends vec[start:end] to the builder b, which must be of the
// Arrow type corresponding to vec.
func appendValues(b array.Builder, vec coldata.Vec, start, end int) {
	nulls := vec.Nulls()
	hasNulls := vec.MaybeHasNulls()
	switch vec.Type().Family() {
	case coltypes.BoolFamily:
		bb := b.(*array.BooleanBuilder)
		col := vec.Bool()
		for i := start; i < end; i++ {
			if hasNulls && nulls.NullAt(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(col[i])
		}
	case coltypes.Int32Family:
		bb := b.(*array.Int32Builder)
		col := vec.Int32()
		if !hasNulls {
			bb.AppendValues(col[start:end], nil)
			return
		}
		for i := start; i < end; i++ {
			if nulls.NullAt(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(col[i])
		}
	case coltypes.Int64Family:
		bb := b.(*array.Int64Builder)
		col := vec.Int64()
		if !hasNulls {
			bb.AppendValues(col[start:end], nil)
			return
		}
		for i := start; i < end; i++ {
			if nulls.NullAt(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(col[i])
		}
	case coltypes.Float64Family:
		bb := b.(*array.Float64Builder)
		col := vec.Float64()
		if !hasNulls {
			bb.AppendValues(col[start:end], nil)
			return
		}
		for i := start; i < end; i++ {
			if nulls.NullAt(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(col[i])
		}
	case coltypes.TimestampFamily:
		bb := b.(*array.TimestampBuilder)
		col := vec.Timestamp()
		for i := start; i < end; i++ {
			if hasNulls && nulls.NullAt(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(arrow.Timestamp(col[i]))
		}
	case coltypes.BytesFamily:
		bb := b.(*array.BinaryBuilder)
		col := vec.Bytes()
		for i := start; i < end; i++ {
			if hasNulls && nulls.NullAt(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(col.Get(i))
		}
	case coltypes.DecimalFamily:
		bb := b.(*array.BinaryBuilder)
		col := vec.Decimal()
		for i := start; i < end; i++ {
			if hasNulls && nulls.NullAt(i) {
				bb.AppendNull()
				continue
			}
			bb.AppendString(col[i].String())
		}
	case coltypes.ListFamily:
		lb := b.(*array.ListBuilder)
		col := vec.List()
		for i := start; i < end; i++ {
			if hasNulls && nulls.NullAt(i) {
				lb.AppendNull()
				continue
			}
			lb.Append(true)
			childStart, childEnd := col.Bounds(i)
			appendValues(lb.ValueBuilder(), col.Child(), childStart, childEnd)
		}
	default:
		panic(errors.AssertionFailedf("unhandled type %s", vec.Type()))
	}
}

// ArrowToBatch converts an arrow record into b. b must have the schema the
// converter was created with and enough capacity for all rows of the
// record. The values are copied, so the record can be released afterwards.
func (c *ArrowBatchConverter) ArrowToBatch(rec arrow.Record, b coldata.Batch) error {
	if int(rec.NumCols()) != len(c.typs) {
		return errors.AssertionFailedf("mismatched record and schema length: %d vs %d",
			rec.NumCols(), len(c.typs))
	}
	n := int(rec.NumRows())
	if n > b.Capacity() {
		return errors.AssertionFailedf("record with %d rows does not fit a batch of capacity %d",
			n, b.Capacity())
	}
	b.Reset()
	for i := range c.typs {
		if err := arrowToVec(rec.Column(i), 0, n, b.ColVec(i)); err != nil {
			return errors.Wrapf(err, "column %d", i)
		}
	}
	b.SetLength(n)
	return nil
}

// arrowToVec copies n values of arr, starting at index start, into vec
// starting at index 0.
func arrowToVec(arr arrow.Array, start, n int, vec coldata.Vec) error {
	nulls := vec.Nulls()
	switch vec.Type().Family() {
	case coltypes.BoolFamily:
		a := arr.(*array.Boolean)
		col := vec.Bool()
		for i := 0; i < n; i++ {
			col[i] = a.Value(start + i)
		}
	case coltypes.Int32Family:
		copy(vec.Int32(), arr.(*array.Int32).Int32Values()[start:start+n])
	case coltypes.Int64Family:
		copy(vec.Int64(), arr.(*array.Int64).Int64Values()[start:start+n])
	case coltypes.Float64Family:
		copy(vec.Float64(), arr.(*array.Float64).Float64Values()[start:start+n])
	case coltypes.TimestampFamily:
		vals := arr.(*array.Timestamp).TimestampValues()
		col := vec.Timestamp()
		for i := 0; i < n; i++ {
			col[i] = int64(vals[start+i])
		}
	case coltypes.BytesFamily:
		a := arr.(*array.Binary)
		col := vec.Bytes()
		for i := 0; i < n; i++ {
			if a.IsNull(start + i) {
				col.Set(i, nil)
				continue
			}
			col.Set(i, a.Value(start+i))
		}
	case coltypes.DecimalFamily:
		a := arr.(*array.Binary)
		col := vec.Decimal()
		for i := 0; i < n; i++ {
			if a.IsNull(start + i) {
				continue
			}
			if _, _, err := col[i].SetString(string(a.Value(start + i))); err != nil {
				return errors.Wrap(err, "decoding decimal")
			}
		}
	case coltypes.ListFamily:
		a := arr.(*array.List)
		offsets := a.Offsets()[a.Data().Offset()+start:]
		child := vec.List().ResetFromOffsets(offsets, n)
		if err := arrowToVec(a.ListValues(), int(offsets[0]), int(offsets[n]-offsets[0]), child); err != nil {
			return err
		}
	default:
		return errors.AssertionFailedf("unhandled type %s", vec.Type())
	}
	if arr.NullN() > 0 {
		for i := 0; i < n; i++ {
			if arr.IsNull(start + i) {
				nulls.SetNull(i)
			}
		}
	}
	return nil
}

