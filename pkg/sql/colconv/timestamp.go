// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colconv converts vectors between representations at the boundary
// where data enters the engine.
package colconv

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

// epochBELen is the length of an encoded timestamp.
const epochBELen = 8

// TimestampFromEpochBE decodes the first n values of src, which hold
// milliseconds since the Unix epoch as 8 byte big-endian integers, into the
// timestamps of dst. NULL values stay NULL. A value of any other length is
// an error, in which case dst is only partially written.
func TimestampFromEpochBE(src, dst coldata.Vec, n int) error {
	if src.Type().Family() != coltypes.BytesFamily {
		return colexecerror.NewSchemaMismatchError(
			"convert_from TIMESTAMP_EPOCH_BE: unsupported input type %s", src.Type())
	}
	if dst.Type().Family() != coltypes.TimestampFamily {
		return colexecerror.NewSchemaMismatchError(
			"convert_from TIMESTAMP_EPOCH_BE: unsupported output type %s", dst.Type())
	}
	in, out := src.Bytes(), dst.Timestamp()
	srcNulls, dstNulls := src.Nulls(), dst.Nulls()
	hasNulls := src.MaybeHasNulls()
	for i := 0; i < n; i++ {
		if hasNulls && srcNulls.NullAt(i) {
			dstNulls.SetNull(i)
			continue
		}
		v := in.Get(i)
		if len(v) != epochBELen {
			return errors.Newf(
				"convert_from TIMESTAMP_EPOCH_BE: wrong length %d in row %d, expected %d", len(v), i, epochBELen)
		}
		dstNulls.UnsetNull(i)
		out[i] = int64(binary.BigEndian.Uint64(v))
	}
	return nil
}

// TimestampFromEpochBEOp appends to the batches of its input a timestamp
// column decoded from one of the input's bytes columns.
type TimestampFromEpochBEOp struct {
	colexecop.OneInputNode
	colexecop.InitHelper
	colexecop.CloserHelper

	allocator   *colmem.Allocator
	colIdx      int
	outputTypes []*coltypes.T

	output coldata.Batch
	vec    coldata.Vec
}

var _ colexecop.ClosableOperator = &TimestampFromEpochBEOp{}

// NewTimestampFromEpochBEOp returns an operator decoding column colIdx of an
// input with the given types.
func NewTimestampFromEpochBEOp(
	allocator *colmem.Allocator, input colexecop.Operator, inputTypes []*coltypes.T, colIdx int,
) (*TimestampFromEpochBEOp, error) {
	if colIdx < 0 || colIdx >= len(inputTypes) {
		return nil, colexecerror.NewSchemaMismatchError(
			"convert_from TIMESTAMP_EPOCH_BE: column %d out of range for %d columns", colIdx, len(inputTypes))
	}
	if inputTypes[colIdx].Family() != coltypes.BytesFamily {
		return nil, colexecerror.NewSchemaMismatchError(
			"convert_from TIMESTAMP_EPOCH_BE: unsupported input type %s", inputTypes[colIdx])
	}
	outputTypes := make([]*coltypes.T, len(inputTypes), len(inputTypes)+1)
	copy(outputTypes, inputTypes)
	return &TimestampFromEpochBEOp{
		OneInputNode: colexecop.NewOneInputNode(input),
		allocator:    allocator,
		colIdx:       colIdx,
		outputTypes:  append(outputTypes, coltypes.Timestamp),
	}, nil
}

// OutputTypes returns the schema of the batches returned by Next.
func (op *TimestampFromEpochBEOp) OutputTypes() []*coltypes.T {
	return op.outputTypes
}

// Init implements the colexecop.Operator interface.
func (op *TimestampFromEpochBEOp) Init(ctx context.Context) {
	if !op.InitHelper.Init(ctx) {
		return
	}
	op.Input.Init(op.Ctx)
}

// Next implements the colexecop.Operator interface. The returned batch
// shares the input's vectors.
func (op *TimestampFromEpochBEOp) Next() coldata.Batch {
	b := op.Input.Next()
	n := b.Length()
	if n == 0 {
		return coldata.ZeroBatch
	}
	if op.vec == nil || op.vec.Capacity() < b.Capacity() {
		if op.vec != nil {
			op.allocator.ReleaseMemory(op.vec.Size())
		}
		op.vec = op.allocator.NewMemColumn(coltypes.Timestamp, b.Capacity())
		op.output = coldata.NewMemBatchNoCols(op.outputTypes, b.Capacity())
	}
	for i, vec := range b.ColVecs() {
		op.output.ReplaceCol(vec, i)
	}
	op.output.ReplaceCol(op.vec, len(op.outputTypes)-1)
	op.vec.Nulls().UnsetNulls()
	if err := TimestampFromEpochBE(b.ColVec(op.colIdx), op.vec, n); err != nil {
		colexecerror.ExpectedError(err)
	}
	op.output.SetLength(n)
	return op.output
}

// Close implements the colexecop.Closer interface.
func (op *TimestampFromEpochBEOp) Close(ctx context.Context) error {
	if !op.CloserHelper.Close() {
		return nil
	}
	if op.vec != nil {
		op.allocator.ReleaseMemory(op.vec.Size())
		op.vec = nil
	}
	if c, ok := op.Input.(colexecop.Closer); ok {
		return c.Close(ctx)
	}
	return nil
}
