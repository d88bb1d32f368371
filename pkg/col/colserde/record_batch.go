// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colserde

import (
	"bytes"
	"io"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/ipc"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

// RecordBatchSerializer serializes batches of a single schema as Arrow IPC
// streams holding one record each, and deserializes them back.
type RecordBatchSerializer struct {
	schema coltypes.Schema
	conv   *ArrowBatchConverter
}

// NewRecordBatchSerializer creates a serializer for batches of the given
// schema.
func NewRecordBatchSerializer(schema coltypes.Schema) (*RecordBatchSerializer, error) {
	conv, err := NewArrowBatchConverter(schema)
	if err != nil {
		return nil, err
	}
	return &RecordBatchSerializer{schema: schema, conv: conv}, nil
}

// Schema returns the schema the serializer was created with.
func (s *RecordBatchSerializer) Schema() coltypes.Schema {
	return s.schema
}

// Serialize writes the first Length() rows of batch to w. Arrow buffers are
// allocated from mem and released before returning.
func (s *RecordBatchSerializer) Serialize(
	w io.Writer, mem memory.Allocator, batch coldata.Batch,
) error {
	rec, err := s.conv.BatchToArrow(mem, batch)
	if err != nil {
		return err
	}
	defer rec.Release()
	iw := ipc.NewWriter(w, ipc.WithSchema(s.conv.Schema()), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		_ = iw.Close()
		return errors.Wrap(err, "writing arrow record")
	}
	return errors.Wrap(iw.Close(), "closing arrow stream")
}

// Deserialize decodes buf into dst, which must have the serializer's schema
// and enough capacity. If dst is nil, a batch is allocated with allocator.
// The memory of the resulting batch is accounted by allocator. A stream
// without records yields a zero-length batch.
func (s *RecordBatchSerializer) Deserialize(
	buf []byte, allocator *colmem.Allocator, dst coldata.Batch,
) (coldata.Batch, error) {
	mem := allocator.ArrowAllocator()
	defer mem.Close()
	// Errors from the arrow reader may hide a budget error.
	readErr := func(err error, msg string) error {
		if memErr := mem.Err(); memErr != nil {
			return memErr
		}
		return errors.Wrap(err, msg)
	}
	r, err := ipc.NewReader(bytes.NewReader(buf), ipc.WithAllocator(mem))
	if err != nil {
		return nil, readErr(err, "reading arrow stream")
	}
	defer r.Release()
	if err := s.checkSchema(r.Schema()); err != nil {
		return nil, err
	}
	typs := s.schema.Types()
	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, readErr(err, "reading arrow record")
		}
		if dst == nil {
			dst = allocator.NewMemBatchWithFixedCapacity(typs, 1)
		}
		dst.Reset()
		return dst, nil
	}
	rec := r.Record()
	n := int(rec.NumRows())
	if dst == nil || dst.Capacity() < n {
		dst, _ = allocator.ResetMaybeReallocate(typs, dst, max(n, 1))
	}
	var convErr error
	allocator.PerformOperation(dst.ColVecs(), func() {
		convErr = s.conv.ArrowToBatch(rec, dst)
	})
	if convErr != nil {
		return nil, convErr
	}
	if r.Next() {
		return nil, errors.AssertionFailedf("arrow stream holds more than one record")
	}
	if err := r.Err(); err != nil {
		return nil, readErr(err, "reading arrow stream")
	}
	return dst, nil
}

func (s *RecordBatchSerializer) checkSchema(got *arrow.Schema) error {
	want := s.conv.Schema()
	if len(got.Fields()) != len(want.Fields()) {
		return colexecerror.NewSchemaMismatchError(
			"expected %d columns, found %d", len(want.Fields()), len(got.Fields()))
	}
	for i := range want.Fields() {
		if !arrow.TypeEqual(got.Field(i).Type, want.Field(i).Type) {
			return colexecerror.NewSchemaMismatchError(
				"column %d: expected %s, found %s", i, want.Field(i).Type, got.Field(i).Type)
		}
	}
	return nil
}

// Serialize encodes the batch in the Arrow IPC stream format. The schema is
// derived from the types of the batch.
func Serialize(batch coldata.Batch) (_ []byte, retErr error) {
	s, err := NewRecordBatchSerializer(coltypes.MakeSchema(coldata.Types(batch)...))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := colexecerror.CatchVectorizedRuntimeError(func() {
		retErr = s.Serialize(&buf, memory.NewGoAllocator(), batch)
	}); err != nil {
		return nil, err
	}
	if retErr != nil {
		return nil, retErr
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a buffer produced by Serialize into a new batch with
// the given schema allocated by allocator. It returns an error marked as
// colexecerror.ErrSchemaMismatch if the buffer holds different column types
// and colexecerror.ErrOutOfMemory if the allocator's budget is exceeded.
func Deserialize(
	buf []byte, schema coltypes.Schema, allocator *colmem.Allocator,
) (b coldata.Batch, retErr error) {
	s, err := NewRecordBatchSerializer(schema)
	if err != nil {
		return nil, err
	}
	if err := colexecerror.CatchVectorizedRuntimeError(func() {
		b, retErr = s.Deserialize(buf, allocator, nil)
	}); err != nil {
		return nil, err
	}
	return b, retErr
}
