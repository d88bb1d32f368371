// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecop

import (
	"context"

	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

// BatchesSource is an Operator that returns the given batches in order and
// then zero-length batches.
type BatchesSource struct {
	ZeroInputNode
	InitHelper
	batches []coldata.Batch
	idx     int
}

var _ Operator = &BatchesSource{}

// NewBatchesSource returns a new BatchesSource.
func NewBatchesSource(batches ...coldata.Batch) *BatchesSource {
	return &BatchesSource{batches: batches}
}

// Init implements the Operator interface.
func (s *BatchesSource) Init(ctx context.Context) {
	s.InitHelper.Init(ctx)
}

// Next implements the Operator interface.
func (s *BatchesSource) Next() coldata.Batch {
	for s.idx < len(s.batches) {
		b := s.batches[s.idx]
		s.idx++
		if b.Length() > 0 {
			return b
		}
	}
	return coldata.ZeroBatch
}

// RowsSource is an Operator producing batches of at most batchSize rows
// from boxed rows. The output batch is reused between calls to Next.
type RowsSource struct {
	ZeroInputNode
	InitHelper
	allocator *colmem.Allocator
	typs      []*coltypes.T
	rows      [][]interface{}
	batchSize int
	batch     coldata.Batch
	idx       int
}

var _ Operator = &RowsSource{}

// NewRowsSource returns a new RowsSource.
func NewRowsSource(
	allocator *colmem.Allocator, typs []*coltypes.T, rows [][]interface{}, batchSize int,
) *RowsSource {
	return &RowsSource{allocator: allocator, typs: typs, rows: rows, batchSize: batchSize}
}

// Init implements the Operator interface.
func (s *RowsSource) Init(ctx context.Context) {
	if !s.InitHelper.Init(ctx) {
		return
	}
	s.batch = s.allocator.NewMemBatchWithFixedCapacity(s.typs, s.batchSize)
}

// Next implements the Operator interface.
func (s *RowsSource) Next() coldata.Batch {
	if s.idx >= len(s.rows) {
		return coldata.ZeroBatch
	}
	end := s.idx + s.batchSize
	if end > len(s.rows) {
		end = len(s.rows)
	}
	s.allocator.PerformOperation(s.batch.ColVecs(), func() {
		s.batch.Reset()
		for _, row := range s.rows[s.idx:end] {
			s.batch.AppendRow(row...)
		}
	})
	s.idx = end
	return s.batch
}

// FuncSource is an Operator calling a function for every batch. The
// function returns a zero-length batch once it is exhausted.
type FuncSource struct {
	ZeroInputNode
	InitHelper
	next func(ctx context.Context) coldata.Batch
}

var _ Operator = &FuncSource{}

// NewFuncSource returns a new FuncSource.
func NewFuncSource(next func(ctx context.Context) coldata.Batch) *FuncSource {
	return &FuncSource{next: next}
}

// Init implements the Operator interface.
func (s *FuncSource) Init(ctx context.Context) {
	s.InitHelper.Init(ctx)
}

// Next implements the Operator interface.
func (s *FuncSource) Next() coldata.Batch {
	return s.next(s.Ctx)
}
