// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colexec contains vectorized operators built on the hash table and
// the accumulators of its subpackages.
package colexec

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecagg"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexechash"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
)

// HashAggregatorArgs are the arguments to NewHashAggregator.
type HashAggregatorArgs struct {
	// Allocator accounts for the groups and the aggregate state.
	Allocator  *colmem.Allocator
	InputTypes []*coltypes.T
	// GroupCols are the grouping columns. NULL keys form their own group.
	GroupCols    []int
	Aggregations []colexecagg.AggregateSpec
	// MaxBatchRows is the capacity of the output batches and of the holders
	// of array aggregates. Zero means coldata.BatchSize().
	MaxBatchRows int
	// MaxFieldSizeBytes bounds the bytes values collected by ARRAY_AGG.
	MaxFieldSizeBytes int
}

type hashAggregatorState int

const (
	// haAggregating is the state in which the input is consumed and the
	// groups are updated.
	haAggregating hashAggregatorState = iota
	// haOutputting is the state in which the groups are emitted.
	haOutputting
	haDone
)

// HashAggregator groups its input by the grouping columns and computes the
// aggregates of every group. It consumes its whole input before emitting
// anything. Every output row holds the grouping columns followed by the
// aggregates, and groups are emitted in the order in which they first
// appeared in the input.
//
// Groups are the rows of a single partition hash table that stores only the
// grouping columns, so that the keyID of the first row of a group is one
// more than the group index.
type HashAggregator struct {
	colexecop.OneInputNode
	colexecop.InitHelper
	colexecop.CloserHelper

	allocator    *colmem.Allocator
	groupCols    []int
	groupTypes   []*coltypes.T
	keyCols      []int
	outputTypes  []*coltypes.T
	maxBatchRows int

	ht    *colexechash.HashTable
	funcs []colexecagg.AggregateFunc

	state hashAggregatorState
	// keys is a batch without its own vectors that projects the grouping
	// columns of the current input batch.
	keys      coldata.Batch
	groups    []int
	oneRow    []int
	numGroups int

	output      coldata.Batch
	outputGroup int
}

var _ colexecop.ClosableOperator = &HashAggregator{}

// NewHashAggregator returns a hash aggregator over input.
func NewHashAggregator(input colexecop.Operator, args HashAggregatorArgs) (*HashAggregator, error) {
	if len(args.GroupCols) == 0 {
		return nil, errors.New("hash aggregator needs at least one grouping column")
	}
	maxBatchRows := args.MaxBatchRows
	if maxBatchRows <= 0 {
		maxBatchRows = coldata.BatchSize()
	}
	op := &HashAggregator{
		OneInputNode: colexecop.NewOneInputNode(input),
		allocator:    args.Allocator,
		groupCols:    args.GroupCols,
		maxBatchRows: maxBatchRows,
		oneRow:       make([]int, 1),
	}
	for i, colIdx := range args.GroupCols {
		if colIdx < 0 || colIdx >= len(args.InputTypes) {
			return nil, colexecerror.NewSchemaMismatchError(
				"hash aggregator: grouping column %d out of range for %d columns", colIdx, len(args.InputTypes))
		}
		op.groupTypes = append(op.groupTypes, args.InputTypes[colIdx])
		op.keyCols = append(op.keyCols, i)
	}
	ht, err := colexechash.NewHashTable(colexechash.HashTableArgs{
		Allocator:         args.Allocator,
		Types:             op.groupTypes,
		KeyCols:           op.keyCols,
		NumPartitions:     1,
		AllowNullEquality: true,
		BatchSize:         maxBatchRows,
	})
	if err != nil {
		return nil, errors.Wrap(err, "hash aggregator")
	}
	op.ht = ht
	op.outputTypes = append(op.outputTypes, op.groupTypes...)
	for _, spec := range args.Aggregations {
		f, err := colexecagg.NewAggregateFunc(
			args.Allocator, args.InputTypes, spec, maxBatchRows, args.MaxFieldSizeBytes)
		if err != nil {
			op.closeFuncs()
			return nil, err
		}
		op.funcs = append(op.funcs, f)
		op.outputTypes = append(op.outputTypes, f.OutputType())
	}
	return op, nil
}

// OutputTypes returns the schema of the batches returned by Next.
func (op *HashAggregator) OutputTypes() []*coltypes.T {
	return op.outputTypes
}

// NumGroups returns the number of groups seen so far.
func (op *HashAggregator) NumGroups() int {
	return op.numGroups
}

// Init implements the colexecop.Operator interface.
func (op *HashAggregator) Init(ctx context.Context) {
	if !op.InitHelper.Init(ctx) {
		return
	}
	op.Input.Init(op.Ctx)
}

// Next implements the colexecop.Operator interface.
func (op *HashAggregator) Next() coldata.Batch {
	for {
		switch op.state {
		case haAggregating:
			b := op.Input.Next()
			if b.Length() == 0 {
				log.VEventf(op.Ctx, 1, "hash aggregator: %d groups", op.numGroups)
				op.state = haOutputting
				continue
			}
			op.onlineAgg(b)
		case haOutputting:
			if op.outputGroup >= op.numGroups {
				op.state = haDone
				continue
			}
			return op.flush()
		case haDone:
			return coldata.ZeroBatch
		default:
			colexecerror.InternalError(errors.AssertionFailedf("unexpected hash aggregator state %d", op.state))
		}
	}
}

// onlineAgg assigns every row of b to its group, creating the new groups,
// and updates the aggregates.
func (op *HashAggregator) onlineAgg(b coldata.Batch) {
	n := b.Length()
	if op.keys == nil || op.keys.Capacity() < n {
		op.keys = coldata.NewMemBatchNoCols(op.groupTypes, n)
	}
	for i, colIdx := range op.groupCols {
		op.keys.ReplaceCol(b.ColVec(colIdx), i)
	}
	op.keys.SetLength(n)
	keyVecs := op.keys.ColVecs()
	if cap(op.groups) < n {
		op.groups = make([]int, n)
	}
	groups := op.groups[:n]

	// With a single partition, all rows are routed to partition 0 in order.
	for _, row := range op.ht.Route(op.keys, op.keyCols)[0] {
		keyID := op.ht.FirstMatch(0, op.ht.Hash(row), keyVecs, row)
		if keyID == 0 {
			op.oneRow[0] = row
			op.ht.InsertRows(0, op.keys, op.oneRow)
			op.numGroups++
			keyID = uint32(op.numGroups)
		}
		groups[row] = int(keyID) - 1
	}
	for _, f := range op.funcs {
		if err := f.Compute(b.ColVecs(), groups, n, op.numGroups); err != nil {
			colexecerror.ExpectedError(err)
		}
	}
}

// flush emits the groups stored in the next batch of the hash table. All
// stored batches but the last are full, so the groups of the ith batch are
// [i*maxBatchRows, (i+1)*maxBatchRows).
func (op *HashAggregator) flush() coldata.Batch {
	stored := op.ht.Partition(0).Batches()[op.outputGroup/op.maxBatchRows]
	n := stored.Length()
	op.output, _ = op.allocator.ResetMaybeReallocate(op.outputTypes, op.output, op.maxBatchRows)
	op.allocator.PerformOperation(op.output.ColVecs(), func() {
		for i := range op.groupTypes {
			op.output.ColVec(i).Copy(coldata.CopyArgs{
				Src:         stored.ColVec(i),
				SrcStartIdx: 0,
				SrcEndIdx:   n,
			})
		}
		for j, f := range op.funcs {
			out := op.output.ColVec(len(op.groupTypes) + j)
			for i := 0; i < n; i++ {
				f.Flush(op.outputGroup+i, out, i)
			}
		}
		op.output.SetLength(n)
	})
	op.outputGroup += n
	return op.output
}

func (op *HashAggregator) closeFuncs() {
	for _, f := range op.funcs {
		f.Close()
	}
	op.funcs = nil
}

// Close implements the colexecop.Closer interface. It releases all memory of
// the aggregator and closes the input if it is a Closer.
func (op *HashAggregator) Close(ctx context.Context) error {
	if !op.CloserHelper.Close() {
		return nil
	}
	op.closeFuncs()
	op.ht.Release()
	if op.output != nil {
		op.allocator.ReleaseBatch(op.output)
		op.output = nil
	}
	op.state = haDone
	if c, ok := op.Input.(colexecop.Closer); ok {
		return c.Close(ctx)
	}
	return nil
}
