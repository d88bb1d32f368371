// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecjoin

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
)

// HashJoinOp is an Operator that joins its two inputs with a
// SpillingHashJoiner, pulling the whole build input before the probe input.
type HashJoinOp struct {
	colexecop.TwoInputInitHelper
	colexecop.CloserHelper

	hj *SpillingHashJoiner
}

var _ colexecop.ClosableOperator = &HashJoinOp{}

// NewHashJoinOp returns a hash join over the build and probe inputs.
func NewHashJoinOp(build, probe colexecop.Operator, args HashJoinerArgs) *HashJoinOp {
	return &HashJoinOp{
		TwoInputInitHelper: colexecop.MakeTwoInputInitHelper(build, probe),
		hj:                 NewSpillingHashJoiner(args),
	}
}

// OutputTypes returns the schema of the batches returned by Next.
func (op *HashJoinOp) OutputTypes() []*coltypes.T {
	return op.hj.spec.OutputTypes()
}

// Stats returns the statistics of the underlying joiner.
func (op *HashJoinOp) Stats() Stats {
	return op.hj.Stats()
}

// Init implements the colexecop.Operator interface.
func (op *HashJoinOp) Init(ctx context.Context) {
	if !op.TwoInputInitHelper.Init(ctx) {
		return
	}
	if err := op.hj.Setup(op.Ctx); err != nil {
		colexecerror.ExpectedError(err)
	}
}

// Next implements the colexecop.Operator interface.
func (op *HashJoinOp) Next() coldata.Batch {
	ctx := op.Ctx
	for {
		var err error
		switch state := op.hj.State(); state {
		case colexecop.CanConsumeBuild:
			if b := op.InputOne.Next(); b.Length() == 0 {
				err = op.hj.NoMoreBuild(ctx)
			} else {
				err = op.hj.ConsumeBuild(ctx, b)
			}
		case colexecop.CanConsumeProbe:
			if b := op.InputTwo.Next(); b.Length() == 0 {
				err = op.hj.NoMoreProbe(ctx)
			} else {
				err = op.hj.ConsumeProbe(ctx, b)
			}
		case colexecop.CanProduce:
			var b coldata.Batch
			b, err = op.hj.Output(ctx)
			if err == nil && b.Length() > 0 {
				return b
			}
		case colexecop.Done:
			return coldata.ZeroBatch
		default:
			err = errors.AssertionFailedf("hash joiner in unexpected state %s", state)
		}
		if err != nil {
			colexecerror.ExpectedError(err)
		}
	}
}

// Close implements the colexecop.Closer interface. It closes the joiner and
// the inputs that are Closers.
func (op *HashJoinOp) Close(ctx context.Context) error {
	if !op.CloserHelper.Close() {
		return nil
	}
	err := op.hj.Close(ctx)
	for _, input := range []colexecop.Operator{op.InputOne, op.InputTwo} {
		if c, ok := input.(colexecop.Closer); ok {
			err = errors.CombineErrors(err, c.Close(ctx))
		}
	}
	return err
}
