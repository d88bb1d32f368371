// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colexecop defines the interfaces shared by vectorized operators.
package colexecop

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
)

// Operator is a column vector operator that produces a Batch as output.
type Operator interface {
	// Init initializes this operator. It will be called once at operator
	// setup time. Every operator must call Init on its input(s).
	//
	// Calling this method multiple times should have the same effect as
	// calling it only once.
	Init(ctx context.Context)

	// Next returns the next Batch from this operator. Once the operator is
	// finished, it will return a Batch with length 0. Subsequent calls to
	// Next at that point will always return a Batch with length 0.
	//
	// Calling Next may invalidate the contents of the last Batch returned by
	// Next.
	//
	// Errors are propagated as panics through colexecerror and must be
	// caught with colexecerror.CatchVectorizedRuntimeError, which NextBatch
	// does.
	Next() coldata.Batch
}

// Closer is an object that releases resources when Close is called. Note
// that this interface must be implemented by all operators that could spill
// to disk.
type Closer interface {
	// Close releases the resources associated with this Closer. Close must be
	// safe to call even if Init was never called.
	Close(ctx context.Context) error
}

// ClosableOperator is an Operator that needs to be Close()'d.
type ClosableOperator interface {
	Operator
	Closer
}

// InitHelper is a simple struct that helps Operators implement Init
// functionality.
type InitHelper struct {
	// Ctx is the context passed on the first call to Init(). If it is nil,
	// then Init() hasn't been called yet.
	Ctx context.Context
}

// Init does the necessary initialization of the helper. It returns true if
// this is the first call to Init, in which case the operator should perform
// its own initialization.
func (h *InitHelper) Init(ctx context.Context) bool {
	if h.Ctx != nil {
		return false
	}
	if ctx == nil {
		colexecerror.InternalError(errors.AssertionFailedf("nil context is passed"))
	}
	h.Ctx = ctx
	return true
}

// EnsureCtx returns the context which this helper was initialized with or
// context.Background() if Init wasn't called.
func (h *InitHelper) EnsureCtx() context.Context {
	if h.Ctx == nil {
		return context.Background()
	}
	return h.Ctx
}

// ZeroInputNode is an embeddable struct for operators without inputs.
type ZeroInputNode struct{}

// OneInputNode is an embeddable struct for operators with a single input.
type OneInputNode struct {
	Input Operator
}

// NewOneInputNode returns an OneInputNode with the given input.
func NewOneInputNode(input Operator) OneInputNode {
	return OneInputNode{Input: input}
}

// TwoInputInitHelper helps operators with two inputs implement Init.
type TwoInputInitHelper struct {
	InitHelper
	InputOne Operator
	InputTwo Operator
}

// MakeTwoInputInitHelper returns a new TwoInputInitHelper.
func MakeTwoInputInitHelper(inputOne, inputTwo Operator) TwoInputInitHelper {
	return TwoInputInitHelper{InputOne: inputOne, InputTwo: inputTwo}
}

// Init initializes both inputs and returns true if this is the first time
// Init was called.
func (h *TwoInputInitHelper) Init(ctx context.Context) bool {
	if !h.InitHelper.Init(ctx) {
		return false
	}
	h.InputOne.Init(h.Ctx)
	h.InputTwo.Init(h.Ctx)
	return true
}

// CloserHelper is a simple helper that helps Closers implement Close
// idempotently.
type CloserHelper struct {
	closed bool
}

// Close marks the CloserHelper as closed. If true is returned, this is the
// first call to Close.
func (c *CloserHelper) Close() bool {
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Closed returns whether Close has been called.
func (c *CloserHelper) Closed() bool {
	return c.closed
}

// NextBatch calls Next on op and returns the error it panicked with, if any.
func NextBatch(op Operator) (b coldata.Batch, err error) {
	err = colexecerror.CatchVectorizedRuntimeError(func() {
		b = op.Next()
	})
	return b, err
}

// CloseAll closes all the given closers, combining the errors.
func CloseAll(ctx context.Context, closers ...Closer) error {
	var err error
	for _, c := range closers {
		if c == nil {
			continue
		}
		err = errors.CombineErrors(err, c.Close(ctx))
	}
	return err
}
