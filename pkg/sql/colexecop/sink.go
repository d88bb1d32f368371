// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecop

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
)

// OperatorState describes what a push-based operator expects next.
type OperatorState int

const (
	// NeedsSetup means Setup has not been called.
	NeedsSetup OperatorState = iota
	// CanConsume means the operator accepts input batches.
	CanConsume
	// CanConsumeBuild means the operator accepts batches of its build input.
	CanConsumeBuild
	// CanConsumeProbe means the operator accepts batches of its probe input.
	CanConsumeProbe
	// CanProduce means the operator has output to be pulled.
	CanProduce
	// Done means the operator is finished.
	Done
)

var operatorStateNames = [...]string{
	NeedsSetup:      "NeedsSetup",
	CanConsume:      "CanConsume",
	CanConsumeBuild: "CanConsumeBuild",
	CanConsumeProbe: "CanConsumeProbe",
	CanProduce:      "CanProduce",
	Done:            "Done",
}

func (s OperatorState) String() string {
	if s >= 0 && int(s) < len(operatorStateNames) {
		return operatorStateNames[s]
	}
	return "OperatorState(?)"
}

// Sink is a terminal push-based operator that consumes batches, counts
// them and hands each one to an optional callback.
type Sink struct {
	state   OperatorState
	onBatch func(coldata.Batch) error
	rows    int64
	batches int64
}

// NewSink returns a Sink calling onBatch, which may be nil, for every
// consumed batch. The batch is only valid during the call.
func NewSink(onBatch func(coldata.Batch) error) *Sink {
	return &Sink{onBatch: onBatch}
}

// State returns the state of the sink.
func (s *Sink) State() OperatorState {
	return s.state
}

func (s *Sink) expect(state OperatorState, method string) error {
	if s.state != state {
		return errors.AssertionFailedf("sink: %s called in state %s, expected %s", method, s.state, state)
	}
	return nil
}

// Setup prepares the sink for consumption.
func (s *Sink) Setup(ctx context.Context) error {
	if err := s.expect(NeedsSetup, "Setup"); err != nil {
		return err
	}
	s.state = CanConsume
	return nil
}

// Consume consumes one batch.
func (s *Sink) Consume(ctx context.Context, b coldata.Batch) error {
	if err := s.expect(CanConsume, "Consume"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Length() == 0 {
		return nil
	}
	s.rows += int64(b.Length())
	s.batches++
	if s.onBatch != nil {
		return s.onBatch(b)
	}
	return nil
}

// NoMoreToConsume tells the sink that the input is exhausted.
func (s *Sink) NoMoreToConsume(ctx context.Context) error {
	if err := s.expect(CanConsume, "NoMoreToConsume"); err != nil {
		return err
	}
	s.state = Done
	return nil
}

// Rows returns the number of rows consumed.
func (s *Sink) Rows() int64 {
	return s.rows
}

// Batches returns the number of non-empty batches consumed.
func (s *Sink) Batches() int64 {
	return s.batches
}

// Drain initializes op, pulls all of its output into the sink and finishes
// the sink.
func Drain(ctx context.Context, op Operator, s *Sink) error {
	if s.state == NeedsSetup {
		if err := s.Setup(ctx); err != nil {
			return err
		}
	}
	if err := colexecerror.CatchVectorizedRuntimeError(func() { op.Init(ctx) }); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := NextBatch(op)
		if err != nil {
			return err
		}
		if b.Length() == 0 {
			return s.NoMoreToConsume(ctx)
		}
		if err := s.Consume(ctx, b); err != nil {
			return err
		}
	}
}
