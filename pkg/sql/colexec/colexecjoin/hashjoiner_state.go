// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecjoin

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
)

// hjState is the state of a SpillingHashJoiner. Every state is its own type
// so that data only meaningful in one state lives in that state, and all
// changes go through (*SpillingHashJoiner).transition.
type hjState interface {
	hjState()
	String() string
}

// hjNeedsSetup is the initial state.
type hjNeedsSetup struct{}

// hjBuild consumes the build input.
type hjBuild struct{}

// hjBuildDone is entered once the build input is exhausted and lasts until
// the first probe batch arrives.
type hjBuildDone struct{}

// hjProbe joins the probe batches against the resident partitions.
type hjProbe struct{}

// hjProbeDone emits the unmatched build rows of the resident partitions.
type hjProbeDone struct {
	// partitionIdx and ord are the position of the next build row to look
	// at.
	partitionIdx int
	ord          int
}

// hjRecover joins the spilled partitions one at a time with a nested
// joiner.
type hjRecover struct {
	// next is the position in spilledPartitions of the next partition.
	next int
	// partitionIdx is the partition being recovered by child, -1 if none.
	partitionIdx int
	child        *SpillingHashJoiner
}

// hjDone is the final state. err is set when the joiner stopped because of
// an error.
type hjDone struct {
	err error
}

func (hjNeedsSetup) hjState() {}
func (hjBuild) hjState()      {}
func (hjBuildDone) hjState()  {}
func (hjProbe) hjState()      {}
func (*hjProbeDone) hjState() {}
func (*hjRecover) hjState()   {}
func (hjDone) hjState()       {}

func (hjNeedsSetup) String() string { return "NeedsSetup" }
func (hjBuild) String() string      { return "Build" }
func (hjBuildDone) String() string  { return "BuildDone" }
func (hjProbe) String() string      { return "Probe" }
func (*hjProbeDone) String() string { return "ProbeDone" }
func (*hjRecover) String() string   { return "Recover" }
func (hjDone) String() string       { return "Done" }

// transition moves the joiner to the state to. Every state may move to
// hjDone; all other moves follow the phases of the join.
func (hj *SpillingHashJoiner) transition(to hjState) error {
	legal := false
	switch to.(type) {
	case hjDone:
		legal = true
	case hjBuild:
		_, legal = hj.state.(hjNeedsSetup)
	case hjBuildDone:
		_, legal = hj.state.(hjBuild)
	case hjProbe:
		_, legal = hj.state.(hjBuildDone)
	case *hjProbeDone:
		switch hj.state.(type) {
		case hjBuildDone, hjProbe:
			legal = true
		}
	case *hjRecover:
		_, legal = hj.state.(*hjProbeDone)
	}
	if !legal {
		return errors.AssertionFailedf("hash joiner: illegal transition from %s to %s", hj.state, to)
	}
	hj.state = to
	return nil
}

// State returns what the joiner expects next.
func (hj *SpillingHashJoiner) State() colexecop.OperatorState {
	switch hj.state.(type) {
	case hjNeedsSetup:
		return colexecop.NeedsSetup
	case hjBuild:
		return colexecop.CanConsumeBuild
	case hjBuildDone:
		return colexecop.CanConsumeProbe
	case hjProbe:
		if hj.probe.batch != nil {
			return colexecop.CanProduce
		}
		return colexecop.CanConsumeProbe
	case *hjProbeDone, *hjRecover:
		return colexecop.CanProduce
	default:
		return colexecop.Done
	}
}
