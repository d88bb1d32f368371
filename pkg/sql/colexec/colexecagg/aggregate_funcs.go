// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecagg

import (
	"strconv"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

// AggFunc is an aggregate function supported by the hash aggregator.
type AggFunc int

const (
	// ArrayAgg collects the values of a group, NULLs included, into a list.
	ArrayAgg AggFunc = iota
	// CountRows counts the rows of a group.
	CountRows
	// Count counts the non-NULL values of a group.
	Count
	// SumInt sums integers into an INT8. It is NULL for a group without
	// non-NULL values.
	SumInt
	// SumFloat sums floats. It is NULL for a group without non-NULL values.
	SumFloat
)

var aggFuncNames = [...]string{
	ArrayAgg:  "ARRAY_AGG",
	CountRows: "COUNT_ROWS",
	Count:     "COUNT",
	SumInt:    "SUM_INT",
	SumFloat:  "SUM_FLOAT",
}

func (f AggFunc) String() string {
	if f >= 0 && int(f) < len(aggFuncNames) {
		return aggFuncNames[f]
	}
	return "UNKNOWN"
}

// ParseAggFunc returns the aggregate function with the given
// case-insensitive name, for example "array_agg".
func ParseAggFunc(name string) (AggFunc, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	for i, n := range aggFuncNames {
		if strings.EqualFold(n, norm) {
			return AggFunc(i), nil
		}
	}
	return 0, errors.Newf("unknown aggregate function %q", name)
}

// AggregateSpec describes one aggregate computed by a hash aggregator.
type AggregateSpec struct {
	Func AggFunc
	// ColIdx is the aggregated input column. It is ignored by CountRows.
	ColIdx int
}

// ParseAggregateSpecs parses a comma separated list of aggregates such as
// "count_rows,sum_int:1,array_agg:2", where the number following a colon is
// the aggregated column.
func ParseAggregateSpecs(s string) ([]AggregateSpec, error) {
	var specs []AggregateSpec
	for _, item := range strings.Split(s, ",") {
		name, col, hasCol := strings.Cut(strings.TrimSpace(item), ":")
		f, err := ParseAggFunc(name)
		if err != nil {
			return nil, err
		}
		spec := AggregateSpec{Func: f}
		if hasCol {
			if spec.ColIdx, err = strconv.Atoi(col); err != nil {
				return nil, errors.Wrapf(err, "column of %s", f)
			}
		} else if f != CountRows {
			return nil, errors.Newf("%s needs a column", f)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ErrIntOutOfRange is returned when an integer sum overflows.
var ErrIntOutOfRange = errors.New("integer out of range")

// AggregateFunc computes an aggregate for many groups at once. Groups are
// identified by dense indices assigned by the caller in order of first
// appearance.
type AggregateFunc interface {
	// OutputType returns the type of the results.
	OutputType() *coltypes.T

	// Compute adds the first n rows of vecs to the aggregate. groups[i] is
	// the group of the ith row and numGroups is one more than the largest
	// group index seen so far.
	Compute(vecs []coldata.Vec, groups []int, n int, numGroups int) error

	// Flush writes the result of the group to out at outputIdx. For list
	// results, outputIdx must increase between calls on the same vector.
	// The caller accounts for the memory of out.
	Flush(group int, out coldata.Vec, outputIdx int)

	// Close releases all accounted memory. Close is idempotent.
	Close()
}

// NewAggregateFunc returns the function described by spec over an input
// with the given types. holderCapacity is the number of values of each
// holder of array aggregates and maxFieldSize bounds their bytes values.
func NewAggregateFunc(
	allocator *colmem.Allocator,
	inputTypes []*coltypes.T,
	spec AggregateSpec,
	holderCapacity int,
	maxFieldSize int,
) (AggregateFunc, error) {
	if spec.Func == CountRows {
		return &countAgg{counts: groupState[int64]{allocator: allocator}, colIdx: -1}, nil
	}
	if spec.ColIdx < 0 || spec.ColIdx >= len(inputTypes) {
		return nil, colexecerror.NewSchemaMismatchError(
			"%s: column %d out of range for %d columns", spec.Func, spec.ColIdx, len(inputTypes))
	}
	typ := inputTypes[spec.ColIdx]
	switch spec.Func {
	case ArrayAgg:
		return newArrayAgg(allocator, typ, spec.ColIdx, holderCapacity, maxFieldSize)
	case Count:
		return &countAgg{counts: groupState[int64]{allocator: allocator}, colIdx: spec.ColIdx}, nil
	case SumInt:
		if f := typ.Family(); f != coltypes.Int32Family && f != coltypes.Int64Family {
			return nil, colexecerror.NewSchemaMismatchError("SUM_INT: unsupported type %s", typ)
		}
		return &sumIntAgg{
			colIdx: spec.ColIdx,
			sums:   groupState[int64]{allocator: allocator},
			seen:   groupState[bool]{allocator: allocator},
		}, nil
	case SumFloat:
		if typ.Family() != coltypes.Float64Family {
			return nil, colexecerror.NewSchemaMismatchError("SUM_FLOAT: unsupported type %s", typ)
		}
		return &sumFloatAgg{
			colIdx: spec.ColIdx,
			sums:   groupState[float64]{allocator: allocator},
			seen:   groupState[bool]{allocator: allocator},
		}, nil
	default:
		return nil, errors.AssertionFailedf("unknown aggregate function %d", spec.Func)
	}
}

// groupState is a per-group slice whose capacity is accounted.
type groupState[T any] struct {
	allocator *colmem.Allocator
	vals      []T
	accounted int64
}

// ensureGroups extends vals to hold n groups.
func (s *groupState[T]) ensureGroups(n int) error {
	if n <= len(s.vals) {
		return nil
	}
	return colexecerror.CatchVectorizedRuntimeError(func() {
		var zero T
		s.vals = append(s.vals, make([]T, n-len(s.vals))...)
		size := int64(cap(s.vals)) * int64(unsafe.Sizeof(zero))
		delta := size - s.accounted
		s.accounted = size
		s.allocator.AdjustMemoryUsage(delta)
	})
}

func (s *groupState[T]) release() {
	s.allocator.ReleaseMemory(s.accounted)
	s.accounted = 0
	s.vals = nil
}

func isNull(vec coldata.Vec, i int) bool {
	return vec.MaybeHasNulls() && vec.Nulls().NullAt(i)
}

// countAgg implements COUNT, and COUNT_ROWS when colIdx is negative.
type countAgg struct {
	colIdx int
	counts groupState[int64]
}

func (a *countAgg) OutputType() *coltypes.T { return coltypes.Int }

func (a *countAgg) Compute(vecs []coldata.Vec, groups []int, n int, numGroups int) error {
	if err := a.counts.ensureGroups(numGroups); err != nil {
		return err
	}
	counts := a.counts.vals
	if a.colIdx < 0 {
		for _, g := range groups[:n] {
			counts[g]++
		}
		return nil
	}
	vec := vecs[a.colIdx]
	for i, g := range groups[:n] {
		if !isNull(vec, i) {
			counts[g]++
		}
	}
	return nil
}

func (a *countAgg) Flush(group int, out coldata.Vec, outputIdx int) {
	out.Int64()[outputIdx] = a.counts.vals[group]
}

func (a *countAgg) Close() {
	a.counts.release()
}

type sumIntAgg struct {
	colIdx int
	sums   groupState[int64]
	seen   groupState[bool]
}

func (a *sumIntAgg) OutputType() *coltypes.T { return coltypes.Int }

func (a *sumIntAgg) Compute(vecs []coldata.Vec, groups []int, n int, numGroups int) error {
	if err := a.sums.ensureGroups(numGroups); err != nil {
		return err
	}
	if err := a.seen.ensureGroups(numGroups); err != nil {
		return err
	}
	vec := vecs[a.colIdx]
	sums, seen := a.sums.vals, a.seen.vals
	for i, g := range groups[:n] {
		if isNull(vec, i) {
			continue
		}
		var v int64
		if vec.Type().Family() == coltypes.Int32Family {
			v = int64(vec.Int32()[i])
		} else {
			v = vec.Int64()[i]
		}
		sum := sums[g] + v
		if (v > 0 && sum < sums[g]) || (v < 0 && sum > sums[g]) {
			return ErrIntOutOfRange
		}
		sums[g] = sum
		seen[g] = true
	}
	return nil
}

func (a *sumIntAgg) Flush(group int, out coldata.Vec, outputIdx int) {
	if !a.seen.vals[group] {
		out.Nulls().SetNull(outputIdx)
		return
	}
	out.Int64()[outputIdx] = a.sums.vals[group]
}

func (a *sumIntAgg) Close() {
	a.sums.release()
	a.seen.release()
}

type sumFloatAgg struct {
	colIdx int
	sums   groupState[float64]
	seen   groupState[bool]
}

func (a *sumFloatAgg) OutputType() *coltypes.T { return coltypes.Float }

func (a *sumFloatAgg) Compute(vecs []coldata.Vec, groups []int, n int, numGroups int) error {
	if err := a.sums.ensureGroups(numGroups); err != nil {
		return err
	}
	if err := a.seen.ensureGroups(numGroups); err != nil {
		return err
	}
	vec := vecs[a.colIdx]
	col := vec.Float64()
	sums, seen := a.sums.vals, a.seen.vals
	for i, g := range groups[:n] {
		if isNull(vec, i) {
			continue
		}
		sums[g] += col[i]
		seen[g] = true
	}
	return nil
}

func (a *sumFloatAgg) Flush(group int, out coldata.Vec, outputIdx int) {
	if !a.seen.vals[group] {
		out.Nulls().SetNull(outputIdx)
		return
	}
	out.Float64()[outputIdx] = a.sums.vals[group]
}

func (a *sumFloatAgg) Close() {
	a.sums.release()
	a.seen.release()
}
