// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecagg_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecagg"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/stretchr/testify/require"
)

func TestParseAggFunc(t *testing.T) {
	for name, expected := range map[string]colexecagg.AggFunc{
		"array_agg":  colexecagg.ArrayAgg,
		"COUNT_ROWS": colexecagg.CountRows,
		"count":      colexecagg.Count,
		"sum int":    colexecagg.SumInt,
		"Sum_Float":  colexecagg.SumFloat,
	} {
		f, err := colexecagg.ParseAggFunc(name)
		require.NoError(t, err, name)
		require.Equal(t, expected, f)
	}
	_, err := colexecagg.ParseAggFunc("avg")
	require.Error(t, err)
}

func TestParseAggregateSpecs(t *testing.T) {
	specs, err := colexecagg.ParseAggregateSpecs("count_rows, sum_int:1,ARRAY_AGG:2")
	require.NoError(t, err)
	require.Equal(t, []colexecagg.AggregateSpec{
		{Func: colexecagg.CountRows},
		{Func: colexecagg.SumInt, ColIdx: 1},
		{Func: colexecagg.ArrayAgg, ColIdx: 2},
	}, specs)

	for _, s := range []string{"", "count", "sum_int:x", "avg:1"} {
		_, err := colexecagg.ParseAggregateSpecs(s)
		require.Error(t, err, s)
	}
}

// computeAll feeds the rows of b with the given groups to a new aggregate
// function built from the AggregateSpec and returns the results of groups
// [0, numGroups).
func computeAll(
	t *testing.T, spec colexecagg.AggregateSpec, b coldata.Batch, groups []int, numGroups int,
) []interface{} {
	allocator := newTestAllocator(t, 0)
	f, err := colexecagg.NewAggregateFunc(allocator, coldata.Types(b), spec, 2, 64)
	require.NoError(t, err)
	defer f.Close()
	// Two calls exercise the carry over of the group state.
	half := b.Length() / 2
	firstGroups := 0
	for _, g := range groups[:half] {
		firstGroups = max(firstGroups, g+1)
	}
	require.NoError(t, f.Compute(b.ColVecs(), groups, half, firstGroups))
	rest := b.Slice(half, b.Length()-half)
	require.NoError(t, f.Compute(rest.ColVecs(), groups[half:], rest.Length(), numGroups))

	out := allocator.NewMemColumn(f.OutputType(), numGroups)
	defer func() { allocator.ReleaseMemory(out.Size()) }()
	res := make([]interface{}, numGroups)
	allocator.PerformOperation([]coldata.Vec{out}, func() {
		for g := 0; g < numGroups; g++ {
			f.Flush(g, out, g)
		}
	})
	for g := range res {
		res[g] = out.Get(g)
	}
	return res
}

func TestAggregateFuncs(t *testing.T) {
	typs := []*coltypes.T{coltypes.Int, coltypes.Float, coltypes.Bytes, coltypes.Int4}
	b := coldata.NewMemBatchWithCapacity(typs, 8)
	b.AppendRow(int64(1), 1.5, "a", int32(10))
	b.AppendRow(nil, 2.5, nil, int32(20))
	b.AppendRow(int64(3), nil, "c", nil)
	b.AppendRow(int64(4), 4.0, "d", int32(40))
	b.AppendRow(nil, nil, "e", nil)
	b.AppendRow(int64(6), 0.5, "f", int32(60))
	groups := []int{0, 1, 0, 2, 1, 0}

	for _, tc := range []struct {
		spec     colexecagg.AggregateSpec
		expected []interface{}
	}{
		{
			spec:     colexecagg.AggregateSpec{Func: colexecagg.CountRows},
			expected: []interface{}{int64(3), int64(2), int64(1)},
		},
		{
			spec:     colexecagg.AggregateSpec{Func: colexecagg.Count, ColIdx: 0},
			expected: []interface{}{int64(3), int64(0), int64(1)},
		},
		{
			spec:     colexecagg.AggregateSpec{Func: colexecagg.SumInt, ColIdx: 0},
			expected: []interface{}{int64(10), nil, int64(4)},
		},
		{
			spec:     colexecagg.AggregateSpec{Func: colexecagg.SumInt, ColIdx: 3},
			expected: []interface{}{int64(70), int64(20), int64(40)},
		},
		{
			spec:     colexecagg.AggregateSpec{Func: colexecagg.SumFloat, ColIdx: 1},
			expected: []interface{}{2.0, 2.5, 4.0},
		},
		{
			spec: colexecagg.AggregateSpec{Func: colexecagg.ArrayAgg, ColIdx: 2},
			expected: []interface{}{
				[]interface{}{[]byte("a"), []byte("c"), []byte("f")},
				[]interface{}{nil, []byte("e")},
				[]interface{}{[]byte("d")},
			},
		},
		{
			spec: colexecagg.AggregateSpec{Func: colexecagg.ArrayAgg, ColIdx: 0},
			expected: []interface{}{
				[]interface{}{int64(1), int64(3), int64(6)},
				[]interface{}{nil, nil},
				[]interface{}{int64(4)},
			},
		},
	} {
		t.Run(tc.spec.Func.String(), func(t *testing.T) {
			require.Equal(t, tc.expected, computeAll(t, tc.spec, b, groups, 3))
		})
	}
}

func TestAggregateFuncErrors(t *testing.T) {
	allocator := newTestAllocator(t, 0)
	typs := []*coltypes.T{coltypes.Bytes, coltypes.MakeList(coltypes.Int), coltypes.Int}

	for _, spec := range []colexecagg.AggregateSpec{
		{Func: colexecagg.SumInt, ColIdx: 0},
		{Func: colexecagg.SumFloat, ColIdx: 2},
		{Func: colexecagg.ArrayAgg, ColIdx: 1},
		{Func: colexecagg.Count, ColIdx: 3},
	} {
		_, err := colexecagg.NewAggregateFunc(allocator, typs, spec, 4, 64)
		require.True(t, errors.Is(err, colexecerror.ErrSchemaMismatch), "%s: %v", spec.Func, err)
	}

	f, err := colexecagg.NewAggregateFunc(
		allocator, typs, colexecagg.AggregateSpec{Func: colexecagg.SumInt, ColIdx: 2}, 4, 64)
	require.NoError(t, err)
	defer f.Close()
	b := coldata.NewMemBatchWithCapacity(typs, 2)
	b.AppendRow(nil, nil, int64(math.MaxInt64))
	b.AppendRow(nil, nil, int64(1))
	err = f.Compute(b.ColVecs(), []int{0, 0}, 2, 1)
	require.True(t, errors.Is(err, colexecagg.ErrIntOutOfRange), "%v", err)
}

func TestArrayAggFieldSize(t *testing.T) {
	allocator := newTestAllocator(t, 0)
	acc := colexecagg.NewArrayAggAccumulator(allocator, colexecagg.BytesOps(4), 0, 2)
	defer acc.Close()

	b := coldata.NewMemBatchWithCapacity([]*coltypes.T{coltypes.Bytes}, 3)
	b.AppendRow("abcd")
	b.AppendRow(nil)
	b.AppendRow("abcde")
	err := acc.Compute(b.ColVecs(), []int{0, 0, 1}, 3, 2)
	require.True(t, errors.Is(err, colexecerror.ErrFieldSizeExceeded), "%v", err)

	vals, nulls := acc.Values(0)
	require.Equal(t, [][]byte{[]byte("abcd"), nil}, vals)
	require.Equal(t, []bool{false, true}, nulls)
	vals, _ = acc.Values(1)
	require.Empty(t, vals)
	require.Greater(t, acc.SizeInBytes(), int64(0))
	require.Equal(t, coltypes.ListFamily, acc.OutputType().Family())
}
