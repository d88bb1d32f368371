// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexec_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coldatatestutils"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecagg"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/stretchr/testify/require"
)

type aggRun struct {
	inputBatchSize int
	maxBatchRows   int
	limit          int64
}

// runAgg aggregates rows and returns the formatted output rows. It checks
// that all memory of the aggregator is released once it is closed.
func runAgg(
	t *testing.T,
	typs []*coltypes.T,
	rows [][]interface{},
	args colexec.HashAggregatorArgs,
	run aggRun,
) ([]string, error) {
	ctx := context.Background()
	inputMon := mon.NewMonitor("input", 0)
	inputAcc := inputMon.MakeBoundAccount()
	defer inputAcc.Close(ctx)
	inputBatchSize := run.inputBatchSize
	if inputBatchSize == 0 {
		inputBatchSize = 3
	}
	input := colexecop.NewRowsSource(colmem.NewAllocator(ctx, &inputAcc), typs, rows, inputBatchSize)

	m := mon.NewMonitor("test", run.limit)
	acc := m.MakeBoundAccount()
	args.Allocator = colmem.NewAllocator(ctx, &acc)
	args.InputTypes = typs
	args.MaxBatchRows = run.maxBatchRows
	op, err := colexec.NewHashAggregator(input, args)
	require.NoError(t, err)

	var out []string
	sink := colexecop.NewSink(func(b coldata.Batch) error {
		require.True(t, coltypes.TypesIdentical(op.OutputTypes(), coldata.Types(b)))
		require.LessOrEqual(t, b.Length(), args.MaxBatchRows)
		out = append(out, coldatatestutils.RowStrings(b)...)
		return nil
	})
	err = colexecop.Drain(ctx, op, sink)
	require.NoError(t, op.Close(ctx))
	require.Zero(t, acc.Used())
	acc.Close(ctx)
	require.NoError(t, m.Stop(ctx))
	return out, err
}

func parseAggs(t *testing.T, vals []string) []colexecagg.AggregateSpec {
	var specs []colexecagg.AggregateSpec
	for _, v := range vals {
		name, col, hasCol := strings.Cut(v, ":")
		f, err := colexecagg.ParseAggFunc(name)
		require.NoError(t, err)
		spec := colexecagg.AggregateSpec{Func: f}
		if hasCol {
			spec.ColIdx, err = strconv.Atoi(col)
			require.NoError(t, err)
		}
		specs = append(specs, spec)
	}
	return specs
}

// TestHashAggregatorDataDriven runs the aggregations of
// testdata/hash_aggregator and checks that other batch sizes produce the
// same rows.
func TestHashAggregatorDataDriven(t *testing.T) {
	var typs []*coltypes.T
	var rows [][]interface{}
	datadriven.RunTest(t, "testdata/hash_aggregator", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "input":
			var err error
			var names string
			d.ScanArgs(t, "types", &names)
			typs, err = coltypes.ParseTypes(names)
			require.NoError(t, err)
			rows, err = coldatatestutils.ParseRows(typs, d.Input)
			require.NoError(t, err)
			return ""
		case "aggregate":
		default:
			d.Fatalf(t, "unknown command %s", d.Cmd)
		}

		var args colexec.HashAggregatorArgs
		args.MaxFieldSizeBytes = 1 << 10
		for _, arg := range d.CmdArgs {
			switch arg.Key {
			case "group":
				for _, v := range arg.Vals {
					colIdx, err := strconv.Atoi(v)
					require.NoError(t, err)
					args.GroupCols = append(args.GroupCols, colIdx)
				}
			case "aggs":
				args.Aggregations = parseAggs(t, arg.Vals)
			default:
				d.Fatalf(t, "unknown argument %s", arg.Key)
			}
		}

		expected, err := runAgg(t, typs, rows, args, aggRun{maxBatchRows: 1024})
		require.NoError(t, err)
		for _, run := range []aggRun{
			{inputBatchSize: 1, maxBatchRows: 1},
			{inputBatchSize: 2, maxBatchRows: 2},
			{inputBatchSize: 1024, maxBatchRows: 3},
		} {
			actual, err := runAgg(t, typs, rows, args, run)
			require.NoError(t, err)
			require.Equal(t, expected, actual, "%+v", run)
		}
		if len(expected) == 0 {
			return ""
		}
		return strings.Join(expected, "\n") + "\n"
	})
}

func TestHashAggregatorManyGroups(t *testing.T) {
	const numRows, numGroups = 10000, 3000
	typs := []*coltypes.T{coltypes.Int, coltypes.Int}
	rows := make([][]interface{}, numRows)
	for i := range rows {
		rows[i] = []interface{}{int64(i % numGroups), int64(i)}
	}
	args := colexec.HashAggregatorArgs{
		GroupCols: []int{0},
		Aggregations: []colexecagg.AggregateSpec{
			{Func: colexecagg.CountRows},
			{Func: colexecagg.ArrayAgg, ColIdx: 1},
		},
	}
	out, err := runAgg(t, typs, rows, args, aggRun{inputBatchSize: 256, maxBatchRows: 128})
	require.NoError(t, err)
	require.Len(t, out, numGroups)
	for g, row := range out {
		var vals []string
		for i := g; i < numRows; i += numGroups {
			vals = append(vals, strconv.Itoa(i))
		}
		expected := fmt.Sprintf("%d %d {%s}", g, len(vals), strings.Join(vals, ","))
		require.Equal(t, expected, row)
	}
}

func TestHashAggregatorOutOfMemory(t *testing.T) {
	typs := []*coltypes.T{coltypes.Int}
	rows := make([][]interface{}, 5000)
	for i := range rows {
		rows[i] = []interface{}{int64(i)}
	}
	args := colexec.HashAggregatorArgs{
		GroupCols:    []int{0},
		Aggregations: []colexecagg.AggregateSpec{{Func: colexecagg.ArrayAgg, ColIdx: 0}},
	}
	_, err := runAgg(t, typs, rows, args, aggRun{inputBatchSize: 512, maxBatchRows: 512, limit: 64 << 10})
	require.True(t, errors.Is(err, colexecerror.ErrOutOfMemory), "%v", err)
}

func TestHashAggregatorFieldSize(t *testing.T) {
	typs := []*coltypes.T{coltypes.Int, coltypes.Bytes}
	args := colexec.HashAggregatorArgs{
		GroupCols:         []int{0},
		Aggregations:      []colexecagg.AggregateSpec{{Func: colexecagg.ArrayAgg, ColIdx: 1}},
		MaxFieldSizeBytes: 3,
	}
	out, err := runAgg(t, typs, [][]interface{}{{int64(1), "abc"}}, args, aggRun{maxBatchRows: 4})
	require.NoError(t, err)
	require.Equal(t, []string{"1 {abc}"}, out)

	_, err = runAgg(t, typs, [][]interface{}{{int64(1), "abc"}, {int64(1), "abcd"}}, args, aggRun{maxBatchRows: 4})
	require.True(t, errors.Is(err, colexecerror.ErrFieldSizeExceeded), "%v", err)
}

func TestNewHashAggregatorErrors(t *testing.T) {
	ctx := context.Background()
	m := mon.NewMonitor("test", 0)
	acc := m.MakeBoundAccount()
	defer acc.Close(ctx)
	allocator := colmem.NewAllocator(ctx, &acc)
	typs := []*coltypes.T{coltypes.Int, coltypes.MakeList(coltypes.Int), coltypes.Bytes}
	input := colexecop.NewBatchesSource()

	for _, tc := range []struct {
		groupCols []int
		aggs      []colexecagg.AggregateSpec
		err       string
	}{
		{err: "at least one grouping column"},
		{groupCols: []int{3}, err: "grouping column 3 out of range"},
		{groupCols: []int{1}, err: "unsupported key type"},
		{
			groupCols: []int{0},
			aggs:      []colexecagg.AggregateSpec{{Func: colexecagg.SumFloat, ColIdx: 2}},
			err:       "SUM_FLOAT: unsupported type",
		},
	} {
		_, err := colexec.NewHashAggregator(input, colexec.HashAggregatorArgs{
			Allocator:    allocator,
			InputTypes:   typs,
			GroupCols:    tc.groupCols,
			Aggregations: tc.aggs,
		})
		require.ErrorContains(t, err, tc.err)
	}
	require.Zero(t, acc.Used())
}
