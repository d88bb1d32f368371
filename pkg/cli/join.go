// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/cockroachdb/spilljoin/pkg/cli/cliflags"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecjoin"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colflow"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
	"github.com/cockroachdb/spilljoin/pkg/workload/histogram"
	"github.com/cockroachdb/spilljoin/pkg/workload/joingen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// maxBatchLatency bounds the recorded time between two output batches.
const maxBatchLatency = time.Minute

type joinOptions struct {
	config       configFlags
	gen          joingen.Config
	joinType     colexecjoin.JoinType
	fragments    int
	printMetrics bool
	// fs holds the spill files. Tests use an in-memory one.
	fs vfs.FS
}

func newJoinCmd() *cobra.Command {
	opts := &joinOptions{
		gen:       joingen.DefaultConfig(),
		joinType:  colexecjoin.InnerJoin,
		fragments: 1,
		fs:        vfs.Default,
	}
	cmd := &cobra.Command{
		Use:   "join (flags)",
		Short: "join generated inputs",
		Long: `
Joins a generated build input with a generated probe input on their first
column. With --fragments, as many joins with different seeds run
concurrently and share the memory and file descriptor budgets.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, opts)
		},
	}
	f := cmd.Flags()
	opts.config.register(f)
	f.AddFlagSet(opts.gen.Flags())
	VarFlag(f, textValue{v: &opts.joinType, typ: "join type"}, cliflags.JoinType)
	IntFlag(f, &opts.fragments, cliflags.Fragments)
	BoolFlag(f, &opts.printMetrics, cliflags.PrintMetrics)
	return cmd
}

func runJoin(cmd *cobra.Command, opts *joinOptions) error {
	ctx := cmd.Context()
	cfg, err := opts.config.resolve(cmd.Flags())
	if err != nil {
		return &cliError{cause: err}
	}
	if opts.fragments < 1 {
		return &cliError{cause: errors.Newf("--%s must be at least 1", cliflags.Fragments.Name)}
	}
	gen := opts.gen
	gen.BatchSize = cfg.MaxBatchRows
	if err := gen.Validate(); err != nil {
		return &cliError{cause: err}
	}

	reg := prometheus.NewRegistry()
	metrics := colexecjoin.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	latencies := histogram.NewRegistry(maxBatchLatency)
	spec := colexecjoin.HashJoinerSpec{
		JoinType:     opts.joinType,
		BuildTypes:   joingen.BuildTypes(),
		ProbeTypes:   joingen.ProbeTypes(),
		BuildKeyCols: joingen.KeyCols,
		ProbeKeyCols: joingen.KeyCols,
	}
	fragments := make([]colflow.Fragment, opts.fragments)
	for i := range fragments {
		fragGen := gen
		// Probe inputs use the seed following the one of their build input.
		fragGen.Seed = gen.Seed + 2*uint64(i)
		lat := latencies.Get("join")
		var last time.Time
		fragments[i] = colflow.Fragment{
			Name:  fmt.Sprintf("join-%d", i),
			Spec:  spec,
			Build: func(a *colmem.Allocator) colexecop.Operator { return fragGen.Build(a) },
			Probe: func(a *colmem.Allocator) colexecop.Operator { return fragGen.Probe(a) },
			Output: func(coldata.Batch) error {
				now := time.Now()
				if !last.IsZero() {
					lat.Record(now.Sub(last))
				}
				last = now
				return nil
			},
		}
	}

	log.Infof(ctx, "running %d %s joins of %d build and %d probe rows",
		opts.fragments, opts.joinType, gen.BuildRows, gen.ProbeRows)
	start := time.Now()
	results, err := colflow.RunFragments(ctx, colflow.FlowArgs{
		Config:  cfg,
		FS:      opts.fs,
		Metrics: metrics,
	}, fragments)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	if err := printJoinResults(out, results, latencies.Summaries(), elapsed); err != nil {
		return err
	}
	if opts.printMetrics {
		return printMetrics(out, reg)
	}
	return nil
}

func printJoinResults(
	w io.Writer, results []colflow.FragmentResult, latencies []histogram.Summary, elapsed time.Duration,
) error {
	tw := tabwriter.NewWriter(w, 2, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "fragment\trows\tspills\tspilled rows\tspilled bytes\trecursed\tdepth\tpeak memory\tpeak disk")
	var total int64
	for _, r := range results {
		s := r.Stats
		total += r.Rows
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%d\t%d\t%s\t%s\n",
			r.Name, r.Rows, s.SpillEvents, s.RowsSpilled(), humanizeutil.IBytes(s.BytesSpilled),
			s.PartitionsRecursed, s.MaxDepth, humanizeutil.IBytes(r.PeakBytes),
			humanizeutil.IBytes(s.PeakDiskBytes))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d rows in %s\n", total, elapsed.Round(time.Millisecond))
	for _, l := range latencies {
		if l.Count == 0 {
			continue
		}
		fmt.Fprintf(w, "%s batch latency: p50 %s p95 %s p99 %s max %s over %d batches\n",
			l.Name, l.P50, l.P95, l.P99, l.Max, l.Count)
	}
	return nil
}

// printMetrics writes the metrics of reg in the Prometheus text format.
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	fmt.Fprintln(w)
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
