// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/cli/cliflags"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecagg"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/cockroachdb/spilljoin/pkg/workload/histogram"
	"github.com/cockroachdb/spilljoin/pkg/workload/joingen"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var aggregationsFlag = cliflags.FlagInfo{
	Name:        "aggregations",
	Description: `Aggregates of every key, e.g. "count_rows,sum_int:1,array_agg:2".`,
}

type aggregateOptions struct {
	config       configFlags
	gen          joingen.Config
	aggregations string
}

func newAggregateCmd() *cobra.Command {
	opts := &aggregateOptions{
		gen:          joingen.DefaultConfig(),
		aggregations: "count_rows,count:0,sum_int:1",
	}
	cmd := &cobra.Command{
		Use:   "aggregate (flags)",
		Short: "aggregate the generated build input by key",
		Long: `
Groups the generated build input by its key column with a hash aggregator
bounded by the memory limit of the configuration.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(cmd, opts)
		},
	}
	f := cmd.Flags()
	opts.config.register(f)
	f.AddFlagSet(opts.gen.Flags())
	StringFlag(f, &opts.aggregations, aggregationsFlag)
	return cmd
}

func runAggregate(cmd *cobra.Command, opts *aggregateOptions) (retErr error) {
	ctx := cmd.Context()
	cfg, err := opts.config.resolve(cmd.Flags())
	if err != nil {
		return &cliError{cause: err}
	}
	aggs, err := colexecagg.ParseAggregateSpecs(opts.aggregations)
	if err != nil {
		return &cliError{cause: err}
	}
	gen := opts.gen
	gen.BatchSize = cfg.MaxBatchRows
	if err := gen.Validate(); err != nil {
		return &cliError{cause: err}
	}

	m := mon.NewMonitor("aggregate", int64(cfg.MemoryLimitBytes))
	inputAcc := m.MakeBoundAccount()
	aggAcc := m.MakeBoundAccount()
	defer func() {
		inputAcc.Close(ctx)
		aggAcc.Close(ctx)
		retErr = errors.CombineErrors(retErr, m.Stop(ctx))
	}()
	op, err := colexec.NewHashAggregator(gen.Build(colmem.NewAllocator(ctx, &inputAcc)), colexec.HashAggregatorArgs{
		Allocator:         colmem.NewAllocator(ctx, &aggAcc),
		InputTypes:        joingen.BuildTypes(),
		GroupCols:         joingen.KeyCols,
		Aggregations:      aggs,
		MaxBatchRows:      cfg.MaxBatchRows,
		MaxFieldSizeBytes: int(cfg.MaxFieldSizeBytes),
	})
	if err != nil {
		return &cliError{cause: err}
	}
	defer func() { retErr = errors.CombineErrors(retErr, op.Close(ctx)) }()

	latencies := histogram.NewRegistry(maxBatchLatency)
	lat := latencies.Get("aggregate")
	var last time.Time
	sink := colexecop.NewSink(func(coldata.Batch) error {
		now := time.Now()
		if !last.IsZero() {
			lat.Record(now.Sub(last))
		}
		last = now
		return nil
	})
	start := time.Now()
	if err := colexecop.Drain(ctx, op, sink); err != nil {
		return err
	}
	log.Infof(ctx, "aggregated %d rows into %d groups", gen.BuildRows, op.NumGroups())

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%d groups of %d rows in %s, peak memory %s\n",
		sink.Rows(), gen.BuildRows, time.Since(start).Round(time.Millisecond),
		humanizeutil.IBytes(m.MaximumBytes()))
	for _, l := range latencies.Summaries() {
		if l.Count > 0 {
			fmt.Fprintf(w, "%s batch latency: p50 %s p99 %s max %s\n", l.Name, l.P50, l.P99, l.Max)
		}
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	var config configFlags
	cmd := &cobra.Command{
		Use:   "config (flags)",
		Short: "print the effective joiner configuration",
		Long: `
Prints, as YAML, the configuration resulting from the defaults, the
configuration file and the flags.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.resolve(cmd.Flags())
			if err != nil {
				return &cliError{cause: err}
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	config.register(cmd.Flags())
	return cmd
}
