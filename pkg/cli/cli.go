// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cli implements the spilljoin command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/cli/cliflags"
	"github.com/cockroachdb/spilljoin/pkg/cli/exit"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Main is the entry point of the spilljoin binary.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := Run(ctx, os.Args[1:])
	interrupted := ctx.Err() != nil
	stop()
	log.Sync()
	if err == nil {
		exit.WithCode(exit.Success())
	}
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	switch {
	case interrupted:
		exit.WithCode(exit.Interrupted())
	case errors.HasType(err, (*cliError)(nil)):
		exit.WithCode(exit.CommandLineFlagError())
	default:
		exit.WithCode(exit.UnspecifiedError())
	}
}

// Run executes the command line args.
func Run(ctx context.Context, args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// cliError is an error in the command line.
type cliError struct {
	cause error
}

func (e *cliError) Error() string { return e.cause.Error() }
func (e *cliError) Unwrap() error { return e.cause }

type logFlags struct {
	verbosity int32
	file      string
	restore   []func()
}

func (l *logFlags) setup() error {
	l.restore = append(l.restore, log.SetVerbosity(l.verbosity))
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if l.verbosity > 0 {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	if l.file != "" {
		cfg.OutputPaths = []string{l.file}
		cfg.ErrorOutputPaths = []string{l.file}
	}
	logger, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "setting up the log")
	}
	l.restore = append(l.restore, log.SetLogger(logger))
	return nil
}

func (l *logFlags) teardown() {
	log.Sync()
	for i := len(l.restore) - 1; i >= 0; i-- {
		l.restore[i]()
	}
	l.restore = nil
}

// NewRootCmd returns the spilljoin command with all of its subcommands.
func NewRootCmd() *cobra.Command {
	var logs logFlags
	cmd := &cobra.Command{
		Use:   "spilljoin [command] (flags)",
		Short: "memory-accounted spilling hash join",
		Long: `
Runs hash joins and aggregations over generated inputs within a memory limit,
spilling partitions to disk when the limit would be exceeded.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logs.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logs.teardown()
		},
	}
	Int32Flag(cmd.PersistentFlags(), &logs.verbosity, cliflags.Verbosity)
	StringFlag(cmd.PersistentFlags(), &logs.file, cliflags.LogFile)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cliError{cause: err}
	})
	cmd.AddCommand(
		newJoinCmd(),
		newAggregateCmd(),
		newConfigCmd(),
	)
	return cmd
}
