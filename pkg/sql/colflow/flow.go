// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colflow runs independent hash join fragments concurrently.
package colflow

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecjoin"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/marusama/semaphore"
	"golang.org/x/sync/errgroup"
)

// Fragment is one hash join of a flow.
type Fragment struct {
	Name string
	Spec colexecjoin.HashJoinerSpec
	// Build and Probe create the inputs of the fragment. The allocator they
	// are given is accounted under the fragment's monitor.
	Build, Probe func(allocator *colmem.Allocator) colexecop.Operator
	// Output, if set, is called with every output batch of the fragment. The
	// batch is only valid until Output returns.
	Output func(b coldata.Batch) error
}

// FlowArgs are the arguments of RunFragments shared by all fragments.
type FlowArgs struct {
	// Config is the joiner configuration. Every fragment spills into its own
	// subdirectory of Config.SpillDir.
	Config colexecjoin.Config
	// Monitor is the parent of the fragment monitors. If nil, a root monitor
	// without a limit is used.
	Monitor *mon.BytesMonitor
	// FS holds the spill files. vfs.Default is used if nil.
	FS vfs.FS
	// Metrics, if set, are shared by the joiners of all fragments.
	Metrics *colexecjoin.Metrics
}

// FragmentResult is the outcome of a fragment that ran to completion.
type FragmentResult struct {
	Name  string
	Stats colexecjoin.Stats
	// Rows is the number of rows passed to Fragment.Output.
	Rows int64
	// PeakBytes is the largest memory usage of the fragment, inputs included.
	PeakBytes int64
}

// SafeFormat implements the redact.SafeFormatter interface.
func (r FragmentResult) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s: %d rows, %d spill events, peak memory %s",
		redact.SafeString(r.Name), r.Rows, r.Stats.SpillEvents,
		redact.SafeString(humanizeutil.IBytes(r.PeakBytes)))
}

func (r FragmentResult) String() string {
	return redact.StringWithoutMarkers(r)
}

// RunFragments runs every fragment in its own goroutine and waits for all of
// them. Fragments share the spill file descriptor budget of
// Config.MaxOpenFiles. The first error cancels the context of the other
// fragments and is returned once all of them have released their memory and
// spill files; the results are only returned when all fragments succeeded.
func RunFragments(ctx context.Context, args FlowArgs, fragments []Fragment) ([]FragmentResult, error) {
	if err := args.Config.Validate(); err != nil {
		return nil, err
	}
	fs := args.FS
	if fs == nil {
		fs = vfs.Default
	}
	parent := args.Monitor
	if parent == nil {
		parent = mon.NewMonitor("flow", 0)
		defer func() {
			if err := parent.Stop(ctx); err != nil {
				log.Errorf(ctx, "%v", err)
			}
		}()
	}
	fdSemaphore := semaphore.New(args.Config.MaxOpenFiles)

	results := make([]FragmentResult, len(fragments))
	g, gCtx := errgroup.WithContext(ctx)
	for i := range fragments {
		i := i
		f := &fragments[i]
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("fragment-%d", i)
		}
		cfg := args.Config
		cfg.SpillDir = fs.PathJoin(args.Config.SpillDir, fmt.Sprintf("fragment-%d", i))
		r := fragmentRunner{
			fragment:    f,
			name:        name,
			cfg:         cfg,
			parent:      parent,
			fs:          fs,
			fdSemaphore: fdSemaphore,
			metrics:     args.Metrics,
		}
		g.Go(func() error {
			fCtx := logtags.AddTag(gCtx, "fragment", name)
			res, err := r.run(fCtx)
			if err != nil {
				return errors.Wrapf(err, "fragment %s", name)
			}
			results[i] = res
			log.VEventf(fCtx, 1, "%s", res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type fragmentRunner struct {
	fragment    *Fragment
	name        string
	cfg         colexecjoin.Config
	parent      *mon.BytesMonitor
	fs          vfs.FS
	fdSemaphore semaphore.Semaphore
	metrics     *colexecjoin.Metrics
}

func (r *fragmentRunner) run(ctx context.Context) (_ FragmentResult, retErr error) {
	m, err := r.parent.NewChild(ctx, redact.SafeString(r.name), 0, 0)
	if err != nil {
		return FragmentResult{}, err
	}
	inputAcc := m.MakeBoundAccount()
	inputAllocator := colmem.NewAllocator(ctx, &inputAcc)
	op := colexecjoin.NewHashJoinOp(
		r.fragment.Build(inputAllocator),
		r.fragment.Probe(inputAllocator),
		colexecjoin.HashJoinerArgs{
			Spec:        r.fragment.Spec,
			Config:      r.cfg,
			Monitor:     m,
			FS:          r.fs,
			FDSemaphore: r.fdSemaphore,
			Metrics:     r.metrics,
		},
	)
	defer func() {
		retErr = errors.CombineErrors(retErr, op.Close(ctx))
		inputAcc.Close(ctx)
		retErr = errors.CombineErrors(retErr, m.Stop(ctx))
		if r.cfg.EnableSpill {
			if err := r.fs.RemoveAll(r.cfg.SpillDir); err != nil {
				log.Warningf(ctx, "removing spill directory %s: %v", r.cfg.SpillDir, err)
			}
		}
	}()

	sink := colexecop.NewSink(r.fragment.Output)
	if err := colexecop.Drain(ctx, op, sink); err != nil {
		return FragmentResult{}, err
	}
	return FragmentResult{
		Name:      r.name,
		Stats:     op.Stats(),
		Rows:      sink.Rows(),
		PeakBytes: m.MaximumBytes(),
	}, nil
}
