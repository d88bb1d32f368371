// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecjoin

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colcontainer"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexechash"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/marusama/semaphore"
)

// HashJoinerArgs are the arguments of NewSpillingHashJoiner.
type HashJoinerArgs struct {
	Spec   HashJoinerSpec
	Config Config
	// Monitor is the parent of the joiner's memory monitor. If nil, the
	// joiner uses a root monitor of its own.
	Monitor *mon.BytesMonitor
	// FS holds the spill files. vfs.Default is used if nil.
	FS vfs.FS
	// FDSemaphore bounds the open spill files and may be shared between
	// joiners. If nil, a semaphore of Config.MaxOpenFiles permits is used.
	FDSemaphore semaphore.Semaphore
	// Metrics, if set, are updated by the joiner.
	Metrics *Metrics
	// TestingKnobs are used by tests only.
	TestingKnobs TestingKnobs

	depth       int
	diskMonitor *mon.BytesMonitor
}

// TestingKnobs are the test-only options of a SpillingHashJoiner.
type TestingKnobs struct {
	// NumForcedRepartitions makes the joiners at depths below it spill all
	// partitions regardless of their size.
	NumForcedRepartitions int
}

const (
	buildSide = "build"
	probeSide = "probe"
)

// SpillingHashJoiner is a hash joiner driven by pushing batches into it.
//
// The build input is hashed into the partitions of a hash table. When the
// table grows past Config.MinReserveBytes, the largest partition is written
// to a spill file and the build rows hashed to it afterwards follow it
// there. Probe rows are joined against the resident partitions right away
// and written to the spill files of the spilled ones. Once the probe input
// is exhausted, every spilled partition is joined by a nested joiner, with
// a different hash seed, that may in turn spill until
// Config.MaxRecursionDepth.
//
// The output does not depend on whether the joiner spilled; its order does.
// Rows of resident partitions come in probe order, with the matches of a
// probe row in build order, followed by the unmatched build rows for right
// and full outer joins, followed by the output of the spilled partitions in
// partition order.
//
// Errors are fatal: the joiner releases its memory and removes its spill
// files before returning one, and only Close may be called afterwards.
type SpillingHashJoiner struct {
	spec        HashJoinerSpec
	cfg         Config
	fs          vfs.FS
	fdSemaphore semaphore.Semaphore
	metrics     *Metrics
	knobs       TestingKnobs
	depth       int

	state hjState

	parentMon  *mon.BytesMonitor
	rootMon    *mon.BytesMonitor
	mon        *mon.BytesMonitor
	htMon      *mon.BytesMonitor
	spillMon   *mon.BytesMonitor
	outputMon  *mon.BytesMonitor
	parentDisk *mon.BytesMonitor
	diskMon    *mon.BytesMonitor

	htAcc, spillAcc, outputAcc, diskAcc mon.BoundAccount

	htAllocator     *colmem.Allocator
	spillAllocator  *colmem.Allocator
	outputAllocator *colmem.Allocator

	ht          *colexechash.HashTable
	outputTypes []*coltypes.T
	output      coldata.Batch

	buildQueue *colcontainer.PartitionedDiskQueue
	probeQueue *colcontainer.PartitionedDiskQueue
	// spilledPartitions lists the spilled partitions in increasing order
	// once the build is done.
	spilledPartitions []int
	probeRowsSpilled  []int64

	buildScratch, probeScratch coldata.Batch
	recoverBuild, recoverProbe coldata.Batch

	buildChecked, probeChecked bool

	probe struct {
		// batch is the probe batch being joined, nil if none.
		batch     coldata.Batch
		keyVecs   []coldata.Vec
		hashes    []uint64
		matchable []bool

		// The position within batch: row is the current row, and next the
		// keyID of its next candidate match, 0 if there is none. started
		// is set once the candidates of row were looked up.
		row          int
		partitionIdx int
		next         uint32
		started      bool
		skip         bool
		matched      bool
	}

	stats  Stats
	closed bool
}

// NewSpillingHashJoiner creates a joiner. Setup must be called before
// anything else.
func NewSpillingHashJoiner(args HashJoinerArgs) *SpillingHashJoiner {
	fs := args.FS
	if fs == nil {
		fs = vfs.Default
	}
	return &SpillingHashJoiner{
		spec:        args.Spec,
		cfg:         args.Config,
		fs:          fs,
		fdSemaphore: args.FDSemaphore,
		metrics:     args.Metrics,
		knobs:       args.TestingKnobs,
		depth:       args.depth,
		parentMon:   args.Monitor,
		parentDisk:  args.diskMonitor,
		state:       hjNeedsSetup{},
	}
}

// Setup validates the arguments and acquires the memory monitors.
func (hj *SpillingHashJoiner) Setup(ctx context.Context) error {
	_, ok := hj.state.(hjNeedsSetup)
	if err := hj.checkCall(ctx, "Setup", ok); err != nil {
		return err
	}
	if err := colexecerror.CatchVectorizedRuntimeError(func() { hj.setup(ctx) }); err != nil {
		return hj.fail(ctx, err)
	}
	return hj.transition(hjBuild{})
}

func (hj *SpillingHashJoiner) setup(ctx context.Context) {
	if err := hj.spec.Validate(); err != nil {
		colexecerror.ExpectedError(err)
	}
	if err := hj.cfg.Validate(); err != nil {
		colexecerror.ExpectedError(err)
	}
	parent, limit := hj.parentMon, int64(hj.cfg.MemoryLimitBytes)
	if parent == nil {
		hj.rootMon = mon.NewMonitor("hash-joiner-root", limit)
		parent = hj.rootMon
	}
	if hj.depth > 0 {
		// Nested joiners are bounded by the limit of the top-level one.
		limit = 0
	}
	hj.mon = newChildMonitor(ctx, parent, "hash-joiner", limit)
	hj.htMon = newChildMonitor(ctx, hj.mon, "hash-joiner-table", 0)
	hj.spillMon = newChildMonitor(ctx, hj.mon, "hash-joiner-spill", 0)
	hj.outputMon = newChildMonitor(ctx, hj.mon, "hash-joiner-output", 0)
	if hj.parentDisk != nil {
		hj.diskMon = newChildMonitor(ctx, hj.parentDisk, "hash-joiner-disk", 0)
	} else {
		hj.diskMon = mon.NewMonitor("hash-joiner-disk", 0)
	}
	hj.htAcc = hj.htMon.MakeBoundAccount()
	hj.spillAcc = hj.spillMon.MakeBoundAccount()
	hj.outputAcc = hj.outputMon.MakeBoundAccount()
	hj.diskAcc = hj.diskMon.MakeBoundAccount()
	hj.htAllocator = colmem.NewAllocator(ctx, &hj.htAcc)
	hj.spillAllocator = colmem.NewAllocator(ctx, &hj.spillAcc)
	hj.outputAllocator = colmem.NewAllocator(ctx, &hj.outputAcc)

	ht, err := colexechash.NewHashTable(colexechash.HashTableArgs{
		Allocator:         hj.htAllocator,
		Types:             hj.spec.BuildTypes,
		KeyCols:           hj.spec.BuildKeyCols,
		NumPartitions:     hj.cfg.NumPartitions,
		Seed:              colexechash.SeedForDepth(hj.depth),
		AllowNullEquality: hj.spec.AllowNullEquality,
		BatchSize:         hj.cfg.MaxBatchRows,
	})
	if err != nil {
		colexecerror.ExpectedError(err)
	}
	hj.ht = ht
	hj.outputTypes = hj.spec.OutputTypes()
	hj.probe.keyVecs = make([]coldata.Vec, len(hj.spec.ProbeKeyCols))

	if hj.cfg.EnableSpill {
		if hj.fdSemaphore == nil {
			hj.fdSemaphore = semaphore.New(hj.cfg.MaxOpenFiles)
		}
		queueCfg := colcontainer.DiskQueueCfg{
			FS:          hj.fs,
			Path:        hj.cfg.SpillDir,
			Compression: hj.cfg.SpillCompression,
		}
		hj.buildQueue = colcontainer.NewPartitionedDiskQueue(
			coltypes.MakeSchema(hj.spec.BuildTypes...), queueCfg, hj.cfg.NumPartitions,
			hj.fdSemaphore, hj.spillAllocator, &hj.diskAcc,
		)
		hj.probeQueue = colcontainer.NewPartitionedDiskQueue(
			coltypes.MakeSchema(hj.spec.ProbeTypes...), queueCfg, hj.cfg.NumPartitions,
			hj.fdSemaphore, hj.spillAllocator, &hj.diskAcc,
		)
		hj.probeRowsSpilled = make([]int64, hj.cfg.NumPartitions)
	}
	hj.stats.MaxDepth = hj.depth
}

func newChildMonitor(
	ctx context.Context, parent *mon.BytesMonitor, name redact.SafeString, limit int64,
) *mon.BytesMonitor {
	m, err := parent.NewChild(ctx, name, 0, limit)
	if err != nil {
		colexecerror.ExpectedError(err)
	}
	return m
}

// ConsumeBuild adds the rows of b to the hash table. b may be reused once
// ConsumeBuild returns.
func (hj *SpillingHashJoiner) ConsumeBuild(ctx context.Context, b coldata.Batch) error {
	_, ok := hj.state.(hjBuild)
	if err := hj.checkCall(ctx, "ConsumeBuild", ok); err != nil {
		return err
	}
	if b.Length() == 0 {
		return nil
	}
	if err := colexecerror.CatchVectorizedRuntimeError(func() { hj.consumeBuild(ctx, b) }); err != nil {
		return hj.fail(ctx, err)
	}
	return nil
}

func (hj *SpillingHashJoiner) consumeBuild(ctx context.Context, b coldata.Batch) {
	if !hj.buildChecked {
		checkBatchTypes(b, hj.spec.BuildTypes, buildSide)
		hj.buildChecked = true
	}
	for partitionIdx, rows := range hj.ht.Route(b, hj.spec.BuildKeyCols) {
		if len(rows) == 0 {
			continue
		}
		hj.insertBuildRows(ctx, partitionIdx, b, rows)
	}
	hj.maybeSpill(ctx)
	hj.recordPeakMemory()
}

// insertBuildRows adds the given rows of b to their partition, or to its
// spill file once the partition is spilled.
func (hj *SpillingHashJoiner) insertBuildRows(
	ctx context.Context, partitionIdx int, b coldata.Batch, rows []int,
) {
	hj.retryOnOutOfMemory(ctx, func() error {
		if hj.ht.Partition(partitionIdx).Spilled() {
			return nil
		}
		return hj.ht.TryInsertRows(partitionIdx, b, rows)
	})
	if hj.ht.Partition(partitionIdx).Spilled() {
		hj.spillRows(ctx, buildSide, partitionIdx, b, rows)
	}
}

// retryOnOutOfMemory runs f until it succeeds. f must leave the accounting
// untouched when it fails. While the build input is consumed, running out of
// memory spills the largest resident partition before f is retried; it is an
// error only once no resident partition is left.
func (hj *SpillingHashJoiner) retryOnOutOfMemory(ctx context.Context, f func() error) {
	for {
		err := f()
		if err == nil {
			return
		}
		_, building := hj.state.(hjBuild)
		if !hj.cfg.EnableSpill || !building || !errors.Is(err, colexecerror.ErrOutOfMemory) {
			colexecerror.ExpectedError(err)
		}
		victim := hj.ht.LargestResidentPartition()
		if victim < 0 {
			colexecerror.ExpectedError(err)
		}
		log.VEventf(ctx, 2, "out of memory, spilling partition %d: %v", victim, err)
		hj.spillVictim(ctx, victim)
	}
}

// maybeSpill spills the largest resident partitions while the hash table is
// too large.
func (hj *SpillingHashJoiner) maybeSpill(ctx context.Context) {
	if !hj.cfg.EnableSpill {
		return
	}
	forced := hj.depth < hj.knobs.NumForcedRepartitions
	for forced || hj.htMon.Used() > int64(hj.cfg.MinReserveBytes) {
		victim := hj.ht.LargestResidentPartition()
		if victim < 0 {
			return
		}
		hj.spillVictim(ctx, victim)
	}
}

// spillVictim spills the partition unless the joiner is too deep to recurse
// into it later.
func (hj *SpillingHashJoiner) spillVictim(ctx context.Context, victim int) {
	if hj.depth >= hj.cfg.MaxRecursionDepth {
		colexecerror.ExpectedError(colexecerror.NewRecursionLimitExceededError(
			hj.depth, hj.cfg.MaxRecursionDepth, victim))
	}
	hj.spillPartition(ctx, victim)
}

// spillLogEvery limits the spill messages logged without verbosity.
var spillLogEvery = log.Every(10 * time.Second)

func (hj *SpillingHashJoiner) spillPartition(ctx context.Context, partitionIdx int) {
	ctx = hj.annotate(ctx)
	if log.V(1) {
		log.VEventf(ctx, 1, "spilling %s, hash table at %s",
			hj.ht.Partition(partitionIdx), humanizeutil.IBytes(hj.htMon.Used()))
	} else if spillLogEvery.ShouldLog() {
		log.Infof(ctx, "hash table at %s, spilling to %s",
			humanizeutil.IBytes(hj.htMon.Used()), redact.SafeString(hj.cfg.SpillDir))
	}
	batches, sizes := hj.ht.ExtractPartition(partitionIdx)
	defer func() {
		for _, size := range sizes {
			hj.htAllocator.ReleaseMemory(size)
		}
	}()
	for i, b := range batches {
		// The batch is dropped once written, so serializing it may use its
		// budget.
		hj.htAllocator.ReleaseMemory(sizes[i])
		sizes[i] = 0
		hj.enqueue(ctx, buildSide, partitionIdx, b)
		batches[i] = nil
	}
	hj.stats.SpillEvents++
	hj.metrics.recordSpillEvent()
}

// spillRows writes the given rows of b to the spill file of the partition.
func (hj *SpillingHashJoiner) spillRows(
	ctx context.Context, side string, partitionIdx int, b coldata.Batch, rows []int,
) {
	scratch, typs := &hj.buildScratch, hj.spec.BuildTypes
	if side == probeSide {
		scratch, typs = &hj.probeScratch, hj.spec.ProbeTypes
		hj.probeRowsSpilled[partitionIdx] += int64(len(rows))
	}
	if *scratch == nil || (*scratch).Capacity() < len(rows) {
		if *scratch != nil {
			hj.spillAllocator.ReleaseBatch(*scratch)
			*scratch = nil
		}
		hj.retryOnOutOfMemory(ctx, func() error {
			return colexecerror.CatchVectorizedRuntimeError(func() {
				*scratch = hj.spillAllocator.NewMemBatchWithFixedCapacity(typs, len(rows))
			})
		})
	} else {
		hj.spillAllocator.PerformOperation((*scratch).ColVecs(), (*scratch).Reset)
	}
	s := *scratch
	before := colmem.GetBatchMemSize(s)
	for colIdx, vec := range s.ColVecs() {
		vec.Copy(coldata.CopyArgs{
			Src:         b.ColVec(colIdx),
			Sel:         rows,
			SrcStartIdx: 0,
			SrcEndIdx:   len(rows),
		})
	}
	s.SetLength(len(rows))
	if delta := colmem.GetBatchMemSize(s) - before; delta > 0 {
		hj.retryOnOutOfMemory(ctx, func() error {
			return hj.spillAllocator.Acc().Grow(ctx, delta)
		})
	}
	hj.enqueue(ctx, side, partitionIdx, s)
}

func (hj *SpillingHashJoiner) enqueue(
	ctx context.Context, side string, partitionIdx int, b coldata.Batch,
) {
	q := hj.buildQueue
	if side == probeSide {
		q = hj.probeQueue
	}
	before := hj.diskAcc.Used()
	if err := q.Enqueue(ctx, partitionIdx, b); err != nil {
		colexecerror.ExpectedError(err)
	}
	written, rows := hj.diskAcc.Used()-before, int64(b.Length())
	if side == buildSide {
		hj.stats.BuildRowsSpilled += rows
	} else {
		hj.stats.ProbeRowsSpilled += rows
	}
	hj.stats.BytesSpilled += written
	hj.metrics.recordSpill(side, rows, written)
}

// NoMoreBuild signals that the build input is exhausted.
func (hj *SpillingHashJoiner) NoMoreBuild(ctx context.Context) error {
	_, ok := hj.state.(hjBuild)
	if err := hj.checkCall(ctx, "NoMoreBuild", ok); err != nil {
		return err
	}
	if hj.buildQueue != nil {
		for i := 0; i < hj.ht.NumPartitions(); i++ {
			if hj.ht.Partition(i).Spilled() {
				hj.spilledPartitions = append(hj.spilledPartitions, i)
			}
		}
		// The build files are only read again during recovery.
		if err := hj.buildQueue.CloseAllOpenFiles(); err != nil {
			return hj.fail(ctx, colexecerror.NewSpillIOError(err, "hash joiner: closing build spill files"))
		}
		if len(hj.spilledPartitions) > 0 {
			log.VEventf(hj.annotate(ctx), 1, "build done with %d of %d partitions spilled",
				len(hj.spilledPartitions), hj.ht.NumPartitions())
		}
	}
	return hj.transition(hjBuildDone{})
}

// ConsumeProbe hands the next probe batch to the joiner, which keeps it
// until its output was produced: the caller must call Output until State
// returns CanConsumeProbe again before reusing b.
func (hj *SpillingHashJoiner) ConsumeProbe(ctx context.Context, b coldata.Batch) error {
	var ok bool
	switch hj.state.(type) {
	case hjBuildDone:
		ok = true
	case hjProbe:
		ok = hj.probe.batch == nil
	}
	if err := hj.checkCall(ctx, "ConsumeProbe", ok); err != nil {
		return err
	}
	if _, first := hj.state.(hjBuildDone); first {
		if err := hj.transition(hjProbe{}); err != nil {
			return hj.fail(ctx, err)
		}
	}
	if b.Length() == 0 {
		return nil
	}
	if err := colexecerror.CatchVectorizedRuntimeError(func() { hj.consumeProbe(ctx, b) }); err != nil {
		return hj.fail(ctx, err)
	}
	return nil
}

func (hj *SpillingHashJoiner) consumeProbe(ctx context.Context, b coldata.Batch) {
	if !hj.probeChecked {
		checkBatchTypes(b, hj.spec.ProbeTypes, probeSide)
		hj.probeChecked = true
	}
	ps := &hj.probe
	n := b.Length()
	byPartition := hj.ht.Route(b, hj.spec.ProbeKeyCols)
	ps.hashes = ps.hashes[:0]
	ps.matchable = ps.matchable[:0]
	for i := 0; i < n; i++ {
		ps.hashes = append(ps.hashes, hj.ht.Hash(i))
		ps.matchable = append(ps.matchable, hj.ht.Matchable(i))
	}
	for partitionIdx, rows := range byPartition {
		if len(rows) > 0 && hj.ht.Partition(partitionIdx).Spilled() {
			hj.spillRows(ctx, probeSide, partitionIdx, b, rows)
		}
	}
	for i, colIdx := range hj.spec.ProbeKeyCols {
		ps.keyVecs[i] = b.ColVec(colIdx)
	}
	ps.batch = b
	ps.row = 0
	ps.started = false
}

// NoMoreProbe signals that the probe input is exhausted.
func (hj *SpillingHashJoiner) NoMoreProbe(ctx context.Context) error {
	var ok bool
	switch hj.state.(type) {
	case hjBuildDone:
		ok = true
	case hjProbe:
		ok = hj.probe.batch == nil
	}
	if err := hj.checkCall(ctx, "NoMoreProbe", ok); err != nil {
		return err
	}
	if hj.probeQueue != nil {
		if err := hj.probeQueue.CloseAllOpenFiles(); err != nil {
			return hj.fail(ctx, colexecerror.NewSpillIOError(err, "hash joiner: closing probe spill files"))
		}
	}
	return hj.transition(&hjProbeDone{})
}

// Output returns the next output batch, valid until the next call to the
// joiner. A zero-length batch is returned when the joiner needs more probe
// input or is done; State tells which.
func (hj *SpillingHashJoiner) Output(ctx context.Context) (coldata.Batch, error) {
	if err := hj.checkCall(ctx, "Output", true); err != nil {
		return nil, err
	}
	var out coldata.Batch
	if err := colexecerror.CatchVectorizedRuntimeError(func() { out = hj.produce(ctx) }); err != nil {
		return nil, hj.fail(ctx, err)
	}
	return out, nil
}

func (hj *SpillingHashJoiner) produce(ctx context.Context) coldata.Batch {
	for {
		switch s := hj.state.(type) {
		case hjProbe:
			if hj.probe.batch == nil {
				return coldata.ZeroBatch
			}
			out := hj.prepareOutput()
			hj.outputAllocator.PerformOperation(out.ColVecs(), func() { hj.probeRows(out) })
			return hj.emit(out)

		case *hjProbeDone:
			if hj.spec.JoinType.preservesBuild() {
				out := hj.prepareOutput()
				hj.outputAllocator.PerformOperation(out.ColVecs(), func() { hj.unmatchedBuildRows(s, out) })
				if out.Length() > 0 {
					return hj.emit(out)
				}
			}
			hj.finishResident(ctx)

		case *hjRecover:
			if out := hj.recover(ctx, s); out != nil {
				hj.stats.OutputRows += int64(out.Length())
				return out
			}

		case hjDone:
			return coldata.ZeroBatch

		default:
			colexecerror.InternalError(errors.AssertionFailedf("hash joiner: Output called in state %s", s))
		}
	}
}

func (hj *SpillingHashJoiner) prepareOutput() coldata.Batch {
	hj.output, _ = hj.outputAllocator.ResetMaybeReallocate(hj.outputTypes, hj.output, hj.cfg.MaxBatchRows)
	return hj.output
}

func (hj *SpillingHashJoiner) emit(out coldata.Batch) coldata.Batch {
	hj.stats.OutputRows += int64(out.Length())
	hj.recordPeakMemory()
	return out
}

// probeRows joins the rows of the current probe batch against the resident
// partitions until out is full or the batch is done.
func (hj *SpillingHashJoiner) probeRows(out coldata.Batch) {
	ps := &hj.probe
	b := ps.batch
	jt := hj.spec.JoinType
	full := func() bool { return out.Length() == out.Capacity() }
	for n := b.Length(); ps.row < n; ps.row, ps.started = ps.row+1, false {
		if !ps.started {
			ps.started, ps.matched, ps.next = true, false, 0
			ps.partitionIdx = hj.ht.PartitionIdx(ps.hashes[ps.row])
			ps.skip = hj.ht.Partition(ps.partitionIdx).Spilled()
			if !ps.skip && ps.matchable[ps.row] {
				ps.next = hj.ht.FirstMatch(ps.partitionIdx, ps.hashes[ps.row], ps.keyVecs, ps.row)
			}
		}
		partition := hj.ht.Partition(ps.partitionIdx)
		for ps.next != 0 {
			keyID := ps.next
			buildBatch, buildRow := partition.Row(keyID)
			if hj.spec.OnExpr == nil || hj.spec.OnExpr(buildBatch, buildRow, b, ps.row) {
				switch jt {
				case LeftSemiJoin:
					if full() {
						return
					}
					hj.appendProbeRow(out, b, ps.row)
					ps.matched, ps.next = true, 0
					continue
				case LeftAntiJoin:
					ps.matched, ps.next = true, 0
					continue
				default:
					if full() {
						return
					}
					ps.matched = true
					if jt.preservesBuild() {
						partition.MarkMatched(keyID)
					}
					hj.appendPair(out, buildBatch, buildRow, b, ps.row)
				}
			}
			ps.next = hj.ht.NextMatch(ps.partitionIdx, keyID, ps.hashes[ps.row], ps.keyVecs, ps.row)
		}
		if !ps.skip && !ps.matched && jt.preservesProbe() {
			if full() {
				return
			}
			if jt == LeftAntiJoin {
				hj.appendProbeRow(out, b, ps.row)
			} else {
				hj.appendPair(out, nil, 0, b, ps.row)
			}
		}
	}
	ps.batch = nil
	for i := range ps.keyVecs {
		ps.keyVecs[i] = nil
	}
}

// unmatchedBuildRows emits the build rows of the resident partitions that
// matched no probe row.
func (hj *SpillingHashJoiner) unmatchedBuildRows(s *hjProbeDone, out coldata.Batch) {
	for ; s.partitionIdx < hj.ht.NumPartitions(); s.partitionIdx, s.ord = s.partitionIdx+1, 0 {
		p := hj.ht.Partition(s.partitionIdx)
		for ; s.ord < p.NumRows(); s.ord++ {
			if p.Matched(s.ord) {
				continue
			}
			if out.Length() == out.Capacity() {
				return
			}
			buildBatch, buildRow := p.Row(uint32(s.ord + 1))
			hj.appendPair(out, buildBatch, buildRow, nil, 0)
		}
	}
}

// appendPair appends an output row made of a build row and a probe row. A
// nil batch stands for a row of NULLs.
func (hj *SpillingHashJoiner) appendPair(
	out coldata.Batch, build coldata.Batch, buildRow int, probe coldata.Batch, probeRow int,
) {
	i := out.Length()
	numBuildCols := len(hj.spec.BuildTypes)
	for colIdx := 0; colIdx < numBuildCols; colIdx++ {
		copyValue(out.ColVec(colIdx), i, build, colIdx, buildRow)
	}
	for colIdx := range hj.spec.ProbeTypes {
		copyValue(out.ColVec(numBuildCols+colIdx), i, probe, colIdx, probeRow)
	}
	out.SetLength(i + 1)
}

// appendProbeRow appends a probe row to the output of a semi or anti join.
func (hj *SpillingHashJoiner) appendProbeRow(out coldata.Batch, probe coldata.Batch, probeRow int) {
	i := out.Length()
	for colIdx := range hj.spec.ProbeTypes {
		copyValue(out.ColVec(colIdx), i, probe, colIdx, probeRow)
	}
	out.SetLength(i + 1)
}

func copyValue(dst coldata.Vec, dstIdx int, src coldata.Batch, colIdx, srcIdx int) {
	if src == nil {
		dst.Set(dstIdx, nil)
		return
	}
	dst.Copy(coldata.CopyArgs{
		Src:         src.ColVec(colIdx),
		DestIdx:     dstIdx,
		SrcStartIdx: srcIdx,
		SrcEndIdx:   srcIdx + 1,
	})
}

// finishResident releases the hash table once all resident partitions are
// joined and moves on to the spilled partitions.
func (hj *SpillingHashJoiner) finishResident(ctx context.Context) {
	hj.ht.Release()
	var next hjState = hjDone{}
	if len(hj.spilledPartitions) > 0 {
		next = &hjRecover{partitionIdx: -1}
	}
	if err := hj.transition(next); err != nil {
		colexecerror.InternalError(err)
	}
}

// recover drives the joiners of the spilled partitions. It returns nil once
// all of them are done.
func (hj *SpillingHashJoiner) recover(ctx context.Context, s *hjRecover) coldata.Batch {
	for {
		if s.child == nil {
			if s.next == len(hj.spilledPartitions) {
				if err := hj.transition(hjDone{}); err != nil {
					colexecerror.InternalError(err)
				}
				return nil
			}
			partitionIdx := hj.spilledPartitions[s.next]
			s.next++
			if hj.probeRowsSpilled[partitionIdx] == 0 && !hj.spec.JoinType.preservesBuild() {
				// Without probe rows, nothing of this partition is emitted.
				hj.closePartition(ctx, partitionIdx)
				continue
			}
			hj.startRecovery(ctx, s, partitionIdx)
		}
		child := s.child
		switch child.State() {
		case colexecop.CanProduce:
			out, err := child.Output(ctx)
			if err != nil {
				colexecerror.ExpectedError(err)
			}
			if out.Length() > 0 {
				return out
			}
		case colexecop.CanConsumeProbe:
			b, ok, err := hj.probeQueue.Dequeue(ctx, s.partitionIdx, hj.recoverProbe)
			if err != nil {
				colexecerror.ExpectedError(err)
			}
			if ok {
				hj.recoverProbe = b
				err = child.ConsumeProbe(ctx, b)
			} else {
				err = child.NoMoreProbe(ctx)
			}
			if err != nil {
				colexecerror.ExpectedError(err)
			}
		case colexecop.Done:
			hj.finishRecovery(ctx, s)
		default:
			colexecerror.InternalError(errors.AssertionFailedf(
				"hash joiner: nested joiner in unexpected state %s", child.State()))
		}
	}
}

// startRecovery creates the joiner of a spilled partition and feeds it the
// partition's build rows.
func (hj *SpillingHashJoiner) startRecovery(ctx context.Context, s *hjRecover, partitionIdx int) {
	ctx = hj.annotate(ctx)
	log.VEventf(ctx, 1, "joining spilled partition %d: %d build rows, %d probe rows",
		partitionIdx, hj.buildQueue.Partition(partitionIdx).NumRows(), hj.probeRowsSpilled[partitionIdx])
	hj.stats.PartitionsRecursed++
	hj.metrics.recordRecursion()
	s.partitionIdx = partitionIdx
	s.child = NewSpillingHashJoiner(HashJoinerArgs{
		Spec:         hj.spec,
		Config:       hj.cfg,
		Monitor:      hj.mon,
		FS:           hj.fs,
		FDSemaphore:  hj.fdSemaphore,
		Metrics:      hj.metrics,
		TestingKnobs: hj.knobs,
		depth:        hj.depth + 1,
		diskMonitor:  hj.diskMon,
	})
	if err := s.child.Setup(ctx); err != nil {
		colexecerror.ExpectedError(err)
	}
	for {
		b, ok, err := hj.buildQueue.Dequeue(ctx, partitionIdx, hj.recoverBuild)
		if err != nil {
			colexecerror.ExpectedError(err)
		}
		if !ok {
			break
		}
		hj.recoverBuild = b
		if err := s.child.ConsumeBuild(ctx, b); err != nil {
			colexecerror.ExpectedError(err)
		}
	}
	if err := s.child.NoMoreBuild(ctx); err != nil {
		colexecerror.ExpectedError(err)
	}
	if err := hj.buildQueue.ClosePartition(ctx, partitionIdx); err != nil {
		colexecerror.ExpectedError(err)
	}
}

func (hj *SpillingHashJoiner) finishRecovery(ctx context.Context, s *hjRecover) {
	child := s.child
	s.child = nil
	err := child.Close(ctx)
	stats := child.Stats()
	hj.stats.merge(stats)
	if err != nil {
		colexecerror.ExpectedError(err)
	}
	hj.closePartition(ctx, s.partitionIdx)
	s.partitionIdx = -1
}

func (hj *SpillingHashJoiner) closePartition(ctx context.Context, partitionIdx int) {
	err := errors.CombineErrors(
		hj.buildQueue.ClosePartition(ctx, partitionIdx),
		hj.probeQueue.ClosePartition(ctx, partitionIdx),
	)
	if err != nil {
		colexecerror.ExpectedError(err)
	}
}

// Stats returns the statistics of the joiner and of the nested joiners that
// are done.
func (hj *SpillingHashJoiner) Stats() Stats {
	stats := hj.stats
	if hj.mon != nil {
		stats.PeakMemoryBytes = max(stats.PeakMemoryBytes, hj.mon.MaximumBytes())
	}
	if hj.diskMon != nil {
		stats.PeakDiskBytes = max(stats.PeakDiskBytes, hj.diskMon.MaximumBytes())
	}
	return stats
}

func (hj *SpillingHashJoiner) recordPeakMemory() {
	hj.metrics.recordPeakMemory(hj.mon.MaximumBytes())
}

// Close releases all resources of the joiner and removes its spill files.
// It returns an error if memory was leaked. Close is idempotent.
func (hj *SpillingHashJoiner) Close(ctx context.Context) error {
	if hj.closed {
		return nil
	}
	hj.closed = true
	err := hj.release(ctx)
	hj.stats = hj.Stats()
	if hj.mon != nil {
		hj.recordPeakMemory()
		hj.htAcc.Close(ctx)
		hj.spillAcc.Close(ctx)
		hj.outputAcc.Close(ctx)
		hj.diskAcc.Close(ctx)
		for _, m := range []*mon.BytesMonitor{
			hj.htMon, hj.spillMon, hj.outputMon, hj.mon, hj.diskMon, hj.rootMon,
		} {
			if m != nil {
				err = errors.CombineErrors(err, m.Stop(ctx))
			}
		}
	}
	if _, done := hj.state.(hjDone); !done {
		hj.state = hjDone{}
	}
	return err
}

// release frees the memory and the spill files of the joiner, keeping the
// monitors open.
func (hj *SpillingHashJoiner) release(ctx context.Context) error {
	var err error
	if s, ok := hj.state.(*hjRecover); ok && s.child != nil {
		err = s.child.Close(ctx)
		hj.stats.merge(s.child.Stats())
		s.child = nil
	}
	if hj.buildQueue != nil {
		err = errors.CombineErrors(err, hj.buildQueue.Close(ctx))
		err = errors.CombineErrors(err, hj.probeQueue.Close(ctx))
	}
	if hj.ht != nil {
		hj.ht.Release()
	}
	hj.probe.batch = nil
	hj.output, hj.buildScratch, hj.probeScratch = nil, nil, nil
	hj.recoverBuild, hj.recoverProbe = nil, nil
	for _, a := range []*colmem.Allocator{hj.htAllocator, hj.spillAllocator, hj.outputAllocator} {
		if a != nil {
			a.ReleaseAll()
		}
	}
	return err
}

// fail releases everything and moves the joiner to the final state. err is
// returned by all later calls.
func (hj *SpillingHashJoiner) fail(ctx context.Context, err error) error {
	if relErr := hj.release(ctx); relErr != nil {
		log.Warningf(hj.annotate(ctx), "cleaning up after %v: %v", err, relErr)
	}
	hj.state = hjDone{err: err}
	return err
}

// checkCall returns an error if a method may not be called: after an
// error, on cancellation, or in the wrong state.
func (hj *SpillingHashJoiner) checkCall(ctx context.Context, method string, ok bool) error {
	if s, done := hj.state.(hjDone); done && s.err != nil {
		return s.err
	}
	if hj.closed {
		return errors.AssertionFailedf("hash joiner: %s called after Close", method)
	}
	if err := ctx.Err(); err != nil {
		return hj.fail(ctx, err)
	}
	if !ok {
		return errors.AssertionFailedf("hash joiner: %s called in state %s", method, hj.state)
	}
	return nil
}

func (hj *SpillingHashJoiner) annotate(ctx context.Context) context.Context {
	return logtags.AddTag(logtags.AddTag(ctx, "hashjoiner", nil), "depth", hj.depth)
}

// checkBatchTypes verifies that the first batch of an input has the
// declared schema.
func checkBatchTypes(b coldata.Batch, typs []*coltypes.T, side string) {
	if !coltypes.TypesIdentical(coldata.Types(b), typs) {
		colexecerror.ExpectedError(colexecerror.NewSchemaMismatchError(
			"hash joiner: %s batch of types %s, expected %s",
			side, coltypes.MakeSchema(coldata.Types(b)...), coltypes.MakeSchema(typs...)))
	}
}
