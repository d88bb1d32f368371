// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colcontainer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/marusama/semaphore"
)

// PartitionedQueue is the abstraction for on-disk storage of partitions.
type PartitionedQueue interface {
	// Enqueue adds the batch to the end of the partitionIdx'th partition.
	Enqueue(ctx context.Context, partitionIdx int, batch coldata.Batch) error
	// Dequeue removes and returns the batch from the front of the
	// partitionIdx'th partition. It returns false once the partition is
	// exhausted or was never written to.
	Dequeue(ctx context.Context, partitionIdx int, dst coldata.Batch) (coldata.Batch, bool, error)
	// CloseAllOpenFiles gives up every file handle held by the queue.
	CloseAllOpenFiles() error
	// Close removes all partitions.
	Close(ctx context.Context) error
}

// PartitionedDiskQueue is a PartitionedQueue keeping one DiskQueue per
// partition. The number of file handles open at the same time is bounded by
// a semaphore, which may be shared between several queues. When no handle
// can be acquired, the least recently used handle of this queue is closed.
type PartitionedDiskQueue struct {
	schema      coltypes.Schema
	cfg         DiskQueueCfg
	allocator   *colmem.Allocator
	diskAcc     *mon.BoundAccount
	fdSemaphore semaphore.Semaphore

	partitions []*DiskQueue
	// lastUsed holds, per partition, the tick of the last operation.
	lastUsed   []int64
	tick       int64
	numOpenFDs int
}

var _ PartitionedQueue = &PartitionedDiskQueue{}

// NewPartitionedDiskQueue creates a PartitionedDiskQueue with numPartitions
// partitions. The partition files are created lazily. If fdSemaphore is
// nil, the number of open files is not limited.
func NewPartitionedDiskQueue(
	schema coltypes.Schema,
	cfg DiskQueueCfg,
	numPartitions int,
	fdSemaphore semaphore.Semaphore,
	allocator *colmem.Allocator,
	diskAcc *mon.BoundAccount,
) *PartitionedDiskQueue {
	return &PartitionedDiskQueue{
		schema:      schema,
		cfg:         cfg,
		allocator:   allocator,
		diskAcc:     diskAcc,
		fdSemaphore: fdSemaphore,
		partitions:  make([]*DiskQueue, numPartitions),
		lastUsed:    make([]int64, numPartitions),
	}
}

// Partition returns the disk queue of the partitionIdx'th partition, or nil
// if nothing was written to it.
func (p *PartitionedDiskQueue) Partition(partitionIdx int) *DiskQueue {
	return p.partitions[partitionIdx]
}

// NumOpenFDs returns the number of file handles currently held.
func (p *PartitionedDiskQueue) NumOpenFDs() int {
	return p.numOpenFDs
}

// prepare makes sure that the queue of the partition holds a file handle
// before an operation on it.
func (p *PartitionedDiskQueue) prepare(ctx context.Context, partitionIdx int) error {
	p.tick++
	p.lastUsed[partitionIdx] = p.tick
	q := p.partitions[partitionIdx]
	if q.HasOpenFile() {
		return nil
	}
	if p.fdSemaphore != nil {
		for !p.fdSemaphore.TryAcquire(1) {
			victim := p.leastRecentlyUsedOpen(partitionIdx)
			if victim < 0 {
				// Other queues hold all handles, wait for one of them.
				if err := p.fdSemaphore.Acquire(ctx, 1); err != nil {
					return err
				}
				break
			}
			if err := p.closeFile(victim); err != nil {
				return err
			}
		}
	}
	p.numOpenFDs++
	return nil
}

// settle gives the handle reserved by prepare back if the queue did not end
// up holding one.
func (p *PartitionedDiskQueue) settle(partitionIdx int) {
	if !p.partitions[partitionIdx].HasOpenFile() {
		p.release()
	}
}

func (p *PartitionedDiskQueue) release() {
	p.numOpenFDs--
	if p.fdSemaphore != nil {
		p.fdSemaphore.Release(1)
	}
}

func (p *PartitionedDiskQueue) leastRecentlyUsedOpen(except int) int {
	victim := -1
	for i, q := range p.partitions {
		if i == except || q == nil || !q.HasOpenFile() {
			continue
		}
		if victim < 0 || p.lastUsed[i] < p.lastUsed[victim] {
			victim = i
		}
	}
	return victim
}

func (p *PartitionedDiskQueue) closeFile(partitionIdx int) error {
	q := p.partitions[partitionIdx]
	if q == nil || !q.HasOpenFile() {
		return nil
	}
	err := q.CloseFile()
	p.release()
	return err
}

// Enqueue implements the PartitionedQueue interface.
func (p *PartitionedDiskQueue) Enqueue(
	ctx context.Context, partitionIdx int, batch coldata.Batch,
) error {
	if batch.Length() == 0 {
		return nil
	}
	if p.partitions[partitionIdx] == nil {
		q, err := NewDiskQueue(ctx, p.schema, p.cfg, p.allocator, p.diskAcc)
		if err != nil {
			return err
		}
		p.partitions[partitionIdx] = q
	}
	if err := p.prepare(ctx, partitionIdx); err != nil {
		return err
	}
	err := p.partitions[partitionIdx].Enqueue(ctx, batch)
	p.settle(partitionIdx)
	return err
}

// Dequeue implements the PartitionedQueue interface.
func (p *PartitionedDiskQueue) Dequeue(
	ctx context.Context, partitionIdx int, dst coldata.Batch,
) (coldata.Batch, bool, error) {
	q := p.partitions[partitionIdx]
	if q == nil {
		return dst, false, nil
	}
	if err := p.prepare(ctx, partitionIdx); err != nil {
		return nil, false, err
	}
	// A queue switching to reading swaps its write handle for a read handle.
	b, ok, err := q.Dequeue(ctx, dst)
	p.settle(partitionIdx)
	if !ok && err == nil {
		// The partition is exhausted, its handle is not needed anymore.
		if cerr := p.closeFile(partitionIdx); cerr != nil {
			return nil, false, cerr
		}
	}
	return b, ok, err
}

// ClosePartition removes the partitionIdx'th partition.
func (p *PartitionedDiskQueue) ClosePartition(ctx context.Context, partitionIdx int) error {
	q := p.partitions[partitionIdx]
	if q == nil {
		return nil
	}
	if q.HasOpenFile() {
		p.release()
	}
	p.partitions[partitionIdx] = nil
	return q.Close(ctx)
}

// CloseAllOpenFiles implements the PartitionedQueue interface.
func (p *PartitionedDiskQueue) CloseAllOpenFiles() error {
	var err error
	for i := range p.partitions {
		err = errors.CombineErrors(err, p.closeFile(i))
	}
	return err
}

// Close implements the PartitionedQueue interface.
func (p *PartitionedDiskQueue) Close(ctx context.Context) error {
	var err error
	for i := range p.partitions {
		err = errors.CombineErrors(err, p.ClosePartition(ctx, i))
	}
	if p.numOpenFDs != 0 {
		log.Errorf(ctx, "partitioned disk queue closed with %d file handles accounted", p.numOpenFDs)
	}
	return err
}
