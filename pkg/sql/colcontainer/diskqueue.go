// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colcontainer holds the on-disk containers used by vectorized
// operators that spill.
package colcontainer

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/col/colserde"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/google/uuid"
)

// DiskQueueCfg is a struct holding the configuration options for a
// DiskQueue.
type DiskQueueCfg struct {
	// FS is the filesystem interface to use.
	FS vfs.FS
	// Path is the directory in which the spill files are created.
	Path string
	// Compression is the codec the blocks of the spill files are compressed
	// with.
	Compression CompressionCodec
}

// EnsureDefaults validates the configuration and creates the spill
// directory if needed.
func (cfg *DiskQueueCfg) EnsureDefaults() error {
	if cfg.FS == nil {
		return errors.New("FS unset on DiskQueueCfg")
	}
	if cfg.Path == "" {
		return errors.New("Path unset on DiskQueueCfg")
	}
	if err := cfg.FS.MkdirAll(cfg.Path, 0755); err != nil {
		return colexecerror.NewSpillIOError(err, "creating spill directory %s", cfg.Path)
	}
	return nil
}

// Queue describes a simple queue interface to which coldata.Batches can be
// Enqueued and Dequeued.
type Queue interface {
	// Enqueue enqueues a coldata.Batch to this queue. Zero-length batches are
	// ignored. The batch may be reused once Enqueue returns.
	Enqueue(context.Context, coldata.Batch) error
	// Dequeue dequeues the next batch into dst and returns it. If dst is nil
	// or too small, a new batch is allocated. It returns false once the queue
	// is exhausted. A dequeued batch is only valid until the next call to
	// Dequeue with the same dst.
	Dequeue(ctx context.Context, dst coldata.Batch) (coldata.Batch, bool, error)
	// Close closes any resources associated with the Queue and removes its
	// data.
	Close(context.Context) error
}

// RewindableQueue is a Queue that can be read from multiple times.
type RewindableQueue interface {
	Queue
	// Rewind resets the Queue so that it Dequeues all Enqueued batches from
	// the start.
	Rewind() error
}

// blockHeaderSize is the size of the header preceding every block of a spill
// file: the codec as one byte followed by the uncompressed and the stored
// sizes as little-endian uint32s.
const blockHeaderSize = 9

// DiskQueue is a Queue that writes every enqueued batch as a compressed
// block to a single file on a vfs.FS. Once a Dequeue happens, no more
// batches may be enqueued until the queue is rewound and fully read.
//
// The file handle is only held while it is needed and can be given up with
// CloseFile; the next operation reopens it.
type DiskQueue struct {
	cfg        DiskQueueCfg
	allocator  *colmem.Allocator
	diskAcc    *mon.BoundAccount
	serializer *colserde.RecordBatchSerializer
	fileName   string

	file      vfs.File
	created   bool
	reading   bool
	writeOff  int64
	readOff   int64
	blockBuf  bytes.Buffer
	scratch   []byte
	frame     []byte
	numBlocks int
	numRead   int
	numRows   int64
	rawBytes  int64
	closed    bool
}

var _ RewindableQueue = &DiskQueue{}

// NewDiskQueue creates a DiskQueue for batches of the given schema. Memory
// of dequeued batches is accounted by allocator and bytes written to disk
// are accounted by diskAcc, which may be nil.
func NewDiskQueue(
	ctx context.Context,
	schema coltypes.Schema,
	cfg DiskQueueCfg,
	allocator *colmem.Allocator,
	diskAcc *mon.BoundAccount,
) (*DiskQueue, error) {
	if err := cfg.EnsureDefaults(); err != nil {
		return nil, err
	}
	serializer, err := colserde.NewRecordBatchSerializer(schema)
	if err != nil {
		return nil, err
	}
	q := &DiskQueue{
		cfg:        cfg,
		allocator:  allocator,
		diskAcc:    diskAcc,
		serializer: serializer,
		fileName:   cfg.FS.PathJoin(cfg.Path, uuid.New().String()+".spill"),
	}
	log.VEventf(ctx, 2, "created disk queue %s", q.fileName)
	return q, nil
}

// FileName returns the name of the file backing the queue.
func (q *DiskQueue) FileName() string {
	return q.fileName
}

// NumBatches returns the number of batches written to the queue.
func (q *DiskQueue) NumBatches() int {
	return q.numBlocks
}

// NumRows returns the number of rows written to the queue.
func (q *DiskQueue) NumRows() int64 {
	return q.numRows
}

// BytesWritten returns the number of bytes written to disk.
func (q *DiskQueue) BytesWritten() int64 {
	return q.writeOff
}

// UncompressedBytes returns the size of the serialized batches before
// compression.
func (q *DiskQueue) UncompressedBytes() int64 {
	return q.rawBytes
}

// HasOpenFile returns whether the queue currently holds a file handle.
func (q *DiskQueue) HasOpenFile() bool {
	return q.file != nil
}

func (q *DiskQueue) openFile() error {
	if q.file != nil {
		return nil
	}
	var f vfs.File
	var err error
	if q.reading {
		f, err = q.cfg.FS.Open(q.fileName)
	} else {
		f, err = q.cfg.FS.OpenReadWrite(q.fileName)
	}
	if err != nil {
		return colexecerror.NewSpillIOError(err, "opening spill file %s", q.fileName)
	}
	q.file = f
	q.created = true
	return nil
}

// CloseFile gives up the file handle of the queue, if any. The queue stays
// usable.
func (q *DiskQueue) CloseFile() error {
	if q.file == nil {
		return nil
	}
	f := q.file
	q.file = nil
	if err := f.Close(); err != nil {
		return colexecerror.NewSpillIOError(err, "closing spill file %s", q.fileName)
	}
	return nil
}

// Enqueue implements the Queue interface.
func (q *DiskQueue) Enqueue(ctx context.Context, b coldata.Batch) error {
	if q.closed {
		return errors.AssertionFailedf("Enqueue called on a closed DiskQueue")
	}
	if q.reading {
		return errors.AssertionFailedf("Enqueue called on a DiskQueue that is being read")
	}
	if b.Length() == 0 {
		return nil
	}
	q.blockBuf.Reset()
	if err := q.serialize(b); err != nil {
		return err
	}
	raw := q.blockBuf.Bytes()
	stored, codec, err := q.cfg.Compression.compress(q.scratch, raw)
	if err != nil {
		return colexecerror.NewSpillIOError(err, "compressing block for %s", q.fileName)
	}
	if codec != CompressionNone {
		q.scratch = stored[:0]
	}
	if err := q.openFile(); err != nil {
		return err
	}
	n := int64(blockHeaderSize + len(stored))
	if q.diskAcc != nil {
		if err := q.diskAcc.Grow(ctx, n); err != nil {
			return err
		}
	}
	if cap(q.frame) < int(n) {
		q.frame = make([]byte, n)
	}
	frame := q.frame[:n]
	frame[0] = byte(codec)
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(raw)))
	binary.LittleEndian.PutUint32(frame[5:9], uint32(len(stored)))
	copy(frame[blockHeaderSize:], stored)
	if _, err := q.file.WriteAt(frame, q.writeOff); err != nil {
		if q.diskAcc != nil {
			q.diskAcc.Shrink(ctx, n)
		}
		return colexecerror.NewSpillIOError(err, "writing to spill file %s", q.fileName)
	}
	q.writeOff += n
	q.rawBytes += int64(len(raw))
	q.numBlocks++
	q.numRows += int64(b.Length())
	return nil
}

// serialize writes b into q.blockBuf. Arrow buffers used on the way are
// accounted by the queue's allocator.
func (q *DiskQueue) serialize(b coldata.Batch) error {
	mem := q.allocator.ArrowAllocator()
	defer mem.Close()
	var serErr error
	if err := colexecerror.CatchVectorizedRuntimeError(func() {
		serErr = q.serializer.Serialize(&q.blockBuf, mem, b)
	}); err != nil {
		return err
	}
	if err := mem.Err(); err != nil {
		return err
	}
	return serErr
}

// Dequeue implements the Queue interface.
func (q *DiskQueue) Dequeue(
	ctx context.Context, dst coldata.Batch,
) (coldata.Batch, bool, error) {
	if q.closed {
		return nil, false, errors.AssertionFailedf("Dequeue called on a closed DiskQueue")
	}
	if !q.reading {
		// Switch to reading. The write handle is not needed anymore.
		if err := q.CloseFile(); err != nil {
			return nil, false, err
		}
		q.reading = true
	}
	if q.numRead == q.numBlocks {
		return dst, false, nil
	}
	if err := q.openFile(); err != nil {
		return nil, false, err
	}
	var header [blockHeaderSize]byte
	if err := readFullAt(q.file, header[:], q.readOff); err != nil {
		return nil, false, colexecerror.NewSpillIOError(err, "reading block header from %s", q.fileName)
	}
	codec := CompressionCodec(header[0])
	rawLen := int(binary.LittleEndian.Uint32(header[1:5]))
	storedLen := int(binary.LittleEndian.Uint32(header[5:9]))
	if cap(q.frame) < storedLen {
		q.frame = make([]byte, storedLen)
	}
	stored := q.frame[:storedLen]
	if err := readFullAt(q.file, stored, q.readOff+blockHeaderSize); err != nil {
		return nil, false, colexecerror.NewSpillIOError(err, "reading block from %s", q.fileName)
	}
	if cap(q.scratch) < rawLen {
		q.scratch = make([]byte, rawLen)
	}
	raw := q.scratch[:rawLen]
	if err := codec.decompress(raw, stored); err != nil {
		return nil, false, colexecerror.NewSpillIOError(err, "decompressing block from %s", q.fileName)
	}
	var b coldata.Batch
	var desErr error
	if err := colexecerror.CatchVectorizedRuntimeError(func() {
		b, desErr = q.serializer.Deserialize(raw, q.allocator, dst)
	}); err != nil {
		return nil, false, err
	}
	if desErr != nil {
		return nil, false, desErr
	}
	q.readOff += int64(blockHeaderSize + storedLen)
	q.numRead++
	return b, true, nil
}

// readFullAt reads exactly len(p) bytes at offset off.
func readFullAt(f vfs.File, p []byte, off int64) error {
	n, err := f.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// Rewind implements the RewindableQueue interface.
func (q *DiskQueue) Rewind() error {
	if q.closed {
		return errors.AssertionFailedf("Rewind called on a closed DiskQueue")
	}
	q.readOff = 0
	q.numRead = 0
	return nil
}

// Close implements the Queue interface. It is safe to call Close multiple
// times.
func (q *DiskQueue) Close(ctx context.Context) error {
	if q.closed {
		return nil
	}
	q.closed = true
	err := q.CloseFile()
	if q.created {
		if rmErr := q.cfg.FS.Remove(q.fileName); rmErr != nil {
			err = errors.CombineErrors(err, colexecerror.NewSpillIOError(rmErr, "removing spill file %s", q.fileName))
		}
	}
	if q.diskAcc != nil {
		q.diskAcc.Shrink(ctx, q.writeOff)
	}
	q.scratch, q.frame = nil, nil
	log.VEventf(ctx, 2, "closed disk queue %s: %d batches, %d bytes", q.fileName, q.numBlocks, q.writeOff)
	return err
}
