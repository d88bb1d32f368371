// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colexechash implements the partitioned hash table used by the
// vectorized hash joiner.
package colexechash

import (
	"math"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

// MaxNumPartitions is the largest number of partitions of a HashTable.
const MaxNumPartitions = 1024

// initialNumBuckets is the number of buckets of an empty partition. Bucket
// arrays double whenever the number of chained rows exceeds the number of
// buckets.
const initialNumBuckets = 16

// Sizes used for the accounting of the chain arrays.
const (
	sizeOfKeyID = 4
	sizeOfHash  = 8
)

// HashTableArgs are the arguments to NewHashTable.
type HashTableArgs struct {
	// Allocator accounts for all the memory of the table.
	Allocator *colmem.Allocator
	// Types is the schema of the stored rows.
	Types []*coltypes.T
	// KeyCols are the indices of the equality columns in Types.
	KeyCols []int
	// NumPartitions must be a power of two between 1 and MaxNumPartitions.
	NumPartitions int
	// Seed is mixed into every hash.
	Seed uint64
	// AllowNullEquality makes NULL keys equal to each other. Otherwise rows
	// with a NULL key are stored but never matched.
	AllowNullEquality bool
	// BatchSize is the capacity of the batches holding the stored rows.
	BatchSize int
}

// HashTable is a hash table split into partitions by the top bits of the
// row hashes. Within a partition, rows are stored in insertion order in
// batches of fixed capacity and are identified by their keyID: the 1-based
// ordinal of the row in the partition. keyID 0 is reserved for the end of a
// chain.
//
// Each partition keeps its own bucket array. first and last hold the keyIDs
// of the head and the tail of every bucket's chain and next links the keyIDs
// of a chain, so that walking a chain visits rows in insertion order.
type HashTable struct {
	allocator         *colmem.Allocator
	typs              []*coltypes.T
	keyCols           []int
	allowNullEquality bool
	batchSize         int
	log2P             uint
	partitions        []*Partition
	hasher            *tupleHasher

	// The fields below describe the last batch passed to Route.
	hashes      []uint64
	hasNull     []bool
	byPartition [][]int
}

// Partition is one partition of a HashTable.
type Partition struct {
	idx     int
	batches []coldata.Batch
	// batchSizes holds the bytes accounted for each batch.
	batchSizes []int64
	numRows    int
	// hashes and next are indexed by keyID.
	hashes []uint64
	next   []uint32
	first  []uint32
	last   []uint32
	// unchained holds the ordinals of the rows that are not linked into any
	// chain since their key contains a NULL.
	unchained *roaring.Bitmap
	// matched holds the ordinals (keyID-1) of the rows that matched a probe
	// row.
	matched    *roaring.Bitmap
	numChained int
	batchBytes int64
	chainBytes int64
	spilled    bool
}

// NewHashTable creates a new HashTable.
func NewHashTable(args HashTableArgs) (*HashTable, error) {
	p := args.NumPartitions
	if p < 1 || p > MaxNumPartitions || p&(p-1) != 0 {
		return nil, errors.Newf("number of partitions must be a power of two between 1 and %d, found %d",
			MaxNumPartitions, p)
	}
	if len(args.KeyCols) == 0 {
		return nil, errors.New("hash table needs at least one key column")
	}
	for _, colIdx := range args.KeyCols {
		if colIdx < 0 || colIdx >= len(args.Types) {
			return nil, errors.Newf("key column %d out of range for %d columns", colIdx, len(args.Types))
		}
		if !IsKeyTypeSupported(args.Types[colIdx]) {
			return nil, errors.Newf("unsupported key type %s for column %d", args.Types[colIdx], colIdx)
		}
	}
	batchSize := args.BatchSize
	if batchSize <= 0 {
		batchSize = coldata.BatchSize()
	}
	ht := &HashTable{
		allocator:         args.Allocator,
		typs:              args.Types,
		keyCols:           args.KeyCols,
		allowNullEquality: args.AllowNullEquality,
		batchSize:         batchSize,
		log2P:             uint(bits.TrailingZeros(uint(p))),
		partitions:        make([]*Partition, p),
		hasher:            newTupleHasher(args.Seed),
		byPartition:       make([][]int, p),
	}
	for i := range ht.partitions {
		ht.partitions[i] = &Partition{
			idx:       i,
			unchained: roaring.New(),
			matched:   roaring.New(),
		}
	}
	return ht, nil
}

// NumPartitions returns the number of partitions.
func (ht *HashTable) NumPartitions() int {
	return len(ht.partitions)
}

// Partition returns the ith partition.
func (ht *HashTable) Partition(i int) *Partition {
	return ht.partitions[i]
}

// Types returns the schema of the stored rows.
func (ht *HashTable) Types() []*coltypes.T {
	return ht.typs
}

// PartitionIdx returns the partition of a row with the given hash.
func (ht *HashTable) PartitionIdx(hash uint64) int {
	if ht.log2P == 0 {
		return 0
	}
	return int(hash >> (64 - ht.log2P))
}

// Route hashes the key columns keyCols of every row of b and groups the rows
// by partition. The returned slice, indexed by partition, lists the rows of
// every partition in order. It stays valid until the next call to Route.
// keyCols must have the types of the table's key columns.
func (ht *HashTable) Route(b coldata.Batch, keyCols []int) [][]int {
	n := b.Length()
	if cap(ht.hashes) < n {
		ht.hashes = make([]uint64, n)
		ht.hasNull = make([]bool, n)
	}
	ht.hashes = ht.hashes[:n]
	ht.hasNull = ht.hasNull[:n]
	ht.hasher.hashBatch(b, keyCols, ht.hashes, ht.hasNull)
	for i := range ht.byPartition {
		ht.byPartition[i] = ht.byPartition[i][:0]
	}
	for i, h := range ht.hashes {
		p := ht.PartitionIdx(h)
		ht.byPartition[p] = append(ht.byPartition[p], i)
	}
	return ht.byPartition
}

// Hash returns the hash of the ith row of the last routed batch.
func (ht *HashTable) Hash(i int) uint64 {
	return ht.hashes[i]
}

// Matchable returns whether the ith row of the last routed batch can match
// any row.
func (ht *HashTable) Matchable(i int) bool {
	return ht.allowNullEquality || !ht.hasNull[i]
}

// Insert adds all rows of b to the table. None of the partitions may be
// spilled.
func (ht *HashTable) Insert(b coldata.Batch) {
	for partitionIdx, rows := range ht.Route(b, ht.keyCols) {
		if len(rows) > 0 {
			ht.InsertRows(partitionIdx, b, rows)
		}
	}
}

// InsertRows adds the given rows of b, which must be the last batch routed
// with the table's key columns, to the partition. It panics with an expected
// error if the memory of the rows cannot be reserved.
func (ht *HashTable) InsertRows(partitionIdx int, b coldata.Batch, rows []int) {
	if err := ht.TryInsertRows(partitionIdx, b, rows); err != nil {
		colexecerror.ExpectedError(err)
	}
}

// TryInsertRows is like InsertRows but returns the error instead. On error
// the partition and its accounting are left as they were before the call.
func (ht *HashTable) TryInsertRows(partitionIdx int, b coldata.Batch, rows []int) error {
	p := ht.partitions[partitionIdx]
	if p.spilled {
		colexecerror.InternalError(errors.AssertionFailedf("inserting into spilled partition %d", partitionIdx))
	}
	saved := p.save()
	err := colexecerror.CatchVectorizedRuntimeError(func() {
		ht.insertRows(p, b, rows)
	})
	if err != nil {
		ht.restore(p, saved)
	}
	return err
}

func (ht *HashTable) insertRows(p *Partition, b coldata.Batch, rows []int) {
	firstKeyID := p.numRows + 1
	ht.appendRows(p, b, rows)
	if p.hashes == nil {
		p.hashes = make([]uint64, 1, initialNumBuckets+1)
		p.next = make([]uint32, 1, initialNumBuckets+1)
		p.first = make([]uint32, initialNumBuckets)
		p.last = make([]uint32, initialNumBuckets)
	}
	for j, row := range rows {
		keyID := uint32(firstKeyID + j)
		p.hashes = append(p.hashes, ht.hashes[row])
		p.next = append(p.next, 0)
		if !ht.Matchable(row) {
			p.unchained.Add(keyID - 1)
			continue
		}
		p.link(keyID)
		p.numChained++
	}
	if p.numChained > len(p.first) {
		p.rehash()
	}
	ht.accountChains(p)
}

// initialTailCapacity is the number of rows the vectors of a new partition
// batch are allocated for. They grow as rows are appended, up to the table's
// batch size.
const initialTailCapacity = 16

// newTail adds an empty batch to the partition and accounts for it.
func (ht *HashTable) newTail(p *Partition) coldata.Batch {
	physCap := initialTailCapacity
	if physCap > ht.batchSize {
		physCap = ht.batchSize
	}
	tail := ht.allocator.NewMemBatchNoCols(ht.typs, ht.batchSize)
	for i, t := range ht.typs {
		tail.ReplaceCol(coldata.NewMemColumn(t, physCap), i)
	}
	size := colmem.GetBatchMemSize(tail)
	ht.allocator.AdjustMemoryUsage(size)
	p.batches = append(p.batches, tail)
	p.batchSizes = append(p.batchSizes, size)
	p.batchBytes += size
	return tail
}

// appendRows copies the given rows of b to the end of the partition's
// batches. Every batch has the logical capacity of the table's batch size so
// that keyIDs map to rows arithmetically, but its vectors only grow as rows
// arrive.
func (ht *HashTable) appendRows(p *Partition, b coldata.Batch, rows []int) {
	for off := 0; off < len(rows); {
		var tail coldata.Batch
		if len(p.batches) > 0 {
			tail = p.batches[len(p.batches)-1]
		}
		if tail == nil || tail.Length() == tail.Capacity() {
			tail = ht.newTail(p)
		}
		destIdx := tail.Length()
		n := tail.Capacity() - destIdx
		if n > len(rows)-off {
			n = len(rows) - off
		}
		for colIdx, vec := range tail.ColVecs() {
			vec.Append(coldata.CopyArgs{
				Src:         b.ColVec(colIdx),
				Sel:         rows,
				DestIdx:     destIdx,
				SrcStartIdx: off,
				SrcEndIdx:   off + n,
			})
		}
		tail.SetLength(destIdx + n)
		last := len(p.batches) - 1
		delta := colmem.GetBatchMemSize(tail) - p.batchSizes[last]
		ht.allocator.AdjustMemoryUsage(delta)
		p.batchSizes[last] += delta
		p.batchBytes += delta
		off += n
	}
	p.numRows += len(rows)
}

// accountChains updates the accounting of the partition's chain arrays.
func (ht *HashTable) accountChains(p *Partition) {
	size := int64(cap(p.hashes))*sizeOfHash +
		int64(cap(p.next)+cap(p.first)+cap(p.last))*sizeOfKeyID
	if delta := size - p.chainBytes; delta != 0 {
		ht.allocator.AdjustMemoryUsage(delta)
		p.chainBytes = size
	}
}

// partitionState is what restore needs to undo a failed insert.
type partitionState struct {
	numBatches int
	tailLength int
	numRows    int
	numChained int
	numBuckets int
	hashesCap  int
	nextCap    int
}

func (p *Partition) save() partitionState {
	s := partitionState{
		numBatches: len(p.batches),
		numRows:    p.numRows,
		numChained: p.numChained,
		numBuckets: len(p.first),
		hashesCap:  cap(p.hashes),
		nextCap:    cap(p.next),
	}
	if s.numBatches > 0 {
		s.tailLength = p.batches[s.numBatches-1].Length()
	}
	return s
}

// restore undoes a partially applied insert. The chain arrays are
// reallocated with their old capacities so that they match the accounted
// chainBytes, which only changes once an insert succeeds.
func (ht *HashTable) restore(p *Partition, s partitionState) {
	for i := s.numBatches; i < len(p.batches); i++ {
		ht.allocator.ReleaseMemory(p.batchSizes[i])
		p.batchBytes -= p.batchSizes[i]
		p.batches[i] = nil
	}
	p.batches = p.batches[:s.numBatches]
	p.batchSizes = p.batchSizes[:s.numBatches]
	if s.numBatches > 0 {
		coldata.Truncate(p.batches[s.numBatches-1], s.tailLength)
	}
	p.numRows = s.numRows
	p.numChained = s.numChained
	p.unchained.RemoveRange(uint64(s.numRows), math.MaxUint32+1)
	if s.hashesCap == 0 {
		p.hashes, p.next, p.first, p.last = nil, nil, nil, nil
		return
	}
	p.hashes = append(make([]uint64, 0, s.hashesCap), p.hashes[:s.numRows+1]...)
	p.next = append(make([]uint32, 0, s.nextCap), p.next[:s.numRows+1]...)
	p.first = make([]uint32, s.numBuckets)
	p.last = make([]uint32, s.numBuckets)
	p.relink()
}

func (p *Partition) link(keyID uint32) {
	bucket := p.hashes[keyID] & uint64(len(p.first)-1)
	if tail := p.last[bucket]; tail != 0 {
		p.next[tail] = keyID
	} else {
		p.first[bucket] = keyID
	}
	p.last[bucket] = keyID
}

// rehash doubles the bucket arrays until the load factor is at most one.
func (p *Partition) rehash() {
	numBuckets := len(p.first)
	for numBuckets < p.numChained {
		numBuckets *= 2
	}
	p.first = make([]uint32, numBuckets)
	p.last = make([]uint32, numBuckets)
	p.relink()
}

// relink rebuilds the chains in insertion order on zeroed bucket arrays.
func (p *Partition) relink() {
	for keyID := 1; keyID <= p.numRows; keyID++ {
		p.next[keyID] = 0
	}
	for keyID := 1; keyID <= p.numRows; keyID++ {
		if p.unchained.Contains(uint32(keyID - 1)) {
			continue
		}
		p.link(uint32(keyID))
	}
}

// FirstMatch returns the keyID of the first row of the partition whose key
// equals the key of row of probeVecs, or 0 if there is none. hash is the
// hash of the probe key. probeVecs holds the probe key columns in the order
// of the table's key columns.
func (ht *HashTable) FirstMatch(
	partitionIdx int, hash uint64, probeVecs []coldata.Vec, row int,
) uint32 {
	p := ht.partitions[partitionIdx]
	if p.numChained == 0 {
		return 0
	}
	return ht.findFrom(p, p.first[hash&uint64(len(p.first)-1)], hash, probeVecs, row)
}

// NextMatch returns the keyID of the row after keyID in insertion order
// whose key equals the probe key, or 0 if there is none.
func (ht *HashTable) NextMatch(
	partitionIdx int, keyID uint32, hash uint64, probeVecs []coldata.Vec, row int,
) uint32 {
	p := ht.partitions[partitionIdx]
	return ht.findFrom(p, p.next[keyID], hash, probeVecs, row)
}

func (ht *HashTable) findFrom(
	p *Partition, keyID uint32, hash uint64, probeVecs []coldata.Vec, row int,
) uint32 {
	for ; keyID != 0; keyID = p.next[keyID] {
		if p.hashes[keyID] == hash && ht.keysEqual(p, keyID, probeVecs, row) {
			return keyID
		}
	}
	return 0
}

func (ht *HashTable) keysEqual(p *Partition, keyID uint32, probeVecs []coldata.Vec, row int) bool {
	b, buildRow := p.Row(keyID)
	for i, colIdx := range ht.keyCols {
		buildVec, probeVec := b.ColVec(colIdx), probeVecs[i]
		buildNull := buildVec.MaybeHasNulls() && buildVec.Nulls().NullAt(buildRow)
		probeNull := probeVec.MaybeHasNulls() && probeVec.Nulls().NullAt(row)
		if buildNull || probeNull {
			if buildNull && probeNull && ht.allowNullEquality {
				continue
			}
			return false
		}
		if !valuesEqual(buildVec, buildRow, probeVec, row) {
			return false
		}
	}
	return true
}

// LargestResidentPartition returns the index of the non-empty resident
// partition with the largest memory footprint, ties going to the lowest
// index. It returns -1 if there is no such partition.
func (ht *HashTable) LargestResidentPartition() int {
	victim := -1
	var victimSize int64
	for i, p := range ht.partitions {
		if p.spilled || p.numRows == 0 {
			continue
		}
		if size := p.MemSize(); victim < 0 || size > victimSize {
			victim, victimSize = i, size
		}
	}
	return victim
}

// ExtractPartition removes all rows of the ith partition and marks it as
// spilled. The memory of the chain arrays is released. Every returned batch
// remains accounted by the table's allocator for the corresponding returned
// size, which the caller releases once it is done with the batch.
func (ht *HashTable) ExtractPartition(i int) ([]coldata.Batch, []int64) {
	p := ht.partitions[i]
	batches, sizes := p.batches, p.batchSizes
	ht.allocator.ReleaseMemory(p.chainBytes)
	*p = Partition{
		idx:       i,
		unchained: roaring.New(),
		matched:   roaring.New(),
		spilled:   true,
	}
	return batches, sizes
}

// MemSize returns the bytes accounted for all partitions.
func (ht *HashTable) MemSize() int64 {
	var size int64
	for _, p := range ht.partitions {
		size += p.MemSize()
	}
	return size
}

// Release releases the memory of all partitions. The table must not be used
// afterwards.
func (ht *HashTable) Release() {
	for i, p := range ht.partitions {
		ht.allocator.ReleaseMemory(p.MemSize())
		ht.partitions[i] = &Partition{idx: i, unchained: roaring.New(), matched: roaring.New(), spilled: p.spilled}
	}
}

// Idx returns the index of the partition.
func (p *Partition) Idx() int {
	return p.idx
}

// NumRows returns the number of stored rows.
func (p *Partition) NumRows() int {
	return p.numRows
}

// NumBuckets returns the size of the bucket arrays.
func (p *Partition) NumBuckets() int {
	return len(p.first)
}

// Spilled returns whether the partition was extracted to be spilled.
func (p *Partition) Spilled() bool {
	return p.spilled
}

// Batches returns the batches holding the stored rows.
func (p *Partition) Batches() []coldata.Batch {
	return p.batches
}

// Row returns the batch and the index in it of the row with the given
// keyID.
func (p *Partition) Row(keyID uint32) (coldata.Batch, int) {
	ord := int(keyID - 1)
	batchSize := p.batches[0].Capacity()
	return p.batches[ord/batchSize], ord % batchSize
}

// MarkMatched records that the row with the given keyID matched.
func (p *Partition) MarkMatched(keyID uint32) {
	p.matched.Add(keyID - 1)
}

// Matched returns whether the row with ordinal ord (keyID-1) matched.
func (p *Partition) Matched(ord int) bool {
	return p.matched.Contains(uint32(ord))
}

// NumMatched returns the number of distinct rows that matched.
func (p *Partition) NumMatched() int {
	return int(p.matched.GetCardinality())
}

// MemSize returns the estimated size of the partition: the accounted bytes
// of its batches plus its chain arrays.
func (p *Partition) MemSize() int64 {
	return p.batchBytes + p.chainBytes
}

// SafeFormat implements the redact.SafeFormatter interface.
func (p *Partition) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("partition %d: %d rows, %d buckets, %d bytes", p.idx, p.numRows, len(p.first), p.MemSize())
	if p.spilled {
		w.SafeString(" (spilled)")
	}
}

func (p *Partition) String() string {
	return redact.StringWithoutMarkers(p)
}
