// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexechash

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
	"github.com/stretchr/testify/require"
)

func newTestTable(
	t *testing.T, typs []*coltypes.T, numPartitions int, allowNullEquality bool,
) (*HashTable, *colmem.Allocator) {
	m := mon.NewMonitor("hashtable-test", 0)
	acc := m.MakeBoundAccount()
	allocator := colmem.NewAllocator(context.Background(), &acc)
	ht, err := NewHashTable(HashTableArgs{
		Allocator:         allocator,
		Types:             typs,
		KeyCols:           []int{0},
		NumPartitions:     numPartitions,
		Seed:              SeedForDepth(0),
		AllowNullEquality: allowNullEquality,
		BatchSize:         7,
	})
	require.NoError(t, err)
	return ht, allocator
}

// matches returns the values of column 1 of all rows matching key, in chain
// order.
func matches(t *testing.T, ht *HashTable, key interface{}) []int64 {
	probe := coldata.NewMemBatchWithCapacity(ht.Types()[:1], 1)
	probe.AppendRow(key)
	ht.Route(probe, []int{0})
	if !ht.Matchable(0) {
		return nil
	}
	hash := ht.Hash(0)
	partitionIdx := ht.PartitionIdx(hash)
	vecs := []coldata.Vec{probe.ColVec(0)}
	var res []int64
	for id := ht.FirstMatch(partitionIdx, hash, vecs, 0); id != 0; id = ht.NextMatch(partitionIdx, id, hash, vecs, 0) {
		b, row := ht.Partition(partitionIdx).Row(id)
		res = append(res, b.ColVec(1).Int64()[row])
	}
	return res
}

func TestHashTableInsertAndProbe(t *testing.T) {
	typs := []*coltypes.T{coltypes.Int, coltypes.Int}
	ht, allocator := newTestTable(t, typs, 8, false)

	const numRows = 1000
	b := allocator.NewMemBatchWithFixedCapacity(typs, 100)
	for start := 0; start < numRows; start += 100 {
		b.Reset()
		for i := start; i < start+100; i++ {
			b.AppendRow(int64(i%37), int64(i))
		}
		ht.Insert(b)
	}

	// Every row landed in exactly one partition.
	total := 0
	for i := 0; i < ht.NumPartitions(); i++ {
		p := ht.Partition(i)
		total += p.NumRows()
		require.LessOrEqual(t, p.numChained, p.NumBuckets())
	}
	require.Equal(t, numRows, total)
	require.Equal(t, ht.MemSize(), allocator.Used()-colmem.GetBatchMemSize(b))

	// Chains are walked in insertion order.
	for key := int64(0); key < 37; key++ {
		var expected []int64
		for i := key; i < numRows; i += 37 {
			expected = append(expected, i)
		}
		require.Equal(t, expected, matches(t, ht, key))
	}
	require.Empty(t, matches(t, ht, int64(37)))
}

func TestHashTableNulls(t *testing.T) {
	typs := []*coltypes.T{coltypes.Bytes, coltypes.Int}
	for _, allowNullEquality := range []bool{false, true} {
		ht, allocator := newTestTable(t, typs, 2, allowNullEquality)
		b := allocator.NewMemBatchWithFixedCapacity(typs, 4)
		b.AppendRow(nil, int64(1))
		b.AppendRow("a", int64(2))
		b.AppendRow(nil, int64(3))
		ht.Insert(b)

		require.Equal(t, []int64{2}, matches(t, ht, "a"))
		if allowNullEquality {
			require.Equal(t, []int64{1, 3}, matches(t, ht, nil))
		} else {
			require.Empty(t, matches(t, ht, nil))
		}
	}
}

func TestHashTableEqualDecimals(t *testing.T) {
	typs := []*coltypes.T{coltypes.Decimal, coltypes.Int}
	ht, allocator := newTestTable(t, typs, 4, false)
	b := allocator.NewMemBatchWithFixedCapacity(typs, 3)
	b.AppendRow("1.0", int64(1))
	b.AppendRow("-0", int64(2))
	b.AppendRow("2.5", int64(3))
	ht.Insert(b)

	require.Equal(t, []int64{1}, matches(t, ht, apd.New(100, -2)))
	require.Equal(t, []int64{2}, matches(t, ht, "0.000"))
	require.Empty(t, matches(t, ht, "2.51"))
}

func TestHashTableExtractPartition(t *testing.T) {
	typs := []*coltypes.T{coltypes.Int, coltypes.Int}
	ht, allocator := newTestTable(t, typs, 4, false)
	b := allocator.NewMemBatchWithFixedCapacity(typs, 200)
	for i := 0; i < 200; i++ {
		b.AppendRow(int64(i), int64(i))
	}
	ht.Insert(b)
	before := allocator.Used()

	victim := ht.LargestResidentPartition()
	require.GreaterOrEqual(t, victim, 0)
	p := ht.Partition(victim)
	for i := 0; i < ht.NumPartitions(); i++ {
		require.GreaterOrEqual(t, p.MemSize(), ht.Partition(i).MemSize())
	}
	numRows, chainBytes, size := p.NumRows(), p.chainBytes, p.MemSize()

	batches, sizes := ht.ExtractPartition(victim)
	require.Len(t, sizes, len(batches))
	rows := 0
	var batchBytes int64
	for i, eb := range batches {
		rows += eb.Length()
		batchBytes += sizes[i]
	}
	require.Equal(t, numRows, rows)
	require.Equal(t, size-chainBytes, batchBytes)
	require.True(t, ht.Partition(victim).Spilled())
	require.Equal(t, before-chainBytes, allocator.Used())
	for _, size := range sizes {
		allocator.ReleaseMemory(size)
	}
	require.Equal(t, before-size, allocator.Used())
	require.NotEqual(t, victim, ht.LargestResidentPartition())

	require.Panics(t, func() { ht.InsertRows(victim, b, []int{0}) })
	ht.Release()
	require.Equal(t, colmem.GetBatchMemSize(b), allocator.Used())
}

func TestHashTableInsertOutOfMemory(t *testing.T) {
	ctx := context.Background()
	typs := []*coltypes.T{coltypes.Bytes, coltypes.Int}
	m := mon.NewMonitor("hashtable-oom-test", 1<<20)
	acc, hog := m.MakeBoundAccount(), m.MakeBoundAccount()
	allocator := colmem.NewAllocator(ctx, &acc)
	ht, err := NewHashTable(HashTableArgs{
		Allocator:     allocator,
		Types:         typs,
		KeyCols:       []int{0},
		NumPartitions: 1,
		Seed:          SeedForDepth(0),
		BatchSize:     7,
	})
	require.NoError(t, err)

	const numKeys = 5
	expected := make(map[string][]int64)
	makeBatch := func(start int) coldata.Batch {
		b := coldata.NewMemBatchWithCapacity(typs, 10)
		for i := start; i < start+10; i++ {
			b.AppendRow(fmt.Sprintf("key-%d", i%numKeys), int64(i))
		}
		return b
	}
	insert := func(start int) error {
		b := makeBatch(start)
		rows := ht.Route(b, []int{0})[0]
		if err := ht.TryInsertRows(0, b, rows); err != nil {
			return err
		}
		for i := start; i < start+10; i++ {
			key := fmt.Sprintf("key-%d", i%numKeys)
			expected[key] = append(expected[key], int64(i))
		}
		return nil
	}
	check := func() {
		require.Equal(t, ht.MemSize(), allocator.Used())
		for k := 0; k < numKeys; k++ {
			key := fmt.Sprintf("key-%d", k)
			require.Equal(t, expected[key], matches(t, ht, key))
		}
	}
	for start := 0; start < 30; start += 10 {
		require.NoError(t, insert(start))
	}
	check()

	// Leave no room for the next insert.
	p := ht.Partition(0)
	numBatches, memSize := len(p.Batches()), p.MemSize()
	require.NoError(t, hog.Grow(ctx, m.Limit()-m.Used()))
	err = insert(30)
	require.True(t, errors.Is(err, colexecerror.ErrOutOfMemory), "%v", err)
	require.Equal(t, 30, p.NumRows())
	require.Equal(t, numBatches, len(p.Batches()))
	require.Equal(t, memSize, p.MemSize())
	check()

	// The same rows go in once memory is available again.
	hog.Shrink(ctx, hog.Used())
	require.NoError(t, insert(30))
	require.Equal(t, 40, p.NumRows())
	check()
}

func TestLargestResidentPartitionTies(t *testing.T) {
	ht, _ := newTestTable(t, []*coltypes.T{coltypes.Int, coltypes.Int}, 4, false)
	require.Equal(t, -1, ht.LargestResidentPartition())
	for i := range ht.partitions {
		ht.partitions[i].numRows = 1
		ht.partitions[i].batchBytes = 10
	}
	ht.partitions[0].spilled = true
	require.Equal(t, 1, ht.LargestResidentPartition())
	ht.partitions[3].batchBytes = 11
	require.Equal(t, 3, ht.LargestResidentPartition())
}

func TestSeedsChangePartitioning(t *testing.T) {
	typs := []*coltypes.T{coltypes.Int}
	b := coldata.NewMemBatchWithCapacity(typs, 64)
	for i := 0; i < 64; i++ {
		b.AppendRow(int64(i))
	}
	route := func(depth int) []int {
		h := newTupleHasher(SeedForDepth(depth))
		hashes, hasNull := make([]uint64, 64), make([]bool, 64)
		h.hashBatch(b, []int{0}, hashes, hasNull)
		parts := make([]int, 64)
		for i, hash := range hashes {
			parts[i] = int(hash >> 62)
		}
		return parts
	}
	require.Equal(t, route(0), route(0))
	require.NotEqual(t, route(0), route(1))
}

func TestNewHashTableValidation(t *testing.T) {
	for _, tc := range []struct {
		numPartitions int
		keyCols       []int
		typs          []*coltypes.T
	}{
		{numPartitions: 3, keyCols: []int{0}, typs: []*coltypes.T{coltypes.Int}},
		{numPartitions: 2048, keyCols: []int{0}, typs: []*coltypes.T{coltypes.Int}},
		{numPartitions: 2, keyCols: nil, typs: []*coltypes.T{coltypes.Int}},
		{numPartitions: 2, keyCols: []int{1}, typs: []*coltypes.T{coltypes.Int}},
		{numPartitions: 2, keyCols: []int{0}, typs: []*coltypes.T{coltypes.MakeList(coltypes.Int)}},
	} {
		_, err := NewHashTable(HashTableArgs{Types: tc.typs, KeyCols: tc.keyCols, NumPartitions: tc.numPartitions})
		require.Error(t, err)
	}
}
