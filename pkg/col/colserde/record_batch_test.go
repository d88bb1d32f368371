// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colserde_test

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldatatestutils"
	"github.com/cockroachdb/spilljoin/pkg/col/colserde"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
	"github.com/stretchr/testify/require"
)

// TestRoundTripEveryType serializes a batch holding every supported type,
// including NULLs in each column, and checks that the decoded batch is
// identical.
func TestRoundTripEveryType(t *testing.T) {
	allocator, m := newTestAllocator(0)
	var typs []*coltypes.T
	for _, typ := range coltypes.AllScalarTypes {
		typs = append(typs, typ, coltypes.MakeList(typ))
	}
	rng := rand.New(rand.NewSource(1))
	const n = 100
	b := allocator.NewMemBatchWithFixedCapacity(typs, n)
	for i := 0; i < n; i++ {
		row := make([]interface{}, len(typs))
		for j, typ := range typs {
			if (i+j)%7 != 0 {
				row[j] = coldatatestutils.RandomValue(rng, typ)
			}
		}
		b.AppendRow(row...)
	}

	buf, err := colserde.Serialize(b)
	require.NoError(t, err)
	actual, err := colserde.Deserialize(buf, coltypes.MakeSchema(typs...), allocator)
	require.NoError(t, err)
	require.Equal(t, n, actual.Length())
	coldatatestutils.AssertEquivalentBatches(t, b, actual)

	// Only the two batches remain accounted, the Arrow buffers are released.
	require.Equal(t, allocator.Used(), m.Used())
}

func TestRoundTripSpecificValues(t *testing.T) {
	allocator, _ := newTestAllocator(0)
	typs := []*coltypes.T{coltypes.Timestamp, coltypes.Decimal, coltypes.Bytes}
	b := allocator.NewMemBatchWithFixedCapacity(typs, 3)
	ts := time.Date(2021, 3, 4, 5, 6, 7, 8e6, time.UTC)
	b.AppendRow(ts, "123.4500", []byte{})
	b.AppendRow(time.UnixMilli(-1).UTC(), apd.New(-1, 30), []byte("\x00\xff"))
	b.AppendRow(nil, nil, nil)

	buf, err := colserde.Serialize(b)
	require.NoError(t, err)
	actual, err := colserde.Deserialize(buf, coltypes.MakeSchema(typs...), allocator)
	require.NoError(t, err)
	require.Equal(t, []string{
		"2021-03-04 05:06:07.008 123.4500 ",
		"1969-12-31 23:59:59.999 -1E+30 \x00\xff",
		"NULL NULL NULL",
	}, coldatatestutils.RowStrings(actual))
}

func TestDeserializeSchemaMismatch(t *testing.T) {
	allocator, _ := newTestAllocator(0)
	b := allocator.NewMemBatchWithFixedCapacity([]*coltypes.T{coltypes.Int}, 1)
	b.AppendRow(int64(1))
	buf, err := colserde.Serialize(b)
	require.NoError(t, err)

	_, err = colserde.Deserialize(buf, coltypes.MakeSchema(coltypes.Bytes), allocator)
	require.True(t, errors.Is(err, colexecerror.ErrSchemaMismatch), "%+v", err)
	_, err = colserde.Deserialize(buf, coltypes.MakeSchema(coltypes.Int, coltypes.Int), allocator)
	require.True(t, errors.Is(err, colexecerror.ErrSchemaMismatch), "%+v", err)
	require.ErrorContains(t, err, "expected 2 columns, found 1")
}

func TestDeserializeOutOfMemory(t *testing.T) {
	src, _ := newTestAllocator(0)
	b := src.NewMemBatchWithFixedCapacity([]*coltypes.T{coltypes.Bytes}, 64)
	for i := 0; i < 64; i++ {
		b.AppendRow(bytes.Repeat([]byte{'x'}, 1024))
	}
	buf, err := colserde.Serialize(b)
	require.NoError(t, err)

	allocator, m := newTestAllocator(4096)
	_, err = colserde.Deserialize(buf, coltypes.MakeSchema(coltypes.Bytes), allocator)
	require.True(t, errors.Is(err, colexecerror.ErrOutOfMemory), "%+v", err)
	// Everything but the account of the allocator was released.
	require.Equal(t, allocator.Used(), m.Used())
}

func TestSerializerReusesBatch(t *testing.T) {
	allocator, _ := newTestAllocator(0)
	schema := coltypes.MakeSchema(coltypes.Int, coltypes.Bytes)
	s, err := colserde.NewRecordBatchSerializer(schema)
	require.NoError(t, err)

	var buf bytes.Buffer
	src := allocator.NewMemBatchWithFixedCapacity(schema.Types(), 2)
	src.AppendRow(int64(1), "one")
	src.AppendRow(int64(2), "two")
	require.NoError(t, s.Serialize(&buf, memory.NewGoAllocator(), src))

	dst := allocator.NewMemBatchWithFixedCapacity(schema.Types(), 4)
	got, err := s.Deserialize(buf.Bytes(), allocator, dst)
	require.NoError(t, err)
	require.True(t, got == dst)
	require.Equal(t, []string{"1 one", "2 two"}, coldatatestutils.RowStrings(got))
}
