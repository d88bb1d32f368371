// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexechash

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecerror"
)

// SeedForDepth returns the hash seed used by a hash table at the given
// recursion depth. Different depths use unrelated seeds so that the rows of a
// spilled partition spread over all partitions when they are joined again.
func SeedForDepth(depth int) uint64 {
	// The multiplier is the 64-bit golden ratio.
	return (uint64(depth) + 1) * 0x9E3779B97F4A7C15
}

// IsKeyTypeSupported returns whether columns of type t can be used as
// equality columns.
func IsKeyTypeSupported(t *coltypes.T) bool {
	return t.Family() != coltypes.ListFamily && t.Family() != coltypes.UnknownFamily
}

// tupleHasher computes seeded hashes of key tuples. Every key value is
// encoded into a scratch buffer which is then hashed with xxhash, so equal
// tuples hash equally regardless of the batch they come from.
type tupleHasher struct {
	seed    uint64
	digest  *xxhash.Digest
	scratch []byte
	dec     apd.Decimal
}

func newTupleHasher(seed uint64) *tupleHasher {
	return &tupleHasher{seed: seed, digest: xxhash.New()}
}

// hashBatch writes the hash of the key tuple of every row of b into hashes
// and reports, in hasNull, whether any key value of the row is NULL.
func (h *tupleHasher) hashBatch(
	b coldata.Batch, keyCols []int, hashes []uint64, hasNull []bool,
) {
	n := b.Length()
	for i := 0; i < n; i++ {
		h.scratch = binary.LittleEndian.AppendUint64(h.scratch[:0], h.seed)
		hasNull[i] = false
		for _, colIdx := range keyCols {
			vec := b.ColVec(colIdx)
			if vec.MaybeHasNulls() && vec.Nulls().NullAt(i) {
				hasNull[i] = true
				h.scratch = append(h.scratch, 0)
				continue
			}
			h.scratch = append(h.scratch, 1)
			h.scratch = h.appendValue(h.scratch, vec, i)
		}
		h.digest.Reset()
		_, _ = h.digest.Write(h.scratch)
		hashes[i] = h.digest.Sum64()
	}
}

// appendValue appends an encoding of vec[i] to buf such that values that
// compare equal encode equally.
func (h *tupleHasher) appendValue(buf []byte, vec coldata.Vec, i int) []byte {
	switch vec.Type().Family() {
	case coltypes.BoolFamily:
		if vec.Bool()[i] {
			return append(buf, 1)
		}
		return append(buf, 0)
	case coltypes.Int32Family:
		return binary.LittleEndian.AppendUint32(buf, uint32(vec.Int32()[i]))
	case coltypes.Int64Family:
		return binary.LittleEndian.AppendUint64(buf, uint64(vec.Int64()[i]))
	case coltypes.TimestampFamily:
		return binary.LittleEndian.AppendUint64(buf, uint64(vec.Timestamp()[i]))
	case coltypes.Float64Family:
		f := vec.Float64()[i]
		switch {
		case f == 0:
			// -0 and +0 are equal.
			f = 0
		case math.IsNaN(f):
			f = math.NaN()
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	case coltypes.BytesFamily:
		v := vec.Bytes().Get(i)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		return append(buf, v...)
	case coltypes.DecimalFamily:
		// 1.0 and 1.00 are equal, so the reduced form is hashed.
		h.dec.Reduce(&vec.Decimal()[i])
		if h.dec.IsZero() {
			h.dec.Negative = false
			h.dec.Exponent = 0
		}
		return h.dec.Append(buf, 'G')
	default:
		colexecerror.InternalError(errors.AssertionFailedf("unhashable key type %s", vec.Type()))
		return nil
	}
}

// valuesEqual returns whether a[i] and b[j] are equal. Neither is NULL.
func valuesEqual(a coldata.Vec, i int, b coldata.Vec, j int) bool {
	switch a.Type().Family() {
	case coltypes.BoolFamily:
		return a.Bool()[i] == b.Bool()[j]
	case coltypes.Int32Family:
		return a.Int32()[i] == b.Int32()[j]
	case coltypes.Int64Family:
		return a.Int64()[i] == b.Int64()[j]
	case coltypes.TimestampFamily:
		return a.Timestamp()[i] == b.Timestamp()[j]
	case coltypes.Float64Family:
		x, y := a.Float64()[i], b.Float64()[j]
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	case coltypes.BytesFamily:
		return bytes.Equal(a.Bytes().Get(i), b.Bytes().Get(j))
	case coltypes.DecimalFamily:
		return a.Decimal()[i].Cmp(&b.Decimal()[j]) == 0
	default:
		colexecerror.InternalError(errors.AssertionFailedf("incomparable key type %s", a.Type()))
		return false
	}
}
