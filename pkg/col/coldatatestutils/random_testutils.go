// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package coldatatestutils

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
)

// maxVarLen is the maximum length of random bytes values and lists.
const maxVarLen = 16

// RandomType returns a random scalar type, or a list of a random scalar type
// with probability 1/8.
func RandomType(rng *rand.Rand) *coltypes.T {
	t := coltypes.AllScalarTypes[rng.Intn(len(coltypes.AllScalarTypes))]
	if rng.Intn(8) == 0 {
		return coltypes.MakeList(t)
	}
	return t
}

// RandomTypes returns n random types.
func RandomTypes(rng *rand.Rand, n int) []*coltypes.T {
	typs := make([]*coltypes.T, n)
	for i := range typs {
		typs[i] = RandomType(rng)
	}
	return typs
}

// RandomValue returns a random non-NULL value of type t in the form accepted
// by coldata.Vec.Set.
func RandomValue(rng *rand.Rand, t *coltypes.T) interface{} {
	switch t.Family() {
	case coltypes.BoolFamily:
		return rng.Intn(2) == 0
	case coltypes.Int32Family:
		return int32(rng.Uint32())
	case coltypes.Int64Family:
		return int64(rng.Uint64())
	case coltypes.Float64Family:
		return rng.NormFloat64() * 1e6
	case coltypes.BytesFamily:
		b := make([]byte, rng.Intn(maxVarLen))
		_, _ = rng.Read(b)
		return b
	case coltypes.TimestampFamily:
		// Any millisecond between 1970 and 2100.
		return time.UnixMilli(rng.Int63n(4102444800000)).UTC()
	case coltypes.DecimalFamily:
		d := apd.New(rng.Int63n(1e12)-5e11, -int32(rng.Intn(6)))
		return d
	case coltypes.ListFamily:
		vals := make([]interface{}, rng.Intn(maxVarLen))
		for i := range vals {
			if rng.Intn(10) == 0 {
				continue
			}
			vals[i] = RandomValue(rng, t.Elem())
		}
		return vals
	default:
		panic(fmt.Sprintf("unhandled type %s", t))
	}
}

// RandomVec fills the first n values of vec with random values. Each value
// is NULL with probability nullProbability.
func RandomVec(rng *rand.Rand, vec coldata.Vec, n int, nullProbability float64) {
	for i := 0; i < n; i++ {
		if rng.Float64() < nullProbability {
			vec.Set(i, nil)
			continue
		}
		vec.Set(i, RandomValue(rng, vec.Type()))
	}
}

// RandomBatch returns a batch with a capacity of capacity and a length of
// length, filled with random values of the given types. The batch is
// allocated with allocator.
func RandomBatch(
	allocator *colmem.Allocator,
	rng *rand.Rand,
	typs []*coltypes.T,
	capacity int,
	length int,
	nullProbability float64,
) coldata.Batch {
	batch := allocator.NewMemBatchWithFixedCapacity(typs, capacity)
	allocator.PerformOperation(batch.ColVecs(), func() {
		for _, vec := range batch.ColVecs() {
			RandomVec(rng, vec, length, nullProbability)
		}
	})
	batch.SetLength(length)
	return batch
}
