// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package joingen generates deterministic join inputs with a skewed key
// distribution.
//
// The build input has the columns (key INT8, id INT8, payload BYTES) and the
// probe input (key INT8, id INT8). Both are produced batch by batch so that
// inputs much larger than memory can be generated. The same Config always
// yields the same rows.
package joingen

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexecop"
	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/spf13/pflag"
	"golang.org/x/exp/rand"
)

// HotKey is the key shared by the hot rows of both inputs. Other keys are
// never negative.
const HotKey = -1

// Config describes a pair of generated join inputs.
type Config struct {
	Seed uint64

	BuildRows int
	ProbeRows int
	// BuildHotRows and ProbeHotRows are the number of rows of each input
	// that have HotKey.
	BuildHotRows int
	ProbeHotRows int
	// KeyDomain is the number of distinct keys of the other rows, which are
	// drawn uniformly from [0, KeyDomain).
	KeyDomain int64
	// NullProbability is the probability of a non-hot key being NULL.
	NullProbability float64
	// PayloadBytes is the length of the payload of build rows.
	PayloadBytes int
	// BatchSize is the capacity of the generated batches.
	BatchSize int
}

// DefaultConfig returns a small configuration with a hot key.
func DefaultConfig() Config {
	return Config{
		Seed:         1,
		BuildRows:    100000,
		ProbeRows:    50000,
		BuildHotRows: 10000,
		ProbeHotRows: 2,
		KeyDomain:    90000,
		PayloadBytes: 16,
		BatchSize:    coldata.BatchSize(),
	}
}

// Flags returns the flags setting the fields of c.
func (c *Config) Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("joingen", pflag.ContinueOnError)
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "seed of the generated rows")
	fs.IntVar(&c.BuildRows, "build-rows", c.BuildRows, "number of build rows")
	fs.IntVar(&c.ProbeRows, "probe-rows", c.ProbeRows, "number of probe rows")
	fs.IntVar(&c.BuildHotRows, "build-hot-rows", c.BuildHotRows, "number of build rows with the hot key")
	fs.IntVar(&c.ProbeHotRows, "probe-hot-rows", c.ProbeHotRows, "number of probe rows with the hot key")
	fs.Int64Var(&c.KeyDomain, "key-domain", c.KeyDomain, "number of distinct keys besides the hot key")
	fs.Float64Var(&c.NullProbability, "null-probability", c.NullProbability, "probability of a NULL key")
	fs.IntVar(&c.PayloadBytes, "payload-bytes", c.PayloadBytes, "length of the build payload")
	return fs
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BuildRows < 0 || c.ProbeRows < 0:
		return errors.Newf("row counts must not be negative")
	case c.BuildHotRows < 0 || c.BuildHotRows > c.BuildRows:
		return errors.Newf("%d hot build rows out of %d", c.BuildHotRows, c.BuildRows)
	case c.ProbeHotRows < 0 || c.ProbeHotRows > c.ProbeRows:
		return errors.Newf("%d hot probe rows out of %d", c.ProbeHotRows, c.ProbeRows)
	case c.KeyDomain <= 0:
		return errors.Newf("key domain must be positive, got %d", c.KeyDomain)
	case c.NullProbability < 0 || c.NullProbability > 1:
		return errors.Newf("null probability %v out of [0, 1]", c.NullProbability)
	case c.PayloadBytes < 0:
		return errors.Newf("payload length must not be negative")
	case c.BatchSize <= 0:
		return errors.Newf("batch size must be positive")
	}
	return nil
}

// BuildTypes are the types of the build input.
func BuildTypes() []*coltypes.T {
	return []*coltypes.T{coltypes.Int, coltypes.Int, coltypes.Bytes}
}

// ProbeTypes are the types of the probe input.
func ProbeTypes() []*coltypes.T {
	return []*coltypes.T{coltypes.Int, coltypes.Int}
}

// KeyCols are the key columns of both inputs.
var KeyCols = []int{0}

// Build returns the operator producing the build input.
func (c Config) Build(allocator *colmem.Allocator) *Source {
	return newSource(allocator, c, BuildTypes(), c.BuildRows, c.BuildHotRows, c.Seed)
}

// Probe returns the operator producing the probe input.
func (c Config) Probe(allocator *colmem.Allocator) *Source {
	return newSource(allocator, c, ProbeTypes(), c.ProbeRows, c.ProbeHotRows, c.Seed+1)
}

// Source is an Operator producing one generated input. The output batch is
// reused between calls to Next.
type Source struct {
	colexecop.ZeroInputNode
	colexecop.InitHelper

	allocator *colmem.Allocator
	cfg       Config
	typs      []*coltypes.T
	numRows   int
	// Hot rows are the ones whose index is a multiple of hotStride, up to
	// numHot of them.
	numHot    int
	hotStride int
	seed      uint64

	rng     *rand.Rand
	batch   coldata.Batch
	row     int
	hotSeen int
	payload []byte
}

var _ colexecop.Operator = &Source{}

func newSource(
	allocator *colmem.Allocator, cfg Config, typs []*coltypes.T, numRows, numHot int, seed uint64,
) *Source {
	s := &Source{
		allocator: allocator,
		cfg:       cfg,
		typs:      typs,
		numRows:   numRows,
		numHot:    numHot,
		seed:      seed,
	}
	if numHot > 0 {
		s.hotStride = numRows / numHot
	}
	return s
}

// Types returns the types of the produced batches.
func (s *Source) Types() []*coltypes.T {
	return s.typs
}

// Init implements the colexecop.Operator interface.
func (s *Source) Init(ctx context.Context) {
	if !s.InitHelper.Init(ctx) {
		return
	}
	s.rng = rand.New(rand.NewSource(s.seed))
	s.batch = s.allocator.NewMemBatchWithFixedCapacity(s.typs, s.cfg.BatchSize)
	s.payload = make([]byte, s.cfg.PayloadBytes)
}

// Next implements the colexecop.Operator interface.
func (s *Source) Next() coldata.Batch {
	if s.row >= s.numRows {
		return coldata.ZeroBatch
	}
	n := s.numRows - s.row
	if n > s.batch.Capacity() {
		n = s.batch.Capacity()
	}
	s.allocator.PerformOperation(s.batch.ColVecs(), func() {
		s.batch.Reset()
		keys, ids := s.batch.ColVec(0), s.batch.ColVec(1)
		for i := 0; i < n; i++ {
			row := s.row + i
			switch {
			case s.isHot(row):
				keys.Int64()[i] = HotKey
			case s.cfg.NullProbability > 0 && s.rng.Float64() < s.cfg.NullProbability:
				keys.Nulls().SetNull(i)
			default:
				keys.Int64()[i] = s.rng.Int63n(s.cfg.KeyDomain)
			}
			ids.Int64()[i] = int64(row)
			if len(s.typs) > 2 {
				const letters = "abcdefghijklmnopqrstuvwxyz"
				for j := range s.payload {
					s.payload[j] = letters[s.rng.Intn(len(letters))]
				}
				s.batch.ColVec(2).Bytes().Set(i, s.payload)
			}
		}
		s.batch.SetLength(n)
	})
	s.row += n
	return s.batch
}

func (s *Source) isHot(row int) bool {
	if s.hotSeen >= s.numHot || row%s.hotStride != 0 {
		return false
	}
	s.hotSeen++
	return true
}
