// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecjoin

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/cockroachdb/spilljoin/pkg/sql/colcontainer"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexechash"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"gopkg.in/yaml.v3"
)

// MaxBatchRowsLimit is the largest supported output batch size.
const MaxBatchRowsLimit = 65535

// ByteSize is a number of bytes. In YAML it can be written either as an
// integer or as a human readable size such as "64MiB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	n, err := humanizeutil.ParseBytes(s)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return humanizeutil.IBytes(int64(b)), nil
}

// String implements fmt.Stringer.
func (b ByteSize) String() string {
	return humanizeutil.IBytes(int64(b))
}

// Config holds the options of a spilling hash joiner. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// EnableSpill allows partitions to be written to disk once the hash
	// table grows past MinReserveBytes. Without it, exceeding
	// MemoryLimitBytes is an out of memory error.
	EnableSpill bool `yaml:"enable_spill"`
	// MinReserveBytes is the hash table size above which partitions are
	// spilled.
	MinReserveBytes ByteSize `yaml:"min_reserve_bytes"`
	// MemoryLimitBytes bounds all memory of one joiner, including the
	// joiners recovering its spilled partitions. 0 means unbounded.
	MemoryLimitBytes ByteSize `yaml:"memory_limit_bytes"`
	// MaxBatchRows is the capacity of the batches the joiner stores and
	// produces.
	MaxBatchRows int `yaml:"max_batch_rows"`
	// NumPartitions is the number of hash partitions, a power of two.
	NumPartitions int `yaml:"num_partitions"`
	// MaxRecursionDepth is the depth at which a joiner that still needs to
	// spill fails instead.
	MaxRecursionDepth int `yaml:"max_recursion_depth"`
	// MaxFieldSizeBytes bounds variable width values kept by accumulators.
	MaxFieldSizeBytes ByteSize `yaml:"max_field_size_bytes"`
	// SpillCompression is the codec of the spill files.
	SpillCompression colcontainer.CompressionCodec `yaml:"spill_compression"`
	// MaxOpenFiles bounds the spill files open at the same time.
	MaxOpenFiles int `yaml:"max_open_files"`
	// SpillDir is the directory spill files are created in.
	SpillDir string `yaml:"spill_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		EnableSpill:       true,
		MinReserveBytes:   16 << 20,
		MemoryLimitBytes:  64 << 20,
		MaxBatchRows:      coldata.BatchSize(),
		NumPartitions:     16,
		MaxRecursionDepth: 4,
		MaxFieldSizeBytes: 32 << 10,
		SpillCompression:  colcontainer.CompressionSnappy,
		MaxOpenFiles:      256,
		SpillDir:          filepath.Join(os.TempDir(), "spilljoin"),
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MaxBatchRows < 1 || c.MaxBatchRows > MaxBatchRowsLimit {
		return errors.Newf("invalid config: max_batch_rows %d is not in [1, %d]",
			c.MaxBatchRows, MaxBatchRowsLimit)
	}
	if p := c.NumPartitions; p < 1 || p > colexechash.MaxNumPartitions || p&(p-1) != 0 {
		return errors.Newf("invalid config: num_partitions %d is not a power of two in [1, %d]",
			p, colexechash.MaxNumPartitions)
	}
	if c.MinReserveBytes < 0 || c.MemoryLimitBytes < 0 {
		return errors.Newf("invalid config: negative memory bounds")
	}
	if c.MaxFieldSizeBytes <= 0 {
		return errors.Newf("invalid config: max_field_size_bytes must be positive")
	}
	if !c.EnableSpill {
		return nil
	}
	if c.MemoryLimitBytes > 0 && c.MinReserveBytes >= c.MemoryLimitBytes {
		return errors.Newf("invalid config: min_reserve_bytes %s must be below memory_limit_bytes %s",
			c.MinReserveBytes, c.MemoryLimitBytes)
	}
	if c.MaxRecursionDepth < 1 {
		return errors.Newf("invalid config: max_recursion_depth must be at least 1 with spilling enabled")
	}
	// Every joiner being recovered holds a build and a probe file open
	// while the joiner below it writes.
	if minFiles := 2*c.MaxRecursionDepth + 2; c.MaxOpenFiles < minFiles {
		return errors.Newf("invalid config: max_open_files %d is below %d for max_recursion_depth %d",
			c.MaxOpenFiles, minFiles, c.MaxRecursionDepth)
	}
	if c.SpillDir == "" {
		return errors.Newf("invalid config: spill_dir unset")
	}
	return nil
}

// LoadConfig reads a YAML configuration file. Options missing from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration on top of DefaultConfig and
// validates the result. Unknown options are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
