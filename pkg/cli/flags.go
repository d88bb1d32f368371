// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"encoding"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/cli/cliflags"
	"github.com/cockroachdb/spilljoin/pkg/sql/colexec/colexecjoin"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"github.com/spf13/pflag"
)

func setFlagFromEnv(f *pflag.FlagSet, flagInfo cliflags.FlagInfo) {
	if flagInfo.EnvVar == "" {
		return
	}
	if value, set := os.LookupEnv(flagInfo.EnvVar); set {
		if err := f.Set(flagInfo.Name, value); err != nil {
			panic(errors.Wrapf(err, "invalid value of %s", flagInfo.EnvVar))
		}
	}
}

// StringFlag creates a string flag and registers it with the FlagSet.
func StringFlag(f *pflag.FlagSet, valPtr *string, flagInfo cliflags.FlagInfo) {
	f.StringVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, *valPtr, flagInfo.Usage())
	setFlagFromEnv(f, flagInfo)
}

// IntFlag creates an int flag and registers it with the FlagSet.
func IntFlag(f *pflag.FlagSet, valPtr *int, flagInfo cliflags.FlagInfo) {
	f.IntVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, *valPtr, flagInfo.Usage())
	setFlagFromEnv(f, flagInfo)
}

// Int32Flag creates an int32 flag and registers it with the FlagSet.
func Int32Flag(f *pflag.FlagSet, valPtr *int32, flagInfo cliflags.FlagInfo) {
	f.Int32VarP(valPtr, flagInfo.Name, flagInfo.Shorthand, *valPtr, flagInfo.Usage())
	setFlagFromEnv(f, flagInfo)
}

// BoolFlag creates a bool flag and registers it with the FlagSet.
func BoolFlag(f *pflag.FlagSet, valPtr *bool, flagInfo cliflags.FlagInfo) {
	f.BoolVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, *valPtr, flagInfo.Usage())
	setFlagFromEnv(f, flagInfo)
}

// VarFlag creates a flag of a custom type and registers it with the
// FlagSet.
func VarFlag(f *pflag.FlagSet, value pflag.Value, flagInfo cliflags.FlagInfo) {
	f.VarP(value, flagInfo.Name, flagInfo.Shorthand, flagInfo.Usage())
	setFlagFromEnv(f, flagInfo)
}

// BytesFlag creates a byte size flag accepting human readable sizes.
func BytesFlag(f *pflag.FlagSet, valPtr *colexecjoin.ByteSize, flagInfo cliflags.FlagInfo) {
	VarFlag(f, humanizeutil.NewBytesValue((*int64)(valPtr)), flagInfo)
}

type textMarshaler interface {
	encoding.TextMarshaler
	encoding.TextUnmarshaler
}

// textValue is a pflag.Value of a type that marshals to text.
type textValue struct {
	v   textMarshaler
	typ string
}

var _ pflag.Value = textValue{}

func (t textValue) Set(s string) error {
	return t.v.UnmarshalText([]byte(s))
}

func (t textValue) String() string {
	b, err := t.v.MarshalText()
	if err != nil {
		return ""
	}
	return string(b)
}

func (t textValue) Type() string {
	return t.typ
}

// configFlags binds the flags of the joiner configuration to cfg.
type configFlags struct {
	cfg          colexecjoin.Config
	configFile   string
	disableSpill bool
}

func (c *configFlags) register(f *pflag.FlagSet) {
	c.cfg = colexecjoin.DefaultConfig()
	StringFlag(f, &c.configFile, cliflags.Config)
	BoolFlag(f, &c.disableSpill, cliflags.DisableSpill)
	BytesFlag(f, &c.cfg.MemoryLimitBytes, cliflags.MemoryLimit)
	BytesFlag(f, &c.cfg.MinReserveBytes, cliflags.MinReserve)
	BytesFlag(f, &c.cfg.MaxFieldSizeBytes, cliflags.MaxFieldSize)
	StringFlag(f, &c.cfg.SpillDir, cliflags.SpillDir)
	VarFlag(f, textValue{v: &c.cfg.SpillCompression, typ: "codec"}, cliflags.SpillCompression)
	IntFlag(f, &c.cfg.NumPartitions, cliflags.Partitions)
	IntFlag(f, &c.cfg.MaxBatchRows, cliflags.MaxBatchRows)
	IntFlag(f, &c.cfg.MaxRecursionDepth, cliflags.MaxRecursionDepth)
	IntFlag(f, &c.cfg.MaxOpenFiles, cliflags.MaxOpenFiles)
}

// configOverrides copies the field of a flag from src to dst.
var configOverrides = map[string]func(dst, src *colexecjoin.Config){
	cliflags.MemoryLimit.Name:       func(dst, src *colexecjoin.Config) { dst.MemoryLimitBytes = src.MemoryLimitBytes },
	cliflags.MinReserve.Name:        func(dst, src *colexecjoin.Config) { dst.MinReserveBytes = src.MinReserveBytes },
	cliflags.MaxFieldSize.Name:      func(dst, src *colexecjoin.Config) { dst.MaxFieldSizeBytes = src.MaxFieldSizeBytes },
	cliflags.SpillDir.Name:          func(dst, src *colexecjoin.Config) { dst.SpillDir = src.SpillDir },
	cliflags.SpillCompression.Name:  func(dst, src *colexecjoin.Config) { dst.SpillCompression = src.SpillCompression },
	cliflags.Partitions.Name:        func(dst, src *colexecjoin.Config) { dst.NumPartitions = src.NumPartitions },
	cliflags.MaxBatchRows.Name:      func(dst, src *colexecjoin.Config) { dst.MaxBatchRows = src.MaxBatchRows },
	cliflags.MaxRecursionDepth.Name: func(dst, src *colexecjoin.Config) { dst.MaxRecursionDepth = src.MaxRecursionDepth },
	cliflags.MaxOpenFiles.Name:      func(dst, src *colexecjoin.Config) { dst.MaxOpenFiles = src.MaxOpenFiles },
}

// resolve returns the configuration of the command: the configuration file
// if one is given, overridden by the flags set on the command line or in
// the environment.
func (c *configFlags) resolve(flags *pflag.FlagSet) (colexecjoin.Config, error) {
	cfg := c.cfg
	if c.configFile != "" {
		var err error
		if cfg, err = colexecjoin.LoadConfig(c.configFile); err != nil {
			return colexecjoin.Config{}, err
		}
		for name, apply := range configOverrides {
			if flags.Changed(name) {
				apply(&cfg, &c.cfg)
			}
		}
	}
	if c.disableSpill {
		cfg.EnableSpill = false
	}
	if err := cfg.Validate(); err != nil {
		return colexecjoin.Config{}, err
	}
	return cfg, nil
}
