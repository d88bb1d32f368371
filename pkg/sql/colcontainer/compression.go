// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colcontainer

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionCodec identifies how the blocks of a spill file are compressed.
type CompressionCodec uint8

const (
	// CompressionNone stores blocks as they are.
	CompressionNone CompressionCodec = iota
	// CompressionSnappy compresses blocks with snappy. It is the default.
	CompressionSnappy
	// CompressionLZ4 compresses blocks with the LZ4 block format.
	CompressionLZ4
	// CompressionZSTD compresses blocks with zstd.
	CompressionZSTD
)

var codecNames = [...]string{
	CompressionNone:   "none",
	CompressionSnappy: "snappy",
	CompressionLZ4:    "lz4",
	CompressionZSTD:   "zstd",
}

func (c CompressionCodec) String() string {
	if int(c) < len(codecNames) {
		return codecNames[c]
	}
	return "unknown"
}

// ParseCompressionCodec returns the codec with the given case-insensitive
// name.
func ParseCompressionCodec(name string) (CompressionCodec, error) {
	for i, n := range codecNames {
		if strings.EqualFold(n, name) {
			return CompressionCodec(i), nil
		}
	}
	return 0, errors.Newf("unknown spill compression %q: only 'none', 'snappy', 'lz4' or 'zstd' are supported", name)
}

// MarshalText implements encoding.TextMarshaler.
func (c CompressionCodec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CompressionCodec) UnmarshalText(text []byte) error {
	codec, err := ParseCompressionCodec(string(text))
	if err != nil {
		return err
	}
	*c = codec
	return nil
}

// The zstd encoder and decoder are safe for concurrent use of EncodeAll and
// DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compress appends the compressed form of src to dst[:0]. It returns
// CompressionNone and src itself when compression does not shrink the block.
func (c CompressionCodec) compress(dst, src []byte) ([]byte, CompressionCodec, error) {
	var out []byte
	switch c {
	case CompressionNone:
		return src, CompressionNone, nil
	case CompressionSnappy:
		out = snappy.Encode(dst[:cap(dst)], src)
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(src))
		if cap(dst) < bound {
			dst = make([]byte, bound)
		}
		n, err := lz4.CompressBlock(src, dst[:bound], nil)
		if err != nil {
			return nil, 0, errors.Wrap(err, "lz4")
		}
		if n == 0 {
			return src, CompressionNone, nil
		}
		out = dst[:n]
	case CompressionZSTD:
		out = zstdEncoder.EncodeAll(src, dst[:0])
	default:
		return nil, 0, errors.AssertionFailedf("unknown compression codec %d", c)
	}
	if len(out) >= len(src) {
		return src, CompressionNone, nil
	}
	return out, c, nil
}

// decompress decodes src, compressed with c, into dst which must have a
// length of exactly the uncompressed size.
func (c CompressionCodec) decompress(dst, src []byte) error {
	var n int
	switch c {
	case CompressionNone:
		n = copy(dst, src)
		if n != len(src) {
			return errors.Newf("stored block of %d bytes, expected %d", len(src), len(dst))
		}
	case CompressionSnappy:
		out, err := snappy.Decode(dst, src)
		if err != nil {
			return errors.Wrap(err, "snappy")
		}
		n = len(out)
	case CompressionLZ4:
		var err error
		if n, err = lz4.UncompressBlock(src, dst); err != nil {
			return errors.Wrap(err, "lz4")
		}
	case CompressionZSTD:
		out, err := zstdDecoder.DecodeAll(src, dst[:0])
		if err != nil {
			return errors.Wrap(err, "zstd")
		}
		n = len(out)
	default:
		return errors.Newf("unknown compression codec %d", c)
	}
	if n != len(dst) {
		return errors.Newf("%s block decompressed to %d bytes, expected %d", c, n, len(dst))
	}
	return nil
}
