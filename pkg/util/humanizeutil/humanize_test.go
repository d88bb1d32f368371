// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package humanizeutil

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected int64
		err      bool
	}{
		{in: "0", expected: 0},
		{in: "9 MiB", expected: 9 << 20},
		{in: "64KiB", expected: 64 << 10},
		{in: "1MB", expected: 1000 * 1000},
		{in: "-1KiB", expected: -1024},
		{in: "", err: true},
		{in: "lots", err: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			v, err := ParseBytes(tc.in)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, v)
		})
	}
	require.Equal(t, "9.0 MiB", IBytes(9<<20))
	require.Equal(t, "-1.0 KiB", IBytes(-1024))
}

func TestBytesValueFlag(t *testing.T) {
	var limit int64
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := NewBytesValue(&limit)
	fs.Var(v, "limit", "memory limit")
	require.False(t, v.IsSet())
	require.NoError(t, fs.Parse([]string{"--limit=2MiB"}))
	require.True(t, v.IsSet())
	require.Equal(t, int64(2<<20), limit)
	require.Equal(t, "2.0 MiB", v.String())
	require.Error(t, fs.Parse([]string{"--limit=-5"}))
}
