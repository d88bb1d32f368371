// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecerror

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCatchVectorizedRuntimeError(t *testing.T) {
	require.NoError(t, CatchVectorizedRuntimeError(func() {}))

	expected := NewFieldSizeExceededError(11, 10)
	err := CatchVectorizedRuntimeError(func() { ExpectedError(expected) })
	require.True(t, errors.Is(err, ErrFieldSizeExceeded))
	require.False(t, errors.HasAssertionFailure(err))

	err = CatchVectorizedRuntimeError(func() { InternalError(errors.New("bad state")) })
	require.True(t, errors.HasAssertionFailure(err))

	err = CatchVectorizedRuntimeError(func() {
		var s []int
		_ = s[3]
	})
	require.True(t, errors.HasAssertionFailure(err))

	require.Panics(t, func() {
		_ = CatchVectorizedRuntimeError(func() { panic("not an error") })
	})
}

func TestErrorKinds(t *testing.T) {
	ioErr := NewSpillIOError(errors.New("disk full"), "writing partition %d", 3)
	require.True(t, errors.Is(ioErr, ErrSpillIO))
	require.Contains(t, ioErr.Error(), "writing partition 3: disk full")

	require.True(t, errors.Is(NewSchemaMismatchError("key %d", 1), ErrSchemaMismatch))
	require.True(t, errors.Is(NewRecursionLimitExceededError(3, 3, 5), ErrRecursionLimitExceeded))
	require.Contains(t, errors.FlattenHints(NewFieldSizeExceededError(2, 1)), "maximum field size")
}
