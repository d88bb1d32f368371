// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package colexecerror contains the error kinds of the vectorized engine and
// the panic-based propagation used inside of it.
//
// Operators report errors by panicking through InternalError or
// ExpectedError; CatchVectorizedRuntimeError converts these panics back into
// returned errors at the boundaries of the engine.
package colexecerror

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
)

// Error kinds. Errors of a kind are marked with the sentinel and are tested
// with errors.Is.
var (
	// ErrOutOfMemory is returned when a reservation is rejected by a monitor.
	ErrOutOfMemory = mon.ErrBudgetExceeded
	// ErrSpillIO is returned when writing or reading spill files fails.
	ErrSpillIO = errors.New("spill I/O error")
	// ErrSchemaMismatch is returned when the join inputs do not match the
	// configured key columns.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrFieldSizeExceeded is returned when a variable width value is larger
	// than the configured maximum field size.
	ErrFieldSizeExceeded = errors.New("field size exceeded")
	// ErrRecursionLimitExceeded is returned when a spilled partition still
	// does not fit in memory at the maximum recursion depth.
	ErrRecursionLimitExceeded = errors.New("recursion limit exceeded")
)

// NewSpillIOError wraps an I/O error of the spilling path.
func NewSpillIOError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrSpillIO)
}

// NewSchemaMismatchError creates a schema mismatch error.
func NewSchemaMismatchError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrSchemaMismatch)
}

// NewFieldSizeExceededError creates an error for a value of size bytes that
// exceeds the limit of maxSize bytes.
func NewFieldSizeExceededError(size, maxSize int) error {
	return errors.Mark(
		errors.WithHint(
			errors.Newf("field size %d bytes exceeds the limit of %d bytes", size, maxSize),
			"increase the maximum field size",
		),
		ErrFieldSizeExceeded,
	)
}

// NewRecursionLimitExceededError creates a recursion limit error for a
// partition at the given depth.
func NewRecursionLimitExceededError(depth, maxDepth int, partitionIdx int) error {
	return errors.Mark(
		errors.WithHint(
			errors.Newf("partition %d does not fit in memory at recursion depth %d (max %d)",
				partitionIdx, depth, maxDepth),
			"increase the memory limit or the maximum recursion depth",
		),
		ErrRecursionLimitExceeded,
	)
}

// notInternalError is an error that occurs not because the vectorized engine
// happens to be in an unexpected state (for example, it was caused by a
// non-columnar builtin or by a rejected memory reservation).
type notInternalError struct {
	cause error
}

func (e *notInternalError) Error() string {
	return e.cause.Error()
}

func (e *notInternalError) Cause() error  { return e.cause }
func (e *notInternalError) Unwrap() error { return e.cause }

// InternalError panics with an error that is an internal error of the
// vectorized engine. If err is not an assertion failure already, it is
// marked as one when it is caught.
func InternalError(err error) {
	panic(err)
}

// ExpectedError panics with an error that is expected to occur during query
// execution, like running out of memory.
func ExpectedError(err error) {
	panic(&notInternalError{cause: err})
}

// CatchVectorizedRuntimeError executes operation, catches a runtime error
// if it is coming from the vectorized engine, and returns it. If an error
// not related to the vectorized engine occurs, it is not recovered from.
func CatchVectorizedRuntimeError(operation func()) (retErr error) {
	defer func() {
		panicObj := recover()
		if panicObj == nil {
			// No panic happened, so the operation must have been executed
			// successfully.
			return
		}
		err, ok := panicObj.(error)
		if !ok {
			// Not an error object. Definitely unexpected.
			panic(panicObj)
		}
		var nie *notInternalError
		if errors.As(err, &nie) {
			retErr = nie.cause
			return
		}
		if _, isRuntime := err.(runtime.Error); isRuntime {
			retErr = errors.NewAssertionErrorWithWrappedErrf(err, "unexpected error from the vectorized engine")
			return
		}
		if errors.HasAssertionFailure(err) {
			retErr = err
			return
		}
		retErr = errors.NewAssertionErrorWithWrappedErrf(err, "unexpected error from the vectorized engine")
	}()
	operation()
	return retErr
}
