// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package coldata

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Bytes is a wrapper type for a two-dimensional byte slice stored as a
// single flat data buffer and an offsets slice. The element at index i is
// data[offsets[i]:offsets[i+1]].
type Bytes struct {
	data []byte
	// offsets has length capacity+1. Only the first maxSetLength+1 entries
	// are guaranteed to be non-decreasing; entries after that are updated
	// lazily by UpdateOffsetsToBeNonDecreasing.
	offsets []int32
	// maxSetLength is one past the largest index that has been Set.
	maxSetLength int
	// isWindow indicates that this Bytes shares its memory with another and
	// must not be modified.
	isWindow bool
}

// NewBytes returns a Bytes struct with enough capacity for n zero-length
// []byte values.
func NewBytes(n int) *Bytes {
	return &Bytes{
		// Given that the []byte zero value is an empty byte slice, the first
		// offset is always 0.
		offsets: make([]int32, n+1),
	}
}

// Len returns how many []byte values the Bytes struct can hold.
func (b *Bytes) Len() int {
	return len(b.offsets) - 1
}

// Get returns the ith []byte in Bytes. The returned slice aliases the
// underlying buffer and must not be modified.
func (b *Bytes) Get(i int) []byte {
	if i >= b.maxSetLength {
		return nil
	}
	return b.data[b.offsets[i]:b.offsets[i+1]:b.offsets[i+1]]
}

// Set sets the ith []byte in Bytes. Overwriting a value that is not the last
// set one shifts the tail of the buffer.
func (b *Bytes) Set(i int, v []byte) {
	if b.isWindow {
		panic(errors.AssertionFailedf("Set called on a window into Bytes"))
	}
	if i >= b.maxSetLength {
		b.UpdateOffsetsToBeNonDecreasing(i)
		b.data = append(b.data, v...)
		b.offsets[i+1] = int32(len(b.data))
		b.maxSetLength = i + 1
		return
	}
	start, end := b.offsets[i], b.offsets[i+1]
	delta := int32(len(v)) - (end - start)
	if i == b.maxSetLength-1 {
		b.data = append(b.data[:start], v...)
	} else {
		tail := append([]byte(nil), b.data[end:]...)
		b.data = append(append(b.data[:start], v...), tail...)
	}
	if delta != 0 {
		for j := i + 1; j <= b.maxSetLength; j++ {
			b.offsets[j] += delta
		}
	}
}

// UpdateOffsetsToBeNonDecreasing makes the offsets of all values up to n
// valid, padding unset values as empty.
func (b *Bytes) UpdateOffsetsToBeNonDecreasing(n int) {
	if n <= b.maxSetLength {
		return
	}
	prev := b.offsets[b.maxSetLength]
	for j := b.maxSetLength + 1; j <= n; j++ {
		b.offsets[j] = prev
	}
}

// Window creates a "window" into the receiver. It behaves similarly to Go's
// slice, but the returned Bytes is read-only.
func (b *Bytes) Window(start, end int) *Bytes {
	if start < 0 || start > end || end > b.Len() {
		panic(errors.AssertionFailedf("invalid window arguments: start=%d end=%d when Bytes.Len()=%d",
			start, end, b.Len()))
	}
	b.UpdateOffsetsToBeNonDecreasing(end)
	w := &Bytes{
		data:    b.data[:b.offsets[end]],
		offsets: b.offsets[start : end+1],
		// All offsets of the window are valid, unset values read as empty.
		maxSetLength: end - start,
		isWindow:     true,
	}
	return w
}

// CopyFrom copies the values src[srcStartIdx:srcEndIdx] (or the values at
// sel[srcStartIdx:srcEndIdx] if sel is non-nil) into the receiver starting
// at destIdx.
func (b *Bytes) CopyFrom(src *Bytes, sel []int, destIdx, srcStartIdx, srcEndIdx int) {
	for i := srcStartIdx; i < srcEndIdx; i++ {
		srcIdx := i
		if sel != nil {
			srcIdx = sel[i]
		}
		b.Set(destIdx+i-srcStartIdx, src.Get(srcIdx))
	}
}

// Reset resets the underlying Bytes for reuse. It is a noop on windows.
func (b *Bytes) Reset() {
	if b.isWindow {
		return
	}
	b.data = b.data[:0]
	b.maxSetLength = 0
	b.offsets[0] = 0
}

// truncate drops the values from index n on, so that the next value set is
// the nth one.
func (b *Bytes) truncate(n int) {
	if n >= b.maxSetLength {
		return
	}
	b.data = b.data[:b.offsets[n]]
	b.maxSetLength = n
}

// ensureCapacity grows the offsets so that at least n values fit.
func (b *Bytes) ensureCapacity(n int) {
	if b.Len() >= n {
		return
	}
	newCap := 2 * b.Len()
	if newCap < n {
		newCap = n
	}
	offsets := make([]int32, newCap+1)
	copy(offsets, b.offsets[:b.maxSetLength+1])
	b.offsets = offsets
}

// Offsets returns the offsets of the first n values. The returned slice has
// length n+1.
func (b *Bytes) Offsets(n int) []int32 {
	b.UpdateOffsetsToBeNonDecreasing(n)
	return b.offsets[:n+1]
}

// Data returns the data of the first n values.
func (b *Bytes) Data(n int) []byte {
	b.UpdateOffsetsToBeNonDecreasing(n)
	return b.data[b.offsets[0]:b.offsets[n]]
}

// Size returns the total number of bytes held by b.
func (b *Bytes) Size() int64 {
	return int64(cap(b.data)) + int64(cap(b.offsets))*4
}

// ProportionalSize returns the number of bytes that the first n values
// occupy.
func (b *Bytes) ProportionalSize(n int) int64 {
	if n == 0 {
		return 0
	}
	b.UpdateOffsetsToBeNonDecreasing(n)
	return int64(b.offsets[n]-b.offsets[0]) + int64(n)*4
}

// String is used for debugging purposes.
func (b *Bytes) String() string {
	var builder strings.Builder
	for i := 0; i < b.Len(); i++ {
		builder.WriteString(
			fmt.Sprintf("%d: %v\n", i, b.Get(i)),
		)
	}
	return builder.String()
}
