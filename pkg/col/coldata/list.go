// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package coldata

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
)

// List is a vector of variable-length lists. The values of the ith list are
// child[offsets[i]:offsets[i+1]]. Lists are written in order: only the last
// set list can be overwritten.
type List struct {
	offsets []int32
	child   *memColumn
	// maxSetLength is one past the largest index that has been Set.
	maxSetLength int
	isWindow     bool
}

func newList(elem *coltypes.T, n int) *List {
	return &List{
		offsets: make([]int32, n+1),
		child:   newMemColumn(elem, n),
	}
}

// Len returns how many lists the vector can hold.
func (l *List) Len() int {
	return len(l.offsets) - 1
}

// Child returns the vector holding the list elements.
func (l *List) Child() Vec {
	return l.child
}

// ElemType returns the type of the list elements.
func (l *List) ElemType() *coltypes.T {
	return l.child.t
}

// Bounds returns the [start, end) range of the ith list in the child vector.
func (l *List) Bounds(i int) (start, end int) {
	if i >= l.maxSetLength {
		return 0, 0
	}
	return int(l.offsets[i]), int(l.offsets[i+1])
}

// Get returns the elements of the ith list as boxed values. NULL elements
// are returned as nil.
func (l *List) Get(i int) []interface{} {
	start, end := l.Bounds(i)
	res := make([]interface{}, 0, end-start)
	for j := start; j < end; j++ {
		res = append(res, l.child.Get(j))
	}
	return res
}

// Set sets the ith list to the given boxed values.
func (l *List) Set(i int, vals []interface{}) {
	start := l.prepareSet(i)
	l.child.ensureCapacity(start + len(vals))
	for j, v := range vals {
		l.child.Set(start+j, v)
	}
	l.offsets[i+1] = int32(start + len(vals))
	l.maxSetLength = i + 1
}

// AppendFrom sets the ith list to the values src[srcStart:srcEnd] of a
// vector of the element type.
func (l *List) AppendFrom(i int, src Vec, srcStart, srcEnd int) {
	start := l.prepareSet(i)
	n := srcEnd - srcStart
	l.child.ensureCapacity(start + n)
	l.child.Copy(CopyArgs{
		Src:         src,
		DestIdx:     start,
		SrcStartIdx: srcStart,
		SrcEndIdx:   srcEnd,
	})
	l.offsets[i+1] = int32(start + n)
	l.maxSetLength = i + 1
}

// prepareSet validates that the ith list may be written, pads the skipped
// lists as empty and returns the child position where the list starts.
func (l *List) prepareSet(i int) int {
	if l.isWindow {
		panic(errors.AssertionFailedf("Set called on a window into List"))
	}
	if i < l.maxSetLength-1 {
		panic(errors.AssertionFailedf(
			"list values must be set in order: index %d, already set %d", i, l.maxSetLength))
	}
	l.updateOffsetsToBeNonDecreasing(i)
	return int(l.offsets[i])
}

// truncate drops the lists from index n on, so that the next list set is the
// nth one.
func (l *List) truncate(n int) {
	if n >= l.maxSetLength {
		return
	}
	if l.child.t.Family() == coltypes.BytesFamily {
		l.child.Bytes().truncate(int(l.offsets[n]))
	}
	l.maxSetLength = n
}

func (l *List) updateOffsetsToBeNonDecreasing(n int) {
	if n <= l.maxSetLength {
		return
	}
	prev := l.offsets[l.maxSetLength]
	for j := l.maxSetLength + 1; j <= n; j++ {
		l.offsets[j] = prev
	}
}

// Offsets returns the offsets of the first n lists. The returned slice has
// length n+1 and its values index into Child().
func (l *List) Offsets(n int) []int32 {
	l.updateOffsetsToBeNonDecreasing(n)
	return l.offsets[:n+1]
}

// ResetFromOffsets makes the receiver hold n lists whose bounds are given by
// offsets[i]-offsets[0] and offsets[i+1]-offsets[0]. It returns the child
// vector, grown to hold all of the elements, for the caller to fill in.
func (l *List) ResetFromOffsets(offsets []int32, n int) Vec {
	if l.isWindow {
		panic(errors.AssertionFailedf("ResetFromOffsets called on a window into List"))
	}
	l.ensureCapacity(n)
	base := offsets[0]
	for i := 0; i <= n; i++ {
		l.offsets[i] = offsets[i] - base
	}
	l.maxSetLength = n
	l.child.ensureCapacity(int(l.offsets[n]))
	l.child.Reset()
	return l.child
}

// Window returns a read-only view of the lists [start, end).
func (l *List) Window(start, end int) *List {
	if start < 0 || start > end || end > l.Len() {
		panic(errors.AssertionFailedf("invalid window arguments: start=%d end=%d when List.Len()=%d",
			start, end, l.Len()))
	}
	l.updateOffsetsToBeNonDecreasing(end)
	return &List{
		offsets:      l.offsets[start : end+1],
		child:        l.child,
		maxSetLength: end - start,
		isWindow:     true,
	}
}

// Reset resets the list vector for reuse. It is a noop on windows.
func (l *List) Reset() {
	if l.isWindow {
		return
	}
	l.maxSetLength = 0
	l.offsets[0] = 0
	l.child.Reset()
}

func (l *List) ensureCapacity(n int) {
	if l.Len() >= n {
		return
	}
	newCap := 2 * l.Len()
	if newCap < n {
		newCap = n
	}
	offsets := make([]int32, newCap+1)
	copy(offsets, l.offsets[:l.maxSetLength+1])
	l.offsets = offsets
}

// Size returns the total number of bytes held by the list vector.
func (l *List) Size() int64 {
	return int64(cap(l.offsets))*4 + l.child.Size()
}
