// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package coldata

import "math/bits"

// zeroedNulls is a zeroed out slice representing a bitmap of size
// MaxBatchSize. This is copied to efficiently set all nulls.
var zeroedNulls [(MaxBatchSize-1)/8 + 1]byte

// filledNulls is a slice representing a bitmap of size MaxBatchSize with
// every single bit set.
var filledNulls [(MaxBatchSize-1)/8 + 1]byte

// bitMask[i] is a byte with a single bit set at i.
var bitMask = [8]byte{0x1, 0x2, 0x4, 0x8, 0x10, 0x20, 0x40, 0x80}

// flippedBitMask[i] is a byte with all bits set except at i.
var flippedBitMask = [8]byte{0xFE, 0xFD, 0xFB, 0xF7, 0xEF, 0xDF, 0xBF, 0x7F}

// onesMask is a byte where every bit is set to 1.
const onesMask = byte(255)

func init() {
	// Initializes filledNulls to the desired slice.
	for i := range filledNulls {
		filledNulls[i] = onesMask
	}
}

// Nulls represents a list of potentially nullable values using a bitmap. It
// is intended to be used alongside a slice (e.g. in the Vec interface) --
// if the ith bit is off, then the ith element in that slice should be treated
// as NULL. The layout matches the Arrow validity bitmap.
type Nulls struct {
	nulls []byte
	// maybeHasNulls is a best-effort representation of whether or not the
	// vector has any null values set. If it is false, there definitely will be
	// no null values. If it is true, there may or may not be null values.
	maybeHasNulls bool
}

// NewNulls returns a new nulls vector, initialized with a length.
func NewNulls(len int) Nulls {
	if len > 0 {
		n := Nulls{
			nulls: make([]byte, (len-1)/8+1),
		}
		n.UnsetNulls()
		return n
	}
	return Nulls{
		nulls: make([]byte, 0),
	}
}

// MaybeHasNulls returns true if the column possibly has any null values, and
// returns false if the column definitely has no null values.
func (n *Nulls) MaybeHasNulls() bool {
	return n.maybeHasNulls
}

// SetNullRange sets all the values in [startIdx, endIdx) to null.
func (n *Nulls) SetNullRange(startIdx int, endIdx int) {
	start, end := uint64(startIdx), uint64(endIdx)
	if start >= end {
		return
	}
	n.maybeHasNulls = true
	sIdx := start / 8
	eIdx := (end - 1) / 8

	// Case where mask only spans one byte.
	if sIdx == eIdx {
		mask := onesMask << (start % 8)
		if end%8 != 0 {
			mask = mask & (onesMask >> (8 - (end % 8)))
		}
		n.nulls[sIdx] &= ^mask
		return
	}

	// Case where mask spans at least two bytes.
	if sIdx < eIdx {
		mask := onesMask << (start % 8)
		n.nulls[sIdx] &= ^mask

		if end%8 == 0 {
			n.nulls[eIdx] = 0
		} else {
			mask = onesMask >> (8 - (end % 8))
			n.nulls[eIdx] &= ^mask
		}

		for i := sIdx + 1; i < eIdx; i++ {
			n.nulls[i] = 0
		}
	}
}

// UnsetNullRange unsets all the nulls in the range [startIdx, endIdx).
// After using UnsetNullRange, n might not contain any null values,
// but maybeHasNulls could still be true.
func (n *Nulls) UnsetNullRange(startIdx, endIdx int) {
	start, end := uint64(startIdx), uint64(endIdx)
	if start >= end || !n.maybeHasNulls {
		return
	}
	sIdx := start / 8
	eIdx := (end - 1) / 8

	if sIdx == eIdx {
		mask := onesMask << (start % 8)
		if end%8 != 0 {
			mask = mask & (onesMask >> (8 - (end % 8)))
		}
		n.nulls[sIdx] |= mask
		return
	}

	if sIdx < eIdx {
		mask := onesMask << (start % 8)
		n.nulls[sIdx] |= mask

		if end%8 == 0 {
			n.nulls[eIdx] = onesMask
		} else {
			mask = onesMask >> (8 - (end % 8))
			n.nulls[eIdx] |= mask
		}

		for i := sIdx + 1; i < eIdx; i++ {
			n.nulls[i] = onesMask
		}
	}
}

// Truncate sets all values with index greater than or equal to start to null.
func (n *Nulls) Truncate(start int) {
	end := len(n.nulls) * 8
	n.SetNullRange(start, end)
}

// UnsetNullsAfter sets all values with index greater than or equal to idx to
// non-null.
func (n *Nulls) UnsetNullsAfter(idx int) {
	end := len(n.nulls) * 8
	n.UnsetNullRange(idx, end)
}

// UnsetNulls sets the column to have no null values.
func (n *Nulls) UnsetNulls() {
	n.maybeHasNulls = false

	startIdx := 0
	for startIdx < len(n.nulls) {
		startIdx += copy(n.nulls[startIdx:], filledNulls[:])
	}
}

// SetNulls sets the column to have only null values.
func (n *Nulls) SetNulls() {
	n.maybeHasNulls = true

	startIdx := 0
	for startIdx < len(n.nulls) {
		startIdx += copy(n.nulls[startIdx:], zeroedNulls[:])
	}
}

// NullAt returns true if the ith value of the column is null.
func (n *Nulls) NullAt(i int) bool {
	return n.nulls[i>>3]&bitMask[i&7] == 0
}

// SetNull sets the ith value of the column to null.
func (n *Nulls) SetNull(i int) {
	n.maybeHasNulls = true
	n.nulls[i>>3] &= flippedBitMask[i&7]
}

// UnsetNull unsets the ith value of the column.
func (n *Nulls) UnsetNull(i int) {
	n.nulls[i>>3] |= bitMask[i&7]
}

// swap swaps the null values at the argument indices. We implement the logic
// directly on the byte array rather than case on the result of NullAt to
// avoid having to take some branches.
func (n *Nulls) swap(iIdx, jIdx int) {
	i, j := uint64(iIdx), uint64(jIdx)
	// Get original null values.
	ni := (n.nulls[i/8] >> (i % 8)) & 0x1
	nj := (n.nulls[j/8] >> (j % 8)) & 0x1
	// Write into the correct positions.
	iMask := bitMask[i%8]
	jMask := bitMask[j%8]
	n.nulls[i/8] = (n.nulls[i/8] & ^iMask) | (nj << (i % 8))
	n.nulls[j/8] = (n.nulls[j/8] & ^jMask) | (ni << (j % 8))
}

// setSmallRange is a helper that copies over a slice [startIdx, startIdx+toSet)
// of src and puts it into this nulls starting at destIdx.
func (n *Nulls) setSmallRange(src *Nulls, destIdx, srcStartIdx, toSet int) {
	for i := 0; i < toSet; i++ {
		if src.NullAt(srcStartIdx + i) {
			n.SetNull(destIdx + i)
		} else {
			n.UnsetNull(destIdx + i)
		}
	}
}

// set copies over the nulls of the source described by args into n. If a
// selection vector is given, the source indices are read through it.
func (n *Nulls) set(args CopyArgs) {
	if !args.Src.MaybeHasNulls() {
		n.UnsetNullRange(args.DestIdx, args.DestIdx+(args.SrcEndIdx-args.SrcStartIdx))
		return
	}
	srcNulls := args.Src.Nulls()
	if args.Sel != nil {
		for i, selIdx := range args.Sel[args.SrcStartIdx:args.SrcEndIdx] {
			if srcNulls.NullAt(selIdx) {
				n.SetNull(args.DestIdx + i)
			} else {
				n.UnsetNull(args.DestIdx + i)
			}
		}
		return
	}
	n.setSmallRange(srcNulls, args.DestIdx, args.SrcStartIdx, args.SrcEndIdx-args.SrcStartIdx)
}

// Slice returns a new Nulls representing a slice of the current Nulls from
// [start, end).
func (n *Nulls) Slice(start int, end int) Nulls {
	if !n.maybeHasNulls {
		return NewNulls(end - start)
	}
	if start >= end {
		return NewNulls(0)
	}
	s := NewNulls(end - start)
	s.maybeHasNulls = true
	mod := start % 8
	startIdx := start / 8
	if mod == 0 {
		copy(s.nulls, n.nulls[startIdx:])
	} else {
		for i := range s.nulls {
			// If start is not a multiple of 8, we need to shift over the bitmap
			// to have the first index correspond.
			s.nulls[i] = n.nulls[startIdx+i] >> uint(mod)
			if startIdx+i+1 < len(n.nulls) {
				// And now bitwise or the remaining bits with the bits we want to
				// bring over from the next index.
				s.nulls[i] |= n.nulls[startIdx+i+1] << uint(8-mod)
			}
		}
	}
	// Bits past the end of the slice are valid.
	endBits := (end - start) % 8
	if endBits != 0 {
		mask := onesMask << uint(endBits)
		s.nulls[len(s.nulls)-1] |= mask
	}
	return s
}

// NullBitmap returns the null bitmap.
func (n *Nulls) NullBitmap() []byte {
	return n.nulls
}

// SetNullBitmap sets the validity bitmap. size corresponds to how many
// elements this bitmap represents. The bits past the end of this size will be
// set to valid.
func (n *Nulls) SetNullBitmap(bm []byte, size int) {
	n.nulls = bm
	n.maybeHasNulls = false
	// Only check up to the length.
	for i, x := range bm {
		if i >= (size-1)/8+1 {
			break
		}
		if i == (size-1)/8 && size%8 != 0 {
			x |= onesMask << uint(size%8)
		}
		if x != onesMask {
			n.maybeHasNulls = true
			break
		}
	}
	n.UnsetNullsAfter(size)
}

// NullCount returns the number of null values among the first n elements.
func (n *Nulls) NullCount(length int) int {
	if !n.maybeHasNulls || length == 0 {
		return 0
	}
	full := length / 8
	valid := 0
	for _, b := range n.nulls[:full] {
		valid += bits.OnesCount8(b)
	}
	if rem := length % 8; rem != 0 {
		valid += bits.OnesCount8(n.nulls[full] & (onesMask >> uint(8-rem)))
	}
	return length - valid
}

// Or returns a new Nulls vector where NullAt(i) iff n1.NullAt(i) or
// n2.NullAt(i).
func (n *Nulls) Or(n2 *Nulls) *Nulls {
	// For simplicity, enforce that len(n.nulls) <= len(n2.nulls).
	if len(n.nulls) > len(n2.nulls) {
		n, n2 = n2, n
	}
	res := make([]byte, len(n2.nulls))
	for i := 0; i < len(n.nulls) && i < len(n2.nulls); i++ {
		res[i] = n.nulls[i] & n2.nulls[i]
	}
	// If n2 is longer, we can just copy the remainder.
	copy(res[len(n.nulls):], n2.nulls[len(n.nulls):])
	return &Nulls{
		maybeHasNulls: n.maybeHasNulls || n2.maybeHasNulls,
		nulls:         res,
	}
}

// Copy returns a copy of n which can be modified independently.
func (n *Nulls) Copy() Nulls {
	c := Nulls{
		maybeHasNulls: n.maybeHasNulls,
		nulls:         make([]byte, len(n.nulls)),
	}
	copy(c.nulls, n.nulls)
	return c
}

// ensureCapacity grows the bitmap so that it can hold at least size values.
// New values are non-null.
func (n *Nulls) ensureCapacity(size int) {
	need := 0
	if size > 0 {
		need = (size-1)/8 + 1
	}
	if len(n.nulls) >= need {
		return
	}
	newCap := 2 * len(n.nulls)
	if newCap < need {
		newCap = need
	}
	grown := make([]byte, newCap)
	copy(grown, n.nulls)
	for i := len(n.nulls); i < newCap; i++ {
		grown[i] = onesMask
	}
	n.nulls = grown
}

// size returns the number of bytes held by the bitmap.
func (n *Nulls) size() int64 {
	return int64(cap(n.nulls))
}
