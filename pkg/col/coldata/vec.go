// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package coldata

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
)

// Column is an interface that represents a raw array of a Go native type.
type Column interface{}

// CopyArgs represents the arguments passed in to Vec.Copy and Vec.Append.
type CopyArgs struct {
	// Src is the vector to copy from.
	Src Vec
	// Sel, if set, makes the copy read Src[Sel[i]] for i in
	// [SrcStartIdx, SrcEndIdx).
	Sel []int
	// DestIdx is the first index of the destination that is written.
	DestIdx     int
	SrcStartIdx int
	SrcEndIdx   int
}

// Vec is an interface that represents a column vector that's accessible by
// Go native types.
type Vec interface {
	// Type returns the type of data stored in this Vec.
	Type() *coltypes.T

	// Bool returns a bool list.
	Bool() []bool
	// Int32 returns an int32 slice.
	Int32() []int32
	// Int64 returns an int64 slice.
	Int64() []int64
	// Float64 returns a float64 slice.
	Float64() []float64
	// Timestamp returns the milliseconds since the Unix epoch.
	Timestamp() []int64
	// Decimal returns an apd.Decimal slice.
	Decimal() []apd.Decimal
	// Bytes returns a flat Bytes representation.
	Bytes() *Bytes
	// List returns the list representation.
	List() *List

	// Col returns the raw, typeless backing storage for this Vec.
	Col() Column
	// SetCol sets the member column (in the case of mutable columns).
	SetCol(Column)

	// Nulls returns the nulls vector for the column.
	Nulls() *Nulls
	// SetNulls sets the nulls vector for this column.
	SetNulls(Nulls)
	// MaybeHasNulls returns true if the column possibly has any null values,
	// and returns false if the column definitely has no null values.
	MaybeHasNulls() bool

	// Capacity returns the capacity of the Golang's slice that is underlying
	// this Vec.
	Capacity() int

	// Get returns the boxed value at index i, or nil if it is NULL.
	Get(i int) interface{}
	// Set sets the value at index i from a boxed value. A nil value sets
	// NULL.
	Set(i int, v interface{})

	// Copy uses CopyArgs to copy elements of a source Vec into this Vec. The
	// destination must have enough capacity.
	Copy(args CopyArgs)
	// Append is like Copy but grows the destination as needed.
	Append(args CopyArgs)
	// Window returns a "window" into the Vec. A "window" is similar to Golang's
	// slice of the current Vec from [start, end), but the returned object is
	// NOT allowed to be modified (the modification might result in an
	// undefined behavior).
	Window(start int, end int) Vec

	// Size returns the total number of bytes held by the vector, including
	// unused capacity.
	Size() int64
	// Reset prepares the vector for reuse.
	Reset()
}

var _ Vec = &memColumn{}

// memColumn is a simple pass-through implementation of Vec that just casts
// a generic interface{} to the proper type when requested.
type memColumn struct {
	t     *coltypes.T
	col   Column
	nulls Nulls
}

// NewMemColumn returns a new memColumn, initialized with a length using the
// given type.
func NewMemColumn(t *coltypes.T, length int) Vec {
	return newMemColumn(t, length)
}

func newMemColumn(t *coltypes.T, length int) *memColumn {
	return &memColumn{t: t, col: makeCol(t, length), nulls: NewNulls(length)}
}

func makeCol(t *coltypes.T, length int) Column {
	switch t.Family() {
	case coltypes.BoolFamily:
		return make([]bool, length)
	case coltypes.Int32Family:
		return make([]int32, length)
	case coltypes.Int64Family, coltypes.TimestampFamily:
		return make([]int64, length)
	case coltypes.Float64Family:
		return make([]float64, length)
	case coltypes.DecimalFamily:
		return make([]apd.Decimal, length)
	case coltypes.BytesFamily:
		return NewBytes(length)
	case coltypes.ListFamily:
		return newList(t.Elem(), length)
	default:
		panic(errors.AssertionFailedf("unhandled type %s", t))
	}
}

func (m *memColumn) Type() *coltypes.T {
	return m.t
}

func (m *memColumn) SetCol(col Column) {
	m.col = col
}

func (m *memColumn) Bool() []bool {
	return m.col.([]bool)
}

func (m *memColumn) Int32() []int32 {
	return m.col.([]int32)
}

func (m *memColumn) Int64() []int64 {
	return m.col.([]int64)
}

func (m *memColumn) Float64() []float64 {
	return m.col.([]float64)
}

func (m *memColumn) Timestamp() []int64 {
	return m.col.([]int64)
}

func (m *memColumn) Decimal() []apd.Decimal {
	return m.col.([]apd.Decimal)
}

func (m *memColumn) Bytes() *Bytes {
	return m.col.(*Bytes)
}

func (m *memColumn) List() *List {
	return m.col.(*List)
}

func (m *memColumn) Col() Column {
	return m.col
}

func (m *memColumn) Nulls() *Nulls {
	return &m.nulls
}

func (m *memColumn) SetNulls(n Nulls) {
	m.nulls = n
}

func (m *memColumn) MaybeHasNulls() bool {
	return m.nulls.maybeHasNulls
}

func (m *memColumn) Capacity() int {
	switch m.t.Family() {
	case coltypes.BoolFamily:
		return cap(m.Bool())
	case coltypes.Int32Family:
		return cap(m.Int32())
	case coltypes.Int64Family, coltypes.TimestampFamily:
		return cap(m.Int64())
	case coltypes.Float64Family:
		return cap(m.Float64())
	case coltypes.DecimalFamily:
		return cap(m.Decimal())
	case coltypes.BytesFamily:
		return m.Bytes().Len()
	case coltypes.ListFamily:
		return m.List().Len()
	default:
		panic(errors.AssertionFailedf("unhandled type %s", m.t))
	}
}

// Get implements the Vec interface. Timestamps are returned as UTC
// time.Time values and decimals as fresh *apd.Decimal values.
func (m *memColumn) Get(i int) interface{} {
	if m.nulls.NullAt(i) {
		return nil
	}
	switch m.t.Family() {
	case coltypes.BoolFamily:
		return m.Bool()[i]
	case coltypes.Int32Family:
		return m.Int32()[i]
	case coltypes.Int64Family:
		return m.Int64()[i]
	case coltypes.Float64Family:
		return m.Float64()[i]
	case coltypes.TimestampFamily:
		return time.UnixMilli(m.Timestamp()[i]).UTC()
	case coltypes.DecimalFamily:
		var d apd.Decimal
		d.Set(&m.Decimal()[i])
		return &d
	case coltypes.BytesFamily:
		return m.Bytes().Get(i)
	case coltypes.ListFamily:
		return m.List().Get(i)
	default:
		panic(errors.AssertionFailedf("unhandled type %s", m.t))
	}
}

// Set implements the Vec interface.
func (m *memColumn) Set(i int, v interface{}) {
	if v == nil {
		m.nulls.SetNull(i)
		switch m.t.Family() {
		case coltypes.BytesFamily:
			m.Bytes().Set(i, nil)
		case coltypes.ListFamily:
			if l := m.List(); i >= l.maxSetLength-1 {
				l.Set(i, nil)
			}
		}
		return
	}
	m.nulls.UnsetNull(i)
	switch m.t.Family() {
	case coltypes.BoolFamily:
		m.Bool()[i] = v.(bool)
	case coltypes.Int32Family:
		m.Int32()[i] = int32(asInt64(v))
	case coltypes.Int64Family:
		m.Int64()[i] = asInt64(v)
	case coltypes.Float64Family:
		switch f := v.(type) {
		case float64:
			m.Float64()[i] = f
		case float32:
			m.Float64()[i] = float64(f)
		default:
			m.Float64()[i] = float64(asInt64(v))
		}
	case coltypes.TimestampFamily:
		if ts, ok := v.(time.Time); ok {
			m.Timestamp()[i] = ts.UnixMilli()
		} else {
			m.Timestamp()[i] = asInt64(v)
		}
	case coltypes.DecimalFamily:
		dst := &m.Decimal()[i]
		switch d := v.(type) {
		case *apd.Decimal:
			dst.Set(d)
		case apd.Decimal:
			dst.Set(&d)
		case string:
			if _, _, err := dst.SetString(d); err != nil {
				panic(errors.NewAssertionErrorWithWrappedErrf(err, "invalid decimal %q", d))
			}
		default:
			dst.SetInt64(asInt64(v))
		}
	case coltypes.BytesFamily:
		switch b := v.(type) {
		case []byte:
			m.Bytes().Set(i, b)
		case string:
			m.Bytes().Set(i, []byte(b))
		default:
			panic(errors.AssertionFailedf("unexpected value %T for %s", v, m.t))
		}
	case coltypes.ListFamily:
		m.List().Set(i, v.([]interface{}))
	default:
		panic(errors.AssertionFailedf("unhandled type %s", m.t))
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint16:
		return int64(n)
	default:
		panic(errors.AssertionFailedf("unexpected integer value %T", v))
	}
}

// Copy implements the Vec interface.
func (m *memColumn) Copy(args CopyArgs) {
	if !args.Src.Type().Identical(m.t) {
		panic(errors.AssertionFailedf("cannot copy %s into %s", args.Src.Type(), m.t))
	}
	n := args.SrcEndIdx - args.SrcStartIdx
	if n <= 0 {
		return
	}
	m.nulls.set(args)
	switch m.t.Family() {
	case coltypes.BoolFamily:
		copyFixed(m.Bool(), args.Src.Bool(), args)
	case coltypes.Int32Family:
		copyFixed(m.Int32(), args.Src.Int32(), args)
	case coltypes.Int64Family, coltypes.TimestampFamily:
		copyFixed(m.Int64(), args.Src.Int64(), args)
	case coltypes.Float64Family:
		copyFixed(m.Float64(), args.Src.Float64(), args)
	case coltypes.DecimalFamily:
		toCol, fromCol := m.Decimal(), args.Src.Decimal()
		for i := 0; i < n; i++ {
			srcIdx := args.SrcStartIdx + i
			if args.Sel != nil {
				srcIdx = args.Sel[srcIdx]
			}
			toCol[args.DestIdx+i].Set(&fromCol[srcIdx])
		}
	case coltypes.BytesFamily:
		m.Bytes().CopyFrom(args.Src.Bytes(), args.Sel, args.DestIdx, args.SrcStartIdx, args.SrcEndIdx)
	case coltypes.ListFamily:
		to, from := m.List(), args.Src.List()
		for i := 0; i < n; i++ {
			srcIdx := args.SrcStartIdx + i
			if args.Sel != nil {
				srcIdx = args.Sel[srcIdx]
			}
			start, end := from.Bounds(srcIdx)
			to.AppendFrom(args.DestIdx+i, from.child, start, end)
		}
	default:
		panic(errors.AssertionFailedf("unhandled type %s", m.t))
	}
}

func copyFixed[T any](toCol, fromCol []T, args CopyArgs) {
	if args.Sel == nil {
		copy(toCol[args.DestIdx:], fromCol[args.SrcStartIdx:args.SrcEndIdx])
		return
	}
	toCol = toCol[args.DestIdx:]
	for i, selIdx := range args.Sel[args.SrcStartIdx:args.SrcEndIdx] {
		toCol[i] = fromCol[selIdx]
	}
}

// Append implements the Vec interface.
func (m *memColumn) Append(args CopyArgs) {
	m.ensureCapacity(args.DestIdx + args.SrcEndIdx - args.SrcStartIdx)
	m.Copy(args)
}

// ensureCapacity grows the vector so that it can hold at least n values,
// preserving the existing ones.
func (m *memColumn) ensureCapacity(n int) {
	if m.Capacity() >= n {
		return
	}
	newCap := 2 * m.Capacity()
	if newCap < n {
		newCap = n
	}
	m.nulls.ensureCapacity(newCap)
	switch m.t.Family() {
	case coltypes.BoolFamily:
		m.col = growFixed(m.Bool(), newCap)
	case coltypes.Int32Family:
		m.col = growFixed(m.Int32(), newCap)
	case coltypes.Int64Family, coltypes.TimestampFamily:
		m.col = growFixed(m.Int64(), newCap)
	case coltypes.Float64Family:
		m.col = growFixed(m.Float64(), newCap)
	case coltypes.DecimalFamily:
		old := m.Decimal()
		grown := make([]apd.Decimal, newCap)
		for i := range old {
			grown[i].Set(&old[i])
		}
		m.col = grown
	case coltypes.BytesFamily:
		m.Bytes().ensureCapacity(newCap)
	case coltypes.ListFamily:
		m.List().ensureCapacity(newCap)
	}
}

func growFixed[T any](col []T, n int) []T {
	grown := make([]T, n)
	copy(grown, col)
	return grown
}

// Window implements the Vec interface.
func (m *memColumn) Window(start int, end int) Vec {
	w := &memColumn{t: m.t, nulls: m.nulls.Slice(start, end)}
	switch m.t.Family() {
	case coltypes.BoolFamily:
		w.col = m.Bool()[start:end]
	case coltypes.Int32Family:
		w.col = m.Int32()[start:end]
	case coltypes.Int64Family, coltypes.TimestampFamily:
		w.col = m.Int64()[start:end]
	case coltypes.Float64Family:
		w.col = m.Float64()[start:end]
	case coltypes.DecimalFamily:
		w.col = m.Decimal()[start:end]
	case coltypes.BytesFamily:
		w.col = m.Bytes().Window(start, end)
	case coltypes.ListFamily:
		w.col = m.List().Window(start, end)
	default:
		panic(errors.AssertionFailedf("unhandled type %s", m.t))
	}
	return w
}

var sizeOfDecimal = int64(unsafe.Sizeof(apd.Decimal{}))

// Size implements the Vec interface.
func (m *memColumn) Size() int64 {
	size := m.nulls.size()
	switch m.t.Family() {
	case coltypes.BytesFamily:
		return size + m.Bytes().Size()
	case coltypes.ListFamily:
		return size + m.List().Size()
	case coltypes.DecimalFamily:
		col := m.Decimal()
		size += int64(cap(col)) * sizeOfDecimal
		for i := range col {
			// Only count the out-of-line part of the coefficient.
			size += int64(col[i].Size()) - sizeOfDecimal
		}
		return size
	default:
		return size + int64(m.Capacity()*m.t.FixedWidth())
	}
}

// Reset implements the Vec interface.
func (m *memColumn) Reset() {
	m.nulls.UnsetNulls()
	switch m.t.Family() {
	case coltypes.BytesFamily:
		m.Bytes().Reset()
	case coltypes.ListFamily:
		m.List().Reset()
	}
}

// ValueString formats the value at index i for display.
func ValueString(v Vec, i int) string {
	val := v.Get(i)
	switch t := val.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02 15:04:05.000")
	case *apd.Decimal:
		return t.String()
	case []interface{}:
		s := "{"
		for j, e := range t {
			if j > 0 {
				s += ","
			}
			if e == nil {
				s += "NULL"
				continue
			}
			switch et := e.(type) {
			case []byte:
				s += string(et)
			case time.Time:
				s += et.Format("2006-01-02 15:04:05.000")
			case *apd.Decimal:
				s += et.String()
			default:
				s += fmt.Sprint(et)
			}
		}
		return s + "}"
	default:
		return fmt.Sprint(t)
	}
}
