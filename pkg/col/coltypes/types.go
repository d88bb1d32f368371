// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package coltypes defines the types understood by the vectorized engine and
// the schemas built from them.
package coltypes

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
)

// Family is the physical representation class of a type.
type Family int

const (
	// UnknownFamily is the zero value and is never valid in a schema.
	UnknownFamily Family = iota
	// BoolFamily values are stored as []bool.
	BoolFamily
	// Int32Family values are stored as []int32.
	Int32Family
	// Int64Family values are stored as []int64.
	Int64Family
	// Float64Family values are stored as []float64.
	Float64Family
	// BytesFamily values are variable width and stored as offsets + data.
	BytesFamily
	// TimestampFamily values are milliseconds since the Unix epoch stored as
	// []int64.
	TimestampFamily
	// DecimalFamily values are stored as []apd.Decimal.
	DecimalFamily
	// ListFamily values are stored as offsets into a child vector of the
	// element type.
	ListFamily
)

var familyNames = [...]string{
	UnknownFamily:   "UNKNOWN",
	BoolFamily:      "BOOL",
	Int32Family:     "INT4",
	Int64Family:     "INT8",
	Float64Family:   "FLOAT8",
	BytesFamily:     "BYTES",
	TimestampFamily: "TIMESTAMP",
	DecimalFamily:   "DECIMAL",
	ListFamily:      "LIST",
}

// String implements fmt.Stringer.
func (f Family) String() string {
	if f < 0 || int(f) >= len(familyNames) {
		return fmt.Sprintf("Family(%d)", int(f))
	}
	return familyNames[f]
}

// T is a column type. Types are compared with Identical, not with ==, since
// list types are constructed on demand.
type T struct {
	family Family
	// elem is only set for ListFamily.
	elem *T
}

// Canonical instances of the scalar types.
var (
	Bool      = &T{family: BoolFamily}
	Int4      = &T{family: Int32Family}
	Int       = &T{family: Int64Family}
	Float     = &T{family: Float64Family}
	Bytes     = &T{family: BytesFamily}
	Timestamp = &T{family: TimestampFamily}
	Decimal   = &T{family: DecimalFamily}
)

// AllScalarTypes lists every scalar type that vectors can hold.
var AllScalarTypes = []*T{Bool, Int4, Int, Float, Bytes, Timestamp, Decimal}

// MakeList returns the type of a list whose elements have type elem. Nested
// lists are not supported.
func MakeList(elem *T) *T {
	if elem == nil || elem.family == ListFamily || elem.family == UnknownFamily {
		panic(errors.AssertionFailedf("unsupported list element type %v", elem))
	}
	return &T{family: ListFamily, elem: elem}
}

// Family returns the physical family of the type.
func (t *T) Family() Family {
	return t.family
}

// Elem returns the element type of a list type and nil otherwise.
func (t *T) Elem() *T {
	return t.elem
}

// Identical returns whether the two types have the same physical layout.
func (t *T) Identical(other *T) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.family != other.family {
		return false
	}
	if t.family == ListFamily {
		return t.elem.Identical(other.elem)
	}
	return true
}

// IsBytesLike returns whether the values of the type are variable width.
func (t *T) IsBytesLike() bool {
	return t.family == BytesFamily
}

// FixedWidth returns the number of bytes one value occupies in memory, or 0
// for the variable width families.
func (t *T) FixedWidth() int {
	switch t.family {
	case BoolFamily:
		return 1
	case Int32Family:
		return 4
	case Int64Family, Float64Family, TimestampFamily:
		return 8
	case DecimalFamily:
		return int(unsafe.Sizeof(apd.Decimal{}))
	default:
		return 0
	}
}

// String implements fmt.Stringer.
func (t *T) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.family == ListFamily {
		return t.elem.String() + "[]"
	}
	return t.family.String()
}

// Field is a named, typed column of a schema.
type Field struct {
	Name     string
	Typ      *T
	Nullable bool
}

// Schema is an ordered list of fields.
type Schema []Field

// MakeSchema builds a nullable schema with generated column names.
func MakeSchema(typs ...*T) Schema {
	s := make(Schema, len(typs))
	for i, typ := range typs {
		s[i] = Field{Name: fmt.Sprintf("c%d", i), Typ: typ, Nullable: true}
	}
	return s
}

// Types returns the types of the fields in order.
func (s Schema) Types() []*T {
	typs := make([]*T, len(s))
	for i := range s {
		typs[i] = s[i].Typ
	}
	return typs
}

// String implements fmt.Stringer.
func (s Schema) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, f := range s {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", f.Name, f.Typ)
		if !f.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteByte(')')
	return b.String()
}

// TypesIdentical returns whether two type slices are pairwise identical.
func TypesIdentical(a, b []*T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Identical(b[i]) {
			return false
		}
	}
	return true
}

// typeAliases maps the accepted lower case spellings of the scalar types.
var typeAliases = map[string]*T{
	"bool":      Bool,
	"boolean":   Bool,
	"int4":      Int4,
	"int32":     Int4,
	"int":       Int,
	"int8":      Int,
	"int64":     Int,
	"bigint":    Int,
	"float":     Float,
	"float8":    Float,
	"float64":   Float,
	"double":    Float,
	"bytes":     Bytes,
	"varbinary": Bytes,
	"string":    Bytes,
	"varchar":   Bytes,
	"timestamp": Timestamp,
	"decimal":   Decimal,
}

// ParseType parses a type name such as "int", "DECIMAL" or "bytes[]". A
// trailing "[]" makes a list type.
func ParseType(name string) (*T, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	if elem, ok := strings.CutSuffix(s, "[]"); ok {
		t, err := ParseType(elem)
		if err != nil {
			return nil, err
		}
		if t.family == ListFamily {
			return nil, errors.Newf("nested list type %q is not supported", name)
		}
		return MakeList(t), nil
	}
	if t, ok := typeAliases[s]; ok {
		return t, nil
	}
	return nil, errors.Newf("unknown type %q", name)
}

// ParseTypes parses a comma separated list of type names.
func ParseTypes(names string) ([]*T, error) {
	var typs []*T
	for _, name := range strings.Split(names, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		t, err := ParseType(name)
		if err != nil {
			return nil, err
		}
		typs = append(typs, t)
	}
	return typs, nil
}
