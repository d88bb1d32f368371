// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package typeconv maps the types of the vectorized engine to their Arrow
// counterparts.
package typeconv

import (
	"github.com/apache/arrow/go/v11/arrow"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
)

// TypeToArrowType returns the Arrow type that values of t are serialized as.
// Decimals are serialized as their string representation in a binary
// column since their precision is arbitrary.
func TypeToArrowType(t *coltypes.T) (arrow.DataType, error) {
	switch t.Family() {
	case coltypes.BoolFamily:
		return arrow.FixedWidthTypes.Boolean, nil
	case coltypes.Int32Family:
		return arrow.PrimitiveTypes.Int32, nil
	case coltypes.Int64Family:
		return arrow.PrimitiveTypes.Int64, nil
	case coltypes.Float64Family:
		return arrow.PrimitiveTypes.Float64, nil
	case coltypes.BytesFamily, coltypes.DecimalFamily:
		return arrow.BinaryTypes.Binary, nil
	case coltypes.TimestampFamily:
		return arrow.FixedWidthTypes.Timestamp_ms, nil
	case coltypes.ListFamily:
		elem, err := TypeToArrowType(t.Elem())
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elem), nil
	default:
		return nil, errors.Newf("unsupported type %s", t)
	}
}

// ToArrowSchema returns the Arrow schema for a schema of the vectorized
// engine.
func ToArrowSchema(schema coltypes.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(schema))
	for i, f := range schema {
		typ, err := TypeToArrowType(f.Typ)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", f.Name)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: typ, Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

// IsTypeSupported returns whether t can be serialized.
func IsTypeSupported(t *coltypes.T) bool {
	_, err := TypeToArrowType(t)
	return err == nil
}
