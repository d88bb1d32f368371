// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package coldatatestutils

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spilljoin/pkg/col/coltypes"
)

// ParseRows parses rows of whitespace separated values, one row per line,
// into values accepted by coldata.Batch.AppendRow. NULL is the NULL value,
// bytes are taken verbatim and timestamps are milliseconds since the Unix
// epoch. Empty lines are skipped.
func ParseRows(typs []*coltypes.T, input string) ([][]interface{}, error) {
	var rows [][]interface{}
	for lineIdx, line := range strings.Split(input, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != len(typs) {
			return nil, errors.Newf("line %d: %d values for %d columns", lineIdx+1, len(fields), len(typs))
		}
		row := make([]interface{}, len(typs))
		for i, f := range fields {
			v, err := ParseValue(typs[i], f)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineIdx+1)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseValue parses a single value of type t.
func ParseValue(t *coltypes.T, s string) (interface{}, error) {
	if s == "NULL" {
		return nil, nil
	}
	switch t.Family() {
	case coltypes.BoolFamily:
		return strconv.ParseBool(s)
	case coltypes.Int32Family:
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	case coltypes.Int64Family, coltypes.TimestampFamily:
		return strconv.ParseInt(s, 10, 64)
	case coltypes.Float64Family:
		return strconv.ParseFloat(s, 64)
	case coltypes.BytesFamily:
		return s, nil
	case coltypes.DecimalFamily:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, errors.Newf("invalid decimal %q", s)
		}
		return s, nil
	default:
		return nil, errors.Newf("cannot parse values of type %s", t)
	}
}
