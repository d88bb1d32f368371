// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package coldatatestutils contains helpers for tests of columnar data.
package coldatatestutils

import (
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/spilljoin/pkg/col/coldata"
	"github.com/stretchr/testify/require"
)

// RowStrings returns the rows of b, each formatted with coldata.ValueString.
func RowStrings(b coldata.Batch) []string {
	rows := make([]string, b.Length())
	var sb strings.Builder
	for i := range rows {
		sb.Reset()
		for j, vec := range b.ColVecs() {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(coldata.ValueString(vec, i))
		}
		rows[i] = sb.String()
	}
	return rows
}

// AssertEquivalentBatches asserts that the two batches hold the same types
// and the same values in the same order.
func AssertEquivalentBatches(t testing.TB, expected, actual coldata.Batch) {
	t.Helper()
	require.Equal(t, expected.Width(), actual.Width(), "width")
	for i := 0; i < expected.Width(); i++ {
		require.True(t, expected.ColVec(i).Type().Identical(actual.ColVec(i).Type()),
			"column %d: %s vs %s", i, expected.ColVec(i).Type(), actual.ColVec(i).Type())
	}
	require.Equal(t, RowStrings(expected), RowStrings(actual))
}

// SortedRows returns the formatted rows of all batches, sorted. It is used
// to compare results whose order is unspecified.
func SortedRows(batches ...coldata.Batch) []string {
	var rows []string
	for _, b := range batches {
		rows = append(rows, RowStrings(b)...)
	}
	sort.Strings(rows)
	return rows
}
