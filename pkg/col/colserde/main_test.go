// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colserde_test

import (
	"context"

	"github.com/cockroachdb/spilljoin/pkg/sql/colmem"
	"github.com/cockroachdb/spilljoin/pkg/util/mon"
)

func newTestAllocator(limit int64) (*colmem.Allocator, *mon.BytesMonitor) {
	m := mon.NewMonitor("colserde-test", limit)
	acc := m.MakeBoundAccount()
	return colmem.NewAllocator(context.Background(), &acc), m
}
