// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// spilljoin runs memory-accounted hash joins over generated inputs.
package main

import "github.com/cockroachdb/spilljoin/pkg/cli"

func main() {
	cli.Main()
}
