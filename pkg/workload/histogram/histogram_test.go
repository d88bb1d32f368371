// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package histogram

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistrySummaries(t *testing.T) {
	r := NewRegistry(10 * time.Second)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		h := r.Get("join")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				h.Record(time.Duration(i) * time.Millisecond)
			}
		}()
	}
	r.Get("aggregate").Record(time.Hour)
	wg.Wait()

	s := r.Summaries()
	require.Len(t, s, 2)
	require.Equal(t, "aggregate", s[0].Name)
	require.Equal(t, int64(1), s[0].Count)
	// Out of range values are clamped.
	require.InEpsilon(t, float64(10*time.Second), float64(s[0].Max), 0.1)

	join := s[1]
	require.Equal(t, "join", join.Name)
	require.Equal(t, int64(400), join.Count)
	require.InEpsilon(t, float64(50*time.Millisecond), float64(join.P50), 0.15)
	require.InEpsilon(t, float64(100*time.Millisecond), float64(join.Max), 0.15)
	require.LessOrEqual(t, join.P50, join.P95)
	require.LessOrEqual(t, join.P95, join.P99)
	require.LessOrEqual(t, join.P99, join.Max)
}

func TestRecordClampsSmallValues(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Get("x").Record(0)
	s := r.Summaries()
	require.Equal(t, int64(1), s[0].Count)
	require.Greater(t, s[0].P50, time.Duration(0))
}
