// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package histogram records latency distributions of concurrent workers.
package histogram

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
)

const (
	sigFigs    = 1
	minLatency = 100 * time.Nanosecond
)

// NamedHistogram is a histogram owned by a single worker. It is safe for
// concurrent use so that a Registry can read it while the worker records.
type NamedHistogram struct {
	name string
	mu   struct {
		sync.Mutex
		current *hdrhistogram.Histogram
	}
}

// Record saves a datapoint. Values outside of the range of the registry are
// clamped to it.
func (w *NamedHistogram) Record(elapsed time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	maxLatency := time.Duration(w.mu.current.HighestTrackableValue())
	if elapsed < minLatency {
		elapsed = minLatency
	} else if elapsed > maxLatency {
		elapsed = maxLatency
	}
	if err := w.mu.current.RecordValue(elapsed.Nanoseconds()); err != nil {
		panic(fmt.Sprintf(`%s: recording value: %s`, w.name, err))
	}
}

// Registry groups the histograms of all workers by name.
type Registry struct {
	maxLatency time.Duration
	mu         struct {
		sync.Mutex
		registered map[string][]*NamedHistogram
	}
}

// NewRegistry returns a registry whose histograms track latencies up to
// maxLatency.
func NewRegistry(maxLatency time.Duration) *Registry {
	r := &Registry{maxLatency: maxLatency}
	r.mu.registered = make(map[string][]*NamedHistogram)
	return r
}

func (r *Registry) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency.Nanoseconds(), r.maxLatency.Nanoseconds(), sigFigs)
}

// Get registers and returns a new histogram under name. Every worker is
// expected to get its own.
func (r *Registry) Get(name string) *NamedHistogram {
	h := &NamedHistogram{name: name}
	h.mu.current = r.newHistogram()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.registered[name] = append(r.mu.registered[name], h)
	return h
}

// Summary describes the merged histograms of one name.
type Summary struct {
	Name  string
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Summaries merges the histograms of every name and returns their
// summaries sorted by name.
func (r *Registry) Summaries() []Summary {
	r.mu.Lock()
	names := make([]string, 0, len(r.mu.registered))
	for name := range r.mu.registered {
		names = append(names, name)
	}
	registered := make(map[string][]*NamedHistogram, len(names))
	for name, hists := range r.mu.registered {
		registered[name] = append([]*NamedHistogram(nil), hists...)
	}
	r.mu.Unlock()

	sort.Strings(names)
	res := make([]Summary, 0, len(names))
	for _, name := range names {
		merged := r.newHistogram()
		for _, h := range registered[name] {
			h.mu.Lock()
			merged.Merge(h.mu.current)
			h.mu.Unlock()
		}
		res = append(res, Summary{
			Name:  name,
			Count: merged.TotalCount(),
			Mean:  time.Duration(merged.Mean()),
			P50:   time.Duration(merged.ValueAtQuantile(50)),
			P95:   time.Duration(merged.ValueAtQuantile(95)),
			P99:   time.Duration(merged.ValueAtQuantile(99)),
			Max:   time.Duration(merged.Max()),
		})
	}
	return res
}
