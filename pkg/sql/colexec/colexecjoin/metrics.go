// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package colexecjoin

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the process-wide counters of the hash joiners. They are
// shared by all joiners created with them and are updated best-effort.
type Metrics struct {
	SpillEvents        prometheus.Counter
	RowsSpilled        *prometheus.CounterVec
	BytesSpilled       prometheus.Counter
	PartitionsRecursed prometheus.Counter
	PeakMemory         prometheus.Gauge

	mu struct {
		sync.Mutex
		peak int64
	}
}

const (
	metricsNamespace = "spilljoin"
	metricsSubsystem = "hash_joiner"
)

// NewMetrics creates unregistered metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SpillEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "spill_events_total",
			Help:      "Number of partitions written to disk.",
		}),
		RowsSpilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "spilled_rows_total",
			Help:      "Number of rows written to spill files.",
		}, []string{"side"}),
		BytesSpilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "spilled_bytes_total",
			Help:      "Number of compressed bytes written to spill files.",
		}),
		PartitionsRecursed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "recursed_partitions_total",
			Help:      "Number of spilled partitions joined by a nested joiner.",
		}),
		PeakMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "peak_memory_bytes",
			Help:      "Largest memory usage of a single hash joiner.",
		}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.SpillEvents, m.RowsSpilled, m.BytesSpilled, m.PartitionsRecursed, m.PeakMemory,
	} {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "registering hash joiner metrics")
		}
	}
	return nil
}

func (m *Metrics) recordSpill(side string, rows, bytes int64) {
	if m == nil {
		return
	}
	m.RowsSpilled.WithLabelValues(side).Add(float64(rows))
	m.BytesSpilled.Add(float64(bytes))
}

func (m *Metrics) recordSpillEvent() {
	if m != nil {
		m.SpillEvents.Inc()
	}
}

func (m *Metrics) recordRecursion() {
	if m != nil {
		m.PartitionsRecursed.Inc()
	}
}

func (m *Metrics) recordPeakMemory(bytes int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if bytes > m.mu.peak {
		m.mu.peak = bytes
		m.PeakMemory.Set(float64(bytes))
	}
}

// Stats are the statistics of one hash joiner, including the joiners that
// recovered its spilled partitions.
type Stats struct {
	// SpillEvents is the number of partitions written to disk.
	SpillEvents int64
	// BuildRowsSpilled and ProbeRowsSpilled count the rows written to spill
	// files.
	BuildRowsSpilled int64
	ProbeRowsSpilled int64
	// BytesSpilled is the number of bytes written to spill files.
	BytesSpilled int64
	// PartitionsRecursed is the number of spilled partitions joined by a
	// nested joiner.
	PartitionsRecursed int64
	// MaxDepth is the deepest recursion level reached.
	MaxDepth int
	// PeakMemoryBytes is the largest memory usage.
	PeakMemoryBytes int64
	// PeakDiskBytes is the largest disk usage of the spill files.
	PeakDiskBytes int64
	// OutputRows is the number of rows produced.
	OutputRows int64
}

// RowsSpilled returns the number of build and probe rows written to disk.
func (s Stats) RowsSpilled() int64 {
	return s.BuildRowsSpilled + s.ProbeRowsSpilled
}

// merge adds the stats of a nested joiner. Output rows are not added since
// the nested joiner's output is counted again by its parent.
func (s *Stats) merge(other Stats) {
	s.SpillEvents += other.SpillEvents
	s.BuildRowsSpilled += other.BuildRowsSpilled
	s.ProbeRowsSpilled += other.ProbeRowsSpilled
	s.BytesSpilled += other.BytesSpilled
	s.PartitionsRecursed += other.PartitionsRecursed
	s.MaxDepth = max(s.MaxDepth, other.MaxDepth)
	s.PeakMemoryBytes = max(s.PeakMemoryBytes, other.PeakMemoryBytes)
	s.PeakDiskBytes = max(s.PeakDiskBytes, other.PeakDiskBytes)
}

// SafeFormat implements redact.SafeFormatter.
func (s Stats) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("output rows: %d, peak memory: %s", s.OutputRows,
		redact.SafeString(humanizeutil.IBytes(s.PeakMemoryBytes)))
	if s.SpillEvents == 0 {
		return
	}
	w.Printf(", spill events: %d, rows spilled: %d (build %d, probe %d), bytes spilled: %s, peak disk: %s",
		s.SpillEvents, s.RowsSpilled(), s.BuildRowsSpilled, s.ProbeRowsSpilled,
		redact.SafeString(humanizeutil.IBytes(s.BytesSpilled)),
		redact.SafeString(humanizeutil.IBytes(s.PeakDiskBytes)))
	w.Printf(", partitions recursed: %d, max depth: %d", s.PartitionsRecursed, s.MaxDepth)
}

func (s Stats) String() string {
	return redact.StringWithoutMarkers(s)
}
