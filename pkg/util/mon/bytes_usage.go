// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package mon implements hierarchical byte accounting.
//
// A BytesMonitor tracks the bytes used by the accounts opened against it
// and by its children. A child obtains the bytes it needs from its parent in
// exact amounts, so that at every level used <= limit holds and the bytes
// used by a monitor include everything reserved by its children. A monitor
// keeps at least its minimum reservation until it is stopped.
//
// Monitors are safe for concurrent use. Accounts are not: an account is
// owned by a single goroutine.
package mon

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/spilljoin/pkg/util/humanizeutil"
	"github.com/cockroachdb/spilljoin/pkg/util/log"
)

// ErrBudgetExceeded marks the errors returned when a reservation would
// exceed the limit of a monitor or of one of its ancestors.
var ErrBudgetExceeded = errors.New("memory budget exceeded")

// BytesMonitor defines an object that can track and limit memory usage by
// other objects.
type BytesMonitor struct {
	name       redact.SafeString
	parent     *BytesMonitor
	limit      int64
	minReserve int64

	mu struct {
		sync.Mutex
		// used is the number of bytes in use by the accounts of this
		// monitor plus the bytes reserved by its children.
		used int64
		// reserved is the number of bytes obtained from the parent. It is
		// always at least max(used, minReserve) for a non-root monitor.
		reserved int64
		// maxUsed is the high water mark of used.
		maxUsed     int64
		numChildren int
		stopped     bool
	}
}

// NewMonitor creates a root monitor. A limit of 0 means unlimited.
func NewMonitor(name redact.SafeString, limit int64) *BytesMonitor {
	return &BytesMonitor{name: name, limit: limit}
}

// NewChild creates a monitor whose bytes are reserved from m. minReserve
// bytes are reserved up front and kept until the child is stopped. limit
// bounds the child's own usage; 0 means the child is bounded only by its
// ancestors.
func (m *BytesMonitor) NewChild(
	ctx context.Context, name redact.SafeString, minReserve, limit int64,
) (*BytesMonitor, error) {
	if minReserve < 0 || limit < 0 || (limit > 0 && minReserve > limit) {
		return nil, errors.AssertionFailedf(
			"%s: invalid child monitor bounds min=%d limit=%d", name, minReserve, limit)
	}
	child := &BytesMonitor{name: name, parent: m, limit: limit, minReserve: minReserve}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mu.stopped {
		return nil, errors.AssertionFailedf("%s: creating child %s of a stopped monitor", m.name, name)
	}
	if minReserve > 0 {
		if err := m.reserveLocked(ctx, minReserve); err != nil {
			return nil, errors.Wrapf(err, "%s: reserving %s for %s",
				m.name, humanizeutil.IBytes(minReserve), name)
		}
	}
	child.mu.reserved = minReserve
	m.mu.numChildren++
	return child, nil
}

// Name returns the name of the monitor.
func (m *BytesMonitor) Name() string {
	return string(m.name)
}

// Limit returns the limit of the monitor, 0 if it is unbounded.
func (m *BytesMonitor) Limit() int64 {
	return m.limit
}

// Used returns the number of bytes currently in use by the monitor, its
// accounts and its children.
func (m *BytesMonitor) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.used
}

// Reserved returns the number of bytes the monitor holds from its parent.
func (m *BytesMonitor) Reserved() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.reserved
}

// MaximumBytes returns the maximum number of bytes that were in use at the
// same time since the monitor was created.
func (m *BytesMonitor) MaximumBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.maxUsed
}

// reserveBytes accounts n more bytes as used by m, obtaining them from the
// ancestors as needed. On failure the accounting is unchanged.
func (m *BytesMonitor) reserveBytes(ctx context.Context, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveLocked(ctx, n)
}

// reserveLocked requires m.mu to be held. It acquires the locks of the
// ancestors, always in child to parent order.
func (m *BytesMonitor) reserveLocked(ctx context.Context, n int64) error {
	if m.mu.stopped {
		return errors.AssertionFailedf("%s: reservation against a stopped monitor", m.name)
	}
	newUsed := m.mu.used + n
	if m.limit > 0 && newUsed > m.limit {
		return m.budgetExceededError(n)
	}
	if m.parent != nil && newUsed > m.mu.reserved {
		need := newUsed - m.mu.reserved
		if err := m.parent.reserveBytes(ctx, need); err != nil {
			return err
		}
		m.mu.reserved += need
	}
	m.mu.used = newUsed
	if newUsed > m.mu.maxUsed {
		m.mu.maxUsed = newUsed
	}
	return nil
}

// releaseBytes returns n bytes used by m and gives back to the parent
// whatever exceeds max(used, minReserve).
func (m *BytesMonitor) releaseBytes(ctx context.Context, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.mu.used {
		log.Errorf(ctx, "%s: no bytes to release, current %d, releasing %d", m.name, m.mu.used, n)
		n = m.mu.used
	}
	m.mu.used -= n
	if m.parent == nil {
		return
	}
	keep := m.mu.used
	if keep < m.minReserve {
		keep = m.minReserve
	}
	if excess := m.mu.reserved - keep; excess > 0 {
		m.mu.reserved -= excess
		m.parent.releaseBytes(ctx, excess)
	}
}

func (m *BytesMonitor) budgetExceededError(requested int64) error {
	return errors.Mark(
		errors.Newf("%s: memory budget exceeded: %d bytes requested, %d currently allocated, %d bytes in budget",
			m.name, requested, m.mu.used, m.limit),
		ErrBudgetExceeded,
	)
}

// Stop completes a monitoring region. It returns an error, and logs it, if
// the monitor still has bytes in use or open children; this is how leaks of
// accounted memory are detected. Stop is idempotent.
func (m *BytesMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mu.stopped {
		return nil
	}
	var err error
	if m.mu.numChildren > 0 {
		err = errors.AssertionFailedf("%s: stopped with %d open child monitors", m.name, m.mu.numChildren)
	} else if m.mu.used != 0 {
		err = errors.AssertionFailedf("%s: unexpected %d leftover bytes", m.name, m.mu.used)
	}
	if err != nil {
		log.Errorf(ctx, "%v", err)
		return err
	}
	m.mu.stopped = true
	log.VEventf(ctx, 2, "%s, bytes usage max %s", m.name, humanizeutil.IBytes(m.mu.maxUsed))
	if m.parent != nil {
		reserved := m.mu.reserved
		m.mu.reserved = 0
		m.parent.mu.Lock()
		m.parent.mu.numChildren--
		m.parent.mu.Unlock()
		if reserved > 0 {
			m.parent.releaseBytes(ctx, reserved)
		}
	}
	return nil
}
