// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log implements context-aware leveled logging on top of a zap
// logger. Every message is prefixed with the logtags found in its context.
package log

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity is the severity of a log entry.
type Severity int32

const (
	// SeverityInfo is used for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is used for unexpected but handled situations.
	SeverityWarning
	// SeverityError is used for errors that are reported to the caller.
	SeverityError
	// SeverityFatal messages terminate the process.
	SeverityFatal
)

var severityNames = [...]string{"INFO", "WARNING", "ERROR", "FATAL"}

// String implements fmt.Stringer.
func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "UNKNOWN"
	}
	return severityNames[s]
}

var logging struct {
	verbosity atomic.Int32
	// redactable, when set, keeps redaction markers around unsafe values.
	redactable atomic.Bool
	mu         struct {
		sync.Mutex
		logger *zap.Logger
		exitFn func(int)
	}
}

func init() {
	logging.mu.logger = newDefaultLogger()
}

// newDefaultLogger writes warnings and errors to stderr.
func newDefaultLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLogger replaces the sink of the package and returns a function that
// restores the previous one.
func SetLogger(l *zap.Logger) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.logger
	logging.mu.logger = l
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.logger = prev
	}
}

func currentLogger() *zap.Logger {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	return logging.mu.logger
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = currentLogger().Sync()
}

// SetVerbosity sets the level up to which V returns true and returns a
// function that restores the previous level.
func SetVerbosity(level int32) (restore func()) {
	prev := logging.verbosity.Swap(level)
	return func() { logging.verbosity.Store(prev) }
}

// SetRedactable configures whether messages keep the redaction markers
// around values that are not known to be safe.
func SetRedactable(redactable bool) {
	logging.redactable.Store(redactable)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return VDepth(level, 1)
}

// VDepth is like V but takes the caller depth into account.
func VDepth(level int32, depth int) bool {
	return logging.verbosity.Load() >= level
}

// Infof logs to the INFO log. It extracts log tags from the context and
// logs them along with the given message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityInfo, format, args)
}

// Info logs to the INFO log.
func Info(ctx context.Context, msg string) {
	logDepth(ctx, 1, SeverityInfo, "%s", []interface{}{msg})
}

// Warningf logs to the WARNING and INFO logs.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityWarning, format, args)
}

// Warning logs to the WARNING and INFO logs.
func Warning(ctx context.Context, msg string) {
	logDepth(ctx, 1, SeverityWarning, "%s", []interface{}{msg})
}

// Errorf logs to the ERROR, WARNING, and INFO logs.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityError, format, args)
}

// Fatalf logs to the ERROR log and then exits the process, or calls the
// function installed with SetExitFunc.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, SeverityFatal, format, args)
}

// VEventf logs the message at INFO if the verbosity is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if VDepth(level, 1) {
		logDepth(ctx, 1, SeverityInfo, format, args)
	}
}

// InfofDepth logs to the INFO log, offsetting the caller's stack frame by
// 'depth'.
func InfofDepth(ctx context.Context, depth int, format string, args ...interface{}) {
	logDepth(ctx, depth+1, SeverityInfo, format, args)
}

func logDepth(
	ctx context.Context, depth int, sev Severity, format string, args []interface{},
) {
	msg := makeMessage(ctx, format, args)
	l := currentLogger().WithOptions(zap.AddCallerSkip(depth + 1))
	switch sev {
	case SeverityInfo:
		l.Info(msg)
	case SeverityWarning:
		l.Warn(msg)
	case SeverityError:
		l.Error(msg)
	case SeverityFatal:
		l.Error(msg, zap.Stringer("severity", sev))
		_ = l.Sync()
		exit(1)
	}
}
