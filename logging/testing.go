package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestAppender returns a core that logs to the underlying `testing.TB` so log lines are
// associated with the test that produced them.
func NewTestAppender(tb testing.TB) zapcore.Core {
	return zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel)).Core()
}

// NewTestLogger returns a new logger that outputs Debug+ logs to the test's log.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in memory observer.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	logger := newImpl("", DEBUG, NewTestAppender(tb), observerCore)
	return logger, observedLogs
}
