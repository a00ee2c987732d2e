// Package obslog provides the injectable structured logger shared by the
// discovery selector and every provider. Libraries should never log to
// stdout/stderr unless asked to, so a nil *Logger, or one built by New from a
// nil base, is a no-op logger; callers opt in with gcpauth.WithLogger.
package obslog

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger wraps a *zap.SugaredLogger tagged with a per-instance correlation
// id, so log lines from concurrent providers/caches can be told apart.
type Logger struct {
	sugar     *zap.SugaredLogger
	sugarBase *zap.Logger
	id        string
}

// New wraps base (nil means no-op) and stamps it with a fresh correlation id
// plus the given component name.
func New(base *zap.Logger, component string) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	id := uuid.NewString()
	return &Logger{
		sugar:     base.Sugar().With("component", component, "instance_id", id),
		sugarBase: base,
		id:        id,
	}
}

// InstanceID returns the correlation id stamped onto every log line this
// Logger emits.
func (l *Logger) InstanceID() string { return l.id }

// Base returns the *zap.Logger this Logger was built from (nil-safe, yields
// nil), so callers that need to derive a sibling Logger tagged with a
// different component name don't have to thread the original base logger
// through separately.
func (l *Logger) Base() *zap.Logger {
	if l == nil {
		return nil
	}
	return l.sugarBase
}

func (l *Logger) Debugw(msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Debugw(msg, kv...)
}

func (l *Logger) Warnw(msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Warnw(msg, kv...)
}

func (l *Logger) Errorw(msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Errorw(msg, kv...)
}
