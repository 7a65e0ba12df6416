// Package logx provides the narrow structured-logging interface used
// throughout the modem driver, along with a no-op default and a
// zap-backed adapter.
package logx

import "go.uber.org/zap"

// Logger is a five-level structured logger. Each method takes a message
// and an even number of key/value fields, in the style of zap's
// SugaredLogger.
type Logger interface {
	Error(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Verbose(msg string, kv ...interface{})
	Debug(msg string, kv ...interface{})
}

// Nop returns a Logger whose methods discard everything. It is the
// default logger for every component that accepts one.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{})   {}
func (nopLogger) Warn(string, ...interface{})    {}
func (nopLogger) Info(string, ...interface{})    {}
func (nopLogger) Verbose(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{})   {}

// NewZap adapts a *zap.Logger to the Logger interface. Verbose is
// logged at zap's debug level with a "verbose" field set, so it remains
// distinguishable from Debug in structured output.
func NewZap(l *zap.Logger) Logger {
	return zapLogger{s: l.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z zapLogger) Error(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }
func (z zapLogger) Warn(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z zapLogger) Info(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z zapLogger) Debug(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }

func (z zapLogger) Verbose(msg string, kv ...interface{}) {
	z.s.Debugw(msg, append(append([]interface{}{}, kv...), "verbose", true)...)
}
