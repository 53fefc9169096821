/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import "fmt"

// PrefixedLogger prepends a fixed text to every logged message
// and delegates the rest to the wrapped logger.
type PrefixedLogger struct {
	delegate FieldLogger
	prefix   string
}

// NewPrefixedLogger wraps delegate so that all messages start with prefix.
func NewPrefixedLogger(delegate FieldLogger, prefix string) FieldLogger {
	return &PrefixedLogger{delegate: delegate, prefix: prefix}
}

// With returns a logger carrying the additional fields, the prefix is kept.
func (l *PrefixedLogger) With(fs ...Field) FieldLogger {
	return &PrefixedLogger{delegate: l.delegate.With(fs...), prefix: l.prefix}
}

// Debug logs a prefixed message at "debug" level.
func (l *PrefixedLogger) Debug(text string, fs ...Field) {
	l.delegate.Debug(l.prefix+text, fs...)
}

// Info logs a prefixed message at "info" level.
func (l *PrefixedLogger) Info(text string, fs ...Field) {
	l.delegate.Info(l.prefix+text, fs...)
}

// Warn logs a prefixed message at "warn" level.
func (l *PrefixedLogger) Warn(text string, fs ...Field) {
	l.delegate.Warn(l.prefix+text, fs...)
}

// Error logs a prefixed message at "error" level.
func (l *PrefixedLogger) Error(text string, fs ...Field) {
	l.delegate.Error(l.prefix+text, fs...)
}

// Debugf logs a prefixed formatted message at "debug" level.
func (l *PrefixedLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Infof logs a prefixed formatted message at "info" level.
func (l *PrefixedLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warnf logs a prefixed formatted message at "warn" level.
func (l *PrefixedLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a prefixed formatted message at "error" level.
func (l *PrefixedLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// AtLevel calls fn only when the level is enabled, handing it a LogFunc
// that prefixes the message before delegating.
func (l *PrefixedLogger) AtLevel(level Level, fn func(logFunc LogFunc)) {
	l.delegate.AtLevel(level, func(logFunc LogFunc) {
		fn(func(msg string, fs ...Field) {
			logFunc(l.prefix+msg, fs...)
		})
	})
}

// WithLevel returns a logger that additionally filters out messages below the given level.
// The level can only be raised this way, never lowered.
func (l *PrefixedLogger) WithLevel(level Level) FieldLogger {
	return &PrefixedLogger{delegate: l.delegate.WithLevel(level), prefix: l.prefix}
}
