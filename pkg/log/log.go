// Package log provides the leveled diagnostic logging used across the
// scheduler and mutex packages.
package log

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Level selects which diagnostic calls are emitted.
type Level int32

const (
	// Warning is always emitted.
	Warning Level = iota
	// Info covers informational messages above per-operation tracing.
	Info
	// Debug covers per-operation tracing, such as the mutex's acquire,
	// relock, block, unlock and reset lines.
	Debug
)

// Logger is the interface the rest of the module logs through.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warningf(format string, v ...any)
	IsLogging(level Level) bool
}

type stdLogger struct {
	level atomic.Int32
	out   *log.Logger
}

// New returns a Logger that writes to os.Stderr, emitting everything at or
// below level.
func New(level Level) Logger {
	l := &stdLogger{out: log.New(os.Stderr, "", log.Lmicroseconds)}
	l.level.Store(int32(level))
	return l
}

func (l *stdLogger) IsLogging(level Level) bool { return Level(l.level.Load()) >= level }

func (l *stdLogger) Debugf(format string, v ...any) { l.emit(Debug, "D", format, v...) }
func (l *stdLogger) Infof(format string, v ...any)  { l.emit(Info, "I", format, v...) }
func (l *stdLogger) Warningf(format string, v ...any) {
	l.emit(Warning, "W", format, v...)
}

func (l *stdLogger) emit(level Level, tag, format string, v ...any) {
	if !l.IsLogging(level) {
		return
	}
	l.out.Output(3, tag+" "+fmt.Sprintf(format, v...))
}

var defaultLogger Logger = New(Info)

// Log returns the process-global default Logger.
func Log() Logger { return defaultLogger }

// SetTarget replaces the process-global default Logger.
func SetTarget(l Logger) { defaultLogger = l }

// rateLimited wraps a Logger so it cannot flood the output.
type rateLimited struct {
	logger Logger
	limit  *rate.Limiter
}

// RateLimited returns a Logger that forwards to logger at most
// logsPerSecond times per second, dropping the rest. Used to keep a
// spinning retry loop or a repeatedly-reboosted owner from flooding the
// log.
func RateLimited(logger Logger, logsPerSecond float64) Logger {
	return &rateLimited{logger: logger, limit: rate.NewLimiter(rate.Limit(logsPerSecond), 1)}
}

func (r *rateLimited) Debugf(format string, v ...any) {
	if r.limit.Allow() {
		r.logger.Debugf(format, v...)
	}
}

func (r *rateLimited) Infof(format string, v ...any) {
	if r.limit.Allow() {
		r.logger.Infof(format, v...)
	}
}

func (r *rateLimited) Warningf(format string, v ...any) {
	if r.limit.Allow() {
		r.logger.Warningf(format, v...)
	}
}

func (r *rateLimited) IsLogging(level Level) bool { return r.logger.IsLogging(level) }
