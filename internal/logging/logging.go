// Package logging wraps logrus with the contextual fields the rest of the
// pipeline attaches consistently: run id, phase, service name, job id.
// Every service constructor receives a *Logger explicitly — there is no
// package-level logger read by business logic, only the shared sink
// underneath it, mirroring the teacher's AppLogger plumbing but built on
// a real structured-logging library instead of a hand-rolled wrapper.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config controls the root logger's level, format, and output stream.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	JSON   bool
	Output io.Writer
}

// Logger carries a logrus entry plus whatever fields have been bound via
// With, so call sites don't have to repeat job_id/service on every line.
type Logger struct {
	entry *logrus.Entry
}

// New constructs the root Logger for a benchmark run.
func New(cfg Config) *Logger {
	base := logrus.New()
	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stderr)
	}
	if cfg.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a derived Logger carrying the given fields in addition to
// any already bound.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Service returns a derived Logger tagged with a component name, the way
// every service (scheduler, worker pool, aggregator, ...) identifies its
// own log lines.
func (l *Logger) Service(name string) *Logger {
	return l.With(map[string]any{"service": name})
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.entry.Fatalf(format, args...) }
