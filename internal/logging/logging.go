// Package logging builds the component loggers used by the binaries.
//
// Every component logs through a standard *log.Logger with a bracketed
// prefix ("[sync] ", "[daemon] ", "[server] "). When a log file is
// configured, output is rotated by lumberjack.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for log files.
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 28
)

// Output is the shared destination for component loggers.
type Output struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open returns an Output writing to file (rotated) and, when stderr is
// true or file is empty, to stderr.
func Open(file string, stderr bool) *Output {
	if file == "" {
		return &Output{w: os.Stderr}
	}

	lj := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
		Compress:   true,
	}
	o := &Output{w: lj, file: lj}
	if stderr {
		o.w = io.MultiWriter(os.Stderr, lj)
	}
	return o
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Logger returns a logger for component, e.g. "sync".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
