// logger.go: console logger for tachysd
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"io"
	"log"
)

// consoleLogger implements tachys.Logger on top of the standard log package.
type consoleLogger struct {
	logger *log.Logger
	debug  bool
}

func newConsoleLogger(w io.Writer, debug bool) *consoleLogger {
	return &consoleLogger{
		logger: log.New(w, "[TACHYS] ", log.LstdFlags|log.Lmicroseconds),
		debug:  debug,
	}
}

func (l *consoleLogger) Debug(msg string, keyvals ...interface{}) {
	if l.debug {
		l.logger.Printf("DEBUG %s %v", msg, keyvals)
	}
}

func (l *consoleLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Printf("INFO %s %v", msg, keyvals)
}

func (l *consoleLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Printf("WARN %s %v", msg, keyvals)
}

func (l *consoleLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Printf("ERROR %s %v", msg, keyvals)
}
