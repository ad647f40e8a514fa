// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fleetlog provides a simple way of logging with different levels.
// Every line carries the standard date and time (log.LstdFlags).
package fleetlog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logLevel string

var (
	DebugWriter io.Writer = os.Stdout
	InfoWriter  io.Writer = os.Stdout
	WarnWriter  io.Writer = os.Stdout
	ErrWriter   io.Writer = os.Stderr
)

var (
	DebugPrefix string = "<7>[DEBUG]   "
	InfoPrefix  string = "<6>[INFO]    "
	WarnPrefix  string = "<4>[WARNING] "
	ErrPrefix   string = "<3>[ERROR]   "
)

var (
	debugLog = log.New(DebugWriter, DebugPrefix, log.LstdFlags)
	infoLog  = log.New(InfoWriter, InfoPrefix, log.LstdFlags)
	warnLog  = log.New(WarnWriter, WarnPrefix, log.LstdFlags)
	errLog   = log.New(ErrWriter, ErrPrefix, log.LstdFlags|log.Lshortfile)
)

// SetLevel gates the writers below the given level to io.Discard.
// Valid levels, from quietest to loudest: "err", "warn", "info", "debug".
func SetLevel(lvl string) {
	logLevel = lvl
	switch lvl {
	case "err":
		warnLog.SetOutput(io.Discard)
		fallthrough
	case "warn":
		infoLog.SetOutput(io.Discard)
		fallthrough
	case "info":
		debugLog.SetOutput(io.Discard)
	case "debug":
		// nothing discarded
	default:
		infoLog.SetOutput(io.Discard)
		debugLog.SetOutput(io.Discard)
	}
}

func Level() string { return logLevel }

func Debug(v ...interface{}) { debugLog.Output(2, fmt.Sprintln(v...)) }
func Info(v ...interface{})  { infoLog.Output(2, fmt.Sprintln(v...)) }
func Warn(v ...interface{})  { warnLog.Output(2, fmt.Sprintln(v...)) }
func Error(v ...interface{}) { errLog.Output(2, fmt.Sprintln(v...)) }

func Debugf(format string, v ...interface{}) { debugLog.Output(2, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { infoLog.Output(2, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { warnLog.Output(2, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { errLog.Output(2, fmt.Sprintf(format, v...)) }

func Fatal(v ...interface{}) {
	errLog.Output(2, fmt.Sprintln(v...))
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	errLog.Output(2, fmt.Sprintf(format, v...))
	os.Exit(1)
}
