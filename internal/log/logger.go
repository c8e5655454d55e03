// SPDX-License-Identifier: MIT

// Package log is the host's levelled logger. The level is an atomic so
// callers on any goroutine can check it cheaply, but nothing here may be
// called from the audio callback.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the severity of a message.
type Level uint32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// tags are padded to a common width so messages line up.
var tags = [...]string{
	LevelDebug: "[DEBUG]",
	LevelInfo:  "[INFO] ",
	LevelWarn:  "[WARN] ",
	LevelError: "[ERROR]",
	LevelFatal: "[FATAL]",
}

func (l Level) String() string {
	if int(l) < len(tags) {
		return strings.Trim(tags[l], "[] ")
	}
	return "UNKNOWN"
}

// ParseLevel converts a case-insensitive level name. Unknown names give
// LevelInfo and false.
func ParseLevel(name string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO", "":
		return LevelInfo, name != ""
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	}
	return LevelInfo, false
}

var (
	level  atomic.Uint32
	logger = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

	osExit = os.Exit
	exit   = osExit
)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) { level.Store(uint32(l)) }

// GetLevel returns the minimum level that is written.
func GetLevel() Level { return Level(level.Load()) }

// Enabled reports whether messages at l are currently written.
func Enabled(l Level) bool { return l >= GetLevel() }

// SetOutput redirects log output and returns the previous writer. The TUI
// uses it to move logs off the terminal it draws on.
func SetOutput(w io.Writer) io.Writer {
	prev := logger.Writer()
	logger.SetOutput(w)
	return prev
}

// Configure applies the level name from configuration. Debug forces
// LevelDebug. It returns false when the name was not recognized, in which
// case LevelInfo is used.
func Configure(name string, debug bool) bool {
	if debug {
		SetLevel(LevelDebug)
		return true
	}
	l, ok := ParseLevel(name)
	SetLevel(l)
	return ok
}

func output(l Level, format string, v []any) {
	if !Enabled(l) {
		return
	}
	logger.Print(tags[l], " ", fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { output(LevelDebug, format, v) }
func Infof(format string, v ...any)  { output(LevelInfo, format, v) }
func Warnf(format string, v ...any)  { output(LevelWarn, format, v) }
func Errorf(format string, v ...any) { output(LevelError, format, v) }

// Fatalf logs regardless of level and exits with status 1.
func Fatalf(format string, v ...any) {
	logger.Print(tags[LevelFatal], " ", fmt.Sprintf(format, v...))
	exit(1)
}
