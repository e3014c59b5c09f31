// Package logger implements a small leveled logger with per-facility debug
// gating and optional message handlers, in the style Omesh's ancestor used
// for its diagnostic output.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelFatal
	numLevels
)

// A Handler is called with the level and fully formatted message text,
// trimmed of trailing whitespace.
type Handler func(l Level, msg string)

type Logger struct {
	mut       sync.Mutex
	out       *log.Logger
	handlers  [numLevels][]Handler
	facilities map[string]bool
}

// Default logs to stderr with a time prefix and no facilities enabled for
// debug output.
var Default = New()

func New() *Logger {
	return &Logger{
		out:        log.New(os.Stderr, "", log.Ltime),
		facilities: make(map[string]bool),
	}
}

// Discard returns a Logger that drops everything, used by tests that don't
// want log noise.
func Discard() *Logger {
	return &Logger{
		out:        log.New(io.Discard, "", 0),
		facilities: make(map[string]bool),
	}
}

func (l *Logger) SetFlags(flags int) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.out.SetFlags(flags)
}

// EnableFacility turns on Debugf/Debugln output tagged with the given
// facility name (e.g. "mesh", "transport", "search"). This package does
// not read any environment variable to enable facilities.
func (l *Logger) EnableFacility(name string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.facilities[name] = true
}

func (l *Logger) facilityEnabled(name string) bool {
	l.mut.Lock()
	defer l.mut.Unlock()
	if l.facilities["all"] {
		return true
	}
	return l.facilities[name]
}

func (l *Logger) AddHandler(level Level, h Handler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

func (l *Logger) callHandlers(level Level, s string) {
	for _, h := range l.handlers[level] {
		h(level, strings.TrimSpace(s))
	}
}

// Debugf logs a formatted DEBUG line, unconditionally of facility — callers
// that want facility gating should use DebugFacility instead.
func (l *Logger) Debugf(format string, vals ...interface{}) {
	l.logf("DEBUG", LevelDebug, format, vals...)
}

func (l *Logger) Debugln(vals ...interface{}) {
	l.logln("DEBUG", LevelDebug, vals...)
}

// DebugFacility logs a DEBUG line only if the named facility is enabled.
func (l *Logger) DebugFacility(facility, format string, vals ...interface{}) {
	if !l.facilityEnabled(facility) {
		return
	}
	l.logf("DEBUG", LevelDebug, format, vals...)
}

func (l *Logger) Infof(format string, vals ...interface{}) {
	l.logf("INFO", LevelInfo, format, vals...)
}

func (l *Logger) Infoln(vals ...interface{}) {
	l.logln("INFO", LevelInfo, vals...)
}

func (l *Logger) Warnf(format string, vals ...interface{}) {
	l.logf("WARNING", LevelWarn, format, vals...)
}

func (l *Logger) Warnln(vals ...interface{}) {
	l.logln("WARNING", LevelWarn, vals...)
}

func (l *Logger) Fatalf(format string, vals ...interface{}) {
	l.logf("FATAL", LevelFatal, format, vals...)
	os.Exit(1)
}

func (l *Logger) Fatalln(vals ...interface{}) {
	l.logln("FATAL", LevelFatal, vals...)
	os.Exit(1)
}

func (l *Logger) logf(prefix string, level Level, format string, vals ...interface{}) {
	l.mut.Lock()
	s := fmt.Sprintf(format, vals...)
	l.out.Output(3, prefix+": "+s)
	l.mut.Unlock()
	l.callHandlers(level, s)
}

func (l *Logger) logln(prefix string, level Level, vals ...interface{}) {
	l.mut.Lock()
	s := fmt.Sprintln(vals...)
	l.out.Output(3, prefix+": "+s)
	l.mut.Unlock()
	l.callHandlers(level, s)
}
