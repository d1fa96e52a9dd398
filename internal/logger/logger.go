package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Log levels
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[int]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var minLevel atomic.Int32

func init() {
	minLevel.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
	log.SetFlags(log.Ldate | log.Ltime)
}

// ParseLevel maps a level name to its numeric value. Unknown or empty
// names default to INFO.
func ParseLevel(name string) int {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetMinLevel changes the minimum log level at runtime.
func SetMinLevel(level int) {
	minLevel.Store(int32(level))
}

// SetOutput redirects all loggers to w. Tests use this to capture output.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Logger wraps the standard logger with levels and a component tag.
type Logger struct {
	component string
}

// New creates a logger for a specific component.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) logf(level int, format string, args ...interface{}) {
	if level < int(minLevel.Load()) {
		return
	}
	prefix := fmt.Sprintf("[%s][%s] ", levelNames[level], l.component)
	log.Printf(prefix+format, args...)
}

// Debug logs debug information
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

// Info logs information messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}
