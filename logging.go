package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

var levelNames = [...]string{"ERROR", "WARNING", "INFO", "DEBUG", "TRACE"}

func (l LogLevel) String() string {
	if l < LogLevelError || l > LogLevelTrace {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLogLevel accepts the level names case-insensitively
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError, nil
	case "warning", "warn":
		return LogLevelWarning, nil
	case "info", "":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	case "trace":
		return LogLevelTrace, nil
	}
	return LogLevelInfo, fmt.Errorf("invalid log level: %s", s)
}

type Logger struct {
	out  io.Writer
	lock sync.Mutex

	consoleLevel  LogLevel
	showTimestamp bool
}

func NewLogger(consoleLevel LogLevel, showTimestamp bool) *Logger {
	return &Logger{
		out:           os.Stdout,
		consoleLevel:  consoleLevel,
		showTimestamp: showTimestamp,
	}
}

// SetOutput redirects console output
func (l *Logger) SetOutput(w io.Writer) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.out = w
}

func (l *Logger) Enabled(level LogLevel) bool {
	return level <= l.consoleLevel
}

func (l *Logger) Error(component string, format string, args ...interface{}) {
	l.log(LogLevelError, component, format, args...)
}

func (l *Logger) Warning(component string, format string, args ...interface{}) {
	l.log(LogLevelWarning, component, format, args...)
}

func (l *Logger) Info(component string, format string, args ...interface{}) {
	l.log(LogLevelInfo, component, format, args...)
}

func (l *Logger) Debug(component string, format string, args ...interface{}) {
	l.log(LogLevelDebug, component, format, args...)
}

func (l *Logger) Trace(component string, format string, args ...interface{}) {
	l.log(LogLevelTrace, component, format, args...)
}

func (l *Logger) log(level LogLevel, component string, format string, args ...interface{}) {
	if level > l.consoleLevel {
		return
	}
	message := fmt.Sprintf(format, args...)

	l.lock.Lock()
	defer l.lock.Unlock()

	prefix := ""
	if l.showTimestamp {
		prefix = time.Now().Format("2006-01-02 15:04:05.000") + " "
	}

	fmt.Fprintf(l.out, "%s[%s][%s] %s\n", prefix, level, component, message)
}
