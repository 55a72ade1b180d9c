package observability

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

var levelHierarchy = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

// StandardLogger is a logger implementation that uses the standard log package
type StandardLogger struct {
	prefix string
	level  LogLevel
	fields map[string]interface{}
	exit   func(int)
}

// NewStandardLogger creates a new StandardLogger with the given prefix
func NewStandardLogger(prefix string) *StandardLogger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		exit:   os.Exit,
	}
}

// WithLevel returns a new logger with the specified log level
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	clone := l.clone()
	clone.level = level
	return clone
}

// Debug logs a debug message
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(LogLevelDebug, msg, fields)
}

// Info logs an info message
func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.log(LogLevelInfo, msg, fields)
}

// Warn logs a warning message
func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(LogLevelWarn, msg, fields)
}

// Error logs an error message
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

// Fatal logs a fatal message and exits
func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.log(LogLevelFatal, msg, fields)
	l.exit(1)
}

// Debugf logs a formatted debug message
func (l *StandardLogger) Debugf(format string, args ...interface{}) {
	if l.levelEnabled(LogLevelDebug) {
		l.log(LogLevelDebug, fmt.Sprintf(format, args...), nil)
	}
}

// Infof logs a formatted info message
func (l *StandardLogger) Infof(format string, args ...interface{}) {
	if l.levelEnabled(LogLevelInfo) {
		l.log(LogLevelInfo, fmt.Sprintf(format, args...), nil)
	}
}

// Warnf logs a formatted warning message
func (l *StandardLogger) Warnf(format string, args ...interface{}) {
	if l.levelEnabled(LogLevelWarn) {
		l.log(LogLevelWarn, fmt.Sprintf(format, args...), nil)
	}
}

// Errorf logs a formatted error message
func (l *StandardLogger) Errorf(format string, args ...interface{}) {
	l.log(LogLevelError, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted fatal message and exits
func (l *StandardLogger) Fatalf(format string, args ...interface{}) {
	l.log(LogLevelFatal, fmt.Sprintf(format, args...), nil)
	l.exit(1)
}

// WithPrefix returns a new logger with the given prefix
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	clone := l.clone()
	clone.prefix = prefix
	return clone
}

// With returns a new logger that attaches fields to every message
func (l *StandardLogger) With(fields map[string]interface{}) Logger {
	clone := l.clone()
	for k, v := range fields {
		clone.fields[k] = v
	}
	return clone
}

func (l *StandardLogger) clone() *StandardLogger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	exit := l.exit
	if exit == nil {
		exit = os.Exit
	}
	return &StandardLogger{prefix: l.prefix, level: l.level, fields: fields, exit: exit}
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	return levelHierarchy[level] >= levelHierarchy[l.level]
}

// formatFields renders fields as sorted key=value pairs
func (l *StandardLogger) formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 && len(l.fields) == 0 {
		return ""
	}

	merged := make(map[string]interface{}, len(fields)+len(l.fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, merged[k])
	}
	return b.String()
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.levelEnabled(level) {
		return
	}

	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	logPrefix := fmt.Sprintf("%s [%s] [%s]", timestamp, level, l.prefix)

	log.Printf("%s %s%s", logPrefix, msg, l.formatFields(fields))
}
