// Structured logging for the gantry host
//
// Leveled, prefixed loggers that share one output sink, with structured
// fields, text or JSON rendering and optional caller info.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the string representation of the log level
func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a level name. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// sink holds the output settings shared by a logger and every logger
// derived from it with WithPrefix.
type sink struct {
	mu         sync.Mutex
	writer     io.Writer
	level      LogLevel
	timeFormat string
	colorize   bool
	format     OutputFormat
	caller     bool
}

// Logger writes prefixed log lines to a shared sink.
type Logger struct {
	prefix string
	out    *sink
	fields Fields
}

// Entry is a pending log line carrying structured fields.
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger

	ansiColors = map[LogLevel]string{
		DEBUG: "\x1b[36m",
		INFO:  "\x1b[32m",
		WARN:  "\x1b[33m",
		ERROR: "\x1b[31m",
	}
)

const ansiReset = "\x1b[0m"

// New creates a logger with its own sink writing to stderr.
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		out: &sink{
			writer:     os.Stderr,
			level:      INFO,
			timeFormat: "2006-01-02 15:04:05.000",
			colorize:   os.Getenv("NO_COLOR") == "",
			format:     FormatText,
		},
	}
}

// SetLevel sets the minimum log level of the shared sink.
func (l *Logger) SetLevel(level LogLevel) {
	l.out.mu.Lock()
	l.out.level = level
	l.out.mu.Unlock()
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level
}

// SetWriter sets the output writer.
func (l *Logger) SetWriter(w io.Writer) {
	l.out.mu.Lock()
	l.out.writer = w
	l.out.mu.Unlock()
}

// SetTimeFormat sets the time layout used by text output.
func (l *Logger) SetTimeFormat(format string) {
	l.out.mu.Lock()
	l.out.timeFormat = format
	l.out.mu.Unlock()
}

// SetColorize enables or disables ANSI colors.
func (l *Logger) SetColorize(enable bool) {
	l.out.mu.Lock()
	l.out.colorize = enable
	l.out.mu.Unlock()
}

// SetFormat sets the output format.
func (l *Logger) SetFormat(format OutputFormat) {
	l.out.mu.Lock()
	l.out.format = format
	l.out.mu.Unlock()
}

// SetCaller enables or disables file:line in the output.
func (l *Logger) SetCaller(enable bool) {
	l.out.mu.Lock()
	l.out.caller = enable
	l.out.mu.Unlock()
}

// Prefix returns the logger's component name.
func (l *Logger) Prefix() string {
	return l.prefix
}

// WithPrefix returns a logger for another component sharing this sink.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix, out: l.out, fields: l.fields}
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", errString(err))
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.emit(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...interface{})  { l.emit(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.emit(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...interface{}) { l.emit(ERROR, msg, args, nil) }

// Errorf is an alias of Error kept for call sites that read better with it.
func (l *Logger) Errorf(msg string, args ...interface{}) { l.emit(ERROR, msg, args, nil) }

// callerDepth skips callerOf, emit and the public logging method.
const callerDepth = 3

func (l *Logger) emit(level LogLevel, msg string, args []interface{}, fields Fields) {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	merged := fields
	if len(l.fields) > 0 {
		merged = make(Fields, len(l.fields)+len(fields))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}
	var caller string
	if s.caller {
		caller = callerOf(callerDepth)
	}
	if s.format == FormatJSON {
		fmt.Fprint(s.writer, renderJSON(level, l.prefix, msg, caller, merged))
		return
	}
	fmt.Fprint(s.writer, renderText(s, level, l.prefix, msg, caller, merged))
}

func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func renderText(s *sink, level LogLevel, prefix, msg, caller string, fields Fields) string {
	var sb strings.Builder
	sb.WriteString(time.Now().Format(s.timeFormat))
	fmt.Fprintf(&sb, " [%-5s] ", level.String())
	if s.colorize {
		sb.WriteString(ansiColors[level])
		sb.WriteString(prefix)
		sb.WriteString(ansiReset)
	} else {
		sb.WriteString(prefix)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)
	if caller != "" {
		sb.WriteString(" (" + caller + ")")
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, fields[k])
		}
		sb.WriteString("}")
	}
	sb.WriteByte('\n')
	return sb.String()
}

// JSONLogEntry is one line of JSON output.
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func renderJSON(level LogLevel, prefix, msg, caller string, fields Fields) string {
	entry := JSONLogEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    prefix,
		Message:   msg,
		Caller:    caller,
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal log entry: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(Fields{key: value})
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", errString(err))
}

func (e *Entry) Debug(msg string) { e.logger.emit(DEBUG, msg, nil, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.emit(INFO, msg, nil, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.emit(WARN, msg, nil, e.fields) }
func (e *Entry) Error(msg string) { e.logger.emit(ERROR, msg, nil, e.fields) }

func (e *Entry) Debugf(format string, args ...interface{}) { e.logger.emit(DEBUG, format, args, e.fields) }
func (e *Entry) Infof(format string, args ...interface{})  { e.logger.emit(INFO, format, args, e.fields) }
func (e *Entry) Warnf(format string, args ...interface{})  { e.logger.emit(WARN, format, args, e.fields) }
func (e *Entry) Errorf(format string, args ...interface{}) { e.logger.emit(ERROR, format, args, e.fields) }

// SetDefaultLogger replaces the root logger used by GetLogger.
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// Default returns the root logger.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New("gantry")
		ConfigureFromEnv(defaultLogger)
	}
	return defaultLogger
}

// GetLogger returns a component logger sharing the root sink.
func GetLogger(prefix string) *Logger {
	return Default().WithPrefix(prefix)
}

func Debug(msg string, args ...interface{}) { Default().emit(DEBUG, msg, args, nil) }
func Info(msg string, args ...interface{})  { Default().emit(INFO, msg, args, nil) }
func Warn(msg string, args ...interface{})  { Default().emit(WARN, msg, args, nil) }
func Error(msg string, args ...interface{}) { Default().emit(ERROR, msg, args, nil) }

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - GANTRY_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - GANTRY_LOG_FORMAT: text, json
//   - GANTRY_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("GANTRY_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	if v := os.Getenv("GANTRY_LOG_FORMAT"); v != "" {
		l.SetFormat(ParseFormat(v))
	}
	if os.Getenv("GANTRY_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
