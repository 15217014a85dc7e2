// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(prefix string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(prefix)
	l.SetWriter(&buf)
	l.SetLevel(DEBUG)
	l.SetColorize(false)
	return l, &buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newTestLogger("homing")
	logger.Info("axis %s homed", "X")

	output := buf.String()
	for _, want := range []string{"[INFO ]", "homing:", "axis X homed"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.SetLevel(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG and INFO to be filtered, got: %s", buf.String())
	}
	logger.Warn("warn message")
	logger.Error("error message")
	if !strings.Contains(buf.String(), "warn message") || !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected WARN and ERROR to pass, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" error ", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("LogLevel(42).String() = %q, want UNKNOWN", LogLevel(42).String())
	}
}

func TestLoggerJSON(t *testing.T) {
	logger, buf := newTestLogger("motion")
	logger.SetFormat(ParseFormat("json"))

	logger.WithFields(Fields{"axis": "Y", "target": 254}).Info("move started")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v, output: %s", err, buf.String())
	}
	if entry.Level != "INFO" || entry.Logger != "motion" || entry.Message != "move started" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Fields["axis"] != "Y" {
		t.Errorf("fields[axis] = %v, want Y", entry.Fields["axis"])
	}
}

func TestLoggerWithError(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.WithError(errors.New("switch stuck")).WithField("axis", "Z").Error("homing failed")

	output := buf.String()
	if !strings.Contains(output, "error=switch stuck") || !strings.Contains(output, "axis=Z") {
		t.Errorf("expected error and axis fields, got: %s", output)
	}
}

func TestWithPrefixSharesSink(t *testing.T) {
	parent, buf := newTestLogger("parent")
	child := parent.WithPrefix("child")

	parent.SetLevel(ERROR)
	child.Info("filtered")
	if buf.Len() != 0 {
		t.Errorf("child ignored parent level: %s", buf.String())
	}
	child.Error("kept")
	if !strings.Contains(buf.String(), "child: kept") {
		t.Errorf("expected prefix 'child:', got: %s", buf.String())
	}
	if child.Prefix() != "child" {
		t.Errorf("Prefix() = %q, want child", child.Prefix())
	}
}

func TestLoggerCaller(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.SetCaller(true)

	logger.Info("caller test")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info 'logger_test.go:', got: %s", buf.String())
	}

	buf.Reset()
	logger.WithField("k", 1).Warnf("entry %d", 2)
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected entry caller info, got: %s", buf.String())
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("GANTRY_LOG_LEVEL", "error")
	t.Setenv("GANTRY_LOG_FORMAT", "json")
	t.Setenv("NO_COLOR", "1")

	logger, buf := newTestLogger("env")
	ConfigureFromEnv(logger)
	if logger.GetLevel() != ERROR {
		t.Errorf("GetLevel() = %v, want ERROR", logger.GetLevel())
	}
	logger.Error("boom")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got: %s", buf.String())
	}
}
