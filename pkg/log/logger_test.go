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

func TestLoggerText(t *testing.T) {
	l, buf := newTestLogger("trigger")
	l.Info("compiled %d stages", 3)

	out := buf.String()
	if !strings.Contains(out, "[INFO ] trigger: compiled 3 stages") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected trailing newline, got %q", out)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	l, buf := newTestLogger("device")
	l.SetLevel(WARN)

	l.Debug("dropped")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected filtered output, got %q", buf.String())
	}
	l.Warn("kept")
	l.Error("kept too")
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d: %q", got, buf.String())
	}
	if l.Enabled(INFO) || !l.Enabled(ERROR) {
		t.Errorf("Enabled disagrees with level WARN")
	}
}

func TestLoggerJSON(t *testing.T) {
	l, buf := newTestLogger("capture")
	l.SetFormat(FormatJSON)
	l.WithFields(Fields{"bytes": 24576, "groups": 1}).Info("read complete")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("bad JSON %q: %v", buf.String(), err)
	}
	if entry.Level != "INFO" || entry.Logger != "capture" || entry.Message != "read complete" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Fields["bytes"] != float64(24576) {
		t.Errorf("expected bytes field, got %v", entry.Fields)
	}
}

func TestLoggerFieldsSorted(t *testing.T) {
	l, buf := newTestLogger("test")
	l.WithField("b", 2).WithField("a", 1).Info("msg")
	if !strings.Contains(buf.String(), "{a=1, b=2}") {
		t.Errorf("expected sorted fields, got %q", buf.String())
	}
}

func TestLoggerWithError(t *testing.T) {
	l, buf := newTestLogger("test")
	l.SetFormat(FormatJSON)
	l.WithError(errors.New("port closed")).Error("write failed")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if entry.Fields["error"] != "port closed" {
		t.Errorf("expected error field, got %v", entry.Fields)
	}
}

func TestWithPrefixSharesSink(t *testing.T) {
	parent, buf := newTestLogger("sniffer")
	child := parent.WithPrefix("serial")

	parent.SetLevel(ERROR)
	child.Info("filtered by parent level")
	if buf.Len() != 0 {
		t.Fatalf("child ignored parent level: %q", buf.String())
	}

	parent.SetLevel(DEBUG)
	child.Debug("visible")
	if !strings.Contains(buf.String(), "serial: visible") {
		t.Errorf("expected child output, got %q", buf.String())
	}
	if child.Prefix() != "serial" {
		t.Errorf("Prefix() = %q", child.Prefix())
	}
}

func TestLoggerCaller(t *testing.T) {
	l, buf := newTestLogger("test")
	l.SetCaller(true)
	l.Info("where")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info, got %q", buf.String())
	}

	buf.Reset()
	l.WithField("k", "v").Warnf("entry %s", "where")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info for entry, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DEBUG},
		{"TRACE", DEBUG},
		{"info", INFO},
		{"Warning", WARN},
		{"ERROR", ERROR},
		{" warn ", WARN},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
	if LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("out of range level should be UNKNOWN")
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("SNIFFER_LOG_LEVEL", "error")
	t.Setenv("SNIFFER_LOG_FORMAT", "json")
	t.Setenv("NO_COLOR", "1")

	l, buf := newTestLogger("env")
	l.SetColorize(true)
	ConfigureFromEnv(l)

	if l.GetLevel() != ERROR {
		t.Errorf("level = %v, want ERROR", l.GetLevel())
	}
	l.Error("boom")
	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}

func TestGetLogger(t *testing.T) {
	l := GetLogger("monitor")
	if l.Prefix() != "monitor" {
		t.Errorf("expected prefix monitor, got %q", l.Prefix())
	}
	if l.out != Default().out {
		t.Errorf("component logger should share the default sink")
	}
}

func BenchmarkLoggerFiltered(b *testing.B) {
	var buf bytes.Buffer
	l := New("bench")
	l.SetWriter(&buf)
	l.SetLevel(ERROR)
	for i := 0; i < b.N; i++ {
		l.Info("filtered %d", i)
	}
}
