package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("test")
	l.SetWriter(&buf)
	l.SetColorize(false)
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN were not filtered: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN/ERROR messages missing: %s", out)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("engine")
	l.SetWriter(&buf)
	l.SetColorize(false)

	l.Info("cycle %d complete", 7)

	out := buf.String()
	if !strings.Contains(out, "[INFO ]") {
		t.Errorf("missing level marker: %s", out)
	}
	if !strings.Contains(out, "engine: cycle 7 complete") {
		t.Errorf("missing prefix/message: %s", out)
	}
}

func TestTextFormatFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("engine")
	l.SetWriter(&buf)
	l.SetColorize(false)

	l.WarnFields("missing replies", Fields{"got": 11, "want": 12})

	out := buf.String()
	if !strings.Contains(out, "{got=11, want=12}") {
		t.Errorf("fields not sorted/formatted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("engine")
	l.SetWriter(&buf)
	l.SetFormat(FormatJSON)

	l.ErrorFields("fault", Fields{"message": "timeout"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, buf.String())
	}
	if entry["level"] != "ERROR" || entry["logger"] != "engine" || entry["message"] != "fault" {
		t.Errorf("unexpected entry: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok || fields["message"] != "timeout" {
		t.Errorf("unexpected fields: %v", entry["fields"])
	}
}

func TestWithPrefixSharesSettings(t *testing.T) {
	var buf bytes.Buffer
	l := New("parent")
	l.SetWriter(&buf)
	l.SetColorize(false)
	l.SetLevel(ERROR)

	child := l.WithPrefix("child")
	child.Warn("should be filtered")
	child.Error("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("child did not inherit level: %s", out)
	}
	if !strings.Contains(out, "child: should appear") {
		t.Errorf("child prefix missing: %s", out)
	}
}
