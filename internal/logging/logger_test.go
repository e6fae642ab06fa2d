package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestTextLoggerSkipsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, Text, &buf).With(Engine("M3202A_2"))
	l.Info("queue registered", Channel(1), Err(nil), Waveform(3))

	out := buf.String()
	if !strings.Contains(out, "[INFO] queue registered engine=M3202A_2 channel=1 waveform=3") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("hidden")
	l.Debug("hidden")
	l.Error("shown", Err(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("filtered entries leaked: %q", out)
	}
	if !strings.Contains(out, "error=boom") {
		t.Fatalf("missing error field: %q", out)
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	New(Debug, JSON, &buf).Debug("compiled", Engine("M3102A_7"))

	line := buf.String()
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("no JSON payload in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["msg"] != "compiled" || payload["engine"] != "M3102A_7" || payload["level"] != "DEBUG" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", Debug}, {"", Info}, {"WARNING", Warn}, {" error ", Error},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if f, err := ParseFormat("json"); err != nil || f != JSON {
		t.Fatalf("ParseFormat json = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestDefaultIsReplaceable(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(Info, Text, &buf))
	SetDefault(nil)
	Default().Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("default logger not replaced")
	}
}

func TestTextQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	New(Info, Text, &buf).With(Run("r1")).Warn("rejected", Item(2), Err(errors.New("memory full")))

	out := buf.String()
	if !strings.Contains(out, `[WARN] rejected run=r1 item=2 error="memory full"`) {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("want one line, got %q", out)
	}
}

func TestDerivedLoggersShareSink(t *testing.T) {
	var buf bytes.Buffer
	root := New(Info, JSON, &buf)
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func(l Logger) {
			for j := 0; j < 50; j++ {
				l.Info("tick")
			}
			done <- struct{}{}
		}(root.With(Channel(i + 1)))
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 200 {
		t.Fatalf("got %d lines", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("interleaved line %q", line)
		}
	}
}
