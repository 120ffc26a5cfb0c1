package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(&buf, "production", "info", "json"), "runner")

	logger.Info().Str("job_id", "abc").Msg("run started")
	logger.Debug().Msg("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["component"] != "runner" || entry["job_id"] != "abc" || entry["level"] != "info" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "production", "info", "console")
	logger.Info().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("message missing from %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		level, env string
		want       zerolog.Level
	}{
		{"", "development", zerolog.DebugLevel},
		{"", "production", zerolog.InfoLevel},
		{"warning", "production", zerolog.WarnLevel},
		{"ERROR", "production", zerolog.ErrorLevel},
		{"bogus", "development", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("parseLevel(%q, %q) = %s, want %s", tc.level, tc.env, got, tc.want)
		}
	}
}
