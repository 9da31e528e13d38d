package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Info().Msg("hidden")
	logger.Warn().Int64("user_id", 7).Msg("shown")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "shown" || entry["level"] != "warn" || entry["user_id"] != float64(7) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel("verbose"); got.String() != "info" {
		t.Fatalf("expected info, got %s", got)
	}
}

func TestParseLevelAliases(t *testing.T) {
	cases := map[string]string{
		"":         "info",
		"DEBUG":    "debug",
		" warning": "warn",
		"trace":    "trace",
		"error":    "error",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
