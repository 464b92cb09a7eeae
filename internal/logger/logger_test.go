package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONIncludesService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "json").With().Str("component", "deadline_scheduler").Logger()
	log.Info().Str("attempt_id", "a-1").Msg("fired")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["service"] != ServiceName {
		t.Errorf("service = %v, want %s", line["service"], ServiceName)
	}
	if line["component"] != "deadline_scheduler" {
		t.Errorf("component = %v", line["component"])
	}
	if line["attempt_id"] != "a-1" {
		t.Errorf("attempt_id = %v", line["attempt_id"])
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "loud", "json")
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written at fallback info level: %q", buf.String())
	}
	log.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Error("info line missing")
	}
}
