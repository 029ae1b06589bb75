package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestBuild_Level(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "warn")

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}

	log.Warn().Str("doctor_id", "d1").Msg("shown")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["doctor_id"] != "d1" || entry["message"] != "shown" {
		t.Errorf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestBuild_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "loud")

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) || bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Errorf("unexpected output %q", buf.String())
	}
}
