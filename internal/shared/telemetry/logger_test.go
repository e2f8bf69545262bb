package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriteEmitsJSONLineWithReservedKeysLast(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Warn("classifier.degraded", map[string]any{
		"msg":   "overridden",
		"error": errors.New("timeout"),
	})

	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if payload["msg"] != "classifier.degraded" {
		t.Fatalf("expected msg to win over fields, got %v", payload["msg"])
	}
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level %v", payload["level"])
	}
	if payload["error"] != "timeout" {
		t.Fatalf("expected error string, got %v", payload["error"])
	}
}
