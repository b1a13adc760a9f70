package obs

import (
	"encoding/json"
	"testing"
)

func TestEncodeLine(t *testing.T) {
	data, err := encodeLine("http", map[string]any{"method": "GET", "status": 200})
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry["type"] != "http" || entry["method"] != "GET" {
		t.Fatalf("entry: %v", entry)
	}
	if ts, ok := entry["ts"].(string); !ok || ts == "" {
		t.Fatalf("missing timestamp: %v", entry["ts"])
	}
}

func TestEncodeLineKeepsCallerTimestamp(t *testing.T) {
	data, err := encodeLine("audit", map[string]any{"ts": "2026-09-01T12:00:00Z", "action": "claim"})
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry["ts"] != "2026-09-01T12:00:00Z" {
		t.Fatalf("timestamp overwritten: %v", entry["ts"])
	}
	if entry["type"] != "audit" {
		t.Fatalf("type: %v", entry["type"])
	}
}
