package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"testing"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := obs.Logger()
	obs.SetLogger(log.New(&buf, "", 0))
	t.Cleanup(func() { obs.SetLogger(prev) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{UserID: 42, Role: auth.RoleAdmin})

	if err := LogEvent(ctx, "unit.deleted", map[string]any{"unit_id": 7}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != "unit.deleted" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != float64(42) || entry["role"] != "ADMIN" {
		t.Fatalf("unexpected user: %v %v", entry["user_id"], entry["role"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["unit_id"] != float64(7) {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventWithoutContext(t *testing.T) {
	buf := captureLog(t)

	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
	if err := LogEvent(context.Background(), "login.failed", nil); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if _, ok := entry["user_id"]; ok {
		t.Fatalf("unexpected user id in anonymous entry: %v", entry)
	}
	if fields, ok := entry["fields"].(map[string]any); !ok || len(fields) != 0 {
		t.Fatalf("expected empty fields, got %v", entry["fields"])
	}
}

func TestRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	if RequestID(ctx) != "" {
		t.Fatal("blank request id should not be stored")
	}
}
