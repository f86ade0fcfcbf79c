package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "sahl-api")

	logger.Debug("scrape", "identity", "u1", "password", "p1", "code", "123456")

	if strings.Contains(buf.String(), "p1\"") || strings.Contains(buf.String(), "123456") {
		t.Fatalf("secret leaked: %s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["service"] != "sahl-api" || entry["identity"] != "u1" || entry["password"] != "[redacted]" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "verbose", "")

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug emitted at default level: %s", buf.String())
	}
	logger.Info("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected info line")
	}
}
