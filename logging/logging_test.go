package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupJSONRedactsSecrets(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger, err := Setup("debug", "json", &buf)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.With("key_passphrase", "hunter2").Info("wallet unlocked",
		"account", "0xabc",
		slog.Group("env", slog.String("CHAINCHAT_PRIVATE_KEY", "deadbeef"), slog.Int("chain_id", 10143)),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["key_passphrase"] != redactedValue {
		t.Fatalf("passphrase not redacted: %v", entry["key_passphrase"])
	}
	if entry["account"] != "0xabc" {
		t.Fatalf("plain attribute changed: %v", entry["account"])
	}
	env, ok := entry["env"].(map[string]any)
	if !ok {
		t.Fatalf("expected env group, got %T", entry["env"])
	}
	if env["CHAINCHAT_PRIVATE_KEY"] != redactedValue {
		t.Fatalf("grouped private key not redacted: %v", env["CHAINCHAT_PRIVATE_KEY"])
	}
	if strings.Contains(buf.String(), "hunter2") || strings.Contains(buf.String(), "deadbeef") {
		t.Fatalf("secret leaked into log output: %s", buf.String())
	}
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	if _, err := Setup("verbose", "text", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected unknown level error")
	}
	if _, err := Setup("info", "xml", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestLevelFiltering(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger, err := Setup("warn", "text", &buf)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
