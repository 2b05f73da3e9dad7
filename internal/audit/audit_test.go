package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFileLogger(t *testing.T, cfg *Config) (*Logger, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "audit.log")
	cfg.Output = logFile

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	return logger, logFile
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestLogger_Log(t *testing.T) {
	logger, logFile := newFileLogger(t, &Config{
		Enabled: true,
		Level:   "verbose",
		Format:  "json",
	})
	defer logger.Close()

	logger.Log(&Event{
		Type:      EventAssetSelected,
		RequestID: "req-123",
		Group:     "avatars",
		Category:  "cats",
		Token:     "deadbeef",
	})

	content := readLog(t, logFile)

	if !strings.Contains(content, "asset_selected") {
		t.Error("Log should contain 'asset_selected'")
	}
	if !strings.Contains(content, "req-123") {
		t.Error("Log should contain request ID")
	}
	if !strings.Contains(content, `"category":"cats"`) {
		t.Error("Log should contain category")
	}
	if !strings.Contains(content, `"log":"audit"`) {
		t.Error("Log should be tagged as audit")
	}
}

func TestLogger_LogLevel_Minimal(t *testing.T) {
	logger, logFile := newFileLogger(t, &Config{
		Enabled: true,
		Level:   "minimal",
		Format:  "json",
	})
	defer logger.Close()

	// Auth failures are always logged
	logger.LogAuthFailed("req-1", "10.0.0.1")

	// Selections are not logged at minimal level
	logger.LogAssetSelected("req-2", "10.0.0.1", "avatars", "cats", "a.png", "deadbeef")

	content := readLog(t, logFile)

	if !strings.Contains(content, "req-1") {
		t.Error("Should contain auth failure event")
	}
	if strings.Contains(content, "req-2") {
		t.Error("Should NOT contain selection event at minimal level")
	}
}

func TestLogger_LogLevel_Standard(t *testing.T) {
	logger, logFile := newFileLogger(t, &Config{
		Enabled: true,
		Level:   "standard",
		Format:  "json",
	})
	defer logger.Close()

	logger.LogAssetSelected("req-1", "", "avatars", "cats", "a.png", "deadbeef")
	logger.LogTokenRejected("req-2", "", "cafebabe")

	// Successful lookups are verbose-only
	logger.LogTokenResolved("req-3", "", "deadbeef")

	content := readLog(t, logFile)

	if !strings.Contains(content, "req-1") {
		t.Error("Should contain selection event")
	}
	if !strings.Contains(content, "req-2") {
		t.Error("Should contain rejected token event")
	}
	if strings.Contains(content, "req-3") {
		t.Error("Should NOT contain resolved token event at standard level")
	}
}

func TestLogger_Disabled(t *testing.T) {
	logger, logFile := newFileLogger(t, &Config{
		Enabled: false,
		Level:   "verbose",
		Format:  "json",
	})
	defer logger.Close()

	logger.LogAuthFailed("req-1", "")
	logger.LogTokenResolved("req-2", "", "deadbeef")

	content, _ := os.ReadFile(logFile)
	if len(content) > 0 {
		t.Error("Log file should be empty when logging is disabled")
	}
}

func TestLogger_IncludeClientIP(t *testing.T) {
	logger, logFile := newFileLogger(t, &Config{
		Enabled:         true,
		Level:           "verbose",
		Format:          "json",
		IncludeClientIP: false,
	})
	logger.LogAuthFailed("req-1", "203.0.113.9")
	logger.Close()

	if strings.Contains(readLog(t, logFile), "203.0.113.9") {
		t.Error("Client IP should be redacted when IncludeClientIP is false")
	}

	logger2, logFile2 := newFileLogger(t, &Config{
		Enabled:         true,
		Level:           "verbose",
		Format:          "json",
		IncludeClientIP: true,
	})
	logger2.LogAuthFailed("req-2", "203.0.113.9")
	logger2.Close()

	if !strings.Contains(readLog(t, logFile2), "203.0.113.9") {
		t.Error("Client IP should be included when IncludeClientIP is true")
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	logger, logFile := newFileLogger(t, &Config{
		Enabled: true,
		Level:   "verbose",
		Format:  "console",
	})
	logger.LogTokensSwept(7)
	logger.Close()

	content := readLog(t, logFile)
	if !strings.Contains(content, "tokens_swept") || !strings.Contains(content, "count=7") {
		t.Errorf("unexpected console output: %q", content)
	}
}

func TestLogger_StdoutOutput(t *testing.T) {
	logger, err := NewLogger(&Config{
		Enabled: true,
		Level:   "verbose",
		Output:  "stdout",
		Format:  "json",
	})
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	defer logger.Close()

	// Should not panic
	logger.LogAuthFailed("req-1", "")
}

func TestAuditor_Implementations(t *testing.T) {
	var _ Auditor = (*Logger)(nil)
	var _ Auditor = (*NopLogger)(nil)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()

	// All these should do nothing without panicking
	logger.Log(&Event{Type: EventAssetSelected})
	logger.LogAssetSelected("req-1", "", "avatars", "cats", "a.png", "deadbeef")
	logger.LogSelectionMissed("req-1", "", "avatars", "cats")
	logger.LogTokenResolved("req-1", "", "deadbeef")
	logger.LogTokenRejected("req-1", "", "deadbeef")
	logger.LogAuthFailed("req-1", "")
	logger.LogError(EventAssetReadFailed, "req-1", "", "error")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      EventTokenRejected,
		RequestID: "req-123",
		Token:     "cafebabe",
	}

	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error: %v", err)
	}

	if !bytes.Contains(data, []byte("token_rejected")) {
		t.Error("JSON should contain event type")
	}
	if !bytes.Contains(data, []byte("cafebabe")) {
		t.Error("JSON should contain token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Default config should be enabled")
	}
	if cfg.Level != "standard" {
		t.Errorf("Default level = %q, want 'standard'", cfg.Level)
	}
	if cfg.Output != "stdout" {
		t.Errorf("Default output = %q, want 'stdout'", cfg.Output)
	}
}
