package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTranscriptLoggerWritesPerConnectionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewTranscriptLogger(TranscriptConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(TranscriptEntry{
		UserID:       "user-1",
		ConnectionID: "conn-1",
		Direction:    "inbound",
		EventType:    "text_input",
		TextRaw:      "add milk to my list",
	})

	path := filepath.Join(dir, "user-1", "conn-1.ndjson")
	line := waitForTranscriptLine(t, path)

	var got TranscriptEntry
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal transcript line: %v", err)
	}
	if got.TextRaw != "add milk to my list" {
		t.Errorf("TextRaw = %q, want %q", got.TextRaw, "add milk to my list")
	}
	if got.Text == "" {
		t.Error("expected cleaned text to be populated")
	}
	if got.Timestamp == "" {
		t.Error("expected timestamp to be populated")
	}
}

func TestTranscriptLoggerCloseFlushesQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewTranscriptLogger(TranscriptConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 32,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		logger.Log(TranscriptEntry{
			UserID:       "user-1",
			ConnectionID: "conn-1",
			Direction:    "outbound",
			EventType:    "response",
			TextRaw:      "done",
		})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "user-1", "conn-1.ndjson"))
	if err != nil {
		t.Fatalf("failed to read transcript: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Errorf("transcript has %d lines, want 5", len(lines))
	}
}

func TestTranscriptLoggerDisabled(t *testing.T) {
	t.Parallel()

	logger, err := NewTranscriptLogger(TranscriptConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	logger.Log(TranscriptEntry{UserID: "user-1", ConnectionID: "conn-1", TextRaw: "x"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestTranscriptLoggerRequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := NewTranscriptLogger(TranscriptConfig{Enabled: true}, nil); err == nil {
		t.Error("NewTranscriptLogger succeeded without a dir")
	}
}

func TestCleanTextStripsControlChars(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\nnext\x07"
	clean := cleanText(raw)
	if strings.Contains(clean, "\x1b") {
		t.Errorf("ANSI sequence survived cleaning: %q", clean)
	}
	if strings.Contains(clean, "\n") {
		t.Errorf("newline survived cleaning: %q", clean)
	}
	if !strings.Contains(clean, "error plain") {
		t.Errorf("readable text lost: %q", clean)
	}
	if !strings.Contains(clean, "next") {
		t.Errorf("text after newline lost: %q", clean)
	}
}

func waitForTranscriptLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for transcript file %s", path)
	return ""
}
