package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

// TranscriptLogger records conversation traffic as NDJSON, one file per
// connection under a per-user directory. Implementations must be safe for
// concurrent use and must never block the caller.
type TranscriptLogger interface {
	Log(entry TranscriptEntry)
	Close() error
}

// TranscriptConfig controls transcript recording.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptEntry is one NDJSON transcript line. TextRaw holds the original
// content; Text is populated with a cleaned copy by the logger when empty.
type TranscriptEntry struct {
	Timestamp    string         `json:"timestamp"`
	UserID       string         `json:"user_id"`
	ConnectionID string         `json:"connection_id"`
	Direction    string         `json:"direction"`
	EventType    string         `json:"event_type"`
	TextRaw      string         `json:"text_raw,omitempty"`
	Text         string         `json:"text,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// NewTranscriptLogger creates a transcript logger. When recording is
// disabled it returns a no-op implementation.
func NewTranscriptLogger(cfg TranscriptConfig, log *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return noopTranscriptLogger{}, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript dir is required when transcripts are enabled")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	t := &fileTranscriptLogger{
		dir:     cfg.Dir,
		queue:   make(chan TranscriptEntry, queueSize),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
		log:     log,
	}
	go t.run()
	return t, nil
}

type fileTranscriptLogger struct {
	dir       string
	queue     chan TranscriptEntry
	done      chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// Log queues an entry for the background writer. When the queue is full the
// oldest entry is dropped to make room; conversation traffic must never
// stall on disk I/O.
func (t *fileTranscriptLogger) Log(entry TranscriptEntry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Text == "" {
		entry.Text = cleanText(entry.TextRaw)
	}

	select {
	case <-t.done:
		return
	default:
	}

	select {
	case t.queue <- entry:
		return
	default:
	}

	// Queue full: evict the oldest entry, then retry once.
	select {
	case <-t.queue:
	default:
	}
	select {
	case t.queue <- entry:
	default:
		t.log.Warn("transcript entry dropped", "user_id", entry.UserID)
	}
}

// Close stops the writer after flushing queued entries, waiting at most
// five seconds.
func (t *fileTranscriptLogger) Close() error {
	t.closeOnce.Do(func() { close(t.done) })

	select {
	case <-t.drained:
	case <-time.After(5 * time.Second):
		t.log.Warn("transcript logger close timed out", "queued", len(t.queue))
	}
	return nil
}

func (t *fileTranscriptLogger) run() {
	defer close(t.drained)

	for {
		select {
		case entry := <-t.queue:
			t.write(entry)
		case <-t.done:
			for {
				select {
				case entry := <-t.queue:
					t.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (t *fileTranscriptLogger) write(entry TranscriptEntry) {
	userDir := filepath.Join(t.dir, entry.UserID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.log.Warn("failed to create transcript user dir", "error", err, "user_id", entry.UserID)
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		t.log.Warn("failed to marshal transcript entry", "error", err)
		return
	}

	path := filepath.Join(userDir, entry.ConnectionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.log.Warn("failed to open transcript file", "error", err, "path", path)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		t.log.Warn("failed to write transcript entry", "error", err, "path", path)
	}
}

type noopTranscriptLogger struct{}

func (noopTranscriptLogger) Log(TranscriptEntry) {}
func (noopTranscriptLogger) Close() error        { return nil }

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// cleanText strips ANSI escape sequences and control characters so
// transcript lines stay readable; newlines and tabs become spaces.
func cleanText(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, s)
}
