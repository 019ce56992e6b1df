// Package convlog writes conversation traces as newline-delimited JSON, one
// file per session plus an optional global file.
package convlog

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

	"github.com/luiscore200/cotizador/internal/domain"
)

// Event types recorded in the trace.
const (
	EventSessionOpened = "session_opened"
	EventUserMessage   = "user_message"
	EventAssistant     = "assistant_message"
	EventNotice        = "notice"
	EventSessionClosed = "session_closed"
)

// Event is one line of the trace.
type Event struct {
	Timestamp time.Time                 `json:"timestamp"`
	SessionID string                    `json:"session_id"`
	ClientID  string                    `json:"client_id,omitempty"`
	EventType string                    `json:"event_type"`
	Role      domain.Role               `json:"role,omitempty"`
	Text      string                    `json:"text,omitempty"`
	Source    string                    `json:"source,omitempty"`
	Context   *domain.StructuredContext `json:"context,omitempty"`
	Reason    string                    `json:"reason,omitempty"`
}

// Logger records conversation events without blocking the caller.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls where traces are written.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Nop discards every event.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Event) {}

// Close implements Logger.
func (Nop) Close() error { return nil }

type fileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// New starts a trace writer. A disabled config yields Nop.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &fileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues e. A full queue drops the event.
func (l *fileLogger) Log(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Text = cleanForReadability(e.Text)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"session_id", e.SessionID,
			"event_type", e.EventType,
		)
	}
}

// Close drains the queue and stops the writer.
func (l *fileLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done
	})
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for e := range l.queue {
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(l.sessionPath(e.SessionID), line); err != nil {
			l.logger.Warn("Failed to write conversation log", "session_id", e.SessionID, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("Failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileLogger) sessionPath(sessionID string) string {
	name := sanitizeFileName(sessionID)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(l.cfg.Dir, name+".ndjson")
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeFileName(s string) string {
	return strings.Trim(unsafeFileChars.ReplaceAllString(s, "_"), ".")
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// cleanForReadability strips control characters so the trace stays one
// event per line when viewed with standard tools.
func cleanForReadability(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}
