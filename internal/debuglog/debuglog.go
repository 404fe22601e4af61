// Package debuglog records caption traffic to a rotating JSONL file for
// postmortem inspection of a session.
package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the rotation threshold
	DefaultMaxSize = 8 * 1024 * 1024

	// RotatedSuffix is appended to the previous log generation
	RotatedSuffix = ".1"
)

// EntryType classifies a log entry
type EntryType string

const (
	EntryTypeInterim     EntryType = "interim"
	EntryTypeFinal       EntryType = "final"
	EntryTypeTranslation EntryType = "translation"
	EntryTypeSession     EntryType = "session"
)

// Entry is a single JSONL record
type Entry struct {
	Timestamp  string    `json:"timestamp"`
	Type       EntryType `json:"type"`
	Text       string    `json:"text,omitempty"`
	Original   string    `json:"original,omitempty"`
	Translated string    `json:"translated,omitempty"`
	Languages  string    `json:"languages,omitempty"`
	Event      string    `json:"event,omitempty"`
	Duration   float64   `json:"duration_seconds,omitempty"`
}

// Logger writes entries with size-based rotation
type Logger struct {
	file     *os.File
	mu       sync.Mutex
	path     string
	maxSize  int64
	disabled bool
}

// New creates a debug logger. An empty path disables logging entirely;
// maxSize of 0 uses the default rotation threshold.
func New(path string, maxSize int64) (*Logger, error) {
	if path == "" {
		return &Logger{disabled: true}, nil
	}
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	// Expand home directory if present
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{file: file, path: path, maxSize: maxSize}
	if err := l.checkRotation(); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// LogTranscript records one recognition result
func (l *Logger) LogTranscript(text string, isFinal bool) error {
	if l.disabled {
		return nil
	}

	entryType := EntryTypeInterim
	if isFinal {
		entryType = EntryTypeFinal
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeEntry(Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      entryType,
		Text:      text,
	})
}

// LogTranslation records one translated utterance
func (l *Logger) LogTranslation(original, translated, sourceLang, targetLang string) error {
	if l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeEntry(Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Type:       EntryTypeTranslation,
		Original:   original,
		Translated: translated,
		Languages:  sourceLang + "->" + targetLang,
	})
}

// LogSession records a session lifecycle event
func (l *Logger) LogSession(event string, durationSeconds float64) error {
	if l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeEntry(Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      EntryTypeSession,
		Event:     event,
		Duration:  durationSeconds,
	})
}

// writeEntry appends one record and syncs. Must hold mu.
func (l *Logger) writeEntry(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	return l.checkRotation()
}

// checkRotation rotates the file once it exceeds maxSize
func (l *Logger) checkRotation() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() < l.maxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rotatedPath := l.path + RotatedSuffix
	os.Remove(rotatedPath) // Ignore error if the file doesn't exist
	if err := os.Rename(l.path, rotatedPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}
	l.file = file
	return nil
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
