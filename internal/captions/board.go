// Package captions maintains the consumer-facing caption state built from
// recognition and translation events.
package captions

import (
	"strings"
	"sync"
	"time"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/transport"
)

// Entry is one translated utterance on the board
type Entry struct {
	Original       string    `json:"original"`
	Translated     string    `json:"translated"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Snapshot is a consistent view of the board for rendering
type Snapshot struct {
	Final        string  `json:"final"`
	Interim      string  `json:"interim"`
	Translations []Entry `json:"translations"`
}

// Board accumulates finalized text, tracks the live interim hypothesis and
// keeps a translation log. Safe for concurrent use.
//
// A final result with an empty transcript is discarded here, by
// construction: the recognizer occasionally flushes an empty final when its
// upstream stream rotates, and applying it would wipe text the user already
// saw.
type Board struct {
	mu           sync.Mutex
	finals       []string
	interim      string
	translations []Entry
	maxEntries   int
}

// NewBoard creates an empty board. maxEntries bounds the translation log;
// zero means 200.
func NewBoard(maxEntries int) *Board {
	if maxEntries == 0 {
		maxEntries = 200
	}
	return &Board{maxEntries: maxEntries}
}

// ApplyResult folds one recognition result into the board
func (b *Board) ApplyResult(res transport.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range res.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		text := r.Alternatives[0].Transcript

		if r.IsFinal {
			if strings.TrimSpace(text) == "" {
				// Malformed empty final; never let it clear shown text
				continue
			}
			b.finals = append(b.finals, text)
			b.interim = ""
		} else {
			b.interim = text
		}
	}
}

// ApplyTranslation appends one translated utterance
func (b *Board) ApplyTranslation(tr transport.Translation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.translations = append(b.translations, Entry{
		Original:       tr.Original,
		Translated:     tr.Translated,
		SourceLanguage: tr.SourceLanguage,
		TargetLanguage: tr.TargetLanguage,
		ReceivedAt:     time.Now(),
	})
	if len(b.translations) > b.maxEntries {
		b.translations = b.translations[len(b.translations)-b.maxEntries:]
	}
}

// Snapshot returns the current display state
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]Entry, len(b.translations))
	copy(entries, b.translations)

	return Snapshot{
		Final:        strings.Join(b.finals, " "),
		Interim:      b.interim,
		Translations: entries,
	}
}

// Reset clears the board for a new session
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finals = nil
	b.interim = ""
	b.translations = nil
}
