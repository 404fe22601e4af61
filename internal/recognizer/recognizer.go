// Package recognizer exposes the streaming transport through a
// SpeechRecognition-shaped facade so consuming code needs no protocol
// knowledge.
package recognizer

import (
	"sync"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/audio"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/transport"
)

// ErrorEvent is a categorized recognition failure
type ErrorEvent struct {
	Error   transport.ErrorCategory
	Message string
}

// Callbacks are the consumer hooks. Every transport event is forwarded
// synchronously and in order; the adapter buffers and reorders nothing.
// Nil callbacks are skipped.
type Callbacks struct {
	OnStart       func()
	OnResult      func(result transport.Result)
	OnTranslation func(tr transport.Translation)
	OnInfo        func(info transport.Info)
	OnError       func(ev ErrorEvent)
	OnEnd         func()
}

// Options configures a recognizer
type Options struct {
	URL   string
	Token string

	Language             string
	Continuous           bool
	InterimResults       bool
	MaxAlternatives      int
	PhraseHints          []string
	AlternativeLanguages []string

	Mode       protocol.CaptureMode
	DeviceName string
	TargetHz   int
	FrameMs    int

	Translation *transport.TranslationConfig
}

// Recognizer is the stable facade over one transport session
type Recognizer struct {
	session   *transport.Session
	callbacks Callbacks
	log       *logger.ContextLogger

	mu   sync.Mutex
	lang string
}

// New builds a recognizer. The capture mode is resolved against local
// capabilities once, at construction.
func New(opts Options, callbacks Callbacks, log *logger.Logger) (*Recognizer, error) {
	mode, err := audio.SelectMode(opts.Mode, audio.DetectCapabilities())
	if err != nil {
		return nil, err
	}

	r := &Recognizer{
		callbacks: callbacks,
		log:       log.With("recognizer"),
		lang:      opts.Language,
	}

	sourceCfg := audio.Config{
		Mode:       mode,
		DeviceName: opts.DeviceName,
		TargetHz:   opts.TargetHz,
		FrameMs:    opts.FrameMs,
	}
	newSource := func() (audio.Source, error) {
		return audio.NewSource(sourceCfg, log)
	}

	r.session = transport.NewSession(transport.Config{
		URL:                  opts.URL,
		Token:                opts.Token,
		Language:             opts.Language,
		InterimResults:       opts.InterimResults,
		SingleUtterance:      !opts.Continuous,
		MaxAlternatives:      opts.MaxAlternatives,
		PhraseHints:          opts.PhraseHints,
		AlternativeLanguages: opts.AlternativeLanguages,
		Translation:          opts.Translation,
	}, newSource, r.dispatch, log)

	return r, nil
}

// newWithSession wires a prebuilt session for tests
func newWithSession(build func(handler func(transport.Event)) *transport.Session, callbacks Callbacks, log *logger.Logger) *Recognizer {
	r := &Recognizer{callbacks: callbacks, log: log.With("recognizer")}
	r.session = build(r.dispatch)
	return r
}

// dispatch fans one transport event out to the matching callback
func (r *Recognizer) dispatch(ev transport.Event) {
	switch e := ev.(type) {
	case transport.Started:
		if r.callbacks.OnStart != nil {
			r.callbacks.OnStart()
		}
	case transport.Result:
		if r.callbacks.OnResult != nil {
			r.callbacks.OnResult(e)
		}
	case transport.Translation:
		if r.callbacks.OnTranslation != nil {
			r.callbacks.OnTranslation(e)
		}
	case transport.Info:
		if r.callbacks.OnInfo != nil {
			r.callbacks.OnInfo(e)
		}
	case transport.SessionError:
		if r.callbacks.OnError != nil {
			r.callbacks.OnError(ErrorEvent{Error: e.Category, Message: e.Message})
		}
	case transport.Ended:
		if r.callbacks.OnEnd != nil {
			r.callbacks.OnEnd()
		}
	}
}

// Start begins (or resumes) recognition. Starting twice is harmless.
func (r *Recognizer) Start() error {
	return r.session.Start()
}

// Stop finalizes recognition cooperatively
func (r *Recognizer) Stop() {
	r.session.Stop()
}

// Abort tears the session down without notifying the server
func (r *Recognizer) Abort() {
	r.session.Abort()
}

// Lang returns the active recognition language
func (r *Recognizer) Lang() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lang
}

// SetLanguage switches the recognition language without restarting the
// connection; it applies from the next utterance.
func (r *Recognizer) SetLanguage(code string) {
	r.mu.Lock()
	r.lang = code
	r.mu.Unlock()
	r.session.SetLanguage(code)
}

// SetTranslationConfig replaces the translation settings; live sessions are
// re-announced in place.
func (r *Recognizer) SetTranslationConfig(cfg *transport.TranslationConfig) {
	r.session.SetTranslation(cfg)
}

// EnableTranslation is SetTranslationConfig with a non-nil config
func (r *Recognizer) EnableTranslation(cfg transport.TranslationConfig) {
	r.session.SetTranslation(&cfg)
}

// DisableTranslation turns translation off from the next utterance
func (r *Recognizer) DisableTranslation() {
	r.session.SetTranslation(nil)
}
