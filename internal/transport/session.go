package transport

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/audio"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
)

const (
	// readyPollInterval is how often a control send re-checks a socket that
	// is not yet usable
	readyPollInterval = 50 * time.Millisecond
	// readyTimeout bounds that wait before reporting a communication error
	readyTimeout = 5 * time.Second
)

// audioTimeoutPattern matches the benign server fault raised when audio
// pauses longer than the recognizer's real-time deadline. Recording recovers
// on its own, so the error is swallowed instead of alarming the user.
var audioTimeoutPattern = regexp.MustCompile(`(?i)audio ?timeout|long duration elapsed without audio`)

var errSocketNotReady = errors.New("socket never became ready for send")

// TranslationConfig enables live translation for the session
type TranslationConfig struct {
	Prompt         string
	SourceLanguage string
	TargetLanguage string
	Model          *protocol.GeminiModelConfig
}

// Config holds the session's recognition parameters. Language and
// translation settings are mutable mid-session; the server reads them at the
// next start message, so changes take effect on the next utterance without
// an audio interruption.
type Config struct {
	URL   string
	Token string

	Language        string
	InterimResults  bool
	SingleUtterance bool
	MaxAlternatives int

	Model                string
	UseEnhanced          bool
	ProfanityFilter      bool
	SpokenPunctuation    bool
	WordTimeOffsets      bool
	EnableWordConfidence bool
	PhraseHints          []string
	AlternativeLanguages []string

	Translation *TranslationConfig
}

// SourceFactory builds the audio pipeline for one session start
type SourceFactory func() (audio.Source, error)

// Session owns one WebSocket connection and the audio stream feeding it.
// It is the only component that touches the network. All events surface
// through a single handler; the session never panics across the socket
// callback boundary.
type Session struct {
	newSource SourceFactory
	handler   func(Event)
	log       *logger.ContextLogger

	mu      sync.Mutex
	cfg     Config
	conn    *websocket.Conn
	source  audio.Source
	started bool
	// stopping marks a locally initiated close so the read loop's exit is
	// not mistaken for a server-side event
	stopping bool
	ended    bool
	pumpStop chan struct{}

	writeMu sync.Mutex
}

// NewSession creates an idle session. handler receives every event
// synchronously and in order; it must not block.
func NewSession(cfg Config, newSource SourceFactory, handler func(Event), log *logger.Logger) *Session {
	if cfg.MaxAlternatives == 0 {
		cfg.MaxAlternatives = 1
	}
	return &Session{
		newSource: newSource,
		handler:   handler,
		log:       log.With("session"),
		cfg:       cfg,
	}
}

// Start opens the socket, acquires audio and sends the session handshake.
// Starting an already started session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn("Start called on an already started session, ignoring")
		return nil
	}
	s.started = true
	s.stopping = false
	s.ended = false
	// A mid-session close may have left the previous capture pipeline in
	// place; claim it here and release it before acquiring a replacement
	staleSource := s.source
	stalePumpStop := s.pumpStop
	s.source = nil
	s.pumpStop = nil
	cfg := s.cfg
	s.mu.Unlock()

	if stalePumpStop != nil {
		close(stalePumpStop)
	}
	if staleSource != nil {
		if err := staleSource.Stop(); err != nil {
			s.log.Warn("Stale audio source stop failed: %v", err)
		}
	}

	conn, err := s.dial(cfg)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		s.emit(SessionError{Category: ErrorNetwork, Message: err.Error()})
		return err
	}

	source, err := s.newSource()
	if err == nil {
		err = source.Start()
	}
	if err != nil {
		conn.Close()
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		s.emit(SessionError{Category: ErrorInitialization, Message: err.Error()})
		return err
	}

	pumpStop := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.source = source
	s.pumpStop = pumpStop
	s.mu.Unlock()

	go s.readLoop(conn)

	// Handshake goes out before the first audio frame
	startErr := s.sendStart()
	go s.pump(conn, source, pumpStop)

	if startErr != nil {
		s.emit(SessionError{Category: ErrorCommunication, Message: startErr.Error()})
		return startErr
	}

	s.emit(Started{})
	return nil
}

// dial opens the WebSocket, passing the bearer token as a subprotocol
func (s *Session) dial(cfg Config) (*websocket.Conn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	q := u.Query()
	q.Set("session_id", uuid.NewString())
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if cfg.Token != "" {
		dialer.Subprotocols = []string{"bearer", cfg.Token}
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// Stop finalizes the session cooperatively: a stop control frame, then close.
// The microphone may outlive the socket after a mid-session close, so holding
// a source alone is enough to make Stop do real work.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started && s.conn == nil && s.source == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	connected := s.conn != nil
	s.mu.Unlock()

	if connected {
		if err := s.writeControl(protocol.NewStopMessage()); err != nil {
			s.log.Debug("Stop control send failed: %v", err)
		}
	}
	s.teardown()
}

// Abort closes immediately without notifying the server
func (s *Session) Abort() {
	s.mu.Lock()
	if !s.started && s.conn == nil && s.source == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	s.teardown()
}

// SetLanguage changes the recognition language. The socket is kept; the new
// value is announced with a fresh start message and applies from the next
// utterance.
func (s *Session) SetLanguage(code string) {
	s.mu.Lock()
	s.cfg.Language = code
	connected := s.conn != nil
	s.mu.Unlock()

	if connected {
		if err := s.sendStart(); err != nil {
			s.emit(SessionError{Category: ErrorCommunication, Message: err.Error()})
		}
	}
}

// SetTranslation updates (or clears, with nil) the translation settings.
// Like SetLanguage this re-announces the configuration in place when
// connected; otherwise it is captured for the initial handshake.
func (s *Session) SetTranslation(cfg *TranslationConfig) {
	s.mu.Lock()
	s.cfg.Translation = cfg
	connected := s.conn != nil
	s.mu.Unlock()

	if connected {
		if err := s.sendStart(); err != nil {
			s.emit(SessionError{Category: ErrorCommunication, Message: err.Error()})
		}
	}
}

// Language returns the current recognition language
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Language
}

// sendStart announces the session configuration on the open socket
func (s *Session) sendStart() error {
	s.mu.Lock()
	cfg := s.cfg
	source := s.source
	s.mu.Unlock()

	mode := protocol.CaptureModePCM16
	sampleRate := audio.DefaultTargetHz
	if source != nil {
		mode = source.Mode()
		sampleRate = source.SampleRate()
	}

	msg := protocol.StartMessage{
		Type:                     "start",
		Mode:                     mode,
		LanguageCode:             cfg.Language,
		InterimResults:           cfg.InterimResults,
		SingleUtterance:          cfg.SingleUtterance,
		MaxAlternatives:          cfg.MaxAlternatives,
		Model:                    cfg.Model,
		UseEnhanced:              cfg.UseEnhanced,
		ProfanityFilter:          cfg.ProfanityFilter,
		SpokenPunctuation:        cfg.SpokenPunctuation,
		WordTimeOffsets:          cfg.WordTimeOffsets,
		EnableWordConfidence:     cfg.EnableWordConfidence,
		PhraseHints:              cfg.PhraseHints,
		AlternativeLanguageCodes: cfg.AlternativeLanguages,
	}
	if mode == protocol.CaptureModePCM16 {
		msg.SampleRateHz = sampleRate
	}
	if t := cfg.Translation; t != nil {
		msg.TranslationEnabled = true
		msg.TranslationPrompt = t.Prompt
		msg.SourceLanguage = t.SourceLanguage
		msg.TargetLanguage = t.TargetLanguage
		msg.GeminiModelConfig = t.Model
	}

	return s.writeControl(msg)
}

// writeControl sends a JSON control frame. A socket that is not yet usable
// is re-checked every 50ms until the ready deadline passes.
func (s *Session) writeControl(v any) error {
	deadline := time.Now().Add(readyTimeout)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			s.writeMu.Lock()
			err := conn.WriteJSON(v)
			s.writeMu.Unlock()
			return err
		}

		if time.Now().After(deadline) {
			return errSocketNotReady
		}
		time.Sleep(readyPollInterval)
	}
}

// pump streams audio chunks out in capture order
func (s *Session) pump(conn *websocket.Conn, source audio.Source, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case chunk, ok := <-source.Chunks():
			if !ok {
				return
			}
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, chunk)
			s.writeMu.Unlock()
			if err != nil {
				// The read loop owns disconnect handling; just note it
				s.log.Debug("Audio send failed: %v", err)
			}
		}
	}
}

// readLoop dispatches inbound frames until the socket fails or closes
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleServerMessage(data)
	}
}

// handleServerMessage decodes and dispatches one inbound text frame
func (s *Session) handleServerMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("Dropping server message: %v", err)
		return
	}

	switch m := msg.(type) {
	case *protocol.TranscriptMessage:
		s.emit(wrapTranscript(m))

	case *protocol.TranslationMessage:
		s.emit(Translation{
			Original:       m.Original,
			Translated:     m.Translated,
			SourceLanguage: m.SourceLanguage,
			TargetLanguage: m.TargetLanguage,
			TranslationID:  m.TranslationID,
			Timestamp:      m.Timestamp,
		})

	case *protocol.InfoMessage:
		// Bookkeeping only; the server rotating its upstream stream must
		// not end this session
		s.emit(Info{Kind: m.Kind, Message: m.Message})

	case *protocol.ErrorMessage:
		if audioTimeoutPattern.MatchString(m.Err) {
			s.log.Debug("Suppressing transient audio timing fault: %s", m.Err)
			return
		}
		s.emit(SessionError{Category: ErrorService, Message: m.Err})
	}
}

// handleDisconnect maps a read failure to the session's close semantics
func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()

	if stopping {
		// Local Stop/Abort already drives teardown
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.ClosePolicyViolation:
			// 1008 is reserved for rejected credentials
			s.emit(SessionError{Category: ErrorAuth, Message: closeErr.Text})
			s.teardown()
		case websocket.CloseNormalClosure:
			s.teardown()
		default:
			// The server recycles its upstream stream with non-terminal
			// closes; keep the microphone and session resources alive.
			// Note: nothing on this side reopens the socket, so audio
			// stops reaching the server until the next explicit start.
			s.log.Info("Socket closed mid-session (code %d), keeping session resources", closeErr.Code)
			s.mu.Lock()
			s.started = false
			s.conn = nil
			s.mu.Unlock()
		}
		return
	}

	s.emit(SessionError{Category: ErrorNetwork, Message: err.Error()})
	s.mu.Lock()
	s.started = false
	s.conn = nil
	s.mu.Unlock()
}

// teardown releases the socket and microphone and fires Ended exactly once
func (s *Session) teardown() {
	s.mu.Lock()
	conn := s.conn
	source := s.source
	pumpStop := s.pumpStop
	alreadyEnded := s.ended
	s.conn = nil
	s.source = nil
	s.pumpStop = nil
	s.started = false
	s.ended = true
	s.mu.Unlock()

	if pumpStop != nil {
		close(pumpStop)
	}
	if conn != nil {
		conn.Close()
	}
	if source != nil {
		if err := source.Stop(); err != nil {
			s.log.Warn("Audio source stop failed: %v", err)
		}
	}

	if !alreadyEnded {
		s.emit(Ended{})
	}
}

// Started reports whether the session believes it is active
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) emit(ev Event) {
	if s.handler != nil {
		s.handler(ev)
	}
}
