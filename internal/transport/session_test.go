package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/audio"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
)

// stubSource stands in for the microphone pipeline
type stubSource struct {
	mu     sync.Mutex
	chunks chan audio.Chunk
	starts int
	stops  int
}

func newStubSource() *stubSource {
	return &stubSource{chunks: make(chan audio.Chunk, 16)}
}

func (s *stubSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *stubSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *stubSource) Chunks() <-chan audio.Chunk        { return s.chunks }
func (s *stubSource) Mode() protocol.CaptureMode        { return protocol.CaptureModePCM16 }
func (s *stubSource) SampleRate() int                   { return 16000 }

func (s *stubSource) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// recorder collects session events for assertions
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(match func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func (r *recorder) endedCount() int {
	return r.count(func(ev Event) bool { _, ok := ev.(Ended); return ok })
}

func (r *recorder) errorsOf(cat ErrorCategory) []SessionError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SessionError
	for _, ev := range r.events {
		if e, ok := ev.(SessionError); ok && e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

// asrServer is a scriptable stand-in for the remote recognition service
type asrServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connCount   int
	subprotocol string

	conns  chan *websocket.Conn
	starts chan protocol.StartMessage
	stops  chan struct{}
	binary chan []byte
}

func newASRServer(t *testing.T) *asrServer {
	t.Helper()
	s := &asrServer{
		conns:  make(chan *websocket.Conn, 8),
		starts: make(chan protocol.StartMessage, 8),
		stops:  make(chan struct{}, 8),
		binary: make(chan []byte, 64),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *asrServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.connCount++
	s.subprotocol = r.Header.Get("Sec-WebSocket-Protocol")
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.conns <- conn

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			var env struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			switch env.Type {
			case "start":
				var msg protocol.StartMessage
				if json.Unmarshal(data, &msg) == nil {
					s.starts <- msg
				}
			case "stop":
				s.stops <- struct{}{}
			}
		case websocket.BinaryMessage:
			s.binary <- data
		}
	}
}

func (s *asrServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *asrServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connCount
}

// closeWith sends a close frame with the given code over an accepted
// connection
func (s *asrServer) closeWith(t *testing.T, code int, reason string) {
	t.Helper()
	conn := s.acceptedConn(t)
	deadline := time.Now().Add(time.Second)
	if err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		t.Fatalf("Failed to send close frame: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	conn.Close()
}

func (s *asrServer) acceptedConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("Server never accepted a connection")
		return nil
	}
}

func (s *asrServer) nextStart(t *testing.T) protocol.StartMessage {
	t.Helper()
	select {
	case msg := <-s.starts:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Server never received a start message")
		return protocol.StartMessage{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestSession(server *asrServer, source *stubSource, rec *recorder, cfg Config) *Session {
	cfg.URL = server.wsURL()
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return NewSession(cfg,
		func() (audio.Source, error) { return source, nil },
		rec.record, logger.New(false))
}

func TestDoubleStartPerformsOneHandshake(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := session.Start(); err != nil {
		t.Fatalf("Second start should be a no-op, got %v", err)
	}

	server.nextStart(t)
	// Give a would-be second connection time to show up
	time.Sleep(100 * time.Millisecond)

	if got := server.connections(); got != 1 {
		t.Errorf("Expected exactly 1 connection, got %d", got)
	}
	select {
	case <-server.starts:
		t.Error("Expected no second start message")
	default:
	}

	session.Stop()
}

func TestSetLanguageKeepsSocket(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{Language: "en-US"})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := server.nextStart(t)
	if first.LanguageCode != "en-US" {
		t.Errorf("Expected first start with en-US, got %s", first.LanguageCode)
	}

	session.SetLanguage("ja-JP")

	second := server.nextStart(t)
	if second.LanguageCode != "ja-JP" {
		t.Errorf("Expected re-sent start with ja-JP, got %s", second.LanguageCode)
	}
	if got := server.connections(); got != 1 {
		t.Errorf("Language change must not reconnect; got %d connections", got)
	}

	session.Stop()
}

func TestEnableTranslationResendsStart(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := server.nextStart(t)
	if first.TranslationEnabled {
		t.Error("Expected translation disabled in initial handshake")
	}

	session.SetTranslation(&TranslationConfig{
		SourceLanguage: "English",
		TargetLanguage: "Japanese",
		Prompt:         "formal register",
	})

	second := server.nextStart(t)
	if !second.TranslationEnabled {
		t.Error("Expected translation enabled after SetTranslation")
	}
	if second.TargetLanguage != "Japanese" {
		t.Errorf("Expected target language Japanese, got %s", second.TargetLanguage)
	}
	if got := server.connections(); got != 1 {
		t.Errorf("Translation change must not reconnect; got %d connections", got)
	}

	session.Stop()
}

func TestBearerTokenSubprotocol(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{Token: "sekrit"})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer session.Stop()

	server.nextStart(t)

	server.mu.Lock()
	proto := server.subprotocol
	server.mu.Unlock()
	if !strings.Contains(proto, "bearer") || !strings.Contains(proto, "sekrit") {
		t.Errorf("Expected bearer token subprotocol, got %q", proto)
	}
}

func TestAudioChunksFlowInOrder(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer session.Stop()

	server.nextStart(t)

	source.chunks <- audio.Chunk{1, 2, 3}
	source.chunks <- audio.Chunk{4, 5, 6}

	for i, want := range [][]byte{{1, 2, 3}, {4, 5, 6}} {
		select {
		case got := <-server.binary:
			if string(got) != string(want) {
				t.Errorf("Chunk %d: expected %v, got %v", i, want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Chunk %d never arrived", i)
		}
	}
}

func TestAuthFailureCloseCode(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server.nextStart(t)

	server.closeWith(t, websocket.ClosePolicyViolation, "bad token")

	waitFor(t, "auth error", func() bool {
		return len(rec.errorsOf(ErrorAuth)) == 1
	})
	waitFor(t, "session end", func() bool {
		return rec.endedCount() == 1
	})

	authErrs := rec.errorsOf(ErrorAuth)
	if authErrs[0].Message != "bad token" {
		t.Errorf("Expected close reason in error message, got %q", authErrs[0].Message)
	}
	if got := source.stopCount(); got != 1 {
		t.Errorf("Expected audio torn down exactly once, got %d stops", got)
	}
	if session.Started() {
		t.Error("Expected session to be ended after auth failure")
	}
}

func TestAbnormalCloseKeepsResources(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server.nextStart(t)

	server.closeWith(t, websocket.CloseInternalServerErr, "stream rotation")

	waitFor(t, "started flag reset", func() bool {
		return !session.Started()
	})

	if got := rec.endedCount(); got != 0 {
		t.Errorf("Expected no Ended event on a non-terminal close, got %d", got)
	}
	if got := source.stopCount(); got != 0 {
		t.Errorf("Expected microphone kept open, got %d stops", got)
	}
	if got := len(rec.errorsOf(ErrorAuth)); got != 0 {
		t.Errorf("Expected no auth error, got %d", got)
	}
}

func TestStopAfterAbnormalCloseReleasesMicrophone(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server.nextStart(t)

	server.closeWith(t, websocket.CloseInternalServerErr, "stream rotation")
	waitFor(t, "started flag reset", func() bool {
		return !session.Started()
	})

	// The socket is gone but the microphone is still live; an explicit Stop
	// must still finalize the session
	session.Stop()

	waitFor(t, "session end", func() bool { return rec.endedCount() == 1 })
	if got := source.stopCount(); got != 1 {
		t.Errorf("Expected the microphone released exactly once, got %d stops", got)
	}
}

func TestRestartAfterAbnormalCloseStopsStaleSource(t *testing.T) {
	server := newASRServer(t)
	first := newStubSource()
	second := newStubSource()
	sources := []*stubSource{first, second}
	next := 0
	rec := &recorder{}
	cfg := Config{URL: server.wsURL(), Language: "en-US"}
	session := NewSession(cfg,
		func() (audio.Source, error) {
			src := sources[next]
			next++
			return src, nil
		},
		rec.record, logger.New(false))

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server.nextStart(t)

	server.closeWith(t, websocket.CloseInternalServerErr, "stream rotation")
	waitFor(t, "started flag reset", func() bool {
		return !session.Started()
	})

	if err := session.Start(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	server.nextStart(t)

	if got := first.stopCount(); got != 1 {
		t.Errorf("Expected the stale source stopped on restart, got %d stops", got)
	}

	session.Stop()
	waitFor(t, "session end", func() bool { return rec.endedCount() == 1 })
	if got := second.stopCount(); got != 1 {
		t.Errorf("Expected the active source stopped once, got %d stops", got)
	}
}

func TestStopSendsStopFrame(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server.nextStart(t)

	session.Stop()

	select {
	case <-server.stops:
	case <-time.After(2 * time.Second):
		t.Fatal("Server never received the stop frame")
	}

	waitFor(t, "session end", func() bool { return rec.endedCount() == 1 })
	if got := source.stopCount(); got != 1 {
		t.Errorf("Expected one source stop, got %d", got)
	}
}

func TestAbortClosesWithoutStopFrame(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server.nextStart(t)

	session.Abort()

	waitFor(t, "session end", func() bool { return rec.endedCount() == 1 })
	select {
	case <-server.stops:
		t.Error("Abort must not send a stop frame")
	default:
	}
}

func TestTranscriptAndTranslationEvents(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer session.Stop()
	server.nextStart(t)

	conn := server.acceptedConn(t)
	frames := []string{
		`{"type":"transcript","transcript":"konnichiwa","isFinal":false,"stability":0.8}`,
		`{"type":"transcript","transcript":"konnichiwa sekai","isFinal":true,"confidence":0.95}`,
		`{"type":"translation","original":"konnichiwa sekai","translated":"hello world","sourceLanguage":"Japanese","targetLanguage":"English"}`,
		`{"type":"info","message":"stream rotated"}`,
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("Server write failed: %v", err)
		}
	}

	waitFor(t, "all events", func() bool {
		return rec.count(func(ev Event) bool { _, ok := ev.(Result); return ok }) == 2 &&
			rec.count(func(ev Event) bool { _, ok := ev.(Translation); return ok }) == 1 &&
			rec.count(func(ev Event) bool { _, ok := ev.(Info); return ok }) == 1
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var results []Result
	for _, ev := range rec.events {
		if r, ok := ev.(Result); ok {
			results = append(results, r)
		}
	}
	if !results[1].Results[0].IsFinal {
		t.Error("Expected second result to be final")
	}
	if got := results[1].Results[0].Alternatives[0].Transcript; got != "konnichiwa sekai" {
		t.Errorf("Unexpected final transcript %q", got)
	}
}

func TestBenignAudioTimeoutSuppressed(t *testing.T) {
	server := newASRServer(t)
	source := newStubSource()
	rec := &recorder{}
	session := newTestSession(server, source, rec, Config{})

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer session.Stop()
	server.nextStart(t)

	conn := server.acceptedConn(t)
	frames := []string{
		`{"type":"error","err":"Audio Timeout Error: Long duration elapsed without audio"}`,
		`{"type":"error","err":"recognizer exploded"}`,
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("Server write failed: %v", err)
		}
	}

	waitFor(t, "service error", func() bool {
		return len(rec.errorsOf(ErrorService)) == 1
	})

	errs := rec.errorsOf(ErrorService)
	if errs[0].Message != "recognizer exploded" {
		t.Errorf("Expected only the real fault to surface, got %q", errs[0].Message)
	}
}

func TestInitializationFailureTearsDownSocket(t *testing.T) {
	server := newASRServer(t)
	rec := &recorder{}
	cfg := Config{URL: server.wsURL(), Language: "en-US"}
	session := NewSession(cfg,
		func() (audio.Source, error) { return nil, audio.ErrNoDevice },
		rec.record, logger.New(false))

	if err := session.Start(); err == nil {
		t.Fatal("Expected start to fail without a device")
	}

	if got := len(rec.errorsOf(ErrorInitialization)); got != 1 {
		t.Errorf("Expected one initialization error, got %d", got)
	}
	if session.Started() {
		t.Error("Expected session not started after device failure")
	}
}

func TestDialFailureYieldsNetworkError(t *testing.T) {
	rec := &recorder{}
	source := newStubSource()
	cfg := Config{URL: "ws://127.0.0.1:1", Language: "en-US"}
	session := NewSession(cfg,
		func() (audio.Source, error) { return source, nil },
		rec.record, logger.New(false))

	if err := session.Start(); err == nil {
		t.Fatal("Expected start to fail against a dead endpoint")
	}

	if got := len(rec.errorsOf(ErrorNetwork)); got != 1 {
		t.Errorf("Expected one network error, got %d", got)
	}
	if got := source.stopCount(); got != 0 {
		t.Errorf("Source should never have started, got %d stops", got)
	}
}
