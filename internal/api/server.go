// Package api exposes a local HTTP control surface for the captioning
// client plus a WebSocket stream of live captions for subscriber UIs.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/captions"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
)

// Server handles the HTTP control API
type Server struct {
	bindAddr string
	logger   *logger.ContextLogger
	server   *http.Server

	onStart       func() error
	onStop        func() error
	onSetLanguage func(code string) error
	onSnapshot    func() captions.Snapshot
	onReload      func() error

	isRunning   bool
	isRunningMu sync.RWMutex

	// WebSocket subscribers for live caption streaming
	wsClients   map[*websocket.Conn]bool
	wsClientsMu sync.RWMutex
	wsUpgrader  websocket.Upgrader
}

// Handlers wires the control callbacks
type Handlers struct {
	OnStart       func() error
	OnStop        func() error
	OnSetLanguage func(code string) error
	OnSnapshot    func() captions.Snapshot
	OnReload      func() error
}

// New creates a new API server
func New(bindAddr string, log *logger.Logger) *Server {
	return &Server{
		bindAddr:  bindAddr,
		logger:    log.With("api"),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local control surface only
			},
		},
	}
}

// SetHandlers sets the control callbacks
func (s *Server) SetHandlers(h Handlers) {
	s.onStart = h.OnStart
	s.onStop = h.OnStop
	s.onSetLanguage = h.OnSetLanguage
	s.onSnapshot = h.OnSnapshot
	s.onReload = h.OnReload
}

// routes builds the handler table
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/language", s.handleLanguage)
	mux.HandleFunc("/transcript", s.handleTranscript)
	mux.HandleFunc("/reload", s.handleReload)
	mux.HandleFunc("/captions", s.handleCaptions)
	return mux
}

// Start starts the HTTP server and blocks until it exits
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.bindAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting control API on %s", s.bindAddr)
	return s.server.ListenAndServe()
}

// Stop shuts the server down
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.isRunningMu.Lock()
	if s.isRunning {
		s.isRunningMu.Unlock()
		writeJSON(w, map[string]string{"status": "already_running"})
		return
	}
	s.isRunning = true
	s.isRunningMu.Unlock()

	if s.onStart != nil {
		if err := s.onStart(); err != nil {
			s.isRunningMu.Lock()
			s.isRunning = false
			s.isRunningMu.Unlock()

			s.logger.Error("Failed to start: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.isRunningMu.Lock()
	if !s.isRunning {
		s.isRunningMu.Unlock()
		writeJSON(w, map[string]string{"status": "not_running"})
		return
	}
	s.isRunning = false
	s.isRunningMu.Unlock()

	if s.onStop != nil {
		if err := s.onStop(); err != nil {
			s.logger.Error("Failed to stop: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.isRunningMu.RLock()
	running := s.isRunning
	s.isRunningMu.RUnlock()

	writeJSON(w, map[string]any{
		"running":   running,
		"timestamp": time.Now().Unix(),
	})
}

// handleLanguage switches the recognition language mid-session
func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Language == "" {
		http.Error(w, "language is required", http.StatusBadRequest)
		return
	}

	if s.onSetLanguage != nil {
		if err := s.onSetLanguage(req.Language); err != nil {
			s.logger.Error("Failed to set language: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "ok", "language": req.Language})
}

// handleTranscript serves the accumulated caption state for pull-based UIs
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var snap captions.Snapshot
	if s.onSnapshot != nil {
		snap = s.onSnapshot()
	}
	if snap.Translations == nil {
		snap.Translations = []captions.Entry{}
	}
	writeJSON(w, snap)
}

// handleReload re-reads the configuration file in place
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.onReload != nil {
		if err := s.onReload(); err != nil {
			s.logger.Error("Failed to reload config: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "reloaded"})
}

// handleCaptions upgrades to WebSocket and streams caption updates
func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	s.wsClientsMu.Lock()
	s.wsClients[conn] = true
	s.wsClientsMu.Unlock()

	s.logger.Info("Caption subscriber connected")

	defer func() {
		s.wsClientsMu.Lock()
		delete(s.wsClients, conn)
		s.wsClientsMu.Unlock()
		conn.Close()
		s.logger.Info("Caption subscriber disconnected")
	}()

	// Read loop exists only to detect disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// BroadcastTranscript pushes a recognition result to all subscribers
func (s *Server) BroadcastTranscript(text string, isFinal bool) {
	s.broadcast(map[string]any{
		"type":  "transcript",
		"text":  text,
		"final": isFinal,
	})
}

// BroadcastTranslation pushes a translated utterance to all subscribers
func (s *Server) BroadcastTranslation(original, translated, sourceLang, targetLang string) {
	s.broadcast(map[string]any{
		"type":           "translation",
		"original":       original,
		"translated":     translated,
		"sourceLanguage": sourceLang,
		"targetLanguage": targetLang,
	})
}

func (s *Server) broadcast(message map[string]any) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal caption update: %v", err)
		return
	}

	s.wsClientsMu.RLock()
	defer s.wsClientsMu.RUnlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Error("Failed to push to caption subscriber: %v", err)
		}
	}
}
