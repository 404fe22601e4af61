package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/api"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/captions"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/config"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/debuglog"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/recognizer"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to defaults if no config file exists
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			panic(err)
		}
	}

	log := logger.New(cfg.Client.Debug)
	log.Info("Starting live captioning client")
	log.Info("Config: server_url=%s, api_bind_address=%s, mode=%s, language=%s",
		cfg.Server.URL, cfg.Client.APIBindAddress, cfg.Audio.Mode, cfg.Recognition.Language)

	sessionLog, err := debuglog.New(cfg.Client.DebugLogPath, 0)
	if err != nil {
		log.Fatal("Failed to open session debug log: %v", err)
	}
	defer sessionLog.Close()

	board := captions.NewBoard(0)
	apiServer := api.New(cfg.Client.APIBindAddress, log)

	var translation *transport.TranslationConfig
	if cfg.Translation.Enabled {
		translation = &transport.TranslationConfig{
			Prompt:         cfg.Translation.Prompt,
			SourceLanguage: cfg.Translation.SourceLanguage,
			TargetLanguage: cfg.Translation.TargetLanguage,
			Model: &protocol.GeminiModelConfig{
				Model:       cfg.Translation.Model,
				Temperature: cfg.Translation.Temperature,
				MaxTokens:   cfg.Translation.MaxTokens,
			},
		}
	}

	sessionStarted := time.Now()
	callbacks := recognizer.Callbacks{
		OnStart: func() {
			sessionStarted = time.Now()
			board.Reset()
			sessionLog.LogSession("started", 0)
			log.Info("Recognition started")
		},
		OnResult: func(res transport.Result) {
			board.ApplyResult(res)
			for _, r := range res.Results {
				if len(r.Alternatives) == 0 {
					continue
				}
				text := r.Alternatives[0].Transcript
				if r.IsFinal && text == "" {
					// Malformed flush; the board already ignored it
					continue
				}
				sessionLog.LogTranscript(text, r.IsFinal)
				apiServer.BroadcastTranscript(text, r.IsFinal)
				if r.IsFinal {
					fmt.Printf("\r%s\n", text)
				} else {
					fmt.Printf("\r… %s", text)
				}
			}
		},
		OnTranslation: func(tr transport.Translation) {
			board.ApplyTranslation(tr)
			sessionLog.LogTranslation(tr.Original, tr.Translated, tr.SourceLanguage, tr.TargetLanguage)
			apiServer.BroadcastTranslation(tr.Original, tr.Translated, tr.SourceLanguage, tr.TargetLanguage)
			fmt.Printf("\r[%s] %s\n", tr.TargetLanguage, tr.Translated)
		},
		OnInfo: func(info transport.Info) {
			log.Debug("Server signal: %s %s", info.Kind, info.Message)
		},
		OnError: func(ev recognizer.ErrorEvent) {
			log.Error("Recognition error (%s): %s", ev.Error, ev.Message)
		},
		OnEnd: func() {
			sessionLog.LogSession("stopped", time.Since(sessionStarted).Seconds())
			log.Info("Recognition ended")
		},
	}

	rec, err := recognizer.New(recognizer.Options{
		URL:                  cfg.Server.URL,
		Token:                cfg.Server.Token,
		Language:             cfg.Recognition.Language,
		Continuous:           cfg.Recognition.Continuous,
		InterimResults:       cfg.InterimResultsEnabled(),
		MaxAlternatives:      cfg.Recognition.MaxAlternatives,
		PhraseHints:          cfg.Recognition.PhraseHints,
		AlternativeLanguages: cfg.Recognition.AlternativeLanguages,
		Mode:                 protocol.CaptureMode(cfg.Audio.Mode),
		DeviceName:           cfg.Audio.DeviceName,
		TargetHz:             cfg.Audio.TargetHz,
		FrameMs:              cfg.Audio.FrameMs,
		Translation:          translation,
	}, callbacks, log)
	if err != nil {
		log.Fatal("Failed to create recognizer: %v", err)
	}

	apiServer.SetHandlers(api.Handlers{
		OnStart: func() error {
			log.Info("Start requested")
			return rec.Start()
		},
		OnStop: func() error {
			log.Info("Stop requested")
			rec.Stop()
			return nil
		},
		OnSetLanguage: func(code string) error {
			log.Info("Language switch requested: %s", code)
			rec.SetLanguage(code)
			return nil
		},
		OnSnapshot: board.Snapshot,
		OnReload: func() error {
			log.Info("Config reload requested")
			if err := cfg.Reload(); err != nil {
				return err
			}
			if cfg.Recognition.Language != rec.Lang() {
				rec.SetLanguage(cfg.Recognition.Language)
			}
			return nil
		},
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error("API server error: %v", err)
		}
	}()

	if err := rec.Start(); err != nil {
		log.Error("Initial start failed: %v (control API remains available)", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info("Client running - press Ctrl+C to stop")
	<-sigChan

	log.Info("Shutting down...")
	rec.Stop()
	if err := apiServer.Stop(); err != nil {
		log.Error("Error stopping API server: %v", err)
	}
	log.Info("Client stopped")
}
