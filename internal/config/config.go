package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the client configuration
type Config struct {
	Client struct {
		APIBindAddress string `yaml:"api_bind_address"`
		Debug          bool   `yaml:"debug"`
		DebugLogPath   string `yaml:"debug_log_path"`
	} `yaml:"client"`

	Server struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"server"`

	Audio struct {
		DeviceName string `yaml:"device_name"` // Empty = default device
		Mode       string `yaml:"mode"`        // PCM16, WEBM_OPUS or auto
		FrameMs    int    `yaml:"frame_ms"`
		TargetHz   int    `yaml:"target_hz"`
	} `yaml:"audio"`

	Recognition struct {
		Language             string   `yaml:"language"`
		Continuous           bool     `yaml:"continuous"`
		InterimResults       *bool    `yaml:"interim_results"`
		MaxAlternatives      int      `yaml:"max_alternatives"`
		PhraseHints          []string `yaml:"phrase_hints"`
		AlternativeLanguages []string `yaml:"alternative_languages"`
	} `yaml:"recognition"`

	Translation struct {
		Enabled        bool     `yaml:"enabled"`
		Prompt         string   `yaml:"prompt"`
		SourceLanguage string   `yaml:"source_language"`
		TargetLanguage string   `yaml:"target_language"`
		Model          string   `yaml:"model"`
		Temperature    *float64 `yaml:"temperature"`
		MaxTokens      *int     `yaml:"max_tokens"`
	} `yaml:"translation"`

	// Internal field to track config file path for reloading
	filePath string
}

// Load reads and parses the configuration file, then applies environment
// overrides for the endpoint credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.filePath = path

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Reload reloads the configuration from disk and updates the current config
// in-place so components holding a reference see the new values without a
// restart.
func (c *Config) Reload() error {
	if c.filePath == "" {
		return fmt.Errorf("config file path not set, cannot reload")
	}

	fresh, err := Load(c.filePath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	c.Client = fresh.Client
	c.Server = fresh.Server
	c.Audio = fresh.Audio
	c.Recognition = fresh.Recognition
	c.Translation = fresh.Translation
	return nil
}

// Default returns a default configuration
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Client.APIBindAddress == "" {
		c.Client.APIBindAddress = "localhost:8081"
	}
	if c.Server.URL == "" {
		c.Server.URL = "wss://localhost:8080/v1/stream"
	}
	if c.Audio.Mode == "" {
		c.Audio.Mode = "auto"
	}
	if c.Audio.FrameMs == 0 {
		c.Audio.FrameMs = 10
	}
	if c.Audio.TargetHz == 0 {
		c.Audio.TargetHz = 16000
	}
	if c.Recognition.Language == "" {
		c.Recognition.Language = "en-US"
	}
	if c.Recognition.InterimResults == nil {
		on := true
		c.Recognition.InterimResults = &on
	}
	if c.Recognition.MaxAlternatives == 0 {
		c.Recognition.MaxAlternatives = 1
	}
	if c.Translation.Model == "" {
		c.Translation.Model = "gemini-2.0-flash"
	}
}

// applyEnv lets the endpoint and token come from the environment, with an
// optional .env file
func (c *Config) applyEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// A broken .env is worth knowing about but not fatal
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	if url := os.Getenv("MINBARAI_WS_URL"); url != "" {
		c.Server.URL = url
	}
	if token := os.Getenv("MINBARAI_WS_TOKEN"); token != "" {
		c.Server.Token = token
	}
}

// InterimResultsEnabled resolves the tri-state yaml field
func (c *Config) InterimResultsEnabled() bool {
	return c.Recognition.InterimResults == nil || *c.Recognition.InterimResults
}
