package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Model     ModelConfig     `json:"model"`
	Session   SessionConfig   `json:"session"`
	Proactive ProactiveConfig `json:"proactive"`
	Voice     VoiceConfig     `json:"voice"`
	Log       LogConfig       `json:"log"`
	mu        sync.RWMutex
}

type StorageConfig struct {
	DataDir string `json:"data_dir" env:"CHITRA_DATA_DIR"`
}

type ModelConfig struct {
	Provider       string `json:"provider" env:"CHITRA_LLM_PROVIDER"`
	Name           string `json:"name" env:"CHITRA_LLM_MODEL"`
	Endpoint       string `json:"endpoint" env:"CHITRA_LLM_ENDPOINT"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"CHITRA_LLM_TIMEOUT_SECONDS"`
	MaxRetries     int    `json:"max_retries" env:"CHITRA_LLM_MAX_RETRIES"`
}

type SessionConfig struct {
	HistoryTurns int `json:"history_turns" env:"CHITRA_HISTORY_TURNS"`
}

type ProactiveConfig struct {
	Enabled         bool `json:"enabled" env:"CHITRA_PROACTIVE_ENABLED"`
	IntervalSeconds int  `json:"interval_seconds" env:"CHITRA_PROACTIVE_INTERVAL"`
	LookaheadHours  int  `json:"lookahead_hours" env:"CHITRA_PROACTIVE_LOOKAHEAD_HOURS"`
	NeglectDays     int  `json:"neglect_days" env:"CHITRA_PROACTIVE_NEGLECT_DAYS"`
}

type VoiceConfig struct {
	InputMode string `json:"input_mode" env:"CHITRA_INPUT_MODE"`
}

type LogConfig struct {
	Level string `json:"level" env:"CHITRA_LOG_LEVEL"`
}

// MaxInferenceRetries caps correction retries regardless of configuration.
const MaxInferenceRetries = 2

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.chitra/data",
		},
		Model: ModelConfig{
			Provider:       "ollama",
			Name:           "llama3.1:8b",
			Endpoint:       "http://localhost:11434",
			TimeoutSeconds: 120,
			MaxRetries:     MaxInferenceRetries,
		},
		Session: SessionConfig{
			HistoryTurns: 10,
		},
		Proactive: ProactiveConfig{
			Enabled:         true,
			IntervalSeconds: 60,
			LookaheadHours:  1,
			NeglectDays:     7,
		},
		Voice: VoiceConfig{
			InputMode: "text",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.chitra/config.json.
func DefaultPath() string {
	return expandHome("~/.chitra/config.json")
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name must not be empty")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint must not be empty")
	}
	if c.Model.TimeoutSeconds <= 0 {
		return fmt.Errorf("model.timeout_seconds must be positive, got %d", c.Model.TimeoutSeconds)
	}
	if c.Model.MaxRetries < 0 || c.Model.MaxRetries > MaxInferenceRetries {
		return fmt.Errorf("model.max_retries must be between 0 and %d, got %d", MaxInferenceRetries, c.Model.MaxRetries)
	}
	if c.Session.HistoryTurns < 0 {
		return fmt.Errorf("session.history_turns must not be negative, got %d", c.Session.HistoryTurns)
	}
	if c.Proactive.IntervalSeconds <= 0 {
		return fmt.Errorf("proactive.interval_seconds must be positive, got %d", c.Proactive.IntervalSeconds)
	}
	if c.Proactive.LookaheadHours <= 0 {
		return fmt.Errorf("proactive.lookahead_hours must be positive, got %d", c.Proactive.LookaheadHours)
	}
	if c.Proactive.NeglectDays <= 0 {
		return fmt.Errorf("proactive.neglect_days must be positive, got %d", c.Proactive.NeglectDays)
	}
	switch c.Voice.InputMode {
	case "text", "voice":
	default:
		return fmt.Errorf("voice.input_mode must be text or voice, got %q", c.Voice.InputMode)
	}
	return nil
}

func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.DataDir)
}

// DBPath returns the SQLite file for a capability under the data dir.
func (c *Config) DBPath(name string) string {
	return filepath.Join(c.DataDir(), name+".db")
}

func (c *Config) InferenceTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

func (c *Config) ProactiveInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Proactive.IntervalSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
