// Package clientconfig loads the JSON configuration file consumed by the
// runwatch command and examples.
package clientconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	BaseURL   string `json:"baseUrl"`
	APIKey    string `json:"apiKey"`
	Transport string `json:"transport"`

	JournalPath string `json:"journalPath"`
	RedisAddr   string `json:"redisAddr"`
	RedisDB     int    `json:"redisDb"`

	FailureThreshold int    `json:"failureThreshold"`
	PollInterval     string `json:"pollInterval"`
	ProbeInterval    string `json:"probeInterval"`
	MaxDelay         string `json:"maxDelay"`
}

func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %q as JSON: %w", absPath, err)
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.JournalPath = strings.TrimSpace(cfg.JournalPath)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)

	switch cfg.Transport {
	case "", "sse", "ws":
	default:
		return Config{}, fmt.Errorf("unknown transport %q (want sse or ws)", cfg.Transport)
	}
	return cfg, nil
}

// Duration resolves one of the duration-valued fields, falling back when the
// field is empty or unparsable.
func Duration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
