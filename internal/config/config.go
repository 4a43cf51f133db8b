// Package config loads the TOML configuration from the refrab config
// directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full application configuration, stored as TOML in
// ~/.refrab/config.toml.
type Config struct {
	DataDir  string   `toml:"data_dir"`
	Zotero   Zotero   `toml:"zotero"`
	Ollama   Ollama   `toml:"ollama"`
	Mathpix  Mathpix  `toml:"mathpix"`
	Pipeline Pipeline `toml:"pipeline"`
	Search   Search   `toml:"search"`
}

// Zotero holds the reference-manager credentials.
type Zotero struct {
	UserID string `toml:"user_id"`
	APIKey string `toml:"api_key"`
}

// Ollama holds the local inference endpoint settings.
type Ollama struct {
	BaseURL        string `toml:"base_url"`
	EmbeddingModel string `toml:"embedding_model"`
	LLMModel       string `toml:"llm_model"`
}

// Mathpix holds the math OCR credentials. Optional; without them
// scientific documents fall back to the general OCR engine.
type Mathpix struct {
	AppID  string `toml:"app_id"`
	AppKey string `toml:"app_key"`
}

// Pipeline tunes the processing run.
type Pipeline struct {
	ConvertWorkers int `toml:"convert_workers"`
}

// Search tunes retrieval.
type Search struct {
	HybridWeight float64 `toml:"hybrid_weight"`
}

// DefaultDir returns the refrab config directory.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".refrab"), nil
}

// Load reads the configuration from configDir. If configDir is empty,
// ~/.refrab is used. A missing file yields an empty config so commands
// that need no credentials still work.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	var cfg Config
	path := filepath.Join(configDir, "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// RequireZotero validates that the library credentials are present.
func (c *Config) RequireZotero() error {
	if c.Zotero.UserID == "" || c.Zotero.APIKey == "" {
		return fmt.Errorf("zotero.user_id and zotero.api_key must be set in config.toml")
	}
	return nil
}

// HasMathpix reports whether math OCR credentials are configured.
func (c *Config) HasMathpix() bool {
	return c.Mathpix.AppID != "" && c.Mathpix.AppKey != ""
}
