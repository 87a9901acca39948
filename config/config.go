// Package config defines the YAML configuration for the server and its
// retrieval pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const FileName = "ragserve.yaml"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Retrieve RetrieveConfig `yaml:"retrieve"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Model    ModelConfig    `yaml:"model"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"`
	WebRoot        string `yaml:"web_root"`
	ReadTimeoutSec int    `yaml:"read_timeout_sec"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type StoreConfig struct {
	DBPath     string `yaml:"db_path"`
	EmbedDim   int    `yaml:"embed_dim"`
	ChunkChars int    `yaml:"chunk_chars"`
}

type RetrieveConfig struct {
	Enabled        bool `yaml:"enabled"`
	TopK           int  `yaml:"top_k"`
	NeighborChunks int  `yaml:"neighbor_chunks"`
	ChunkMaxChars  int  `yaml:"chunk_max_chars"`
}

type IngestConfig struct {
	DataDir         string   `yaml:"data_dir"`
	UploadsDir      string   `yaml:"uploads_dir"`
	SeedPath        string   `yaml:"seed_path"`
	SeedStatePath   string   `yaml:"seed_state_path"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExportPDFText   bool     `yaml:"export_pdf_text"`
	PDFTextDir      string   `yaml:"pdf_text_dir"`
}

type ModelConfig struct {
	Provider       string  `yaml:"provider"`
	Name           string  `yaml:"name"`
	BaseURL        string  `yaml:"base_url"`
	MaxNewTokens   int     `yaml:"max_new_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TopP           float64 `yaml:"top_p"`
	TopK           int     `yaml:"top_k"`
	EnableThinking bool    `yaml:"enable_thinking"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeoutSec: 120,
			MaxBodyBytes:   256 << 20,
		},
		Store: StoreConfig{
			DBPath:     "data/rag.db",
			EmbedDim:   256,
			ChunkChars: 512,
		},
		Retrieve: RetrieveConfig{
			Enabled:        true,
			TopK:           4,
			NeighborChunks: 1,
			ChunkMaxChars:  2000,
		},
		Ingest: IngestConfig{
			DataDir:       "data",
			UploadsDir:    "data/uploads",
			SeedStatePath: "data/seed.db",
			ExportPDFText: false,
			PDFTextDir:    "data/pdf_txt",
		},
		Model: ModelConfig{
			Provider:       "ollama",
			Name:           "qwen3:4b",
			BaseURL:        "http://localhost:11434",
			MaxNewTokens:   512,
			Temperature:    0.7,
			TopP:           0.9,
			TopK:           40,
			EnableThinking: false,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a config file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromDir looks for the config file in dir, falling back to defaults
// when none exists.
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
