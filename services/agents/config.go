package agents

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig tunes one pipeline stage. Zero fields fall back to the
// backend's defaults.
type AgentConfig struct {
	Model       string   `yaml:"model"`
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"top_p"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

// RunnerConfig is the full agents.yaml document.
type RunnerConfig struct {
	// Extraction tunes the parallel per-unit extraction agents.
	Extraction AgentConfig `yaml:"extraction"`

	// Generation tunes the aggregate report generator.
	Generation AgentConfig `yaml:"generation"`

	// Validation tunes the report validator.
	Validation AgentConfig `yaml:"validation"`

	// MaxDocumentChars caps how much of the source document is handed to
	// each agent after chunking. Default: 60000.
	MaxDocumentChars int `yaml:"max_document_chars"`

	// ChunkSize and ChunkOverlap drive the recursive text splitter.
	// Defaults: 4000 / 200.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// RequestsPerMinute rate-limits outbound LLM calls across all stages
	// of a run. Default: 60. Set to 0 to disable limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DefaultRunnerConfig returns the built-in tuning used when no agents.yaml
// is provided.
func DefaultRunnerConfig() RunnerConfig {
	cfg := RunnerConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *RunnerConfig) applyDefaults() {
	if c.MaxDocumentChars <= 0 {
		c.MaxDocumentChars = 60000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4000
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 200
	}
	if c.RequestsPerMinute == 0 {
		// Unset. An explicit requests_per_minute: -1 disables limiting.
		c.RequestsPerMinute = 60
	}
}

// LoadRunnerConfig reads agents.yaml from path. A missing file is not an
// error: the defaults are returned so the service can run unconfigured.
func LoadRunnerConfig(path string) (RunnerConfig, error) {
	if path == "" {
		return DefaultRunnerConfig(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Warn("Agents config not found, using defaults", "path", path)
		return DefaultRunnerConfig(), nil
	}
	if err != nil {
		return RunnerConfig{}, fmt.Errorf("read agents config %s: %w", path, err)
	}

	var cfg RunnerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunnerConfig{}, fmt.Errorf("parse agents config %s: %w", path, err)
	}
	cfg.applyDefaults()
	slog.Info("Loaded agents config", "path", path)
	return cfg, nil
}

// params converts the stage tuning into generation parameters.
func (a AgentConfig) params() GenerationParams {
	return GenerationParams{
		Model:       a.Model,
		Temperature: a.Temperature,
		TopP:        a.TopP,
		MaxTokens:   a.MaxTokens,
	}
}

// rateInterval converts requests-per-minute into a limiter interval.
func (c RunnerConfig) rateInterval() time.Duration {
	if c.RequestsPerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.RequestsPerMinute)
}
