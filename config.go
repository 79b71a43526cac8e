package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the call replay analyzer.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Prefilter PrefilterConfig `yaml:"prefilter"`
	Store     StoreConfig     `yaml:"store"`
	Logger    LoggerConfig    `yaml:"logger"`
}

type ServerConfig struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

type LLMConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int64   `yaml:"max_output_tokens"`
	MaxRetries      int     `yaml:"max_retries"`
	RetryDelay      string  `yaml:"retry_delay"`
}

type PipelineConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type PrefilterConfig struct {
	ShortAnswerThreshold int `yaml:"short_answer_threshold"`
}

type StoreConfig struct {
	Type   string       `yaml:"type"`
	JSON   JSONStoreCfg `yaml:"json"`
	SQLite SQLiteCfg    `yaml:"sqlite"`
}

type JSONStoreCfg struct {
	Dir string `yaml:"dir"`
}

type SQLiteCfg struct {
	Path string `yaml:"path"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads and parses the config file, expanding environment variables.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand ${ENV_VAR} references
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxOutputTokens == 0 {
		c.LLM.MaxOutputTokens = 2000
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryDelay == "" {
		c.LLM.RetryDelay = "1s"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 64
	}
	if c.Prefilter.ShortAnswerThreshold == 0 {
		c.Prefilter.ShortAnswerThreshold = 10
	}
	if c.Store.Type == "" {
		c.Store.Type = "json"
	}
	if c.Store.JSON.Dir == "" {
		c.Store.JSON.Dir = "./data"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "./data/analyzer.db"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
}

// ParseDuration parses a duration string, returning a fallback on error.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
