// Package config provides the configuration structure for the speech scheduler.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                  string `toml:"url"`
	SynthesizeSubject    string `toml:"synthesize_subject"`
	VoiceCommandSubject  string `toml:"voice_command_subject"`
	QueueCommandSubject  string `toml:"queue_command_subject"`
	StatusSubject        string `toml:"status_subject"`
	ArtifactBucket       string `toml:"artifact_bucket"`
	VoiceProfileBucket   string `toml:"voice_profile_bucket"`
	RequestTimeoutSecond int    `toml:"request_timeout_seconds"`
}

// CacheConfig bounds the artifact cache.
type CacheConfig struct {
	MaxEntries int   `toml:"max_entries"`
	MaxBytes   int64 `toml:"max_bytes"`
}

// VoicesConfig holds the voice profile registry policy.
type VoicesConfig struct {
	MaxBackups     int    `toml:"max_backups"`
	MinSampleBytes int    `toml:"min_sample_bytes"`
	MaxSampleBytes int    `toml:"max_sample_bytes"`
	DefaultVoice   string `toml:"default_voice"`
	DefaultEngine  string `toml:"default_engine"`
}

// OpenAIConfig holds the settings for the cloud engine.
type OpenAIConfig struct {
	APIKey  string            `toml:"api_key"`
	Model   string            `toml:"model"`
	Aliases map[string]string `toml:"aliases"`
}

// ChatLLMConfig holds the settings for the local engine.
type ChatLLMConfig struct {
	Binary        string            `toml:"binary"`
	ModelPath     string            `toml:"model_path"`
	SnacModelPath string            `toml:"snac_model_path"`
	Device        string            `toml:"device"`
	NGL           int               `toml:"ngl"`
	Aliases       map[string]string `toml:"aliases"`
}

// EnginesConfig groups both synthesis backends.
type EnginesConfig struct {
	OpenAI  OpenAIConfig  `toml:"openai"`
	ChatLLM ChatLLMConfig `toml:"chatllm"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig    `toml:"nats"`
	Cache   CacheConfig   `toml:"cache"`
	Voices  VoicesConfig  `toml:"voices"`
	Engines EnginesConfig `toml:"engines"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the speech scheduler.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
