// Package config loads and persists engine settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "Streamcast"
	AppDescription = "Progressive network-audio streaming player"

	ConfigDir      = ".config/streamcast"
	ConfigFileName = "config.yml"

	DefaultVolume        = 0.7
	MinVolume            = 0.0
	MaxVolume            = 1.0
	DefaultBufferSeconds = 2
	DefaultGrainBytes    = 4096
	DefaultMaxRetries    = 3
	DefaultTimeoutSecs   = 10
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/avoronov/streamcast/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// ClampVolume ensures volume is within the valid range [0, 1].
func ClampVolume(volume float64) float64 {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// Config holds the persisted engine settings.
type Config struct {
	Volume float64 `yaml:"volume"`
	// BufferSeconds sizes the PCM ring buffer.
	BufferSeconds int `yaml:"buffer_seconds"`
	// GrainBytes is the PCM block size pushed to the device per cycle.
	GrainBytes int `yaml:"grain_bytes"`
	// ConnectTimeoutSeconds bounds the open-time network handshake.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	// MaxRetries bounds open-time reconnect attempts.
	MaxRetries int    `yaml:"max_retries"`
	LastSource string `yaml:"last_source"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Volume = ClampVolume(cfg.Volume)
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = DefaultBufferSeconds
	}
	if cfg.GrainBytes <= 0 {
		cfg.GrainBytes = DefaultGrainBytes
	}

	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:                DefaultVolume,
		BufferSeconds:         DefaultBufferSeconds,
		GrainBytes:            DefaultGrainBytes,
		ConnectTimeoutSeconds: DefaultTimeoutSecs,
		MaxRetries:            DefaultMaxRetries,
	}
}
