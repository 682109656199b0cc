// Package daemon manages the controller process: configuration, worker
// supervision wiring, and the HTTP server lifecycle.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds all controller configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Models    ModelsConfig    `toml:"models"`
	Worker    WorkerConfig    `toml:"worker"`
	Inference InferenceConfig `toml:"inference"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// ModelsConfig controls model storage.
type ModelsConfig struct {
	Dir string `toml:"dir"`
}

// WorkerConfig controls how the inference worker is spawned.
type WorkerConfig struct {
	// Exe overrides the worker executable. Empty means re-exec the
	// current binary with the worker subcommand.
	Exe string `toml:"exe"`
}

// InferenceConfig supplies default load parameters. Zero values mean
// "let the planner decide".
type InferenceConfig struct {
	GPULayers     int `toml:"gpu_layers"`
	ContextLength int `toml:"context_length"`
	BatchSize     int `toml:"batch_size"`
	Threads       int `toml:"threads"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := Home()
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    11434,
			Metrics: true,
		},
		Models: ModelsConfig{
			Dir: filepath.Join(home, "models"),
		},
		Inference: InferenceConfig{
			GPULayers:     -1, // auto
			ContextLength: 0,  // planner decides
			BatchSize:     0,
			Threads:       0, // auto = runtime.NumCPU() - 2
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "mindstrike.log"),
		},
	}
}

// LoadConfig reads config from ~/.mindstrike/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(Home(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // no config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Inference.Threads == 0 {
		cfg.Inference.Threads = max(1, runtime.NumCPU()-2)
	}

	return cfg, nil
}

// SaveConfig writes the config to ~/.mindstrike/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(Home(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Home returns the data directory, ~/.mindstrike by default. The
// MINDSTRIKE_HOME environment variable overrides it (used by tests).
func Home() string {
	if env := os.Getenv("MINDSTRIKE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mindstrike")
}
