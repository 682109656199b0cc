package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 11434 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 11434)
	}
	if cfg.Inference.GPULayers != -1 {
		t.Errorf("Inference.GPULayers = %d, want -1 (auto)", cfg.Inference.GPULayers)
	}
	if cfg.Models.Dir == "" {
		t.Error("Models.Dir should have a default")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("MINDSTRIKE_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 11434 {
		t.Errorf("Port = %d, want default 11434", cfg.API.Port)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MINDSTRIKE_HOME", home)

	toml := "[api]\nhost = \"0.0.0.0\"\nport = 8080\n\n[models]\ndir = \"/tmp/models\"\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(toml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.API.Host)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Models.Dir != "/tmp/models" {
		t.Errorf("Models.Dir = %q, want /tmp/models", cfg.Models.Dir)
	}
	if cfg.Inference.Threads < 1 {
		t.Errorf("Threads = %d, want >= 1 after auto-detection", cfg.Inference.Threads)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("MINDSTRIKE_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 9999
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.API.Port != 9999 {
		t.Errorf("Port = %d, want 9999", loaded.API.Port)
	}
}
