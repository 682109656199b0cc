package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWithConfig_SeedsDatabase(t *testing.T) {
	t.Setenv("MINDSTRIKE_HOME", t.TempDir())

	modelsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(modelsDir, "alpha.gguf"), make([]byte, 1024), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Models.Dir = modelsDir
	cfg.Worker.Exe = "/bin/true" // never spawned, Serve is not called

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}

	row, err := d.DB.GetModel("alpha")
	if err != nil {
		t.Fatalf("GetModel() error: %v", err)
	}
	if row == nil {
		t.Fatal("on-disk model should be seeded into the catalog table")
	}
	if row.Filename != "alpha.gguf" {
		t.Errorf("Filename = %q, want alpha.gguf", row.Filename)
	}

	installID, err := d.DB.GetDaemonInfo("install_id")
	if err != nil {
		t.Fatalf("GetDaemonInfo() error: %v", err)
	}
	if installID == "" {
		t.Fatal("install_id should be generated on first start")
	}
	d.Close()

	// A second start reuses the identity instead of minting a new one.
	d2, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() second start error: %v", err)
	}
	defer d2.Close()

	again, err := d2.DB.GetDaemonInfo("install_id")
	if err != nil {
		t.Fatalf("GetDaemonInfo() error: %v", err)
	}
	if again != installID {
		t.Errorf("install_id = %q after restart, want %q", again, installID)
	}
}
