package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Control.DefaultBackend != "codex" {
		t.Errorf("DefaultBackend = %q, want codex", cfg.Control.DefaultBackend)
	}
	if cfg.Memory.Provider != "local" {
		t.Errorf("Memory.Provider = %q, want local", cfg.Memory.Provider)
	}
	if cfg.PromptInject.MaxInject != 3 {
		t.Errorf("PromptInject.MaxInject = %d, want 3", cfg.PromptInject.MaxInject)
	}
	if cfg.StateManagement.Enabled {
		t.Error("StateManagement.Enabled = true by default, want false")
	}
}

func TestLoadNoFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(oldWD)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", filepath.Join(dir, "home"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.DefaultBackend != "codex" {
		t.Errorf("DefaultBackend = %q, want codex (default)", cfg.Control.DefaultBackend)
	}
}

func TestLoadFromWorkingDirConfig(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(oldWD)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", filepath.Join(dir, "home"))

	toml := `
[control]
project_id = "proj-1"
default_backend = "claude"
max_concurrent = 8

[memory]
provider = "hybrid"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", cfg.Control.ProjectID)
	}
	if cfg.Control.DefaultBackend != "claude" {
		t.Errorf("DefaultBackend = %q, want claude", cfg.Control.DefaultBackend)
	}
	if cfg.Control.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", cfg.Control.MaxConcurrent)
	}
	if cfg.Memory.Provider != "hybrid" {
		t.Errorf("Memory.Provider = %q, want hybrid", cfg.Memory.Provider)
	}
	// unset sections keep their defaults
	if cfg.PromptInject.MaxInject != 3 {
		t.Errorf("PromptInject.MaxInject = %d, want 3 (default preserved)", cfg.PromptInject.MaxInject)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(oldWD)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", filepath.Join(dir, "home"))

	toml := `
[control]
project_id = "from-file"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEM_CODECLI_PROJECT_ID", "from-env")
	t.Setenv("MEM_CODECLI_MEMORY_URL", "https://memory.example.com")
	t.Setenv("MEMEX_ENABLE_STATE_MGMT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.ProjectID != "from-env" {
		t.Errorf("ProjectID = %q, want from-env (env should win)", cfg.Control.ProjectID)
	}
	if cfg.Memory.ServiceURL != "https://memory.example.com" {
		t.Errorf("Memory.ServiceURL = %q, want https://memory.example.com", cfg.Memory.ServiceURL)
	}
	if !cfg.StateManagement.Enabled {
		t.Error("StateManagement.Enabled = false, want true (env override)")
	}
}

func TestSaveWritesNonEmptyConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := Default()
	cfg.Control.ProjectID = "roundtrip"
	cfg.Memory.SyncInterval = 10 * time.Minute

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := Default()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("saved config missing: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("saved config is empty")
	}
	_ = loaded // decoding is exercised via Load in other tests; here we only check the file exists and is non-empty
}

func TestToMapRedactsNothingByItself(t *testing.T) {
	cfg := Default()
	cfg.Memory.ServiceAPIKey = "sk-abcdef1234"

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	mem, ok := m["memory"].(map[string]any)
	if !ok {
		t.Fatalf("ToMap missing memory section: %#v", m)
	}
	if mem["service_api_key"] != "sk-abcdef1234" {
		t.Errorf("service_api_key = %v, want sk-abcdef1234 (ToMap itself does not redact)", mem["service_api_key"])
	}
}
