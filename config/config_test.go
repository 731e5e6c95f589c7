package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Assemble.SuppressWarnings {
		t.Error("Expected SuppressWarnings=false")
	}
	if cfg.Assemble.SkipPreprocess {
		t.Error("Expected SkipPreprocess=false")
	}
	if cfg.Output.DefaultOut != "a.ko" {
		t.Errorf("Expected DefaultOut=a.ko, got %s", cfg.Output.DefaultOut)
	}
	if !cfg.Diagnostics.ColorOutput {
		t.Error("Expected ColorOutput=true")
	}
	if cfg.Diagnostics.MaxErrors != 0 {
		t.Errorf("Expected MaxErrors=0, got %d", cfg.Diagnostics.MaxErrors)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("KASM_CONFIG", "")
	path := GetConfigPath()

	if path == "" {
		t.Error("GetConfigPath returned empty string")
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("Expected path to end with config.toml, got %s", path)
	}
	if dir := filepath.Dir(path); filepath.Base(dir) != "kasm" && path != "config.toml" {
		t.Errorf("Expected path in a kasm directory or the fallback, got %s", path)
	}
}

func TestGetConfigPathEnvOverride(t *testing.T) {
	t.Setenv("KASM_CONFIG", "/tmp/custom-kasm.toml")
	if got := GetConfigPath(); got != "/tmp/custom-kasm.toml" {
		t.Errorf("Expected KASM_CONFIG to win, got %s", got)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.toml")

	cfg := DefaultConfig()
	cfg.Assemble.IncludeDirs = []string{"lib", "vendor/macros"}
	cfg.Assemble.SuppressWarnings = true
	cfg.Output.Comment = "built by ci"
	cfg.Diagnostics.ColorOutput = false

	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(loaded.Assemble.IncludeDirs) != 2 || loaded.Assemble.IncludeDirs[1] != "vendor/macros" {
		t.Errorf("Expected IncludeDirs to round-trip, got %v", loaded.Assemble.IncludeDirs)
	}
	if !loaded.Assemble.SuppressWarnings {
		t.Error("Expected SuppressWarnings=true")
	}
	if loaded.Output.Comment != "built by ci" {
		t.Errorf("Expected Comment=%q, got %q", "built by ci", loaded.Output.Comment)
	}
	if loaded.Diagnostics.ColorOutput {
		t.Error("Expected ColorOutput=false")
	}
}

func TestLoadNonExistent(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nonexistent.toml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom should not error on non-existent file: %v", err)
	}
	if cfg.Output.DefaultOut != "a.ko" {
		t.Error("Expected default config when file doesn't exist")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid.toml")

	invalidTOML := `
[assemble]
suppress_warnings = "not a bool"  # Invalid: should be bool
`
	if err := os.WriteFile(configPath, []byte(invalidTOML), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if _, err := LoadFrom(configPath); err == nil {
		t.Error("Expected error when loading invalid TOML")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "subdir1", "subdir2", "config.toml")

	cfg := DefaultConfig()
	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
	dir := filepath.Dir(configPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Error("Parent directories were not created")
	}
}

func TestMergeIncludeDirsDedupes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Assemble.IncludeDirs = []string{"lib", "shared"}

	got := cfg.Merge([]string{"shared", "extra"})
	want := []string{"lib", "shared", "extra"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
