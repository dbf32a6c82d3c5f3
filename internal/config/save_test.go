package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 12

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("config file was not created: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("config file contains invalid JSON: %v", err)
	}
	if loaded.MaxConcurrentTasks != 12 {
		t.Errorf("maxConcurrentTasks = %d, want 12", loaded.MaxConcurrentTasks)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("config file was not created: %s", path)
	}
	parentDir := filepath.Dir(path)
	if _, err := os.Stat(parentDir); os.IsNotExist(err) {
		t.Fatalf("parent directory was not created: %s", parentDir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.ResourcePools = map[string]int{"db": 4, "gpu": 1}
	cfg.StarvationMode = StarvationQuota

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ResourcePools["db"] != 4 {
		t.Errorf("resourcePools[db] = %d, want 4", loaded.ResourcePools["db"])
	}
	if loaded.StarvationMode != StarvationQuota {
		t.Errorf("starvationMode = %q, want %q", loaded.StarvationMode, StarvationQuota)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg1 := DefaultConfig()
	cfg1.MaxBackups = 3
	if err := Save(cfg1, path); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	cfg2 := DefaultConfig()
	cfg2.MaxBackups = 99
	if err := Save(cfg2, path); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if loaded.MaxBackups != 99 {
		t.Errorf("maxBackups = %d, want 99", loaded.MaxBackups)
	}
}
