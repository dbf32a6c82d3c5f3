package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReturnsDefaultsWhenNoFiles(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxConcurrentTasks != 8 {
		t.Errorf("maxConcurrentTasks = %d, want 8", cfg.MaxConcurrentTasks)
	}
	if cfg.SchedulingStrategy != StrategyHybrid {
		t.Errorf("schedulingStrategy = %q, want %q", cfg.SchedulingStrategy, StrategyHybrid)
	}
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	writeJSON(t, globalPath, map[string]any{"maxConcurrentTasks": 4})

	projectPath := filepath.Join(tmpDir, "project.json")
	writeJSON(t, projectPath, map[string]any{"maxConcurrentTasks": 16})

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxConcurrentTasks != 16 {
		t.Errorf("maxConcurrentTasks = %d, want 16 (project should win)", cfg.MaxConcurrentTasks)
	}
}

func TestLoadGlobalOnlyMergesOntoDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := filepath.Join(tmpDir, "global.json")
	writeJSON(t, globalPath, map[string]any{"maxBackups": 25})

	cfg, err := Load(globalPath, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxBackups != 25 {
		t.Errorf("maxBackups = %d, want 25", cfg.MaxBackups)
	}
	if cfg.MaxConcurrentTasks != 8 {
		t.Errorf("maxConcurrentTasks = %d, want default 8 untouched", cfg.MaxConcurrentTasks)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := filepath.Join(tmpDir, "global.json")
	if err := os.WriteFile(globalPath, []byte("{invalid json"), 0o644); err != nil {
		t.Fatalf("writing malformed config: %v", err)
	}

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestLoadMissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}
	if cfg.StorageDir != ".taskforge" {
		t.Errorf("storageDir = %q, want default", cfg.StorageDir)
	}
}

func TestLoadEnvOverrideWinsOverFiles(t *testing.T) {
	tmpDir := t.TempDir()
	projectPath := filepath.Join(tmpDir, "project.json")
	writeJSON(t, projectPath, map[string]any{"maxConcurrentTasks": 16})

	t.Setenv("TASKFORGE_MAXCONCURRENTTASKS", "32")

	cfg, err := Load("", projectPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxConcurrentTasks != 32 {
		t.Errorf("maxConcurrentTasks = %d, want 32 (env should win)", cfg.MaxConcurrentTasks)
	}
}

func TestLoadRejectsInvalidEnumValue(t *testing.T) {
	tmpDir := t.TempDir()
	projectPath := filepath.Join(tmpDir, "project.json")
	writeJSON(t, projectPath, map[string]any{"schedulingStrategy": "not-a-real-strategy"})

	_, err := Load("", projectPath)
	if err == nil {
		t.Fatal("expected validation error for bad schedulingStrategy, got nil")
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
