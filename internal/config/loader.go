package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads and merges configuration from global and project paths, then
// applies TASKFORGE_-prefixed environment overrides on top.
// Order of precedence (highest to lowest): env vars, project config,
// global config, defaults. Missing files are not errors; malformed JSON
// returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskforge/config.json
// Project: .taskforge/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskforge", "config.json")
	projectPath := filepath.Join(".taskforge", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges every key present
// in it (zero values included) into base by round-tripping through a
// generic map (teacher's
// mergeConfigFile pattern, generalized from per-key-map merges to a
// whole-struct shallow merge).
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(baseJSON, &merged); err != nil {
		return err
	}
	for key, value := range raw {
		merged[key] = value
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(mergedJSON, base)
}

// applyEnvOverrides layers TASKFORGE_-prefixed environment variables over
// cfg using viper's env-binding, the highest-precedence layer (spec §6).
// Each field is bound and typed individually rather than round-tripped
// through AllSettings, since viper returns env values as strings and a
// blind JSON round-trip would fail to unmarshal "32" into an int field.
func applyEnvOverrides(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix("TASKFORGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	intFields := map[string]*int{
		"maxConcurrentTasks":        &cfg.MaxConcurrentTasks,
		"defaultTimeoutMs":          &cfg.DefaultTimeoutMs,
		"maxRetries":                &cfg.DefaultMaxRetries,
		"maxStarvationTimeMs":       &cfg.MaxStarvationTimeMs,
		"maxPriorityBoost":          &cfg.MaxPriorityBoost,
		"adjustmentIntervalMs":      &cfg.AdjustmentIntervalMs,
		"maxBreakdownDepth":         &cfg.MaxBreakdownDepth,
		"optimizationIntervalMs":    &cfg.OptimizationIntervalMs,
		"adaptiveParameterTuningMs": &cfg.AdaptiveParameterTuningMs,
		"autoSaveIntervalMs":        &cfg.AutoSaveIntervalMs,
		"maxBackups":                &cfg.MaxBackups,
	}
	stringFields := map[string]*string{
		"storageDir": &cfg.StorageDir,
	}
	boolFields := map[string]*bool{
		"enableAutonomousBreakdown": &cfg.EnableAutonomousBreakdown,
	}
	floatFields := map[string]*float64{
		"breakdownThreshold": &cfg.BreakdownThreshold,
	}

	for key := range intFields {
		_ = v.BindEnv(key)
	}
	for key := range stringFields {
		_ = v.BindEnv(key)
	}
	for key := range boolFields {
		_ = v.BindEnv(key)
	}
	for key := range floatFields {
		_ = v.BindEnv(key)
	}
	_ = v.BindEnv("schedulingStrategy")
	_ = v.BindEnv("selectionPolicy")
	_ = v.BindEnv("starvationMode")
	_ = v.BindEnv("cycleResolutionPolicy")

	for key, dst := range intFields {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	for key, dst := range stringFields {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	for key, dst := range boolFields {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	for key, dst := range floatFields {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}
	if v.IsSet("schedulingStrategy") {
		cfg.SchedulingStrategy = SchedulingStrategy(v.GetString("schedulingStrategy"))
	}
	if v.IsSet("selectionPolicy") {
		cfg.SelectionPolicy = SelectionPolicy(v.GetString("selectionPolicy"))
	}
	if v.IsSet("cycleResolutionPolicy") {
		cfg.CycleResolutionPolicy = CycleResolutionPolicy(v.GetString("cycleResolutionPolicy"))
	}
	if v.IsSet("starvationMode") {
		cfg.StarvationMode = StarvationMode(v.GetString("starvationMode"))
	}
	return nil
}
