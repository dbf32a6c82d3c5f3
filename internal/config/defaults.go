package config

// DefaultConfig returns the engine's built-in default configuration
// (spec §6 table "default" column).
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentTasks: 8,
		DefaultTimeoutMs:   300_000,
		DefaultMaxRetries:  3,

		SchedulingStrategy: StrategyHybrid,
		SelectionPolicy:    SelectionStrictPriority,

		StarvationMode:       StarvationAdaptive,
		MaxStarvationTimeMs:  300_000,
		MaxPriorityBoost:     500,
		AdjustmentIntervalMs: 30_000,

		CycleResolutionPolicy: CycleResolutionStrict,

		EnableAutonomousBreakdown: false,
		BreakdownThreshold:        0.7,
		MaxBreakdownDepth:         3,

		OptimizationIntervalMs:    60_000,
		AdaptiveParameterTuningMs: 300_000,

		AutoSaveIntervalMs: 30_000,
		MaxBackups:         10,
		StorageDir:         ".taskforge",

		ResourcePools: map[string]int{},
	}
}
