// Command taskforged runs the taskforge engine (spec §6 Core API) as a
// standalone process: configuration is loaded from the conventional
// global/project JSON files plus TASKFORGE_-prefixed environment
// overrides (internal/config.LoadDefault), a shell Runner is registered
// so submitted tasks can be dispatched without an embedding application,
// and the engine runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	engine "github.com/taskforge/engine"
	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/runner"
)

var (
	globalConfigPath  string
	projectConfigPath string
	logLevel          string

	rootCmd = &cobra.Command{
		Use:   "taskforged",
		Short: "An autonomous task-queue scheduler with adaptive priority and runtime breakdown.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Load configuration and run the engine until interrupted.",
		RunE:  runEngine,
	}

	validateCmd = &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate configuration, then exit.",
		RunE:  validateConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "global-config", "", "path to the global config.json (if neither config flag is set: ~/.taskforge/config.json)")
	rootCmd.PersistentFlags().StringVar(&projectConfigPath, "project-config", "", "path to the project config.json (if neither config flag is set: .taskforge/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", `log level: "debug", "info", "warn", or "error"`)
	_ = viper.BindPFlag("globalConfig", rootCmd.PersistentFlags().Lookup("global-config"))
	_ = viper.BindPFlag("projectConfig", rootCmd.PersistentFlags().Lookup("project-config"))

	rootCmd.AddCommand(runCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if globalConfigPath != "" || projectConfigPath != "" {
		return config.Load(globalConfigPath, projectConfigPath)
	}
	return config.LoadDefault()
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	fmt.Fprintf(cmd.OutOrStdout(), "storageDir=%s maxConcurrentTasks=%d schedulingStrategy=%s\n",
		cfg.StorageDir, cfg.MaxConcurrentTasks, cfg.SchedulingStrategy)
	return nil
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := newLogger()

	e := engine.New(cfg, "", log)

	procs := runner.NewProcessManager()
	e.RegisterRunner("shell", runner.NewShellRunner(procs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	log.Info().Msg("taskforged running, press ctrl-c to stop")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	if err := procs.KillAll(); err != nil {
		log.Warn().Err(err).Msg("failed to kill all tracked child processes")
	}
	return e.Close()
}
