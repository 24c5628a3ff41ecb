package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kodaed/lop/internal/config"
	"github.com/kodaed/lop/internal/corpus"
	"github.com/kodaed/lop/internal/coverage"
	"github.com/kodaed/lop/internal/engine"
	"github.com/kodaed/lop/internal/forkserver"
	"github.com/kodaed/lop/internal/logger"
)

// NewFuzzCommand creates the "fuzz" subcommand.
func NewFuzzCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Start the main fuzzing loop.",
		Long: `Start the main fuzzing loop for the configured target.

This command:
  1. Loads config.yaml (or the path given by --config)
  2. Dry-runs every file in the seeds folder once, aborting the session
     on any crash or timeout
  3. Repeatedly selects a seed, mutates it, and executes the target,
     recording new corpus entries and crashes as they're found

The loop runs until interrupted with SIGINT, at which point it exits
cleanly with status 0.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the fuzzer config file")

	return cmd
}

func runFuzz(configPath string) error {
	valid, cfg := config.Load(configPath)
	if !valid {
		return fmt.Errorf("invalid configuration at %s", configPath)
	}

	logger.Init(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogLevel, cfg.LogDir); err != nil {
			logger.Warn("failed to open log file in %s: %v", cfg.LogDir, err)
		}
		defer logger.Close()
	}
	logger.Info("target: %s %v", cfg.Target, cfg.TargetArgs)

	covMap, shmID, err := coverage.NewSharedMap()
	if err != nil {
		return fmt.Errorf("allocate coverage map: %w", err)
	}
	defer covMap.Close()

	// File-argument mode: a literal "@@" in target_args stands for the
	// scratch input file the fuzzer rewrites before every execution.
	args := make([]string, len(cfg.TargetArgs))
	for i, a := range cfg.TargetArgs {
		if a == "@@" {
			a = cfg.CurrentInput
		}
		args[i] = a
	}

	channel, err := forkserver.Start(cfg.Target, args, coverage.ShmEnvVar, shmID)
	if err != nil {
		return fmt.Errorf("start fork-server: %w", err)
	}
	defer channel.Close()

	store := corpus.New(cfg.SeedsFolder, cfg.QueueFolder, cfg.CrashesFolder)
	if err := store.Initialize(); err != nil {
		return fmt.Errorf("initialize corpus: %w", err)
	}
	initial, err := store.SeedInitialCorpus()
	if err != nil {
		return fmt.Errorf("seed initial corpus: %w", err)
	}
	if len(initial) == 0 {
		return fmt.Errorf("no files found in seeds folder %s", cfg.SeedsFolder)
	}

	eng := engine.New(engine.Config{
		CurrentInputPath: cfg.CurrentInput,
		Timeout:          time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}, store, channel, covMap)

	if err := eng.DryRun(initial); err != nil {
		return fmt.Errorf("dry run: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("fuzzing loop: %w", err)
	}
	eng.Summary()
	return nil
}
