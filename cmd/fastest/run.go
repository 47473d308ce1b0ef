package main

import (
	"context"
	"fmt"

	"github.com/flanksource/clicky"
	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"

	"github.com/fastest-run/fastest"
	"github.com/fastest-run/fastest/internal/config"
	"github.com/fastest-run/fastest/internal/strategy"
	"github.com/fastest-run/fastest/shutdown"
)

var (
	markExpr      string
	failFast      bool
	noCache       bool
	cachePath     string
	workerCommand []string
	workerCount   int
)

var runCmd = &cobra.Command{
	Use:          "run [paths...]",
	Short:        "Discover and run pytest-compatible tests",
	SilenceUsage: true,
	RunE:         runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	wd, err := getWorkingDir()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	fileCfg, err := config.Discover(wd)
	if err != nil {
		logger.Warnf("fastest: ignoring unreadable %s: %v", config.FileName, err)
		fileCfg = nil
	}

	flagCfg := config.Config{
		Paths:         args,
		MarkExpr:      markExpr,
		FailFast:      failFast,
		NoCache:       noCache,
		CachePath:     cachePath,
		WorkerCommand: workerCommand,
		Workers:       workerCount,
	}
	merged := config.Merge(fileCfg, flagCfg)

	paths := merged.Paths
	if len(paths) == 0 {
		paths = []string{wd}
	}

	go shutdown.WaitForSignal()

	coordinator := fastest.New(fastest.RunOptions{
		Paths:         paths,
		MarkExpr:      merged.MarkExpr,
		FailFast:      merged.FailFast,
		NoCache:       merged.NoCache,
		CachePath:     merged.CachePath,
		WorkerCommand: merged.WorkerCommand,
		Workers:       merged.Workers,
		Thresholds: strategy.Thresholds{
			InProcessMax: merged.Thresholds.InProcessMax,
			BatchedMax:   merged.Thresholds.BatchedMax,
		},
	}, nil, nil)

	outcome, code, err := coordinator.Run(context.Background())
	exitCode = code
	if err != nil {
		return err
	}

	fmt.Println(clicky.MustFormat(outcome))
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&markExpr, "mark", "m", "", "Only run tests matching the given mark expression")
	runCmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop dispatching new batches after the first failure")
	runCmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the discovery cache")
	runCmd.Flags().StringVar(&cachePath, "cache-path", "", "Override the discovery cache location")
	runCmd.Flags().StringSliceVar(&workerCommand, "worker-command", nil, "Argv used to launch each worker subprocess")
	runCmd.Flags().IntVar(&workerCount, "workers", 0, "Worker pool size (0 selects a CPU-based default)")
}
