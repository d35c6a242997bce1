package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ptzexplore/internal/config"
	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/retry"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Run explorations repeatedly",
	Long: `Run explorations back to back, pausing explore.interval between runs.

A failed run is logged and the loop moves on to the next one, unless the
failure is an invalid configuration or missing data directories; those
stop the loop. Changes to
the config file are picked up before the next run; lock, telemetry and
tracing settings need a restart.`,
	RunE: runLoop,
}

var (
	loopInterval time.Duration
	loopMaxRuns  int
)

func init() {
	rootCmd.AddCommand(loopCmd)
	addRunFlags(loopCmd)
	loopCmd.Flags().DurationVar(&loopInterval, "interval", 0, "pause between runs (overrides explore.interval)")
	loopCmd.Flags().IntVar(&loopMaxRuns, "max-runs", 0, "stop after this many runs (0 runs until interrupted)")
}

func runLoop(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if cmd.Flags().Changed("interval") {
		viper.Set("explore.interval", loopInterval)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	s, err := a.newStack(ctx)
	if err != nil {
		return err
	}

	watcher := config.Watch(viper.GetViper(), a.cfg, func(cfg *config.Config) {
		a.logger.Info("configuration reloaded", "iterations", cfg.Explore.Iterations, "movements", cfg.Explore.Movements)
	})

	out := cmd.OutOrStdout()
	var failures int
	for n := 1; loopMaxRuns == 0 || n <= loopMaxRuns; n++ {
		cfg := watcher.Current()
		res, err := s.runOnce(ctx, a, cfg)
		printResult(out, res, err)
		if err != nil {
			failures++
			if !continueAfter(err) {
				a.logger.Error("loop stopped", "run", n, "severity", errors.GetSeverity(err).String(), "error", err)
				break
			}
			a.logger.Error("run failed", "run", n, "retryable", errors.IsRetryable(err), "error", err)
		}
		if ctx.Err() != nil {
			break
		}
		if loopMaxRuns > 0 && n == loopMaxRuns {
			break
		}
		if err := retry.Sleep(ctx, cfg.Explore.Interval); err != nil {
			break
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d run(s) failed", failures)
	}
	return nil
}

// continueAfter reports whether the loop moves on after a failed run.
// Invalid input and unmet preconditions fail every following run too.
func continueAfter(err error) bool {
	if errors.IsRetryable(err) {
		return true
	}
	return !errors.Is(err, errors.ErrInvalidInput) && !errors.Is(err, errors.ErrPrecondition)
}
