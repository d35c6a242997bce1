package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/locker"
	"github.com/Iron-Ham/ptzexplore/internal/progress"
	"github.com/Iron-Ham/ptzexplore/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of progress and lock holders",
	RunE:  runWatch,
}

var watchInterval time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "refresh interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("watch needs a terminal; use 'ptzexplore status' instead")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	tr, err := a.openProgress()
	if err != nil {
		return err
	}
	var l *locker.Locker
	if a.cfg.Lock.Enabled {
		l = a.newLocker()
	}
	return tui.Run(watchSource(tr, l), watchInterval)
}

// watchSource polls the progress database and, when given, the lock slots.
func watchSource(tr *progress.Tracker, l *locker.Locker) tui.SourceFunc {
	return func(ctx context.Context) tui.Snapshot {
		snap := tui.Snapshot{At: time.Now()}
		var errs []error
		rows, err := tr.List(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		snap.Progress = rows
		if l != nil {
			slots, err := l.Slots(ctx)
			if err != nil {
				errs = append(errs, err)
			}
			snap.Slots = slots
		}
		snap.Err = errors.Join(errs...)
		return snap
	}
}
