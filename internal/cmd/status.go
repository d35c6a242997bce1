package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/ptzexplore/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show exploration progress and lock holders",
	Long:  `Display runs and images per agent from the progress database, and the holder of every lock slot.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// terminalWidth returns the width of stdout, or tui.DefaultWidth when it
// is not a terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return tui.DefaultWidth
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	tr, err := a.openProgress()
	if err != nil {
		return err
	}
	rows, err := tr.List(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tui.Title.Render("Progress"))
	fmt.Fprintln(out, tui.RenderProgress(rows, time.Now()))

	if a.cfg.Lock.Enabled {
		slots, err := a.newLocker().Slots(cmd.Context())
		fmt.Fprintln(out)
		fmt.Fprintln(out, tui.Title.Render("Lock slots"))
		if err != nil {
			fmt.Fprintln(out, tui.Error.Render(fmt.Sprintf("unavailable: %v", err)))
			return nil
		}
		fmt.Fprintln(out, tui.RenderSlots(slots, terminalWidth()))
	}
	return nil
}
