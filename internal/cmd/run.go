package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ptzexplore/internal/device"
	"github.com/Iron-Ham/ptzexplore/internal/explore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform one exploration run",
	Long: `Perform one exploration run: pick an agent at random, load its models,
take the camera lock slot, explore for the configured number of iterations
and persist the result to the agent's ledger.

The exit status is non-zero when the run fails. Failed runs are never
retried.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

// addRunFlags registers the flags shared by run and loop.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("iterations", 0, "episodes per run (overrides explore.iterations)")
	cmd.Flags().Int("movements", 0, "commands per episode (overrides explore.movements)")
	cmd.Flags().Bool("simulate", false, "use the simulated camera")
	cmd.Flags().Bool("fresh", false, "start from an untrained model instead of checkpoints")
}

// applyRunFlags copies explicitly set flags over the configuration.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("iterations") {
		n, _ := flags.GetInt("iterations")
		viper.Set("explore.iterations", n)
	}
	if flags.Changed("movements") {
		n, _ := flags.GetInt("movements")
		viper.Set("explore.movements", n)
	}
	if sim, _ := flags.GetBool("simulate"); sim {
		viper.Set("camera.brand", device.BrandSimulated)
	}
	if fresh, _ := flags.GetBool("fresh"); fresh {
		viper.Set("model.load_checkpoint", false)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)

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

	res, err := s.runOnce(ctx, a, a.cfg)
	printResult(cmd.OutOrStdout(), res, err)
	return err
}

// printResult writes a one-line summary of a run.
func printResult(w io.Writer, res *explore.Result, err error) {
	if res == nil {
		if err != nil {
			fmt.Fprintf(w, "run failed before an agent was chosen: %v\n", err)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(w, "run %s for %s aborted in %s: %v\n", res.RunID, res.Agent, res.Phase, err)
		return
	}
	fmt.Fprintf(w, "run %s for %s: %d images, %d skipped", res.RunID, res.Agent, res.NumImages, res.Skipped)
	if res.NumImages > 0 {
		fmt.Fprintf(w, ", %s to %s", res.FirstImage.Format(time.TimeOnly), res.LastImage.Format(time.TimeOnly))
	}
	if res.RestartCreated {
		fmt.Fprint(w, " (restart 0 created)")
	}
	fmt.Fprintln(w)
}
