package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ptzexplore/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and create agent ledgers",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <agent>",
	Short: "Show an agent's restart ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerInitCmd = &cobra.Command{
	Use:   "init <agent>",
	Short: "Create an agent with a fresh ledger",
	Long: `Create the agent directory and a ledger with num_restart -1. The first
run for the agent creates restart_00 from --parent.`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerInit,
}

var ledgerParent string

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerInitCmd)

	ledgerInitCmd.Flags().StringVar(&ledgerParent, "parent", "", "world model the agent starts from")
}

func ledgerStore() (*app, *ledger.Store, error) {
	a, err := loadApp()
	if err != nil {
		return nil, nil, err
	}
	return a, ledger.NewStore(filepath.Join(a.cfg.Paths.Persist, "agents")), nil
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	a, store, err := ledgerStore()
	if err != nil {
		return err
	}
	defer a.close()

	agent := args[0]
	l, err := store.Read(agent)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "agent:        %s\n", agent)
	fmt.Fprintf(out, "ledger:       %s\n", store.Path(agent))
	fmt.Fprintf(out, "num_restart:  %d\n", l.NumRestart())
	if l.NumRestart() < 0 {
		fmt.Fprintf(out, "parent_model: %s (no restart yet)\n", l.DefaultParent())
		return nil
	}

	rec, err := l.Active()
	if err != nil {
		return err
	}
	if parent, err := l.ParentModel(a.cfg.Model.ParentModel); err != nil {
		fmt.Fprintf(out, "parent_model: unresolved (%v)\n", err)
	} else {
		fmt.Fprintf(out, "parent_model: %s\n", parent)
	}
	if rec.Images != nil {
		fmt.Fprintf(out, "num_images:   %d\n", rec.Images.NumImages)
		for i := 0; i+1 < len(rec.Images.StartEnd); i += 2 {
			fmt.Fprintf(out, "  run %3d:    %s .. %s\n", i/2+1, rec.Images.StartEnd[i], rec.Images.StartEnd[i+1])
		}
	}
	return nil
}

func runLedgerInit(cmd *cobra.Command, args []string) error {
	a, store, err := ledgerStore()
	if err != nil {
		return err
	}
	defer a.close()

	if err := store.Init(args[0], ledgerParent); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", store.Path(args[0]))
	return nil
}
