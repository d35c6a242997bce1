package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the shared data directory over sshfs",
	Long: `Mount mount.remote_dir from mount.user@mount.host at mount.local_dir.
ssh, sftp, fusermount and sshfs must be installed; each is checked first.`,
	RunE: runMount,
}

var unmountCmd = &cobra.Command{
	Use:   "unmount",
	Short: "Unmount the shared data directory",
	RunE:  runUnmount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	m := a.newMounter()
	if err := m.Mount(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mounted %s:%s at %s\n", a.cfg.Mount.Host, a.cfg.Mount.RemoteDir, a.cfg.Mount.LocalDir)
	return nil
}

func runUnmount(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.newMounter().Unmount(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unmounted %s\n", a.cfg.Mount.LocalDir)
	return nil
}
