package cmd

import (
	"fmt"

	"wgsession/pkg/startup"

	"github.com/spf13/cobra"
)

var (
	autostartGUI bool

	autostartCmd = &cobra.Command{
		Use:   "autostart",
		Short: "start wgsession when the user logs in",
	}

	autostartEnableCmd = &cobra.Command{
		Use:   "enable",
		Short: "register the login entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loginEntry().Enable(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enabled")
			return nil
		},
	}

	autostartDisableCmd = &cobra.Command{
		Use:   "disable",
		Short: "remove the login entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loginEntry().Disable(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "disabled")
			return nil
		},
	}

	autostartStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "report whether the login entry exists",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if loginEntry().IsEnabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "enabled")
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), "disabled")
		},
	}
)

// loginEntry runs the window by default; --gui=false brings the tunnel up
// headless, which only works when the permission was granted before.
func loginEntry() startup.StartupManager {
	args := []string{"gui"}
	if !autostartGUI {
		args = []string{"up", "--status-interval", "5m"}
	}
	if rootCmd.PersistentFlags().Changed("config") {
		args = append(args, "--config", configPath)
	}
	return startup.NewStartupManager(startup.Entry{AppName: "wgsession", Args: args})
}

func init() {
	autostartEnableCmd.Flags().BoolVar(&autostartGUI, "gui", true, "start the window instead of a headless tunnel")
	autostartCmd.AddCommand(autostartEnableCmd, autostartDisableCmd, autostartStatusCmd)
	rootCmd.AddCommand(autostartCmd)
}
