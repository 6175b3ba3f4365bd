package cmd

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

//go:embed version.txt
var version string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wgsession %s (%s/%s, %s)\n",
			strings.TrimSpace(version), runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}

func init() {
	version = strings.TrimSpace(version)
	rootCmd.AddCommand(versionCmd)
}
