package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsave/internal/faults"
)

// buildKind tells dev builds, which carry the fault harness, from production ones.
func buildKind() string {
	if faults.Enabled {
		return "dev"
	}
	return "production"
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the gridsave version",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if short, _ := cmd.Flags().GetBool("short"); short {
			fmt.Fprintln(out, version)
			return nil
		}
		fmt.Fprintf(out, "gridsave version %s (%s build, %s %s/%s)\n",
			version, buildKind(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "print only the version string")
	rootCmd.AddCommand(versionCmd)
}
