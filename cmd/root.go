// Package cmd is the gridsave command line: the reference document server,
// the scripted autosave simulator, the grid editor and their config.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsave/internal/features"
	"github.com/marcus/gridsave/internal/workdir"
)

var (
	version = "dev"
	baseDir string
)

func SetVersion(v string) { version = v }

var rootCmd = &cobra.Command{
	Use:   "gridsave",
	Short: "Optimistic autosave engine for grid editors",
	Long: `gridsave - debounced, versioned autosave for row-based editors.

Edits are hashed, coalesced and written with the last acknowledged version.
Stale writes come back as conflicts instead of overwriting newer data.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return installLogger(logLevel, logFormat)
	},
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// commandGroups are listed in help in this order.
var commandGroups = []*cobra.Group{
	{ID: "core", Title: "Editing:"},
	{ID: "dev", Title: "Development:"},
	{ID: "system", Title: "Setup:"},
}

// usageTemplate lists subcommands under their group with aliases inline.
// Subcommands of a group-less parent (faults, config) are listed flat.
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} <command>{{end}}{{if .HasAvailableSubCommands}}{{if .Groups}}{{range $g := .Groups}}

{{$g.Title}}{{range $.Commands}}{{if and .IsAvailableCommand (eq .GroupID $g.ID)}}
  {{rpad (nameWithAliases .) 22}} {{.Short}}{{end}}{{end}}{{end}}{{else}}

Commands:{{range .Commands}}{{if .IsAvailableCommand}}
  {{rpad (nameWithAliases .) 22}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Run "{{.CommandPath}} <command> --help" for details on a command.{{end}}
`

func nameWithAliases(c *cobra.Command) string {
	return strings.Join(append([]string{c.Name()}, c.Aliases...), ", ")
}

// addFeatureGatedCommand registers c either way. When the feature is off for
// this process c is hidden and refuses to run.
func addFeatureGatedCommand(feature string, c *cobra.Command) {
	if !features.IsEnabledForProcess(feature) {
		c.Hidden = true
		c.RunE = func(*cobra.Command, []string) error {
			return fmt.Errorf("%s is disabled (enable the %s feature)", c.Name(), feature)
		}
	}
	rootCmd.AddCommand(c)
}

func init() {
	cobra.OnInitialize(initBaseDir)
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	rootCmd.PersistentFlags().AddFlagSet(logFlags())
	rootCmd.SetUsageTemplate(usageTemplate)
	rootCmd.AddGroup(commandGroups...)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

// initBaseDir anchors project config at the nearest .gridsave marker above
// the working directory.
func initBaseDir() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
	baseDir = workdir.ResolveBaseDir(cwd)
}

func getBaseDir() string { return baseDir }
