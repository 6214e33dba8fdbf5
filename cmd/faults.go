package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsave/internal/config"
	"github.com/marcus/gridsave/internal/faults"
	"github.com/marcus/gridsave/internal/features"
	"github.com/marcus/gridsave/internal/output"
)

var faultsCmd = &cobra.Command{
	Use:     "faults",
	Short:   "Inspect and toggle injected save failures",
	GroupID: "dev",
	Long: `Manage the fault-injection switches consulted on every autosave write.

  forceError      every write fails as a network failure
  forceConflict   every item comes back as a version conflict
  forceLatencyMs  every write is delayed by this many milliseconds

Switches live in the fault store (fault_store in config, SQLite by default,
or a redis:// URL) and are picked up by running editors on their next write.`,
}

// openFaultStore opens the configured store, or target when given.
func openFaultStore(target string) (faults.Store, string, error) {
	base := getBaseDir()
	if target == "" {
		cfg, err := config.Resolve(base)
		if err != nil {
			return nil, "", err
		}
		target = cfg.FaultStore
	}
	target = config.FaultStorePath(base, target)
	store, err := faults.Open(target)
	if err != nil {
		return nil, target, fmt.Errorf("open fault store %s: %w", target, err)
	}
	return store, target, nil
}

func warnIfInert() {
	if !faults.Enabled {
		output.Warning("this is a production build; fault switches are ignored")
		return
	}
	if !features.IsEnabled(getBaseDir(), features.FaultInjection.Name) {
		output.Warning("the %s feature is off; editors will ignore these switches (gridsave feature set %s true)",
			features.FaultInjection.Name, features.FaultInjection.Name)
	}
}

func printFlags(cmd *cobra.Command, target string, f faults.Flags) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return output.JSON(f)
	}
	fmt.Printf("store: %s\n", target)
	fmt.Printf("  %-15s %t\n", faults.KeyForceError, f.ForceError)
	fmt.Printf("  %-15s %t\n", faults.KeyForceConflict, f.ForceConflict)
	fmt.Printf("  %-15s %d\n", faults.KeyForceLatencyMs, f.ForceLatencyMs)
	return nil
}

var faultsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current switches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		storeFlag, _ := cmd.Flags().GetString("store")
		store, target, err := openFaultStore(storeFlag)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		f, err := store.Flags(cmd.Context())
		if err != nil {
			output.Error("read flags: %v", err)
			return err
		}
		warnIfInert()
		return printFlags(cmd, target, f)
	},
}

var faultsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more switches",
	Example: `  gridsave faults set --latency 2000
  gridsave faults set --error
  gridsave faults set --conflict --error=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		storeFlag, _ := cmd.Flags().GetString("store")
		store, target, err := openFaultStore(storeFlag)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		f, err := store.Flags(ctx)
		if err != nil {
			output.Error("read flags: %v", err)
			return err
		}

		changed := false
		if cmd.Flags().Changed("error") {
			f.ForceError, _ = cmd.Flags().GetBool("error")
			changed = true
		}
		if cmd.Flags().Changed("conflict") {
			f.ForceConflict, _ = cmd.Flags().GetBool("conflict")
			changed = true
		}
		if cmd.Flags().Changed("latency") {
			f.ForceLatencyMs, _ = cmd.Flags().GetInt("latency")
			changed = true
		}
		if !changed {
			return fmt.Errorf("nothing to set (use --error, --conflict or --latency)")
		}
		if err := f.Validate(); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := store.Save(ctx, f); err != nil {
			output.Error("save flags: %v", err)
			return err
		}
		output.Success("fault switches updated: %s", f)
		warnIfInert()
		return printFlags(cmd, target, f)
	},
}

var faultsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Turn every switch off",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		storeFlag, _ := cmd.Flags().GetString("store")
		store, _, err := openFaultStore(storeFlag)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		if err := store.Clear(cmd.Context()); err != nil {
			output.Error("clear flags: %v", err)
			return err
		}
		output.Success("fault switches cleared")
		return nil
	},
}

func init() {
	faultsCmd.PersistentFlags().String("store", "", "fault store path or redis:// URL (default from config)")
	faultsCmd.PersistentFlags().Bool("json", false, "print flags as JSON")

	faultsSetCmd.Flags().Bool("error", false, "force every write to fail")
	faultsSetCmd.Flags().Bool("conflict", false, "force every item to conflict")
	faultsSetCmd.Flags().Int("latency", 0, "delay every write by this many milliseconds")

	faultsCmd.AddCommand(faultsShowCmd, faultsSetCmd, faultsClearCmd)
	rootCmd.AddCommand(faultsCmd)
}
