package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsave/internal/autosave"
	"github.com/marcus/gridsave/internal/config"
	"github.com/marcus/gridsave/internal/features"
	"github.com/marcus/gridsave/internal/output"
	"github.com/marcus/gridsave/internal/suggest"
)

// configKey is one settable key of the project config file.
type configKey struct {
	name string
	help string
	get  func(config.Config) string
	set  func(*config.Config, string) error
}

var configKeys = []configKey{
	{
		name: "debounce",
		help: "quiet period before a dirty row is saved (e.g. 500ms, or bare milliseconds)",
		get:  func(c config.Config) string { return c.Debounce.String() },
		set: func(c *config.Config, v string) error {
			d, err := config.ParseDuration(v)
			if err != nil {
				return err
			}
			c.Debounce = d
			return nil
		},
	},
	{
		name: "mode",
		help: "row or batch",
		get:  func(c config.Config) string { return c.Mode },
		set: func(c *config.Config, v string) error {
			if _, err := autosave.ParseMode(v); err != nil {
				return err
			}
			c.Mode = v
			return nil
		},
	},
	{
		name: "server_url",
		help: "document API base URL",
		get:  func(c config.Config) string { return c.ServerURL },
		set:  func(c *config.Config, v string) error { c.ServerURL = v; return nil },
	},
	{
		name: "conflict_policy",
		help: "surface, manual, overwrite, discard or discard_local",
		get:  func(c config.Config) string { return c.ConflictPolicy },
		set:  func(c *config.Config, v string) error { c.ConflictPolicy = v; return nil },
	},
	{
		name: "fault_store",
		help: "fault flag store: a SQLite path or redis:// URL",
		get:  func(c config.Config) string { return c.FaultStore },
		set:  func(c *config.Config, v string) error { c.FaultStore = v; return nil },
	},
}

var validConfigKeys = func() []string {
	names := make([]string, len(configKeys))
	for i, k := range configKeys {
		names[i] = k.name
	}
	return names
}()

func lookupConfigKey(name string) (configKey, bool) {
	for _, k := range configKeys {
		if k.name == name {
			return k, true
		}
	}
	return configKey{}, false
}

func isValidConfigKey(name string) bool {
	_, ok := lookupConfigKey(name)
	return ok
}

// unknownKey reports name with a spelling hint and the full key list.
func unknownKey(name string) error {
	output.Error("unknown config key: %s%s", name, suggest.Hint(name, validConfigKeys))
	fmt.Println("Valid keys:", strings.Join(validConfigKeys, ", "))
	return fmt.Errorf("unknown config key: %s", name)
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "on", "yes":
		return true, nil
	case "false", "0", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value %q (use true/false/1/0)", val)
}

func configValue(cfg config.Config, name string) string {
	if k, ok := lookupConfigKey(name); ok {
		return k.get(cfg)
	}
	return ""
}

// setConfigValue parses val into cfg and validates the whole result.
func setConfigValue(cfg *config.Config, name, val string) error {
	k, ok := lookupConfigKey(name)
	if !ok {
		return fmt.Errorf("unknown config key: %s", name)
	}
	if err := k.set(cfg, val); err != nil {
		return err
	}
	return cfg.Validate()
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage gridsave configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if !isValidConfigKey(key) {
			return unknownKey(key)
		}
		err := config.Update(getBaseDir(), func(cfg *config.Config) error {
			return setConfigValue(cfg, key, val)
		})
		if err != nil {
			output.Error("set %s: %v", key, err)
			return err
		}

		output.Success("set %s = %s", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !isValidConfigKey(key) {
			return unknownKey(key)
		}
		cfg, err := config.Resolve(getBaseDir())
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		fmt.Println(configValue(cfg, key))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values (env overrides and defaults applied)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve(getBaseDir())
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return output.JSON(cfg)
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		for _, k := range configKeys {
			fmt.Printf("%s = %s\n", k.name, k.get(cfg))
			if verbose {
				fmt.Printf("    %s\n", k.help)
			}
		}
		return nil
	},
}

func featureNames() []string {
	var names []string
	for _, f := range features.ListAll() {
		names = append(names, f.Name)
	}
	return names
}

var featureCmd = &cobra.Command{
	Use:     "feature",
	Aliases: []string{"features"},
	Short:   "List and toggle feature flags",
	GroupID: "system",
}

var featureListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every feature and where its value comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, f := range features.ListAll() {
			enabled, source := features.Resolve(getBaseDir(), f.Name)
			fmt.Printf("%-16s %-5t (%s)  %s\n", f.Name, enabled, source, f.Description)
		}
		return nil
	},
}

var featureSetCmd = &cobra.Command{
	Use:   "set <name> <true|false>",
	Short: "Override a feature in the project config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !features.IsKnownFeature(name) {
			output.Error("unknown feature: %s%s", name, suggest.Hint(name, featureNames()))
			return fmt.Errorf("unknown feature: %s", name)
		}
		enabled, err := parseBool(args[1])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := config.SetFeatureFlag(getBaseDir(), name, enabled); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("feature %s = %t", name, enabled)
		return nil
	},
}

var featureUnsetCmd = &cobra.Command{
	Use:   "unset <name>",
	Short: "Remove a feature override from the project config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetFeatureFlag(getBaseDir(), args[0]); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("feature %s reset to default", args[0])
		return nil
	},
}

func init() {
	configListCmd.Flags().Bool("json", false, "print as JSON")
	configListCmd.Flags().BoolP("verbose", "v", false, "describe each key")

	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	featureCmd.AddCommand(featureListCmd, featureSetCmd, featureUnsetCmd)
	rootCmd.AddCommand(configCmd, featureCmd)
}
