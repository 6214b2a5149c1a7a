package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/am"
	"github.com/teranos/qntx-migrate/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage qntx-migrate configuration",
	Long: sym.AM + ` am - Manage qntx-migrate configuration

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/qntx/migrate.toml)
3. User config (~/.qntx/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. Environment variables (QNTX_* prefix, DB_PATH for the database)

Examples:
  qntx-migrate am show                          # Show current configuration
  qntx-migrate am show --format json            # Show configuration in JSON format
  qntx-migrate am get migration.timezone        # Get specific config value
  qntx-migrate am set migration.timezone Europe/Amsterdam
  qntx-migrate am validate                      # Validate current configuration
  qntx-migrate am validate --file ./staging.toml # Validate a single file`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pulse.due_batch_limit)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value in the user config",
	Long: `Write a dotted key into ~/.qntx/am.toml. The previous file is kept as a
rotating backup (.back1 .. .back3). A running Pulse daemon picks the change up.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long: `Validate the merged configuration cascade, or with --file a single config
file on top of the built-in defaults.`,
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amValidateCmd.Flags().String("file", "", "Validate this file instead of the cascade")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if configFormat != "json" {
		fmt.Println("# qntx-migrate configuration")
	}
	return printFormatted(configFormat, cfg)
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	fmt.Println(am.Get(key))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if err := am.SetValue(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	// Re-read the cascade so the new value is validated in context
	am.Reset()
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		pterm.Warning.Printf("%s was written but the configuration is now invalid: %v\n", key, err)
		return nil
	}

	fmt.Printf("%s %s = %v (%s)\n", sym.AM, key, am.Get(key), am.GetUserConfigPath())
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")

	var cfg *am.Config
	var err error
	if file != "" {
		cfg, err = am.LoadFromFile(file)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Printf("  2. [SYSTEM]   %s%s\n", am.SystemConfigPath, presence(am.SystemConfigPath))
	fmt.Printf("  3. [USER]     %s%s\n", am.GetUserConfigPath(), presence(am.GetUserConfigPath()))
	fmt.Println("  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Println("  5. [ENV]      QNTX_* environment variables")
	fmt.Println()

	data := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
	for _, s := range am.Settings() {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func presence(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return " (missing)"
	}
	return " (found)"
}
