package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	burntsushi "github.com/BurntSushi/toml"
	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teranos/courseforge/am"
	"github.com/teranos/courseforge/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage courseforge configuration",
	Long: `Display and manage courseforge configuration.

Configuration sources (in order of precedence):
1. Environment variables (COURSEFORGE_* prefix, plus OPENROUTER_API_KEY,
   ANTHROPIC_API_KEY, TAVILY_API_KEY and REDIS_PASSWORD)
2. Project config (./courseforge.toml, searched up from the working directory)
3. User config (~/.courseforge/courseforge.toml)
4. System config (/etc/courseforge/courseforge.toml)
5. Default values

A .env file in the working directory is loaded before any of these.

Examples:
  courseforge am show                 # Show current configuration
  courseforge am show --format json   # Show configuration in JSON format
  courseforge am validate             # Validate current configuration
  courseforge am init                 # Write a starter courseforge.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged configuration from all sources. Secrets are never shown.",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files exist",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter config file with every default",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	configFormat string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# courseforge configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# courseforge configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration files (later overrides earlier):")
	for _, path := range am.ConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("  %s %s\n", pterm.Green("found  "), path)
		} else {
			fmt.Printf("  %s %s\n", pterm.Gray("missing"), path)
		}
	}
	if am.FindProjectConfig() == "" {
		fmt.Printf("  %s ./%s (searched up from the working directory)\n", pterm.Gray("missing"), am.ConfigFileName)
	}
	return nil
}

// runAmInit writes the built-in defaults so operators start from a complete file
func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.ConfigFileName
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return errors.WithHint(errors.Newf("%s already exists", path), "Use --force to overwrite it")
	}

	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	fmt.Fprintln(f, "# courseforge configuration")
	fmt.Fprintln(f, "# API keys are read from the environment (OPENROUTER_API_KEY, ANTHROPIC_API_KEY, TAVILY_API_KEY).")
	fmt.Fprintln(f)
	if err := burntsushi.NewEncoder(f).Encode(cfg); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	pterm.Success.Printf("Wrote %s\n", path)
	return nil
}
