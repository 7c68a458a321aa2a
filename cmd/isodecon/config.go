package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/inodb/isodecon/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage isodecon configuration",
		Long:  "Show, get, or set configuration values. Config is stored in ~/.isodecon.yaml.",
		Example: `  isodecon config                              # show effective config
  isodecon config set solver.strategy gaussian  # change the slack cost
  isodecon config get run.workers               # get a value`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
	}
}

func runConfigShow() error {
	out, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// configFile is the file config set writes to.
func configFile() (string, error) {
	if f := viper.ConfigFileUsed(); f != "" {
		return f, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".isodecon.yaml"), nil
}

// parseValue turns command-line text into a YAML scalar.
func parseValue(value string) any {
	switch value {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if strings.Contains(value, ",") {
		return strings.Split(value, ",")
	}
	return value
}

// setNested stores value under a dotted key, creating sections as needed.
func setNested(doc map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")
	m := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p]
		if !ok {
			sub := map[string]any{}
			m[p] = sub
			m = sub
			continue
		}
		sub, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a section", p)
		}
		m = sub
	}
	m[parts[len(parts)-1]] = value
	return nil
}

// runConfigSet writes only the keys present in the file, so defaults are
// not frozen into it.
func runConfigSet(key, value string) error {
	cfgFile, err := configFile()
	if err != nil {
		return err
	}

	doc := map[string]any{}
	data, err := os.ReadFile(cfgFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", cfgFile, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("reading config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := setNested(doc, strings.ToLower(key), parseValue(value)); err != nil {
		return err
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	// Reject values no run could use before touching the file.
	check := viper.New()
	config.SetDefaults(check)
	check.SetConfigType("yaml")
	if err := check.ReadConfig(strings.NewReader(string(out))); err != nil {
		return fmt.Errorf("checking config: %w", err)
	}
	if _, err := config.Load(check); err != nil {
		return err
	}

	if err := os.WriteFile(cfgFile, out, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("Set %s = %s in %s\n", key, value, cfgFile)
	return nil
}

func runConfigGet(key string) error {
	val := viper.Get(key)
	if val == nil {
		return fmt.Errorf("key %q is not set", key)
	}
	fmt.Println(val)
	return nil
}
