package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"timebill/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the active config in an editor.",
	Long: `Open the active timebill config in $VISUAL, else $EDITOR, else vi.

A missing config is created from the example template first. When the editor exits
the file is validated. An invalid file can be reopened or reverted to the content it
had before editing. Secrets found in the YAML are reported; they belong in the env file.`,
	Example: `
  # Edit active config
  timebill config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := activeConfigPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		created, err := writeTemplateIfMissing(configPath)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "No config file found. Created example config at: %s\n", configPath)
		}
		before, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}

		editor := pickEditor(os.Getenv("VISUAL"), os.Getenv("EDITOR"))
		reader := bufio.NewReader(cmd.InOrStdin())
		for {
			editorCommand, err := editorCommandFor(editor, configPath)
			if err != nil {
				return err
			}
			editorCommand.Stdin = os.Stdin
			editorCommand.Stdout = os.Stdout
			editorCommand.Stderr = os.Stderr
			if err := editorCommand.Run(); err != nil {
				return fmt.Errorf("run editor %q: %w", editor, err)
			}

			content, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read edited config: %w", err)
			}
			cfg, validateErr := config.ValidateYAMLContent(content)
			if validateErr == nil {
				reportEditedConfig(out, configPath, cfg, content)
				return nil
			}

			fmt.Fprintf(out, "Config is invalid: %v\n", validateErr)
			again, err := promptConfirm(reader, out, "Reopen the editor?")
			if err != nil {
				return err
			}
			if again {
				continue
			}
			if err := os.WriteFile(configPath, before, 0o600); err != nil {
				return fmt.Errorf("restore config %s: %w", configPath, err)
			}
			return fmt.Errorf("config validation failed in %s; previous content restored: %w", configPath, validateErr)
		}
	},
}

// activeConfigPath returns the --configFile flag, else the file viper loaded,
// else ~/.timebill.yaml.
func activeConfigPath(configFileFlag, configFileUsed string) (string, error) {
	for _, candidate := range []string{configFileFlag, configFileUsed} {
		if path := strings.TrimSpace(candidate); path != "" {
			return path, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".timebill.yaml"), nil
}

func writeTemplateIfMissing(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.ExampleYAML()), 0o600); err != nil {
		return false, fmt.Errorf("write example config: %w", err)
	}
	return true, nil
}

func pickEditor(visual, editor string) string {
	for _, candidate := range []string{visual, editor} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return "vi"
}

func editorCommandFor(editorValue, configPath string) (*exec.Cmd, error) {
	fields := strings.Fields(editorValue)
	if len(fields) == 0 {
		return nil, fmt.Errorf("editor command is empty")
	}
	return exec.Command(fields[0], append(fields[1:], configPath)...), nil
}

// secretKeys are config keys that must come from the environment.
var secretKeys = map[string][]string{
	"timeular":   {"api_key", "api_secret"},
	"freshbooks": {"client_id", "client_secret", "access_token"},
}

// secretsInYAML lists secret keys written directly into the YAML document.
func secretsInYAML(content []byte) []string {
	doc := map[string]any{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil
	}
	found := make([]string, 0)
	for _, section := range []string{"timeular", "freshbooks"} {
		values, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range secretKeys[section] {
			if value, ok := values[key]; ok && strings.TrimSpace(fmt.Sprint(value)) != "" {
				found = append(found, section+"."+key)
			}
		}
	}
	return found
}

func reportEditedConfig(out io.Writer, path string, cfg *config.Config, content []byte) {
	fmt.Fprintf(out, "Configuration saved and validated: %s\n", path)
	fmt.Fprintf(out, "  rate rules: %d, default rate: %s %s\n", len(cfg.Rates.Rules), valueOrDash(cfg.Rates.Default), cfg.Rates.Currency)
	if leaked := secretsInYAML(content); len(leaked) > 0 {
		fmt.Fprintf(out, "Warning: secrets found in YAML (%s); move them to the env file.\n", strings.Join(leaked, ", "))
	}
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
