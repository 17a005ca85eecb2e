package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smartshark/issuesync/internal/config"
)

func newConfigCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := maskSecrets(config.AllSettings())
			if s.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), settings)
			}
			if used := config.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
			}
			out, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.AddCommand(show)
	return cmd
}

// maskSecrets replaces the values of token and password keys.
func maskSecrets(settings map[string]any) map[string]any {
	masked := make(map[string]any, len(settings))
	for k, v := range settings {
		if nested, ok := v.(map[string]any); ok {
			v = maskSecrets(nested)
		} else if isSecretKey(k) && fmt.Sprint(v) != "" {
			v = "********"
		}
		masked[k] = v
	}
	return masked
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "token") || strings.Contains(key, "password")
}
