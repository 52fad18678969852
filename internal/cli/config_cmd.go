package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage mrwatch configuration",
	Long:  `Show and modify mrwatch configuration values.`,
}

var configJSONFlag bool

func init() {
	configShowCmd.Flags().BoolVar(&configJSONFlag, "json", false, "Output raw JSON without formatting")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		redacted := appConfig.Redacted()

		var data []byte
		var err error
		if configJSONFlag {
			data, err = json.Marshal(redacted)
		} else {
			data, err = json.MarshalIndent(redacted, "", "  ")
		}
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long: `Set a configuration value using a dotted key path.

The value is written to the file given with --config, or else to the user
config file (~/.config/mrwatch/mrwatch.jsonc). The file is created if it
does not exist.

Note: JSONC comments are not preserved on write.`,
	Example: `  mrwatch config set platform.url https://gitlab.example.com
  mrwatch config set watch.poll_interval 30s
  mrwatch config set notifications.desktop false`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := writableConfigPath()
		if err != nil {
			return err
		}

		value := parseValue(args[1])
		if err := setConfigValues(path, map[string]any{args[0]: value}); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v in %s\n", args[0], value, path)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Launches an interactive form for the platform, access token, polling
interval, state file and notification settings, and writes the answers to
the user config file (or --config).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := writableConfigPath()
		if err != nil {
			return err
		}

		// Seed from the current merged config.
		kind := appConfig.Platform.Kind
		if kind == "" {
			kind = "gitlab"
		}
		url := appConfig.Platform.URL
		token := ""
		interval := appConfig.Watch.PollInterval
		stateFile := appConfig.Watch.StateFile
		ciAuthor := appConfig.Watch.CIAuthor
		desktop := appConfig.Notifications.IsDesktopEnabled()
		teamsURL := appConfig.Notifications.TeamsWebhookURL

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Platform").
					Options(
						huh.NewOption("GitLab", "gitlab"),
						huh.NewOption("GitHub", "github"),
						huh.NewOption("Azure DevOps", "ado"),
					).
					Value(&kind),
				huh.NewInput().
					Title("Platform URL").
					Value(&url).
					Validate(func(s string) error {
						if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
							return fmt.Errorf("URL must start with http:// or https://")
						}
						return nil
					}),
				huh.NewInput().
					Title("Access token (leave empty to use GITLAB_TOKEN, GITHUB_TOKEN or AZURE_DEVOPS_EXT_PAT)").
					EchoMode(huh.EchoModePassword).
					Value(&token),
			),
			huh.NewGroup(
				huh.NewInput().
					Title("Poll interval").
					Value(&interval),
				huh.NewInput().
					Title("State file (.json, .yaml or .db)").
					Value(&stateFile),
				huh.NewInput().
					Title("CI bot author contains").
					Value(&ciAuthor).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("CI author is required")
						}
						return nil
					}),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Desktop notifications?").
					Value(&desktop),
				huh.NewInput().
					Title("Teams webhook URL (optional)").
					Value(&teamsURL),
			),
		)

		if err := form.Run(); err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}

		values := map[string]any{
			"platform.kind":                   kind,
			"platform.url":                    url,
			"watch.poll_interval":             interval,
			"watch.state_file":                stateFile,
			"watch.ci_author":                 ciAuthor,
			"notifications.desktop":           desktop,
			"notifications.teams_webhook_url": teamsURL,
		}
		if token != "" {
			values["platform.token"] = token
		}
		if err := setConfigValues(path, values); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

// writableConfigPath is --config when given, else the user config file.
func writableConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	path := config.UserConfigPath()
	if path == "" {
		return "", fmt.Errorf("cannot determine user config directory; pass --config")
	}
	return path, nil
}

// parseValue reads a CLI value as bool, then number, then string.
func parseValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// setConfigValues applies dotted-path values to the JSONC file at path.
func setConfigValues(path string, values map[string]any) error {
	var existing []byte
	if data, err := os.ReadFile(path); err == nil {
		// sjson needs plain JSON; comments are dropped.
		existing = jsonc.ToJSON(data)
	} else {
		existing = []byte("{}")
	}

	updated := existing
	for key, value := range values {
		var err error
		updated, err = sjson.SetBytes(updated, key, value)
		if err != nil {
			return fmt.Errorf("setting key %q: %w", key, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, updated, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
