package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// LocalFile is the working-directory config file name.
const LocalFile = "mrwatch.jsonc"

// Load reads and merges configuration from the user-level, working-directory and
// explicit JSONC files, then applies environment overrides.
// Resolution order: defaults → user (~/.config/mrwatch/mrwatch.jsonc) →
// ./mrwatch.jsonc → explicitPath → .env / environment.
func Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	if userPath := UserConfigPath(); userPath != "" {
		if userMap, err := loadJSONC(userPath); err == nil {
			if err := mergeIntoConfig(&cfg, userMap); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}

	if localMap, err := loadJSONC(LocalFile); err == nil {
		if err := mergeIntoConfig(&cfg, localMap); err != nil {
			return nil, fmt.Errorf("merging local config: %w", err)
		}
	}

	if explicitPath != "" {
		m, err := loadJSONC(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", explicitPath, err)
		}
		if err := mergeIntoConfig(&cfg, m); err != nil {
			return nil, fmt.Errorf("merging config %s: %w", explicitPath, err)
		}
	}

	// A missing .env is the normal case.
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// UserConfigPath returns the user-level config file path, or "" if the user
// config directory cannot be determined.
func UserConfigPath() string {
	userDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(userDir, "mrwatch", "mrwatch.jsonc")
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map over it,
// then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if kind := os.Getenv("MRWATCH_PLATFORM"); kind != "" {
		cfg.Platform.Kind = kind
	}
	if u := os.Getenv("GITLAB_URL"); u != "" && cfg.Platform.Kind == "gitlab" {
		cfg.Platform.URL = u
	}
	if u := os.Getenv("MRWATCH_URL"); u != "" {
		cfg.Platform.URL = u
	}
	switch cfg.Platform.Kind {
	case "gitlab":
		if token := os.Getenv("GITLAB_TOKEN"); token != "" {
			cfg.Platform.Token = token
		}
	case "github":
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			cfg.Platform.Token = token
		}
	case "ado":
		if token := os.Getenv("AZURE_DEVOPS_EXT_PAT"); token != "" {
			cfg.Platform.Token = token
		}
	}
	if token := os.Getenv("MRWATCH_TOKEN"); token != "" {
		cfg.Platform.Token = token
	}
	if path := os.Getenv("MRWATCH_STATE_FILE"); path != "" {
		cfg.Watch.StateFile = path
	}
	if interval := os.Getenv("MRWATCH_POLL_INTERVAL"); interval != "" {
		cfg.Watch.PollInterval = interval
	}
}

// Validate checks the settings the watcher cannot run without.
func (c *Config) Validate() error {
	if c.Platform.URL == "" {
		return fmt.Errorf("platform.url is required")
	}
	if c.Platform.Token == "" {
		return fmt.Errorf("platform.token is required (set MRWATCH_TOKEN, GITLAB_TOKEN, GITHUB_TOKEN or AZURE_DEVOPS_EXT_PAT)")
	}
	if c.Watch.StateFile == "" {
		return fmt.Errorf("watch.state_file is required")
	}
	if strings.TrimSpace(c.Watch.CIAuthor) == "" {
		return fmt.Errorf("watch.ci_author must not be empty")
	}
	switch c.Watch.WatermarkMode {
	case "", WatermarkSequential, WatermarkSnapshot:
	default:
		return fmt.Errorf("watch.watermark_mode must be %q or %q, got %q",
			WatermarkSequential, WatermarkSnapshot, c.Watch.WatermarkMode)
	}
	return nil
}

// Redacted returns a copy of the config with secret fields masked.
func (c *Config) Redacted() *Config {
	copy := *c
	if copy.Platform.Token != "" {
		copy.Platform.Token = "***"
	}
	if copy.Notifications.TeamsWebhookURL != "" {
		copy.Notifications.TeamsWebhookURL = "***"
	}
	return &copy
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("interval must be positive: %d", n)
	}
	return time.Duration(n) * time.Second, nil
}
