package config

import "time"

// Config is the top-level mrwatch configuration.
type Config struct {
	Platform      PlatformConfig      `json:"platform"`
	Watch         WatchConfig         `json:"watch"`
	Notifications NotificationsConfig `json:"notifications"`
	Server        ServerConfig        `json:"server"`
	Log           LogConfig           `json:"log"`
}

// PlatformConfig selects and authenticates the review platform.
type PlatformConfig struct {
	// Kind is "gitlab", "github" or "ado". Empty means detect from URL.
	Kind  string `json:"kind"`
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// WatermarkMode selects how the change detector gates comments within a cycle.
type WatermarkMode string

const (
	// WatermarkSequential compares each comment against the watermark as it
	// advances through the cycle. Out-of-order older comments are skipped.
	WatermarkSequential WatermarkMode = "sequential"
	// WatermarkSnapshot compares every comment against the watermark loaded at
	// the start of the cycle.
	WatermarkSnapshot WatermarkMode = "snapshot"
)

// WatchConfig holds the polling and detection settings.
type WatchConfig struct {
	PollInterval   string        `json:"poll_interval"`
	StateFile      string        `json:"state_file"`
	CIAuthor       string        `json:"ci_author"`
	FailureMarkers []string      `json:"failure_markers"`
	RebuildComment string        `json:"rebuild_comment"`
	WatermarkMode  WatermarkMode `json:"watermark_mode"`
}

// ParsePollInterval returns the poll interval as a time.Duration.
// Bare integers are read as seconds, matching --check-interval.
func (w WatchConfig) ParsePollInterval() time.Duration {
	d, err := time.ParseDuration(w.PollInterval)
	if err != nil {
		if secs, convErr := parseSeconds(w.PollInterval); convErr == nil {
			return secs
		}
		return 5 * time.Second
	}
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// NotificationsConfig holds notification settings.
type NotificationsConfig struct {
	Desktop         *bool    `json:"desktop"`
	TeamsWebhookURL string   `json:"teams_webhook_url"`
	Events          []string `json:"events"`
}

// IsDesktopEnabled reports whether desktop notifications are on.
// Defaults to true when not explicitly set.
func (n NotificationsConfig) IsDesktopEnabled() bool {
	if n.Desktop == nil {
		return true
	}
	return *n.Desktop
}

// ServerConfig holds daemon settings.
type ServerConfig struct {
	// Addr is the control API listen address. Empty disables the API.
	Addr   string `json:"addr"`
	LogDir string `json:"log_dir"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `json:"format"`
}

func boolPtr(b bool) *bool {
	return &b
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Platform: PlatformConfig{
			Kind: "gitlab",
			URL:  "https://gitlab.com",
		},
		Watch: WatchConfig{
			PollInterval:   "5s",
			StateFile:      "comment_watcher_state.json",
			CIAuthor:       "Jenkins",
			FailureMarkers: []string{"Build failed", "Build aborted"},
			RebuildComment: "#ci rebuild",
			WatermarkMode:  WatermarkSequential,
		},
		Notifications: NotificationsConfig{
			Desktop: boolPtr(true),
		},
		Server: ServerConfig{
			Addr:   "127.0.0.1:4117",
			LogDir: "~/.local/share/mrwatch/logs",
		},
		Log: LogConfig{
			Format: "auto",
		},
	}
}
