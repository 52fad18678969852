package cli

import (
	"strconv"
	"time"

	"github.com/alanmeadows/mrwatch/internal/config"
	"github.com/alanmeadows/mrwatch/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	appConfig  *config.Config

	platformFlag      string
	urlFlag           string
	tokenFlag         string
	checkIntervalFlag int
	stateFileFlag     string

	rootCmd = &cobra.Command{
		Use:   "mrwatch",
		Short: "Watch your merge requests for CI comments and retrigger failed builds",
		Long: `mrwatch polls GitLab, GitHub or Azure DevOps for open merge requests assigned to you,
notifies you about every new CI bot comment, and posts a rebuild comment
when a build fails.`,
		SilenceUsage: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	pf.StringVarP(&configPath, "config", "c", "", "Path to a JSONC config file")
	pf.StringVar(&platformFlag, "platform", "", "Review platform: gitlab, github or ado")
	pf.StringVar(&urlFlag, "url", "", "Platform base URL")
	pf.StringVar(&tokenFlag, "token", "", "Personal access token")
	pf.IntVar(&checkIntervalFlag, "check-interval", 0, "Seconds between poll cycles")
	pf.StringVar(&stateFileFlag, "state-file", "", "State file (.json, .yaml or .db)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, cfg)
		appConfig = cfg

		logging.Setup(logging.Options{Verbose: verbose, Format: cfg.Log.Format})
		return nil
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(configCmd)
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("platform") {
		cfg.Platform.Kind = platformFlag
	}
	if flags.Changed("url") {
		cfg.Platform.URL = urlFlag
	}
	if flags.Changed("token") {
		cfg.Platform.Token = tokenFlag
	}
	if flags.Changed("check-interval") {
		cfg.Watch.PollInterval = (time.Duration(checkIntervalFlag) * time.Second).String()
	}
	if flags.Changed("state-file") {
		cfg.Watch.StateFile = stateFileFlag
	}
}

func Execute() error {
	return rootCmd.Execute()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatIID(iid int64) string {
	if iid == 0 {
		return "-"
	}
	return "!" + strconv.FormatInt(iid, 10)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
