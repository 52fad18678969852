package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanmeadows/mrwatch/internal/server"
	"github.com/alanmeadows/mrwatch/internal/watcher"
	"github.com/spf13/cobra"
)

var (
	foregroundFlag bool
	onceFlag       bool
	addrFlag       string
)

func init() {
	runCmd.Flags().BoolVar(&onceFlag, "once", false, "Run a single poll cycle and exit")
	runCmd.Flags().StringVar(&addrFlag, "addr", "", "Serve the control API on this address (default: off)")
	startCmd.Flags().BoolVar(&foregroundFlag, "foreground", false, "Run in foreground (don't daemonize)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch in the foreground until interrupted",
	Long: `Poll assigned merge requests in the foreground. Ctrl-C finishes the
merge request being processed, saves the state and exits.`,
	Example: `  mrwatch run
  mrwatch run --platform github --url https://github.com --check-interval 30
  mrwatch run --once --state-file state.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w, st, err := watcher.FromConfig(appConfig)
		if err != nil {
			return err
		}
		defer st.Close()

		if onceFlag {
			return w.RunOnce(ctx)
		}
		return server.Serve(ctx, addrFlag, w)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mrwatch daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appConfig.Validate(); err != nil {
			return err
		}
		return server.StartDaemon(appConfig, configPath, foregroundFlag)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the mrwatch daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := server.StopDaemon(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		running, pid, uptime, err := server.DaemonStatus()
		if err != nil {
			return err
		}
		if !running {
			fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "daemon is running (PID %d, uptime %s)\n", pid, uptime.Round(time.Second))
		if appConfig.Server.Addr == "" {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		st, err := server.NewClient(appConfig.Server.Addr).Status(ctx)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "control API: %v\n", err)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watcher %s as %s: %d cycles, %d MRs tracked, last cycle %s\n",
			st.Status, st.User, st.Cycles, st.Tracked, formatTime(st.LastCycle))
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install as systemd user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.InstallSystemdService(configPath)
	},
}
