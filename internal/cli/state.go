package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanmeadows/mrwatch/internal/server"
	"github.com/alanmeadows/mrwatch/internal/store"
	"github.com/alanmeadows/mrwatch/internal/watcher"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit watch state",
	Long:  `List tracked merge requests and toggle automatic rebuilds per merge request.`,
}

var (
	stateJSONFlag bool
	skipClearFlag bool
)

func init() {
	stateListCmd.Flags().BoolVar(&stateJSONFlag, "json", false, "Output the state as JSON")
	stateSkipCmd.Flags().BoolVar(&skipClearFlag, "clear", false, "Re-enable automatic rebuilds")
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateSkipCmd)
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked merge requests",
	Long: `Display every merge request the watcher has polled, with its watermark
and rebuild setting. Reads from the running daemon when it is reachable,
otherwise from the state file.`,
	Example: `  mrwatch state list
  mrwatch state list --state-file state.db --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := loadState(cmd.Context())
		if err != nil {
			return err
		}

		if stateJSONFlag {
			data, err := json.MarshalIndent(state, "", "    ")
			if err != nil {
				return fmt.Errorf("marshaling state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(state) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tracked merge requests yet. Start the watcher with: mrwatch run")
			return nil
		}
		renderStateTable(cmd.OutOrStdout(), state)
		return nil
	},
}

var stateSkipCmd = &cobra.Command{
	Use:   "skip <key>",
	Short: "Disable automatic rebuilds for a merge request",
	Long: `Set skip_rebuild on a merge request record so failed builds are
reported but not retriggered. The key is the first column of
'mrwatch state list'. Use --clear to turn rebuilds back on.`,
	Example: `  mrwatch state skip 123456
  mrwatch state skip 123456 --clear`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		skip := !skipClearFlag

		if err := setSkipRebuild(cmd.Context(), key, skip); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "skip_rebuild = %t for %s\n", skip, key)
		return nil
	},
}

// loadState reads the state from the daemon if one is listening, else from disk.
func loadState(ctx context.Context) (store.WatchState, error) {
	if addr := appConfig.Server.Addr; addr != "" {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		state, err := server.NewClient(addr).ListMRs(reqCtx)
		if err == nil {
			return state, nil
		}
		slog.Debug("daemon not reachable, reading state file", "error", err)
	}

	st, err := store.Open(appConfig.Watch.StateFile)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.Load(ctx), nil
}

// setSkipRebuild updates the flag through the daemon, or directly in the state
// file when no watcher owns it.
func setSkipRebuild(ctx context.Context, key string, skip bool) error {
	if addr := appConfig.Server.Addr; addr != "" {
		err := server.NewClient(addr).SetSkipRebuild(ctx, key, skip)
		if err == nil || !errors.Is(err, server.ErrUnavailable) {
			return err
		}
		slog.Debug("daemon not reachable, editing state file", "error", err)
	}

	path := appConfig.Watch.StateFile
	release, err := store.AcquireInstanceLock(path)
	if err != nil {
		if errors.Is(err, store.ErrInstanceLocked) {
			return fmt.Errorf("a watcher without a control API owns %s; stop it first or run it with --addr", path)
		}
		return err
	}
	defer release()

	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	return store.Update(ctx, st, func(state store.WatchState) error {
		rec, ok := state[key]
		if !ok {
			return fmt.Errorf("%w: %s", watcher.ErrUnknownMR, key)
		}
		rec.SkipRebuild = skip
		state[key] = rec
		return nil
	})
}

func renderStateTable(w io.Writer, state store.WatchState) {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(state))
	for _, key := range state.Keys() {
		rec := state[key]
		lastSeen := "-"
		if !rec.LastSeen.IsZero() {
			lastSeen = formatTime(rec.LastSeen.Time())
		}
		rows = append(rows, []string{
			key,
			formatIID(rec.IID),
			truncateTitle(rec.Title, 48),
			lastSeen,
			yesNo(rec.SkipRebuild),
			formatTime(rec.LastChecked),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KEY", "MR", "TITLE", "LAST CI COMMENT", "SKIP REBUILD", "LAST CHECKED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	fmt.Fprintln(w, t)
}

func truncateTitle(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
