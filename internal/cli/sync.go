package cli

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"v20-scanner/internal/models"
	"v20-scanner/internal/scheduler"
	"v20-scanner/internal/syncer"
	"v20-scanner/internal/watchlist"
)

func addSyncCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newDaemonCmd(app))
}

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring stored price history up to date",
		Long: `Run one sync cycle over the watch-list.

Symbols already holding the previous trading day's bar are skipped. Stale
symbols are fetched from the last stored date onwards, adjusted for splits
and bonus issues, merged and written back. A symbol seen for the first time
gets a full download of --years of history.`,
		Example: `  v20 sync
  v20 sync --symbols TCS,INFY
  v20 sync --symbols RELIANCE --years 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbolsFlag, _ := cmd.Flags().GetString("symbols")
			years, _ := cmd.Flags().GetInt("years")

			var symbols []string
			if symbolsFlag != "" {
				symbols = watchlist.Normalize(strings.Split(symbolsFlag, ","))
			} else {
				var err error
				if symbols, err = app.LoadSymbols(); err != nil {
					output.Error("Cannot load watch-list: %v", err)
					return err
				}
			}

			runner, err := app.Runner(years)
			if err != nil {
				return err
			}

			if !output.IsJSON() {
				output.Info("Syncing %d symbols up to %s", len(symbols), FormatDate(runner.Target()))
			}
			report, err := runner.RunCycle(cmd.Context(), symbols, syncer.NewRunState())
			if report != nil {
				if output.IsJSON() {
					if jerr := output.JSON(cycleJSON(report)); jerr != nil {
						return jerr
					}
				} else {
					printCycle(output, report)
				}
			}
			return err
		},
	}

	cmd.Flags().String("symbols", "", "comma-separated symbols (default: the watch-list)")
	cmd.Flags().Int("years", 0, "years of history for first-time downloads (default from config)")
	return cmd
}

func newDaemonCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep price history up to date continuously",
		Long: `Run sync cycles until every symbol is fresh, then sleep until the next
tick of the sync schedule. The watch-list is re-read before every cycle.
Suspended or delisted symbols are skipped until the daemon restarts.`,
		Example: `  v20 daemon
  v20 daemon --schedule "30 18 * * 1-5"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := app.Runner(0)
			if err != nil {
				return err
			}

			spec, _ := cmd.Flags().GetString("schedule")
			if spec == "" {
				spec = app.Config.Sync.Schedule
			}
			d, err := scheduler.NewDaemon(runner, app.LoadSymbols, spec, app.Config.Location(), app.Logger)
			if err != nil {
				return err
			}
			if pause, _ := cmd.Flags().GetDuration("retry-pause"); pause > 0 {
				d.SetRetryPause(pause)
			}
			hook, err := app.SettledHook()
			if err != nil {
				return err
			}
			if hook != nil {
				d.OnSettled(hook)
			}

			err = d.Run(cmd.Context())
			if err != nil && hook != nil {
				if nerr := app.Notifier().SendError(context.Background(), err, "daemon stopped"); nerr != nil {
					app.Logger.Warn().Err(nerr).Msg("Failed to send error notification")
				}
			}
			return err
		},
	}

	cmd.Flags().String("schedule", "", "cron schedule for idle wake-ups (default from config)")
	cmd.Flags().Duration("retry-pause", scheduler.DefaultRetryPause, "pause between cycles while work is pending")
	return cmd
}

type syncResultJSON struct {
	Symbol   string            `json:"symbol"`
	Status   models.SyncStatus `json:"status"`
	Message  string            `json:"message,omitempty"`
	LastDate string            `json:"last_date,omitempty"`
	Bars     int               `json:"bars"`
	Actions  int               `json:"actions,omitempty"`
}

func cycleJSON(report *syncer.CycleReport) map[string]interface{} {
	results := make([]syncResultJSON, 0, len(report.Results))
	for _, r := range sortedResults(report.Results) {
		j := syncResultJSON{Symbol: r.Symbol, Status: r.Status, Message: r.Message, Bars: r.Bars, Actions: r.Actions}
		if !r.LastDate.IsZero() {
			j.LastDate = r.LastDate.Format(models.DateLayout)
		}
		results = append(results, j)
	}
	return map[string]interface{}{
		"run_id":  report.Run.ID,
		"target":  report.Target.Format(models.DateLayout),
		"stats":   report.Run.Stats,
		"results": results,
	}
}

func printCycle(output *Output, report *syncer.CycleReport) {
	if len(report.Results) > 0 {
		table := NewTable(output, "Symbol", "Status", "Last date", "Bars", "Message")
		for _, r := range sortedResults(report.Results) {
			table.AddRow(r.Symbol, output.StatusLabel(r.Status), FormatDate(r.LastDate), strconv.Itoa(r.Bars), TruncateString(r.Message, 60))
		}
		table.Render()
		output.Println()
	}

	s := report.Run.Stats
	output.Bold("Cycle %s", report.Run.ID)
	output.Printf("  Total %d  Fresh %d  Updated %d  Initial %d  No new data %d  Failed %d  File errors %d  Suspended %d\n",
		s.Total, s.Fresh, s.Updated, s.InitialDownload, s.NoNewData, s.Failed, s.FileError, s.Suspended)
	output.Dim("  Took %s", FormatDuration(report.Run.FinishedAt.Sub(report.Run.StartedAt).Round(time.Second)))
}

func sortedResults(results []models.SyncResult) []models.SyncResult {
	out := append([]models.SyncResult(nil), results...)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
