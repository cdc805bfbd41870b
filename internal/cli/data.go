package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"v20-scanner/internal/models"
	"v20-scanner/internal/store"
	"v20-scanner/internal/watchlist"
)

// addDataCommands adds commands that inspect stored data.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSeriesCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newWatchlistCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
}

func newSeriesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series <symbol>",
		Short: "Show the stored price history of a symbol",
		Long: `Print the adjusted daily bars stored for a symbol, most recent last.

Prices and volumes are already rescaled for splits and bonus issues. MA is
the trailing moving average of the close, blank until enough bars exist.`,
		Example: `  v20 series TCS
  v20 series M&M --tail 60`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])
			tail, _ := cmd.Flags().GetInt("tail")

			series, err := app.Series()
			if err != nil {
				return err
			}
			bars, err := series.Tail(symbol, tail)
			if err != nil {
				output.Error("Cannot read %s: %v", symbol, err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol": symbol,
					"bars":   barsJSON(bars),
				})
			}

			table := NewTable(output, "Date", "Open", "High", "Low", "Close", "Volume", "MA")
			for _, b := range bars {
				ma := ""
				if b.HasMA {
					ma = FormatPrice(b.MA)
				}
				closeCol := FormatPrice(b.Close)
				if b.IsGreen() {
					closeCol = output.ColoredString(ColorGreen, closeCol)
				} else if b.Close < b.Open {
					closeCol = output.ColoredString(ColorRed, closeCol)
				}
				table.AddRow(b.Date.Format(models.DateLayout), FormatPrice(b.Open), FormatPrice(b.High),
					FormatPrice(b.Low), closeCol, FormatVolume(b.Volume), ma)
			}
			table.Render()
			output.Dim("%d bars from %s", len(bars), series.Path(symbol))
			return nil
		},
	}

	cmd.Flags().IntP("tail", "n", 20, "number of most recent bars (0 for all)")
	return cmd
}

func barsJSON(bars []models.Bar) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(bars))
	for _, b := range bars {
		m := map[string]interface{}{
			"date":   b.Date.Format(models.DateLayout),
			"open":   b.Open,
			"high":   b.High,
			"low":    b.Low,
			"close":  b.Close,
			"volume": b.Volume,
		}
		if b.HasMA {
			m["ma"] = b.MA
		}
		out = append(out, m)
	}
	return out
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how fresh the stored history is",
		Long: `Compare every watch-list symbol's last stored bar against the previous
trading day and report stale, missing and unreadable series.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbols, err := app.LoadSymbols()
			if err != nil {
				output.Error("Cannot load watch-list: %v", err)
				return err
			}
			series, err := app.Series()
			if err != nil {
				return err
			}
			cal, err := app.Calendar()
			if err != nil {
				return err
			}
			target := cal.FreshnessThreshold(time.Now(), app.Logger)
			report := store.CheckFreshness(series, symbols, target)

			journal, err := app.Journal()
			if err != nil {
				return err
			}
			lastSync := journal.GetLastSync(string(store.SyncTypeCycle))

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"target":    target.Format(models.DateLayout),
					"last_sync": lastSync,
					"symbols":   report,
				})
			}

			fresh := 0
			table := NewTable(output, "Symbol", "Last bar", "State")
			for _, f := range report {
				state := output.ColoredString(ColorGreen, "fresh")
				switch {
				case f.Missing:
					state = output.ColoredString(ColorYellow, "missing")
				case f.Corrupt:
					state = output.ColoredString(ColorRed, "unreadable")
				case !f.IsFresh:
					state = output.ColoredString(ColorYellow, fmt.Sprintf("stale (%d days)", f.Lag))
				default:
					fresh++
				}
				table.AddRow(f.Symbol, FormatDate(f.LastDate), state)
			}
			table.Render()
			output.Println()
			output.Printf("%d/%d fresh as of %s\n", fresh, len(report), FormatDate(target))
			output.Dim("Last sync cycle: %s", FormatDateTime(lastSync))
			return nil
		},
	}
}

func newWatchlistCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watchlist",
		Aliases: []string{"stocks"},
		Short:   "Show or edit the watch-list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the watch-list",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbols, err := app.LoadSymbols()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(symbols)
			}
			output.Println(watchlist.Text(symbols))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <symbol>...",
		Short:   "Replace the watch-list",
		Example: `  v20 watchlist set TCS INFY HDFCBANK`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveWatchlist(cmd, app, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <symbol>...",
		Short: "Add symbols to the watch-list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, _ := app.LoadSymbols()
			return saveWatchlist(cmd, app, append(current, args...))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <symbol>...",
		Short: "Remove symbols from the watch-list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := app.LoadSymbols()
			if err != nil {
				return err
			}
			drop := make(map[string]bool, len(args))
			for _, s := range watchlist.Normalize(args) {
				drop[s] = true
			}
			kept := current[:0]
			for _, s := range current {
				if !drop[s] {
					kept = append(kept, s)
				}
			}
			return saveWatchlist(cmd, app, kept)
		},
	})

	return cmd
}

func saveWatchlist(cmd *cobra.Command, app *App, symbols []string) error {
	output := NewOutput(cmd)
	saved, err := watchlist.Save(app.Config.Data.StocksFile, symbols)
	if err != nil {
		output.Error("Cannot save watch-list: %v", err)
		return err
	}
	if output.IsJSON() {
		return output.JSON(saved)
	}
	output.Success("Watch-list saved: %d symbols", len(saved))
	return nil
}

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show journalled sync cycles",
		Long: `List recent sync cycles with their outcome counts, or show the
per-symbol outcomes of one cycle.`,
		Example: `  v20 runs
  v20 runs 3f2a9c1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			journal, err := app.Journal()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				outcomes, err := journal.GetRunResults(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(outcomes)
				}
				if len(outcomes) == 0 {
					output.Warning("No outcomes recorded for run %s", args[0])
					return nil
				}
				table := NewTable(output, "Symbol", "Status", "Last date", "Bars", "Message")
				for _, o := range outcomes {
					table.AddRow(o.Symbol, output.StatusLabel(o.Status), FormatDate(o.LastDate), strconv.Itoa(o.Bars), TruncateString(o.Message, 60))
				}
				table.Render()
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := journal.GetRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Warning("No sync runs recorded yet")
				return nil
			}

			table := NewTable(output, "Run", "Started", "Took", "Target", "Source", "Total", "Fresh", "Updated", "Initial", "No data", "Failed", "Suspended")
			for _, r := range runs {
				took := "-"
				if !r.FinishedAt.IsZero() {
					took = FormatDuration(r.FinishedAt.Sub(r.StartedAt))
				}
				s := r.Stats
				table.AddRow(shortID(r.ID), FormatDateTime(r.StartedAt), took, FormatDate(r.Target), r.Source,
					strconv.Itoa(s.Total), strconv.Itoa(s.Fresh), strconv.Itoa(s.Updated), strconv.Itoa(s.InitialDownload),
					strconv.Itoa(s.NoNewData), strconv.Itoa(s.Failed+s.FileError), strconv.Itoa(s.Suspended))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Int("limit", 10, "maximum number of runs")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
