package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"v20-scanner/internal/analysis/breakout"
	"v20-scanner/internal/models"
	"v20-scanner/internal/store"
	"v20-scanner/internal/watchlist"
)

func addScanCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newScansCmd(app))
}

func newScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan stored history for V20 breakout runs",
		Long: `Look for runs of consecutive green candles in the most recent --history
bars whose low-to-high range exceeds --margin percent.

With the last-close filter on, a run is only reported while the latest close
is within --last-close-margin percent of the run's low.`,
		Example: `  v20 scan
  v20 scan --history 30 --margin 25
  v20 scan --filter-last-close=false --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			params := app.ScanDefaults()
			flags := cmd.Flags()
			if flags.Changed("history") {
				params.HistoryWindow, _ = flags.GetInt("history")
			}
			if flags.Changed("margin") {
				params.Config.MarginThresholdPct, _ = flags.GetFloat64("margin")
			}
			if flags.Changed("filter-last-close") {
				params.Config.FilterByLastClose, _ = flags.GetBool("filter-last-close")
			}
			if flags.Changed("last-close-margin") {
				params.Config.LastCloseMarginThresholdPct, _ = flags.GetFloat64("last-close-margin")
			}
			params.Save, _ = flags.GetBool("save")

			var symbols []string
			if s, _ := flags.GetString("symbols"); s != "" {
				symbols = watchlist.Normalize(strings.Split(s, ","))
			} else {
				var err error
				if symbols, err = app.LoadSymbols(); err != nil {
					output.Error("Cannot load watch-list: %v", err)
					return err
				}
			}

			scanner, err := app.Scanner()
			if err != nil {
				return err
			}
			res, err := scanner.Scan(cmd.Context(), symbols, params)
			if res == nil {
				return err
			}

			if notifyFlag, _ := flags.GetBool("notify"); notifyFlag {
				if nerr := app.Notifier().SendCandidates(cmd.Context(), res.ID, res.Candidates); nerr != nil {
					output.Warning("Notification failed: %v", nerr)
				}
			}

			if output.IsJSON() {
				if jerr := output.JSON(scanJSON(res)); jerr != nil {
					return jerr
				}
				return err
			}
			printScan(output, res)
			return err
		},
	}

	d := breakout.DefaultScanParams()
	cmd.Flags().Int("history", d.HistoryWindow, "number of most recent bars to examine")
	cmd.Flags().Float64("margin", d.Config.MarginThresholdPct, "minimum low-to-high run margin in percent")
	cmd.Flags().Bool("filter-last-close", d.Config.FilterByLastClose, "only report runs whose low is near the last close")
	cmd.Flags().Float64("last-close-margin", d.Config.LastCloseMarginThresholdPct, "maximum last close above the run low in percent")
	cmd.Flags().String("symbols", "", "comma-separated symbols (default: the watch-list)")
	cmd.Flags().Bool("save", false, "save the scan to the journal")
	cmd.Flags().Bool("notify", false, "send candidates to the configured notification channels")
	return cmd
}

func newScansCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scans",
		Short: "List saved scans",
		Example: `  v20 scans
  v20 scans --symbol TCS --days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			journal, err := app.Journal()
			if err != nil {
				return err
			}

			filter := store.ScanFilter{}
			filter.Symbol, _ = cmd.Flags().GetString("symbol")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				filter.Since = time.Now().AddDate(0, 0, -days)
			}

			scans, err := journal.GetScans(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(scans)
			}
			if len(scans) == 0 {
				output.Warning("No saved scans")
				return nil
			}

			table := NewTable(output, "ID", "When", "History", "Margin", "Filter", "Candidates", "Failures")
			for _, s := range scans {
				filterCol := "off"
				if s.Filter {
					filterCol = FormatPercent(s.FilterPct)
				}
				table.AddRow(shortID(s.ID), FormatDateTime(s.CreatedAt), strconv.Itoa(s.History),
					FormatPercent(s.MarginPct), filterCol, strconv.Itoa(len(s.Candidates)), strconv.Itoa(len(s.Failures)))
			}
			table.Render()

			if verbose, _ := cmd.Flags().GetBool("candidates"); verbose {
				for _, s := range scans {
					for _, c := range s.Candidates {
						output.Println(c.String())
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "only scans that flagged this symbol")
	cmd.Flags().Int("days", 0, "only scans from the last N days")
	cmd.Flags().Int("limit", 20, "maximum number of scans")
	cmd.Flags().Bool("candidates", false, "print the candidates of every listed scan")
	return cmd
}

type candidateJSON struct {
	models.BreakoutCandidate
	Line string `json:"line"`
}

func scanJSON(res *breakout.ScanResult) map[string]interface{} {
	candidates := make([]candidateJSON, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		candidates = append(candidates, candidateJSON{BreakoutCandidate: c, Line: c.String()})
	}
	failures := make(map[string]string, len(res.Failures))
	for _, f := range res.Failures {
		failures[f.Symbol] = f.Err.Error()
	}
	return map[string]interface{}{
		"scan_id":    res.ID,
		"symbols":    res.Symbols,
		"history":    res.Params.HistoryWindow,
		"candidates": candidates,
		"failures":   failures,
	}
}

func printScan(output *Output, res *breakout.ScanResult) {
	if len(res.Candidates) > 0 {
		table := NewTable(output, "Symbol", "Run start", "Margin", "Prior MA", "Low date", "Low", "High date", "High", "Buy date", "Potential")
		for _, c := range res.Candidates {
			prior := "-"
			if c.HasPriorMA {
				prior = FormatPrice(c.PriorMA)
			}
			buy := "-"
			if c.HasBuyDate {
				buy = FormatDate(c.BuyDate)
			}
			table.AddRow(
				output.ColoredString(ColorGreen, c.Symbol),
				FormatDate(c.RunStartDate),
				FormatPercent(c.MarginPct),
				prior,
				FormatDate(c.LowDate),
				FormatPrice(c.LowPrice),
				FormatDate(c.HighDate),
				FormatPrice(c.HighPrice),
				buy,
				FormatPercent(c.ProfitPotentialPct),
			)
		}
		table.Render()
	}
	for _, f := range res.Failures {
		output.Error("Error occurred while running scan for %s: %v", f.Symbol, f.Err)
	}
	if res.Empty() {
		output.Println("No results!")
	}
	if res.Params.Save {
		output.Dim("Saved as scan %s", res.ID)
	}
}
