// Package cli provides the command-line interface for the scanner.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"v20-scanner/internal/analysis/breakout"
	"v20-scanner/internal/config"
	"v20-scanner/internal/logging"
	"v20-scanner/internal/market"
	"v20-scanner/internal/notify"
	"v20-scanner/internal/scheduler"
	"v20-scanner/internal/source"
	"v20-scanner/internal/store"
	"v20-scanner/internal/syncer"
	"v20-scanner/internal/trace"
	"v20-scanner/internal/watchlist"
)

// Version information
var (
	Version   = "0.3.0"
	BuildDate = "unknown"
)

// skipConfig marks commands that run without a loaded configuration.
const skipConfig = "skip-config"

// App holds the application dependencies. Stores and sources are opened on
// first use so that commands only touch what they need.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	ConfigDir string

	series  *store.CSVStore
	journal *store.SQLiteJournal
	source  source.HistorySource
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "v20",
		Short: "V20 breakout scanner for NSE equities",
		Long: `v20 keeps a local, split- and bonus-adjusted daily price history for a
watch-list of NSE symbols and scans it for V20 breakout runs: streaks of
green candles whose low-to-high range clears a margin threshold.

Use 'v20 sync' to bring the history up to date, 'v20 scan' to look for
candidates, and 'v20 serve' for the browser UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.ConfigDir, _ = cmd.Flags().GetString("config")
			if app.ConfigDir == "" {
				app.ConfigDir = config.DefaultConfigDir()
			}
			debug, _ := cmd.Flags().GetBool("debug")

			if cmd.Annotations[skipConfig] == "" {
				if err := app.loadConfig(); err != nil {
					return err
				}
			}
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/v20-scanner)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addSyncCommands(rootCmd, app)
	addScanCommands(rootCmd, app)
	addServeCommand(rootCmd, app)
	addDataCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addHelpCommands(rootCmd)

	return rootCmd
}

// loadConfig reads the configuration and rebuilds the logger and tracer
// from it.
func (a *App) loadConfig() error {
	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	a.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})

	if err := trace.Init(trace.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
	}); err != nil {
		a.Logger.Warn().Err(err).Msg("Tracing disabled")
	}
	return nil
}

// Close releases whatever the command opened.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := trace.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to flush spans")
	}
	if a.journal != nil {
		err := a.journal.Close()
		a.journal = nil
		return err
	}
	return nil
}

// Series returns the per-symbol CSV store.
func (a *App) Series() (*store.CSVStore, error) {
	if a.series == nil {
		s, err := store.NewCSVStore(a.Config.Data.Dir)
		if err != nil {
			return nil, err
		}
		a.series = s
	}
	return a.series, nil
}

// Journal returns the SQLite sync journal.
func (a *App) Journal() (*store.SQLiteJournal, error) {
	if a.journal == nil {
		j, err := store.NewSQLiteJournal(a.Config.Data.JournalPath)
		if err != nil {
			return nil, err
		}
		a.journal = j
	}
	return a.journal, nil
}

// Source returns the configured history source.
func (a *App) Source() (source.HistorySource, error) {
	if a.source == nil {
		src, err := source.New(a.Config)
		if err != nil {
			return nil, err
		}
		a.source = src
	}
	return a.source, nil
}

// Calendar returns the trading calendar with configured extra holidays.
func (a *App) Calendar() (*market.Calendar, error) {
	cal := market.NewCalendar(a.Config.Location())
	if err := cal.AddHolidayStrings(a.Config.Market.Holidays); err != nil {
		return nil, err
	}
	return cal, nil
}

// LoadSymbols reads the configured watch-list.
func (a *App) LoadSymbols() ([]string, error) {
	return watchlist.Load(a.Config.Data.StocksFile)
}

// Runner assembles the sync cycle runner.
func (a *App) Runner(initialYears int) (*syncer.Runner, error) {
	series, err := a.Series()
	if err != nil {
		return nil, err
	}
	src, err := a.Source()
	if err != nil {
		return nil, err
	}
	journal, err := a.Journal()
	if err != nil {
		return nil, err
	}
	cal, err := a.Calendar()
	if err != nil {
		return nil, err
	}
	if initialYears <= 0 {
		initialYears = a.Config.Data.InitialYears
	}

	engine := syncer.NewEngine(series, src, a.Config.Data.MAWindow, a.Logger)
	return syncer.NewRunner(engine, series, journal, cal, syncer.RunnerConfig{
		Workers:      a.Config.Sync.Workers,
		DelayMin:     a.Config.Sync.DelayMin,
		DelayMax:     a.Config.Sync.DelayMax,
		InitialYears: initialYears,
		Source:       src.Name(),
	}, a.Logger), nil
}

// Scanner assembles the breakout scanner.
func (a *App) Scanner() (*breakout.Scanner, error) {
	series, err := a.Series()
	if err != nil {
		return nil, err
	}
	journal, err := a.Journal()
	if err != nil {
		return nil, err
	}
	return breakout.NewScanner(series, journal, a.Config.Sync.Workers, a.Logger), nil
}

// ScanDefaults returns the configured scan parameters.
func (a *App) ScanDefaults() breakout.ScanParams {
	return breakout.ScanParams{
		HistoryWindow: a.Config.Scan.History,
		Config: breakout.Config{
			MarginThresholdPct:          a.Config.Scan.MarginPct,
			FilterByLastClose:           a.Config.Scan.FilterByLastClose,
			LastCloseMarginThresholdPct: a.Config.Scan.LastCloseMarginThreshold,
		},
	}
}

// Notifier returns the notifier built from the [notifications] section.
func (a *App) Notifier() *notify.MultiNotifier {
	return notify.NewMultiNotifier(a.Config.Notifications)
}

// SettledHook sends the cycle summary, then scans the watch-list and sends
// any candidates. It is nil when no notification channel is configured.
func (a *App) SettledHook() (scheduler.CycleHook, error) {
	notifier := a.Notifier()
	if !notifier.Enabled() {
		return nil, nil
	}
	scanner, err := a.Scanner()
	if err != nil {
		return nil, err
	}
	params := a.ScanDefaults()
	logger := a.Logger

	return func(ctx context.Context, symbols []string, report *syncer.CycleReport) {
		if err := notifier.SendCycle(ctx, report.Run); err != nil {
			logger.Warn().Err(err).Msg("Failed to send sync notification")
		}
		res, err := scanner.Scan(ctx, symbols, params)
		if res == nil {
			logger.Warn().Err(err).Msg("Post-sync scan failed")
			return
		}
		if err := notifier.SendCandidates(ctx, res.ID, res.Candidates); err != nil {
			logger.Warn().Err(err).Msg("Failed to send candidate notification")
		}
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("v20 scanner v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				masked := *app.Config
				if masked.Kite.APISecret != "" {
					masked.Kite.APISecret = "********"
				}
				if masked.Notifications.Telegram.BotToken != "" {
					masked.Notifications.Telegram.BotToken = "********"
				}
				return output.JSON(masked)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration file path",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.TemplatePath(app.ConfigDir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := config.Load(app.ConfigDir); err != nil {
				if output.IsJSON() {
					_ = output.JSON(map[string]interface{}{"valid": false, "error": err.Error()})
				} else {
					output.Error("Configuration validation failed: %v", err)
				}
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Data")
	output.Printf("  Directory:       %s\n", cfg.Data.Dir)
	output.Printf("  Stocks file:     %s\n", cfg.Data.StocksFile)
	output.Printf("  Journal:         %s\n", cfg.Data.JournalPath)
	output.Printf("  Initial years:   %d\n", cfg.Data.InitialYears)
	output.Printf("  MA window:       %d\n", cfg.Data.MAWindow)
	output.Println()

	output.Bold("Sync")
	output.Printf("  Source:          %s\n", cfg.Sync.Source)
	output.Printf("  Delay:           %s .. %s\n", cfg.Sync.DelayMin, cfg.Sync.DelayMax)
	output.Printf("  Workers:         %d\n", cfg.Sync.Workers)
	output.Printf("  Schedule:        %s\n", cfg.Sync.Schedule)
	output.Printf("  Rate limit:      %.2f/s (burst %d)\n", cfg.Sync.RatePerSec, cfg.Sync.Burst)
	output.Println()

	output.Bold("Scan defaults")
	output.Printf("  History:         %d bars\n", cfg.Scan.History)
	output.Printf("  Margin:          %s\n", fmt.Sprintf("%.2f%%", cfg.Scan.MarginPct))
	output.Printf("  Last-close filter: %v (%.2f%%)\n", cfg.Scan.FilterByLastClose, cfg.Scan.LastCloseMarginThreshold)
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	sched := cfg.Server.SyncSchedule
	if sched == "" {
		sched = "disabled"
	}
	output.Printf("  Background sync: %s\n", sched)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
}
