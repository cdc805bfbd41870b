package cli

import (
	"github.com/spf13/cobra"

	"v20-scanner/internal/scheduler"
	"v20-scanner/internal/web"
)

func addServeCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser UI",
		Long: `Serve the web UI for editing the watch-list and running scans.

When server.sync_schedule is set (or --sync-schedule is given) a sync cycle
also runs in the background on that cron schedule.`,
		Example: `  v20 serve
  v20 serve --addr 127.0.0.1:8080 --sync-schedule "0 18 * * 1-5"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			spec, _ := cmd.Flags().GetString("sync-schedule")
			if spec == "" {
				spec = app.Config.Server.SyncSchedule
			}

			scanner, err := app.Scanner()
			if err != nil {
				return err
			}
			saveScans, _ := cmd.Flags().GetBool("save-scans")
			srv, err := web.NewServer(scanner, web.Options{
				StocksPath: app.Config.Data.StocksFile,
				Defaults:   app.ScanDefaults(),
				SaveScans:  saveScans,
			}, app.Logger)
			if err != nil {
				return err
			}

			if spec != "" {
				runner, err := app.Runner(0)
				if err != nil {
					return err
				}
				sched := scheduler.New(ctx, runner, app.LoadSymbols, app.Config.Location(), app.Logger)
				if err := sched.Register(spec); err != nil {
					return err
				}
				hook, err := app.SettledHook()
				if err != nil {
					return err
				}
				if hook != nil {
					sched.OnSettled(hook)
				}
				sched.Start()
				defer sched.Stop()
				app.Logger.Info().Str("schedule", spec).Msg("Background sync enabled")
			}

			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("sync-schedule", "", "cron schedule for background sync (default from config)")
	cmd.Flags().Bool("save-scans", false, "journal every scan run from the UI")
	rootCmd.AddCommand(cmd)
}
