package cli

import (
	"github.com/spf13/cobra"
)

func addHelpCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newQuickstartCmd())
}

type commandGroup struct {
	name     string
	commands [][2]string
}

var commandGroups = []commandGroup{
	{
		name: "Data",
		commands: [][2]string{
			{"sync", "Bring every watch-list symbol up to date once"},
			{"daemon", "Keep syncing until fresh, then wait for the schedule"},
			{"status", "Show freshness of the stored series"},
			{"series <symbol>", "Print the last stored bars"},
			{"runs [run-id]", "List journalled sync runs"},
		},
	},
	{
		name: "Scanning",
		commands: [][2]string{
			{"scan", "Find V20 breakout candidates"},
			{"scans", "List saved scans"},
			{"serve", "Run the web UI with background sync"},
		},
	},
	{
		name: "Watch-list",
		commands: [][2]string{
			{"watchlist show", "Print the stocks file"},
			{"watchlist set <symbols...>", "Replace the stocks file"},
			{"watchlist add/remove", "Edit the stocks file"},
		},
	},
	{
		name: "Setup",
		commands: [][2]string{
			{"auth login/logout/status", "Kite Connect session"},
			{"config show/path/validate", "Configuration"},
			{"version", "Version information"},
		},
	},
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "commands",
		Short:       "List all commands by category",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				groups := make(map[string]map[string]string, len(commandGroups))
				for _, g := range commandGroups {
					groups[g.name] = make(map[string]string, len(g.commands))
					for _, c := range g.commands {
						groups[g.name][c[0]] = c[1]
					}
				}
				return output.JSON(groups)
			}

			output.Bold("V20 Scanner Commands")
			output.Println()
			for _, g := range commandGroups {
				output.Bold(g.name)
				for _, c := range g.commands {
					output.Printf("  %-28s %s\n", output.ColoredString(ColorCyan, c[0]), c[1])
				}
				output.Println()
			}
			output.Dim("Use 'v20 help <command>' for detailed help on any command")
			return nil
		},
	}
}

func newQuickstartCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "quickstart",
		Short:       "New user guide",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{"Find the config", "A commented config.toml is written on first use.", "v20 config path"},
				{"Choose stocks", "The watch-list is one NSE symbol per line.", "v20 watchlist set TCS INFY HDFCBANK"},
				{"Download history", "The first sync fetches several years per symbol.", "v20 sync"},
				{"Scan", "List green runs that rose past the margin.", "v20 scan --margin 20"},
				{"Stay current", "Serve the UI and sync every weekday evening.", "v20 serve --addr :8080"},
			}

			output.Bold("V20 Scanner - Quick Start")
			output.Println()
			for i, s := range steps {
				output.Printf("%s Step %d: %s\n", output.ColoredString(ColorCyan, ">"), i+1, s.title)
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.ColoredString(ColorDim, s.cmd))
			}
			return nil
		},
	}
}
