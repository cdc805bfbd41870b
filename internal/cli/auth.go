package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"v20-scanner/internal/models"
	"v20-scanner/internal/source"
)

func addAuthCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Kite Connect session",
		Long: `Log in to Zerodha Kite Connect so that 'sync.source = "kite"' can fetch
history. The session is saved to kite.token_path and stays valid until
06:00 IST the next day.`,
	}
	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	rootCmd.AddCommand(cmd)
}

func kiteSource(app *App) (*source.KiteSource, error) {
	if app.Config.Kite.APIKey == "" {
		return nil, fmt.Errorf("kite.api_key is not configured")
	}
	return source.NewKiteSource(source.KiteConfig{
		APIKey:    app.Config.Kite.APIKey,
		APISecret: app.Config.Kite.APISecret,
		TokenPath: app.Config.Kite.TokenPath,
		Exchange:  models.NSE,
	}), nil
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to Kite Connect",
		Example: `  v20 auth login
  v20 auth login --token <request_token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			kite, err := kiteSource(app)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if kite.IsAuthenticated() {
				output.Success("Session still valid until %s", FormatDateTime(kite.SessionExpiry()))
				return nil
			}

			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				token = promptRequestToken(cmd, output, kite.LoginURL())
			}
			if token == "" {
				err := fmt.Errorf("no request token given")
				output.Error("%v", err)
				return err
			}

			if err := kite.CompleteLogin(token); err != nil {
				output.Error("Login failed: %v", err)
				return err
			}
			output.Success("Logged in; session valid until %s", FormatDateTime(kite.SessionExpiry()))
			return nil
		},
	}

	cmd.Flags().String("token", "", "request token from the redirect URL")
	return cmd
}

// promptRequestToken shows the login URL, tries to open it, and reads the
// request_token pasted back from the redirect.
func promptRequestToken(cmd *cobra.Command, output *Output, loginURL string) string {
	output.Info("Log in to Zerodha at:")
	output.Println("  " + loginURL)
	if err := openURL(loginURL); err != nil {
		output.Dim("(open the link manually: %v)", err)
	}
	output.Println()
	output.Println("Zerodha then redirects to your app's redirect URL with")
	output.Println("?request_token=...&status=success appended.")
	output.Printf("request_token: ")

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

var browserLaunchers = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

func openURL(url string) error {
	argv, ok := browserLaunchers[runtime.GOOS]
	if !ok {
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}
	c := exec.Command(argv[0], append(argv[1:], url)...)
	c.Stderr = os.Stderr
	return c.Start()
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved Kite session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			kite, err := kiteSource(app)
			if err != nil {
				return err
			}
			if err := kite.Logout(); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"success": true})
			}
			output.Success("Logged out")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the Kite session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			kite, err := kiteSource(app)
			if err != nil {
				return err
			}
			expiry := kite.SessionExpiry()
			valid := kite.IsAuthenticated()

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"authenticated": valid,
					"expires_at":    expiry,
				})
			}
			if !valid {
				output.Warning("No valid Kite session; run 'v20 auth login'")
				return nil
			}
			output.Success("Kite session valid until %s (%s left)", FormatDateTime(expiry), FormatDuration(time.Until(expiry)))
			return nil
		},
	}
}
