package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# v20 scanner configuration
# Relative paths are resolved against this directory.

[data]
# Directory holding one CSV per symbol
dir = "data"
# Watch-list, one symbol per line
stocks_file = "stocks.txt"
# SQLite journal of sync runs and saved scans
journal_path = "journal.db"
# Years of history fetched for a symbol with no stored data
initial_years = 5
# Moving average window (bars)
ma_window = 200

[sync]
# History source: "nse" or "kite"
source = "nse"
# Random pause between symbols
delay_min = "3s"
delay_max = "5s"
# Symbols synced in parallel
workers = 1
# Cron schedule the daemon waits for once everything is fresh
schedule = "0 18 * * 1-5"
# Request rate limit towards the source
rate_per_sec = 1.0
burst = 2

[scan]
# Bars at the end of each series to scan
history = 10
# Minimum run margin, percent
margin = 20.0
# Skip runs where the last close is already far above the run low
filter_by_last_close = true
last_close_margin = 5.0

[nse]
base_url = "https://www.nseindia.com"
# Maximum days requested per call
chunk_days = 365
timeout = "30s"
# Attempts per request on throttling, 5xx and timeouts
retries = 3

[kite]
# api_key and api_secret can also be supplied via KITE_API_KEY / KITE_API_SECRET
api_key = ""
api_secret = ""
token_path = "kite_session.json"

[server]
addr = ":8000"
# Cron schedule for background sync while serving; empty disables it
sync_schedule = ""

[market]
timezone = "Asia/Kolkata"
# Extra exchange holidays, YYYY-MM-DD
holidays = []

[notifications]
# Sent after scheduled syncs: "all", "candidates_only" or "errors_only"
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
# bot_token can also be supplied via TELEGRAM_BOT_TOKEN
enabled = false
bot_token = ""
chat_id = ""

[logging]
level = "info"
console = true
file = true
file_path = "logs/v20.log"
max_size = 100
max_backups = 7
max_age = 30

[tracing]
enabled = false
service_name = "v20-scanner"
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

// TemplatePath returns where the config file lives inside configDir.
func TemplatePath(configDir string) string {
	return filepath.Join(configDir, "config.toml")
}
