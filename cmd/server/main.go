/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the dues engine. Starts the HTTP server, prints
  a ledger to the terminal, or writes a starter configuration.

COMMANDS:
  dues serve              Run the HTTP API and the periodic refresh
  dues ledger             Run one reconciliation cycle and print it
  dues config init PATH   Write the default configuration as YAML

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults, --config file, DUES_* environment)
  2. Initialize SQLite store (migrations run on open)
  3. Create reconciler, handler and router
  4. Optionally load a demo scenario
  5. Start refresh scheduler and HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the refresh scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  dues serve --config ./dues.yaml

  # Demo data in memory
  DUES_DATABASE_PATH=":memory:" dues serve --scenario mixed-academy

  # Statement for one player as of a date
  dues ledger --account V-30111222 --as-of 2026-02-10

SEE ALSO:
  - config/config.go: Configuration keys and precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"os"
	"unicode"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/dues-engine/config"
	"github.com/warp/dues-engine/logger"
)

var cfgFile string

func main() {
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " ERROR ",
		Style: pterm.NewStyle(pterm.BgLightRed, pterm.FgBlack),
	}

	rootCmd := &cobra.Command{
		Use:           "dues",
		Short:         "dues reconciles academy fee payments into a monthly ledger",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "set the config file path")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLedgerCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(capitalize(err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the process logger from it.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.ConfigPath != "" {
		log.Debug().Str("path", cfg.ConfigPath).Msg("configuration file loaded")
	}
	return cfg, log, nil
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
