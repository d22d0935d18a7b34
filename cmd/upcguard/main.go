// Command upcguard analyzes inventory files for UPC/SKU conflicts from the
// command line. Runs are stored in SQLite by default so a run that needs a
// column mapping can be resumed later.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upcguard/internal/application"
	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/logging"
)

// errRunsFailed makes the process exit non-zero without a second message.
var errRunsFailed = errors.New("one or more analyses failed")

type globalOptions struct {
	driver     string
	sqlitePath string
	logLevel   string
	jsonOut    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunsFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalOptions

	root := &cobra.Command{
		Use:           "upcguard",
		Short:         "Find UPC and SKU conflicts in warehouse inventory files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.driver, "db", "", "store: sqlite, memory or postgres (default sqlite, or DATABASE_DRIVER)")
	root.PersistentFlags().StringVar(&g.sqlitePath, "sqlite-path", "", "SQLite database file (default SQLITE_PATH or upcguard.db)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newAnalyzeCmd(&g),
		newResumeCmd(&g),
		newRunsCmd(&g),
		newConflictsCmd(&g),
		newSetStatusCmd(&g),
	)
	return root
}

// loadConfig reads the environment (and .env) and applies global flags.
func loadConfig(g *globalOptions, apply func(*config.Config)) (*config.Config, error) {
	_ = godotenv.Load()
	envDriver := os.Getenv("DATABASE_DRIVER")

	cfg, err := config.LoadWith(func(c *config.Config) {
		switch {
		case g.driver != "":
			c.Database.Driver = g.driver
		case envDriver == "":
			c.Database.Driver = config.DriverSQLite
		}
		if g.sqlitePath != "" {
			c.Database.SQLitePath = g.sqlitePath
		}
		c.Logging.Level = g.logLevel
		if apply != nil {
			apply(c)
		}
	})
	if err != nil {
		return nil, err
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// openApp loads configuration and starts the service.
func openApp(ctx context.Context, g *globalOptions, apply func(*config.Config)) (*application.App, error) {
	cfg, err := loadConfig(g, apply)
	if err != nil {
		return nil, err
	}
	return application.New(ctx, cfg)
}
