package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/kernel/boardcol/pkg/board"
	"github.com/kernel/boardcol/pkg/cache"
	"github.com/kernel/boardcol/pkg/config"
	"github.com/kernel/boardcol/pkg/credentials"
	"github.com/kernel/boardcol/pkg/store"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// Metadata is set by main from build flags.
type Metadata struct {
	Version string
	Commit  string
}

var metadata Metadata

var rootCmd = &cobra.Command{
	Use:   "boardcol",
	Short: "Add client names to Board report tables",
	Long: `boardcol fetches clients and projects from the Board API, caches the
project number to client name mapping, and injects a 顧客名 column into the
cost table of Board's report details dialog.`,
	SilenceUsage:       true,
	PersistentPostRunE: closeDeps,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(mappingCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(testAPICmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute(ctx context.Context, m Metadata) error {
	metadata = m
	return fang.Execute(ctx, rootCmd,
		fang.WithVersion(m.Version),
		fang.WithCommit(m.Commit),
	)
}

// deps holds everything commands share. It is built on first use so that
// commands like completion never touch the keyring or the database.
type deps struct {
	cfg    config.Config
	logger *pterm.Logger
	db     *sql.DB
	client *board.Client
	creds  credentials.Store
	svc    *cache.Service
}

var loaded *deps

func getDeps(cmd *cobra.Command) (*deps, error) {
	if loaded != nil {
		return loaded, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd)

	db, err := store.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	client := board.NewClient(cfg.BaseURL,
		board.WithTimeout(cfg.HTTPTimeout),
		board.WithLogger(logger),
	)
	creds := credentials.EnvOverride{
		Store:    credentials.NewKeyringStore(cfg.KeyringService),
		Override: cfg.EnvCredentials(),
	}
	svc := cache.New(client, creds, store.NewCacheStore(db),
		cache.WithTTL(cfg.CacheTTL),
		cache.WithLogger(logger),
	)

	loaded = &deps{cfg: cfg, logger: logger, db: db, client: client, creds: creds, svc: svc}
	return loaded, nil
}

func closeDeps(cmd *cobra.Command, args []string) error {
	if loaded == nil {
		return nil
	}
	err := loaded.db.Close()
	loaded = nil
	return err
}

func newLogger(cmd *cobra.Command) *pterm.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return pterm.DefaultLogger.
		WithLevel(parseLogLevel(level)).
		WithWriter(os.Stderr)
}

func parseLogLevel(s string) pterm.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "info":
		return pterm.LogLevelInfo
	case "error":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelWarn
	}
}
