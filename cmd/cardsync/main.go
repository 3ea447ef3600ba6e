// Command cardsync is the local-first contact synchronization CLI: it
// imports CSV address books into an embedded SQLite store, stages every
// remote mutation in a human-reviewed queue, and drains approved items to
// the remote contacts API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/perrindel/cardsync/internal/activity"
	"github.com/perrindel/cardsync/internal/config"
	"github.com/perrindel/cardsync/internal/importer"
	"github.com/perrindel/cardsync/internal/queue"
	"github.com/perrindel/cardsync/internal/remote"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/storage/sqlite"
)

var version = "dev"

// Shared command state, wired in ensureStore / buildRemote.
var (
	store      storage.Storage
	queueSvc   *queue.Queue
	cfgMgr     *config.Manager
	importSvc  *importer.Importer
	ledger     *activity.Ledger
	logger     *slog.Logger
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "cardsync",
	Short: "Local-first contact sync with a human-reviewed queue",
	Long: `cardsync keeps an address book in a local SQLite store and mirrors it
to a remote contacts API. Nothing reaches the remote without explicit
approval: imports and edits land in a sync queue, a human reviews each
item, and the sync engine drains only approved operations.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogging()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite store (default $CARDSYNC_DB or ./data/contacts.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")

	viper.SetEnvPrefix("cardsync")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	// Flags read by the remote client; bound here so they resolve through
	// the same precedence chain as everything else.
	_ = viper.BindEnv("readonly_mode", "READONLY_MODE")
	_ = viper.BindEnv("contacts_json_file", "CONTACTS_JSON_FILE")
	_ = viper.BindEnv("api_base")
	_ = viper.BindEnv("access_token")
	_ = viper.BindEnv("log_file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogging routes structured logs to a rotated file; the console stays
// reserved for command output.
func initLogging() {
	logPath := viper.GetString("log_file")
	if logPath == "" {
		logPath = filepath.Join(dataDir(), "cardsync.log")
	}
	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func dataDir() string {
	if db := viper.GetString("db"); db != "" {
		return filepath.Dir(db)
	}
	return "data"
}

func dbPath() string {
	if db := viper.GetString("db"); db != "" {
		return db
	}
	return filepath.Join("data", "contacts.db")
}

// ensureStore opens the SQLite store and wires the services over it.
// Commands that touch the store call this first.
func ensureStore(ctx context.Context) error {
	if store != nil {
		return nil
	}
	path := dbPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	s, err := sqlite.New(ctx, path)
	if err != nil {
		return err
	}
	store = s
	queueSvc = queue.New(store)
	cfgMgr = config.NewManager(store)
	ledger = activity.NewLedger(store, logger)
	importSvc = importer.New(store, nil, logger)
	return nil
}

func closeStore() {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Error("close store", "error", err)
	}
	store = nil
}

// buildRemote constructs the API client from the resolved environment.
// READONLY_MODE and CONTACTS_JSON_FILE are read once here, never on hot
// paths.
func buildRemote() (*remote.Client, error) {
	access := viper.GetString("access_token")
	if access == "" && viper.GetString("contacts_json_file") == "" {
		return nil, fmt.Errorf("no access token configured: set CARDSYNC_ACCESS_TOKEN or CONTACTS_JSON_FILE")
	}
	base := viper.GetString("api_base")
	if base == "" {
		base = "https://api.cardsync.dev/v1"
	}
	return remote.NewClient(remote.Options{
		BaseURL:     base,
		Tokens:      remote.NewStaticTokenSource(access),
		Logger:      logger,
		Readonly:    viper.GetBool("readonly_mode"),
		FixtureFile: viper.GetString("contacts_json_file"),
	})
}
