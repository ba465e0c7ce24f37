// Package cli is the jobdesk command line: the HTTP server plus job
// commands that run against the local SQLite job service.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/jobdesk/internal/config"
	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/listing"
	"github.com/MimeLyc/jobdesk/internal/persistence"
	"github.com/MimeLyc/jobdesk/internal/recordstore"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

var (
	envFile    string
	jsonOutput bool

	fileLogger *log.FileLogger
)

var rootCmd = &cobra.Command{
	Use:           "jobdesk",
	Short:         "Browse, filter and batch-operate on image pipeline jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file instead of .env")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
}

// Execute runs the command line with ctx as the root context.
func Execute(ctx context.Context) error {
	defer closeFileLogger()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads env and the runtime view settings file, then installs
// the configured logger.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := os.Setenv("ENV_FILE", envFile); err != nil {
			return nil, err
		}
	}
	settingsOpt, err := config.LoadViewSettingsOption(config.ViewSettingsFilePath())
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewFromEnv(settingsOpt)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) error {
	level := log.ParseLevel(cfg.Level)
	if cfg.File == "" {
		log.InitLogger(level)
		return nil
	}
	closeFileLogger()
	fl, err := log.NewFileLogger(cfg.File, level)
	if err != nil {
		return err
	}
	fileLogger = fl
	log.SetLogger(fl.Logger)
	return nil
}

func closeFileLogger() {
	if fileLogger == nil {
		return
	}
	_ = fileLogger.Close()
	fileLogger = nil
}

func openStore(cfg *config.Config) (*persistence.SQLiteStore, error) {
	return persistence.NewSQLiteStore(cfg.Data.DBPath, persistence.WithExportDir(cfg.Data.ExportDir))
}

// newListing builds a list controller from the view config. extra options
// are applied last.
func newListing(cfg *config.Config, svc jobs.JobService, extra ...listing.Option) (*listing.Controller, error) {
	mode, err := recordstore.ParseFetchMode(cfg.View.FetchMode)
	if err != nil {
		return nil, err
	}
	opts := []listing.Option{
		listing.WithLocale(cfg.View.SortLocale),
		listing.WithSearchDelay(cfg.View.SearchDebounce),
		listing.WithInitialQuery(cfg.View.InitialQuery()),
	}
	if cfg.View.BulkExport {
		opts = append(opts, listing.WithBulkExport())
	}
	opts = append(opts, extra...)
	return listing.New(svc, mode, opts...), nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
