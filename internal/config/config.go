package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/jobdesk/internal/view"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

// Config holds all application configuration.
// Values come from the environment (optionally seeded from a .env file) with
// sensible defaults, then runtime view settings are layered on top.
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - UI_ENABLED: serve the static front-end (default: true)
// - UI_STATIC_DIR: front-end build directory (default: /app/web)
//
// Data:
// - DATA_DIR: base directory for local state (default: /app/data)
// - DB_PATH: SQLite job database (default: $DATA_DIR/jobdesk.db)
// - EXPORT_DIR: where exports are written (default: $DATA_DIR/exports)
//
// View:
// - FETCH_MODE: all | paged (default: all)
// - DEFAULT_PAGE_SIZE: 10, 25, 50 or 100 (default: 25)
// - SEARCH_DEBOUNCE_MS: quiet period before a search applies (default: 300)
// - REFRESH_CRON: auto refresh schedule, empty disables (default: */5 * * * *)
// - SORT_LOCALE: collation locale for text sorting (default: en)
// - BULK_EXPORT: export a selection in one call when supported (default: true)
//
// Logging:
// - LOG_LEVEL: debug | info | warn | error (default: info)
// - LOG_FILE: also write logs to this file (optional)
//
// - ENV_FILE: .env file to load first (default: .env)
// - SETTINGS_FILE: runtime view settings (default: /app/config/settings.json)
type Config struct {
	HTTP HTTPConfig `json:"http"`
	Data DataConfig `json:"data"`
	View ViewConfig `json:"view"`
	Log  LogConfig  `json:"log"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

type DataConfig struct {
	Dir       string `json:"dir"`
	DBPath    string `json:"db_path"`
	ExportDir string `json:"export_dir"`
}

type ViewConfig struct {
	FetchMode       string        `json:"fetch_mode"`
	DefaultPageSize int           `json:"default_page_size"`
	DefaultSort     view.SortSpec `json:"default_sort"`
	SearchDebounce  time.Duration `json:"search_debounce"`
	RefreshCron     string        `json:"refresh_cron"`
	SortLocale      language.Tag  `json:"sort_locale"`
	BulkExport      bool          `json:"bulk_export"`
}

// InitialQuery is the list query a fresh session starts from.
func (v ViewConfig) InitialQuery() view.Query {
	q := view.DefaultQuery()
	q.PageSize = v.DefaultPageSize
	if v.DefaultSort.Field != "" {
		q.Sort = v.DefaultSort
	}
	return q
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	loadDotEnv(getEnvString("ENV_FILE", ".env"))

	dataDir := getEnvString("DATA_DIR", "/app/data")
	config := &Config{
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			UIEnabled:   getEnvBool("UI_ENABLED", true),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
		},
		Data: DataConfig{
			Dir:       dataDir,
			DBPath:    getEnvString("DB_PATH", filepath.Join(dataDir, "jobdesk.db")),
			ExportDir: getEnvString("EXPORT_DIR", filepath.Join(dataDir, "exports")),
		},
		View: ViewConfig{
			FetchMode:       strings.ToLower(getEnvString("FETCH_MODE", "all")),
			DefaultPageSize: getEnvInt("DEFAULT_PAGE_SIZE", view.DefaultPageSize),
			DefaultSort:     view.DefaultSort(),
			SearchDebounce:  time.Duration(getEnvInt("SEARCH_DEBOUNCE_MS", 300)) * time.Millisecond,
			RefreshCron:     os.Getenv("REFRESH_CRON"),
			SortLocale:      language.English,
			BulkExport:      getEnvBool("BULK_EXPORT", true),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			File:  getEnvString("LOG_FILE", ""),
		},
	}
	if _, set := os.LookupEnv("REFRESH_CRON"); !set {
		config.View.RefreshCron = "*/5 * * * *"
	}
	if raw := getEnvString("SORT_LOCALE", ""); raw != "" {
		tag, err := language.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SORT_LOCALE: %w", err)
		}
		config.View.SortLocale = tag
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: %+v", *config)
	return config, nil
}

// loadDotEnv seeds unset variables from path. A missing file is fine.
func loadDotEnv(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load %s: %v", path, err)
	}
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Data.DBPath) == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	switch c.View.FetchMode {
	case "all", "paged":
	default:
		return fmt.Errorf("FETCH_MODE must be all or paged, got %q", c.View.FetchMode)
	}
	if !view.ValidPageSize(c.View.DefaultPageSize) {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be one of %v", view.PageSizes)
	}
	if err := c.View.DefaultSort.Validate(); err != nil {
		return fmt.Errorf("invalid default sort: %w", err)
	}
	if c.View.SearchDebounce <= 0 {
		return fmt.Errorf("SEARCH_DEBOUNCE_MS must be positive")
	}
	if c.View.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.View.RefreshCron); err != nil {
			return fmt.Errorf("invalid REFRESH_CRON: %w", err)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
