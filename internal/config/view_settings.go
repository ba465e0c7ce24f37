package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/jobdesk/internal/view"
	"github.com/MimeLyc/jobdesk/pkg/file"
)

const DefaultViewSettingsFile = "/app/config/settings.json"

// ViewSettings are the list defaults a user can change at runtime.
type ViewSettings struct {
	DefaultPageSize int    `json:"default_page_size"`
	SortField       string `json:"sort_field"`
	SortDirection   string `json:"sort_direction"`
	RefreshCron     string `json:"refresh_cron"`
	SortLocale      string `json:"sort_locale"`
}

func ViewSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultViewSettingsFile)
}

func (s ViewSettings) Validate() error {
	if !view.ValidPageSize(s.DefaultPageSize) {
		return fmt.Errorf("default_page_size must be one of %v", view.PageSizes)
	}
	if err := s.Sort().Validate(); err != nil {
		return fmt.Errorf("invalid sort: %w", err)
	}
	if strings.TrimSpace(s.RefreshCron) != "" {
		if _, err := cron.ParseStandard(s.RefreshCron); err != nil {
			return fmt.Errorf("invalid refresh_cron: %w", err)
		}
	}
	if strings.TrimSpace(s.SortLocale) == "" {
		return fmt.Errorf("sort_locale is required")
	}
	if _, err := language.Parse(s.SortLocale); err != nil {
		return fmt.Errorf("invalid sort_locale: %w", err)
	}
	return nil
}

func (s ViewSettings) Sort() view.SortSpec {
	return view.SortSpec{
		Field:     view.Field(strings.TrimSpace(s.SortField)),
		Direction: view.Direction(strings.ToLower(strings.TrimSpace(s.SortDirection))),
	}
}

func (c *Config) ViewSettings() ViewSettings {
	return ViewSettings{
		DefaultPageSize: c.View.DefaultPageSize,
		SortField:       string(c.View.DefaultSort.Field),
		SortDirection:   string(c.View.DefaultSort.Direction),
		RefreshCron:     c.View.RefreshCron,
		SortLocale:      c.View.SortLocale.String(),
	}
}

// WithViewSettings overrides env values with every usable field of settings.
func WithViewSettings(settings ViewSettings) Option {
	return func(c *Config) {
		if view.ValidPageSize(settings.DefaultPageSize) {
			c.View.DefaultPageSize = settings.DefaultPageSize
		}
		if sort := settings.Sort(); sort.Validate() == nil {
			c.View.DefaultSort = sort
		}
		if strings.TrimSpace(settings.RefreshCron) != "" {
			c.View.RefreshCron = settings.RefreshCron
		}
		if tag, err := language.Parse(settings.SortLocale); err == nil {
			c.View.SortLocale = tag
		}
	}
}

func LoadViewSettingsFile(path string) (ViewSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ViewSettings{}, err
	}
	var settings ViewSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return ViewSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

// LoadViewSettingsOption reads path into an Option. A missing file yields
// a no-op option.
func LoadViewSettingsOption(path string) (Option, error) {
	settings, err := LoadViewSettingsFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return func(*Config) {}, nil
	}
	if err != nil {
		return nil, err
	}
	return WithViewSettings(settings), nil
}

func WriteViewSettingsFile(path string, settings ViewSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return file.WriteAtomic(path, append(content, '\n'), 0o600)
}

type ViewSettingsStore struct {
	path string

	mu      sync.RWMutex
	current ViewSettings
}

func NewViewSettingsStore(path string, initial ViewSettings) (*ViewSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &ViewSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *ViewSettingsStore) GetViewSettings() (ViewSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *ViewSettingsStore) UpdateViewSettings(next ViewSettings) (ViewSettings, error) {
	if err := next.Validate(); err != nil {
		return ViewSettings{}, err
	}
	if err := WriteViewSettingsFile(s.path, next); err != nil {
		return ViewSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
