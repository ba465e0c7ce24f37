package cli

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/jobdesk/internal/config"
	"github.com/MimeLyc/jobdesk/internal/detail"
	"github.com/MimeLyc/jobdesk/internal/httpapi"
	"github.com/MimeLyc/jobdesk/internal/listing"
	"github.com/MimeLyc/jobdesk/internal/metrics"
	"github.com/MimeLyc/jobdesk/pkg/icron"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

const (
	shutdownTimeout = 5 * time.Second
	refreshTimeout  = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job list API and UI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type refresher interface {
	Refresh(ctx context.Context) error
}

type poller interface {
	Poll(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics.MustRegister()

	events := httpapi.NewBroadcaster()
	list, err := newListing(cfg, store, listing.WithEvents(events.Publish))
	if err != nil {
		return err
	}
	defer list.Close()

	cronRunner := cron.New()
	auto := newAutoRefresh(cronRunner, list)
	if err := auto.Schedule(cfg.View.RefreshCron); err != nil {
		return err
	}

	opts := []httpapi.Option{
		httpapi.WithEvents(events),
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithViewSettingsApplier(func(next config.ViewSettings) error {
			return auto.Schedule(next.RefreshCron)
		}),
	}
	settingsStore, err := config.NewViewSettingsStore(config.ViewSettingsFilePath(), cfg.ViewSettings())
	if err != nil {
		log.Warn("Runtime view settings disabled: %v", err)
	} else {
		opts = append(opts, httpapi.WithViewSettingsStore(settingsStore))
	}

	server := httpapi.NewServer(list, detail.New(store), opts...)
	return runWithComponents(ctx, cfg, list, cronRunner, server)
}

func runWithComponents(ctx context.Context, cfg *config.Config, list refresher, cronRunner cronEngine, server httpServer) error {
	if err := list.Refresh(ctx); err != nil {
		// the list keeps its error state; the UI can retry
		log.Warn("Initial job list fetch failed: %v", err)
	}

	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- server.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// autoRefresh re-fetches the job list on a cron schedule that can be
// replaced while running.
type autoRefresh struct {
	cron *cron.Cron
	list poller

	mu    sync.Mutex
	entry cron.EntryID
	expr  string
}

func newAutoRefresh(c *cron.Cron, list poller) *autoRefresh {
	return &autoRefresh{cron: c, list: list}
}

// Schedule replaces the current schedule. An empty expression disables
// auto refresh.
func (a *autoRefresh) Schedule(expr string) error {
	expr = strings.TrimSpace(expr)

	a.mu.Lock()
	defer a.mu.Unlock()
	if expr == a.expr && (a.entry != 0 || expr == "") {
		return nil
	}

	var schedule cron.Schedule
	if expr != "" {
		var err error
		if schedule, err = icron.Parse(expr); err != nil {
			return err
		}
	}

	if a.entry != 0 {
		a.cron.Remove(a.entry)
		a.entry = 0
	}
	a.expr = expr
	if schedule == nil {
		log.Info("Auto refresh disabled")
		return nil
	}
	a.entry = a.cron.Schedule(schedule, cron.FuncJob(a.run))
	log.Info("Auto refresh scheduled: %s", expr)
	return nil
}

func (a *autoRefresh) Expression() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expr
}

func (a *autoRefresh) run() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := a.list.Poll(ctx); err != nil {
		log.Warn("Auto refresh failed: %v", err)
	}
}
