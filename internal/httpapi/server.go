package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/jobdesk/internal/config"
	"github.com/MimeLyc/jobdesk/internal/detail"
	"github.com/MimeLyc/jobdesk/internal/listing"
)

type viewSettingsStore interface {
	GetViewSettings() (config.ViewSettings, error)
	UpdateViewSettings(next config.ViewSettings) (config.ViewSettings, error)
}

type viewSettingsApplier func(next config.ViewSettings) error

type Server struct {
	list   *listing.Controller
	detail *detail.Controller
	events *Broadcaster

	settings viewSettingsStore
	apply    viewSettingsApplier
	now      func() time.Time

	streamInterval time.Duration
	uiEnabled      bool
	uiStaticDir    string

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithViewSettingsStore(store viewSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithViewSettingsApplier(apply viewSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithEvents feeds the job stream. The same broadcaster must be passed to
// listing.WithEvents.
func WithEvents(b *Broadcaster) Option {
	return func(s *Server) {
		s.events = b
	}
}

// WithStreamInterval sets how often the job stream resends the view when
// nothing changed.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func NewServer(list *listing.Controller, det *detail.Controller, opts ...Option) *Server {
	s := &Server{
		list:           list,
		detail:         det,
		now:            time.Now,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = NewBroadcaster()
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Put("/filter", s.handleSetFilter)
		r.Put("/sort", s.handleSetSort)
		r.Put("/page", s.handleSetPage)
		r.Put("/search", s.handleSetSearch)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/selection", s.handleSelection)
		r.Post("/batch", s.handleBatch)
		r.Get("/stream", s.handleJobStream)

		r.Get("/{id}", s.handleJobDetail)
		r.Put("/{id}/label", s.handleRenameJob)
		r.Get("/{id}/configuration", s.handleGetConfiguration)
		r.Put("/{id}/configuration", s.handleSaveConfiguration)
	})

	r.Get("/api/settings", s.handleGetSettings)
	r.Put("/api/settings", s.handleUpdateSettings)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(s.handleStatic)
	s.router = r
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" || strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// client-side routes fall back to index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
