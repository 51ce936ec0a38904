// Package http exposes the page tree and the page files to an editor host over a local HTTP API.
package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growiclient/app/internal/explorer"
	"growiclient/app/internal/growi"
	"growiclient/app/internal/pagefs"
)

// TreeService is the page tree the API exposes.
type TreeService interface {
	Root(ctx context.Context) (*explorer.Entry, error)
	Children(path string) []explorer.Entry
	LoadNextPages(path string) bool
	Refresh(path string) bool
	RefreshNearestLoaded(path string) (string, bool)
	IsLoaded(path string) bool
	Node(path string) (explorer.NodeState, bool)
}

// FileService reads and writes page bodies by locator.
type FileService interface {
	ReadFile(ctx context.Context, locator string) ([]byte, error)
	WriteFile(ctx context.Context, locator string, content []byte, opts pagefs.WriteOptions) error
}

// PageService covers the page commands that bypass the file provider.
type PageService interface {
	PageExists(ctx context.Context, path string) (bool, error)
	CreatePage(ctx context.Context, path, body string) (*growi.Page, error)
	PageURL(path string, edit bool) (string, error)
}

var (
	_ TreeService = (*explorer.Explorer)(nil)
	_ FileService = (*pagefs.Provider)(nil)
	_ PageService = (*growi.Client)(nil)
)

// Options configures the HTTP server wiring.
type Options struct {
	Tree        TreeService
	Files       FileService
	Pages       PageService
	Database    *gorm.DB
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
	RateLimiter RateLimiterSettings
	Version     string
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server wires the HTTP transport layer via Huma and templ components.
type Server struct {
	api         huma.API
	mux         *stdhttp.ServeMux
	tree        TreeService
	files       FileService
	pages       PageService
	logger      *logrus.Logger
	sentry      *sentry.Hub
	db          *gorm.DB
	rateLimiter *RateLimiter
}

func (o Options) validate() error {
	switch {
	case o.Tree == nil:
		return eris.New("page tree is required")
	case o.Files == nil:
		return eris.New("file provider is required")
	case o.Pages == nil:
		return eris.New("page service is required")
	case o.Database == nil:
		return eris.New("database is required")
	case o.RateLimiter.Burst <= 0:
		return eris.New("rate limiter burst must be greater than zero")
	case o.RateLimiter.RequestsPerSecond <= 0:
		return eris.New("rate limiter requests per second must be greater than zero")
	case o.RateLimiter.ClientTTL <= 0:
		return eris.New("rate limiter client TTL must be greater than zero")
	}
	return nil
}

// NewServer builds the API, its middleware chain and routes.
func NewServer(opts Options) (*Server, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig("Growi Client", version)
	config.Info.Description = "Page tree and page files of a Growi wiki for a local editor host."

	srv := &Server{
		api:    humago.New(mux, config),
		mux:    mux,
		tree:   opts.Tree,
		files:  opts.Files,
		pages:  opts.Pages,
		logger: opts.Logger,
		sentry: opts.SentryHub,
		db:     opts.Database,
		rateLimiter: NewRateLimiter(
			opts.RateLimiter.Burst,
			opts.RateLimiter.RequestsPerSecond,
			opts.RateLimiter.ClientTTL,
		),
	}

	srv.api.UseMiddleware(
		srv.requestScope,
		srv.recoverPanics,
		srv.limitRate,
		srv.accessLog,
	)

	srv.registerHomeRoute()
	srv.registerHealthRoute()
	srv.registerTreeRoutes()
	srv.registerFileRoutes()
	srv.registerPageRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
}

// ServeHTTP serves the API.
func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}
