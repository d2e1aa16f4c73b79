// Package api serves the document ingestion HTTP interface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/cache"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/intake"
	"github.com/sells-group/fin-ingest/internal/lifecycle"
	"github.com/sells-group/fin-ingest/internal/pipeline"
	"github.com/sells-group/fin-ingest/internal/store"
)

// principalHeader carries the caller identity set by the fronting gateway.
const principalHeader = "X-MS-CLIENT-PRINCIPAL-ID"

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

// Server holds the handler dependencies.
type Server struct {
	cfg     *config.Config
	store   store.Store
	intake  *intake.Service
	retrier *pipeline.Retrier
	status  *cache.TTL[string, lifecycle.StatusReport]
	now     cache.Clock
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces the clock used for status estimates and the status
// cache.
func WithClock(now cache.Clock) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server.
func New(cfg *config.Config, st store.Store, in *intake.Service, retrier *pipeline.Retrier, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		intake:  in,
		retrier: retrier,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	ttl := cfg.Processing.StatusCacheTTL()
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	s.status = cache.NewTTL[string, lifecycle.StatusReport](ttl, s.now)
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", principalHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/results", s.handleResults)
			r.Post("/retry", s.handleRetry)
		})
	})
	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.Server.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.Server.AllowedOrigins
}

// ListenAndServe serves the API on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("api: shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("api: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("api: starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "api: listen")
	}
	return nil
}
