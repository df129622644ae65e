package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/prithvirajz/Manim-Video-Generator/internal/config"
	"github.com/prithvirajz/Manim-Video-Generator/internal/monitor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/storage"
)

// ContainerHealth reports whether the render container is up.
type ContainerHealth interface {
	IsRunning(ctx context.Context) bool
}

// Server is the main HTTP server for the render API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, renderer Renderer, generator Generator, store storage.Store, container ContainerHealth, metrics *monitor.Metrics, providers int) *Server {
	handlers := NewHandlers(renderer, generator, store, metrics, cfg.Executor.InspectScripts)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /scripts", handlers.HandleGenerateScript)
	mux.HandleFunc("GET /scripts/{id}", handlers.HandleGetScript)
	mux.HandleFunc("POST /render", handlers.HandleRender)
	mux.HandleFunc("POST /render/stream", handlers.HandleRenderStream)
	mux.HandleFunc("GET /runs", handlers.HandleListRuns)
	mux.HandleFunc("GET /runs/{id}", handlers.HandleGetRun)
	mux.HandleFunc("GET /health", s.handleHealth(store, container, providers))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled — running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(store storage.Store, container ContainerHealth, providers int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := store == nil || store.Healthy(r.Context())
		containerOK := container == nil || container.IsRunning(r.Context())

		resp := HealthResponse{
			Status:    "ok",
			Container: containerOK,
			Database:  dbOK,
			Providers: providers,
			Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		}

		if !dbOK || !containerOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
