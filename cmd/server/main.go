package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prithvirajz/Manim-Video-Generator/internal/ai"
	"github.com/prithvirajz/Manim-Video-Generator/internal/api"
	"github.com/prithvirajz/Manim-Video-Generator/internal/config"
	"github.com/prithvirajz/Manim-Video-Generator/internal/deps"
	"github.com/prithvirajz/Manim-Video-Generator/internal/docker"
	"github.com/prithvirajz/Manim-Video-Generator/internal/executor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/llm"
	"github.com/prithvirajz/Manim-Video-Generator/internal/monitor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
	"github.com/prithvirajz/Manim-Video-Generator/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metrics := monitor.NewMetrics()

	// Render container client
	renderContainer := docker.NewClient(
		docker.Target{Name: cfg.Container.Name, WorkDir: cfg.Container.WorkDir},
		docker.WithDefaultTimeout(cfg.Container.CommandTimeout),
	)
	if err := renderContainer.EnsureRunning(ctx); err != nil {
		log.Warn().Err(err).Str("container", cfg.Container.Name).
			Msg("render container not running at startup (renders will retry)")
	}

	// AI providers, lowest priority number first
	registry := llm.NewRegistry()
	for _, p := range cfg.Providers {
		var provider llm.Provider
		var hasCredentials bool
		switch p.Name {
		case "gemini":
			provider = llm.NewGemini(llm.GeminiConfig{
				Name:   p.Name,
				APIKey: p.APIKey,
				Model:  p.Model,
			})
			hasCredentials = p.APIKey != ""
		case "azure":
			provider = llm.NewAzureOpenAI(llm.AzureOpenAIConfig{
				Name:       p.Name,
				APIKey:     p.APIKey,
				Endpoint:   p.Endpoint,
				Deployment: p.Deployment,
			})
			hasCredentials = p.APIKey != "" && p.Endpoint != "" && p.Deployment != ""
		}
		if err := registry.Register(provider, p.Priority, hasCredentials); err != nil {
			log.Warn().Err(err).Str("provider", p.Name).Msg("provider not registered")
		}
	}
	log.Info().Int("providers", registry.Len()).Msg("AI providers registered")

	// Initialize history store (optional, runs without it for development)
	var store storage.Store
	if cfg.Database.Driver != "" {
		dsn := cfg.Database.DSN
		if cfg.Database.Driver == "sqlite" && dsn == "" {
			dsn = "manim.db"
		}
		store, err = storage.Open(ctx, cfg.Database.Driver, dsn)
		if err != nil {
			log.Warn().Err(err).Msg("history store unavailable, persistence disabled")
			store = nil
		} else {
			defer store.Close()
		}
	}

	// Buffered history writer feeding the store
	var sink executor.Sink
	if store != nil {
		writer := storage.NewHistoryWriter(store, cfg.Database.Buffer)
		writer.Start()
		defer writer.Flush(10 * time.Second)
		sink = writer
	}

	// Orchestration loop
	exec := executor.New(
		renderContainer,
		deps.NewResolver(renderContainer),
		ai.NewDebugger(registry).WithObserver(metrics),
		sink,
		executor.Options{
			MaxAttempts:    cfg.Executor.MaxAttempts,
			AttemptTimeout: cfg.Executor.AttemptTimeout,
			MediaRoot:      cfg.Executor.MediaRoot,
			Quality:        cfg.Executor.Quality,
		},
	).WithObserver(metrics)
	if store != nil {
		exec = exec.WithScriptLoader(scriptLoader{store})
	}

	var generator api.Generator
	if registry.Len() > 0 {
		generator = ai.NewGenerator(registry).WithObserver(metrics)
	}

	// Create and start HTTP server
	server := api.NewServer(cfg, exec, generator, store, renderContainer, metrics, registry.Len())

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("history_enabled", store != nil).
		Int("providers", registry.Len()).
		Str("container", cfg.Container.Name).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

// scriptLoader adapts the history store to the executor's handle resolution.
type scriptLoader struct {
	store storage.Store
}

func (l scriptLoader) LoadScript(ctx context.Context, id string) (script.Script, error) {
	rec, err := l.store.GetScript(ctx, id)
	if err != nil {
		return script.Script{}, err
	}
	return script.Script{
		ID:         rec.ID,
		Content:    rec.Content,
		SceneClass: rec.SceneClass,
		Status:     script.Status(rec.Status),
	}, nil
}
