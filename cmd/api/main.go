package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"photostudio/internal/config"
	"photostudio/internal/editsession"
	"photostudio/internal/generator"
	"photostudio/internal/http/handlers"
	httpapi "photostudio/internal/http/httpapi"
	"photostudio/internal/infra"
	"photostudio/internal/orchestrator"
	"photostudio/internal/storage"
	"photostudio/internal/template"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	providers, err := config.LoadProviders(cfg.ProvidersConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load provider configuration")
	}

	registry := generator.NewRegistry()
	generators := make(map[string]generator.Generator, len(providers.Providers))
	for name, providerCfg := range providers.Providers {
		gen, err := registry.Create(name, providerCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("provider", name).Msg("failed to construct provider")
		}
		if !gen.ValidateConfig() {
			logger.Fatal().Str("provider", name).Msg("provider configuration incomplete")
		}
		generators[name] = gen
	}

	taskStore, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "product_photos"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open task storage")
	}
	sessionStore, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "edit_sessions"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session storage")
	}
	templateStore, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "templates"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open template storage")
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Generators:      generators,
		DefaultProvider: providers.ActiveProvider,
		Store:           taskStore,
		ImageURLPrefix:  cfg.ImageURLPrefix,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct orchestrator")
	}

	sessions, err := editsession.NewManager(editsession.Options{
		SessionStore: sessionStore,
		TaskStore:    taskStore,
		Applier:      editsession.GeneratorApplier(generators[providers.ActiveProvider]),
		MaxSteps:     cfg.MaxHistorySteps,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct edit session manager")
	}

	templates, err := template.NewStore(templateStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct template store")
	}

	app := handlers.NewApp(orch, sessions, templates, logger)
	router := httpapi.NewRouter(app, cfg, logger, nil)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("provider", providers.ActiveProvider).Msg("API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
