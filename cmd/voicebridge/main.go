package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voicebridge/voicebridge/internal/capture"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/history"
	"github.com/voicebridge/voicebridge/internal/httpapi"
	"github.com/voicebridge/voicebridge/internal/kvstore"
	"github.com/voicebridge/voicebridge/internal/miclease"
	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/settings"
	"github.com/voicebridge/voicebridge/internal/speech"
)

func main() {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	storage, err := kvstore.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer storage.Close()

	hist := history.NewStore(ctx, storage)
	prefs := settings.NewStore(ctx, storage, settings.Settings{
		Language:  cfg.Language,
		AutoSpeak: cfg.AutoSpeak,
	})
	lease := miclease.New()

	backend := gateway.NewClient(gateway.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
		Observe: func(op, result string) {
			metrics.GatewayRequests.WithLabelValues(op, result).Inc()
		},
	})

	dispatcher := speech.NewDispatcher(
		backend,
		speech.NewCLISynthesizer(cfg.LocalTTSCommand),
		speech.NewCLIPlayer(cfg.PlayerCommand),
		hist,
	)

	relay := httpapi.NewRelayOpener()
	pipeline := capture.NewPipeline(backend, hist, cfg.Language)
	controller := capture.NewController(relay, pipeline, lease)

	api := httpapi.New(cfg, backend, pipeline, controller, relay, dispatcher, hist, prefs, lease, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	dispatcher.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
