package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/egeaydin1/fal-freya-garsonai/internal/config"
	"github.com/egeaydin1/fal-freya-garsonai/internal/fal"
	"github.com/egeaydin1/fal-freya-garsonai/internal/httpapi"
	"github.com/egeaydin1/fal-freya-garsonai/internal/menu"
	"github.com/egeaydin1/fal-freya-garsonai/internal/observability"
	"github.com/egeaydin1/fal-freya-garsonai/internal/session"
	"github.com/egeaydin1/fal-freya-garsonai/internal/voice"
)

func main() {
	// Local development keeps credentials in .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	client := fal.NewClient(fal.Options{
		APIKey:     cfg.FalAPIKey,
		BaseURL:    cfg.FalBaseURL,
		StorageURL: cfg.FalStorageURL,
		STTModel:   cfg.STTModel,
		LLMModel:   cfg.LLMModel,
		LLMRoute:   cfg.LLMRoute,
		TTSModel:   cfg.TTSModel,
		TTSVoice:   cfg.TTSVoice,
		TTSSpeed:   cfg.TTSSpeed,
		Language:   cfg.Language,
		Timeout:    cfg.RequestTimeout,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	openers := cfg.OpenerPhrases
	if len(openers) == 0 {
		openers = voice.DefaultOpenerPhrases
	}

	var cache *voice.PhraseCache
	if cfg.SkipPhraseCache {
		log.Printf("phrase cache disabled, every reply synthesizes from scratch")
	} else {
		cache, err = voice.LoadPhraseCache(runCtx, cfg.PhraseCacheDir, openers, client)
		if err != nil {
			log.Fatalf("phrase cache init failed: %v", err)
		}
		log.Printf("phrase cache ready: %d phrases in %s", cache.Size(), cfg.PhraseCacheDir)
	}

	var store menu.Store
	if cfg.DatabaseURL != "" {
		pg, err := menu.NewPostgresStore(runCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("menu store init failed: %v", err)
		}
		defer pg.Close()
		store = pg
		log.Printf("menu store: postgres")
	} else {
		store = menu.NewDemoStore()
		log.Printf("menu store: demo (set DATABASE_URL for real menus)")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})
	sessions.StartJanitor(runCtx, 5*time.Second)

	warmer := fal.NewWarmer(client, cfg.KeepWarmInterval)
	go warmer.Run(runCtx)

	controller := voice.NewController(voice.ControllerConfig{
		MinChunksForPartial:   cfg.MinChunksForPartial,
		PartialSTTMinInterval: cfg.PartialSTTMinInterval,
		SpeculationThreshold:  cfg.SpeculationThreshold,
		SilenceBeforeEarlyLLM: cfg.SilenceBeforeEarlyLLM,
		OpenerPhrases:         openers,
	}, client, client, client, cache, metrics)

	api := httpapi.New(cfg, sessions, store, controller, metrics)
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

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
