package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice ordering service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	FalAPIKey     string
	FalBaseURL    string
	FalStorageURL string

	STTModel string
	LLMModel string
	LLMRoute string
	TTSModel string
	TTSVoice string
	TTSSpeed float64

	Language string

	RequestTimeout   time.Duration
	KeepWarmInterval time.Duration

	PartialSTTMinInterval time.Duration
	MinChunksForPartial   int
	SilenceBeforeEarlyLLM time.Duration
	SpeculationThreshold  float64

	PhraseCacheDir  string
	SkipPhraseCache bool
	OpenerPhrases   []string

	SessionInactivityTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "garson"),
		AllowAnyOrigin:   false,

		FalAPIKey:     stringsTrimSpace("FAL_KEY"),
		FalBaseURL:    envOrDefault("FAL_BASE_URL", "https://fal.run"),
		FalStorageURL: envOrDefault("FAL_STORAGE_URL", "https://rest.alpha.fal.ai"),

		STTModel: envOrDefault("FAL_STT_MODEL", "freya-mypsdi253hbk/freya-stt/generate"),
		LLMModel: envOrDefault("FAL_LLM_MODEL", "google/gemini-2.5-flash"),
		LLMRoute: envOrDefault("FAL_LLM_ROUTE", "openrouter/router"),
		TTSModel: envOrDefault("FAL_TTS_MODEL", "freya-mypsdi253hbk/freya-tts/generate"),
		// Turkish voice for the restaurant assistant.
		TTSVoice: envOrDefault("FAL_TTS_VOICE", "zeynep"),
		TTSSpeed: 1.1,

		Language: envOrDefault("VOICE_LANGUAGE", "tr"),

		RequestTimeout:   30 * time.Second,
		KeepWarmInterval: 30 * time.Second,

		PartialSTTMinInterval: 600 * time.Millisecond,
		MinChunksForPartial:   2,
		SilenceBeforeEarlyLLM: 300 * time.Millisecond,
		SpeculationThreshold:  0.7,

		PhraseCacheDir:  envOrDefault("PHRASE_CACHE_DIR", "audio_cache"),
		SkipPhraseCache: false,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout, err = durationFromEnv("FAL_REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepWarmInterval, err = durationFromEnv("KEEP_WARM_INTERVAL", cfg.KeepWarmInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.PartialSTTMinInterval, err = durationFromEnv("PARTIAL_STT_MIN_INTERVAL", cfg.PartialSTTMinInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceBeforeEarlyLLM, err = durationFromEnv("SILENCE_BEFORE_EARLY_LLM", cfg.SilenceBeforeEarlyLLM)
	if err != nil {
		return Config{}, err
	}
	cfg.MinChunksForPartial, err = intFromEnv("MIN_CHUNKS_FOR_PARTIAL", cfg.MinChunksForPartial)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeculationThreshold, err = floatFromEnv("SPECULATION_OVERLAP_THRESHOLD", cfg.SpeculationThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSpeed, err = floatFromEnv("FAL_TTS_SPEED", cfg.TTSSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SkipPhraseCache, err = boolFromEnv("SKIP_PHRASE_CACHE", cfg.SkipPhraseCache)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenerPhrases = listFromEnv("OPENER_PHRASES")

	if cfg.MinChunksForPartial < 1 {
		return Config{}, fmt.Errorf("MIN_CHUNKS_FOR_PARTIAL must be at least 1")
	}
	if cfg.PartialSTTMinInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("PARTIAL_STT_MIN_INTERVAL must be at least 100ms")
	}
	if cfg.SpeculationThreshold <= 0 || cfg.SpeculationThreshold > 1 {
		return Config{}, fmt.Errorf("SPECULATION_OVERLAP_THRESHOLD must be in (0, 1]")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.TTSSpeed < 0.5 || cfg.TTSSpeed > 2.0 {
		return Config{}, fmt.Errorf("FAL_TTS_SPEED must be in [0.5, 2.0]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// listFromEnv splits a pipe-separated value. Pipe is the separator because
// the opener phrases themselves contain commas.
func listFromEnv(key string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
