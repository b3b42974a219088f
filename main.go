package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soulagent/core"
	"soulagent/factories"
	"soulagent/interview"
	"soulagent/metrics"
	"soulagent/server"
	"soulagent/services/biodata"
	"soulagent/storage"
	"soulagent/transports/livekit"
)

func main() {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			core.GetLogger().With(map[string]any{"file": f, "error": err}).Warn("failed to load env file")
		}
	}

	logger := newLogger()
	core.SetLogger(*logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.With(map[string]any{"error": err}).Error("agent stopped")
		os.Exit(1)
	}
	logger.Info("shut down")
}

func run(ctx context.Context, logger *core.Logger) error {
	settings := loadSettings(logger)

	definition := interview.DefaultDefinition()
	if path := getEnv("QUESTIONS_FILE", settings.Interview.QuestionsFile); path != "" {
		d, err := interview.LoadDefinition(path)
		if err != nil {
			return err
		}
		definition = d
		logger.With(map[string]any{"path": path, "questions": d.Questions.Len()}).Info("loaded interview definition")
	}

	store, err := storage.Open(settings.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	extractionLLM, err := factories.BuildOpenAIService(settings.ExtractionLLM())
	if err != nil {
		return err
	}
	if err := extractionLLM.Init(ctx); err != nil {
		return err
	}
	defer extractionLLM.Cleanup()

	collector := metrics.NewCollector("soulagent", prometheus.DefaultRegisterer, logger.Zap())
	events := core.NewExternalEventHandler(logger)

	deps := factories.SessionDeps{
		Definition: definition,
		Messages:   store,
		Extractor:  biodata.NewExtractor(extractionLLM, store, logger),
		Status:     store,
		Observer:   collector,
	}
	pipeline := factories.NewPipeline(settings.Session.HandlerBuilder(deps, logger), settings.PipelineConfig(), logger).
		WithExternalOutput(events.Broadcast).
		WithMetrics(collector)

	srv := server.New(server.Config{
		Addr:   getEnv("ADDR", settings.Server.Addr),
		LogDir: getEnv("LOG_DIR", settings.LogDir),
	}, pipeline, logger).
		WithRecords(store).
		WithEvents(events).
		WithMetrics(collector, promhttp.Handler())

	tokens, err := livekit.NewTokenIssuer(settings.LiveKitConfig(os.Getenv("LIVEKIT_API_KEY"), os.Getenv("LIVEKIT_API_SECRET")))
	switch {
	case errors.Is(err, livekit.ErrNotConfigured):
		logger.Info("LiveKit keys not set, sessions need an explicit session_id")
	case err != nil:
		return err
	default:
		srv.WithTokens(tokens)
	}

	return srv.ListenAndServe(ctx)
}

// loadSettings reads settings.json (or SETTINGS_PATH) and injects API keys
// from the environment. A missing file falls back to the defaults.
func loadSettings(logger *core.Logger) factories.SettingsConfig {
	path := getEnv("SETTINGS_PATH", "./settings.json")
	settings, err := factories.SettingsConfigFromFile(path)
	if err != nil {
		logger.With(map[string]any{"path": path, "error": err}).Warn("failed to load settings, using defaults")
		settings = factories.DefaultSettingsConfig()
	}
	if secs := getEnvAsInt("SESSION_TIMEOUT_SECONDS", 0); secs > 0 {
		settings.SessionTimeoutSeconds = secs
	}
	settings.InjectAPIKeys(factories.APIKeys{
		Deepgram:   getEnv("DEEPGRAM_API_KEY", ""),
		OpenAI:     getEnv("OPENAI_API_KEY", ""),
		Groq:       getEnv("GROQ_API_KEY", ""),
		Together:   getEnv("TOGETHER_API_KEY", ""),
		DeepSeek:   getEnv("DEEPSEEK_API_KEY", ""),
		OpenRouter: getEnv("OPENROUTER_API_KEY", ""),
		ElevenLabs: getEnv("ELEVENLABS_API_KEY", ""),
	})
	return settings
}

func newLogger() *core.Logger {
	if getEnv("LOG_FORMAT", "console") == "json" {
		return core.NewProductionLogger(getEnv("LOG_LEVEL", "info"))
	}
	return core.NewDevelopmentLogger()
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
