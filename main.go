package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel"

	"github.com/communityfinder/server/internal/agent/extract"
	"github.com/communityfinder/server/internal/agent/graph"
	"github.com/communityfinder/server/internal/agent/graph/nodes"
	"github.com/communityfinder/server/internal/agent/graph/observers"
	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/agent/repo"
	"github.com/communityfinder/server/internal/agent/tools"
	"github.com/communityfinder/server/internal/core"
	"github.com/communityfinder/server/internal/gateway"
	"github.com/communityfinder/server/internal/geo"
	"github.com/communityfinder/server/internal/opendata"
	"github.com/communityfinder/server/internal/places"
	logx "github.com/communityfinder/server/pkg/logger"
	pkgredis "github.com/communityfinder/server/pkg/redis"
	"github.com/communityfinder/server/pkg/telemetry"
)

// AppConfig defines all configurable parameters of the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis     pkgredis.Config
	Cache     model.CacheConfig
	Telemetry telemetry.Config
	Gateway   gateway.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Places provider
	MapsAPIKey string `envconfig:"GOOGLE_MAPS_API_KEY" required:"true"`

	// Agent configs
	Extract   model.ExtractModelConfig
	Generate  model.GenerateModelConfig
	OpenData  model.OpenDataConfig
	Retrieval model.RetrievalConfig
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise telemetry")
	}

	cache, closeCache := newCache(ctx, cfg)
	defer closeCache()

	placesClient, err := places.New(cfg.MapsAPIKey, cfg.Retrieval.CapabilityTimeout)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create places client")
	}
	geocoder := geo.NewGeocoder(cache, placesClient, cfg.Cache.GeocodeTTL)

	openData := opendata.NewClient(cfg.OpenData.BaseURL, &http.Client{},
		opendata.WithTimeout(cfg.Retrieval.CapabilityTimeout),
		opendata.WithRetries(cfg.OpenData.Retries),
	)

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		ExtractConfig:  &cfg.Extract,
		GenerateConfig: &cfg.Generate,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create chat models")
	}
	extractor := extract.New(cms.Extract, cms.ExtractModelName, cfg.Retrieval.CapabilityTimeout)
	generator := extract.New(cms.Generate, cms.GenerateModelName, cfg.Retrieval.CapabilityTimeout)

	limits := tools.Limits{
		Candidates: cfg.Retrieval.ProximityLimit,
		Page:       cfg.OpenData.PageLimit,
		Bulk:       cfg.OpenData.BulkLimit,
	}
	router := tools.NewRouter(
		tools.NewShelterAdapter(extractor, openData, geocoder, limits),
		tools.NewFamilyCenterAdapter(extractor, openData, geocoder, limits),
	)

	runner, err := graph.NewRunner(ctx, &graph.GraphConfig{
		Classifier: extractor,
		Evaluator:  extractor,
		Generator:  generator,
		Router:     router,
		Search:     tools.NewPlacesSearchAdapter(placesClient, geocoder, cfg.Retrieval.SearchLimit),
		Callbacks:  observers.NewAllCallbacks(),
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build graph")
	}

	server, err := gateway.New(runner, cfg.Gateway, otel.Meter(telemetry.TracerName))
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create gateway")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			logx.Error().Err(err).Msg("Gateway stopped")
		}
	case <-ctx.Done():
		logx.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("Gateway shutdown incomplete")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// newCache picks redis when REDIS_URL is set and the local file cache
// otherwise. An unreachable redis keeps the client so it can reconnect;
// until then every lookup is a miss.
func newCache(ctx context.Context, cfg AppConfig) (geo.Cache, func()) {
	if !cfg.Redis.Enabled() {
		logx.Info().Str("file", cfg.Cache.File).Msg("Using local file cache")
		return repo.NewFileCache(cfg.Cache.File), func() {}
	}

	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		logx.Warn().Err(err).Msg("Redis unreachable at startup; cache misses until it recovers")
	} else {
		logx.Info().Msg("Connected to Redis successfully")
	}
	if rdb == nil {
		return repo.NewRedisCache(nil), func() {}
	}
	return repo.NewRedisCache(rdb), func() { _ = rdb.Close() }
}
