// Command server boots the Operational Knowledge Retrieval Service: it
// loads configuration, wires the adapter registry, embedding store,
// scorer, cache, engine and dispatcher, and serves the HTTP API until a
// shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	"github.com/opsknowledge/retrieval-service/internal/adapters/database"
	"github.com/opsknowledge/retrieval-service/internal/adapters/file"
	httpadapter "github.com/opsknowledge/retrieval-service/internal/adapters/http"
	"github.com/opsknowledge/retrieval-service/internal/adapters/repowiki"
	"github.com/opsknowledge/retrieval-service/internal/api"
	"github.com/opsknowledge/retrieval-service/internal/cache"
	"github.com/opsknowledge/retrieval-service/internal/config"
	"github.com/opsknowledge/retrieval-service/internal/dispatcher"
	"github.com/opsknowledge/retrieval-service/internal/embedding"
	"github.com/opsknowledge/retrieval-service/internal/engine"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/query"
	"github.com/opsknowledge/retrieval-service/internal/resilience"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	configFile         = flag.String("config", "", "Path to configuration file (overrides CONFIG_FILE)")
	createSampleConfig = flag.String("create-sample-config", "", "Write a sample configuration file to the given path and exit")
	showVersion        = flag.Bool("version", false, "Show version information and exit")
	validateOnly       = flag.Bool("validate", false, "Validate configuration and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("retrieval-service\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", version, buildTime, gitCommit)
		os.Exit(0)
	}

	if *createSampleConfig != "" {
		if err := config.WriteSample(*createSampleConfig); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sample configuration written to %s\n", *createSampleConfig)
		os.Exit(0)
	}

	logger := observability.NewLogger("retrieval-service")
	logger.Info("starting retrieval service", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	})

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if *validateOnly {
		logger.Info("configuration validated successfully", nil)
		os.Exit(0)
	}

	metrics := observability.NewPromMetricsClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := buildRegistry(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build adapter registry", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error("failed to close adapter registry", map[string]interface{}{"error": err.Error()})
		}
	}()

	eng, mlc, err := buildEngine(cfg, registry, logger, metrics)
	if err != nil {
		logger.Error("failed to build semantic engine", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() { _ = mlc.Close() }()

	d := dispatcher.New(eng, registry, logger, metrics)
	server := api.New(d, cfg.API, logger, metrics)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	if err := waitForShutdown(ctx, server, serverErrCh, logger); err != nil {
		logger.Error("shutdown error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	logger.Info("retrieval service stopped gracefully", nil)
}

// buildRegistry constructs one adapter per enabled entry in cfg.Adapters, in the
// type named by its AdapterConfig.Type, and registers each under the
// registry's periodic health-check loop.
func buildRegistry(ctx context.Context, cfg *config.Config, logger observability.Logger, metrics *observability.PromMetricsClient) (*adapters.Registry, error) {
	// NewCircuitBreakerRegistry takes the legacy observability.MetricsClient
	// shape, which PromMetricsClient does not implement; nil disables its
	// metrics hook without affecting breaker behavior.
	breakers := resilience.NewCircuitBreakerRegistry(logger, nil)
	registry := adapters.NewRegistry(breakers, logger, metrics, 30*time.Second)

	for _, ac := range cfg.Adapters {
		if !ac.Enabled {
			continue
		}

		var a adapters.Adapter
		switch ac.Type {
		case model.AdapterTypeFile:
			a = file.New(logger, metrics)
		case model.AdapterTypeHTTP:
			a = httpadapter.New(logger, metrics)
		case model.AdapterTypeRepo, model.AdapterTypeWiki:
			// repowiki.New takes the legacy MetricsClient shape, which
			// PromMetricsClient does not implement; see the circuit
			// breaker registry note above.
			a = repowiki.New(logger, nil)
		case model.AdapterTypeDatabase:
			a = database.New(logger, nil)
		default:
			return nil, fmt.Errorf("adapter %q: unknown type %q", ac.Name, ac.Type)
		}

		if err := a.Configure(ac); err != nil {
			return nil, fmt.Errorf("adapter %q: configure: %w", ac.Name, err)
		}
		if err := a.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("adapter %q: initialize: %w", ac.Name, err)
		}

		registry.Register(a)
		logger.Info("adapter registered", map[string]interface{}{"name": ac.Name, "type": string(ac.Type)})
	}

	return registry, nil
}

// buildEngine assembles the embedding store, scorer, query processor and
// search cache behind the Semantic Engine. The embedding provider is the
// deterministic mock: no external embedding API is configured by default,
// so search quality degrades to the fuzzy/metadata terms until one is.
func buildEngine(cfg *config.Config, registry *adapters.Registry, logger observability.Logger, metrics *observability.PromMetricsClient) (*engine.Engine, *cache.MultiLevel, error) {
	provider := embedding.NewMockProvider("mock", cfg.Embedding.Dimension)

	embeddingCfg := embedding.DefaultConfig()
	embeddingCfg.MaxCacheSize = cfg.Embedding.MaxCacheSize
	embeddingCfg.BatchSize = cfg.Embedding.BatchSize
	embeddingCfg.Parallelism = cfg.Embedding.BatchConcurrency

	store, err := embedding.NewStore(provider, embeddingCfg, logger, metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding store: %w", err)
	}

	scorer := scoring.NewHybridScorer(
		scoring.Weights{Semantic: cfg.Scorer.SemanticWeight, Fuzzy: cfg.Scorer.FuzzyWeight, Metadata: cfg.Scorer.MetadataWeight},
		scoring.Thresholds{MinSemantic: cfg.Scorer.MinSemanticThreshold, MinFuzzy: cfg.Scorer.MinFuzzyThreshold},
	)

	processor := query.NewProcessor(cfg.Engine.MaxResults)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.MaxKeys = cfg.Cache.MaxKeys
	cacheCfg.MemoryThresholdMB = cfg.Cache.MemoryThresholdMB
	cacheCfg.DefaultTTL = time.Duration(cfg.Cache.TTLSeconds) * time.Second
	cacheCfg.CompressionEnabled = cfg.Cache.CompressionEnabled
	cacheCfg.CompressionMinBytes = cfg.Cache.CompressionMinBytes
	cacheCfg.SweepInterval = cfg.Cache.SweepInterval

	var tier2 cache.Tier2
	if cfg.Cache.Tier2.Enabled {
		tier2 = cache.NewRedisTier2(cfg.Cache.Tier2.Address, cfg.Cache.Tier2.Password, cfg.Cache.Tier2.DB)
	}

	mlc, err := cache.New(cacheCfg, tier2, logger, metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("search cache: %w", err)
	}

	engineCfg := engine.Config{
		MaxResults:            cfg.Engine.MaxResults,
		FallbackEnabled:       true,
		ApplyDiversityRerank:  cfg.Scorer.ApplyDiversityRerank,
		MMRLambda:             cfg.Scorer.MMRLambda,
		RunbookScoreThreshold: cfg.Engine.RunbookScoreThreshold,
	}

	eng := engine.New(registry, store, scorer, processor, mlc, engineCfg, logger, metrics)
	return eng, mlc, nil
}

func waitForShutdown(ctx context.Context, server *api.Server, serverErrCh <-chan error, logger observability.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
		logger.Info("context cancelled", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
