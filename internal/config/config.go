// Package config loads the service's layered configuration (file + env +
// defaults) using viper, mirroring the teacher's mapstructure-tagged Config
// struct.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// APIConfig configures the gin HTTP transport (A6).
type APIConfig struct {
	ListenAddress        string        `mapstructure:"listen_address" yaml:"listen_address"`
	RequestTimeoutMs     int           `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	EnableCORS           bool          `mapstructure:"enable_cors" yaml:"enable_cors"`
	MaxConcurrentQueries int           `mapstructure:"max_concurrent_queries" yaml:"max_concurrent_queries"`
	AuthEnabled          bool          `mapstructure:"auth_enabled" yaml:"auth_enabled"`
	JWTSecret            string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	APIKeys              []string      `mapstructure:"api_keys" yaml:"api_keys,omitempty"`
}

// Tier2Config configures the optional Redis-backed second cache tier.
type Tier2Config struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// CacheConfig configures the two-tier Search Cache (C4).
type CacheConfig struct {
	TTLSeconds          int64         `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	MaxKeys             int           `mapstructure:"max_keys" yaml:"max_keys"`
	MemoryThresholdMB   int           `mapstructure:"memory_threshold_mb" yaml:"memory_threshold_mb"`
	CompressionEnabled  bool          `mapstructure:"compression_enabled" yaml:"compression_enabled"`
	CompressionMinBytes int           `mapstructure:"compression_min_bytes" yaml:"compression_min_bytes"`
	WarmupQueries       []string      `mapstructure:"warmup_queries" yaml:"warmup_queries"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Tier2               Tier2Config   `mapstructure:"tier2" yaml:"tier2"`
}

// EmbeddingConfig configures the Embedding Store (C1).
type EmbeddingConfig struct {
	Dimension        int  `mapstructure:"dimension" yaml:"dimension"`
	MaxCacheSize     int  `mapstructure:"max_cache_size" yaml:"max_cache_size"`
	BatchSize        int  `mapstructure:"batch_size" yaml:"batch_size"`
	BatchConcurrency int  `mapstructure:"batch_concurrency" yaml:"batch_concurrency"`
	FallbackEnabled  bool `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`
}

// HybridScorerConfig configures C2's weighted combination.
type HybridScorerConfig struct {
	SemanticWeight       float64 `mapstructure:"semantic_weight" yaml:"semantic_weight"`
	FuzzyWeight          float64 `mapstructure:"fuzzy_weight" yaml:"fuzzy_weight"`
	MetadataWeight       float64 `mapstructure:"metadata_weight" yaml:"metadata_weight"`
	MinSemanticThreshold float64 `mapstructure:"min_semantic_threshold" yaml:"min_semantic_threshold"`
	MinFuzzyThreshold    float64 `mapstructure:"min_fuzzy_threshold" yaml:"min_fuzzy_threshold"`
	ApplyDiversityRerank bool    `mapstructure:"apply_diversity_rerank" yaml:"apply_diversity_rerank"`
	MMRLambda            float64 `mapstructure:"mmr_lambda" yaml:"mmr_lambda"`
}

// EngineConfig configures the Semantic Engine (C5)'s orchestration limits.
type EngineConfig struct {
	MaxResults            int     `mapstructure:"max_results" yaml:"max_results"`
	RunbookScoreThreshold float64 `mapstructure:"runbook_score_threshold" yaml:"runbook_score_threshold"`
}

// ObservabilityConfig configures logging and metrics (A2).
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Config is the root configuration object, assembled by Load from a file,
// environment variables, and defaults, in that order of increasing
// precedence for explicitly-set values (viper's own precedence: explicit
// Set > flag > env > config file > default).
type Config struct {
	API           APIConfig             `mapstructure:"api" yaml:"api"`
	Cache         CacheConfig           `mapstructure:"cache" yaml:"cache"`
	Embedding     EmbeddingConfig       `mapstructure:"embedding" yaml:"embedding"`
	Scorer        HybridScorerConfig    `mapstructure:"scorer" yaml:"scorer"`
	Engine        EngineConfig          `mapstructure:"engine" yaml:"engine"`
	Observability ObservabilityConfig   `mapstructure:"observability" yaml:"observability"`
	Adapters      []model.AdapterConfig `mapstructure:"adapters" yaml:"adapters,omitempty"`
}

// Default returns the configuration used when no file is supplied, matching
// the defaults named throughout SPEC_FULL.md's component design.
func Default() *Config {
	return &Config{
		API: APIConfig{
			ListenAddress:        ":8080",
			RequestTimeoutMs:     5000,
			ReadTimeout:          10 * time.Second,
			WriteTimeout:         10 * time.Second,
			IdleTimeout:          60 * time.Second,
			EnableCORS:           false,
			MaxConcurrentQueries: 100,
			AuthEnabled:          false,
		},
		Cache: CacheConfig{
			TTLSeconds:          300,
			MaxKeys:             10000,
			MemoryThresholdMB:   256,
			CompressionEnabled:  true,
			CompressionMinBytes: 1024,
			SweepInterval:       60 * time.Second,
			Tier2:               Tier2Config{Enabled: false},
		},
		Embedding: EmbeddingConfig{
			Dimension:        model.DefaultEmbeddingDimension,
			MaxCacheSize:     10000,
			BatchSize:        32,
			BatchConcurrency: 4,
			FallbackEnabled:  true,
		},
		Scorer: HybridScorerConfig{
			SemanticWeight:       0.5,
			FuzzyWeight:          0.3,
			MetadataWeight:       0.2,
			MinSemanticThreshold: 0.1,
			MinFuzzyThreshold:    0.1,
			ApplyDiversityRerank: false,
			MMRLambda:            0.7,
		},
		Engine: EngineConfig{
			MaxResults:            20,
			RunbookScoreThreshold: 0.7,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load reads configFile (if non-empty) layered over defaults and the
// CONFIG_FILE/LOG_LEVEL environment variables. Unknown or malformed fields
// fail with a CONFIG error per SPEC_FULL.md §6 — viper's strict unmarshal
// (ErrorUnused) surfaces both.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("RETRIEVAL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
		if err := v.UnmarshalExact(cfg); err != nil {
			return nil, svcerrors.Wrap(svcerrors.KindConfig, fmt.Sprintf("config: parsing %s: %v", configFile, err), err)
		}
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Observability.LogLevel = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the required-field and known-field constraints
// SPEC_FULL.md's config file section describes.
func (c *Config) Validate() error {
	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q (want debug|info|warn|error)", c.Observability.LogLevel)
	}

	if c.API.AuthEnabled && c.API.JWTSecret == "" && len(c.API.APIKeys) == 0 {
		return fmt.Errorf("config: api.auth_enabled requires api.jwt_secret or at least one api.api_keys entry")
	}

	for i, a := range c.Adapters {
		if a.Name == "" {
			return fmt.Errorf("config: adapters[%d]: name is required", i)
		}
		switch a.Type {
		case model.AdapterTypeFile, model.AdapterTypeHTTP, model.AdapterTypeRepo, model.AdapterTypeWiki, model.AdapterTypeDatabase:
		default:
			return fmt.Errorf("config: adapters[%d] (%s): unknown type %q", i, a.Name, a.Type)
		}
	}

	return nil
}
