package resilience

import (
	"time"

	"github.com/opsknowledge/retrieval-service/internal/observability"
)

// CircuitBreakerServiceConfig is the mapstructure-tagged shape loaded from
// the config file's resilience.circuit_breakers section, keyed by adapter or
// backing-store name.
type CircuitBreakerServiceConfig struct {
	Enabled             bool          `mapstructure:"enabled" json:"enabled"`
	MaxRequestsHalfOpen uint32        `mapstructure:"max_requests_half_open" json:"max_requests_half_open"`
	Interval            time.Duration `mapstructure:"interval" json:"interval"`
	Timeout             time.Duration `mapstructure:"timeout" json:"timeout"`
	FailureRatio        float64       `mapstructure:"failure_ratio" json:"failure_ratio"`
	MinimumRequestCount uint32        `mapstructure:"minimum_request_count" json:"minimum_request_count"`
}

// DefaultCircuitBreakerConfigs provides sane per-upstream defaults: file and
// database adapters see local disks/databases, so they get a tight failure
// ratio and short reset; HTTP and repo/wiki adapters depend on a remote
// network service and tolerate more noise.
var DefaultCircuitBreakerConfigs = map[string]CircuitBreakerServiceConfig{
	"file_adapter": {
		Enabled:             true,
		MaxRequestsHalfOpen: 10,
		Interval:            10 * time.Second,
		Timeout:             5 * time.Second,
		FailureRatio:        0.4,
		MinimumRequestCount: 10,
	},
	"http_adapter": {
		Enabled:             true,
		MaxRequestsHalfOpen: 10,
		Interval:            10 * time.Second,
		Timeout:             30 * time.Second,
		FailureRatio:        0.5,
		MinimumRequestCount: 10,
	},
	"repo_wiki_adapter": {
		Enabled:             true,
		MaxRequestsHalfOpen: 10,
		Interval:            10 * time.Second,
		Timeout:             30 * time.Second,
		FailureRatio:        0.5,
		MinimumRequestCount: 10,
	},
	"database_adapter": {
		Enabled:             true,
		MaxRequestsHalfOpen: 20,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureRatio:        0.3,
		MinimumRequestCount: 20,
	},
	"embedding_provider": {
		Enabled:             true,
		MaxRequestsHalfOpen: 3,
		Interval:            30 * time.Second,
		Timeout:             10 * time.Second,
		FailureRatio:        0.3,
		MinimumRequestCount: 3,
	},
	"redis_cache": {
		Enabled:             true,
		MaxRequestsHalfOpen: 100,
		Interval:            5 * time.Second,
		Timeout:             500 * time.Millisecond,
		FailureRatio:        0.2,
		MinimumRequestCount: 50,
	},
}

// GetCircuitBreakerConfig returns the configuration for a named upstream.
func GetCircuitBreakerConfig(serviceName string) (CircuitBreakerServiceConfig, bool) {
	config, exists := DefaultCircuitBreakerConfigs[serviceName]
	return config, exists
}

// SetCircuitBreakerConfig sets or updates the configuration for a named upstream.
func SetCircuitBreakerConfig(serviceName string, config CircuitBreakerServiceConfig) {
	DefaultCircuitBreakerConfigs[serviceName] = config
}

// ToCircuitBreakerConfig converts the config-file shape to gobreaker's
// settings shape.
func (c CircuitBreakerServiceConfig) ToCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:         c.MaxRequestsHalfOpen,
		Interval:            c.Interval,
		Timeout:             c.Timeout,
		FailureRatio:        c.FailureRatio,
		MinimumRequestCount: c.MinimumRequestCount,
	}
}

// CircuitBreakerRegistry owns one breaker per named upstream, lazily created
// from config on first use.
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	configs  map[string]CircuitBreakerServiceConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
}

func NewCircuitBreakerRegistry(logger observability.Logger, metrics observability.MetricsClient) *CircuitBreakerRegistry {
	registry := &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]CircuitBreakerServiceConfig),
		logger:   logger,
		metrics:  metrics,
	}

	for service, config := range DefaultCircuitBreakerConfigs {
		registry.configs[service] = config
	}

	return registry
}

// GetOrCreate returns the breaker for serviceName, creating it from the
// registered config (or a permissive fallback) on first call.
func (r *CircuitBreakerRegistry) GetOrCreate(serviceName string) *CircuitBreaker {
	if breaker, exists := r.breakers[serviceName]; exists {
		return breaker
	}

	config, exists := r.configs[serviceName]
	if !exists {
		config = CircuitBreakerServiceConfig{
			Enabled:             true,
			MaxRequestsHalfOpen: 10,
			Interval:            10 * time.Second,
			Timeout:             30 * time.Second,
			FailureRatio:        0.5,
			MinimumRequestCount: 10,
		}
	}

	breaker := NewCircuitBreaker(serviceName, config.ToCircuitBreakerConfig(), r.logger, r.metrics)
	r.breakers[serviceName] = breaker

	return breaker
}

func (r *CircuitBreakerRegistry) UpdateConfig(serviceName string, config CircuitBreakerServiceConfig) {
	r.configs[serviceName] = config

	if _, exists := r.breakers[serviceName]; exists {
		r.breakers[serviceName] = NewCircuitBreaker(serviceName, config.ToCircuitBreakerConfig(), r.logger, r.metrics)
	}
}

func (r *CircuitBreakerRegistry) GetAllBreakers() map[string]*CircuitBreaker {
	result := make(map[string]*CircuitBreaker)
	for k, v := range r.breakers {
		result[k] = v
	}
	return result
}

// GetHealthStatus reports each registered breaker's live gobreaker state.
func (r *CircuitBreakerRegistry) GetHealthStatus() map[string]string {
	status := make(map[string]string)
	for name, breaker := range r.breakers {
		status[name] = breaker.State()
	}
	return status
}
