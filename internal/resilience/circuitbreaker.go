package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opsknowledge/retrieval-service/internal/observability"
)

// CircuitBreakerConfig holds the tunables for a single breaker instance,
// translated into gobreaker.Settings. Used to isolate a flaky source
// adapter so its failures don't stall the fan-out deadline for every other
// adapter in the registry.
type CircuitBreakerConfig struct {
	MaxRequests         uint32        // requests let through while half-open
	Interval            time.Duration // closed-state counter reset cadence
	Timeout             time.Duration // open-state duration before probing half-open
	FailureRatio        float64       // failure fraction that trips the breaker
	MinimumRequestCount uint32        // requests required before FailureRatio is evaluated
}

// CircuitBreaker wraps a gobreaker.CircuitBreaker scoped to one named
// upstream (one adapter, one backing store).
type CircuitBreaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker builds a breaker for name, applying the same defaults
// the teacher's own GetCircuitBreaker used when a setting is left zero.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 5
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FailureRatio == 0 {
		config.FailureRatio = 0.5
	}
	if config.MinimumRequestCount == 0 {
		config.MinimumRequestCount = 5
	}

	breaker := &CircuitBreaker{name: name, logger: logger, metrics: metrics}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinimumRequestCount {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			breaker.onStateChange(from, to)
		},
	}

	breaker.cb = gobreaker.NewCircuitBreaker(settings)
	return breaker
}

// Execute runs fn under circuit breaker protection. It returns early with
// ctx's error if ctx is cancelled before fn completes; fn itself must
// respect ctx for that to actually stop the in-flight call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type result struct {
		value interface{}
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		value, err := cb.cb.Execute(func() (interface{}, error) {
			return fn()
		})
		resultCh <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("circuit breaker %s: %w", cb.name, ctx.Err())
	case res := <-resultCh:
		if res.err != nil && cb.logger != nil {
			cb.logger.Warn("circuit breaker execution failed", map[string]interface{}{
				"name":  cb.name,
				"state": cb.State(),
				"error": res.err.Error(),
			})
		}
		return res.value, res.err
	}
}

// State reports the breaker's current gobreaker state: closed, half-open
// or open.
func (cb *CircuitBreaker) State() string {
	return cb.cb.State().String()
}

// Counts returns gobreaker's point-in-time request/failure snapshot, used
// by health and performance endpoints.
func (cb *CircuitBreaker) Counts() gobreaker.Counts {
	return cb.cb.Counts()
}

func (cb *CircuitBreaker) onStateChange(from, to gobreaker.State) {
	if cb.logger != nil {
		cb.logger.Info("circuit breaker state changed", map[string]interface{}{
			"name": cb.name,
			"from": from.String(),
			"to":   to.String(),
		})
	}
	if cb.metrics != nil {
		cb.metrics.RecordGauge("circuit_breaker_current_state", float64(to), map[string]string{"name": cb.name})
		cb.metrics.RecordCounter("circuit_breaker_state_changes_total", 1, map[string]string{
			"name": cb.name,
			"from": from.String(),
			"to":   to.String(),
		})
	}
}
