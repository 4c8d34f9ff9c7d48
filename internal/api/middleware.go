package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/transform"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.logger == nil {
			return
		}
		s.logger.Info("api: request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": elapsedMs(start),
		})
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics == nil {
			return
		}
		s.metrics.RecordAPIRequest(c.FullPath(), c.Request.Method, fmt.Sprintf("%d", c.Writer.Status()), time.Since(start).Seconds())
	}
}

// rateLimiter is a minimal per-process token bucket guarding
// MaxConcurrentQueries, following the same refill-on-read shape as the
// resilience package's AdapterBudget but scoped to the whole API surface
// rather than per-dependency.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	limit      float64
	lastRefill time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		limit = 100
	}
	return &rateLimiter{
		tokens:     float64(limit),
		limit:      float64(limit),
		lastRefill: time.Now(),
	}
}

// allow reports whether a request may proceed, refilling at limit tokens
// per second elapsed since the last check.
func (r *rateLimiter) allow() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.limit
	if r.tokens > r.limit {
		r.tokens = r.limit
	}
	r.lastRefill = now

	if r.tokens < 1 {
		resetIn := time.Duration((1 - r.tokens) / r.limit * float64(time.Second))
		return false, resetIn
	}
	r.tokens--
	return true, 0
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, resetIn := s.limiter.allow(); !ok {
			err := svcerrors.New(svcerrors.KindRateLimit, "too many concurrent queries").WithRetryAfter(resetIn)
			writeError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// statusForKind maps the closed error taxonomy onto HTTP status codes per
// SPEC_FULL.md §7.
func statusForKind(kind svcerrors.Kind) int {
	switch kind {
	case svcerrors.KindValidation:
		return http.StatusBadRequest
	case svcerrors.KindAuth:
		return http.StatusUnauthorized
	case svcerrors.KindNotFound:
		return http.StatusNotFound
	case svcerrors.KindRateLimit:
		return http.StatusTooManyRequests
	case svcerrors.KindTimeout:
		return http.StatusGatewayTimeout
	case svcerrors.KindOversizedPayload:
		return http.StatusRequestEntityTooLarge
	case svcerrors.KindSourceAdapter:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err (a *svcerrors.ServiceError or otherwise) as an
// Envelope with the matching HTTP status, setting Retry-After when the
// error carries a retry hint.
func writeError(c *gin.Context, err error) {
	se, ok := err.(*svcerrors.ServiceError)
	kind := svcerrors.KindUnknown
	var retryAfterMs int64
	if ok {
		kind = se.Kind
		retryAfterMs = se.RetryAfterMs
	}

	status := statusForKind(kind)
	if retryAfterMs > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", (retryAfterMs+999)/1000))
	}

	env := &transform.Envelope{
		Success:  false,
		Metadata: map[string]interface{}{},
	}
	if ok {
		env.Error = &transform.ErrorEnvelope{
			Code:         string(se.Kind),
			Message:      se.Message,
			Severity:     string(se.Severity),
			RetryAfterMs: se.RetryAfterMs,
			Context:      se.Context,
		}
	} else {
		env.Error = &transform.ErrorEnvelope{Code: string(svcerrors.KindUnknown), Message: err.Error()}
	}

	c.JSON(status, env)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
