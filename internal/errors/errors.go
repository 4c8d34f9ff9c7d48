// Package errors implements the service's closed error taxonomy: every
// public contract returns a *ServiceError whose Kind is one of the eleven
// categories below, each carrying a severity and a default retry-after hint.
package errors

import (
	"fmt"
	"time"
)

// Kind is the closed set of error categories. No other value is valid.
type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindAuth             Kind = "AUTH"
	KindConfig           Kind = "CONFIG"
	KindTimeout          Kind = "TIMEOUT"
	KindRateLimit        Kind = "RATE_LIMIT"
	KindSourceAdapter    Kind = "SOURCE_ADAPTER"
	KindCache            Kind = "CACHE"
	KindEmbedFailure     Kind = "EMBED_FAILURE"
	KindNotFound         Kind = "NOT_FOUND"
	KindOversizedPayload Kind = "OVERSIZED_PAYLOAD"
	KindUnknown          Kind = "UNKNOWN"
)

// Severity mirrors the taxonomy table in the error handling design: each
// Kind has exactly one severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type kindInfo struct {
	severity        Severity
	defaultRetryMs  int64 // 0 means "no retry hint" (-1 sentinel not needed: 0 is used both for "0ms" and "none" per the table, callers branch on Kind)
}

var taxonomy = map[Kind]kindInfo{
	KindValidation:       {SeverityLow, 0},
	KindAuth:             {SeverityHigh, 0},
	KindConfig:           {SeverityCritical, 0},
	KindTimeout:          {SeverityMedium, 2000},
	KindRateLimit:        {SeverityMedium, 0}, // resolved per-instance to reset_in_ms
	KindSourceAdapter:    {SeverityHigh, 5000},
	KindCache:            {SeverityLow, 1000},
	KindEmbedFailure:     {SeverityMedium, 1000},
	KindNotFound:         {SeverityLow, 0},
	KindOversizedPayload: {SeverityLow, 0},
	KindUnknown:          {SeverityMedium, 1000},
}

// ServiceError is the single error type every public operation returns.
// Its Kind, Severity and RetryAfterMs follow the taxonomy in SPEC_FULL.md
// §7; RequestID, Op and Context carry operation-specific diagnostics (request
// id, the op whose deadline was hit, the offending field).
type ServiceError struct {
	Kind         Kind
	Message      string
	Severity     Severity
	RetryAfterMs int64
	RequestID    string
	Op           string
	Context      map[string]interface{}
	cause        error
}

// New constructs a ServiceError for kind, filling in its default severity
// and retry-after from the taxonomy. Use WithRetryAfter to override the
// default (used by RATE_LIMIT, where the hint is instance-specific).
func New(kind Kind, message string) *ServiceError {
	info, ok := taxonomy[kind]
	if !ok {
		info = taxonomy[KindUnknown]
		kind = KindUnknown
	}
	return &ServiceError{
		Kind:         kind,
		Message:      message,
		Severity:     info.severity,
		RetryAfterMs: info.defaultRetryMs,
	}
}

// Wrap constructs a ServiceError for kind that preserves cause for Unwrap.
func Wrap(kind Kind, message string, cause error) *ServiceError {
	e := New(kind, message)
	e.cause = cause
	return e
}

func (e *ServiceError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("[%s] %s (request_id=%s)", e.Kind, e.Message, e.RequestID)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.cause
}

// WithRetryAfter overrides the default retry-after hint, e.g. a rate
// limiter's actual reset_in_ms.
func (e *ServiceError) WithRetryAfter(d time.Duration) *ServiceError {
	e.RetryAfterMs = d.Milliseconds()
	return e
}

// WithRequestID attaches the request id so timeouts and fan-out failures
// can be traced back to the originating call.
func (e *ServiceError) WithRequestID(id string) *ServiceError {
	e.RequestID = id
	return e
}

// WithOp records which operation's deadline was hit or which op failed.
func (e *ServiceError) WithOp(op string) *ServiceError {
	e.Op = op
	return e
}

// WithContext attaches a diagnostic key/value, creating the map on first use.
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsKind reports whether err is a *ServiceError of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := err.(*ServiceError)
	return ok && se.Kind == kind
}
