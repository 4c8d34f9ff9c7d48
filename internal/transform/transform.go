// Package transform implements the Transform Layer (C12): the boundary
// between the tool-invocation protocol (named callables over JSON
// map[string]interface{}) and both the HTTP API and the internal engine.
// RequestTransformer validates and sanitizes inbound parameters before a
// tool handler ever sees them; ResponseTransformer folds whatever a handler
// returns into the uniform envelope every caller, HTTP or tool-protocol,
// receives.
package transform

import "github.com/google/uuid"

// NewRequestID returns a process-unique identifier for one inbound
// request, attached by the request transform and echoed back on every
// error so a caller can correlate a failure with their own logs.
func NewRequestID() string {
	return uuid.NewString()
}
