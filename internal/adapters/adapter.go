// Package adapters implements the Source Adapter Base (C6) and Adapter
// Registry (C11): a uniform lifecycle/search contract over heterogeneous
// documentation backends, and the registry that fans a query out across all
// enabled adapters under a shared deadline.
package adapters

import (
	"context"
	"time"

	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// HealthResult is the outcome of an adapter's HealthCheck.
type HealthResult struct {
	Healthy   bool
	LatencyMs float64
	Details   map[string]interface{}
}

// Metadata describes an adapter's identity and operating statistics, as
// returned by GetMetadata.
type Metadata struct {
	Name            string
	Type            string
	DocumentCount   int
	LastIndexed     time.Time
	AvgResponseTime time.Duration
	SuccessRate     float64
}

// Adapter is the uniform contract every source adapter implements, per
// spec.md §4.1.
type Adapter interface {
	Initialize(ctx context.Context) error
	Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, error)
	SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	HealthCheck(ctx context.Context) HealthResult
	RefreshIndex(ctx context.Context, force bool) (bool, error)
	GetMetadata() Metadata
	Configure(cfg model.AdapterConfig) error
	Cleanup() error
}

// Name is a convenience accessor used by the registry and by tests; every
// adapter's GetMetadata().Name is its registry key.
func Name(a Adapter) string {
	return a.GetMetadata().Name
}
