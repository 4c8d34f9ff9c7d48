package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/resilience"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// HealthStatus records an adapter's most recently observed health.
type HealthStatus struct {
	Status      string
	LastChecked time.Time
	Details     map[string]interface{}
}

// Registry owns every adapter instance by name, fans a query out across all
// enabled adapters under a shared deadline, and runs a periodic background
// health-check loop. It holds its own CircuitBreakerRegistry rather than
// reaching for a package-level singleton, so each Registry instance is
// independently testable.
type Registry struct {
	mu             sync.RWMutex
	adapters       map[string]Adapter
	healthStatuses map[string]HealthStatus
	breakers       *resilience.CircuitBreakerRegistry
	logger         observability.Logger
	metrics        *observability.PromMetricsClient

	stopHealthLoop chan struct{}
}

// NewRegistry constructs an empty Registry and starts its health-check loop
// at the given interval (0 disables it).
func NewRegistry(breakers *resilience.CircuitBreakerRegistry, logger observability.Logger, metrics *observability.PromMetricsClient, healthCheckInterval time.Duration) *Registry {
	r := &Registry{
		adapters:       make(map[string]Adapter),
		healthStatuses: make(map[string]HealthStatus),
		breakers:       breakers,
		logger:         logger,
		metrics:        metrics,
		stopHealthLoop: make(chan struct{}),
	}

	if healthCheckInterval > 0 {
		go r.healthCheckLoop(healthCheckInterval)
	}

	return r
}

// Register adds or replaces an adapter under its own GetMetadata().Name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.GetMetadata().Name
	r.adapters[name] = a
	r.healthStatuses[name] = HealthStatus{Status: "initializing", LastChecked: time.Now()}
}

// Deregister removes and cleans up the named adapter.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil
	}
	delete(r.adapters, name)
	delete(r.healthStatuses, name)
	return a.Cleanup()
}

// Get returns the named adapter, or nil if not registered.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// List returns every registered adapter.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// GetDocument resolves id against every registered adapter in turn and
// returns the first hit. A Document's id carries no adapter name, only a
// source-type prefix (several adapters can share one source type), so this
// is a linear probe rather than a direct lookup; callers on the resolve
// path (get_procedure, get_decision_tree) run infrequently enough that
// this is not a bottleneck.
func (r *Registry) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	for _, a := range r.List() {
		doc, err := a.GetDocument(ctx, id)
		if err == nil && doc != nil {
			return doc, nil
		}
	}
	return nil, svcerrors.New(svcerrors.KindNotFound, fmt.Sprintf("document %q not found", id)).WithOp("adapters.Registry.GetDocument")
}

// Close stops the health-check loop and cleans up every adapter.
func (r *Registry) Close() error {
	close(r.stopHealthLoop)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		_ = a.Cleanup()
	}
	return nil
}

// FanOutResult is one adapter's contribution to a fan-out search.
type FanOutResult struct {
	AdapterName string
	Documents   []*model.Document
	Err         error
}

// Search invokes Search on every registered adapter in parallel, bounded by
// ctx's deadline, protecting each call behind that adapter's circuit
// breaker. Per-adapter errors are captured only in the returned slice; the
// call has no error return and does not fail, even when every adapter
// fails (it then returns no documents). Results are merged and
// ordered by priority asc, last_updated desc, id asc (final score-desc
// ordering is the Hybrid Scorer's job downstream).
func (r *Registry) Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, []FanOutResult) {
	adapterList := r.List()

	results := make([]FanOutResult, len(adapterList))
	var wg sync.WaitGroup
	wg.Add(len(adapterList))

	for i, a := range adapterList {
		i, a := i, a
		go func() {
			defer wg.Done()
			name := a.GetMetadata().Name

			exec := func() (interface{}, error) {
				return a.Search(ctx, query, filters)
			}

			var docs []*model.Document
			var err error
			if r.breakers != nil {
				raw, cbErr := r.breakers.GetOrCreate(name).Execute(ctx, exec)
				if cbErr != nil {
					err = cbErr
				} else if raw != nil {
					docs, _ = raw.([]*model.Document)
				}
			} else {
				docs, err = a.Search(ctx, query, filters)
			}

			results[i] = FanOutResult{AdapterName: name, Documents: docs, Err: err}
		}()
	}
	wg.Wait()

	merged := make([]*model.Document, 0)
	failures := 0
	for _, res := range results {
		if res.Err != nil {
			failures++
			if r.logger != nil {
				r.logger.Warn("adapter search failed", map[string]interface{}{"adapter": res.AdapterName, "error": res.Err.Error()})
			}
			continue
		}
		merged = append(merged, res.Documents...)
	}

	sortByPriorityThenRecency(merged)

	return merged, results
}

func sortByPriorityThenRecency(docs []*model.Document) {
	priority := func(d *model.Document) int {
		if p, ok := d.Metadata["priority"]; ok {
			if pi, ok := p.(int); ok {
				return pi
			}
		}
		return 0
	}

	sort.SliceStable(docs, func(i, j int) bool {
		pi, pj := priority(docs[i]), priority(docs[j])
		if pi != pj {
			return pi < pj
		}
		if !docs[i].LastUpdated.Equal(docs[j].LastUpdated) {
			return docs[i].LastUpdated.After(docs[j].LastUpdated)
		}
		return docs[i].ID < docs[j].ID
	})
}

func (r *Registry) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.checkAll()
		case <-r.stopHealthLoop:
			return
		}
	}
}

func (r *Registry) checkAll() {
	for _, a := range r.List() {
		name := a.GetMetadata().Name
		result := a.HealthCheck(context.Background())

		status := "healthy"
		if !result.Healthy {
			status = "unhealthy"
		}

		r.mu.Lock()
		old := r.healthStatuses[name]
		r.healthStatuses[name] = HealthStatus{Status: status, LastChecked: time.Now(), Details: result.Details}
		r.mu.Unlock()

		if old.Status != status && r.logger != nil {
			r.logger.Info("adapter health changed", map[string]interface{}{"adapter": name, "status": status})
		}
	}
}

// Health returns the most recently observed status for every adapter.
func (r *Registry) Health() map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HealthStatus, len(r.healthStatuses))
	for k, v := range r.healthStatuses {
		out[k] = v
	}
	return out
}
