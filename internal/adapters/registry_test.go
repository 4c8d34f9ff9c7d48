package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/internal/resilience"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

type fakeAdapter struct {
	name    string
	docs    []*model.Document
	err     error
	healthy bool
}

func (f *fakeAdapter) Initialize(ctx context.Context) error { return nil }

func (f *fakeAdapter) Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f *fakeAdapter) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	return nil, nil
}

func (f *fakeAdapter) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	for _, d := range f.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) HealthResult {
	return HealthResult{Healthy: f.healthy}
}

func (f *fakeAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) { return true, nil }

func (f *fakeAdapter) GetMetadata() Metadata { return Metadata{Name: f.name, Type: "fake"} }

func (f *fakeAdapter) Configure(cfg model.AdapterConfig) error { return nil }

func (f *fakeAdapter) Cleanup() error { return nil }

func newRegistry() *Registry {
	breakers := resilience.NewCircuitBreakerRegistry(nil, nil)
	return NewRegistry(breakers, nil, nil, 0)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newRegistry()
	a := &fakeAdapter{name: "file_adapter", healthy: true}
	r.Register(a)

	assert.Equal(t, a, r.Get("file_adapter"))
	assert.Len(t, r.List(), 1)
}

func TestRegistry_SearchMergesAcrossAdapters(t *testing.T) {
	r := newRegistry()
	r.Register(&fakeAdapter{name: "a", healthy: true, docs: []*model.Document{
		{ID: "a:1", LastUpdated: time.Now()},
	}})
	r.Register(&fakeAdapter{name: "b", healthy: true, docs: []*model.Document{
		{ID: "b:1", LastUpdated: time.Now()},
	}})

	merged, perAdapter := r.Search(context.Background(), "query", nil)
	require.Len(t, merged, 2)
	assert.Len(t, perAdapter, 2)
}

func TestRegistry_PartialFailureDoesNotFailFanOut(t *testing.T) {
	r := newRegistry()
	r.Register(&fakeAdapter{name: "good", healthy: true, docs: []*model.Document{{ID: "good:1"}}})
	r.Register(&fakeAdapter{name: "bad", healthy: false, err: assertError{"boom"}})

	merged, perAdapter := r.Search(context.Background(), "query", nil)
	require.Len(t, merged, 1)
	assert.Equal(t, "good:1", merged[0].ID)

	var sawFailure bool
	for _, res := range perAdapter {
		if res.AdapterName == "bad" {
			sawFailure = res.Err != nil
		}
	}
	assert.True(t, sawFailure)
}

func TestRegistry_SortsByPriorityThenRecencyThenID(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	r.Register(&fakeAdapter{name: "a", healthy: true, docs: []*model.Document{
		{ID: "z", LastUpdated: now, Metadata: map[string]interface{}{"priority": 2}},
		{ID: "a", LastUpdated: now.Add(-time.Hour), Metadata: map[string]interface{}{"priority": 1}},
		{ID: "b", LastUpdated: now, Metadata: map[string]interface{}{"priority": 1}},
	}})

	merged, _ := r.Search(context.Background(), "q", nil)
	require.Len(t, merged, 3)
	assert.Equal(t, "b", merged[0].ID) // priority 1, most recent
	assert.Equal(t, "a", merged[1].ID) // priority 1, older
	assert.Equal(t, "z", merged[2].ID) // priority 2
}

func TestRegistry_Deregister(t *testing.T) {
	r := newRegistry()
	r.Register(&fakeAdapter{name: "a", healthy: true})
	require.NoError(t, r.Deregister("a"))
	assert.Nil(t, r.Get("a"))
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
