package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/internal/resilience"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

func TestAdapter_FetchesHTMLEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Disk Cleanup</title></head><body><h1>Disk Cleanup</h1><p>Restart the cleanup daemon.</p></body></html>`))
	}))
	defer srv.Close()

	a := New(nil, nil)
	require.NoError(t, a.Configure(model.AdapterConfig{
		Type: model.AdapterTypeHTTP,
		Name: "http_adapter",
		HTTP: &model.HTTPAdapterConfig{
			Endpoints: []model.HTTPEndpoint{
				{Method: "GET", URL: srv.URL, ContentType: "html", RateLimitPerMin: 60, TimeoutMs: 2000},
			},
			MaxContentSizeMB: 1,
		},
	}))
	require.NoError(t, a.Initialize(context.Background()))

	docs, err := a.Search(context.Background(), "disk cleanup daemon", nil)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Contains(t, docs[0].Content, "Restart the cleanup daemon")
}

func TestAdapter_FetchesJSONEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"title":"Item One","body":"first item body"},{"title":"Item Two","body":"second item body"}]}`))
	}))
	defer srv.Close()

	a := New(nil, nil)
	require.NoError(t, a.Configure(model.AdapterConfig{
		Type: model.AdapterTypeHTTP,
		HTTP: &model.HTTPAdapterConfig{
			Endpoints: []model.HTTPEndpoint{
				{Method: "GET", URL: srv.URL, ContentType: "json", JSONProjections: []string{"items[]"}, RateLimitPerMin: 60, TimeoutMs: 2000},
			},
			MaxContentSizeMB: 1,
		},
	}))
	require.NoError(t, a.Initialize(context.Background()))

	meta := a.GetMetadata()
	assert.Equal(t, 2, meta.DocumentCount)
}

func TestAdapter_UnknownAuthTypeFailsConfig(t *testing.T) {
	a := New(nil, nil)
	err := a.Configure(model.AdapterConfig{
		HTTP: &model.HTTPAdapterConfig{
			Endpoints: []model.HTTPEndpoint{
				{Method: "GET", URL: "http://example.invalid", Auth: model.HTTPEndpointAuth{Type: "oauth2"}},
			},
		},
	})
	require.Error(t, err)
}

func TestAdapter_ApiKeyAuthAttachesHeader(t *testing.T) {
	os.Setenv("TEST_HTTP_ADAPTER_API_KEY", "secret-value")
	defer os.Unsetenv("TEST_HTTP_ADAPTER_API_KEY")

	var seenHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get("X-Api-Key")
		w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer srv.Close()

	a := New(nil, nil)
	require.NoError(t, a.Configure(model.AdapterConfig{
		HTTP: &model.HTTPAdapterConfig{
			Endpoints: []model.HTTPEndpoint{
				{
					Method: "GET", URL: srv.URL, ContentType: "html", RateLimitPerMin: 60, TimeoutMs: 2000,
					Auth: model.HTTPEndpointAuth{Type: "api_key", HeaderName: "X-Api-Key", ValueEnvVar: "TEST_HTTP_ADAPTER_API_KEY"},
				},
			},
		},
	}))
	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, "secret-value", seenHeader)
}

func TestAdapter_OversizedPayloadIsDiscarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, 2*1024*1024)
		w.Write(big)
	}))
	defer srv.Close()

	a := New(nil, nil)
	require.NoError(t, a.Configure(model.AdapterConfig{
		HTTP: &model.HTTPAdapterConfig{
			Endpoints: []model.HTTPEndpoint{
				{Method: "GET", URL: srv.URL, ContentType: "html", RateLimitPerMin: 60, TimeoutMs: 2000},
			},
			MaxContentSizeMB: 1,
		},
	}))
	require.NoError(t, a.Initialize(context.Background()))

	health := a.HealthCheck(context.Background())
	assert.False(t, health.Healthy)
}

func TestAdapter_RateLimitRejectsBeyondEndpointBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer srv.Close()

	a := New(nil, nil)
	require.NoError(t, a.Configure(model.AdapterConfig{
		HTTP: &model.HTTPAdapterConfig{
			Endpoints: []model.HTTPEndpoint{
				{Method: "GET", URL: srv.URL, ContentType: "html", RateLimitPerMin: 1, TimeoutMs: 2000},
			},
		},
	}))
	// Replace the configured limiter with one whose budget won't refill
	// within the test, so a second fetch is deterministically rejected.
	a.endpoints[0].limiter = resilience.NewAdapterBudget(srv.URL, resilience.AdapterBudgetConfig{RequestsPerPeriod: 1, Period: time.Hour, BurstFactor: 1})

	require.NoError(t, a.Initialize(context.Background()))
	require.Equal(t, 1, calls, "first fetch should consume the endpoint's single token")

	_, err := a.RefreshIndex(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second fetch must be rejected locally by the exhausted token bucket")

	health := a.HealthCheck(context.Background())
	assert.Equal(t, "rate_limited", health.Details[srv.URL])
}
