package repowiki

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/pkg/model"
)

func TestAdapter_ConfigureRequiresScopes(t *testing.T) {
	a := New(nil, nil)
	err := a.Configure(model.AdapterConfig{
		RepoWiki: &model.RepoWikiAdapterConfig{},
	})
	require.Error(t, err)
}

func TestAdapter_OrgScopeRequiresConsent(t *testing.T) {
	a := New(nil, nil)
	err := a.Configure(model.AdapterConfig{
		RepoWiki: &model.RepoWikiAdapterConfig{Scopes: []string{"org:acme"}},
	})
	require.Error(t, err)
}

func newFakeRemote(t *testing.T) *httptest.Server {
	content := base64.StdEncoding.EncodeToString([]byte("This is a regular configuration file with default values."))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"login": "bot"})
	})
	mux.HandleFunc("/api/v3/repos/acme/ops/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sha": "abc123",
			"tree": []map[string]interface{}{
				{"path": "config.md", "mode": "100644", "type": "blob", "sha": "def456", "size": 42},
			},
		})
	})
	mux.HandleFunc("/api/v3/repos/acme/ops/contents/config.md", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"type":      "file",
			"encoding":  "base64",
			"content":   content,
			"name":      "config.md",
			"path":      "config.md",
			"html_url":  "https://example.test/acme/ops/blob/main/config.md",
		})
	})
	mux.HandleFunc("/rest/api/user/current", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"size":  1,
			"start": 0,
			"limit": 50,
			"results": []map[string]interface{}{
				{
					"id":    "999",
					"title": "Disk Full Incident Runbook",
					"_links": map[string]interface{}{
						"webui": "/spaces/OPS/pages/999",
					},
					"body": map[string]interface{}{
						"storage": map[string]interface{}{
							"value": "<p>Escalate immediately: this is an incident procedure.</p>" +
								"<p>1. Check disk usage</p>" +
								"<p>2. If usage exceeds 95% then escalate to on-call.</p>",
						},
					},
				},
			},
		})
	})

	return httptest.NewServer(mux)
}

func TestAdapter_IndexesGitHubRepoAndWikiSpace(t *testing.T) {
	srv := newFakeRemote(t)
	defer srv.Close()

	a := New(nil, nil)
	require.NoError(t, a.Configure(model.AdapterConfig{
		Name: "ops_repo_wiki",
		RepoWiki: &model.RepoWikiAdapterConfig{
			BaseURL:               srv.URL,
			Scopes:                []string{"repo:acme/ops", "wiki:OPS"},
			MinIntervalMs:         1,
			RunbookScoreThreshold: 0.7,
		},
	}))
	require.NoError(t, a.Initialize(context.Background()))

	meta := a.GetMetadata()
	assert.Equal(t, 2, meta.DocumentCount)

	docs, err := a.Search(context.Background(), "disk full incident configuration", nil)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	var sawRunbook, sawGeneral bool
	for _, d := range docs {
		switch d.Category {
		case model.CategoryRunbook:
			sawRunbook = true
			assert.Equal(t, "incident", d.Metadata["runbook_class"])
		case model.CategoryGeneral:
			sawGeneral = true
		}
	}
	assert.True(t, sawRunbook, "wiki page should be classified as a runbook")
	assert.True(t, sawGeneral, "repo file should not be classified as a runbook")
}

func TestAdapter_LocalQuotaExhaustionReturnsRateLimit(t *testing.T) {
	srv := newFakeRemote(t)
	defer srv.Close()

	a := New(nil, nil)
	require.NoError(t, a.Configure(model.AdapterConfig{
		Name: "tiny_quota",
		RepoWiki: &model.RepoWikiAdapterConfig{
			BaseURL:                 srv.URL,
			Scopes:                  []string{"repo:acme/ops"},
			MinIntervalMs:           1,
			QuotaFractionOfUpstream: 0.0002, // 5000 * 0.0002 = 1 request total
		},
	}))

	require.NoError(t, a.throttle(context.Background()))
	err := a.throttle(context.Background())
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "quota")
}
