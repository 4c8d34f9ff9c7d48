// Package repowiki implements the Repository/Wiki Adapter: a thin wrapper
// over third-party REST surfaces (GitHub repositories, Confluence-style
// wiki spaces) with conservative local rate limiting independent of
// whatever the remote reports.
package repowiki

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	serrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/resilience"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// githubUpstreamRequestsPerHour is GitHub's own default REST quota for an
// authenticated token. The configured quota fraction is applied against this
// to derive the adapter's local, conservative budget.
const githubUpstreamRequestsPerHour = 5000

var generatedPathMarkers = []string{"/vendor/", "/node_modules/", ".generated.", ".pb.go", "/dist/", "/build/"}

// Adapter indexes configured repository and wiki scopes behind a local
// quota and minimum inter-request interval.
type Adapter struct {
	cfg model.AdapterConfig

	gh      *github.Client
	httpCli *http.Client
	token   string

	quota       *resilience.AdapterBudget
	minInterval time.Duration
	lastRequest time.Time
	requestMu   sync.Mutex

	mu          sync.RWMutex
	index       map[string]*model.Document
	lastIndexed time.Time

	logger  observability.Logger
	metrics observability.MetricsClient
}

// New constructs an unconfigured Adapter.
func New(logger observability.Logger, metrics observability.MetricsClient) *Adapter {
	return &Adapter{
		index:   make(map[string]*model.Document),
		logger:  logger,
		metrics: metrics,
	}
}

// Configure validates and stores the Repository/Wiki configuration.
func (a *Adapter) Configure(cfg model.AdapterConfig) error {
	if cfg.RepoWiki == nil {
		return serrors.New(serrors.KindConfig, "repowiki adapter requires a repo_wiki configuration block").WithOp("repowiki.Configure")
	}
	rw := cfg.RepoWiki
	if len(rw.Scopes) == 0 {
		return serrors.New(serrors.KindConfig, "repowiki adapter requires at least one scope").WithOp("repowiki.Configure")
	}
	for _, s := range rw.Scopes {
		if strings.HasPrefix(s, "org:") && !rw.UserConsentGiven {
			return serrors.New(serrors.KindConfig, fmt.Sprintf("organization-wide scope %q requires user_consent_given=true", s)).WithOp("repowiki.Configure")
		}
	}

	a.cfg = cfg
	a.token = os.Getenv(rw.TokenEnvVar)

	frac := rw.QuotaFractionOfUpstream
	if frac <= 0 {
		frac = 0.10
	}
	budget := int(float64(githubUpstreamRequestsPerHour) * frac)
	if budget < 1 {
		budget = 1
	}
	name := cfg.Name
	if name == "" {
		name = "repowiki"
	}
	a.quota = resilience.NewAdapterBudget(name, resilience.AdapterBudgetConfig{RequestsPerPeriod: budget, Period: time.Hour, BurstFactor: 1})

	a.minInterval = time.Duration(rw.MinIntervalMs) * time.Millisecond
	if a.minInterval <= 0 {
		a.minInterval = 250 * time.Millisecond
	}

	a.httpCli = &http.Client{Timeout: 30 * time.Second}

	return nil
}

// Initialize authenticates against every remote a configured scope touches,
// then performs a first full index.
func (a *Adapter) Initialize(ctx context.Context) error {
	rw := a.cfg.RepoWiki

	if a.token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.token})
		oauthClient := oauth2.NewClient(ctx, ts)
		client, err := newGitHubClient(oauthClient, rw.BaseURL)
		if err != nil {
			return serrors.Wrap(serrors.KindAuth, "failed to construct GitHub client", err).WithOp("repowiki.Initialize")
		}
		a.gh = client
	} else {
		client, err := newGitHubClient(http.DefaultClient, rw.BaseURL)
		if err != nil {
			return serrors.Wrap(serrors.KindAuth, "failed to construct GitHub client", err).WithOp("repowiki.Initialize")
		}
		a.gh = client
	}

	if hasGitHubScope(rw.Scopes) {
		if err := a.throttle(ctx); err != nil {
			return err
		}
		if _, _, err := a.gh.Users.Get(ctx, ""); err != nil {
			return serrors.Wrap(serrors.KindAuth, "GitHub identity verification failed", err).WithOp("repowiki.Initialize")
		}
	}

	if hasWikiScope(rw.Scopes) {
		if rw.BaseURL == "" {
			return serrors.New(serrors.KindConfig, "wiki scopes require base_url").WithOp("repowiki.Initialize")
		}
		if err := a.verifyWikiIdentity(ctx); err != nil {
			return err
		}
	}

	_, err := a.refresh(ctx)
	return err
}

func newGitHubClient(httpClient *http.Client, baseURL string) (*github.Client, error) {
	if baseURL == "" || baseURL == "https://github.com" || baseURL == "https://api.github.com" {
		return github.NewClient(httpClient), nil
	}
	base := strings.TrimSuffix(baseURL, "/")
	apiURL := base + "/api/v3/"
	uploadURL := base + "/api/uploads/"
	return github.NewClient(httpClient).WithEnterpriseURLs(apiURL, uploadURL)
}

func (a *Adapter) verifyWikiIdentity(ctx context.Context) error {
	if err := a.throttle(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(a.cfg.RepoWiki.BaseURL, "/")+"/rest/api/user/current", nil)
	if err != nil {
		return serrors.Wrap(serrors.KindAuth, "failed to build wiki identity request", err).WithOp("repowiki.verifyWikiIdentity")
	}
	a.applyWikiAuth(req)
	resp, err := a.httpCli.Do(req)
	if err != nil {
		return serrors.Wrap(serrors.KindAuth, "wiki identity verification failed", err).WithOp("repowiki.verifyWikiIdentity")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return serrors.New(serrors.KindAuth, fmt.Sprintf("wiki identity verification rejected: status %d", resp.StatusCode)).WithOp("repowiki.verifyWikiIdentity")
	}
	return nil
}

func (a *Adapter) applyWikiAuth(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}

func hasGitHubScope(scopes []string) bool {
	for _, s := range scopes {
		if strings.HasPrefix(s, "repo:") || strings.HasPrefix(s, "org:") {
			return true
		}
	}
	return false
}

func hasWikiScope(scopes []string) bool {
	for _, s := range scopes {
		if strings.HasPrefix(s, "wiki:") {
			return true
		}
	}
	return false
}

// throttle enforces both the local per-hour quota and the minimum
// inter-request interval before letting a caller issue a remote request.
func (a *Adapter) throttle(ctx context.Context) error {
	if !a.quota.Allow() {
		return serrors.New(serrors.KindRateLimit, "local repo/wiki quota exhausted").
			WithContext("reset_hint", "next hourly window").
			WithOp("repowiki.throttle")
	}

	a.requestMu.Lock()
	wait := a.minInterval - time.Since(a.lastRequest)
	if wait < 0 {
		wait = 0
	}
	a.lastRequest = time.Now().Add(wait)
	a.requestMu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshIndex rebuilds the index from every configured scope. force is
// accepted for interface symmetry with the other adapters; this adapter has
// no incremental mode, so every refresh is a full walk.
func (a *Adapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	n, err := a.refresh(ctx)
	return n > 0 || err == nil, err
}

func (a *Adapter) refresh(ctx context.Context) (int, error) {
	rw := a.cfg.RepoWiki
	fresh := make(map[string]*model.Document)

	for _, scope := range rw.Scopes {
		switch {
		case strings.HasPrefix(scope, "repo:"):
			if err := a.indexRepo(ctx, strings.TrimPrefix(scope, "repo:"), fresh); err != nil {
				if a.logger != nil {
					a.logger.Warn("repowiki: repo scope failed", map[string]interface{}{"scope": scope, "error": err.Error()})
				}
			}
		case strings.HasPrefix(scope, "org:"):
			if err := a.indexOrg(ctx, strings.TrimPrefix(scope, "org:"), fresh); err != nil {
				if a.logger != nil {
					a.logger.Warn("repowiki: org scope failed", map[string]interface{}{"scope": scope, "error": err.Error()})
				}
			}
		case strings.HasPrefix(scope, "wiki:"):
			if err := a.indexWikiSpace(ctx, strings.TrimPrefix(scope, "wiki:"), fresh); err != nil {
				if a.logger != nil {
					a.logger.Warn("repowiki: wiki scope failed", map[string]interface{}{"scope": scope, "error": err.Error()})
				}
			}
		}
	}

	a.mu.Lock()
	a.index = fresh
	a.lastIndexed = time.Now()
	a.mu.Unlock()

	return len(fresh), nil
}

func (a *Adapter) indexOrg(ctx context.Context, org string, out map[string]*model.Document) error {
	if err := a.throttle(ctx); err != nil {
		return err
	}
	opts := &github.RepositoryListByOrgOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var repos []*github.Repository
	for {
		page, resp, err := a.gh.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return serrors.Wrap(serrors.KindSourceAdapter, "failed to list organization repositories", err).WithOp("repowiki.indexOrg")
		}
		repos = append(repos, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		if err := a.throttle(ctx); err != nil {
			return err
		}
	}

	for _, r := range repos {
		if r.GetArchived() || r.GetFork() {
			continue
		}
		full := r.GetFullName()
		if err := a.indexRepo(ctx, full, out); err != nil && a.logger != nil {
			a.logger.Warn("repowiki: org member repo failed", map[string]interface{}{"repo": full, "error": err.Error()})
		}
	}
	return nil
}

func (a *Adapter) indexRepo(ctx context.Context, ownerRepo string, out map[string]*model.Document) error {
	parts := strings.SplitN(ownerRepo, "/", 2)
	if len(parts) != 2 {
		return serrors.New(serrors.KindConfig, fmt.Sprintf("scope %q is not in owner/repo form", ownerRepo)).WithOp("repowiki.indexRepo")
	}
	owner, repo := parts[0], parts[1]

	if err := a.throttle(ctx); err != nil {
		return err
	}
	branch := "main"
	tree, resp, err := a.gh.Git.GetTree(ctx, owner, repo, branch, true)
	if resp != nil && resp.Rate.Limit > 0 {
		a.quota.Throttle(resp.Rate.Remaining)
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			if err := a.throttle(ctx); err != nil {
				return err
			}
			branch = "master"
			tree, resp, err = a.gh.Git.GetTree(ctx, owner, repo, branch, true)
			if resp != nil && resp.Rate.Limit > 0 {
				a.quota.Throttle(resp.Rate.Remaining)
			}
		}
		if err != nil {
			return serrors.Wrap(serrors.KindSourceAdapter, "failed to fetch repository tree", err).WithOp("repowiki.indexRepo")
		}
	}

	rw := a.cfg.RepoWiki
	for _, entry := range tree.Entries {
		if entry.Type == nil || *entry.Type != "blob" || entry.Path == nil {
			continue
		}
		path := *entry.Path
		if !rw.IncludeGenerated && isGenerated(path) {
			continue
		}
		if entry.Size != nil && rw.MaxPageBytes > 0 && int64(*entry.Size) > rw.MaxPageBytes {
			continue
		}

		if err := a.throttle(ctx); err != nil {
			return err
		}
		content, _, _, err := a.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
		if err != nil || content == nil {
			continue
		}
		raw, err := content.GetContent()
		if err != nil {
			continue
		}
		if rw.MaxPageBytes > 0 && int64(len(raw)) > rw.MaxPageBytes {
			raw = raw[:rw.MaxPageBytes]
		}

		doc := a.buildDocument(model.SourceTypeRepo, fmt.Sprintf("repo:%s/%s:%s", owner, repo, path), path, raw, content.GetHTMLURL(), map[string]interface{}{
			"owner":  owner,
			"repo":   repo,
			"path":   path,
			"branch": branch,
		})
		out[doc.ID] = doc
	}
	return nil
}

func isGenerated(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range generatedPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// confluenceSearchResponse models just enough of a Confluence-shaped content
// search response to walk a space's pages.
type confluenceSearchResponse struct {
	Results []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Links struct {
			WebUI string `json:"webui"`
		} `json:"_links"`
		Body struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
		Version struct {
			When time.Time `json:"when"`
		} `json:"version"`
	} `json:"results"`
	Size  int `json:"size"`
	Start int `json:"start"`
	Limit int `json:"limit"`
}

func (a *Adapter) indexWikiSpace(ctx context.Context, space string, out map[string]*model.Document) error {
	rw := a.cfg.RepoWiki
	base := strings.TrimSuffix(rw.BaseURL, "/")
	start := 0
	const pageSize = 50

	for {
		if err := a.throttle(ctx); err != nil {
			return err
		}

		q := url.Values{}
		q.Set("spaceKey", space)
		q.Set("expand", "body.storage,version")
		q.Set("start", fmt.Sprintf("%d", start))
		q.Set("limit", fmt.Sprintf("%d", pageSize))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rest/api/content?"+q.Encode(), nil)
		if err != nil {
			return serrors.Wrap(serrors.KindSourceAdapter, "failed to build wiki content request", err).WithOp("repowiki.indexWikiSpace")
		}
		a.applyWikiAuth(req)

		resp, err := a.httpCli.Do(req)
		if err != nil {
			return serrors.Wrap(serrors.KindSourceAdapter, "wiki content request failed", err).WithOp("repowiki.indexWikiSpace")
		}

		limited := io.LimitReader(resp.Body, 10*1024*1024)
		body, readErr := io.ReadAll(limited)
		resp.Body.Close()
		if readErr != nil {
			return serrors.Wrap(serrors.KindSourceAdapter, "failed reading wiki content response", readErr).WithOp("repowiki.indexWikiSpace")
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return serrors.New(serrors.KindRateLimit, "wiki host reported rate limiting").WithOp("repowiki.indexWikiSpace")
		}
		if resp.StatusCode >= 400 {
			return serrors.New(serrors.KindSourceAdapter, fmt.Sprintf("wiki content request returned status %d", resp.StatusCode)).WithOp("repowiki.indexWikiSpace")
		}

		var parsed confluenceSearchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return serrors.Wrap(serrors.KindSourceAdapter, "failed decoding wiki content response", err).WithOp("repowiki.indexWikiSpace")
		}

		for _, r := range parsed.Results {
			if !rw.IncludeGenerated && strings.Contains(strings.ToLower(r.Title), "archived") {
				continue
			}
			raw := r.Body.Storage.Value
			if rw.MaxPageBytes > 0 && int64(len(raw)) > rw.MaxPageBytes {
				raw = raw[:rw.MaxPageBytes]
			}
			doc := a.buildDocument(model.SourceTypeWiki, "wiki:"+space+":"+r.ID, r.Title, htmlToPlainText(raw), base+r.Links.WebUI, map[string]interface{}{
				"space": space,
				"page":  r.ID,
			})
			if !r.Version.When.IsZero() {
				doc.LastUpdated = r.Version.When
			}
			out[doc.ID] = doc
		}

		if len(parsed.Results) < pageSize {
			break
		}
		start += pageSize
	}
	return nil
}

// htmlToPlainText strips the small set of block/inline tags Confluence's
// storage format commonly emits, leaving headings and lists readable.
func htmlToPlainText(raw string) string {
	replacer := strings.NewReplacer(
		"<p>", "", "</p>", "\n",
		"<br>", "\n", "<br/>", "\n",
		"<li>", "- ", "</li>", "\n",
		"<strong>", "", "</strong>", "",
		"<em>", "", "</em>", "",
	)
	text := replacer.Replace(raw)
	var sb strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (a *Adapter) buildDocument(sourceType model.SourceType, idKey, title, content, docURL string, meta map[string]interface{}) *model.Document {
	score := scoring.RunbookScore(title, content, scoring.RunbookSignals{})
	category := model.CategoryGeneral
	threshold := a.cfg.RepoWiki.RunbookScoreThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	if score >= threshold {
		category = model.CategoryRunbook
		meta["runbook_class"] = string(scoring.ClassifyRunbook(title, content))
	}

	doc := &model.Document{
		ID:          contentID(idKey),
		Title:       title,
		Content:     content,
		SourceName:  a.cfg.Name,
		SourceType:  sourceType,
		Category:    category,
		URL:         docURL,
		LastUpdated: time.Now(),
		Metadata:    meta,
	}
	doc.TruncateContent(model.MaxDocumentBytes)
	return doc
}

func contentID(key string) string {
	h := sha256.Sum256([]byte(key))
	return "repowiki:" + hex.EncodeToString(h[:])[:16]
}

// Search performs a trigram-weighted fuzzy search over the indexed
// documents, no embeddings involved at this layer.
func (a *Adapter) Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []*model.Document
	for _, d := range a.index {
		score := scoring.TrigramSimilarity(query, d.Title)*0.5 + scoring.TrigramSimilarity(query, d.Content)*0.5
		if score <= 0 {
			continue
		}
		clone := *d
		clone.ConfidenceScore = score
		clone.ClampConfidence()
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ConfidenceScore > results[j].ConfidenceScore })
	return results, nil
}

// SearchRunbooks is a stub: this adapter indexes plain documents, not
// structured runbooks. Runbook-shaped documents surface through Search with
// category=runbook and a populated runbook_class metadata field.
func (a *Adapter) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	return nil, nil
}

func (a *Adapter) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if d, ok := a.index[id]; ok {
		clone := *d
		return &clone, nil
	}
	return nil, serrors.New(serrors.KindNotFound, "document not found").WithContext("id", id).WithOp("repowiki.GetDocument")
}

func (a *Adapter) HealthCheck(ctx context.Context) adapters.HealthResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return adapters.HealthResult{
		Healthy: true,
		Details: map[string]interface{}{
			"document_count": len(a.index),
			"last_indexed":   a.lastIndexed,
		},
	}
}

func (a *Adapter) GetMetadata() adapters.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return adapters.Metadata{
		Name:          a.cfg.Name,
		Type:          string(a.cfg.Type),
		DocumentCount: len(a.index),
		LastIndexed:   a.lastIndexed,
	}
}

func (a *Adapter) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index = make(map[string]*model.Document)
	return nil
}
