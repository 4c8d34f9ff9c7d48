// Package http implements the HTTP Adapter (C8): a list of configured
// endpoints fetched under bounded concurrency, per-endpoint rate limiting,
// and content extraction into Documents.
package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/resilience"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// endpointState is the per-endpoint fetch state machine named in the
// operational contract: idle -> scheduled -> in-flight -> a terminal state.
type endpointState string

const (
	stateIdle        endpointState = "idle"
	stateScheduled   endpointState = "scheduled"
	stateInFlight    endpointState = "in_flight"
	stateSucceeded   endpointState = "succeeded"
	stateTimedOut    endpointState = "timed_out"
	stateRateLimited endpointState = "rate_limited"
	stateError       endpointState = "error"
)

type endpoint struct {
	cfg     model.HTTPEndpoint
	limiter *resilience.AdapterBudget

	mu       sync.RWMutex
	state    endpointState
	docs     []*model.Document
	fetchedAt time.Time
	lastErr  error
}

// Adapter fetches configured HTTP/JSON endpoints and serves their extracted
// content as Documents.
type Adapter struct {
	cfg model.AdapterConfig

	mu        sync.RWMutex
	endpoints []*endpoint

	client *http.Client
	sem    chan struct{}

	logger  observability.Logger
	metrics *observability.PromMetricsClient
}

func New(logger observability.Logger, metrics *observability.PromMetricsClient) *Adapter {
	return &Adapter{
		logger:  logger,
		metrics: metrics,
	}
}

func (a *Adapter) Configure(cfg model.AdapterConfig) error {
	if cfg.HTTP == nil {
		return svcerrors.New(svcerrors.KindConfig, "http adapter requires an http config block")
	}

	maxConcurrency := cfg.HTTP.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	endpoints := make([]*endpoint, 0, len(cfg.HTTP.Endpoints))
	for _, ec := range cfg.HTTP.Endpoints {
		switch ec.Auth.Type {
		case "", "none", "api_key", "bearer_token", "basic":
			// valid
		default:
			return svcerrors.New(svcerrors.KindConfig, fmt.Sprintf("CONFIG: unknown auth type %q for endpoint %q", ec.Auth.Type, ec.URL)).
				WithContext("code", "CONFIG")
		}

		rateLimit := ec.RateLimitPerMin
		if rateLimit <= 0 {
			rateLimit = 60
		}

		endpoints = append(endpoints, &endpoint{
			cfg:     ec,
			limiter: resilience.NewAdapterBudget(ec.URL, resilience.AdapterBudgetConfig{RequestsPerPeriod: rateLimit, Period: time.Minute, BurstFactor: 1}),
			state:   stateIdle,
		})
	}

	a.cfg = cfg
	a.endpoints = endpoints
	a.sem = make(chan struct{}, maxConcurrency)
	a.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// follow_redirects is per-endpoint; the shared client follows
			// redirects, and doFetch substitutes a client that stops at the
			// first redirect response for endpoints that disable it.
			return nil
		},
	}

	return nil
}

// Initialize performs an initial fetch of every endpoint. Endpoint-level
// failures are logged and skipped; the adapter itself only fails init if it
// was never configured.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.cfg.HTTP == nil {
		return svcerrors.New(svcerrors.KindConfig, "http adapter not configured")
	}
	a.fetchAll(ctx)
	return nil
}

func (a *Adapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	a.fetchAll(ctx)
	return true, nil
}

func (a *Adapter) fetchAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ep := range a.endpoints {
		ep := ep
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.fetchOne(ctx, ep)
		}()
	}
	wg.Wait()
}

func (a *Adapter) fetchOne(ctx context.Context, ep *endpoint) {
	ep.mu.Lock()
	ep.state = stateScheduled
	ep.mu.Unlock()

	if !ep.limiter.Allow() {
		ep.mu.Lock()
		ep.state = stateRateLimited
		ep.lastErr = svcerrors.New(svcerrors.KindRateLimit, "endpoint rate limit exceeded: "+ep.cfg.URL)
		ep.mu.Unlock()
		return
	}

	a.sem <- struct{}{}
	defer func() { <-a.sem }()

	ep.mu.Lock()
	ep.state = stateInFlight
	ep.mu.Unlock()

	docs, err := a.doFetchWithBackoff(ctx, ep)

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if err != nil {
		if se, ok := err.(*svcerrors.ServiceError); ok && se.Kind == svcerrors.KindTimeout {
			ep.state = stateTimedOut
		} else {
			ep.state = stateError
		}
		ep.lastErr = err
		if a.logger != nil {
			a.logger.Warn("http adapter: endpoint fetch failed", map[string]interface{}{"url": ep.cfg.URL, "error": err.Error()})
		}
		return
	}
	ep.state = stateSucceeded
	ep.docs = docs
	ep.fetchedAt = time.Now()
	ep.lastErr = nil
}

func (a *Adapter) doFetchWithBackoff(ctx context.Context, ep *endpoint) ([]*model.Document, error) {
	maxBackoff := time.Duration(a.cfg.HTTP.BackoffMaxMs) * time.Millisecond
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxInterval = maxBackoff

	var docs []*model.Document
	var lastErr error

	err := resilience.RetryWithHint(ctx, retryCfg, func() (time.Duration, error) {
		d, retryAfter, fetchErr := a.doFetch(ctx, ep)
		if fetchErr == nil {
			docs = d
			return 0, nil
		}
		lastErr = fetchErr
		return retryAfter, fetchErr
	})

	if err == nil {
		return docs, nil
	}
	if ctx.Err() != nil {
		return nil, svcerrors.Wrap(svcerrors.KindTimeout, "context cancelled during backoff", ctx.Err())
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, svcerrors.Wrap(svcerrors.KindRateLimit, "exhausted retries for "+ep.cfg.URL, err)
}

// doFetch returns (docs, retryAfter, err). retryAfter > 0 signals the caller
// should back off and retry; retryAfter == 0 with err != nil is terminal.
func (a *Adapter) doFetch(ctx context.Context, ep *endpoint) ([]*model.Document, time.Duration, error) {
	timeout := time.Duration(ep.cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := ep.cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(reqCtx, method, ep.cfg.URL, nil)
	if err != nil {
		return nil, 0, svcerrors.Wrap(svcerrors.KindSourceAdapter, "failed building request", err)
	}

	if err := applyAuth(req, ep.cfg.Auth); err != nil {
		return nil, 0, err
	}

	client := a.client
	if !ep.cfg.FollowRedirects {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, 0, svcerrors.Wrap(svcerrors.KindTimeout, "request timed out: "+ep.cfg.URL, err)
		}
		return nil, 0, svcerrors.Wrap(svcerrors.KindSourceAdapter, "request failed: "+ep.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.Header.Get("X-RateLimit-Remaining") == "0" {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, svcerrors.New(svcerrors.KindRateLimit, "endpoint signalled rate limit: "+ep.cfg.URL).
			WithRetryAfter(retryAfter)
	}
	if resp.StatusCode >= 500 {
		return nil, 2 * time.Second, svcerrors.New(svcerrors.KindSourceAdapter, fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, ep.cfg.URL))
	}
	if resp.StatusCode >= 400 {
		return nil, 0, svcerrors.New(svcerrors.KindSourceAdapter, fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, ep.cfg.URL))
	}

	maxBytes := int64(a.cfg.HTTP.MaxContentSizeMB) * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, 0, svcerrors.Wrap(svcerrors.KindSourceAdapter, "failed reading response body", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, 0, svcerrors.New(svcerrors.KindOversizedPayload, fmt.Sprintf("OVERSIZED_PAYLOAD: response exceeds %d bytes: %s", maxBytes, ep.cfg.URL)).
			WithContext("code", "OVERSIZED_PAYLOAD")
	}

	var docs []*model.Document
	switch ep.cfg.ContentType {
	case "json":
		docs, err = extractJSON(ep.cfg, body)
	case "html":
		docs, err = extractHTML(ep.cfg, body)
	default:
		docs, err = extractHTML(ep.cfg, body)
	}
	if err != nil {
		return nil, 0, svcerrors.Wrap(svcerrors.KindSourceAdapter, "content extraction failed: "+ep.cfg.URL, err)
	}

	return docs, 0, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 2 * time.Second
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 2 * time.Second
}

func applyAuth(req *http.Request, auth model.HTTPEndpointAuth) error {
	switch auth.Type {
	case "", "none":
		return nil
	case "api_key":
		val := os.Getenv(auth.ValueEnvVar)
		if val == "" {
			return svcerrors.New(svcerrors.KindAuth, "missing api key env var: "+auth.ValueEnvVar)
		}
		header := auth.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, val)
		return nil
	case "bearer_token":
		val := os.Getenv(auth.ValueEnvVar)
		if val == "" {
			return svcerrors.New(svcerrors.KindAuth, "missing bearer token env var: "+auth.ValueEnvVar)
		}
		req.Header.Set("Authorization", "Bearer "+val)
		return nil
	case "basic":
		user := os.Getenv(auth.UsernameEnvVar)
		pass := os.Getenv(auth.PasswordEnvVar)
		if user == "" || pass == "" {
			return svcerrors.New(svcerrors.KindAuth, "missing basic auth credentials")
		}
		req.SetBasicAuth(user, pass)
		return nil
	default:
		return svcerrors.New(svcerrors.KindConfig, "CONFIG: unknown auth type: "+auth.Type).WithContext("code", "CONFIG")
	}
}

// extractHTML applies excludes then selectors, converting structured
// elements into a Markdown-like plain form.
func extractHTML(cfg model.HTTPEndpoint, body []byte) ([]*model.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	if cfg.Selectors != nil && cfg.Selectors.Exclude != "" {
		doc.Find(cfg.Selectors.Exclude).Remove()
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	contentSel := "body"
	titleSel := ""
	if cfg.Selectors != nil {
		if cfg.Selectors.Content != "" {
			contentSel = cfg.Selectors.Content
		}
		titleSel = cfg.Selectors.Title
	}
	if titleSel != "" {
		if t := strings.TrimSpace(doc.Find(titleSel).First().Text()); t != "" {
			title = t
		}
	}

	content := markdownify(doc.Find(contentSel))

	d := &model.Document{
		ID:          contentID(cfg.URL),
		Title:       title,
		Content:     content,
		SourceName:  "http",
		SourceType:  model.SourceTypeHTTP,
		Category:    model.CategoryGeneral,
		URL:         cfg.URL,
		LastUpdated: time.Now(),
	}
	return []*model.Document{d}, nil
}

// markdownify converts headings, lists, code, and emphasis into a
// Markdown-like plain text projection.
func markdownify(sel *goquery.Selection) string {
	var sb strings.Builder
	sel.Contents().Each(func(i int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil {
			return
		}
		switch goquery.NodeName(s) {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n# " + strings.TrimSpace(s.Text()) + "\n")
		case "li":
			sb.WriteString("- " + strings.TrimSpace(s.Text()) + "\n")
		case "code", "pre":
			sb.WriteString("`" + strings.TrimSpace(s.Text()) + "`\n")
		case "strong", "b", "em", "i":
			sb.WriteString("**" + strings.TrimSpace(s.Text()) + "** ")
		default:
			sb.WriteString(strings.TrimSpace(s.Text()) + " ")
		}
	})
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return strings.TrimSpace(sel.Text())
	}
	return text
}

func extractJSON(cfg model.HTTPEndpoint, body []byte) ([]*model.Document, error) {
	var raw interface{}
	if err := jsonUnmarshal(body, &raw); err != nil {
		return nil, err
	}

	var docs []*model.Document
	projections := cfg.JSONProjections
	if len(projections) == 0 {
		projections = []string{"$"}
	}

	for _, path := range projections {
		matches := evaluateJSONPath(raw, path)
		for i, m := range matches {
			title, content := inferTitleContent(m)
			docs = append(docs, &model.Document{
				ID:          contentID(fmt.Sprintf("%s#%s#%d", cfg.URL, path, i)),
				Title:       title,
				Content:     content,
				SourceName:  "http",
				SourceType:  model.SourceTypeHTTP,
				Category:    model.CategoryGeneral,
				URL:         cfg.URL,
				LastUpdated: time.Now(),
			})
		}
	}
	return docs, nil
}

func inferTitleContent(v interface{}) (string, string) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return "", fmt.Sprintf("%v", v)
	}
	title := ""
	for _, key := range []string{"title", "name", "id"} {
		if s, ok := m[key].(string); ok {
			title = s
			break
		}
	}
	var sb strings.Builder
	for k, val := range m {
		sb.WriteString(fmt.Sprintf("%s: %v\n", k, val))
	}
	return title, sb.String()
}

func contentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "http:" + hex.EncodeToString(sum[:])[:16]
}

func (a *Adapter) Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, error) {
	a.mu.RLock()
	endpoints := a.endpoints
	a.mu.RUnlock()

	var candidates []*model.Document
	for _, ep := range endpoints {
		ep.mu.RLock()
		if ep.cfg.CacheTTLSeconds > 0 && time.Since(ep.fetchedAt) > time.Duration(ep.cfg.CacheTTLSeconds)*time.Second {
			ep.mu.RUnlock()
			a.fetchOne(ctx, ep)
			ep.mu.RLock()
		}
		candidates = append(candidates, ep.docs...)
		ep.mu.RUnlock()
	}

	var results []*model.Document
	for _, d := range candidates {
		score := scoring.TrigramSimilarity(query, d.Title)*0.4 + scoring.TrigramSimilarity(query, d.Content)*0.6
		if score <= 0 {
			continue
		}
		clone := *d
		clone.ConfidenceScore = score
		results = append(results, &clone)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].ConfidenceScore > results[j].ConfidenceScore })
	return results, nil
}

func (a *Adapter) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	return nil, nil
}

func (a *Adapter) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ep := range a.endpoints {
		ep.mu.RLock()
		for _, d := range ep.docs {
			if d.ID == id {
				clone := *d
				ep.mu.RUnlock()
				return &clone, nil
			}
		}
		ep.mu.RUnlock()
	}
	return nil, svcerrors.New(svcerrors.KindNotFound, "document not found: "+id)
}

func (a *Adapter) HealthCheck(ctx context.Context) adapters.HealthResult {
	a.mu.RLock()
	endpoints := a.endpoints
	a.mu.RUnlock()

	healthy := 0
	details := make(map[string]interface{})
	for _, ep := range endpoints {
		ep.mu.RLock()
		if ep.state == stateSucceeded {
			healthy++
		}
		details[ep.cfg.URL] = string(ep.state)
		ep.mu.RUnlock()
	}

	return adapters.HealthResult{
		Healthy: len(endpoints) == 0 || healthy > 0,
		Details: details,
	}
}

func (a *Adapter) GetMetadata() adapters.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	count := 0
	var lastIndexed time.Time
	for _, ep := range a.endpoints {
		ep.mu.RLock()
		count += len(ep.docs)
		if ep.fetchedAt.After(lastIndexed) {
			lastIndexed = ep.fetchedAt
		}
		ep.mu.RUnlock()
	}
	return adapters.Metadata{
		Name:          "http_adapter",
		Type:          string(model.SourceTypeHTTP),
		DocumentCount: count,
		LastIndexed:   lastIndexed,
	}
}

func (a *Adapter) Cleanup() error { return nil }
