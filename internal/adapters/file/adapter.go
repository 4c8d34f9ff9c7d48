// Package file implements the File Adapter (C7): indexes one or more root
// paths into an in-memory document store, with optional fsnotify watching
// that triggers a debounced full re-walk of every root (re-indexing is not
// incremental).
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// FrontMatter carries the optional metadata block a Markdown/text document
// may declare at the top of the file.
type FrontMatter struct {
	Author  string    `yaml:"author"`
	Tags    []string  `yaml:"tags"`
	Created time.Time `yaml:"created"`
	Updated time.Time `yaml:"updated"`
}

// Adapter walks configured root paths and serves documents out of an
// in-memory index, keyed by a deterministic hash of the root-relative path.
type Adapter struct {
	cfg model.AdapterConfig

	mu    sync.RWMutex
	index map[string]*model.Document

	refreshing int32 // atomic flag serializing full refreshes

	watcher  *fsnotify.Watcher
	stopChan chan struct{}

	logger  observability.Logger
	metrics *observability.PromMetricsClient

	lastIndexed time.Time
	successes   int64
	attempts    int64
}

// New constructs a file Adapter. Configure must be called (directly, or via
// the registry) before Initialize.
func New(logger observability.Logger, metrics *observability.PromMetricsClient) *Adapter {
	return &Adapter{
		index:    make(map[string]*model.Document),
		stopChan: make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

func (a *Adapter) Configure(cfg model.AdapterConfig) error {
	if cfg.File == nil {
		return svcerrors.New(svcerrors.KindConfig, "file adapter requires a file config block")
	}
	if len(cfg.File.Roots) == 0 {
		return svcerrors.New(svcerrors.KindConfig, "file adapter requires at least one root path")
	}
	a.cfg = cfg
	return nil
}

// Initialize verifies every root path is accessible, builds the initial
// index, and starts the change watcher if configured.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.cfg.File == nil {
		return svcerrors.New(svcerrors.KindConfig, "file adapter not configured")
	}

	for _, root := range a.cfg.File.Roots {
		if _, err := os.Stat(root); err != nil {
			return svcerrors.Wrap(svcerrors.KindSourceAdapter, fmt.Sprintf("SOURCE_INIT: root path %q inaccessible", root), err).
				WithContext("code", "SOURCE_INIT")
		}
	}

	if _, _, err := a.refresh(ctx, true); err != nil {
		return err
	}

	if a.cfg.File.WatchForChanges {
		if err := a.startWatching(); err != nil {
			if a.logger != nil {
				a.logger.Warn("file adapter: change watcher failed to start", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	return nil
}

func (a *Adapter) startWatching() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range a.cfg.File.Roots {
		if err := walkTree(root, func(path string, isDir bool) error {
			if isDir {
				return w.Add(path)
			}
			return nil
		}); err != nil {
			_ = w.Close()
			return err
		}
	}
	a.watcher = w
	go a.watchLoop()
	return nil
}

func (a *Adapter) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case <-a.stopChan:
			return
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				if _, _, err := a.refresh(context.Background(), false); err != nil && a.logger != nil {
					a.logger.Error("file adapter: watch-triggered refresh failed", map[string]interface{}{"error": err.Error()})
				}
			})
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			if a.logger != nil {
				a.logger.Error("file adapter: watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// RefreshIndex rebuilds the index. Concurrent full refreshes are serialized:
// a second concurrent call observes skipped=true and returns immediately.
func (a *Adapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	skipped, _, err := a.refresh(ctx, force)
	return !skipped, err
}

// refresh returns (skipped, documentCount, err).
func (a *Adapter) refresh(ctx context.Context, force bool) (bool, int, error) {
	if !atomic.CompareAndSwapInt32(&a.refreshing, 0, 1) {
		return true, 0, nil
	}
	defer atomic.StoreInt32(&a.refreshing, 0)

	newIndex := make(map[string]*model.Document)

	for _, root := range a.cfg.File.Roots {
		err := walkTree(root, func(path string, isDir bool) error {
			if isDir {
				return nil
			}
			if !a.included(root, path) {
				return nil
			}
			atomic.AddInt64(&a.attempts, 1)
			doc, err := a.indexFile(root, path)
			if err != nil {
				if a.logger != nil {
					a.logger.Warn("file adapter: skipping file", map[string]interface{}{"path": path, "error": err.Error()})
				}
				return nil
			}
			if doc != nil {
				newIndex[doc.ID] = doc
				atomic.AddInt64(&a.successes, 1)
			}
			return nil
		})
		if err != nil {
			return false, 0, svcerrors.Wrap(svcerrors.KindSourceAdapter, fmt.Sprintf("SOURCE_INIT: failed walking root %q", root), err).
				WithContext("code", "SOURCE_INIT")
		}
	}

	a.mu.Lock()
	a.index = newIndex
	a.lastIndexed = time.Now()
	a.mu.Unlock()

	return false, len(newIndex), nil
}

func (a *Adapter) included(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	depth := strings.Count(rel, string(filepath.Separator))
	if a.cfg.File.MaxDepth > 0 && depth > a.cfg.File.MaxDepth {
		return false
	}
	if len(a.cfg.File.ExcludeGlobs) > 0 {
		for _, g := range a.cfg.File.ExcludeGlobs {
			if ok, _ := filepath.Match(g, rel); ok {
				return false
			}
		}
	}
	if len(a.cfg.File.IncludeGlobs) > 0 {
		matched := false
		for _, g := range a.cfg.File.IncludeGlobs {
			if ok, _ := filepath.Match(g, rel); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (a *Adapter) indexFile(root, path string) (*model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if a.cfg.File.MaxFileBytes > 0 && info.Size() > a.cfg.File.MaxFileBytes {
		return nil, fmt.Errorf("file exceeds max_file_bytes: %d > %d", info.Size(), a.cfg.File.MaxFileBytes)
	}

	kind := detectType(path)
	if kind == typeUnsupported {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if kind == typeBinaryPDF {
		// The configured text extractor is an external concern; without one
		// wired in, PDFs are skipped rather than indexed empty.
		return nil, nil
	}

	fm, body := extractFrontMatter(raw)
	rel, _ := filepath.Rel(root, path)

	searchable := buildSearchableContent(filepath.Base(path), body)

	doc := &model.Document{
		ID:          contentID(rel),
		Title:       filepath.Base(path),
		Content:     searchable,
		SourceName:  "file",
		SourceType:  model.SourceTypeFile,
		Category:    model.CategoryGeneral,
		URL:         "file://" + path,
		LastUpdated: info.ModTime(),
		Metadata:    map[string]interface{}{"relative_path": rel},
	}
	if !fm.Updated.IsZero() {
		doc.LastUpdated = fm.Updated
	}
	if fm.Author != "" {
		doc.Metadata["author"] = fm.Author
	}
	if len(fm.Tags) > 0 {
		doc.Metadata["tags"] = fm.Tags
	}

	return doc, nil
}

func contentID(relPath string) string {
	sum := sha256.Sum256([]byte(relPath))
	return "file:" + hex.EncodeToString(sum[:])[:16]
}

// buildSearchableContent concatenates title, normalized body, code-block
// bodies, and heading text into a single projection used by fuzzy search.
func buildSearchableContent(title, body string) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(strings.Fields(body), " "))

	for _, block := range extractCodeBlocks(body) {
		sb.WriteString("\n")
		sb.WriteString(block)
	}
	for _, h := range extractHeadings(body) {
		sb.WriteString("\n")
		sb.WriteString(h)
	}

	return sb.String()
}

func extractCodeBlocks(body string) []string {
	var blocks []string
	lines := strings.Split(body, "\n")
	inBlock := false
	var cur strings.Builder
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "```") {
			if inBlock {
				blocks = append(blocks, cur.String())
				cur.Reset()
				inBlock = false
			} else {
				inBlock = true
			}
			continue
		}
		if inBlock {
			cur.WriteString(l)
			cur.WriteString(" ")
		}
	}
	return blocks
}

func extractHeadings(body string) []string {
	var headings []string
	for _, l := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "#") {
			headings = append(headings, strings.TrimLeft(trimmed, "# "))
		}
	}
	return headings
}

// Search returns documents matching query by fuzzy score over title (0.4),
// content (0.6), category (0.2), above a configurable threshold.
func (a *Adapter) Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, error) {
	start := time.Now()

	threshold := a.cfg.File.FuzzyThreshold
	if threshold <= 0 {
		threshold = 0.1
	}

	a.mu.RLock()
	candidates := make([]*model.Document, 0, len(a.index))
	for _, d := range a.index {
		candidates = append(candidates, d)
	}
	a.mu.RUnlock()

	var results []*model.Document
	for _, d := range candidates {
		titleScore := scoring.TrigramSimilarity(query, d.Title) * 0.4
		contentScore := scoring.TrigramSimilarity(query, d.Content) * 0.6
		categoryScore := scoring.TrigramSimilarity(query, string(d.Category)) * 0.2
		total := titleScore + contentScore + categoryScore
		if total < threshold {
			continue
		}
		clone := *d
		clone.ConfidenceScore = total
		clone.RetrievalTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		results = append(results, &clone)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ConfidenceScore > results[j].ConfidenceScore
	})

	if a.metrics != nil {
		a.metrics.RecordAdapterOperation("file_adapter", "search", time.Since(start).Seconds(), nil)
	}

	return results, nil
}

func (a *Adapter) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	// The file adapter indexes plain documents, not structured runbooks;
	// runbook-shaped documents surface through Search with category=runbook.
	return nil, nil
}

func (a *Adapter) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	doc, ok := a.index[id]
	if !ok {
		return nil, svcerrors.New(svcerrors.KindNotFound, "document not found: "+id)
	}
	clone := *doc
	return &clone, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) adapters.HealthResult {
	start := time.Now()
	a.mu.RLock()
	count := len(a.index)
	a.mu.RUnlock()

	return adapters.HealthResult{
		Healthy:   count >= 0,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Details:   map[string]interface{}{"document_count": count},
	}
}

func (a *Adapter) GetMetadata() adapters.Metadata {
	a.mu.RLock()
	count := len(a.index)
	lastIndexed := a.lastIndexed
	a.mu.RUnlock()

	attempts := atomic.LoadInt64(&a.attempts)
	successes := atomic.LoadInt64(&a.successes)
	rate := 1.0
	if attempts > 0 {
		rate = float64(successes) / float64(attempts)
	}

	return adapters.Metadata{
		Name:          "file_adapter",
		Type:          string(model.SourceTypeFile),
		DocumentCount: count,
		LastIndexed:   lastIndexed,
		SuccessRate:   rate,
	}
}

func (a *Adapter) Cleanup() error {
	close(a.stopChan)
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}

// walkTree walks root depth-first, invoking fn for every directory and file
// encountered. fn receives isDir so callers can branch without a second stat.
func walkTree(root string, fn func(path string, isDir bool) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return fn(path, d.IsDir())
	})
}

type fileType int

const (
	typeUnsupported fileType = iota
	typeText
	typeBinaryPDF
)

func detectType(path string) fileType {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		var magic [4]byte
		if n, _ := f.Read(magic[:]); n == 4 && bytes.Equal(magic[:], []byte("%PDF")) {
			return typeBinaryPDF
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", ".json", ".yaml", ".yml":
		return typeText
	case ".pdf":
		return typeBinaryPDF
	default:
		return typeUnsupported
	}
}

// extractFrontMatter pulls a leading "---\n...\n---" YAML block off raw
// content, if present, returning the remaining body unchanged.
func extractFrontMatter(raw []byte) (FrontMatter, string) {
	content := string(raw)
	var fm FrontMatter

	if !strings.HasPrefix(content, "---\n") {
		return fm, content
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content
	}
	block := rest[:end]
	body := strings.TrimPrefix(rest[end+4:], "\n")

	for _, line := range strings.Split(block, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "author":
			fm.Author = val
		case "tags":
			fm.Tags = strings.Split(strings.Trim(val, "[]"), ",")
			for i := range fm.Tags {
				fm.Tags[i] = strings.TrimSpace(fm.Tags[i])
			}
		case "created":
			if t, err := time.Parse("2006-01-02", val); err == nil {
				fm.Created = t
			}
		case "updated":
			if t, err := time.Parse("2006-01-02", val); err == nil {
				fm.Updated = t
			}
		}
	}

	return fm, body
}
