// Package database implements the Database Adapter (C10): a Connection
// Manager, a dialect-aware Query Builder, a Schema Detector, and a Content
// Processor composed into the uniform Adapter contract.
package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	serrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"

	"github.com/opsknowledge/retrieval-service/internal/adapters"
)

// indexScanLimit bounds how many rows per mapped table a refresh pulls into
// the adapter's recall cache; Search itself always queries live.
const indexScanLimit = 1000

// Adapter wraps a Connection Manager, Query Builder, Schema Detector, and
// Content Processor behind the uniform adapter contract.
type Adapter struct {
	cfg model.AdapterConfig

	conn      *ConnectionManager
	detector  *SchemaDetector
	processor *ContentProcessor

	mu       sync.RWMutex
	lastSeen map[string]*model.Document

	logger  observability.Logger
	metrics observability.MetricsClient
}

func New(logger observability.Logger, metrics observability.MetricsClient) *Adapter {
	return &Adapter{
		lastSeen: make(map[string]*model.Document),
		logger:   logger,
		metrics:  metrics,
	}
}

func (a *Adapter) Configure(cfg model.AdapterConfig) error {
	if cfg.Database == nil {
		return serrors.New(serrors.KindConfig, "database adapter requires a database configuration block").WithOp("database.Configure")
	}
	if len(cfg.Database.Mappings) == 0 {
		return serrors.New(serrors.KindConfig, "database adapter requires at least one schema mapping").WithOp("database.Configure")
	}
	for _, m := range cfg.Database.Mappings {
		if m.Table == "" || m.TitleField == "" || m.ContentField == "" {
			return serrors.New(serrors.KindConfig, "every schema mapping requires table, title_field, and content_field").WithOp("database.Configure")
		}
	}
	a.cfg = cfg
	a.processor = NewContentProcessor(cfg.Database.MaxContentLength)
	return nil
}

func (a *Adapter) Initialize(ctx context.Context) error {
	conn, err := NewConnectionManager(ctx, *a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.conn = conn
	a.detector = NewSchemaDetector(conn.DB())

	if err := a.detector.Validate(ctx, a.cfg.Database.Mappings); err != nil {
		return err
	}

	_, err = a.refresh(ctx)
	return err
}

func (a *Adapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	n, err := a.refresh(ctx)
	return n > 0 || err == nil, err
}

func (a *Adapter) refresh(ctx context.Context) (int, error) {
	opCtx, cancel, err := a.conn.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	total := 0
	for _, mapping := range a.cfg.Database.Mappings {
		qb := NewQueryBuilder(a.conn.dialect).Select("*").From(mapping.Table).WhereStatic(mapping.StaticFilter)
		if mapping.UpdatedField != "" {
			qb = qb.OrderBy(mapping.UpdatedField, true)
		}
		query, args := qb.Paginate(indexScanLimit, 0).Build()

		rows, err := a.conn.DB().QueryxContext(opCtx, query, args...)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("database: refresh query failed", map[string]interface{}{"table": mapping.Table, "error": err.Error()})
			}
			continue
		}

		for rows.Next() {
			row := make(map[string]interface{})
			if err := rows.MapScan(row); err != nil {
				continue
			}
			idKey := fmt.Sprintf("%s:%v", mapping.Table, rowIdentity(row))
			doc := a.processor.BuildDocument(mapping, row, idKey, a.cfg.Name)
			a.mu.Lock()
			a.lastSeen[doc.ID] = doc
			a.mu.Unlock()
			total++
		}
		rows.Close()
	}
	return total, nil
}

// rowIdentity picks a best-effort natural key: an "id" column if present,
// otherwise a stable projection of the whole row.
func rowIdentity(row map[string]interface{}) interface{} {
	if v, ok := row["id"]; ok {
		return v
	}
	return fmt.Sprintf("%v", row)
}

// Search runs a live LIKE/ILIKE disjunction across every mapping's
// title/content fields rather than serving from the refresh cache, so
// results always reflect the current table contents.
func (a *Adapter) Search(ctx context.Context, query string, filters map[string]interface{}) ([]*model.Document, error) {
	if a.conn == nil {
		return nil, nil
	}
	opCtx, cancel, err := a.conn.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var results []*model.Document
	for _, mapping := range a.cfg.Database.Mappings {
		qb := NewQueryBuilder(a.conn.dialect).
			Select("*").
			From(mapping.Table).
			WhereStatic(mapping.StaticFilter).
			WhereSearch([]string{mapping.TitleField, mapping.ContentField}, query, false)

		sqlQuery, args := qb.Paginate(200, 0).Build()
		rows, err := a.conn.DB().QueryxContext(opCtx, sqlQuery, args...)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("database: search query failed", map[string]interface{}{"table": mapping.Table, "error": err.Error()})
			}
			continue
		}

		for rows.Next() {
			row := make(map[string]interface{})
			if err := rows.MapScan(row); err != nil {
				continue
			}
			idKey := fmt.Sprintf("%s:%v", mapping.Table, rowIdentity(row))
			doc := a.processor.BuildDocument(mapping, row, idKey, a.cfg.Name)
			doc.ConfidenceScore = scoring.TrigramSimilarity(query, doc.Title)*0.5 + scoring.TrigramSimilarity(query, doc.Content)*0.5
			doc.ClampConfidence()

			a.mu.Lock()
			a.lastSeen[doc.ID] = doc
			a.mu.Unlock()

			results = append(results, doc)
		}
		rows.Close()
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ConfidenceScore > results[j].ConfidenceScore })
	return results, nil
}

// SearchRunbooks is a stub: runbook-shaped rows surface through Search with
// category=runbook, same convention as the other document-shaped adapters.
func (a *Adapter) SearchRunbooks(ctx context.Context, alertType, severity string, affectedSystems []string, searchCtx map[string]interface{}) ([]*model.Runbook, error) {
	return nil, nil
}

func (a *Adapter) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if d, ok := a.lastSeen[id]; ok {
		clone := *d
		return &clone, nil
	}
	return nil, serrors.New(serrors.KindNotFound, "document not found; database adapter only recalls recently surfaced rows").
		WithContext("id", id).WithOp("database.GetDocument")
}

func (a *Adapter) HealthCheck(ctx context.Context) adapters.HealthResult {
	healthy := a.conn != nil && a.conn.Healthy()
	a.mu.RLock()
	n := len(a.lastSeen)
	a.mu.RUnlock()
	return adapters.HealthResult{
		Healthy: healthy,
		Details: map[string]interface{}{"recalled_documents": n},
	}
}

func (a *Adapter) GetMetadata() adapters.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return adapters.Metadata{
		Name:          a.cfg.Name,
		Type:          string(a.cfg.Type),
		DocumentCount: len(a.lastSeen),
	}
}

func (a *Adapter) Cleanup() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
