package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	serrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// TableInfo is what the detector can learn about a mapped table without a
// dialect-specific system-catalog integration: whether it exists, its
// declared columns, and a cheap row-count estimate.
type TableInfo struct {
	Table      string
	Columns    []string
	RowCount   int64
	HasColumns bool
}

// SchemaDetector discovers tables/columns via the ANSI information_schema
// views, which postgres, mysql, and sqlserver all expose.
type SchemaDetector struct {
	db *sqlx.DB
}

func NewSchemaDetector(db *sqlx.DB) *SchemaDetector {
	return &SchemaDetector{db: db}
}

// Detect reports what the detector can see about a table.
func (d *SchemaDetector) Detect(ctx context.Context, table string) (TableInfo, error) {
	var columns []string
	err := d.db.SelectContext(ctx, &columns,
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, table)
	if err != nil {
		return TableInfo{}, serrors.Wrap(serrors.KindSourceAdapter, "failed to inspect table schema", err).
			WithContext("table", table).WithOp("database.SchemaDetector.Detect")
	}

	var rowCount int64
	_ = d.db.GetContext(ctx, &rowCount, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table))

	return TableInfo{Table: table, Columns: columns, RowCount: rowCount, HasColumns: len(columns) > 0}, nil
}

// Validate fails init when a schema mapping references a table this
// database doesn't actually have.
func (d *SchemaDetector) Validate(ctx context.Context, mappings []model.DatabaseSchemaMapping) error {
	for _, m := range mappings {
		info, err := d.Detect(ctx, m.Table)
		if err != nil {
			return err
		}
		if !info.HasColumns {
			return serrors.New(serrors.KindConfig, fmt.Sprintf("schema mapping references unknown table %q", m.Table)).
				WithContext("table", m.Table).WithOp("database.SchemaDetector.Validate")
		}
	}
	return nil
}
