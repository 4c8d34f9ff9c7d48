package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/pkg/model"
)

func newMockConnectionManager(t *testing.T) (*ConnectionManager, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	cm := &ConnectionManager{db: db, dialect: "postgres", acquireTimeout: time.Second}
	cm.healthy.Store(true)
	return cm, mock
}

func TestSchemaDetector_ValidateFailsOnUnknownTable(t *testing.T) {
	cm, mock := newMockConnectionManager(t)
	detector := NewSchemaDetector(cm.DB())

	mock.ExpectQuery("SELECT column_name FROM information_schema.columns").
		WithArgs("ghost_table").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))

	err := detector.Validate(context.Background(), []model.DatabaseSchemaMapping{{Table: "ghost_table", TitleField: "title", ContentField: "body"}})
	require.Error(t, err)
}

func TestSchemaDetector_ValidatePassesKnownTable(t *testing.T) {
	cm, mock := newMockConnectionManager(t)
	detector := NewSchemaDetector(cm.DB())

	mock.ExpectQuery("SELECT column_name FROM information_schema.columns").
		WithArgs("runbooks").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id").AddRow("title").AddRow("content"))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	err := detector.Validate(context.Background(), []model.DatabaseSchemaMapping{{Table: "runbooks", TitleField: "title", ContentField: "content"}})
	require.NoError(t, err)
}

func TestContentProcessor_BuildDocumentSanitizesAndClassifiesRunbook(t *testing.T) {
	p := NewContentProcessor(0)
	mapping := model.DatabaseSchemaMapping{Table: "runbooks", TitleField: "title", ContentField: "content", CategoryField: "category"}

	row := map[string]interface{}{
		"title": []byte("Disk Full Incident Runbook"),
		"content": []byte(`<script>alert(1)</script><p onclick="evil()">Escalate immediately: this is an incident.
1. Check disk usage
2. If usage exceeds 95% then escalate to on-call.</p>`),
		"category": []byte("general"),
	}

	doc := p.BuildDocument(mapping, row, "runbooks:1", "ops_db")

	assert.NotContains(t, doc.Content, "<script>")
	assert.NotContains(t, doc.Content, "onclick")
	assert.Equal(t, model.CategoryRunbook, doc.Category)
	assert.Equal(t, "incident", doc.Metadata["runbook_class"])
}

func TestAdapter_SearchQueriesLiveAndScores(t *testing.T) {
	cm, mock := newMockConnectionManager(t)

	a := New(nil, nil)
	a.cfg = model.AdapterConfig{
		Name: "ops_db",
		Database: &model.DatabaseAdapterConfig{
			Mappings: []model.DatabaseSchemaMapping{
				{Table: "runbooks", TitleField: "title", ContentField: "content"},
			},
		},
	}
	a.processor = NewContentProcessor(0)
	a.conn = cm

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT \* FROM "runbooks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "content"}).
			AddRow(1, "Disk Full Runbook", "Escalate to on-call if disk usage exceeds 95%."))

	docs, err := a.Search(context.Background(), "disk full", nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Greater(t, docs[0].ConfidenceScore, 0.0)

	doc, err := a.GetDocument(context.Background(), docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, docs[0].Title, doc.Title)
}
