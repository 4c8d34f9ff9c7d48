package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
)

func TestRequestTransformer_RejectsMissingRequiredField(t *testing.T) {
	rt := NewRequestTransformer()

	_, err := rt.Transform("search_knowledge_base", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindValidation))
}

func TestRequestTransformer_RejectsShortQuery(t *testing.T) {
	rt := NewRequestTransformer()

	_, err := rt.Transform("search_knowledge_base", map[string]interface{}{"query": "a"})
	require.Error(t, err)
}

func TestRequestTransformer_RejectsPrototypePollution(t *testing.T) {
	rt := NewRequestTransformer()

	_, err := rt.Transform("search_knowledge_base", map[string]interface{}{
		"query":       "disk full on database",
		"__proto__":   map[string]interface{}{"isAdmin": true},
	})
	require.Error(t, err)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindValidation))
}

func TestRequestTransformer_SanitizesAndClampsMaxResults(t *testing.T) {
	rt := NewRequestTransformer()

	req, err := rt.Transform("search_knowledge_base", map[string]interface{}{
		"query":       "<script>alert(1)</script>disk full  ",
		"max_results": float64(500),
	})
	require.NoError(t, err)
	assert.Equal(t, "disk full", req.Params["query"])
	assert.Equal(t, 100, req.Params["max_results"])
	assert.NotEmpty(t, req.RequestID)
}

func TestRequestTransformer_DerivesHighCachePriorityFromSeverity(t *testing.T) {
	rt := NewRequestTransformer()

	req, err := rt.Transform("search_runbooks", map[string]interface{}{
		"alert_type":       "disk_full",
		"severity":         "critical",
		"affected_systems": []interface{}{"database"},
	})
	require.NoError(t, err)
	assert.Equal(t, CachePriorityHigh, req.CachePriority)
	assert.True(t, req.Hints.ParallelLookup)
}

func TestRequestTransformer_RejectsInvalidSeverity(t *testing.T) {
	rt := NewRequestTransformer()

	_, err := rt.Transform("search_runbooks", map[string]interface{}{
		"alert_type":       "disk_full",
		"severity":         "catastrophic",
		"affected_systems": []interface{}{"database"},
	})
	require.Error(t, err)
}
