package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
)

func TestProcessor_RejectsTooShort(t *testing.T) {
	p := NewProcessor(10)
	_, err := p.Process("a", nil)
	require.Error(t, err)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindValidation))
}

func TestProcessor_RejectsTooLong(t *testing.T) {
	p := NewProcessor(10)
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	_, err := p.Process(string(long), nil)
	require.Error(t, err)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindValidation))
}

func TestProcessor_ClassifiesEmergency(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("database is down, sev1 outage", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentEmergencyResponse, out.Intent)
	assert.Contains(t, out.Entities.Systems, "database")
}

func TestProcessor_UrgentContextForcesEmergency(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("looking into this issue", &Context{Urgent: true})
	require.NoError(t, err)
	assert.Equal(t, IntentEmergencyResponse, out.Intent)
}

func TestProcessor_ClassifiesRunbook(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("find the runbook for disk space", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentFindRunbook, out.Intent)
	assert.Equal(t, "runbook", out.RecommendedFilters["category"])
}

func TestProcessor_ClassifiesEscalation(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("who do I escalate this to on-call", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentEscalationPath, out.Intent)
}

func TestProcessor_ClassifiesProcedure(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("what is the procedure to restart nginx", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentProcedureLookup, out.Intent)
}

func TestProcessor_DefaultsToGeneralSearch(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("kubernetes pod scheduling basics", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentGeneralSearch, out.Intent)
}

func TestProcessor_EnhancesQueryWithContextEntities(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("connection errors", &Context{Systems: []string{"postgres"}, Severity: "sev2"})
	require.NoError(t, err)
	assert.Contains(t, out.EnhancedQuery, "postgres")
	assert.Contains(t, out.EnhancedQuery, "sev2")
}

func TestProcessor_FlagsSuspiciousPatterns(t *testing.T) {
	p := NewProcessor(10)

	cases := []struct {
		name   string
		query  string
		reason string
	}{
		{"script", "<script>alert(1)</script>", "script_injection"},
		{"path traversal", "../../etc/passwd", "path_traversal"},
		{"sql injection", "x' OR '1'='1", "sql_injection"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := p.Process(tc.query, nil)
			require.NoError(t, err, "suspicious patterns are advisory, not blocking")
			assert.True(t, out.Suspicious)
			assert.Equal(t, tc.reason, out.SuspiciousReason)
		})
	}
}

func TestProcessor_CleanQueryIsNotSuspicious(t *testing.T) {
	p := NewProcessor(10)
	out, err := p.Process("how to restart the cache cluster", nil)
	require.NoError(t, err)
	assert.False(t, out.Suspicious)
}

func TestProcessor_ResultLimitVariesByIntent(t *testing.T) {
	p := NewProcessor(10)

	emergency, err := p.Process("production outage critical", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, emergency.ResultLimit)

	general, err := p.Process("general search query text", nil)
	require.NoError(t, err)
	assert.Equal(t, 10, general.ResultLimit)
}
