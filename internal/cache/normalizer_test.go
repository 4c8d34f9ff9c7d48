package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"lowercases", "Database Timeout", "database timeout"},
		{"collapses whitespace", "disk   space   issue", "disk issue space"},
		{"drops punctuation", "disk-space, issue!", "disk-space issue"},
		{"drops short tokens", "db is up", ""},
		{"sorts tokens", "timeout database", "database timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeQuery(tc.query))
		})
	}
}

func TestNormalizeQuery_Idempotent(t *testing.T) {
	queries := []string{
		"Database Timeout!!",
		"  disk   space ",
		"network connectivity issue on web-01",
	}

	for _, q := range queries {
		once := NormalizeQuery(q)
		twice := NormalizeQuery(once)
		assert.Equal(t, once, twice, "NormalizeQuery should be idempotent for %q", q)
	}
}

func TestFilterHash_OrderInvariant(t *testing.T) {
	a := map[string]interface{}{"category": "runbook", "max_age_days": 7}
	b := map[string]interface{}{"max_age_days": 7, "category": "runbook"}

	assert.Equal(t, FilterHash(a), FilterHash(b))
}

func TestFilterHash_Empty(t *testing.T) {
	assert.Equal(t, "", FilterHash(nil))
	assert.Equal(t, "", FilterHash(map[string]interface{}{}))
}
