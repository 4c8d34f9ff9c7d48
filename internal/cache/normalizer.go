package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

var (
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	punctuationRegex = regexp.MustCompile(`[^\w\s-]`)
)

// shortStopwordMaxLen is the length cutoff SPEC_FULL.md §4.7 specifies:
// "stopwords ≤2 chars removed".
const shortStopwordMaxLen = 2

// NormalizeQuery derives a cache key's query component: lowercase, collapse
// whitespace, drop punctuation, remove tokens of length ≤2, then sort and
// rejoin the remaining tokens. Sorting makes the key invariant to token
// order, and is what makes NormalizeQuery idempotent:
// NormalizeQuery(NormalizeQuery(q)) == NormalizeQuery(q).
func NormalizeQuery(query string) string {
	q := strings.ToLower(query)
	q = punctuationRegex.ReplaceAllString(q, " ")
	q = whitespaceRegex.ReplaceAllString(q, " ")
	q = strings.TrimSpace(q)

	tokens := strings.Split(q, " ")
	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" || len(t) <= shortStopwordMaxLen {
			continue
		}
		kept = append(kept, t)
	}

	sort.Strings(kept)
	return strings.Join(kept, " ")
}

// FilterHash derives a stable hash of a filter mapping so cache keys are
// invariant to the caller's filter-field ordering, matching
// SPEC_FULL.md §4.7's "stable hash of the filter mapping" requirement.
func FilterHash(filters map[string]interface{}) string {
	if len(filters) == 0 {
		return ""
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, filters[k])
	}

	b, _ := json.Marshal(ordered)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// Key builds the cache key from a normalized query and a filter hash.
func Key(query string, filters map[string]interface{}) string {
	nq := NormalizeQuery(query)
	fh := FilterHash(filters)
	if fh == "" {
		return nq
	}
	return nq + ":" + fh
}
