// Package scoring implements the Hybrid Scorer (C2): the lexical/fuzzy
// matcher, the metadata scorer, and the weighted-combination-plus-boosts
// that produce a document's final confidence score.
package scoring

import "strings"

// trigramSet returns the set of character trigrams for s, padded with
// leading/trailing spaces the way PostgreSQL's pg_trgm extension pads words
// so short strings still produce at least one trigram.
func trigramSet(s string) map[string]struct{} {
	padded := "  " + strings.ToLower(strings.TrimSpace(s)) + "  "
	set := make(map[string]struct{})
	for i := 0; i+3 <= len(padded); i++ {
		set[padded[i:i+3]] = struct{}{}
	}
	return set
}

// trigramSimilarity is a Go-native analogue of pg_trgm's similarity(a, b):
// the Jaccard index of the two strings' trigram sets. It needs no database
// and works identically over file-adapter and database-adapter documents
// alike.
func trigramSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	setA := trigramSet(a)
	setB := trigramSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TrigramSimilarity exposes trigramSimilarity for adapters that need a raw
// pairwise lexical similarity rather than the title/content-weighted
// FuzzyScore below (the File Adapter weighs title/content/category
// independently, per its own field weights).
func TrigramSimilarity(a, b string) float64 {
	return trigramSimilarity(a, b)
}

// FuzzyScore returns the lexical match strength of query against title and
// content, in [0,1]. Title matches weigh more heavily than content matches,
// mirroring how a title-boosted full-text index would rank results.
func FuzzyScore(query, title, content string) float64 {
	titleScore := trigramSimilarity(query, title)
	contentScore := trigramSimilarity(query, content)

	score := titleScore*0.6 + contentScore*0.4
	if score > 1 {
		score = 1
	}
	return score
}
