package database

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/opsknowledge/retrieval-service/internal/scoring"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

var (
	scriptBlockRE  = regexp.MustCompile(`(?is)<script.*?</script>`)
	iframeBlockRE  = regexp.MustCompile(`(?is)<iframe.*?</iframe>`)
	eventAttrRE    = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*')`)
	anyTagRE       = regexp.MustCompile(`<[^>]+>`)
	htmlLikeRE     = regexp.MustCompile(`(?i)<(p|div|span|table|h[1-6])[ >]`)
	sentenceEndRE  = regexp.MustCompile(`[.!?](\s|$)`)
)

// ContentProcessor converts a raw SQL row into a searchable Document per a
// caller-provided schema mapping.
type ContentProcessor struct {
	maxContentLength int
}

func NewContentProcessor(maxContentLength int) *ContentProcessor {
	if maxContentLength <= 0 {
		maxContentLength = model.MaxDocumentBytes
	}
	return &ContentProcessor{maxContentLength: maxContentLength}
}

// BuildDocument extracts, sanitizes, and scores a row into a Document. idKey
// identifies the row for the deterministic document ID; callers typically
// pass "<table>:<primary key value>".
func (p *ContentProcessor) BuildDocument(mapping model.DatabaseSchemaMapping, row map[string]interface{}, idKey, sourceName string) *model.Document {
	title := stringify(extractField(row, mapping.TitleField))
	rawContent := stringify(extractField(row, mapping.ContentField))

	sanitized := sanitizeDangerousHTML(rawContent)
	var content string
	if htmlLikeRE.MatchString(sanitized) {
		content = htmlToPlainTextPreservingStructure(sanitized)
	} else {
		content = sanitized
	}

	category := model.CategoryGeneral
	if mapping.CategoryField != "" {
		if c := stringify(extractField(row, mapping.CategoryField)); c != "" {
			category = model.Category(c)
		}
	}

	var tags []string
	if mapping.TagsField != "" {
		tags = stringSlice(extractField(row, mapping.TagsField))
	}

	score := scoring.RunbookScore(title, content, scoring.RunbookSignals{Category: string(category), Tags: tags})
	runbookClass := ""
	if score >= 0.7 {
		category = model.CategoryRunbook
		runbookClass = string(scoring.ClassifyRunbook(title, content))
	} else if category != model.CategoryGuide && category != model.CategoryAPI && category != model.CategoryGeneral && category != model.CategoryProcedure && category != model.CategoryFAQ {
		category = model.CategoryGeneral
	}

	doc := &model.Document{
		ID:         "database:" + idKey,
		Title:      title,
		Content:    content,
		SourceName: sourceName,
		SourceType: model.SourceTypeDatabase,
		Category:   category,
		Metadata:   map[string]interface{}{"summary": p.summarize(content, 3, 280)},
	}
	if runbookClass != "" {
		doc.Metadata["runbook_class"] = runbookClass
	}
	if mapping.AuthorField != "" {
		if author := stringify(extractField(row, mapping.AuthorField)); author != "" {
			doc.Metadata["author"] = author
		}
	}
	if mapping.UpdatedField != "" {
		if t, ok := extractField(row, mapping.UpdatedField).(time.Time); ok {
			doc.LastUpdated = t
		}
	}
	if doc.LastUpdated.IsZero() {
		doc.LastUpdated = time.Now()
	}

	doc.TruncateContent(p.maxContentLength)
	return doc
}

// summarize returns the first maxSentences sentences, bounded overall by
// maxChars.
func (p *ContentProcessor) summarize(content string, maxSentences, maxChars int) string {
	locs := sentenceEndRE.FindAllStringIndex(content, maxSentences)
	end := len(content)
	if len(locs) > 0 {
		end = locs[len(locs)-1][1]
	}
	if end > maxChars {
		end = maxChars
	}
	if end > len(content) {
		end = len(content)
	}
	return strings.TrimSpace(content[:end])
}

// sanitizeDangerousHTML strips script/iframe blocks and inline event-handler
// attributes. It is a targeted strip, not a general HTML sanitizer: the
// declared contract only asks for these two constructs to be removed.
func sanitizeDangerousHTML(raw string) string {
	s := scriptBlockRE.ReplaceAllString(raw, "")
	s = iframeBlockRE.ReplaceAllString(s, "")
	s = eventAttrRE.ReplaceAllString(s, "")
	return s
}

// htmlToPlainTextPreservingStructure keeps headings and fenced code blocks
// recognizable while dropping other markup, per the declared conversion
// contract (headings preserved, code fences preserved).
func htmlToPlainTextPreservingStructure(raw string) string {
	s := raw
	for i := 1; i <= 6; i++ {
		openTag := regexp.MustCompile(`(?i)<h` + itoa(i) + `[^>]*>`)
		closeTag := regexp.MustCompile(`(?i)</h` + itoa(i) + `>`)
		s = openTag.ReplaceAllString(s, strings.Repeat("#", i)+" ")
		s = closeTag.ReplaceAllString(s, "\n")
	}
	s = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`).ReplaceAllString(s, "```\n$1\n```")
	s = regexp.MustCompile(`(?i)<code[^>]*>`).ReplaceAllString(s, "`")
	s = regexp.MustCompile(`(?i)</code>`).ReplaceAllString(s, "`")
	s = regexp.MustCompile(`(?i)<li[^>]*>`).ReplaceAllString(s, "- ")
	s = regexp.MustCompile(`(?i)</p>|<br\s*/?>`).ReplaceAllString(s, "\n")
	s = anyTagRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func itoa(n int) string {
	return string(rune('0' + n))
}

// extractField walks a dotted path into a row. The first segment is always
// a column name; later segments walk into a JSON-decoded value, supporting
// the document-store case where a column holds a nested JSON blob.
func extractField(row map[string]interface{}, path string) interface{} {
	if path == "" {
		return nil
	}
	segments := strings.Split(path, ".")
	v, ok := row[segments[0]]
	if !ok {
		return nil
	}
	if len(segments) == 1 {
		return v
	}

	var nested map[string]interface{}
	switch t := v.(type) {
	case []byte:
		if json.Unmarshal(t, &nested) != nil {
			return nil
		}
	case string:
		if json.Unmarshal([]byte(t), &nested) != nil {
			return nil
		}
	case map[string]interface{}:
		nested = t
	default:
		return nil
	}

	var cur interface{} = nested
	for _, seg := range segments[1:] {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return ""
	}
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []byte:
		var out []string
		if json.Unmarshal(t, &out) == nil {
			return out
		}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
