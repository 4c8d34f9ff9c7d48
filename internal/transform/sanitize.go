package transform

import (
	"regexp"
	"strings"
)

// maxFieldLength bounds any single string field surviving sanitization;
// longer values are clamped rather than rejected, since the only tools
// that take free-text (notes, context blobs) tolerate truncation.
const maxFieldLength = 10000

var (
	scriptTagPattern = regexp.MustCompile(`(?is)<script.*?</script>`)
	iframeTagPattern = regexp.MustCompile(`(?is)<iframe.*?</iframe>`)
	eventAttrPattern = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*')`)
)

// prototypePollutingKeys are rejected anywhere in a request's parameter
// tree; a caller setting one of these on a map that later gets merged into
// a Go struct via reflection-based decoding (viper/mapstructure elsewhere
// in this service) could otherwise overwrite fields it has no business
// touching.
var prototypePollutingKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// sanitizeString strips script/iframe blocks and inline event-handler
// attributes, trims surrounding whitespace, and clamps to maxFieldLength.
func sanitizeString(s string) string {
	s = scriptTagPattern.ReplaceAllString(s, "")
	s = iframeTagPattern.ReplaceAllString(s, "")
	s = eventAttrPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > maxFieldLength {
		s = s[:maxFieldLength]
	}
	return s
}

// sanitizeParams walks params recursively, sanitizing every string value
// and rejecting any map key in prototypePollutingKeys. It returns the
// sanitized tree and the first polluting key it found, if any.
func sanitizeParams(params map[string]interface{}) (map[string]interface{}, string) {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if prototypePollutingKeys[k] {
			return nil, k
		}
		sv, badKey := sanitizeValue(v)
		if badKey != "" {
			return nil, badKey
		}
		out[k] = sv
	}
	return out, ""
}

func sanitizeValue(v interface{}) (interface{}, string) {
	switch t := v.(type) {
	case string:
		return sanitizeString(t), ""
	case map[string]interface{}:
		return sanitizeParams(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			sv, badKey := sanitizeValue(item)
			if badKey != "" {
				return nil, badKey
			}
			out[i] = sv
		}
		return out, ""
	default:
		return v, ""
	}
}
