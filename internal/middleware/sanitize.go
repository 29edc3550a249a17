package middleware

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// sanitizer strips markup from string values and entity-encodes what
// remains. Non-string JSON values pass through untouched.
type sanitizer struct {
	policy *bluemonday.Policy
}

func newSanitizer() *sanitizer {
	return &sanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *sanitizer) cleanString(in string) string {
	return html.EscapeString(s.policy.Sanitize(in))
}

// cleanValue walks a decoded JSON document, sanitizing every string leaf
// in place.
func (s *sanitizer) cleanValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return s.cleanString(t)
	case map[string]interface{}:
		for k, val := range t {
			t[k] = s.cleanValue(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = s.cleanValue(val)
		}
		return t
	default:
		return v
	}
}
