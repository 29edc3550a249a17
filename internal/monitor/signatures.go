package monitor

import "regexp"

// SignatureVersion increments whenever the pattern list below changes, so
// threat reports can be correlated with the rules that produced them.
const SignatureVersion = 2

// Signature is one named attack pattern.
type Signature struct {
	Name    string
	Threat  ThreatType
	Pattern *regexp.Regexp
}

// signatures is scanned in order; first hit wins. Script-injection
// patterns come first so mixed payloads classify as XSS.
var signatures = []Signature{
	{"script-tag", ThreatXSS, regexp.MustCompile(`(?i)<\s*script[^>]*>`)},
	{"iframe-tag", ThreatXSS, regexp.MustCompile(`(?i)<\s*iframe[^>]*>`)},
	{"javascript-uri", ThreatXSS, regexp.MustCompile(`(?i)javascript\s*:`)},
	{"event-handler", ThreatXSS, regexp.MustCompile(`(?i)\bon(?:error|load|click|mouseover|focus|submit)\s*=`)},
	{"img-src-injection", ThreatXSS, regexp.MustCompile(`(?i)<\s*img[^>]+src\s*=`)},
	{"data-uri-html", ThreatXSS, regexp.MustCompile(`(?i)data:text/html`)},

	{"union-select", ThreatSQLInjection, regexp.MustCompile(`(?i)\bunion\b[\s\S]{0,40}\bselect\b`)},
	{"stacked-statement", ThreatSQLInjection, regexp.MustCompile(`(?i);\s*(?:select|insert|update|delete|drop|alter|create)\b`)},
	{"boolean-tautology", ThreatSQLInjection, regexp.MustCompile(`(?i)'\s*(?:or|and)\s*'?\d*'?\s*=\s*'?\d*`)},
	{"comment-breakout", ThreatSQLInjection, regexp.MustCompile(`(?i)(?:--|#|/\*)\s*$|'\s*--`)},
	{"drop-table", ThreatSQLInjection, regexp.MustCompile(`(?i)\bdrop\s+(?:table|database)\b`)},
	{"sleep-probe", ThreatSQLInjection, regexp.MustCompile(`(?i)\b(?:sleep|benchmark|pg_sleep)\s*\(`)},
}

// Classify scans content against the signature list and returns the
// matched threat type. The bool is false when the content is clean.
func Classify(content string) (ThreatType, bool) {
	for _, sig := range signatures {
		if sig.Pattern.MatchString(content) {
			return sig.Threat, true
		}
	}
	return "", false
}

// MatchedSignature returns the name of the first matching pattern, for
// log lines and threat descriptions.
func MatchedSignature(content string) string {
	for _, sig := range signatures {
		if sig.Pattern.MatchString(content) {
			return sig.Name
		}
	}
	return ""
}
