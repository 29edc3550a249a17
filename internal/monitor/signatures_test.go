package monitor

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		content string
		threat  ThreatType
		clean   bool
	}{
		{"script tag", `<script>alert(1)</script>`, ThreatXSS, false},
		{"script tag spaced", `< SCRIPT src="//evil">`, ThreatXSS, false},
		{"iframe", `<iframe src="https://evil.example">`, ThreatXSS, false},
		{"javascript uri", `<a href="javascript:alert(document.cookie)">`, ThreatXSS, false},
		{"event handler", `<img src=x onerror=alert(1)>`, ThreatXSS, false},
		{"data uri", `data:text/html;base64,PHNjcmlwdD4=`, ThreatXSS, false},

		{"union select", `1 UNION SELECT password FROM employees`, ThreatSQLInjection, false},
		{"stacked statement", `x'; DELETE FROM donors;`, ThreatSQLInjection, false},
		{"boolean tautology", `admin' OR '1'='1`, ThreatSQLInjection, false},
		{"trailing comment", `admin' --`, ThreatSQLInjection, false},
		{"drop table", `Robert'); DROP TABLE students`, ThreatSQLInjection, false},
		{"sleep probe", `1 AND sleep(5)`, ThreatSQLInjection, false},

		{"plain text", `hello from the volunteer team`, "", true},
		{"email body", `Dropping by the office on Monday to select gifts`, "", true},
		{"markup-ish but clean", `<b>thank you</b> for donating`, "", true},
		{"quote in name", `O'Brien`, "", true},
		{"empty", ``, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			threat, ok := Classify(tc.content)
			if tc.clean {
				if ok {
					t.Fatalf("clean content %q classified as %s (%s)", tc.content, threat, MatchedSignature(tc.content))
				}
				return
			}
			if !ok {
				t.Fatalf("payload %q not detected", tc.content)
			}
			if threat != tc.threat {
				t.Errorf("Classify(%q) = %s, want %s", tc.content, threat, tc.threat)
			}
		})
	}
}

func TestXSSWinsOnMixedPayload(t *testing.T) {
	// Mixed payloads classify by the first matching family, which is XSS.
	threat, ok := Classify(`<script>fetch('/x?q=1 UNION SELECT 1')</script>`)
	if !ok || threat != ThreatXSS {
		t.Fatalf("mixed payload = %s (%v), want xss", threat, ok)
	}
}
