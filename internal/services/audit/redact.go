package audit

import "regexp"

// Redaction token classes are a frozen public contract: downstream tooling
// parses them out of audit logs. Order matters; SSNs and cards would
// otherwise be eaten by the phone pattern.
var redactors = []struct {
	token   string
	pattern *regexp.Regexp
}{
	{"[EMAIL_REDACTED]", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"[SSN_REDACTED]", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"[CARD_REDACTED]", regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
	{"[IP_REDACTED]", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"[PHONE_REDACTED]", regexp.MustCompile(`\b(?:\+?1[-. ]?)?(?:\(\d{3}\)|\d{3})[-. ]?\d{3}[-. ]?\d{4}\b`)},
}

// RedactPII replaces recognized PII patterns with their class tokens.
func RedactPII(text string) string {
	for _, r := range redactors {
		text = r.pattern.ReplaceAllString(text, r.token)
	}
	return text
}
