package shared

import (
	"regexp"
	"strings"
)

// Redacted replaces every secret removed from run text, log values, audit
// details and IPC error strings.
const Redacted = "[REDACTED]"

// sensitiveKeys are substrings of attribute or field names whose values are
// never written out.
var sensitiveKeys = []string{"api_key", "apikey", "secret", "token", "password", "passwd", "credential", "authorization", "bearer"}

type secretPattern struct {
	re   *regexp.Regexp
	repl string
}

// Key/value pairs are matched first so that "token=sk-..." collapses to
// "token=[REDACTED]" instead of leaving the key's shape for the bare patterns.
var secretPatterns = []secretPattern{
	{
		re:   regexp.MustCompile(`(?i)\b([a-z0-9_.\-]*(?:api[_-]?key|token|secret|password|passwd|credential)[a-z0-9_.\-]*)(\s*[:=]\s*)"?[^\s",]{8,}"?`),
		repl: "${1}${2}" + Redacted,
	},
	{
		re:   regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9_\-./+=]{16,}`),
		repl: "${1}" + Redacted,
	},
	{re: regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}`), repl: Redacted},
	{re: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}`), repl: Redacted},
	{re: regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), repl: Redacted},
	{re: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), repl: Redacted},
}

// Redact removes credentials from free text: key=value pairs whose key names
// a secret, bearer tokens and well-known provider key shapes.
func Redact(input string) string {
	if input == "" {
		return input
	}
	for _, p := range secretPatterns {
		input = p.re.ReplaceAllString(input, p.repl)
	}
	return input
}

// SensitiveKey reports whether a field named key holds a secret.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactField returns the value to record for a named field. Sensitive keys
// are dropped wholesale; other values go through Redact.
func RedactField(key, value string) string {
	if SensitiveKey(key) {
		return Redacted
	}
	return Redact(value)
}
