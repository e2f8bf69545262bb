package util

import (
	"regexp"
	"strings"
)

// MaxDiagnosticLen bounds diagnostics persisted alongside records.
const MaxDiagnosticLen = 500

var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|password|secret|token|authorization)(["'=:\s]+)([^\s"',;]+)`)

// SanitizeDiagnostic flattens an error into a single bounded line with
// credential-looking values masked.
func SanitizeDiagnostic(err error) string {
	if err == nil {
		return ""
	}
	s := strings.Join(strings.Fields(err.Error()), " ")
	s = secretPattern.ReplaceAllString(s, "$1$2[redacted]")
	if len(s) > MaxDiagnosticLen {
		s = s[:MaxDiagnosticLen-3] + "..."
	}
	return s
}
