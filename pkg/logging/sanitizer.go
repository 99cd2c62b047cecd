// Package logging holds the gateway's logger construction and the helpers
// that keep credentials and oversized statements out of log output.
package logging

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLogLength is the maximum number of characters of a statement
	// written to the log.
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)\b(password|pwd|pass)=[^;&\s]+`)

	// PASSWORD 'xxx' as in ALTER ROLE / CREATE USER statements
	passwordClausePattern = regexp.MustCompile(`(?i)\bpassword\s+'(?:[^']|'')*'`)

	// user:pass@host in URL-style connection strings
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeConnectionString removes credentials from key-value and URL-style
// PostgreSQL connection strings.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeError renders err without embedded credentials. Driver errors can
// echo the connection string they failed with.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeQuery prepares a statement for logging: whitespace runs collapse to
// one space, password clauses are redacted and the result is cut to
// MaxQueryLogLength characters.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := whitespacePattern.ReplaceAllString(strings.TrimSpace(query), " ")
	sanitized = passwordClausePattern.ReplaceAllString(sanitized, "PASSWORD "+RedactedText)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return TruncateString(sanitized, MaxQueryLogLength)
}

// TruncateString cuts s to maxLen characters and adds an ellipsis if needed.
// It never splits a multi-byte character.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
