package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches password- and hash-bearing substrings that might
// otherwise end up in a log line (e.g. an argon2 encoded hash passed
// through an error value, or a password echoed back by a buggy caller).
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pass)\s*[:=]\s*"?([^"&\s]{3,})"?`),
	regexp.MustCompile(`\$argon2id\$[A-Za-z0-9+/=$,]+`),
}

// Redact replaces secret-bearing substrings in input with a placeholder.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + "=" + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// RedactKey reports whether a log attribute key name looks secret-bearing,
// for use in a slog ReplaceAttr hook.
func RedactKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"password", "passwd", "password_hash", "secret", "session_secret"} {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
