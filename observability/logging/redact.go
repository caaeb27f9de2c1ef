package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveFragments mark attribute keys whose values never reach a sink.
var sensitiveFragments = []string{
	"secret", "signature", "token", "authorization", "apikey", "api_key",
	"password", "dsn", "nullifier",
}

// IsSensitive reports whether key names a credential or proof value.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskField returns a string attribute, redacted when key is sensitive.
// Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr is applied by the handler to every attribute.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.String() == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
