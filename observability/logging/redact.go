package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Ledger keys that are safe to emit verbatim. Anything else passed through
// MaskField is treated as a credential.
var plainKeys = map[string]bool{
	"service": true, "env": true, "message": true, "severity": true,
	"timestamp": true, "error": true, "reason": true, "component": true,
	"operation": true, "market": true, "pool": true, "position": true,
	"owner": true, "scope": true, "addr": true,
}

func plainKey(key string) bool {
	return plainKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskValue hides value unless it is blank.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute for key, masking value unless the key is one
// of the known ledger keys.
func MaskField(key, value string) slog.Attr {
	if plainKey(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
