package logging

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
)

// RedactedValue replaces secrets in log lines.
const RedactedValue = "[REDACTED]"

// Keys that never carry secrets or personal data. Account ids are public
// ledger identifiers and stay readable.
var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"operation":  {},
	"event":      {},
	"event_type": {},
	"account":    {},
	"currency":   {},
	"amount":     {},
	"request_id": {},
	"route":      {},
	"status":     {},
	"driver":     {},
	"backend":    {},
}

// IsAllowlisted reports whether key is logged verbatim.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField redacts value unless key is allowlisted. Blank values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN drops the password from a database DSN. URL forms
// (postgres://user:pw@host/db) are rendered with url.URL.Redacted; the libpq
// key=value form has its password= pair masked. Anything else, such as a
// sqlite file name, is returned as-is.
func MaskDSN(key, dsn string) slog.Attr {
	trimmed := strings.TrimSpace(dsn)
	if strings.Contains(trimmed, "://") {
		if parsed, err := url.Parse(trimmed); err == nil {
			return slog.String(key, parsed.Redacted())
		}
		return slog.String(key, RedactedValue)
	}
	if strings.Contains(trimmed, "=") && strings.Contains(trimmed, " ") {
		fields := strings.Fields(trimmed)
		for i, field := range fields {
			if strings.HasPrefix(strings.ToLower(field), "password=") {
				fields[i] = "password=" + RedactedValue
			}
		}
		return slog.String(key, strings.Join(fields, " "))
	}
	return slog.String(key, trimmed)
}
