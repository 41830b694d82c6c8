package observability

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// secretQueryKeys are redirect parameters that must never reach logs or traces.
var secretQueryKeys = map[string]struct{}{
	"payment_intent_client_secret": {},
	"client_secret":                {},
	"charge_token":                 {},
	"code":                         {},
}

// sanitizeString drops control characters other than whitespace and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	n := 0
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		if n >= limit {
			return -1
		}
		n++
		return r
	}, value)
}

// SanitizeRoute cleans a route pattern for logs and span names.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeClientKey truncates caller fingerprints before they reach logs.
func SanitizeClientKey(key string) string {
	if key == "" {
		return ""
	}
	return sanitizeString(key, 48)
}

// RedactQuery re-encodes a raw query with payment secrets and verification codes masked.
// Unparseable queries are dropped entirely.
func RedactQuery(raw string) string {
	values, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return "[unparseable]"
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := values.Get(k)
		if _, secret := secretQueryKeys[strings.ToLower(k)]; secret && v != "" {
			v = "REDACTED"
		}
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	return sanitizeString(strings.Join(parts, "&"), defaultStringLimit)
}
