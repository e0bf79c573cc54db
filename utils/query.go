package utils

import "strings"

// NormalizeQuery lower-cases free text, trims it and collapses inner runs of
// whitespace so that "  Adele ", "adele" and "ADELE" build the same cache key.
func NormalizeQuery(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// keyPartEscaper escapes '%' first so escaping stays reversible.
var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// CacheKey joins a namespace and normalized parts with ':' separators.
// Empty parts are kept so that positional meaning is preserved, and ':' inside
// a part is escaped so distinct part lists never share a key.
func CacheKey(namespace string, parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(keyPartEscaper.Replace(NormalizeQuery(p)))
	}
	return b.String()
}
