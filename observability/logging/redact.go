package logging

import (
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
)

// RedactedValue replaces secrets in presaled log lines.
const RedactedValue = "[REDACTED]"

// plainKeys are daemon settings and request attributes that are safe to log.
var plainKeys = map[string]struct{}{
	"listen":    {},
	"driver":    {},
	"data_dir":  {},
	"sale_file": {},
	"buyer":     {},
	"route":     {},
	"module":    {},
	"issuer":    {},
	"audience":  {},
}

// partialKeys carry values with a loggable part, such as the journal host or
// the file name of a key.
var partialKeys = map[string]func(string) string{
	"dsn":      MaskDSN,
	"keystore": MaskPath,
	"tls_cert": MaskPath,
	"tls_key":  MaskPath,
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// MaskDSN keeps the driver scheme, host and database of a journal DSN and
// drops credentials and query parameters. Keyword DSNs that carry a password
// are redacted whole. Sqlite file paths are returned unchanged.
func MaskDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return dsn
	}
	if strings.Contains(strings.ToLower(dsn), "password=") {
		return RedactedValue
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return dsn
	}
	masked := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	return masked.String()
}

// MaskPath reduces a key or certificate path to its file name.
func MaskPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	return filepath.Base(path)
}

// MaskField builds a log attribute for a config or request value. Known safe
// keys pass through, DSNs and key paths are trimmed, and everything else,
// HMAC secrets and passphrases included, is redacted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	normalized := normalizeKey(key)
	if _, ok := plainKeys[normalized]; ok {
		return slog.String(key, value)
	}
	if mask, ok := partialKeys[normalized]; ok {
		return slog.String(key, mask(value))
	}
	return slog.String(key, RedactedValue)
}
