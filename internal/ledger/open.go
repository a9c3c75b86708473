package ledger

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPath is the ledger location used when none is configured.
const DefaultPath = "./eml_processing.db"

// Open returns the ledger backend for location.
//
//   - "" uses DefaultPath
//   - postgres:// and postgresql:// DSNs use PostgresLedger
//   - file:// URLs and plain paths use SQLiteLedger
func Open(location string) (Ledger, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		location = DefaultPath
	}
	if !strings.Contains(location, "://") {
		return OpenSQLite(location)
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse ledger location: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return NewPostgresLedger(location)
	case "file", "sqlite", "sqlite3":
		path := parsed.Path
		if parsed.Host != "" {
			path = parsed.Host + path
		}
		if path == "" {
			path = parsed.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("ledger location %q has no path", location)
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported ledger scheme: %s", parsed.Scheme)
	}
}
