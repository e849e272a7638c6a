//go:build cgo

package remote

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/tursodatabase/go-libsql"
)

// openLibSQL connects to a libsql server (Turso or sqld). The auth token
// travels in the authToken query parameter the driver expects.
func openLibSQL(cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("libsql remote requires a libsql:// or https:// url")
	}
	u, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid libsql url: %w", err)
	}
	switch u.Scheme {
	case "libsql", "https", "http", "file":
	default:
		return nil, fmt.Errorf("unsupported libsql url scheme %q", u.Scheme)
	}
	if cfg.AuthToken != "" {
		q := u.Query()
		q.Set("authToken", cfg.AuthToken)
		u.RawQuery = q.Encode()
	}
	return sql.Open("libsql", u.String())
}
