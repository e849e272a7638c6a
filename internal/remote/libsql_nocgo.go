//go:build !cgo

package remote

import (
	"database/sql"
	"errors"
)

func openLibSQL(cfg Config) (*sql.DB, error) {
	return nil, errors.New("libsql remote needs a cgo-enabled build")
}
