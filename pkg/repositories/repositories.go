// Package repositories holds the data-access layer. Every repository
// pulls its database scope from the context (see pkg/database), so a
// call joins the caller's transaction when one is open and the shared
// pool otherwise.
package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
