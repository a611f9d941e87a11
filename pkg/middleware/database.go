package middleware

import (
	"net/http"

	"github.com/aedregistry/matching-engine/pkg/database"
)

// DatabaseScope returns middleware that puts the shared connection pool
// into each request context so repositories can run outside an explicit
// transaction. Services that need atomicity open one with InTx, which
// overrides the pool scope for the duration of the transaction.
func DatabaseScope(db *database.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(db.WithPool(r.Context())))
		})
	}
}
