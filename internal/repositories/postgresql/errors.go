// internal/repositories/postgresql/errors.go
package postgresql

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code raised when an insert collides
// with a unique constraint.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-constraint collision.
// Callers racing to create the same row use this to fall back to a re-read.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
