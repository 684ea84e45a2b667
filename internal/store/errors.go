package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist or no longer matches
// the condition of a conditional update.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an insert violates a uniqueness constraint.
var ErrAlreadyExists = errors.New("already exists")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
